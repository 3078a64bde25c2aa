package service

import (
	"context"
	"testing"
	"time"

	"bulktok/internal/config"
	"bulktok/internal/model"
	"bulktok/internal/tier"

	"github.com/rs/zerolog"
)

func billingProfile(id, customerID string) *model.Profile {
	return &model.Profile{
		ID:                id,
		Email:             id + "@example.com",
		SubscriptionTier:  tier.Free,
		BillingCycleStart: time.Now(),
		StripeCustomerID:  &customerID,
	}
}

func newTestStripeService(repo *fakeProfileRepo) *StripeService {
	cfg := &config.Config{
		StripePricePro:       "price_pro",
		StripePriceUnlimited: "price_unl",
	}
	tiers := tier.NewResolver(cfg.StripePricePro, cfg.StripePriceUnlimited)
	return NewStripeService(cfg, tiers, repo, zerolog.Nop())
}

func TestCheckoutCompletedAppliesTier(t *testing.T) {
	repo := newFakeProfileRepo(billingProfile("u1", "cus_1"))
	svc := newTestStripeService(repo)

	ts := time.Now()
	if err := svc.onCheckoutCompleted(context.Background(), "cus_1", "sub_1", tier.Pro, ts); err != nil {
		t.Fatalf("onCheckoutCompleted: %v", err)
	}

	p, _ := repo.GetByID(context.Background(), "u1")
	if p.SubscriptionTier != tier.Pro {
		t.Errorf("tier = %q, want pro", p.SubscriptionTier)
	}
	if p.StripeSubscriptionID == nil || *p.StripeSubscriptionID != "sub_1" {
		t.Errorf("subscription id not stored: %v", p.StripeSubscriptionID)
	}
}

func TestCheckoutCompletedUnknownCustomer(t *testing.T) {
	repo := newFakeProfileRepo(billingProfile("u1", "cus_1"))
	svc := newTestStripeService(repo)

	// An unknown customer is logged and skipped, not an error: returning
	// an error would make Stripe redeliver forever.
	if err := svc.onCheckoutCompleted(context.Background(), "cus_unknown", "sub_1", tier.Pro, time.Now()); err != nil {
		t.Fatalf("onCheckoutCompleted: %v", err)
	}
	p, _ := repo.GetByID(context.Background(), "u1")
	if p.SubscriptionTier != tier.Free {
		t.Errorf("tier changed for unrelated customer: %q", p.SubscriptionTier)
	}
}

func TestSubscriptionUpdatedActiveResolvesPrice(t *testing.T) {
	repo := newFakeProfileRepo(billingProfile("u1", "cus_1"))
	svc := newTestStripeService(repo)

	if err := svc.onSubscriptionUpdated(context.Background(), "cus_1", "sub_1", "active", "price_unl", time.Now()); err != nil {
		t.Fatalf("onSubscriptionUpdated: %v", err)
	}
	p, _ := repo.GetByID(context.Background(), "u1")
	if p.SubscriptionTier != tier.Unlimited {
		t.Errorf("tier = %q, want unlimited", p.SubscriptionTier)
	}
}

func TestSubscriptionUpdatedNonActiveDowngrades(t *testing.T) {
	for _, status := range []string{"canceled", "past_due", "unpaid", "incomplete_expired"} {
		repo := newFakeProfileRepo(billingProfile("u1", "cus_1"))
		repo.profiles["u1"].SubscriptionTier = tier.Pro
		svc := newTestStripeService(repo)

		if err := svc.onSubscriptionUpdated(context.Background(), "cus_1", "sub_1", status, "price_pro", time.Now()); err != nil {
			t.Fatalf("onSubscriptionUpdated(%s): %v", status, err)
		}
		p, _ := repo.GetByID(context.Background(), "u1")
		if p.SubscriptionTier != tier.Free {
			t.Errorf("status %q: tier = %q, want free", status, p.SubscriptionTier)
		}
	}
}

func TestSubscriptionUpdatedUnknownPriceFallsBackToFree(t *testing.T) {
	repo := newFakeProfileRepo(billingProfile("u1", "cus_1"))
	svc := newTestStripeService(repo)

	if err := svc.onSubscriptionUpdated(context.Background(), "cus_1", "sub_1", "active", "price_mystery", time.Now()); err != nil {
		t.Fatalf("onSubscriptionUpdated: %v", err)
	}
	p, _ := repo.GetByID(context.Background(), "u1")
	if p.SubscriptionTier != tier.Free {
		t.Errorf("tier = %q, want free for unknown price", p.SubscriptionTier)
	}
}

func TestSubscriptionDeletedDowngradesAndClearsLink(t *testing.T) {
	repo := newFakeProfileRepo(billingProfile("u1", "cus_1"))
	sub := "sub_1"
	repo.profiles["u1"].SubscriptionTier = tier.Pro
	repo.profiles["u1"].StripeSubscriptionID = &sub
	svc := newTestStripeService(repo)

	if err := svc.onSubscriptionDeleted(context.Background(), "cus_1", time.Now()); err != nil {
		t.Fatalf("onSubscriptionDeleted: %v", err)
	}
	p, _ := repo.GetByID(context.Background(), "u1")
	if p.SubscriptionTier != tier.Free {
		t.Errorf("tier = %q, want free", p.SubscriptionTier)
	}
	if p.StripeSubscriptionID != nil {
		t.Errorf("subscription id not cleared: %v", *p.StripeSubscriptionID)
	}
	if p.StripeCustomerID == nil || *p.StripeCustomerID != "cus_1" {
		t.Error("customer id must survive deletion so the user can resubscribe")
	}
}

func TestStaleEventDoesNotOverwriteNewerState(t *testing.T) {
	repo := newFakeProfileRepo(billingProfile("u1", "cus_1"))
	svc := newTestStripeService(repo)

	now := time.Now()
	if err := svc.onSubscriptionUpdated(context.Background(), "cus_1", "sub_1", "active", "price_pro", now); err != nil {
		t.Fatalf("fresh event: %v", err)
	}
	// A redelivered deletion from before the upgrade must lose.
	if err := svc.onSubscriptionDeleted(context.Background(), "cus_1", now.Add(-time.Hour)); err != nil {
		t.Fatalf("stale event: %v", err)
	}
	p, _ := repo.GetByID(context.Background(), "u1")
	if p.SubscriptionTier != tier.Pro {
		t.Errorf("tier = %q, want pro after stale event was ignored", p.SubscriptionTier)
	}
}

func TestRedeliveredEventIsIdempotent(t *testing.T) {
	repo := newFakeProfileRepo(billingProfile("u1", "cus_1"))
	svc := newTestStripeService(repo)

	ts := time.Now()
	for i := 0; i < 3; i++ {
		if err := svc.onCheckoutCompleted(context.Background(), "cus_1", "sub_1", tier.Pro, ts); err != nil {
			t.Fatalf("delivery %d: %v", i+1, err)
		}
	}
	p, _ := repo.GetByID(context.Background(), "u1")
	if p.SubscriptionTier != tier.Pro {
		t.Errorf("tier = %q, want pro", p.SubscriptionTier)
	}
	if p.StripeSubscriptionID == nil || *p.StripeSubscriptionID != "sub_1" {
		t.Errorf("subscription id = %v, want sub_1", p.StripeSubscriptionID)
	}
}
