package service

import (
	"context"
	"testing"
	"time"

	"bulktok/internal/model"
	"bulktok/internal/tier"

	"github.com/rs/zerolog"
)

func TestCreateReturnsStoredRowForExistingUser(t *testing.T) {
	existing := freeProfile("u1", 2)
	existing.SubscriptionTier = tier.Pro
	existing.CreatedAt = time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	repo := newFakeProfileRepo(existing)
	quota := NewQuotaService(repo, zerolog.Nop())
	svc := NewProfileService(repo, newFakeSecretStore(), quota, zerolog.Nop())

	// A second signup for the same identity is a no-op insert; the
	// response must reflect the stored row, not the insert defaults.
	got, state, err := svc.Create(context.Background(), &model.Profile{
		ID:                "u1",
		Email:             "u1@example.com",
		SubscriptionTier:  tier.Free,
		BillingCycleStart: time.Now(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got.SubscriptionTier != tier.Pro {
		t.Errorf("tier = %q, want pro", got.SubscriptionTier)
	}
	if !got.CreatedAt.Equal(existing.CreatedAt) {
		t.Errorf("created_at = %v, want stored %v", got.CreatedAt, existing.CreatedAt)
	}
	if state.Usage != 2 {
		t.Errorf("usage = %d, want 2", state.Usage)
	}
}

func TestStoreHedraKeySetsFlag(t *testing.T) {
	repo := newFakeProfileRepo(freeProfile("u1", 0))
	secrets := newFakeSecretStore()
	quota := NewQuotaService(repo, zerolog.Nop())
	svc := NewProfileService(repo, secrets, quota, zerolog.Nop())

	if err := svc.StoreHedraKey(context.Background(), "u1", "hk_test"); err != nil {
		t.Fatalf("store key: %v", err)
	}
	p, _ := repo.GetByID(context.Background(), "u1")
	if !p.HasHedraKey {
		t.Error("has_hedra_key flag not set")
	}
	if key, _ := secrets.GetHedraKey(context.Background(), "u1"); key != "hk_test" {
		t.Errorf("stored key = %q", key)
	}
}

func TestDeleteHedraKeyClearsFlag(t *testing.T) {
	repo := newFakeProfileRepo(freeProfile("u1", 0))
	secrets := newFakeSecretStore()
	quota := NewQuotaService(repo, zerolog.Nop())
	svc := NewProfileService(repo, secrets, quota, zerolog.Nop())

	if err := svc.StoreHedraKey(context.Background(), "u1", "hk_test"); err != nil {
		t.Fatalf("store key: %v", err)
	}
	if err := svc.DeleteHedraKey(context.Background(), "u1"); err != nil {
		t.Fatalf("delete key: %v", err)
	}
	p, _ := repo.GetByID(context.Background(), "u1")
	if p.HasHedraKey {
		t.Error("has_hedra_key flag still set after delete")
	}

	// Deleting again is a no-op, not an error.
	if err := svc.DeleteHedraKey(context.Background(), "u1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestProfileGetIncludesQuotaSnapshot(t *testing.T) {
	p := freeProfile("u1", 2)
	repo := newFakeProfileRepo(p)
	quota := NewQuotaService(repo, zerolog.Nop())
	svc := NewProfileService(repo, newFakeSecretStore(), quota, zerolog.Nop())

	got, state, err := svc.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != "u1" {
		t.Errorf("profile id = %q", got.ID)
	}
	if state.Usage != 2 || state.Remaining != 3 {
		t.Errorf("quota snapshot = %+v", state)
	}
}
