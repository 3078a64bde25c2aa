package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"bulktok/internal/config"
	"bulktok/internal/model"
	"bulktok/internal/repository"
	"bulktok/internal/tier"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	customerpkg "github.com/stripe/stripe-go/v82/customer"
	subscriptionpkg "github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
)

// ErrBillingUnavailable marks a transient failure reaching Stripe. Safe
// for the caller to retry with backoff.
var ErrBillingUnavailable = errors.New("billing_system_unavailable")

// ErrNoSubscription is returned when an operation needs an active
// subscription and the profile has none.
var ErrNoSubscription = errors.New("no_active_subscription")

// SubscriptionStatus is the live billing detail returned to the UI.
type SubscriptionStatus struct {
	Tier              tier.Tier  `json:"tier"`
	HasSubscription   bool       `json:"hasSubscription"`
	Status            string     `json:"status,omitempty"`
	CancelAtPeriodEnd bool       `json:"cancelAtPeriodEnd,omitempty"`
	CurrentPeriodEnd  *time.Time `json:"currentPeriodEnd,omitempty"`
	DaysRemaining     int        `json:"daysRemaining,omitempty"`
	CancelAt          *time.Time `json:"cancelAt,omitempty"`
	CanceledAt        *time.Time `json:"canceledAt,omitempty"`
}

// CancelResult carries the timestamps from a cancel-at-period-end request.
type CancelResult struct {
	CancelAt         *time.Time `json:"cancelAt,omitempty"`
	CurrentPeriodEnd *time.Time `json:"currentPeriodEnd,omitempty"`
}

// StripeService keeps the cached subscription fields consistent with
// Stripe. Stripe is always the source of truth: webhook events and the
// manual sync path overwrite the local projection, guarded by the event
// timestamp so stale redeliveries lose.
type StripeService struct {
	cfg      *config.Config
	tiers    *tier.Resolver
	profiles repository.ProfileRepository
	logger   zerolog.Logger
}

// NewStripeService initializes the Stripe key and returns the service
// with a scoped logger.
func NewStripeService(cfg *config.Config, tiers *tier.Resolver, profiles repository.ProfileRepository, logger zerolog.Logger) *StripeService {
	stripe.Key = cfg.StripeSecretKey
	lg := logger.With().Str("service", "StripeService").Logger()
	return &StripeService{cfg: cfg, tiers: tiers, profiles: profiles, logger: lg}
}

// CreateCheckoutSession creates a Stripe Checkout session for upgrading
// to a paid tier. The selected tier rides along in the session metadata
// so checkout.session.completed can apply it before the subscription
// object is fully materialized.
func (s *StripeService) CreateCheckoutSession(ctx context.Context, userID string, t tier.Tier) (string, error) {
	priceID := s.tiers.PriceFor(t)
	if priceID == "" {
		return "", fmt.Errorf("invalid tier for checkout: %s", t)
	}
	profile, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}

	customerID := ""
	if profile.StripeCustomerID != nil {
		customerID = *profile.StripeCustomerID
	}
	if customerID == "" {
		params := &stripe.CustomerParams{
			Email:    stripe.String(profile.Email),
			Metadata: map[string]string{"user_id": profile.ID},
		}
		params.Context = ctx
		cust, err := customerpkg.New(params)
		if err != nil {
			s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to create Stripe customer")
			return "", fmt.Errorf("create stripe customer: %w", errors.Join(ErrBillingUnavailable, err))
		}
		if err := s.profiles.UpdateStripeCustomerID(ctx, userID, cust.ID); err != nil {
			s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to store stripe customer id")
			return "", fmt.Errorf("store stripe customer id: %w", err)
		}
		customerID = cust.ID
	}

	sessParams := &stripe.CheckoutSessionParams{
		Customer:           stripe.String(customerID),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems:          []*stripe.CheckoutSessionLineItemParams{{Price: stripe.String(priceID), Quantity: stripe.Int64(1)}},
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:         stripe.String(s.cfg.AppBaseURL + "/account?success=true"),
		CancelURL:          stripe.String(s.cfg.AppBaseURL + "/account?canceled=true"),
		Metadata:           map[string]string{"tier": string(t), "user_id": profile.ID},
	}
	sessParams.Context = ctx
	sess, err := checkoutsession.New(sessParams)
	if err != nil {
		s.logger.Error().Err(err).Str("tier", string(t)).Msg("Failed to create Stripe checkout session")
		return "", fmt.Errorf("create checkout session: %w", errors.Join(ErrBillingUnavailable, err))
	}
	return sess.URL, nil
}

// HandleWebhook processes Stripe webhook events. Signature failures are
// rejected with 400 and never processed; downstream write failures are
// surfaced as 500 so Stripe redelivers, which is safe because every
// handler is idempotent and guarded by the event timestamp.
func (s *StripeService) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read Stripe webhook payload")
		http.Error(w, "failed to read payload", http.StatusBadRequest)
		return
	}
	sig := r.Header.Get("Stripe-Signature")
	event, err := webhook.ConstructEvent(payload, sig, s.cfg.StripeWebhookSecret)
	if err != nil {
		// Potential security event: unsigned or tampered delivery.
		s.logger.Error().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Signature verification failed for Stripe webhook")
		http.Error(w, "signature verification failed", http.StatusBadRequest)
		return
	}
	s.logger.Info().Str("event_type", string(event.Type)).Str("event_id", event.ID).Msg("Stripe webhook received")

	ctx := r.Context()
	eventTS := time.Unix(event.Created, 0)

	switch event.Type {
	case "checkout.session.completed":
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			s.logger.Error().Err(err).Msg("Invalid checkout.session data")
			http.Error(w, "invalid checkout.session data", http.StatusBadRequest)
			return
		}
		if cs.Customer == nil || cs.Subscription == nil {
			s.logger.Error().Str("session_id", cs.ID).Msg("Checkout session missing customer or subscription")
			http.Error(w, "incomplete checkout session", http.StatusBadRequest)
			return
		}
		// The tier chosen at checkout rides in the session metadata; the
		// subscription object may not be fully materialized yet.
		tierHint := tier.Tier(cs.Metadata["tier"])
		if !tier.Valid(tierHint) {
			tierHint = tier.Pro
		}
		if err := s.onCheckoutCompleted(ctx, cs.Customer.ID, cs.Subscription.ID, tierHint, eventTS); err != nil {
			s.logger.Error().Err(err).Msg("Failed to apply checkout.session.completed")
			http.Error(w, "failed to apply checkout", http.StatusInternalServerError)
			return
		}
	case "customer.subscription.updated":
		var ss stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &ss); err != nil {
			s.logger.Error().Err(err).Msg("Invalid customer.subscription.updated payload")
			http.Error(w, "invalid subscription data", http.StatusBadRequest)
			return
		}
		if ss.Customer == nil {
			s.logger.Error().Str("subscription_id", ss.ID).Msg("Subscription event missing customer")
			http.Error(w, "subscription missing customer", http.StatusBadRequest)
			return
		}
		priceID := ""
		if len(ss.Items.Data) > 0 && ss.Items.Data[0].Price != nil {
			priceID = ss.Items.Data[0].Price.ID
		}
		if err := s.onSubscriptionUpdated(ctx, ss.Customer.ID, ss.ID, string(ss.Status), priceID, eventTS); err != nil {
			s.logger.Error().Err(err).Msg("Failed to apply customer.subscription.updated")
			http.Error(w, "failed to update subscription", http.StatusInternalServerError)
			return
		}
	case "customer.subscription.deleted":
		var ss stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &ss); err != nil {
			s.logger.Error().Err(err).Msg("Invalid customer.subscription.deleted payload")
			http.Error(w, "invalid subscription data", http.StatusBadRequest)
			return
		}
		if ss.Customer == nil {
			s.logger.Error().Str("subscription_id", ss.ID).Msg("Subscription event missing customer")
			http.Error(w, "subscription missing customer", http.StatusBadRequest)
			return
		}
		if err := s.onSubscriptionDeleted(ctx, ss.Customer.ID, eventTS); err != nil {
			s.logger.Error().Err(err).Msg("Failed to apply customer.subscription.deleted")
			http.Error(w, "failed to downgrade subscription", http.StatusInternalServerError)
			return
		}
	default:
		// Accepted and ignored; Stripe must not retry these.
		s.logger.Warn().Str("event_type", string(event.Type)).Msg("Unhandled Stripe webhook event")
	}
	w.WriteHeader(http.StatusOK)
}

func (s *StripeService) onCheckoutCompleted(ctx context.Context, customerID, subscriptionID string, tierHint tier.Tier, eventTS time.Time) error {
	applied, err := s.profiles.ApplyBillingState(ctx, customerID, tierHint, &subscriptionID, eventTS)
	if err != nil {
		return err
	}
	if !applied {
		s.logger.Warn().Str("stripe_customer_id", customerID).Msg("Checkout event not applied: unknown customer or stale event")
		return nil
	}
	s.logger.Info().Str("stripe_customer_id", customerID).Str("tier", string(tierHint)).Msg("Checkout completed, tier applied")
	return nil
}

func (s *StripeService) onSubscriptionUpdated(ctx context.Context, customerID, subscriptionID, status, priceID string, eventTS time.Time) error {
	// Only an active subscription earns a paid tier; canceled, unpaid,
	// past_due and the rest all fall back to free.
	t := tier.Free
	if status == string(stripe.SubscriptionStatusActive) {
		t = s.tiers.FromPrice(priceID)
	}
	applied, err := s.profiles.ApplyBillingState(ctx, customerID, t, &subscriptionID, eventTS)
	if err != nil {
		return err
	}
	if !applied {
		s.logger.Warn().Str("stripe_customer_id", customerID).Str("status", status).Msg("Subscription update not applied: unknown customer or stale event")
		return nil
	}
	s.logger.Info().Str("stripe_customer_id", customerID).Str("status", status).Str("tier", string(t)).Msg("Subscription state reconciled")
	return nil
}

func (s *StripeService) onSubscriptionDeleted(ctx context.Context, customerID string, eventTS time.Time) error {
	// Tier reverts to free and the subscription link is cleared; the
	// customer id stays so the user can resubscribe.
	applied, err := s.profiles.ApplyBillingState(ctx, customerID, tier.Free, nil, eventTS)
	if err != nil {
		return err
	}
	if !applied {
		s.logger.Warn().Str("stripe_customer_id", customerID).Msg("Subscription deletion not applied: unknown customer or stale event")
		return nil
	}
	s.logger.Info().Str("stripe_customer_id", customerID).Msg("Subscription deleted, downgraded to free")
	return nil
}

// SubscriptionStatus reads live subscription detail from Stripe for the
// UI. A subscription Stripe no longer knows about degrades to
// hasSubscription=false with the cached tier, since the local cache may
// be briefly stale relative to billing-system deletions.
func (s *StripeService) SubscriptionStatus(ctx context.Context, userID string) (*SubscriptionStatus, error) {
	profile, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile.StripeSubscriptionID == nil || *profile.StripeSubscriptionID == "" || profile.SubscriptionTier == tier.Free {
		return &SubscriptionStatus{Tier: profile.SubscriptionTier, HasSubscription: false}, nil
	}

	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := subscriptionpkg.Get(*profile.StripeSubscriptionID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			s.logger.Warn().Str("user_id", userID).Str("subscription_id", *profile.StripeSubscriptionID).Msg("Cached subscription no longer exists in Stripe")
			return &SubscriptionStatus{Tier: profile.SubscriptionTier, HasSubscription: false}, nil
		}
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch subscription from Stripe")
		return nil, fmt.Errorf("fetch subscription: %w", errors.Join(ErrBillingUnavailable, err))
	}

	status := &SubscriptionStatus{
		Tier:              profile.SubscriptionTier,
		HasSubscription:   true,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if len(sub.Items.Data) > 0 {
		end := time.Unix(sub.Items.Data[0].CurrentPeriodEnd, 0)
		status.CurrentPeriodEnd = &end
		days := int(math.Ceil(time.Until(end).Hours() / 24))
		if days < 0 {
			days = 0
		}
		status.DaysRemaining = days
	}
	if sub.CancelAt > 0 {
		t := time.Unix(sub.CancelAt, 0)
		status.CancelAt = &t
	}
	if sub.CanceledAt > 0 {
		t := time.Unix(sub.CanceledAt, 0)
		status.CanceledAt = &t
	}
	return status, nil
}

// CancelAtPeriodEnd requests cancellation at period end rather than
// immediate termination. The local tier is left alone: the eventual
// subscription.updated/deleted webhook is the authoritative trigger.
func (s *StripeService) CancelAtPeriodEnd(ctx context.Context, userID string) (*CancelResult, error) {
	profile, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile.StripeSubscriptionID == nil || *profile.StripeSubscriptionID == "" {
		return nil, ErrNoSubscription
	}

	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
	params.Context = ctx
	sub, err := subscriptionpkg.Update(*profile.StripeSubscriptionID, params)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to schedule subscription cancellation")
		return nil, fmt.Errorf("cancel subscription: %w", errors.Join(ErrBillingUnavailable, err))
	}

	result := &CancelResult{}
	if sub.CancelAt > 0 {
		t := time.Unix(sub.CancelAt, 0)
		result.CancelAt = &t
	}
	if len(sub.Items.Data) > 0 {
		t := time.Unix(sub.Items.Data[0].CurrentPeriodEnd, 0)
		result.CurrentPeriodEnd = &t
	}
	s.logger.Info().Str("user_id", userID).Msg("Subscription scheduled for cancellation at period end")
	return result, nil
}

// SyncSubscription manually reconciles a profile against Stripe by
// email. This is the sanctioned diagnostic path for when a webhook was
// missed; it looks up the customer and their active subscription in
// Stripe and overwrites the local projection.
func (s *StripeService) SyncSubscription(ctx context.Context, email string) (*model.Profile, error) {
	profile, err := s.profiles.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	custParams := &stripe.CustomerListParams{Email: stripe.String(email)}
	custParams.Context = ctx
	custParams.Limit = stripe.Int64(1)
	custIter := customerpkg.List(custParams)
	if !custIter.Next() {
		if err := custIter.Err(); err != nil {
			return nil, fmt.Errorf("list stripe customers: %w", errors.Join(ErrBillingUnavailable, err))
		}
		return nil, fmt.Errorf("no stripe customer for %s: %w", email, ErrNoSubscription)
	}
	customer := custIter.Customer()

	subParams := &stripe.SubscriptionListParams{
		Customer: stripe.String(customer.ID),
		Status:   stripe.String(string(stripe.SubscriptionStatusActive)),
	}
	subParams.Context = ctx
	subParams.Limit = stripe.Int64(1)
	subIter := subscriptionpkg.List(subParams)
	if !subIter.Next() {
		if err := subIter.Err(); err != nil {
			return nil, fmt.Errorf("list stripe subscriptions: %w", errors.Join(ErrBillingUnavailable, err))
		}
		return nil, fmt.Errorf("no active subscription for customer %s: %w", customer.ID, ErrNoSubscription)
	}
	sub := subIter.Subscription()

	priceID := ""
	if len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		priceID = sub.Items.Data[0].Price.ID
	}
	t := s.tiers.FromPrice(priceID)

	if err := s.profiles.UpdateBillingByID(ctx, profile.ID, t, customer.ID, sub.ID); err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", profile.ID).Str("tier", string(t)).Msg("Subscription manually synced from Stripe")
	return s.profiles.GetByID(ctx, profile.ID)
}
