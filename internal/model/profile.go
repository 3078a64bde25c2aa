package model

import (
	"time"

	"bulktok/internal/tier"
)

// Profile represents a user profile row. The id comes from the identity
// provider; billing fields are a cached projection of Stripe state and
// are written only by the billing reconciliation paths.
type Profile struct {
	ID                       string     `db:"id" json:"id"`
	Email                    string     `db:"email" json:"email"`
	SubscriptionTier         tier.Tier  `db:"subscription_tier" json:"subscription_tier"`
	VideosGeneratedThisMonth int        `db:"videos_generated_this_month" json:"videos_generated_this_month"`
	BillingCycleStart        time.Time  `db:"billing_cycle_start" json:"billing_cycle_start"`
	StripeCustomerID         *string    `db:"stripe_customer_id" json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID     *string    `db:"stripe_subscription_id" json:"stripe_subscription_id,omitempty"`
	StripeEventTS            *time.Time `db:"stripe_event_ts" json:"-"`
	HasHedraKey              bool       `db:"has_hedra_key" json:"has_hedra_key"`
	CreatedAt                time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt                time.Time  `db:"updated_at" json:"updated_at"`
}

// QuotaState is a snapshot of a user's usage against their tier cap.
type QuotaState struct {
	Tier      tier.Tier `json:"tier"`
	Limit     int       `json:"limit"`
	Usage     int       `json:"current_usage"`
	Remaining int       `json:"remaining"`
}
