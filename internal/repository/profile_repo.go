package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bulktok/internal/model"
	"bulktok/internal/tier"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrProfileNotFound is returned when no profile row exists for the identity.
var ErrProfileNotFound = errors.New("profile_not_found")

// ErrQuotaExceeded is returned when a usage reservation would pass the
// tier cap. The quota state at rejection time accompanies it.
var ErrQuotaExceeded = errors.New("quota_exceeded")

const profileColumns = `id, email, subscription_tier, videos_generated_this_month,
       billing_cycle_start, stripe_customer_id, stripe_subscription_id,
       stripe_event_ts, has_hedra_key, created_at, updated_at`

// ProfileRepository owns the profiles table: identity lookups, the usage
// ledger, and the billing-state projection written by the reconciler.
type ProfileRepository interface {
	Create(ctx context.Context, p *model.Profile) error
	GetByID(ctx context.Context, id string) (*model.Profile, error)
	GetByEmail(ctx context.Context, email string) (*model.Profile, error)
	GetByStripeCustomerID(ctx context.Context, customerID string) (*model.Profile, error)
	UpdateStripeCustomerID(ctx context.Context, userID, customerID string) error
	SetHedraKeyFlag(ctx context.Context, userID string, has bool) error

	// Usage ledger. ReserveUsage atomically admits delta items against the
	// tier cap; the limit is recomputed from the stored tier inside the
	// transaction so concurrent reservations can never jointly overshoot.
	GetQuota(ctx context.Context, userID string) (model.QuotaState, error)
	ReserveUsage(ctx context.Context, userID string, delta int) (model.QuotaState, error)
	ReleaseUsage(ctx context.Context, userID string, delta int) error
	ResetUsage(ctx context.Context, userID string) error
	RolloverExpired(ctx context.Context, window time.Duration) (int64, error)

	// Reconciler writes. ApplyBillingState is guarded by the Stripe event
	// timestamp: a stale redelivery never overwrites newer state. It
	// reports whether a row was actually updated.
	ApplyBillingState(ctx context.Context, customerID string, t tier.Tier, subscriptionID *string, eventTS time.Time) (bool, error)
	UpdateBillingByID(ctx context.Context, userID string, t tier.Tier, customerID, subscriptionID string) error
}

type profileRepo struct {
	pool *pgxpool.Pool
}

// NewProfileRepo creates a new ProfileRepository.
func NewProfileRepo(pool *pgxpool.Pool) ProfileRepository {
	return &profileRepo{pool: pool}
}

func scanProfile(row pgx.Row) (*model.Profile, error) {
	var p model.Profile
	err := row.Scan(
		&p.ID,
		&p.Email,
		&p.SubscriptionTier,
		&p.VideosGeneratedThisMonth,
		&p.BillingCycleStart,
		&p.StripeCustomerID,
		&p.StripeSubscriptionID,
		&p.StripeEventTS,
		&p.HasHedraKey,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *profileRepo) Create(ctx context.Context, p *model.Profile) error {
	const q = `
        INSERT INTO profiles (id, email, subscription_tier, videos_generated_this_month, billing_cycle_start)
        VALUES ($1, $2, 'free', 0, NOW())
        ON CONFLICT (id) DO NOTHING
    `
	if _, err := r.pool.Exec(ctx, q, p.ID, p.Email); err != nil {
		return fmt.Errorf("create profile %s: %w", p.ID, err)
	}
	return nil
}

func (r *profileRepo) GetByID(ctx context.Context, id string) (*model.Profile, error) {
	q := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`
	p, err := scanProfile(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("fetch profile %s: %w", id, err)
	}
	return p, nil
}

func (r *profileRepo) GetByEmail(ctx context.Context, email string) (*model.Profile, error) {
	// Email is not unique at the storage layer; this lookup exists only
	// for non-mutating diagnostics and takes the oldest matching row.
	q := `SELECT ` + profileColumns + ` FROM profiles WHERE email = $1 ORDER BY created_at LIMIT 1`
	p, err := scanProfile(r.pool.QueryRow(ctx, q, email))
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("fetch profile by email: %w", err)
	}
	return p, nil
}

func (r *profileRepo) GetByStripeCustomerID(ctx context.Context, customerID string) (*model.Profile, error) {
	q := `SELECT ` + profileColumns + ` FROM profiles WHERE stripe_customer_id = $1`
	p, err := scanProfile(r.pool.QueryRow(ctx, q, customerID))
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("fetch profile by customer %s: %w", customerID, err)
	}
	return p, nil
}

func (r *profileRepo) UpdateStripeCustomerID(ctx context.Context, userID, customerID string) error {
	const q = `UPDATE profiles SET stripe_customer_id = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, userID, customerID)
	if err != nil {
		return fmt.Errorf("store stripe customer id for %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProfileNotFound
	}
	return nil
}

func (r *profileRepo) SetHedraKeyFlag(ctx context.Context, userID string, has bool) error {
	const q = `UPDATE profiles SET has_hedra_key = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, userID, has)
	if err != nil {
		return fmt.Errorf("set hedra key flag for %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProfileNotFound
	}
	return nil
}

func (r *profileRepo) GetQuota(ctx context.Context, userID string) (model.QuotaState, error) {
	const q = `SELECT subscription_tier, videos_generated_this_month FROM profiles WHERE id = $1`
	var t tier.Tier
	var usage int
	if err := r.pool.QueryRow(ctx, q, userID).Scan(&t, &usage); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.QuotaState{}, ErrProfileNotFound
		}
		return model.QuotaState{}, fmt.Errorf("fetch quota for %s: %w", userID, err)
	}
	return quotaState(t, usage), nil
}

func quotaState(t tier.Tier, usage int) model.QuotaState {
	limit := tier.Limit(t)
	remaining := limit - usage
	if remaining < 0 {
		remaining = 0
	}
	return model.QuotaState{Tier: t, Limit: limit, Usage: usage, Remaining: remaining}
}

// ReserveUsage locks the profile row, recomputes the cap from the stored
// tier, and increments the counter only if the whole delta fits. The
// check and the increment commit together, so two concurrent requests
// for the same user cannot both observe stale usage.
func (r *profileRepo) ReserveUsage(ctx context.Context, userID string, delta int) (model.QuotaState, error) {
	if delta <= 0 {
		return r.GetQuota(ctx, userID)
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return model.QuotaState{}, fmt.Errorf("begin reserve tx for %s: %w", userID, err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	const selectQ = `
        SELECT subscription_tier, videos_generated_this_month
        FROM profiles
        WHERE id = $1
        FOR UPDATE
    `
	var t tier.Tier
	var usage int
	if err := tx.QueryRow(ctx, selectQ, userID).Scan(&t, &usage); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.QuotaState{}, ErrProfileNotFound
		}
		return model.QuotaState{}, fmt.Errorf("read usage for %s: %w", userID, err)
	}

	state := quotaState(t, usage)
	if usage+delta > state.Limit {
		return state, ErrQuotaExceeded
	}

	const updateQ = `
        UPDATE profiles
        SET videos_generated_this_month = videos_generated_this_month + $2,
            updated_at = NOW()
        WHERE id = $1
        RETURNING videos_generated_this_month
    `
	if err := tx.QueryRow(ctx, updateQ, userID, delta).Scan(&usage); err != nil {
		return model.QuotaState{}, fmt.Errorf("reserve usage for %s: %w", userID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return model.QuotaState{}, fmt.Errorf("commit usage reservation for %s: %w", userID, err)
	}
	return quotaState(t, usage), nil
}

// ReleaseUsage returns unconsumed reservations to the ledger, flooring at
// zero. Used when upstream accepted fewer items than were admitted.
func (r *profileRepo) ReleaseUsage(ctx context.Context, userID string, delta int) error {
	if delta <= 0 {
		return nil
	}
	const q = `
        UPDATE profiles
        SET videos_generated_this_month = GREATEST(videos_generated_this_month - $2, 0),
            updated_at = NOW()
        WHERE id = $1
    `
	tag, err := r.pool.Exec(ctx, q, userID, delta)
	if err != nil {
		return fmt.Errorf("release usage for %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProfileNotFound
	}
	return nil
}

func (r *profileRepo) ResetUsage(ctx context.Context, userID string) error {
	const q = `
        UPDATE profiles
        SET videos_generated_this_month = 0,
            billing_cycle_start = NOW(),
            updated_at = NOW()
        WHERE id = $1
    `
	tag, err := r.pool.Exec(ctx, q, userID)
	if err != nil {
		return fmt.Errorf("reset usage for %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// RolloverExpired resets every profile whose billing cycle elapsed. One
// conditional statement, so a concurrent rollover run matches zero rows
// for users the first run already reset.
func (r *profileRepo) RolloverExpired(ctx context.Context, window time.Duration) (int64, error) {
	const q = `
        UPDATE profiles
        SET videos_generated_this_month = 0,
            billing_cycle_start = NOW(),
            updated_at = NOW()
        WHERE billing_cycle_start <= NOW() - $1::interval
    `
	tag, err := r.pool.Exec(ctx, q, window)
	if err != nil {
		return 0, fmt.Errorf("rollover expired cycles: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *profileRepo) ApplyBillingState(ctx context.Context, customerID string, t tier.Tier, subscriptionID *string, eventTS time.Time) (bool, error) {
	const q = `
        UPDATE profiles
        SET subscription_tier = $2,
            stripe_subscription_id = $3,
            stripe_event_ts = $4,
            updated_at = NOW()
        WHERE stripe_customer_id = $1
          AND (stripe_event_ts IS NULL OR stripe_event_ts <= $4)
    `
	tag, err := r.pool.Exec(ctx, q, customerID, t, subscriptionID, eventTS)
	if err != nil {
		return false, fmt.Errorf("apply billing state for customer %s: %w", customerID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *profileRepo) UpdateBillingByID(ctx context.Context, userID string, t tier.Tier, customerID, subscriptionID string) error {
	const q = `
        UPDATE profiles
        SET subscription_tier = $2,
            stripe_customer_id = $3,
            stripe_subscription_id = $4,
            updated_at = NOW()
        WHERE id = $1
    `
	tag, err := r.pool.Exec(ctx, q, userID, t, customerID, subscriptionID)
	if err != nil {
		return fmt.Errorf("update billing state for %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProfileNotFound
	}
	return nil
}
