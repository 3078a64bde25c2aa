package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bulktok/internal/model"
	"bulktok/internal/repository"

	"github.com/rs/zerolog"
)

// ErrProfileNotFound mirrors the repository sentinel at the service boundary.
var ErrProfileNotFound = repository.ErrProfileNotFound

// BillingCycleWindow is how long a usage cycle lasts before rollover.
const BillingCycleWindow = 30 * 24 * time.Hour

// QuotaExceededError carries the structured quota state a caller needs to
// render an upgrade prompt. It is a terminal business decision, not a
// retryable failure.
type QuotaExceededError struct {
	State model.QuotaState
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("monthly limit of %d videos reached (%d used, %d remaining)",
		e.State.Limit, e.State.Usage, e.State.Remaining)
}

// QuotaService is the sole gatekeeper for dispatching paid generation
// work. Admission reserves the requested count atomically; Settle returns
// the surplus when upstream accepted fewer items.
type QuotaService interface {
	Quota(ctx context.Context, userID string) (model.QuotaState, error)
	Admit(ctx context.Context, userID string, requested int) (model.QuotaState, error)
	Settle(ctx context.Context, userID string, requested, dispatched int) error
	Rollover(ctx context.Context) (int64, error)
}

type quotaService struct {
	profiles repository.ProfileRepository
	logger   zerolog.Logger
}

// NewQuotaService creates a QuotaService with a scoped logger.
func NewQuotaService(profiles repository.ProfileRepository, logger zerolog.Logger) QuotaService {
	return &quotaService{
		profiles: profiles,
		logger:   logger.With().Str("service", "QuotaService").Logger(),
	}
}

func (s *quotaService) Quota(ctx context.Context, userID string) (model.QuotaState, error) {
	state, err := s.profiles.GetQuota(ctx, userID)
	if err != nil {
		if !errors.Is(err, repository.ErrProfileNotFound) {
			s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to read quota state")
		}
		return model.QuotaState{}, err
	}
	return state, nil
}

// Admit reserves requested items against the user's tier cap. The request
// is all-or-nothing: a batch that does not fully fit is rejected with the
// state at rejection time. A requested count of zero is a no-op admit.
func (s *quotaService) Admit(ctx context.Context, userID string, requested int) (model.QuotaState, error) {
	if requested < 0 {
		return model.QuotaState{}, fmt.Errorf("requested count must not be negative: %d", requested)
	}
	if requested == 0 {
		return s.Quota(ctx, userID)
	}
	state, err := s.profiles.ReserveUsage(ctx, userID, requested)
	if err != nil {
		if errors.Is(err, repository.ErrQuotaExceeded) {
			s.logger.Info().
				Str("user_id", userID).
				Int("requested", requested).
				Int("usage", state.Usage).
				Int("limit", state.Limit).
				Msg("Generation request rejected: quota exceeded")
			return state, &QuotaExceededError{State: state}
		}
		if errors.Is(err, repository.ErrProfileNotFound) {
			return model.QuotaState{}, repository.ErrProfileNotFound
		}
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to reserve usage")
		return model.QuotaState{}, err
	}
	return state, nil
}

// Settle releases the part of a reservation that upstream did not accept.
// The ledger ends up incremented by exactly the dispatched count; it is
// never adjusted upward here, and completed-vs-failed downstream work is
// not grounds for a refund.
func (s *quotaService) Settle(ctx context.Context, userID string, requested, dispatched int) error {
	if dispatched > requested {
		return fmt.Errorf("dispatched count %d exceeds reservation %d", dispatched, requested)
	}
	surplus := requested - dispatched
	if surplus == 0 {
		return nil
	}
	if err := s.profiles.ReleaseUsage(ctx, userID, surplus); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Int("surplus", surplus).Msg("Failed to release unused reservation")
		return err
	}
	return nil
}

// Rollover resets usage for every profile whose billing cycle elapsed.
// Invoked by the external scheduler; idempotent per user.
func (s *quotaService) Rollover(ctx context.Context) (int64, error) {
	n, err := s.profiles.RolloverExpired(ctx, BillingCycleWindow)
	if err != nil {
		s.logger.Error().Err(err).Msg("Billing cycle rollover failed")
		return 0, err
	}
	s.logger.Info().Int64("users_reset", n).Msg("Billing cycle rollover completed")
	return n, nil
}
