package service

import (
	"context"

	"bulktok/internal/model"
	"bulktok/internal/repository"

	"github.com/rs/zerolog"
)

// ProfileService manages user profiles and their stored Hedra credentials.
type ProfileService interface {
	Create(ctx context.Context, p *model.Profile) (*model.Profile, model.QuotaState, error)
	Get(ctx context.Context, userID string) (*model.Profile, model.QuotaState, error)
	StoreHedraKey(ctx context.Context, userID, apiKey string) error
	DeleteHedraKey(ctx context.Context, userID string) error
}

type profileService struct {
	profiles repository.ProfileRepository
	secrets  SecretStore
	quota    QuotaService
	logger   zerolog.Logger
}

// NewProfileService creates a ProfileService with a scoped logger.
func NewProfileService(profiles repository.ProfileRepository, secrets SecretStore, quota QuotaService, logger zerolog.Logger) ProfileService {
	return &profileService{
		profiles: profiles,
		secrets:  secrets,
		quota:    quota,
		logger:   logger.With().Str("service", "ProfileService").Logger(),
	}
}

// Create inserts a profile row for a newly signed-up user and reads the
// stored row back. New users start on the free tier with zero usage and
// a billing cycle anchored at now; when the row already exists the
// insert is a no-op and the caller gets the stored profile, not the
// free-tier baseline.
func (s *profileService) Create(ctx context.Context, p *model.Profile) (*model.Profile, model.QuotaState, error) {
	if err := s.profiles.Create(ctx, p); err != nil {
		return nil, model.QuotaState{}, err
	}
	return s.Get(ctx, p.ID)
}

// Get returns the profile together with its current quota snapshot.
func (s *profileService) Get(ctx context.Context, userID string) (*model.Profile, model.QuotaState, error) {
	p, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		return nil, model.QuotaState{}, err
	}
	state, err := s.quota.Quota(ctx, userID)
	if err != nil {
		return nil, model.QuotaState{}, err
	}
	return p, state, nil
}

// StoreHedraKey writes the key to the secret store and marks the profile.
// The flag is only set once the secret write has succeeded.
func (s *profileService) StoreHedraKey(ctx context.Context, userID, apiKey string) error {
	if err := s.secrets.StoreHedraKey(ctx, userID, apiKey); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to store Hedra key")
		return err
	}
	return s.profiles.SetHedraKeyFlag(ctx, userID, true)
}

// DeleteHedraKey removes the stored key and clears the profile flag. A
// missing secret is not an error so the operation stays idempotent.
func (s *profileService) DeleteHedraKey(ctx context.Context, userID string) error {
	if err := s.secrets.DeleteHedraKey(ctx, userID); err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("Failed to delete Hedra key secret")
	}
	return s.profiles.SetHedraKeyFlag(ctx, userID, false)
}
