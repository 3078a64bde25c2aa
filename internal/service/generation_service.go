package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"bulktok/internal/hedra"
	"bulktok/internal/logbuf"
	"bulktok/internal/model"
	"bulktok/internal/repository"

	"github.com/rs/zerolog"
)

// ErrHedraKeyMissing is returned when neither the request nor the user's
// stored settings provide a Hedra API key.
var ErrHedraKeyMissing = errors.New("hedra_api_key_missing")

// BulkGenerator is the slice of the Hedra client the generation flow
// needs; satisfied by *hedra.Client.
type BulkGenerator interface {
	GenerateBulk(ctx context.Context, req hedra.BulkRequest) ([]hedra.BulkResult, error)
}

// GeneratorFactory builds a BulkGenerator bound to one user's API key.
type GeneratorFactory func(apiKey string) BulkGenerator

// CompletionQueue is the slice of the pgmq client used for enqueueing
// completion-tracking jobs.
type CompletionQueue interface {
	Send(ctx context.Context, queue string, payload []byte) error
}

// GenerateRequest is one bulk generation submission.
type GenerateRequest struct {
	Images      []hedra.BulkItem
	Audio       hedra.BulkItem
	Prompt      string
	AspectRatio string
	Resolution  string
}

// GenerateResult reports the admission outcome and the accepted jobs.
type GenerateResult struct {
	State      model.QuotaState
	Dispatched int
	Videos     []model.Video
}

// GenerationService wraps the quota gate around Hedra dispatch: admit,
// dispatch, settle the ledger against the accepted count, record job
// rows, and enqueue completion tracking.
type GenerationService interface {
	Generate(ctx context.Context, userID, apiKeyOverride string, req GenerateRequest) (*GenerateResult, error)
}

type generationService struct {
	quota      QuotaService
	profiles   repository.ProfileRepository
	videos     repository.VideoRepository
	secrets    SecretStore
	newClient  GeneratorFactory
	queue      CompletionQueue
	queueName  string
	diag       *logbuf.Buffer
	logger     zerolog.Logger
}

// NewGenerationService creates a GenerationService with a scoped logger.
func NewGenerationService(
	quota QuotaService,
	profiles repository.ProfileRepository,
	videos repository.VideoRepository,
	secrets SecretStore,
	newClient GeneratorFactory,
	queue CompletionQueue,
	queueName string,
	diag *logbuf.Buffer,
	logger zerolog.Logger,
) GenerationService {
	return &generationService{
		quota:     quota,
		profiles:  profiles,
		videos:    videos,
		secrets:   secrets,
		newClient: newClient,
		queue:     queue,
		queueName: queueName,
		diag:      diag,
		logger:    logger.With().Str("service", "GenerationService").Logger(),
	}
}

func (s *generationService) resolveAPIKey(ctx context.Context, profile *model.Profile, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if !profile.HasHedraKey {
		return "", ErrHedraKeyMissing
	}
	key, err := s.secrets.GetHedraKey(ctx, profile.ID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", profile.ID).Msg("Failed to fetch stored Hedra key")
		return "", fmt.Errorf("fetch stored hedra key: %w", err)
	}
	if key == "" {
		return "", ErrHedraKeyMissing
	}
	return key, nil
}

func (s *generationService) Generate(ctx context.Context, userID, apiKeyOverride string, req GenerateRequest) (*GenerateResult, error) {
	profile, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	apiKey, err := s.resolveAPIKey(ctx, profile, apiKeyOverride)
	if err != nil {
		return nil, err
	}

	requested := len(req.Images)
	if requested == 0 {
		state, err := s.quota.Quota(ctx, userID)
		if err != nil {
			return nil, err
		}
		return &GenerateResult{State: state}, nil
	}

	// Admission reserves the full batch before any paid work is dispatched.
	state, err := s.quota.Admit(ctx, userID, requested)
	if err != nil {
		return nil, err
	}
	s.diag.Append("info", fmt.Sprintf("admitted %d videos for user %s (%d/%d used)", requested, userID, state.Usage, state.Limit))

	results, genErr := s.newClient(apiKey).GenerateBulk(ctx, hedra.BulkRequest{
		Images:      req.Images,
		Audio:       req.Audio,
		AspectRatio: req.AspectRatio,
		Resolution:  req.Resolution,
		Prompt:      req.Prompt,
	})
	dispatched := len(results)

	// The ledger must end up reflecting only accepted work, even when the
	// whole dispatch failed.
	if err := s.quota.Settle(ctx, userID, requested, dispatched); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to settle quota after dispatch")
	}
	if genErr != nil {
		s.diag.Append("error", fmt.Sprintf("generation dispatch failed for user %s: %v", userID, genErr))
		return nil, fmt.Errorf("dispatch generation batch: %w", genErr)
	}
	s.diag.Append("success", fmt.Sprintf("dispatched %d of %d videos for user %s", dispatched, requested, userID))

	result := &GenerateResult{Dispatched: dispatched}
	for _, jobRes := range results {
		video, err := s.videos.Create(ctx, &model.Video{
			UserID:        userID,
			HedraJobID:    jobRes.JobID,
			ImageFilename: jobRes.ImageFilename,
			Status:        model.VideoStatusProcessing,
		})
		if err != nil {
			// The Hedra job is already running; losing the row costs the
			// user visibility, not quota, so keep going.
			s.logger.Error().Err(err).Str("job_id", jobRes.JobID).Msg("Failed to record video row")
			continue
		}
		result.Videos = append(result.Videos, *video)

		payload, _ := json.Marshal(model.CompletionJob{
			VideoID:    video.ID,
			UserID:     userID,
			HedraJobID: jobRes.JobID,
		})
		if err := s.queue.Send(ctx, s.queueName, payload); err != nil {
			s.logger.Error().Err(err).Str("video_id", video.ID).Msg("Failed to enqueue completion job")
		}
	}

	finalState, err := s.quota.Quota(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to read quota after settle")
		finalState = state
	}
	result.State = finalState
	return result, nil
}
