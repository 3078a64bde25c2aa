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

// ErrVideoNotReady is returned when a download is requested for a video
// that has not been archived yet.
var ErrVideoNotReady = errors.New("video_not_ready")

// ErrInvalidTimeRange is returned for an unrecognized list filter.
var ErrInvalidTimeRange = errors.New("invalid_time_range")

// VideoService lists a user's generated videos and resolves downloads.
type VideoService interface {
	List(ctx context.Context, userID, timeRange string, startDate, endDate *time.Time) ([]model.Video, error)
	DownloadURL(ctx context.Context, userID, videoID string) (string, error)
}

type videoService struct {
	videos  repository.VideoRepository
	storage StorageService
	logger  zerolog.Logger
}

// NewVideoService creates a VideoService with a scoped logger.
func NewVideoService(videos repository.VideoRepository, storage StorageService, logger zerolog.Logger) VideoService {
	return &videoService{
		videos:  videos,
		storage: storage,
		logger:  logger.With().Str("service", "VideoService").Logger(),
	}
}

// List returns the user's videos newest first, filtered by time range:
// last24h (default), today, custom (explicit start/end), or all.
func (s *videoService) List(ctx context.Context, userID, timeRange string, startDate, endDate *time.Time) ([]model.Video, error) {
	now := time.Now()
	var from, to *time.Time
	switch timeRange {
	case "", "last24h":
		t := now.Add(-24 * time.Hour)
		from = &t
	case "today":
		t := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		from = &t
	case "custom":
		from, to = startDate, endDate
	case "all":
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidTimeRange, timeRange)
	}

	videos, err := s.videos.ListByUser(ctx, userID, from, to)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to list videos")
		return nil, err
	}
	return videos, nil
}

// DownloadURL returns a presigned URL for an archived video. Videos still
// processing are not downloadable; videos belonging to another user are
// reported as not found.
func (s *videoService) DownloadURL(ctx context.Context, userID, videoID string) (string, error) {
	video, err := s.videos.GetByID(ctx, videoID)
	if err != nil {
		return "", err
	}
	if video.UserID != userID {
		return "", repository.ErrVideoNotFound
	}
	if video.Status != model.VideoStatusComplete || video.StoragePath == nil {
		return "", ErrVideoNotReady
	}
	return s.storage.PresignedGetURL(ctx, *video.StoragePath)
}
