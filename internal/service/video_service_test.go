package service

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"bulktok/internal/model"
	"bulktok/internal/repository"

	"github.com/rs/zerolog"
)

// stubStorage returns a canned presigned URL.
type stubStorage struct {
	url string
}

func (s stubStorage) ArchiveVideo(ctx context.Context, key string, body io.Reader) error {
	return nil
}

func (s stubStorage) PresignedGetURL(ctx context.Context, key string) (string, error) {
	return s.url, nil
}

func TestVideoListTimeRanges(t *testing.T) {
	videos := &fakeVideoRepo{}
	old := model.Video{UserID: "u1", Status: model.VideoStatusComplete}
	recent := model.Video{UserID: "u1", Status: model.VideoStatusProcessing}
	videos.Create(context.Background(), &old)
	videos.Create(context.Background(), &recent)
	// Push the first row outside the 24h window.
	videos.videos[0].CreatedAt = time.Now().Add(-48 * time.Hour)

	svc := NewVideoService(videos, nil, zerolog.Nop())

	got, err := svc.List(context.Background(), "u1", "last24h", nil, nil)
	if err != nil {
		t.Fatalf("list last24h: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("last24h returned %d videos, want 1", len(got))
	}

	got, err = svc.List(context.Background(), "u1", "all", nil, nil)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("all returned %d videos, want 2", len(got))
	}

	if _, err := svc.List(context.Background(), "u1", "fortnight", nil, nil); !errors.Is(err, ErrInvalidTimeRange) {
		t.Errorf("expected ErrInvalidTimeRange, got %v", err)
	}
}

func TestVideoListCustomRange(t *testing.T) {
	videos := &fakeVideoRepo{}
	v := model.Video{UserID: "u1", Status: model.VideoStatusComplete}
	videos.Create(context.Background(), &v)
	videos.videos[0].CreatedAt = time.Now().Add(-72 * time.Hour)

	svc := NewVideoService(videos, nil, zerolog.Nop())

	from := time.Now().Add(-96 * time.Hour)
	to := time.Now().Add(-48 * time.Hour)
	got, err := svc.List(context.Background(), "u1", "custom", &from, &to)
	if err != nil {
		t.Fatalf("list custom: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("custom range returned %d videos, want 1", len(got))
	}
}

func TestDownloadURLOwnershipAndReadiness(t *testing.T) {
	videos := &fakeVideoRepo{}
	path := "videos/u1/v.mp4"
	done := model.Video{UserID: "u1", Status: model.VideoStatusComplete, StoragePath: &path}
	pending := model.Video{UserID: "u1", Status: model.VideoStatusProcessing}
	videos.Create(context.Background(), &done)
	videos.Create(context.Background(), &pending)

	svc := NewVideoService(videos, stubStorage{url: "https://signed.example/v.mp4"}, zerolog.Nop())

	url, err := svc.DownloadURL(context.Background(), "u1", done.ID)
	if err != nil {
		t.Fatalf("download complete video: %v", err)
	}
	if url == "" {
		t.Error("expected presigned URL")
	}

	// Another user's video reads as not found, not forbidden.
	if _, err := svc.DownloadURL(context.Background(), "u2", done.ID); !errors.Is(err, repository.ErrVideoNotFound) {
		t.Errorf("cross-user download: %v, want ErrVideoNotFound", err)
	}

	if _, err := svc.DownloadURL(context.Background(), "u1", pending.ID); !errors.Is(err, ErrVideoNotReady) {
		t.Errorf("processing download: %v, want ErrVideoNotReady", err)
	}

	if _, err := svc.DownloadURL(context.Background(), "u1", "missing"); !errors.Is(err, repository.ErrVideoNotFound) {
		t.Errorf("missing download: %v, want ErrVideoNotFound", err)
	}
}
