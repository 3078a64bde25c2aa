package handler

import (
	"errors"
	"net/http"
	"time"

	"bulktok/internal/api/v1/dto"
	"bulktok/internal/middleware"
	"bulktok/internal/repository"
	"bulktok/internal/service"

	"github.com/rs/zerolog"
)

// VideoHandler serves the user's generated-video library.
type VideoHandler struct {
	videoSvc service.VideoService
	logger   zerolog.Logger
}

// NewVideoHandler creates a new VideoHandler.
func NewVideoHandler(videoSvc service.VideoService, logger zerolog.Logger) *VideoHandler {
	return &VideoHandler{videoSvc: videoSvc, logger: logger}
}

// RegisterRoutes mounts the video endpoints.
func (h *VideoHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("/videos", authMw(http.HandlerFunc(h.list)))
	mux.Handle("/videos/download", authMw(http.HandlerFunc(h.download)))
}

func (h *VideoHandler) list(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()
	var startDate, endDate *time.Time
	if s := q.Get("startDate"); s != "" {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			http.Error(w, "invalid startDate", http.StatusBadRequest)
			return
		}
		startDate = &t
	}
	if s := q.Get("endDate"); s != "" {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			http.Error(w, "invalid endDate", http.StatusBadRequest)
			return
		}
		// Inclusive through the end of the day.
		end := t.Add(24*time.Hour - time.Second)
		endDate = &end
	}

	videos, err := h.videoSvc.List(r.Context(), userID, q.Get("timeRange"), startDate, endDate)
	if err != nil {
		if errors.Is(err, service.ErrInvalidTimeRange) {
			http.Error(w, "Invalid time range", http.StatusBadRequest)
			return
		}
		h.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to list videos")
		http.Error(w, "Failed to fetch videos", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, dto.VideoListResponseDTO{Videos: toVideoDTOs(videos)})
}

func (h *VideoHandler) download(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	videoID := r.URL.Query().Get("id")
	if videoID == "" {
		http.Error(w, "video id required", http.StatusBadRequest)
		return
	}

	url, err := h.videoSvc.DownloadURL(r.Context(), userID, videoID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrVideoNotFound):
			http.Error(w, "Video not found", http.StatusNotFound)
		case errors.Is(err, service.ErrVideoNotReady):
			http.Error(w, "Video is still processing", http.StatusNotFound)
		default:
			h.logger.Error().Err(err).Str("video_id", videoID).Msg("Failed to resolve download URL")
			http.Error(w, "Failed to resolve download", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, dto.VideoDownloadResponseDTO{URL: url})
}
