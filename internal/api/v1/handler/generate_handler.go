package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"bulktok/internal/api/v1/dto"
	"bulktok/internal/hedra"
	"bulktok/internal/middleware"
	"bulktok/internal/model"
	"bulktok/internal/service"

	"github.com/rs/zerolog"
)

const maxGenerateFormMemory = 64 << 20 // 64 MiB

// GenerateHandler handles bulk video generation requests.
type GenerateHandler struct {
	genSvc service.GenerationService
	logger zerolog.Logger
}

// NewGenerateHandler creates a new GenerateHandler.
func NewGenerateHandler(genSvc service.GenerationService, logger zerolog.Logger) *GenerateHandler {
	return &GenerateHandler{genSvc: genSvc, logger: logger}
}

// RegisterRoutes mounts the generation endpoint.
func (h *GenerateHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("/generate", authMw(http.HandlerFunc(h.generate)))
}

// generate godoc
// @Summary Bulk-generate videos from images and a shared audio track
// @Description Admits the batch against the user's monthly quota, dispatches accepted items to Hedra, and returns the accepted jobs.
// @Tags generate
// @Accept mpfd
// @Produce json
// @Success 200 {object} dto.GenerateResponseDTO
// @Failure 400 {string} string "missing images, audio, or API key"
// @Failure 403 {object} dto.QuotaExceededDTO "monthly quota exceeded"
// @Failure 404 {string} string "profile not found"
// @Router /generate [post]
func (h *GenerateHandler) generate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "Unauthorized: User ID not found in context", http.StatusUnauthorized)
		return
	}

	if err := r.ParseMultipartForm(maxGenerateFormMemory); err != nil {
		http.Error(w, "Invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}

	imageHeaders := r.MultipartForm.File["images"]
	if len(imageHeaders) == 0 {
		http.Error(w, "No images provided", http.StatusBadRequest)
		return
	}
	images := make([]hedra.BulkItem, 0, len(imageHeaders))
	for _, fh := range imageHeaders {
		f, err := fh.Open()
		if err != nil {
			http.Error(w, "Failed to read image "+fh.Filename, http.StatusBadRequest)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			http.Error(w, "Failed to read image "+fh.Filename, http.StatusBadRequest)
			return
		}
		images = append(images, hedra.BulkItem{Filename: fh.Filename, Data: data})
	}

	audioFile, audioHeader, err := r.FormFile("audio")
	if err != nil {
		http.Error(w, "No audio provided", http.StatusBadRequest)
		return
	}
	audioData, err := io.ReadAll(audioFile)
	audioFile.Close()
	if err != nil {
		http.Error(w, "Failed to read audio", http.StatusBadRequest)
		return
	}

	req := service.GenerateRequest{
		Images:      images,
		Audio:       hedra.BulkItem{Filename: audioHeader.Filename, Data: audioData},
		Prompt:      r.FormValue("prompt"),
		AspectRatio: r.FormValue("aspectRatio"),
		Resolution:  r.FormValue("resolution"),
	}
	if req.AspectRatio == "" {
		req.AspectRatio = "16:9"
	}
	if req.Resolution == "" {
		req.Resolution = "720p"
	}

	result, err := h.genSvc.Generate(r.Context(), userID, r.Header.Get("X-Hedra-API-Key"), req)
	if err != nil {
		var quotaErr *service.QuotaExceededError
		switch {
		case errors.As(err, &quotaErr):
			writeJSON(w, http.StatusForbidden, dto.QuotaExceededDTO{
				Error:        quotaErr.Error(),
				LimitReached: true,
				CurrentTier:  string(quotaErr.State.Tier),
				CurrentUsage: quotaErr.State.Usage,
				Limit:        quotaErr.State.Limit,
				Remaining:    quotaErr.State.Remaining,
			})
		case errors.Is(err, service.ErrProfileNotFound):
			http.Error(w, "User profile not found", http.StatusNotFound)
		case errors.Is(err, service.ErrHedraKeyMissing):
			http.Error(w, "Hedra API key not configured. Please add it in your account settings.", http.StatusBadRequest)
		default:
			h.logger.Error().Err(err).Str("user_id", userID).Msg("Generation request failed")
			http.Error(w, "Failed to generate videos", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, dto.GenerateResponseDTO{
		Admitted:        true,
		DispatchedCount: result.Dispatched,
		Tier:            string(result.State.Tier),
		Limit:           result.State.Limit,
		CurrentUsage:    result.State.Usage,
		Remaining:       result.State.Remaining,
		Videos:          toVideoDTOs(result.Videos),
	})
}

func toVideoDTOs(videos []model.Video) []dto.VideoResponseDTO {
	out := make([]dto.VideoResponseDTO, 0, len(videos))
	for _, v := range videos {
		d := dto.VideoResponseDTO{
			ID:            v.ID,
			HedraJobID:    v.HedraJobID,
			ImageFilename: v.ImageFilename,
			Status:        v.Status,
			CreatedAt:     v.CreatedAt,
		}
		if v.ErrorDetail != nil {
			d.ErrorDetail = *v.ErrorDetail
		}
		out = append(out, d)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
