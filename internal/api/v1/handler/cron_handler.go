package handler

import (
	"net/http"

	"bulktok/internal/service"

	"github.com/rs/zerolog"
)

// CronHandler exposes scheduled maintenance endpoints. Routes registered
// here are guarded by the cron secret, not by user auth.
type CronHandler struct {
	quotaSvc service.QuotaService
	logger   zerolog.Logger
}

// NewCronHandler creates a new CronHandler.
func NewCronHandler(quotaSvc service.QuotaService, logger zerolog.Logger) *CronHandler {
	return &CronHandler{quotaSvc: quotaSvc, logger: logger}
}

// RegisterRoutes mounts the cron endpoints behind the given middleware.
func (h *CronHandler) RegisterRoutes(mux *http.ServeMux, cronMw func(http.Handler) http.Handler) {
	mux.Handle("/cron/reset-usage", cronMw(http.HandlerFunc(h.resetUsage)))
}

// resetUsage rolls over every profile whose billing cycle has elapsed.
// The rollover is a single conditional update, so overlapping invocations
// are harmless.
func (h *CronHandler) resetUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	reset, err := h.quotaSvc.Rollover(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Billing cycle rollover failed")
		http.Error(w, "Rollover failed", http.StatusInternalServerError)
		return
	}

	h.logger.Info().Int64("users_reset", reset).Msg("Billing cycle rollover complete")
	writeJSON(w, http.StatusOK, map[string]int64{"usersReset": reset})
}
