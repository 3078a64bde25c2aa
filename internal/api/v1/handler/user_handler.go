package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"bulktok/internal/api/v1/dto"
	"bulktok/internal/middleware"
	"bulktok/internal/model"
	"bulktok/internal/repository"
	"bulktok/internal/service"
	"bulktok/internal/tier"

	"github.com/go-playground/validator/v10"
)

type UserHandler struct {
	profileService service.ProfileService
	validate       *validator.Validate
}

func NewUserHandler(profileService service.ProfileService, v *validator.Validate) *UserHandler {
	return &UserHandler{profileService: profileService, validate: v}
}

// RegisterRoutes mounts v1 user routes
func (h *UserHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("/users/me", authMw(http.HandlerFunc(h.handleUsers)))
	mux.Handle("/users/me/hedra-key", authMw(http.HandlerFunc(h.handleHedraKey)))
}

func (h *UserHandler) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createProfile(w, r)
	case http.MethodGet:
		h.getProfile(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *UserHandler) handleHedraKey(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPut:
		h.putHedraKey(w, r)
	case http.MethodDelete:
		h.deleteHedraKey(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *UserHandler) createProfile(w http.ResponseWriter, r *http.Request) {
	// 1. Extract UserID from context
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "Unauthorized: User ID not found in context", http.StatusUnauthorized)
		return
	}

	// 2. Decode request body into DTO
	var req dto.ProfileCreateDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload: "+err.Error(), http.StatusBadRequest)
		return
	}

	// 3. Validate DTO
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	// 4. Create model.Profile from DTO and context UserID
	profile := &model.Profile{
		ID:                userID,
		Email:             req.Email,
		SubscriptionTier:  tier.Free,
		BillingCycleStart: time.Now(),
	}

	// 5. Respond with the stored row so an already-registered user sees
	// their actual tier and usage, not the insert baseline
	created, state, err := h.profileService.Create(r.Context(), profile)
	if err != nil {
		http.Error(w, "Failed to create profile: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, toProfileDTO(created, state))
}

// getProfile godoc
// @Summary Get the authenticated user's profile
// @Produce json
// @Success 200 {object} dto.ProfileResponseDTO
// @Failure 404 {string} string "profile not found"
// @Router /users/me [get]
func (h *UserHandler) getProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "Unauthorized: User ID not found in context", http.StatusUnauthorized)
		return
	}

	profile, state, err := h.profileService.Get(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrProfileNotFound) {
			http.Error(w, "Profile not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to fetch profile: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, toProfileDTO(profile, state))
}

func (h *UserHandler) putHedraKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "Unauthorized: User ID not found in context", http.StatusUnauthorized)
		return
	}

	var req dto.HedraKeyRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.profileService.StoreHedraKey(r.Context(), userID, req.APIKey); err != nil {
		http.Error(w, "Failed to store API key", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *UserHandler) deleteHedraKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "Unauthorized: User ID not found in context", http.StatusUnauthorized)
		return
	}

	if err := h.profileService.DeleteHedraKey(r.Context(), userID); err != nil {
		http.Error(w, "Failed to delete API key", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toProfileDTO(p *model.Profile, state model.QuotaState) dto.ProfileResponseDTO {
	return dto.ProfileResponseDTO{
		ID:               p.ID,
		Email:            p.Email,
		SubscriptionTier: string(p.SubscriptionTier),
		CurrentUsage:     state.Usage,
		Limit:            state.Limit,
		Remaining:        state.Remaining,
		HasHedraKey:      p.HasHedraKey,
		CreatedAt:        p.CreatedAt,
	}
}
