package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"bulktok/internal/api/v1/dto"
	"bulktok/internal/middleware"
	"bulktok/internal/repository"
	"bulktok/internal/service"
	"bulktok/internal/tier"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// BillingHandler handles subscription and billing endpoints.
type BillingHandler struct {
	stripeSvc *service.StripeService
	validate  *validator.Validate
	logger    zerolog.Logger
}

// NewBillingHandler creates a new BillingHandler.
func NewBillingHandler(stripeSvc *service.StripeService, v *validator.Validate, logger zerolog.Logger) *BillingHandler {
	return &BillingHandler{stripeSvc: stripeSvc, validate: v, logger: logger}
}

// RegisterRoutes registers the billing endpoints. The webhook endpoint is
// unauthenticated: Stripe signs the payload instead.
func (h *BillingHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("/billing/checkout", authMw(http.HandlerFunc(h.checkout)))
	mux.Handle("/billing/subscription", authMw(http.HandlerFunc(h.subscriptionStatus)))
	mux.Handle("/billing/cancel", authMw(http.HandlerFunc(h.cancel)))
	mux.Handle("/billing/sync", authMw(http.HandlerFunc(h.sync)))
	mux.Handle("/billing/webhook", http.HandlerFunc(h.stripeSvc.HandleWebhook))
}

// checkout godoc
// @Summary Initiate a Stripe Checkout session for a tier upgrade
// @Tags billing
// @Accept json
// @Produce json
// @Param checkout body dto.CheckoutRequestDTO true "Checkout request"
// @Success 200 {object} dto.CheckoutResponseDTO
// @Failure 400 {string} string "invalid request payload"
// @Failure 404 {string} string "profile not found"
// @Router /billing/checkout [post]
func (h *BillingHandler) checkout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req dto.CheckoutRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}
	url, err := h.stripeSvc.CreateCheckoutSession(r.Context(), userID, tier.Tier(req.Tier))
	if err != nil {
		h.writeBillingError(w, err, "failed to create checkout session")
		return
	}
	writeJSON(w, http.StatusOK, dto.CheckoutResponseDTO{URL: url})
}

// subscriptionStatus godoc
// @Summary Live subscription detail for the authenticated user
// @Tags billing
// @Produce json
// @Success 200 {object} service.SubscriptionStatus
// @Failure 404 {string} string "profile not found"
// @Router /billing/subscription [get]
func (h *BillingHandler) subscriptionStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	status, err := h.stripeSvc.SubscriptionStatus(r.Context(), userID)
	if err != nil {
		h.writeBillingError(w, err, "failed to fetch subscription status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *BillingHandler) cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	result, err := h.stripeSvc.CancelAtPeriodEnd(r.Context(), userID)
	if err != nil {
		h.writeBillingError(w, err, "failed to cancel subscription")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// sync manually reconciles a profile against Stripe by email. Diagnostic
// path for missed webhooks; without an explicit email it reconciles the
// caller's own account using the email from the verified token.
func (h *BillingHandler) sync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req dto.SyncRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}
	email := req.Email
	if email == "" {
		email, _ = r.Context().Value(middleware.EmailContextKey).(string)
	}
	if email == "" {
		http.Error(w, "email required", http.StatusBadRequest)
		return
	}
	profile, err := h.stripeSvc.SyncSubscription(r.Context(), email)
	if err != nil {
		h.writeBillingError(w, err, "failed to sync subscription")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *BillingHandler) writeBillingError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, repository.ErrProfileNotFound):
		http.Error(w, "Profile not found", http.StatusNotFound)
	case errors.Is(err, service.ErrNoSubscription):
		http.Error(w, "No active subscription", http.StatusBadRequest)
	case errors.Is(err, service.ErrBillingUnavailable):
		h.logger.Error().Err(err).Msg(msg)
		http.Error(w, "Billing system unavailable, please retry", http.StatusBadGateway)
	default:
		h.logger.Error().Err(err).Msg(msg)
		http.Error(w, msg, http.StatusInternalServerError)
	}
}
