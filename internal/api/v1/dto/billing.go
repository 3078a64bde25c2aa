package dto

// CheckoutRequestDTO selects the paid tier to upgrade to.
type CheckoutRequestDTO struct {
	Tier string `json:"tier" validate:"required,oneof=pro unlimited"`
}

// CheckoutResponseDTO carries the Stripe Checkout session URL.
type CheckoutResponseDTO struct {
	URL string `json:"url"`
}

// SyncRequestDTO requests a manual reconciliation against Stripe. The
// email is optional; the handler falls back to the caller's own token
// email when it is omitted.
type SyncRequestDTO struct {
	Email string `json:"email" validate:"omitempty,email"`
}
