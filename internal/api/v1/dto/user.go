package dto

import "time"

// ProfileCreateDTO is used for incoming profile creation requests.
type ProfileCreateDTO struct {
	Email string `json:"email" validate:"required,email"`
}

// ProfileResponseDTO is returned in API responses.
type ProfileResponseDTO struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	SubscriptionTier string    `json:"subscription_tier"`
	CurrentUsage     int       `json:"current_usage"`
	Limit            int       `json:"limit"`
	Remaining        int       `json:"remaining"`
	HasHedraKey      bool      `json:"has_hedra_key"`
	CreatedAt        time.Time `json:"created_at"`
}

// HedraKeyRequestDTO stores or replaces a user's Hedra API key.
type HedraKeyRequestDTO struct {
	APIKey string `json:"api_key" validate:"required"`
}
