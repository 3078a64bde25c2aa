package dto

// GenerateResponseDTO reports the outcome of a bulk generation request.
type GenerateResponseDTO struct {
	Admitted        bool               `json:"admitted"`
	DispatchedCount int                `json:"dispatched_count"`
	Tier            string             `json:"tier"`
	Limit           int                `json:"limit"`
	CurrentUsage    int                `json:"current_usage"`
	Remaining       int                `json:"remaining"`
	Videos          []VideoResponseDTO `json:"videos,omitempty"`
}

// QuotaExceededDTO is the structured 403 body carrying enough detail for
// the client to render an upgrade prompt.
type QuotaExceededDTO struct {
	Error        string `json:"error"`
	LimitReached bool   `json:"limit_reached"`
	CurrentTier  string `json:"current_tier"`
	CurrentUsage int    `json:"current_usage"`
	Limit        int    `json:"limit"`
	Remaining    int    `json:"remaining"`
}
