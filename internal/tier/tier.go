package tier

// Tier is a named subscription level determining the monthly generation cap.
type Tier string

const (
	Free      Tier = "free"
	Pro       Tier = "pro"
	Unlimited Tier = "unlimited"
)

// Monthly generation caps per tier. The unlimited tier uses a large
// sentinel rather than a special case so every admission path takes the
// same comparison.
const (
	FreeLimit      = 5
	ProLimit       = 300
	UnlimitedLimit = 999999
)

// Limit returns the monthly cap for a tier. Unknown tiers get the free
// cap: an unrecognized billing state must never grant more than baseline
// quota.
func Limit(t Tier) int {
	switch t {
	case Pro:
		return ProLimit
	case Unlimited:
		return UnlimitedLimit
	case Free:
		return FreeLimit
	default:
		return FreeLimit
	}
}

// Resolver maps Stripe price IDs to internal tiers and back.
type Resolver struct {
	proPriceID       string
	unlimitedPriceID string
}

// NewResolver builds a Resolver from the configured paid price IDs.
func NewResolver(proPriceID, unlimitedPriceID string) *Resolver {
	return &Resolver{proPriceID: proPriceID, unlimitedPriceID: unlimitedPriceID}
}

// FromPrice resolves a Stripe price ID to a tier. Any price ID not in
// the table, including the empty string, resolves to free.
func (r *Resolver) FromPrice(priceID string) Tier {
	switch {
	case priceID != "" && priceID == r.proPriceID:
		return Pro
	case priceID != "" && priceID == r.unlimitedPriceID:
		return Unlimited
	default:
		return Free
	}
}

// PriceFor returns the Stripe price ID for a paid tier, or "" for free
// or unknown tiers.
func (r *Resolver) PriceFor(t Tier) string {
	switch t {
	case Pro:
		return r.proPriceID
	case Unlimited:
		return r.unlimitedPriceID
	default:
		return ""
	}
}

// Valid reports whether t is one of the known tiers.
func Valid(t Tier) bool {
	return t == Free || t == Pro || t == Unlimited
}
