package model

import "time"

const defaultPlanDurationDays = 365

// Plan is read-only to the payments core; the marketplace owns plan CRUD.
type Plan struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	PriceCents   int64     `json:"price_cents"`
	Currency     string    `json:"currency"`
	IsLifetime   bool      `json:"is_lifetime"`
	DurationDays *int      `json:"duration_days"`
	CreatedAt    time.Time `json:"created_at"`
}

// EffectiveDurationDays returns the subscription length for non-lifetime
// plans, defaulting to 365 when the plan does not set one.
func (p *Plan) EffectiveDurationDays() int {
	if p.DurationDays == nil || *p.DurationDays <= 0 {
		return defaultPlanDurationDays
	}
	return *p.DurationDays
}
