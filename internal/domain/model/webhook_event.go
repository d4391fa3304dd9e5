package model

import "time"

// WebhookEvent logs a processed provider notification so redeliveries of the
// same event id are acknowledged without reprocessing.
type WebhookEvent struct {
	ID         string // provider event id, or a generated ULID when absent
	EventType  string
	ResourceID string // order or capture id the event referred to
	ReceivedAt time.Time
}
