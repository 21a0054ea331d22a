package entity

import "time"

const (
	WebhookEventStatusProcessed = "processed"
	WebhookEventStatusFailed    = "failed"
)

// WebhookEvent journals one inbound provider notification, keyed by the
// provider's own event id. A failed row is mutated in place by the admin
// retry path; a processed row is never reprocessed.
type WebhookEvent struct {
	ID uint64

	Provider  string
	EventID   string
	EventType string

	Status       string
	EventPayload string
	ErrorMessage *string
	ErrorStack   *string

	CreatedAt time.Time
	UpdatedAt time.Time
}
