package domain

import "time"

// EventType represents the kind of subscriber lifecycle event.
type EventType string

// Event types. The set is open: new types may be appended without a migration.
const (
	EventTypeSignup      EventType = "signup"
	EventTypeResubscribe EventType = "resubscribe"
	EventTypeConfirm     EventType = "confirm"
	EventTypeUnsubscribe EventType = "unsubscribe"
	EventTypeEmailSent   EventType = "email_sent"
)

// Event is an append-only record of something that happened to a subscriber.
type Event struct {
	ID           string         `json:"id"`
	SubscriberID *string        `json:"subscriber_id"`
	Type         EventType      `json:"event_type"`
	Data         map[string]any `json:"event_data"`
	CreatedAt    time.Time      `json:"created_at"`
}
