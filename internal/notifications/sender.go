// Package notifications delivers transactional email to subscribers.
package notifications

import "context"

// Notification is a rendered message ready for delivery.
type Notification struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
}

// Sender delivers notifications over a single transport.
type Sender interface {
	Send(ctx context.Context, notification Notification) error
	// Provider names the transport for metrics and event data.
	Provider() string
}

// WelcomeEmail is a queued request to greet a new or returning subscriber.
type WelcomeEmail struct {
	SubscriberID string
	Email        string
	Name         string

	attempt int
}
