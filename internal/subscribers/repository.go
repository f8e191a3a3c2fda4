// Package subscribers owns subscriber persistence, export and unsubscribe.
package subscribers

import (
	"context"

	"github.com/bissquit/newsletter/internal/domain"
)

// Repository defines the interface for subscriber data access.
// All mutating methods are serialized by the implementation.
type Repository interface {
	// AddSubscriber creates a subscriber or reactivates an unsubscribed one
	// and returns its id. An active duplicate yields *AlreadySubscribedError.
	AddSubscriber(ctx context.Context, signup domain.Signup, ipAddress string) (string, error)
	LogEvent(ctx context.Context, subscriberID *string, eventType domain.EventType, data map[string]any) error
	Unsubscribe(ctx context.Context, id string) error
	RecordEmailSent(ctx context.Context, id string, data map[string]any) error
	ExportSubscribers(ctx context.Context, campaign string) ([]domain.Subscriber, error)

	EnsureCampaign(ctx context.Context, campaign *domain.Campaign) error
	ListCampaigns(ctx context.Context) ([]domain.Campaign, error)
}
