package subscribers

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/bissquit/newsletter/internal/domain"
	"github.com/google/uuid"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

var csvHeader = []string{
	"id", "email", "name", "source", "campaign", "interests",
	"referrer", "user_agent", "ip_address",
	"utm_source", "utm_medium", "utm_campaign", "utm_content",
	"is_active", "is_confirmed",
	"created_at", "updated_at", "unsubscribed_at", "last_email_sent",
	"metadata",
}

// Service implements admin-facing subscriber operations.
type Service struct {
	repo Repository
}

// NewService creates a new subscribers service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Export returns active subscribers, newest first, optionally limited to one campaign.
func (s *Service) Export(ctx context.Context, campaign string) ([]domain.Subscriber, error) {
	subs, err := s.repo.ExportSubscribers(ctx, campaign)
	if err != nil {
		return nil, fmt.Errorf("export subscribers: %w", err)
	}
	if subs == nil {
		subs = []domain.Subscriber{}
	}
	return subs, nil
}

// Unsubscribe deactivates the subscriber identified by token.
// The token is the subscriber id embedded in the welcome email.
func (s *Service) Unsubscribe(ctx context.Context, token string) error {
	id, err := uuid.Parse(token)
	if err != nil {
		return ErrInvalidToken
	}
	return s.repo.Unsubscribe(ctx, id.String())
}

// ListCampaigns returns all known campaigns.
func (s *Service) ListCampaigns(ctx context.Context) ([]domain.Campaign, error) {
	campaigns, err := s.repo.ListCampaigns(ctx)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	if campaigns == nil {
		campaigns = []domain.Campaign{}
	}
	return campaigns, nil
}

// EncodeCSV renders subscribers as CSV with a header row.
// An empty slice encodes to an empty string.
func EncodeCSV(subs []domain.Subscriber) (string, error) {
	if len(subs) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return "", fmt.Errorf("write csv header: %w", err)
	}

	for i := range subs {
		record, err := csvRecord(&subs[i])
		if err != nil {
			return "", err
		}
		if err := w.Write(record); err != nil {
			return "", fmt.Errorf("write csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush csv: %w", err)
	}
	return buf.String(), nil
}

func csvRecord(s *domain.Subscriber) ([]string, error) {
	interests := s.Interests
	if interests == nil {
		interests = []string{}
	}
	interestsJSON, err := json.Marshal(interests)
	if err != nil {
		return nil, fmt.Errorf("encode interests: %w", err)
	}

	metadata := s.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	return []string{
		s.ID,
		s.Email,
		deref(s.Name),
		s.Source,
		s.Campaign,
		string(interestsJSON),
		deref(s.Referrer),
		deref(s.UserAgent),
		deref(s.IPAddress),
		deref(s.UTMSource),
		deref(s.UTMMedium),
		deref(s.UTMCampaign),
		deref(s.UTMContent),
		strconv.FormatBool(s.IsActive),
		strconv.FormatBool(s.IsConfirmed),
		formatTime(&s.CreatedAt),
		formatTime(&s.UpdatedAt),
		formatTime(s.UnsubscribedAt),
		formatTime(s.LastEmailSent),
		string(metadataJSON),
	}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
