// Package postgres provides PostgreSQL implementation of subscribers repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/bissquit/newsletter/internal/domain"
	pgstore "github.com/bissquit/newsletter/internal/pkg/postgres"
	"github.com/bissquit/newsletter/internal/subscribers"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WriterLockKey identifies the advisory lock that serializes all writers.
const WriterLockKey int64 = 0x6e6577736c6574

// DefaultLockTimeout bounds how long a writer waits for the lock.
const DefaultLockTimeout = 30 * time.Second

const subscriberColumns = `
	id, email, name, source, campaign, interests,
	referrer, user_agent, ip_address,
	utm_source, utm_medium, utm_campaign, utm_content,
	is_active, is_confirmed, confirmation_token,
	created_at, updated_at, unsubscribed_at, last_email_sent, metadata`

// Repository implements subscribers.Repository using PostgreSQL.
type Repository struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool, lockTimeout time.Duration) *Repository {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &Repository{db: db, lockTimeout: lockTimeout}
}

// AddSubscriber inserts a new subscriber or reactivates an unsubscribed one.
func (r *Repository) AddSubscriber(ctx context.Context, signup domain.Signup, ipAddress string) (string, error) {
	var id string

	err := r.withWriteTx(ctx, func(tx pgx.Tx) error {
		interests := signup.Interests
		if interests == nil {
			interests = []string{}
		}

		query := `
			INSERT INTO subscribers (
				id, email, name, source, campaign, interests,
				referrer, user_agent, ip_address,
				utm_source, utm_medium, utm_campaign, utm_content,
				confirmation_token, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW())
			ON CONFLICT (email) DO NOTHING
			RETURNING id
		`
		err := tx.QueryRow(ctx, query,
			uuid.NewString(),
			signup.Email,
			signup.Name,
			signup.Source,
			signup.Campaign,
			interests,
			signup.Referrer,
			signup.UserAgent,
			ipAddress,
			signup.UTMSource,
			signup.UTMMedium,
			signup.UTMCampaign,
			signup.UTMContent,
			uuid.NewString(),
		).Scan(&id)

		if err == nil {
			return logEventTx(ctx, tx, &id, domain.EventTypeSignup, map[string]any{
				"source":   signup.Source,
				"campaign": signup.Campaign,
				"ip":       ipAddress,
			})
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return pgstore.MapError("insert subscriber", err)
		}

		var unsubscribedAt *time.Time
		err = tx.QueryRow(ctx,
			`SELECT id, unsubscribed_at FROM subscribers WHERE email = $1 FOR UPDATE`,
			signup.Email,
		).Scan(&id, &unsubscribedAt)
		if err != nil {
			return pgstore.MapError("get existing subscriber", err)
		}

		if unsubscribedAt == nil {
			return &subscribers.AlreadySubscribedError{Email: signup.Email}
		}

		_, err = tx.Exec(ctx, `
			UPDATE subscribers
			SET is_active = TRUE, unsubscribed_at = NULL,
			    source = $2, campaign = $3, updated_at = NOW()
			WHERE id = $1
		`, id, signup.Source, signup.Campaign)
		if err != nil {
			return pgstore.MapError("reactivate subscriber", err)
		}

		slog.Info("subscriber reactivated", "subscriber_id", id, "source", signup.Source)

		return logEventTx(ctx, tx, &id, domain.EventTypeResubscribe, map[string]any{
			"source":   signup.Source,
			"campaign": signup.Campaign,
		})
	})
	if err != nil {
		return "", err
	}

	return id, nil
}

// LogEvent appends an event.
func (r *Repository) LogEvent(ctx context.Context, subscriberID *string, eventType domain.EventType, data map[string]any) error {
	return r.withWriteTx(ctx, func(tx pgx.Tx) error {
		return logEventTx(ctx, tx, subscriberID, eventType, data)
	})
}

// Unsubscribe soft-deletes a subscriber. Repeating it is a no-op.
func (r *Repository) Unsubscribe(ctx context.Context, id string) error {
	return r.withWriteTx(ctx, func(tx pgx.Tx) error {
		var unsubscribedAt *time.Time
		err := tx.QueryRow(ctx,
			`SELECT unsubscribed_at FROM subscribers WHERE id = $1 FOR UPDATE`,
			id,
		).Scan(&unsubscribedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return subscribers.ErrSubscriberNotFound
			}
			return pgstore.MapError("get subscriber", err)
		}

		if unsubscribedAt != nil {
			return nil
		}

		_, err = tx.Exec(ctx, `
			UPDATE subscribers
			SET is_active = FALSE, unsubscribed_at = NOW(), updated_at = NOW()
			WHERE id = $1
		`, id)
		if err != nil {
			return pgstore.MapError("unsubscribe", err)
		}

		return logEventTx(ctx, tx, &id, domain.EventTypeUnsubscribe, map[string]any{})
	})
}

// RecordEmailSent stamps last_email_sent and appends an email_sent event.
func (r *Repository) RecordEmailSent(ctx context.Context, id string, data map[string]any) error {
	return r.withWriteTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE subscribers
			SET last_email_sent = NOW(), updated_at = NOW()
			WHERE id = $1
		`, id)
		if err != nil {
			return pgstore.MapError("record email sent", err)
		}
		if tag.RowsAffected() == 0 {
			return subscribers.ErrSubscriberNotFound
		}

		return logEventTx(ctx, tx, &id, domain.EventTypeEmailSent, data)
	})
}

// ExportSubscribers returns active subscribers ordered by created_at descending.
// An empty campaign matches all campaigns.
func (r *Repository) ExportSubscribers(ctx context.Context, campaign string) ([]domain.Subscriber, error) {
	query := `SELECT` + subscriberColumns + `
		FROM subscribers
		WHERE is_active = TRUE AND ($1 = '' OR campaign = $1)
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, campaign)
	if err != nil {
		return nil, pgstore.MapError("query subscribers", err)
	}
	defer rows.Close()

	var result []domain.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		result = append(result, *sub)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscribers: %w", err)
	}

	return result, nil
}

// EnsureCampaign inserts the campaign unless one with the same id exists.
func (r *Repository) EnsureCampaign(ctx context.Context, campaign *domain.Campaign) error {
	metadata := campaign.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	return r.withWriteTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO campaigns (id, name, description, start_date, end_date, status, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING
		`,
			campaign.ID,
			campaign.Name,
			campaign.Description,
			campaign.StartDate,
			campaign.EndDate,
			campaign.Status,
			metadata,
		)
		if err != nil {
			return pgstore.MapError("ensure campaign", err)
		}
		if tag.RowsAffected() > 0 {
			slog.Info("campaign created", "campaign_id", campaign.ID)
		}
		return nil
	})
}

// ListCampaigns returns all campaigns, newest start date first.
func (r *Repository) ListCampaigns(ctx context.Context) ([]domain.Campaign, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, description, start_date, end_date, status, metadata, created_at
		FROM campaigns
		ORDER BY start_date DESC, id
	`)
	if err != nil {
		return nil, pgstore.MapError("query campaigns", err)
	}
	defer rows.Close()

	var campaigns []domain.Campaign
	for rows.Next() {
		var c domain.Campaign
		if err := rows.Scan(
			&c.ID,
			&c.Name,
			&c.Description,
			&c.StartDate,
			&c.EndDate,
			&c.Status,
			&c.Metadata,
			&c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		campaigns = append(campaigns, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate campaigns: %w", err)
	}

	return campaigns, nil
}

// withWriteTx runs fn in a transaction that holds the writer lock.
// The lock is released on commit or rollback.
func (r *Repository) withWriteTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w: %w", subscribers.ErrStoreUnavailable, err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("failed to rollback transaction", "error", err)
		}
	}()

	timeout := strconv.FormatInt(r.lockTimeout.Milliseconds(), 10) + "ms"
	if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, timeout); err != nil {
		return pgstore.MapError("set lock timeout", err)
	}

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, WriterLockKey); err != nil {
		return pgstore.MapError("acquire writer lock", err)
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return pgstore.MapError("commit transaction", err)
	}
	return nil
}

func logEventTx(ctx context.Context, tx pgx.Tx, subscriberID *string, eventType domain.EventType, data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO events (subscriber_id, event_type, event_data)
		VALUES ($1, $2, $3)
	`, subscriberID, eventType, data)
	if err != nil {
		return pgstore.MapError("log event", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscriber(row rowScanner) (*domain.Subscriber, error) {
	var s domain.Subscriber
	err := row.Scan(
		&s.ID,
		&s.Email,
		&s.Name,
		&s.Source,
		&s.Campaign,
		&s.Interests,
		&s.Referrer,
		&s.UserAgent,
		&s.IPAddress,
		&s.UTMSource,
		&s.UTMMedium,
		&s.UTMCampaign,
		&s.UTMContent,
		&s.IsActive,
		&s.IsConfirmed,
		&s.ConfirmationToken,
		&s.CreatedAt,
		&s.UpdatedAt,
		&s.UnsubscribedAt,
		&s.LastEmailSent,
		&s.Metadata,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
