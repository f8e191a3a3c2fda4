// Package postgres provides PostgreSQL aggregation queries for analytics.
package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bissquit/newsletter/internal/analytics"
	pgstore "github.com/bissquit/newsletter/internal/pkg/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// snapshotTx gives every aggregate of one Aggregate call the same view.
var snapshotTx = pgx.TxOptions{
	IsoLevel:   pgx.RepeatableRead,
	AccessMode: pgx.ReadOnly,
}

// Repository implements analytics.Reader using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Aggregate runs all analytics queries in one read-only snapshot.
// Connectivity and timeout failures carry pgstore.ErrUnavailable or
// pgstore.ErrLockTimeout.
func (r *Repository) Aggregate(ctx context.Context, since time.Time) (analytics.Aggregates, error) {
	tx, err := r.db.BeginTx(ctx, snapshotTx)
	if err != nil {
		return analytics.Aggregates{}, pgstore.MapError("begin snapshot", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("failed to rollback snapshot", "error", err)
		}
	}()

	var agg analytics.Aggregates
	if agg.Totals, err = totals(ctx, tx); err != nil {
		return analytics.Aggregates{}, err
	}
	if agg.Daily, err = dailySignups(ctx, tx, since); err != nil {
		return analytics.Aggregates{}, err
	}
	if agg.Sources, err = sourceCounts(ctx, tx, since); err != nil {
		return analytics.Aggregates{}, err
	}
	if agg.Campaigns, err = campaignCounts(ctx, tx, since); err != nil {
		return analytics.Aggregates{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return analytics.Aggregates{}, pgstore.MapError("commit snapshot", err)
	}
	return agg, nil
}

func totals(ctx context.Context, tx pgx.Tx) (analytics.Totals, error) {
	var t analytics.Totals
	err := tx.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE is_active),
			COUNT(*) FILTER (WHERE is_confirmed)
		FROM subscribers
	`).Scan(&t.Total, &t.Active, &t.Confirmed)
	if err != nil {
		return analytics.Totals{}, pgstore.MapError("count subscribers", err)
	}
	return t, nil
}

// dailySignups groups by UTC date, newest first.
func dailySignups(ctx context.Context, tx pgx.Tx, since time.Time) ([]analytics.DailySignup, error) {
	rows, err := tx.Query(ctx, `
		SELECT to_char((created_at AT TIME ZONE 'UTC')::date, 'YYYY-MM-DD') AS day, COUNT(*)
		FROM subscribers
		WHERE created_at >= $1
		GROUP BY day
		ORDER BY day DESC
	`, since)
	if err != nil {
		return nil, pgstore.MapError("query daily signups", err)
	}

	result, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (analytics.DailySignup, error) {
		var d analytics.DailySignup
		err := row.Scan(&d.Date, &d.Count)
		return d, err
	})
	if err != nil {
		return nil, pgstore.MapError("collect daily signups", err)
	}
	return result, nil
}

func sourceCounts(ctx context.Context, tx pgx.Tx, since time.Time) ([]analytics.SourceCount, error) {
	rows, err := tx.Query(ctx, `
		SELECT source, COUNT(*) AS count
		FROM subscribers
		WHERE created_at >= $1
		GROUP BY source
		ORDER BY count DESC, source
	`, since)
	if err != nil {
		return nil, pgstore.MapError("query source counts", err)
	}

	result, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (analytics.SourceCount, error) {
		var s analytics.SourceCount
		err := row.Scan(&s.Source, &s.Count)
		return s, err
	})
	if err != nil {
		return nil, pgstore.MapError("collect source counts", err)
	}
	return result, nil
}

func campaignCounts(ctx context.Context, tx pgx.Tx, since time.Time) ([]analytics.CampaignCount, error) {
	rows, err := tx.Query(ctx, `
		SELECT campaign, COUNT(*) AS count
		FROM subscribers
		WHERE created_at >= $1
		GROUP BY campaign
		ORDER BY count DESC, campaign
	`, since)
	if err != nil {
		return nil, pgstore.MapError("query campaign counts", err)
	}

	result, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (analytics.CampaignCount, error) {
		var c analytics.CampaignCount
		err := row.Scan(&c.Campaign, &c.Count)
		return c, err
	})
	if err != nil {
		return nil, pgstore.MapError("collect campaign counts", err)
	}
	return result, nil
}
