package analytics

import (
	"context"
	"time"
)

// Engine composes Reader queries into snapshots.
type Engine struct {
	reader Reader
	launch time.Time
}

// NewEngine creates an analytics engine counting down to launch.
func NewEngine(reader Reader, launch time.Time) *Engine {
	return &Engine{
		reader: reader,
		launch: launch.UTC(),
	}
}

// Launch returns the configured launch instant.
func (e *Engine) Launch() time.Time {
	return e.launch
}

// Compute builds a snapshot for the windowDays days preceding now.
// windowDays is clamped to [MinWindowDays, MaxWindowDays].
func (e *Engine) Compute(ctx context.Context, windowDays int, now time.Time) (*Snapshot, error) {
	windowDays = ClampWindow(windowDays)
	now = now.UTC()
	since := now.Add(-time.Duration(windowDays) * 24 * time.Hour)

	agg, err := e.reader.Aggregate(ctx, since)
	if err != nil {
		return nil, err
	}

	daily, sources, campaigns := agg.Daily, agg.Sources, agg.Campaigns
	if daily == nil {
		daily = []DailySignup{}
	}
	if sources == nil {
		sources = []SourceCount{}
	}
	if campaigns == nil {
		campaigns = []CampaignCount{}
	}

	return &Snapshot{
		TotalSubscribers:     agg.Totals.Total,
		ActiveSubscribers:    agg.Totals.Active,
		ConfirmedSubscribers: agg.Totals.Confirmed,
		DailySignups:         daily,
		Sources:              sources,
		Campaigns:            campaigns,
		LaunchCountdown:      Countdown(e.launch, now),
	}, nil
}

// ClampWindow limits days to the supported window range.
func ClampWindow(days int) int {
	return min(max(days, MinWindowDays), MaxWindowDays)
}

// Countdown decomposes the time from now until launch. Sub-second
// remainders are truncated; a past launch yields all zeros.
func Countdown(launch, now time.Time) LaunchCountdown {
	remaining := launch.Sub(now)
	if remaining <= 0 {
		return LaunchCountdown{}
	}

	total := int64(remaining / time.Second)

	return LaunchCountdown{
		Days:         int(total / 86400),
		Hours:        int(total % 86400 / 3600),
		Minutes:      int(total % 3600 / 60),
		Seconds:      int(total % 60),
		TotalSeconds: total,
	}
}
