// Package analytics computes subscriber statistics and the launch countdown.
package analytics

import (
	"context"
	"time"
)

// Window bounds in days.
const (
	MinWindowDays     = 1
	MaxWindowDays     = 365
	DefaultWindowDays = 30
)

// Totals holds subscriber counts across all time.
type Totals struct {
	Total     int
	Active    int
	Confirmed int
}

// DailySignup is the number of signups on one UTC calendar date.
type DailySignup struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// SourceCount is the number of signups attributed to a source.
type SourceCount struct {
	Source string `json:"source"`
	Count  int    `json:"count"`
}

// CampaignCount is the number of signups attributed to a campaign.
type CampaignCount struct {
	Campaign string `json:"campaign"`
	Count    int    `json:"count"`
}

// LaunchCountdown is the time remaining until launch. All fields are zero
// once launch has passed.
type LaunchCountdown struct {
	Days         int   `json:"days"`
	Hours        int   `json:"hours"`
	Minutes      int   `json:"minutes"`
	Seconds      int   `json:"seconds"`
	TotalSeconds int64 `json:"total_seconds"`
}

// Snapshot is the full analytics view for a rolling window.
type Snapshot struct {
	TotalSubscribers     int             `json:"total_subscribers"`
	ActiveSubscribers    int             `json:"active_subscribers"`
	ConfirmedSubscribers int             `json:"confirmed_subscribers"`
	DailySignups         []DailySignup   `json:"daily_signups"`
	Sources              []SourceCount   `json:"sources"`
	Campaigns            []CampaignCount `json:"campaigns"`
	LaunchCountdown      LaunchCountdown `json:"launch_countdown"`
}

// Aggregates is one consistent read of the subscriber counts: Totals over
// all time, the rest over rows with created_at >= since.
type Aggregates struct {
	Totals    Totals
	Daily     []DailySignup
	Sources   []SourceCount
	Campaigns []CampaignCount
}

// Reader provides aggregation queries over stored subscribers.
type Reader interface {
	Aggregate(ctx context.Context, since time.Time) (Aggregates, error)
}
