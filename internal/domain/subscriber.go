// Package domain contains core business entities shared across modules.
package domain

import "time"

// Subscriber represents a newsletter subscriber.
type Subscriber struct {
	ID                string         `json:"id"`
	Email             string         `json:"email"`
	Name              *string        `json:"name"`
	Source            string         `json:"source"`
	Campaign          string         `json:"campaign"`
	Interests         []string       `json:"interests"`
	Referrer          *string        `json:"referrer"`
	UserAgent         *string        `json:"user_agent"`
	IPAddress         *string        `json:"ip_address"`
	UTMSource         *string        `json:"utm_source"`
	UTMMedium         *string        `json:"utm_medium"`
	UTMCampaign       *string        `json:"utm_campaign"`
	UTMContent        *string        `json:"utm_content"`
	IsActive          bool           `json:"is_active"`
	IsConfirmed       bool           `json:"is_confirmed"`
	ConfirmationToken string         `json:"-"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	UnsubscribedAt    *time.Time     `json:"unsubscribed_at"`
	LastEmailSent     *time.Time     `json:"last_email_sent"`
	Metadata          map[string]any `json:"metadata"`
}

// Signup is the validated input for creating or reactivating a subscriber.
// Source and Campaign are already defaulted by the caller.
type Signup struct {
	Email       string
	Name        *string
	Source      string
	Campaign    string
	Interests   []string
	Referrer    *string
	UserAgent   *string
	UTMSource   *string
	UTMMedium   *string
	UTMCampaign *string
	UTMContent  *string
}
