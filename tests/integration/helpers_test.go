//go:build integration

package integration

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/bissquit/newsletter/internal/signup"
	"github.com/bissquit/newsletter/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// uniqueEmail returns an address no other test uses.
func uniqueEmail(prefix string) string {
	return strings.ReplaceAll(prefix, "-", ".") + "." + uuid.NewString()[:8] + "@example.com"
}

// uniqueCampaign returns a campaign tag no other test uses.
func uniqueCampaign(prefix string) string {
	return prefix + "_" + uuid.NewString()[:8]
}

// signupPayload builds a /signup body.
func signupPayload(email string, opts ...func(map[string]interface{})) map[string]interface{} {
	payload := map[string]interface{}{"email": email}
	for _, opt := range opts {
		opt(payload)
	}
	return payload
}

func withCampaign(campaign string) func(map[string]interface{}) {
	return func(m map[string]interface{}) { m["campaign"] = campaign }
}

func withSource(source string) func(map[string]interface{}) {
	return func(m map[string]interface{}) { m["source"] = source }
}

func withName(name string) func(map[string]interface{}) {
	return func(m map[string]interface{}) { m["name"] = name }
}

// postSignup posts to path and decodes the result.
func postSignup(t *testing.T, client *testutil.Client, path string, payload map[string]interface{}) (int, signup.Result) {
	t.Helper()

	resp, err := client.POST(path, payload)
	require.NoError(t, err)

	var result signup.Result
	testutil.DecodeJSON(t, resp, &result)
	return resp.StatusCode, result
}

// createSubscriber signs up email and returns the subscriber id.
func createSubscriber(t *testing.T, client *testutil.Client, payload map[string]interface{}) string {
	t.Helper()

	status, result := postSignup(t, client, "/signup", payload)
	require.Equal(t, http.StatusOK, status)
	require.True(t, result.Success)
	require.NotNil(t, result.SubscriberID, "expected a subscriber id for %v", payload["email"])
	return *result.SubscriberID
}

// unsubscribe deactivates the subscriber through the public endpoint.
func unsubscribe(t *testing.T, client *testutil.Client, id string) {
	t.Helper()

	resp, err := client.GET("/unsubscribe?token=" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

type subscriberRow struct {
	ID          string
	Email       string
	Source      string
	Campaign    string
	Interests   []string
	IPAddress   *string
	UserAgent   *string
	IsActive    bool
	Unsubscribe bool
	EmailSent   bool
}

// loadSubscriber reads a subscriber row by email.
func loadSubscriber(t *testing.T, email string) subscriberRow {
	t.Helper()

	var row subscriberRow
	err := testDB.QueryRow(context.Background(), `
		SELECT id, email, source, campaign, interests, ip_address, user_agent,
		       is_active, unsubscribed_at IS NOT NULL, last_email_sent IS NOT NULL
		FROM subscribers WHERE email = $1
	`, email).Scan(
		&row.ID, &row.Email, &row.Source, &row.Campaign, &row.Interests,
		&row.IPAddress, &row.UserAgent, &row.IsActive, &row.Unsubscribe, &row.EmailSent,
	)
	require.NoError(t, err)
	return row
}

// countRows counts subscribers with the given email.
func countRows(t *testing.T, email string) int {
	t.Helper()

	var n int
	err := testDB.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM subscribers WHERE email = $1`, email,
	).Scan(&n)
	require.NoError(t, err)
	return n
}

// eventTypes lists a subscriber's event types, oldest first.
func eventTypes(t *testing.T, subscriberID string) []string {
	t.Helper()

	rows, err := testDB.Query(context.Background(), `
		SELECT event_type FROM events
		WHERE subscriber_id = $1
		ORDER BY created_at, event_type
	`, subscriberID)
	require.NoError(t, err)
	defer rows.Close()

	var types []string
	for rows.Next() {
		var typ string
		require.NoError(t, rows.Scan(&typ))
		types = append(types, typ)
	}
	require.NoError(t, rows.Err())
	return types
}
