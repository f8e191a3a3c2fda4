//go:build integration

package integration

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/bissquit/newsletter/internal/signup"
	"github.com/bissquit/newsletter/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignup_CreatesSubscriber(t *testing.T) {
	client := newTestClient(t)
	email := uniqueEmail("create")

	status, result := postSignup(t, client, "/signup", signupPayload(email, func(m map[string]interface{}) {
		m["name"] = "Ada"
		m["interests"] = []string{"fantasy", " ", "sci-fi"}
		m["utm_source"] = "twitter"
	}))

	require.Equal(t, http.StatusOK, status)
	assert.True(t, result.Success)
	assert.Equal(t, signup.MessageSubscribed, result.Message)
	require.NotNil(t, result.SubscriberID)

	row := loadSubscriber(t, email)
	assert.Equal(t, *result.SubscriberID, row.ID)
	assert.Equal(t, "landing_page", row.Source)
	assert.Equal(t, "early_access_2025", row.Campaign)
	assert.Equal(t, []string{"fantasy", "sci-fi"}, row.Interests)
	assert.True(t, row.IsActive)
	require.NotNil(t, row.IPAddress)
	assert.Equal(t, "127.0.0.1", *row.IPAddress)

	assert.Contains(t, eventTypes(t, row.ID), "signup")
}

func TestSignup_AlreadySubscribed(t *testing.T) {
	client := newTestClient(t)
	email := uniqueEmail("dup")

	createSubscriber(t, client, signupPayload(email))

	status, result := postSignup(t, client, "/signup", signupPayload(email))

	require.Equal(t, http.StatusOK, status)
	assert.True(t, result.Success)
	assert.Equal(t, signup.MessageAlreadySubscribed, result.Message)
	assert.Nil(t, result.SubscriberID)
	assert.Equal(t, 1, countRows(t, email))
}

func TestSignup_Aliases(t *testing.T) {
	client := newTestClient(t)

	for _, path := range []string{"/register", "/contact"} {
		t.Run(path, func(t *testing.T) {
			email := uniqueEmail(strings.TrimPrefix(path, "/"))

			status, result := postSignup(t, client, path, signupPayload(email))

			require.Equal(t, http.StatusOK, status)
			assert.Equal(t, signup.MessageSubscribed, result.Message)
			assert.Equal(t, 1, countRows(t, email))
		})
	}
}

func TestSignup_TrimsEmail(t *testing.T) {
	client := newTestClient(t)
	email := uniqueEmail("trim")

	createSubscriber(t, client, signupPayload("  "+email+"\t"))

	assert.Equal(t, 1, countRows(t, email))
}

func TestSignup_InvalidEmail(t *testing.T) {
	client := newTestClient(t)

	for _, email := range []string{"", "not-an-email", "@example.com", "user@"} {
		t.Run(email, func(t *testing.T) {
			status, result := postSignup(t, client, "/signup", signupPayload(email))

			assert.Equal(t, http.StatusBadRequest, status)
			assert.False(t, result.Success)
			assert.Equal(t, signup.MessageInvalidEmail, result.Message)
		})
	}
}

func TestSignup_InvalidJSON(t *testing.T) {
	client := newTestClient(t)

	resp, err := client.POSTRaw("/signup", `{"email":`)
	require.NoError(t, err)

	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	testutil.DecodeJSON(t, resp, &body)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, body.Error.Message)
}

func TestSignup_ForwardedClientIP(t *testing.T) {
	client := newTestClient(t).WithHeader("X-Forwarded-For", "203.0.113.7")
	email := uniqueEmail("fwd")

	createSubscriber(t, client, signupPayload(email, func(m map[string]interface{}) {
		m["ip_address"] = "10.0.0.1"
	}))

	row := loadSubscriber(t, email)
	require.NotNil(t, row.IPAddress)
	assert.Equal(t, "203.0.113.7", *row.IPAddress)
}

func TestSignup_UserAgentFromHeader(t *testing.T) {
	client := newTestClient(t).WithHeader("User-Agent", "integration-agent/1.0")
	email := uniqueEmail("ua")

	createSubscriber(t, client, signupPayload(email))

	row := loadSubscriber(t, email)
	require.NotNil(t, row.UserAgent)
	assert.Equal(t, "integration-agent/1.0", *row.UserAgent)
}

func TestSignup_ConcurrentSameEmail(t *testing.T) {
	const attempts = 10
	email := uniqueEmail("race")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		already int
	)

	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()

			client := newTestClientWithoutValidation()
			resp, err := client.POST("/signup", signupPayload(email))
			if !assert.NoError(t, err) {
				return
			}

			defer resp.Body.Close()

			var result signup.Result
			if !assert.NoError(t, json.NewDecoder(resp.Body).Decode(&result)) {
				return
			}

			mu.Lock()
			defer mu.Unlock()
			switch {
			case result.SubscriberID != nil:
				created++
			case result.Message == signup.MessageAlreadySubscribed:
				already++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, attempts-1, already)
	assert.Equal(t, 1, countRows(t, email))
}

func TestSignup_Reactivation(t *testing.T) {
	client := newTestClient(t)
	email := uniqueEmail("react")
	campaign := uniqueCampaign("winback")

	id := createSubscriber(t, client, signupPayload(email))
	unsubscribe(t, client, id)

	row := loadSubscriber(t, email)
	require.False(t, row.IsActive)
	require.True(t, row.Unsubscribe)

	status, result := postSignup(t, client, "/signup", signupPayload(email,
		withSource("blog"),
		withCampaign(campaign),
	))

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, signup.MessageSubscribed, result.Message)
	require.NotNil(t, result.SubscriberID)
	assert.Equal(t, id, *result.SubscriberID)

	row = loadSubscriber(t, email)
	assert.True(t, row.IsActive)
	assert.False(t, row.Unsubscribe)
	assert.Equal(t, "blog", row.Source)
	assert.Equal(t, campaign, row.Campaign)
	assert.Equal(t, 1, countRows(t, email))

	types := eventTypes(t, id)
	assert.Contains(t, types, "signup")
	assert.Contains(t, types, "unsubscribe")
	assert.Contains(t, types, "resubscribe")
}
