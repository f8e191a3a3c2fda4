package email

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"testing"
	"time"

	"github.com/bissquit/newsletter/internal/notifications"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func enabledConfig() Config {
	return Config{
		Enabled:     true,
		SMTPHost:    "smtp.example.com",
		FromAddress: "noreply@example.com",
	}
}

func TestNewSender(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "disabled skips validation", mutate: func(c *Config) { *c = Config{} }},
		{name: "missing host", mutate: func(c *Config) { c.SMTPHost = "" }, wantErr: "SMTP host is required"},
		{name: "missing from", mutate: func(c *Config) { c.FromAddress = "" }, wantErr: "from address is required"},
		{name: "unparsable from", mutate: func(c *Config) { c.FromAddress = "not an address" }, wantErr: "invalid from address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := enabledConfig()
			tt.mutate(&cfg)

			sender, err := NewSender(cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, sender)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, Provider, sender.Provider())
		})
	}
}

func TestNewSender_Defaults(t *testing.T) {
	sender, err := NewSender(enabledConfig())
	require.NoError(t, err)

	assert.Equal(t, defaultPort, sender.config.SMTPPort)
	assert.Equal(t, defaultDialTimeout, sender.config.DialTimeout)
	assert.Nil(t, sender.auth)
}

func TestNewSender_Auth(t *testing.T) {
	cfg := enabledConfig()
	cfg.SMTPUser = "user"
	cfg.SMTPPassword = "pass"

	sender, err := NewSender(cfg)
	require.NoError(t, err)
	assert.NotNil(t, sender.auth)
}

func TestNewSender_FromAddress(t *testing.T) {
	tests := []struct {
		from, name       string
		wantAddr, wantNm string
	}{
		{"noreply@example.com", "", "noreply@example.com", ""},
		{"MuseQuill <noreply@example.com>", "", "noreply@example.com", "MuseQuill"},
		{"MuseQuill <noreply@example.com>", "MuseQuill.ink Team", "noreply@example.com", "MuseQuill.ink Team"},
	}

	for _, tt := range tests {
		t.Run(tt.from+"/"+tt.name, func(t *testing.T) {
			cfg := enabledConfig()
			cfg.FromAddress = tt.from
			cfg.FromName = tt.name

			sender, err := NewSender(cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAddr, sender.from.Address)
			assert.Equal(t, tt.wantNm, sender.from.Name)
		})
	}
}

func TestSender_Send_Disabled(t *testing.T) {
	sender, err := NewSender(Config{})
	require.NoError(t, err)

	err = sender.Send(context.Background(), notifications.Notification{To: "a@example.com", Subject: "hi", TextBody: "hello"})
	assert.ErrorIs(t, err, notifications.ErrSenderDisabled)
}

func TestSender_Send_DialFailureIsRetryable(t *testing.T) {
	cfg := enabledConfig()
	cfg.SMTPHost = "127.0.0.1"
	cfg.SMTPPort = 1
	cfg.DialTimeout = 500 * time.Millisecond

	sender, err := NewSender(cfg)
	require.NoError(t, err)

	err = sender.Send(context.Background(), notifications.Notification{To: "a@example.com", Subject: "hi", TextBody: "hello"})
	require.Error(t, err)

	var re *notifications.RetryableError
	require.ErrorAs(t, err, &re)
	assert.True(t, re.IsRetryable())
}

func TestSender_BuildMessage(t *testing.T) {
	cfg := enabledConfig()
	cfg.FromName = "MuseQuill"
	sender, err := NewSender(cfg)
	require.NoError(t, err)

	t.Run("text with html alternative", func(t *testing.T) {
		msg, err := sender.buildMessage(notifications.Notification{
			To:       "ada@example.com",
			Subject:  "Welcome aboard",
			TextBody: "plain body",
			HTMLBody: "<p>html body</p>",
		})
		require.NoError(t, err)
		s := string(msg)

		assert.Contains(t, s, `From: "MuseQuill" <noreply@example.com>`)
		assert.Contains(t, s, "To: ada@example.com")
		assert.Contains(t, s, "Subject: Welcome aboard")
		assert.Contains(t, s, "multipart/alternative")
		assert.Contains(t, s, "plain body")
		assert.Contains(t, s, "<p>html body</p>")
	})

	t.Run("text only", func(t *testing.T) {
		msg, err := sender.buildMessage(notifications.Notification{
			To:       "ada@example.com",
			Subject:  "Plain",
			TextBody: "only text",
		})
		require.NoError(t, err)
		s := string(msg)

		assert.NotContains(t, s, "multipart/alternative")
		assert.Contains(t, s, "Content-Type: text/plain")
		assert.Contains(t, s, "only text")
	})
}

func TestIsRetryable(t *testing.T) {
	reply := func(code int) error {
		return fmt.Errorf("rcpt to: %w", &textproto.Error{Code: code, Msg: "reply"})
	}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"421 service unavailable", reply(421), true},
		{"450 mailbox busy", reply(450), true},
		{"452 insufficient storage", reply(452), true},
		{"552 mailbox full", reply(552), true},
		{"550 no such mailbox", reply(550), false},
		{"535 auth failed", reply(535), false},
		{"plain error", errors.New("421 looks transient but is not a reply"), false},
		{"timeout", &timeoutError{}, true},
		{"dial error", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

type timeoutError struct{}

func (e *timeoutError) Error() string   { return "timeout" }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }
