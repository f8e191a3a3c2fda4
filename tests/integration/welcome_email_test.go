//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/bissquit/newsletter/internal/notifications"
	"github.com/bissquit/newsletter/internal/notifications/email"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWelcomeEmail_SentOnSignup(t *testing.T) {
	client := newTestClient(t)
	addr := uniqueEmail("welcome")

	id := createSubscriber(t, client, signupPayload(addr, withName("ada lovelace")))

	msg, err := mailpitClient.WaitForRecipient(addr, 10*time.Second)
	require.NoError(t, err, "welcome email not received")

	require.NotEmpty(t, msg.To)
	assert.Equal(t, addr, msg.To[0].Address)
	assert.Equal(t, "noreply@musequill.ink", msg.From.Address)
	assert.Equal(t, "MuseQuill.ink Team", msg.From.Name)
	assert.Contains(t, msg.Subject, "Welcome to MuseQuill.ink")

	assert.Contains(t, msg.Text, "Hi Ada Lovelace!")
	assert.Contains(t, msg.Text, "http://newsletter.test/unsubscribe?token="+id)
	assert.Contains(t, msg.HTML, "Hi Ada Lovelace!")

	require.Eventually(t, func() bool {
		return loadSubscriber(t, addr).EmailSent
	}, 5*time.Second, 50*time.Millisecond, "last_email_sent not stamped")
	assert.Contains(t, eventTypes(t, id), "email_sent")
}

func TestWelcomeEmail_NotSentForDuplicate(t *testing.T) {
	client := newTestClient(t)
	addr := uniqueEmail("welcome-dup")

	createSubscriber(t, client, signupPayload(addr))
	_, err := mailpitClient.WaitForRecipient(addr, 10*time.Second)
	require.NoError(t, err)

	postSignup(t, client, "/signup", signupPayload(addr))

	// Give the worker time to send a second message if it were going to.
	time.Sleep(500 * time.Millisecond)
	messages, err := mailpitClient.SearchByRecipient(addr)
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}

func TestEmailSender_UnicodeContent(t *testing.T) {
	addr := uniqueEmail("unicode")

	sender, err := email.NewSender(email.Config{
		Enabled:     true,
		SMTPHost:    mailpitContainer.SMTPHost,
		SMTPPort:    mailpitContainer.SMTPPort,
		FromAddress: "noreply@musequill.ink",
		FromName:    "MuseQuill.ink",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = sender.Send(ctx, notifications.Notification{
		To:       addr,
		Subject:  "🎉 Bienvenue, Zoë!",
		TextBody: "Привет! Your story begins ✍️",
		HTMLBody: "<p>Привет! Your story begins ✍️</p>",
	})
	require.NoError(t, err)

	msg, err := mailpitClient.WaitForRecipient(addr, 10*time.Second)
	require.NoError(t, err)

	assert.Equal(t, "🎉 Bienvenue, Zoë!", msg.Subject)
	assert.Contains(t, msg.Text, "Привет!")
	assert.Contains(t, msg.Text, "✍️")
	assert.Contains(t, msg.HTML, "<p>Привет!")
}
