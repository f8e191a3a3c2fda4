// Package email sends welcome emails over SMTP.
package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"github.com/bissquit/newsletter/internal/notifications"
	"gopkg.in/gomail.v2"
)

// Provider is the provider name reported in metrics and events.
const Provider = "smtp"

const (
	defaultPort        = 587
	defaultDialTimeout = 10 * time.Second
)

// Config holds email sender configuration. FromAddress may be a bare
// address or "Name <address>"; FromName wins over a parsed name.
type Config struct {
	Enabled      bool
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	FromAddress  string
	FromName     string
	DialTimeout  time.Duration
}

// Sender delivers notifications through an SMTP relay.
type Sender struct {
	config Config
	from   mail.Address
	auth   smtp.Auth
}

// NewSender validates config and returns a sender. A disabled sender is
// valid and skips every message.
func NewSender(config Config) (*Sender, error) {
	if config.SMTPPort == 0 {
		config.SMTPPort = defaultPort
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = defaultDialTimeout
	}

	s := &Sender{config: config}
	if !config.Enabled {
		slog.Info("email sender disabled")
		return s, nil
	}

	if config.SMTPHost == "" {
		return nil, errors.New("email sender: SMTP host is required when enabled")
	}
	if config.FromAddress == "" {
		return nil, errors.New("email sender: from address is required when enabled")
	}
	from, err := mail.ParseAddress(config.FromAddress)
	if err != nil {
		return nil, fmt.Errorf("email sender: invalid from address %q: %w", config.FromAddress, err)
	}
	if config.FromName != "" {
		from.Name = config.FromName
	}
	s.from = *from

	if config.SMTPUser != "" && config.SMTPPassword != "" {
		s.auth = smtp.PlainAuth("", config.SMTPUser, config.SMTPPassword, config.SMTPHost)
	}

	slog.Info("email sender configured",
		"smtp_host", config.SMTPHost,
		"smtp_port", config.SMTPPort,
		"from_address", s.from.Address,
		"auth", s.auth != nil,
	)
	return s, nil
}

// Provider returns the transport name.
func (s *Sender) Provider() string {
	return Provider
}

// Send delivers one message. Failures are wrapped in
// notifications.RetryableError according to IsRetryable.
func (s *Sender) Send(ctx context.Context, n notifications.Notification) error {
	if !s.config.Enabled {
		slog.Warn("SMTP not configured, skipping email", "to", n.To)
		return notifications.ErrSenderDisabled
	}

	msg, err := s.buildMessage(n)
	if err != nil {
		return notifications.NewNonRetryableError(err)
	}

	if err := s.deliver(ctx, n.To, msg); err != nil {
		if IsRetryable(err) {
			return notifications.NewRetryableError(err)
		}
		return notifications.NewNonRetryableError(err)
	}
	return nil
}

// buildMessage renders a MIME message: plain text with an HTML alternative
// when both bodies are present.
func (s *Sender) buildMessage(n notifications.Notification) ([]byte, error) {
	m := gomail.NewMessage(gomail.SetCharset("UTF-8"))
	m.SetAddressHeader("From", s.from.Address, s.from.Name)
	m.SetHeader("To", n.To)
	m.SetHeader("Subject", n.Subject)
	m.SetDateHeader("Date", time.Now())

	switch {
	case n.TextBody != "" && n.HTMLBody != "":
		m.SetBody("text/plain", n.TextBody)
		m.AddAlternative("text/html", n.HTMLBody)
	case n.HTMLBody != "":
		m.SetBody("text/html", n.HTMLBody)
	default:
		m.SetBody("text/plain", n.TextBody)
	}

	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("build message: %w", err)
	}
	return buf.Bytes(), nil
}

// deliver runs one SMTP session, upgrading to TLS when the server offers
// STARTTLS. The context deadline bounds the whole session.
func (s *Sender) deliver(ctx context.Context, rcpt string, msg []byte) error {
	addr := net.JoinHostPort(s.config.SMTPHost, strconv.Itoa(s.config.SMTPPort))

	dialer := &net.Dialer{Timeout: s.config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, s.config.SMTPHost)
	if err != nil {
		return fmt.Errorf("smtp greeting: %w", err)
	}
	defer func() { _ = c.Close() }()

	if ok, _ := c.Extension("STARTTLS"); ok {
		tlsConfig := &tls.Config{ServerName: s.config.SMTPHost, MinVersion: tls.VersionTLS12}
		if err := c.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if s.auth != nil {
		if err := c.Auth(s.auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	steps := []struct {
		name string
		run  func() error
	}{
		{"mail from", func() error { return c.Mail(s.from.Address) }},
		{"rcpt to", func() error { return c.Rcpt(rcpt) }},
		{"data", func() error { return writeData(c, msg) }},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}
	return c.Quit()
}

func writeData(c *smtp.Client, msg []byte) error {
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	return w.Close()
}

// IsRetryable reports whether a delivery error is worth another attempt:
// network failures, timeouts, transient 4xx replies and 552 (mailbox full).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var reply *textproto.Error
	if errors.As(err, &reply) {
		return (reply.Code >= 400 && reply.Code < 500) || reply.Code == 552
	}
	return false
}
