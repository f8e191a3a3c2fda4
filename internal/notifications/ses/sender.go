// Package ses sends notification emails through Amazon SES.
package ses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/smithy-go"

	"github.com/bissquit/newsletter/internal/notifications"
)

// Provider is the provider name reported in metrics and events.
const Provider = "ses"

const charset = "UTF-8"

// API is the subset of the SES client used by Sender.
type API interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// Config holds SES sender configuration.
type Config struct {
	Region           string
	FromAddress      string
	FromName         string
	ConfigurationSet string
}

// Sender delivers notifications with the SES SendEmail API.
type Sender struct {
	client API
	config Config
	source string
}

// NewSender builds an SES client from the default AWS credential chain.
func NewSender(ctx context.Context, cfg Config) (*Sender, error) {
	if cfg.Region == "" {
		return nil, errors.New("ses sender: region is required")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("ses sender: load aws config: %w", err)
	}

	return NewSenderWithClient(ses.NewFromConfig(awsCfg), cfg)
}

// NewSenderWithClient creates a sender around an existing SES client.
func NewSenderWithClient(client API, cfg Config) (*Sender, error) {
	if cfg.FromAddress == "" {
		return nil, errors.New("ses sender: from address is required")
	}

	source := cfg.FromAddress
	if cfg.FromName != "" {
		source = (&mail.Address{Name: cfg.FromName, Address: cfg.FromAddress}).String()
	}

	slog.Info("ses sender configured",
		"region", cfg.Region,
		"from_address", cfg.FromAddress,
		"configuration_set", cfg.ConfigurationSet,
	)

	return &Sender{client: client, config: cfg, source: source}, nil
}

// Provider returns the transport name.
func (s *Sender) Provider() string {
	return Provider
}

// Send sends a single email.
func (s *Sender) Send(ctx context.Context, n notifications.Notification) error {
	out, err := s.client.SendEmail(ctx, s.buildInput(n))
	if err != nil {
		err = fmt.Errorf("ses send email: %w", err)
		if IsRetryable(err) {
			return notifications.NewRetryableError(err)
		}
		return notifications.NewNonRetryableError(err)
	}

	slog.Debug("ses email accepted", "message_id", aws.ToString(out.MessageId))
	return nil
}

func (s *Sender) buildInput(n notifications.Notification) *ses.SendEmailInput {
	body := &types.Body{}
	if n.HTMLBody != "" {
		body.Html = &types.Content{Charset: aws.String(charset), Data: aws.String(n.HTMLBody)}
	}
	if n.TextBody != "" {
		body.Text = &types.Content{Charset: aws.String(charset), Data: aws.String(n.TextBody)}
	}

	input := &ses.SendEmailInput{
		Source:      aws.String(s.source),
		Destination: &types.Destination{ToAddresses: []string{n.To}},
		Message: &types.Message{
			Subject: &types.Content{Charset: aws.String(charset), Data: aws.String(n.Subject)},
			Body:    body,
		},
	}
	if s.config.ConfigurationSet != "" {
		input.ConfigurationSetName = aws.String(s.config.ConfigurationSet)
	}
	return input
}

// IsRetryable reports whether an SES error is worth another attempt.
// Throttling and server-side faults are; request validation failures are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Throttling", "ThrottlingException", "ServiceUnavailable", "RequestTimeout":
			return true
		}
		return apiErr.ErrorFault() == smithy.FaultServer
	}

	return true
}
