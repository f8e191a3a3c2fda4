// Package signup turns public signup requests into stored subscribers and
// queued welcome emails.
package signup

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/bissquit/newsletter/internal/domain"
	"github.com/bissquit/newsletter/internal/notifications"
	"github.com/bissquit/newsletter/internal/pkg/ctxlog"
	"github.com/bissquit/newsletter/internal/subscribers"
	"github.com/go-playground/validator/v10"
)

// User-facing messages.
const (
	MessageSubscribed        = "🎉 You're on the list! Check your email for exclusive updates."
	MessageAlreadySubscribed = "You're already on our list! Thanks for your continued interest."
	MessageFailed            = "Signup failed. Please try again."
	MessageInvalidEmail      = "Please provide a valid email address."
)

// Outcome classifies how a signup attempt ended.
type Outcome string

// Signup outcomes.
const (
	OutcomeCreated           Outcome = "created"
	OutcomeAlreadySubscribed Outcome = "already_subscribed"
	OutcomeInvalid           Outcome = "invalid"
	OutcomeUnavailable       Outcome = "unavailable"
	OutcomeFailed            Outcome = "failed"
)

// Request is the public signup payload.
type Request struct {
	Email       string   `json:"email" validate:"required,email,max=254"`
	Name        string   `json:"name" validate:"max=255"`
	Source      string   `json:"source" validate:"max=100"`
	Campaign    string   `json:"campaign" validate:"max=100"`
	Interests   []string `json:"interests" validate:"max=20,dive,max=100"`
	Referrer    string   `json:"referrer" validate:"max=2048"`
	UserAgent   string   `json:"user_agent" validate:"max=1024"`
	UTMSource   string   `json:"utm_source" validate:"max=255"`
	UTMMedium   string   `json:"utm_medium" validate:"max=255"`
	UTMCampaign string   `json:"utm_campaign" validate:"max=255"`
	UTMContent  string   `json:"utm_content" validate:"max=255"`
}

// Result is the response shape for every signup attempt.
type Result struct {
	Success      bool    `json:"success"`
	Message      string  `json:"message"`
	SubscriberID *string `json:"subscriber_id,omitempty"`
	Outcome      Outcome `json:"-"`
}

// Store persists subscribers.
type Store interface {
	AddSubscriber(ctx context.Context, signup domain.Signup, ipAddress string) (string, error)
}

// WelcomeQueue accepts welcome emails for asynchronous delivery.
// Enqueue must not block.
type WelcomeQueue interface {
	Enqueue(msg notifications.WelcomeEmail) error
}

// Defaults are applied to requests that omit source or campaign.
type Defaults struct {
	Source   string
	Campaign string
}

// Service processes signups.
type Service struct {
	store     Store
	queue     WelcomeQueue
	defaults  Defaults
	validator *validator.Validate
}

// NewService creates a signup service. queue may be nil, in which case no
// welcome email is sent.
func NewService(store Store, queue WelcomeQueue, defaults Defaults) *Service {
	if defaults.Source == "" {
		defaults.Source = "landing_page"
	}
	if defaults.Campaign == "" {
		defaults.Campaign = "early_access_2025"
	}

	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Service{
		store:     store,
		queue:     queue,
		defaults:  defaults,
		validator: v,
	}
}

// Submit validates and stores a signup. It never returns internal error
// detail in the Result.
func (s *Service) Submit(ctx context.Context, req Request, clientIP string) Result {
	log := ctxlog.FromContext(ctx)
	req.Email = strings.TrimSpace(req.Email)

	if err := s.validator.Struct(req); err != nil {
		log.Info("signup rejected", "error", err)
		recordAttempt(OutcomeInvalid)
		return Result{Success: false, Message: validationMessage(err), Outcome: OutcomeInvalid}
	}

	signup := s.toDomain(req)
	id, err := s.store.AddSubscriber(ctx, signup, clientIP)
	if err != nil {
		return s.storeFailure(ctx, signup, err)
	}

	log.Info("new subscriber",
		"subscriber_id", id,
		"source", signup.Source,
		"campaign", signup.Campaign,
	)
	recordAttempt(OutcomeCreated)

	s.queueWelcome(ctx, id, req)

	return Result{
		Success:      true,
		Message:      MessageSubscribed,
		SubscriberID: &id,
		Outcome:      OutcomeCreated,
	}
}

func (s *Service) storeFailure(ctx context.Context, signup domain.Signup, err error) Result {
	log := ctxlog.FromContext(ctx)

	switch {
	case errors.Is(err, subscribers.ErrAlreadySubscribed):
		log.Info("signup for existing subscriber", "campaign", signup.Campaign)
		recordAttempt(OutcomeAlreadySubscribed)
		return Result{Success: true, Message: MessageAlreadySubscribed, Outcome: OutcomeAlreadySubscribed}

	case errors.Is(err, subscribers.ErrLockTimeout), errors.Is(err, subscribers.ErrStoreUnavailable):
		log.Warn("signup failed, store unavailable", "error", err)
		recordAttempt(OutcomeUnavailable)
		return Result{Success: false, Message: MessageFailed, Outcome: OutcomeUnavailable}

	default:
		log.Error("signup failed", "error", fmt.Errorf("add subscriber: %w", err))
		recordAttempt(OutcomeFailed)
		return Result{Success: false, Message: MessageFailed, Outcome: OutcomeFailed}
	}
}

func (s *Service) queueWelcome(ctx context.Context, id string, req Request) {
	if s.queue == nil {
		return
	}

	err := s.queue.Enqueue(notifications.WelcomeEmail{
		SubscriberID: id,
		Email:        req.Email,
		Name:         strings.TrimSpace(req.Name),
	})
	if err != nil {
		ctxlog.FromContext(ctx).Warn("welcome email not queued", "subscriber_id", id, "error", err)
	}
}

func (s *Service) toDomain(req Request) domain.Signup {
	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = s.defaults.Source
	}
	campaign := strings.TrimSpace(req.Campaign)
	if campaign == "" {
		campaign = s.defaults.Campaign
	}

	interests := make([]string, 0, len(req.Interests))
	for _, i := range req.Interests {
		if i = strings.TrimSpace(i); i != "" {
			interests = append(interests, i)
		}
	}

	return domain.Signup{
		Email:       req.Email,
		Name:        optional(req.Name),
		Source:      source,
		Campaign:    campaign,
		Interests:   interests,
		Referrer:    optional(req.Referrer),
		UserAgent:   optional(req.UserAgent),
		UTMSource:   optional(req.UTMSource),
		UTMMedium:   optional(req.UTMMedium),
		UTMCampaign: optional(req.UTMCampaign),
		UTMContent:  optional(req.UTMContent),
	}
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return MessageFailed
	}
	first := verrs[0]
	if first.Field() == "email" {
		return MessageInvalidEmail
	}
	return fmt.Sprintf("Invalid value for %s.", first.Field())
}
