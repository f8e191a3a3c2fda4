package notifications

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// WorkerConfig contains worker configuration.
type WorkerConfig struct {
	NumWorkers        int
	QueueSize         int
	SendTimeout       time.Duration
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultWorkerConfig returns default worker configuration.
// A single attempt is made per email.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		NumWorkers:        2,
		QueueSize:         1000,
		SendTimeout:       30 * time.Second,
		MaxAttempts:       1,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        1 * time.Minute,
		BackoffMultiplier: 2.0,
	}
}

// DeliveryRecorder is told about every delivered welcome email.
type DeliveryRecorder interface {
	RecordEmailSent(ctx context.Context, subscriberID string, data map[string]any) error
}

// Worker delivers welcome emails from a bounded in-memory queue.
// Enqueue never blocks; a full queue drops the email.
type Worker struct {
	config   WorkerConfig
	sender   Sender
	renderer *Renderer
	recorder DeliveryRecorder

	queue    chan WelcomeEmail
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker creates a new notification worker. recorder may be nil.
func NewWorker(config WorkerConfig, sender Sender, renderer *Renderer, recorder DeliveryRecorder) *Worker {
	defaults := DefaultWorkerConfig()
	if config.NumWorkers <= 0 {
		config.NumWorkers = defaults.NumWorkers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = defaults.SendTimeout
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.BackoffMultiplier < 1 {
		config.BackoffMultiplier = defaults.BackoffMultiplier
	}

	return &Worker{
		config:   config,
		sender:   sender,
		renderer: renderer,
		recorder: recorder,
		queue:    make(chan WelcomeEmail, config.QueueSize),
		stopCh:   make(chan struct{}),
	}
}

// Start launches worker goroutines.
func (w *Worker) Start(ctx context.Context) {
	slog.Info("starting notification worker",
		"workers", w.config.NumWorkers,
		"queue_size", w.config.QueueSize,
		"provider", w.sender.Provider(),
		"max_attempts", w.config.MaxAttempts,
	)

	for i := 0; i < w.config.NumWorkers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i)
	}
}

// Stop gracefully stops all workers. Emails still queued are dropped.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	w.wg.Wait()

	if pending := len(w.queue); pending > 0 {
		slog.Warn("notification worker stopped with pending emails", "pending", pending)
	}
	slog.Info("notification worker stopped")
}

// Enqueue hands a welcome email to the worker without blocking.
func (w *Worker) Enqueue(msg WelcomeEmail) error {
	select {
	case <-w.stopCh:
		recordDropped()
		return ErrWorkerStopped
	default:
	}

	select {
	case w.queue <- msg:
		recordQueueDepth(len(w.queue))
		return nil
	default:
		recordDropped()
		return ErrQueueFull
	}
}

// Pending returns the number of queued emails.
func (w *Worker) Pending() int {
	return len(w.queue)
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case msg := <-w.queue:
			recordQueueDepth(len(w.queue))
			slog.Debug("processing welcome email", "worker", workerID, "subscriber_id", msg.SubscriberID)
			w.process(ctx, msg)
		}
	}
}

func (w *Worker) process(ctx context.Context, msg WelcomeEmail) {
	provider := w.sender.Provider()
	start := time.Now()

	notification, err := w.renderer.RenderWelcome(msg)
	if err != nil {
		slog.Error("failed to render", "subscriber_id", msg.SubscriberID, "error", err)
		recordNotificationSent(provider, "failed")
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.config.SendTimeout)
	err = w.sender.Send(sendCtx, notification)
	cancel()
	duration := time.Since(start)

	if errors.Is(err, ErrSenderDisabled) {
		slog.Debug("sender disabled, welcome email skipped", "subscriber_id", msg.SubscriberID)
		recordNotificationSent(provider, "skipped")
		return
	}

	if err != nil {
		w.handleSendError(msg, provider, err)
		return
	}

	recordNotificationSent(provider, "success")
	recordNotificationDuration(provider, duration)

	slog.Info("welcome email sent",
		"subscriber_id", msg.SubscriberID,
		"provider", provider,
		"duration", duration,
	)

	if w.recorder == nil {
		return
	}
	if err := w.recorder.RecordEmailSent(ctx, msg.SubscriberID, map[string]any{
		"template": "welcome",
		"provider": provider,
	}); err != nil {
		slog.Error("failed to record email sent", "subscriber_id", msg.SubscriberID, "error", err)
	}
}

func (w *Worker) handleSendError(msg WelcomeEmail, provider string, err error) {
	slog.Warn("send failed",
		"subscriber_id", msg.SubscriberID,
		"attempt", msg.attempt+1,
		"max_attempts", w.config.MaxAttempts,
		"error", err,
	)

	if !isRetryable(err) || msg.attempt+1 >= w.config.MaxAttempts {
		recordNotificationSent(provider, "failed")
		return
	}

	msg.attempt++
	nextAttempt := w.calculateNextAttempt(msg.attempt)
	recordNotificationSent(provider, "retry")

	time.AfterFunc(time.Until(nextAttempt), func() {
		if err := w.Enqueue(msg); err != nil {
			slog.Warn("failed to requeue welcome email", "subscriber_id", msg.SubscriberID, "error", err)
		}
	})

	slog.Info("welcome email scheduled for retry",
		"subscriber_id", msg.SubscriberID,
		"next_attempt", nextAttempt,
	)
}

func (w *Worker) calculateNextAttempt(attempt int) time.Time {
	backoff := float64(w.config.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= w.config.BackoffMultiplier
	}

	if backoff > float64(w.config.MaxBackoff) {
		backoff = float64(w.config.MaxBackoff)
	}

	return time.Now().Add(time.Duration(backoff))
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	type retryable interface {
		IsRetryable() bool
	}
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	// Default: retry unknown errors
	return true
}

// RetryableError wraps an error and marks it as retryable or not.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

// IsRetryable returns whether the error is retryable.
func (e *RetryableError) IsRetryable() bool {
	return e.Retryable
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a retryable error.
func NewRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: true}
}

// NewNonRetryableError creates a non-retryable error.
func NewNonRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: false}
}
