package notifications

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSender struct {
	mu    sync.Mutex
	sent  []Notification
	calls int
	errs  []error // returned in order; nil once exhausted
}

func (m *mockSender) Send(_ context.Context, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return err
		}
	}
	m.sent = append(m.sent, n)
	return nil
}

func (m *mockSender) Provider() string { return "mock" }

func (m *mockSender) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockSender) sentMessages() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Notification(nil), m.sent...)
}

type mockRecorder struct {
	mu       sync.Mutex
	recorded []string
	data     []map[string]any
}

func (m *mockRecorder) RecordEmailSent(_ context.Context, subscriberID string, data map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorded = append(m.recorded, subscriberID)
	m.data = append(m.data, data)
	return nil
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recorded)
}

func newTestRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer(RendererConfig{
		SiteURL:        "https://musequill.ink",
		UnsubscribeURL: "https://newsletter.musequill.ink/unsubscribe",
	})
	require.NoError(t, err)
	return r
}

func startWorker(t *testing.T, config WorkerConfig, sender Sender, recorder DeliveryRecorder) *Worker {
	t.Helper()
	w := NewWorker(config, sender, newTestRenderer(t), recorder)
	w.Start(context.Background())
	t.Cleanup(w.Stop)
	return w
}

func TestWorker_DeliversAndRecords(t *testing.T) {
	sender := &mockSender{}
	recorder := &mockRecorder{}
	w := startWorker(t, WorkerConfig{NumWorkers: 1}, sender, recorder)

	err := w.Enqueue(WelcomeEmail{SubscriberID: "sub-1", Email: "ada@example.com", Name: "ada"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return recorder.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	sent := sender.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "ada@example.com", sent[0].To)
	assert.Contains(t, sent[0].Subject, "Welcome")
	assert.Contains(t, sent[0].HTMLBody, "Hi Ada!")

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	assert.Equal(t, "sub-1", recorder.recorded[0])
	assert.Equal(t, "welcome", recorder.data[0]["template"])
	assert.Equal(t, "mock", recorder.data[0]["provider"])
}

func TestWorker_SenderDisabled_NotRecorded(t *testing.T) {
	sender := &mockSender{errs: []error{ErrSenderDisabled}}
	recorder := &mockRecorder{}
	w := startWorker(t, WorkerConfig{NumWorkers: 1}, sender, recorder)

	require.NoError(t, w.Enqueue(WelcomeEmail{SubscriberID: "sub-1", Email: "a@example.com"}))

	require.Eventually(t, func() bool { return sender.callCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, recorder.count())
}

func TestWorker_FailureWithoutRetry(t *testing.T) {
	sender := &mockSender{errs: []error{errors.New("smtp down"), nil}}
	recorder := &mockRecorder{}
	w := startWorker(t, WorkerConfig{NumWorkers: 1, MaxAttempts: 1, InitialBackoff: time.Millisecond}, sender, recorder)

	require.NoError(t, w.Enqueue(WelcomeEmail{SubscriberID: "sub-1", Email: "a@example.com"}))

	require.Eventually(t, func() bool { return sender.callCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, sender.callCount())
	assert.Equal(t, 0, recorder.count())
}

func TestWorker_RetriesRetryableErrors(t *testing.T) {
	sender := &mockSender{errs: []error{NewRetryableError(errors.New("421 try later")), nil}}
	recorder := &mockRecorder{}
	w := startWorker(t, WorkerConfig{
		NumWorkers:        1,
		MaxAttempts:       3,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        50 * time.Millisecond,
		BackoffMultiplier: 2,
	}, sender, recorder)

	require.NoError(t, w.Enqueue(WelcomeEmail{SubscriberID: "sub-1", Email: "a@example.com"}))

	require.Eventually(t, func() bool { return recorder.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, sender.callCount())
}

func TestWorker_DoesNotRetryPermanentErrors(t *testing.T) {
	sender := &mockSender{errs: []error{NewNonRetryableError(errors.New("550 no such user")), nil}}
	recorder := &mockRecorder{}
	w := startWorker(t, WorkerConfig{NumWorkers: 1, MaxAttempts: 3, InitialBackoff: time.Millisecond}, sender, recorder)

	require.NoError(t, w.Enqueue(WelcomeEmail{SubscriberID: "sub-1", Email: "a@example.com"}))

	require.Eventually(t, func() bool { return sender.callCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, sender.callCount())
	assert.Equal(t, 0, recorder.count())
}

func TestWorker_EnqueueQueueFull(t *testing.T) {
	// Not started, so nothing drains the queue.
	w := NewWorker(WorkerConfig{QueueSize: 1}, &mockSender{}, newTestRenderer(t), nil)

	require.NoError(t, w.Enqueue(WelcomeEmail{SubscriberID: "1"}))
	err := w.Enqueue(WelcomeEmail{SubscriberID: "2"})

	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 1, w.Pending())
}

func TestWorker_EnqueueAfterStop(t *testing.T) {
	w := NewWorker(WorkerConfig{}, &mockSender{}, newTestRenderer(t), nil)
	w.Start(context.Background())
	w.Stop()

	err := w.Enqueue(WelcomeEmail{SubscriberID: "1"})
	assert.ErrorIs(t, err, ErrWorkerStopped)

	// Stop is idempotent.
	w.Stop()
}

func TestWorker_CalculateNextAttempt(t *testing.T) {
	config := WorkerConfig{
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        5 * time.Minute,
		BackoffMultiplier: 2.0,
	}

	worker := &Worker{config: config}

	tests := []struct {
		name            string
		attempt         int
		expectedBackoff time.Duration
	}{
		{"first retry", 1, 1 * time.Second},
		{"second retry", 2, 2 * time.Second},
		{"third retry", 3, 4 * time.Second},
		{"fourth retry", 4, 8 * time.Second},
		{"fifth retry", 5, 16 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := time.Now()
			result := worker.calculateNextAttempt(tt.attempt)
			after := time.Now()

			expectedMin := before.Add(tt.expectedBackoff)
			expectedMax := after.Add(tt.expectedBackoff)

			assert.False(t, result.Before(expectedMin), "result %v should be >= %v", result, expectedMin)
			assert.False(t, result.After(expectedMax), "result %v should be <= %v", result, expectedMax)
		})
	}
}

func TestWorker_CalculateNextAttempt_MaxBackoff(t *testing.T) {
	config := WorkerConfig{
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}

	worker := &Worker{config: config}

	before := time.Now()
	result := worker.calculateNextAttempt(100)

	assert.False(t, result.Before(before.Add(config.MaxBackoff)))
	assert.True(t, result.Before(time.Now().Add(config.MaxBackoff+time.Second)))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "retryable error",
			err:      NewRetryableError(errors.New("temporary error")),
			expected: true,
		},
		{
			name:     "non-retryable error",
			err:      NewNonRetryableError(errors.New("permanent error")),
			expected: false,
		},
		{
			name:     "wrapped non-retryable error",
			err:      errors.Join(errors.New("context"), NewNonRetryableError(errors.New("permanent error"))),
			expected: false,
		},
		{
			name:     "generic error defaults to retryable",
			err:      errors.New("unknown error"),
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isRetryable(tt.err))
		})
	}
}

func TestRetryableError(t *testing.T) {
	originalErr := errors.New("original error")

	t.Run("retryable error", func(t *testing.T) {
		err := NewRetryableError(originalErr)

		assert.Equal(t, "original error", err.Error())
		assert.True(t, err.IsRetryable())
		assert.Equal(t, originalErr, errors.Unwrap(err))
	})

	t.Run("non-retryable error", func(t *testing.T) {
		err := NewNonRetryableError(originalErr)

		assert.Equal(t, "original error", err.Error())
		assert.False(t, err.IsRetryable())
		assert.Equal(t, originalErr, errors.Unwrap(err))
	})
}

func TestDefaultWorkerConfig(t *testing.T) {
	config := DefaultWorkerConfig()

	assert.Equal(t, 2, config.NumWorkers)
	assert.Equal(t, 1000, config.QueueSize)
	assert.Equal(t, 30*time.Second, config.SendTimeout)
	assert.Equal(t, 1, config.MaxAttempts)
	assert.Equal(t, 1*time.Second, config.InitialBackoff)
	assert.Equal(t, 1*time.Minute, config.MaxBackoff)
	assert.Equal(t, 2.0, config.BackoffMultiplier)
}
