package notifications

import "errors"

// Worker errors.
var (
	ErrQueueFull     = errors.New("notification queue is full")
	ErrWorkerStopped = errors.New("notification worker stopped")
)

// ErrSenderDisabled is returned by senders that are configured off.
// The worker treats it as a skip rather than a failure.
var ErrSenderDisabled = errors.New("sender disabled")
