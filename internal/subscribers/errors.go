package subscribers

import (
	"errors"
	"fmt"

	"github.com/bissquit/newsletter/internal/pkg/postgres"
)

// Store errors.
var (
	ErrAlreadySubscribed  = errors.New("email already subscribed")
	ErrSubscriberNotFound = errors.New("subscriber not found")
	ErrLockTimeout        = postgres.ErrLockTimeout
	ErrStoreUnavailable   = postgres.ErrUnavailable
)

// Request errors.
var (
	ErrInvalidToken  = errors.New("invalid unsubscribe token")
	ErrInvalidFormat = errors.New("format must be json or csv")
)

// AlreadySubscribedError is returned when an active subscriber with the
// same email exists. It matches ErrAlreadySubscribed with errors.Is.
type AlreadySubscribedError struct {
	Email string
}

func (e *AlreadySubscribedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrAlreadySubscribed, e.Email)
}

// Is reports whether target is ErrAlreadySubscribed.
func (e *AlreadySubscribedError) Is(target error) bool {
	return target == ErrAlreadySubscribed
}
