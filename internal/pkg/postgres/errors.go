package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Store errors shared by the repositories. Both are transient.
var (
	ErrLockTimeout = errors.New("timed out waiting for write lock")
	ErrUnavailable = errors.New("store unavailable")
)

// lock_not_available
const sqlStateLockNotAvailable = "55P03"

// MapError prefixes err with op and tags lock and connectivity failures
// with ErrLockTimeout or ErrUnavailable. Other errors are only wrapped.
func MapError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == sqlStateLockNotAvailable {
		return fmt.Errorf("%s: %w: %w", op, ErrLockTimeout, err)
	}
	if pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, ErrLockTimeout, err)
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsTransient reports whether err carries ErrLockTimeout or ErrUnavailable.
func IsTransient(err error) bool {
	return errors.Is(err, ErrLockTimeout) || errors.Is(err, ErrUnavailable)
}
