package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/bissquit/newsletter/internal/pkg/ctxlog"
)

const retryAfterSeconds = "1"

// ErrorMapping maps a sentinel error to a status code and client message.
type ErrorMapping struct {
	Error   error
	Status  int
	Message string // defaults to the sentinel's text
}

// HandleError writes the response for the first mapping matching err.
// Unmapped errors are logged and answered with a generic 500. 503 responses
// carry a Retry-After hint.
func HandleError(ctx context.Context, w http.ResponseWriter, err error, mappings []ErrorMapping) {
	log := ctxlog.FromContext(ctx)

	m, ok := lookup(err, mappings)
	if !ok {
		log.Error("internal error", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	if m.Status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", retryAfterSeconds)
		log.Warn("transient failure", "error", err)
	} else {
		log.Debug("request failed", "status", m.Status, "error", err)
	}

	msg := m.Message
	if msg == "" {
		msg = m.Error.Error()
	}
	Error(w, m.Status, msg)
}

func lookup(err error, mappings []ErrorMapping) (ErrorMapping, bool) {
	for _, m := range mappings {
		if errors.Is(err, m.Error) {
			return m, true
		}
	}
	return ErrorMapping{}, false
}
