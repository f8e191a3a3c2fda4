// Package tracking appends freeform client-side analytics events to a
// rotating log file.
package tracking

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config configures the event log.
type Config struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Event is a freeform page event posted by the marketing site.
type Event struct {
	Event     string         `json:"event" validate:"required,max=100"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp" validate:"max=64"`
	Page      string         `json:"page" validate:"max=2048"`
}

// Tracker writes one line per event: "<RFC3339 UTC>: <event JSON>".
type Tracker struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

// New creates a tracker writing to a lumberjack-rotated file.
func New(cfg Config) *Tracker {
	if cfg.Path == "" {
		cfg.Path = "analytics.log"
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 50
	}

	return NewWithWriter(&lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	})
}

// NewWithWriter creates a tracker over an arbitrary writer.
func NewWithWriter(w io.Writer) *Tracker {
	return &Tracker{w: w, now: time.Now}
}

// Record appends the event to the log.
func (t *Tracker) Record(e Event) error {
	if e.Data == nil {
		e.Data = map[string]any{}
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	line := fmt.Sprintf("%s: %s\n", t.now().UTC().Format(time.RFC3339), payload)
	if _, err := io.WriteString(t.w, line); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Close closes the underlying file, if any.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
