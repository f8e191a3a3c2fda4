package tracking

import (
	"encoding/json"
	"net/http"

	"github.com/bissquit/newsletter/internal/pkg/ctxlog"
	"github.com/bissquit/newsletter/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const maxBodyBytes = 32 << 10

var trackedEvents = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "newsletter",
		Name:      "tracking_events_total",
		Help:      "Client analytics events by result",
	},
	[]string{"result"},
)

// Response is returned by POST /track.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Handler serves POST /track.
type Handler struct {
	tracker   *Tracker
	validator *validator.Validate
}

// NewHandler creates a new tracking handler.
func NewHandler(tracker *Tracker) *Handler {
	return &Handler{tracker: tracker, validator: validator.New()}
}

// RegisterRoutes registers the tracking endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/track", h.Track)
}

// Track handles POST /track.
func (h *Handler) Track(w http.ResponseWriter, r *http.Request) {
	var e Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&e); err != nil {
		trackedEvents.WithLabelValues("invalid").Inc()
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(e); err != nil {
		trackedEvents.WithLabelValues("invalid").Inc()
		httputil.ValidationError(w, err)
		return
	}

	if err := h.tracker.Record(e); err != nil {
		ctxlog.FromContext(r.Context()).Error("failed to record tracking event", "event", e.Event, "error", err)
		trackedEvents.WithLabelValues("failed").Inc()
		httputil.JSON(w, http.StatusOK, Response{Success: false, Message: "Event could not be recorded"})
		return
	}

	trackedEvents.WithLabelValues("recorded").Inc()
	httputil.JSON(w, http.StatusOK, Response{Success: true, Message: "Event tracked"})
}
