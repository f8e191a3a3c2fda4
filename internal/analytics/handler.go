package analytics

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/bissquit/newsletter/internal/pkg/ctxlog"
	"github.com/bissquit/newsletter/internal/pkg/httputil"
	"github.com/bissquit/newsletter/internal/pkg/postgres"
	"github.com/go-chi/chi/v5"
)

//go:embed templates/dashboard.html.tmpl
var dashboardTemplate string

// statsWindowDays is the window used by the public stats and the dashboard.
const statsWindowDays = 30

// dashboardRecentDays limits the daily signups table on the dashboard.
const dashboardRecentDays = 10

var errInvalidDays = errors.New("days must be an integer")

const msgUnavailable = "service unavailable, please try again"

var errorMappings = []httputil.ErrorMapping{
	{Error: postgres.ErrLockTimeout, Status: http.StatusServiceUnavailable, Message: msgUnavailable},
	{Error: postgres.ErrUnavailable, Status: http.StatusServiceUnavailable, Message: msgUnavailable},
}

// Handler handles HTTP requests for the analytics module.
type Handler struct {
	engine    *Engine
	dashboard *template.Template
	now       func() time.Time
}

// NewHandler creates a new analytics handler.
func NewHandler(engine *Engine) (*Handler, error) {
	tmpl, err := template.New("dashboard").Parse(dashboardTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse dashboard template: %w", err)
	}

	return &Handler{
		engine:    engine,
		dashboard: tmpl,
		now:       time.Now,
	}, nil
}

// RegisterPublicRoutes registers public analytics routes.
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.Get("/stats", h.Stats)
}

// RegisterAdminRoutes registers routes that require the admin token.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Get("/analytics", h.Analytics)
	r.Get("/admin", h.Dashboard)
}

// StatsResponse is the public subset of a snapshot.
type StatsResponse struct {
	TotalSubscribers int             `json:"total_subscribers"`
	LaunchCountdown  LaunchCountdown `json:"launch_countdown"`
	GrowthTrend      int             `json:"growth_trend"`
}

type dashboardData struct {
	Snapshot    *Snapshot
	RecentDaily []DailySignup
	DaysTracked int
	Token       string
	LaunchDate  string
	GeneratedAt string
}

// Analytics handles GET /analytics.
func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	days := DefaultWindowDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			httputil.ValidationError(w, errInvalidDays)
			return
		}
		days = n
	}

	snapshot, err := h.engine.Compute(r.Context(), days, h.now())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.JSON(w, http.StatusOK, snapshot)
}

// Stats handles GET /stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.engine.Compute(r.Context(), statsWindowDays, h.now())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.JSON(w, http.StatusOK, StatsResponse{
		TotalSubscribers: snapshot.TotalSubscribers,
		LaunchCountdown:  snapshot.LaunchCountdown,
		GrowthTrend:      len(snapshot.DailySignups),
	})
}

// Dashboard handles GET /admin.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	now := h.now().UTC()

	snapshot, err := h.engine.Compute(r.Context(), statsWindowDays, now)
	if err != nil {
		log := ctxlog.FromContext(r.Context())
		if postgres.IsTransient(err) {
			log.Warn("dashboard analytics unavailable", "error", err)
			w.Header().Set("Retry-After", "1")
			httputil.Text(w, http.StatusServiceUnavailable, msgUnavailable)
			return
		}
		log.Error("failed to compute dashboard analytics", "error", err)
		httputil.Text(w, http.StatusInternalServerError, "internal error")
		return
	}

	recent := snapshot.DailySignups
	if len(recent) > dashboardRecentDays {
		recent = recent[:dashboardRecentDays]
	}

	var buf bytes.Buffer
	err = h.dashboard.Execute(&buf, dashboardData{
		Snapshot:    snapshot,
		RecentDaily: recent,
		DaysTracked: len(snapshot.DailySignups),
		Token:       r.URL.Query().Get("token"),
		LaunchDate:  h.engine.Launch().Format(time.RFC1123),
		GeneratedAt: now.Format(time.RFC1123),
	})
	if err != nil {
		ctxlog.FromContext(r.Context()).Error("failed to render dashboard", "error", err)
		httputil.Text(w, http.StatusInternalServerError, "internal error")
		return
	}

	httputil.HTML(w, http.StatusOK, buf.Bytes())
}
