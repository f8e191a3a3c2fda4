package signup

import (
	"encoding/json"
	"net/http"

	"github.com/bissquit/newsletter/internal/pkg/ctxlog"
	"github.com/bissquit/newsletter/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 64 << 10

// Handler exposes the signup endpoints.
type Handler struct {
	service *Service
}

// NewHandler creates a new signup handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the signup endpoint and its aliases. The aliases
// keep forms working behind ad blockers that filter "/signup".
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/signup", h.Signup)
	r.Post("/register", h.Signup)
	r.Post("/contact", h.Signup)
}

// Signup handles POST /signup, /register and /contact.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if req.UserAgent == "" {
		req.UserAgent = r.UserAgent()
	}
	if req.Referrer == "" {
		req.Referrer = r.Referer()
	}

	clientIP := httputil.ClientIP(r)
	ctx := ctxlog.With(r.Context(), "client_ip", clientIP, "route", r.URL.Path)

	result := h.service.Submit(ctx, req, clientIP)

	status := statusFor(result.Outcome)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	httputil.JSON(w, status, result)
}

func statusFor(o Outcome) int {
	switch o {
	case OutcomeCreated, OutcomeAlreadySubscribed:
		return http.StatusOK
	case OutcomeInvalid:
		return http.StatusBadRequest
	case OutcomeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
