package subscribers

import (
	"net/http"

	"github.com/bissquit/newsletter/internal/domain"
	"github.com/bissquit/newsletter/internal/pkg/ctxlog"
	"github.com/bissquit/newsletter/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrSubscriberNotFound, Status: http.StatusNotFound, Message: "subscriber not found"},
	{Error: ErrInvalidToken, Status: http.StatusBadRequest, Message: "invalid unsubscribe token"},
	{Error: ErrInvalidFormat, Status: http.StatusBadRequest},
	{Error: ErrLockTimeout, Status: http.StatusServiceUnavailable, Message: "service busy, please try again"},
	{Error: ErrStoreUnavailable, Status: http.StatusServiceUnavailable, Message: "service unavailable, please try again"},
}

// Handler handles HTTP requests for the subscribers module.
type Handler struct {
	service *Service
}

// NewHandler creates a new subscribers handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterPublicRoutes registers routes reachable from subscriber emails.
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.Get("/unsubscribe", h.Unsubscribe)
}

// RegisterAdminRoutes registers routes that require the admin token.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Get("/export", h.Export)
	r.Get("/campaigns", h.ListCampaigns)
}

// ExportResponse is the JSON export payload.
type ExportResponse struct {
	Subscribers []domain.Subscriber `json:"subscribers"`
	Count       int                 `json:"count"`
}

// CSVExportResponse is the CSV export payload wrapped in JSON.
type CSVExportResponse struct {
	CSVData string `json:"csv_data"`
	Count   int    `json:"count"`
}

// UnsubscribeResponse is returned after a successful unsubscribe.
type UnsubscribeResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// CampaignsResponse lists campaigns.
type CampaignsResponse struct {
	Campaigns []domain.Campaign `json:"campaigns"`
	Count     int               `json:"count"`
}

// Export handles GET /export.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = FormatJSON
	}
	if format != FormatJSON && format != FormatCSV {
		httputil.HandleError(r.Context(), w, ErrInvalidFormat, errorMappings)
		return
	}

	subs, err := h.service.Export(r.Context(), r.URL.Query().Get("campaign"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	if format == FormatJSON {
		httputil.JSON(w, http.StatusOK, ExportResponse{Subscribers: subs, Count: len(subs)})
		return
	}

	data, err := EncodeCSV(subs)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.JSON(w, http.StatusOK, CSVExportResponse{CSVData: data, Count: len(subs)})
}

// Unsubscribe handles GET /unsubscribe.
func (h *Handler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")

	if err := h.service.Unsubscribe(r.Context(), token); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	ctxlog.FromContext(r.Context()).Info("subscriber unsubscribed", "subscriber_id", token)
	httputil.JSON(w, http.StatusOK, UnsubscribeResponse{
		Success: true,
		Message: "You have been unsubscribed. Sorry to see you go!",
	})
}

// ListCampaigns handles GET /campaigns.
func (h *Handler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := h.service.ListCampaigns(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.JSON(w, http.StatusOK, CampaignsResponse{Campaigns: campaigns, Count: len(campaigns)})
}
