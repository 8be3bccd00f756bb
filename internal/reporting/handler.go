package reporting

import (
	"net/http"

	"github.com/bissquit/incident-tracker/internal/pkg/ctxlog"
	"github.com/bissquit/incident-tracker/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
)

// Handler handles HTTP requests for reports.
type Handler struct {
	service *Service
}

// NewHandler creates a new reporting handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers report routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/reports", func(r chi.Router) {
		r.Get("/stats", h.Stats)
		r.Get("/resolution-time", h.ResolutionTime)
		r.Get("/priority", h.Priority)
	})
}

// Stats handles GET /reports/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.IncidentStats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, stats)
}

// ResolutionTime handles GET /reports/resolution-time.
func (h *Handler) ResolutionTime(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.AvgResolutionTimeByType(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, rows)
}

// Priority handles GET /reports/priority.
func (h *Handler) Priority(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.IncidentsByPriority(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, rows)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	ctxlog.FromContext(r.Context()).Error("report query failed", "path", r.URL.Path, "error", err)
	httputil.Error(w, http.StatusInternalServerError, "failed to build report")
}
