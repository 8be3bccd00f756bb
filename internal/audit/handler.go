package audit

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bissquit/incident-tracker/internal/domain"
	"github.com/bissquit/incident-tracker/internal/pkg/ctxlog"
	"github.com/bissquit/incident-tracker/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Handler serves the audit log over HTTP.
type Handler struct {
	reader Reader
}

// NewHandler creates a new audit handler.
func NewHandler(reader Reader) *Handler {
	return &Handler{reader: reader}
}

// RegisterRoutes registers audit routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/audit", h.List)
}

// List handles GET /audit.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.AuditFilter{
		EntityType: q.Get("entity_type"),
		EntityKey:  q.Get("entity_key"),
		Limit:      defaultListLimit,
	}

	if v := q.Get("action"); v != "" {
		action := domain.AuditAction(strings.ToUpper(v))
		if !action.IsValid() {
			httputil.Error(w, http.StatusBadRequest, "invalid action")
			return
		}
		filter.Action = &action
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 || limit > maxListLimit {
			httputil.Error(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		filter.Limit = limit
	}

	entries, err := h.reader.ListAudit(r.Context(), filter)
	if err != nil {
		ctxlog.FromContext(r.Context()).Error("failed to list audit entries", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}
	if entries == nil {
		entries = []*domain.AuditLogEntry{}
	}

	httputil.Success(w, http.StatusOK, entries)
}
