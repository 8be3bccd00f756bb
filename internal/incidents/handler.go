package incidents

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/bissquit/incident-tracker/internal/domain"
	"github.com/bissquit/incident-tracker/internal/pkg/apperr"
	"github.com/bissquit/incident-tracker/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: apperr.ErrMissingField, Status: http.StatusBadRequest},
	{Error: apperr.ErrNotFound, Status: http.StatusNotFound},
	{Error: apperr.ErrAlreadyClosed, Status: http.StatusBadRequest},
	{Error: apperr.ErrAlreadyAssigned, Status: http.StatusConflict},
	{Error: apperr.ErrInvalidState, Status: http.StatusConflict},
	{Error: apperr.ErrPersistFailed, Status: http.StatusInternalServerError, Message: "failed to persist incident"},
}

// Handler handles HTTP requests for the incidents module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new incidents handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterReadRoutes registers read-only incident routes.
func (h *Handler) RegisterReadRoutes(r chi.Router) {
	r.Get("/incidents", h.ListIncidents)
	r.Get("/incidents/{id}", h.GetIncident)
}

// RegisterWriteRoutes registers mutating incident routes.
func (h *Handler) RegisterWriteRoutes(r chi.Router) {
	r.Post("/incidents", h.CreateIncident)
	r.Post("/incidents/{id}/close", h.CloseIncident)
	r.Post("/incidents/{id}/reopen", h.ReopenIncident)
	r.Post("/incidents/{id}/assign", h.AssignIncident)
}

// CreateIncidentRequest represents request body for creating an incident.
// Presence of id, title, description and type is checked by the service.
type CreateIncidentRequest struct {
	ID          string  `json:"id" validate:"max=128"`
	Title       string  `json:"title" validate:"max=500"`
	Description string  `json:"description" validate:"max=10000"`
	Type        string  `json:"type" validate:"max=64"`
	CustomerID  *string `json:"customer_id" validate:"omitempty,max=128"`
}

// AssignIncidentRequest represents request body for assigning an incident.
type AssignIncidentRequest struct {
	UserID string `json:"user_id" validate:"max=128"`
}

// CreateIncident handles POST /incidents.
func (h *Handler) CreateIncident(w http.ResponseWriter, r *http.Request) {
	var req CreateIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	result, err := h.service.CreateIncident(r.Context(), CreateIncidentInput{
		ID:          req.ID,
		Title:       req.Title,
		Description: req.Description,
		Type:        domain.IncidentType(req.Type),
		CustomerID:  req.CustomerID,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	status := http.StatusCreated
	if !result.Created {
		status = http.StatusOK
	}
	httputil.Success(w, status, result)
}

// GetIncident handles GET /incidents/{id}.
func (h *Handler) GetIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	incident, err := h.service.GetIncident(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, incident)
}

// ListIncidents handles GET /incidents.
func (h *Handler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.IncidentFilter{Title: q.Get("title")}

	if v := q.Get("min_priority"); v != "" {
		p, ok := domain.ParsePriority(v)
		if !ok {
			httputil.Error(w, http.StatusBadRequest, "invalid min_priority")
			return
		}
		filter.MinPriority = &p
	}

	if v := q.Get("status"); v != "" {
		status := domain.IncidentStatus(v)
		if !status.IsValid() {
			httputil.Error(w, http.StatusBadRequest, "invalid status")
			return
		}
		filter.Status = &status
	}

	var ok bool
	if filter.Limit, ok = parseNonNegative(q.Get("limit")); !ok {
		httputil.Error(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if filter.Offset, ok = parseNonNegative(q.Get("offset")); !ok {
		httputil.Error(w, http.StatusBadRequest, "invalid offset")
		return
	}

	incidents, err := h.service.ListIncidents(r.Context(), filter)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, incidents)
}

// CloseIncident handles POST /incidents/{id}/close.
func (h *Handler) CloseIncident(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.CloseIncident(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, result)
}

// ReopenIncident handles POST /incidents/{id}/reopen.
func (h *Handler) ReopenIncident(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.ReopenIncident(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, result)
}

// AssignIncident handles POST /incidents/{id}/assign.
func (h *Handler) AssignIncident(w http.ResponseWriter, r *http.Request) {
	var req AssignIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	if err := h.service.AssignIncident(r.Context(), chi.URLParam(r, "id"), req.UserID); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func parseNonNegative(s string) (int, bool) {
	if s == "" {
		return 0, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
