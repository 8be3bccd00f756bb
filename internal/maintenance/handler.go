package maintenance

import (
	"net/http"
	"time"

	"github.com/bissquit/incident-tracker/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"
)

// HandlerConfig contains handler configuration.
type HandlerConfig struct {
	Tenant string
	// MinInterval is the minimum time between accepted manual triggers.
	MinInterval time.Duration
}

// Handler handles HTTP requests for the maintenance job.
type Handler struct {
	job     *Job
	tenant  string
	limiter *rate.Limiter
}

// NewHandler creates a new maintenance handler.
func NewHandler(job *Job, cfg HandlerConfig) *Handler {
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	return &Handler{
		job:     job,
		tenant:  cfg.Tenant,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// RegisterRoutes registers maintenance routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/jobs/maintenance", h.TriggerJob)
	r.Get("/jobs/maintenance", h.LastRun)
}

// TriggerJob handles POST /jobs/maintenance.
func (h *Handler) TriggerJob(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.Allow() {
		httputil.Error(w, http.StatusTooManyRequests, "maintenance job triggered too often")
		return
	}

	ack := h.job.Trigger(r.Context(), h.tenant)
	httputil.Success(w, http.StatusAccepted, ack)
}

// LastRun handles GET /jobs/maintenance.
func (h *Handler) LastRun(w http.ResponseWriter, r *http.Request) {
	result, ok := h.job.LastResult()
	if !ok {
		httputil.Error(w, http.StatusNotFound, "maintenance job has not completed yet")
		return
	}
	httputil.Success(w, http.StatusOK, result)
}
