package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/verbatimhq/verbatim-api/internal/api/shared"
	"github.com/verbatimhq/verbatim-api/internal/circuit"
	"github.com/verbatimhq/verbatim-api/internal/jobs"
	"github.com/verbatimhq/verbatim-api/internal/platform/logger"
	"github.com/verbatimhq/verbatim-api/internal/quota"
)

// JobResponse represents the response data for a background job.
type JobResponse struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Priority    int       `json:"priority"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AdminHandler handles the authenticated admin surface: job inspection,
// queue maintenance and subsystem status.
type AdminHandler struct {
	queue   *jobs.Queue
	breaker *circuit.Breaker
	quotas  *quota.Manager
	logger  *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(
	queue *jobs.Queue,
	breaker *circuit.Breaker,
	quotas *quota.Manager,
	logger *slog.Logger,
) *AdminHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for AdminHandler")
	}

	return &AdminHandler{
		queue:   queue,
		breaker: breaker,
		quotas:  quotas,
		logger:  logger.With(slog.String("component", "admin_handler")),
	}
}

// ListJobs handles GET /api/admin/jobs?status= requests.
func (h *AdminHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	status := jobs.Status(r.URL.Query().Get("status"))
	if status == "" {
		status = jobs.StatusPending
	}

	list, err := h.queue.GetJobsByStatus(r.Context(), status)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	response := make([]JobResponse, 0, len(list))
	for _, job := range list {
		response = append(response, jobToResponse(job))
	}

	log.Debug("listed jobs", slog.String("status", string(status)), slog.Int("count", len(response)))
	shared.RespondWithJSON(w, r, http.StatusOK, response)
}

// GetJob handles GET /api/admin/jobs/{id} requests.
func (h *AdminHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	job, err := h.queue.GetJob(r.Context(), id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, jobToResponse(job))
}

// CancelJob handles POST /api/admin/jobs/{id}/cancel requests. Only
// pending jobs can be cancelled; running and terminal jobs return 409.
func (h *AdminHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	cancelled, err := h.queue.CancelJob(r.Context(), id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	if !cancelled {
		shared.RespondWithError(w, r, http.StatusConflict, "Job is not pending")
		return
	}

	log.Info("job cancelled via admin API", slog.String("job_id", id.String()))
	shared.RespondWithJSON(w, r, http.StatusOK, map[string]string{"status": "cancelled"})
}

// RunJobs handles POST /api/admin/jobs/run requests. It forces one queue
// processing tick and returns the tick summary.
func (h *AdminHandler) RunJobs(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	log.Info("queue tick forced via admin API")

	summary, err := h.queue.ProcessPendingJobs(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), "Failed to process pending jobs", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, summary)
}

// QueueStats handles GET /api/admin/queue/stats requests.
func (h *AdminHandler) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), "Failed to collect queue stats", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, stats)
}

// CircuitStatus handles GET /api/admin/circuit requests.
func (h *AdminHandler) CircuitStatus(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, h.breaker.Status())
}

// QuotaStatus handles GET /api/admin/quota/{userID} requests.
func (h *AdminHandler) QuotaStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseIDParam(w, r, "userID")
	if !ok {
		return
	}

	status, err := h.quotas.GetQuotaStatus(r.Context(), userID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), "Failed to compute quota status", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, status)
}

// parseIDParam extracts and parses a UUID path parameter. It writes a 400
// response and returns false when the parameter is missing or malformed.
func parseIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid ID format")
		return uuid.Nil, false
	}
	return id, true
}

func jobToResponse(job *jobs.Job) JobResponse {
	return JobResponse{
		ID:          job.ID.String(),
		Type:        job.Type,
		Priority:    job.Priority,
		ScheduledAt: job.ScheduledAt,
		Status:      string(job.Status),
		Attempts:    job.Attempts,
		LastError:   job.LastError,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}
}
