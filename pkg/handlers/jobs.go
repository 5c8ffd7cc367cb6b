package handlers

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relaydata/relay-engine/pkg/models"
	"github.com/relaydata/relay-engine/pkg/services"
)

// JobHandler serves sync job endpoints.
type JobHandler struct {
	jobs   services.JobService
	logger *zap.Logger
}

// NewJobHandler creates a JobHandler.
func NewJobHandler(jobs services.JobService, logger *zap.Logger) *JobHandler {
	return &JobHandler{jobs: jobs, logger: logger.Named("jobs_handler")}
}

// RegisterRoutes registers the job routes on the given mux.
func (h *JobHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/connections/{id}/sync", h.Trigger)
	mux.HandleFunc("POST /api/sync/trigger-all", h.TriggerAll)
	mux.HandleFunc("GET /api/jobs", h.List)
	mux.HandleFunc("GET /api/jobs/{id}", h.Get)
}

// Trigger handles POST /api/connections/{id}/sync.
func (h *JobHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	job, err := h.jobs.Trigger(r.Context(), id, models.TriggerTypeManual)
	if err != nil {
		serviceError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusAccepted, job); err != nil {
		h.logger.Error("failed to encode job", zap.Error(err))
	}
}

// TriggerAll handles POST /api/sync/trigger-all.
func (h *JobHandler) TriggerAll(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobs.TriggerAll(r.Context())
	if err != nil {
		serviceError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusAccepted, map[string]any{
		"triggered": len(jobs),
		"jobs":      jobs,
	}); err != nil {
		h.logger.Error("failed to encode jobs", zap.Error(err))
	}
}

// List handles GET /api/jobs?connection_id=&limit=.
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	var connectionID *uuid.UUID
	if raw := r.URL.Query().Get("connection_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			_ = ErrorResponse(w, http.StatusBadRequest, "invalid_id", "invalid connection_id")
			return
		}
		connectionID = &id
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	jobs, err := h.jobs.List(r.Context(), connectionID, limit)
	if err != nil {
		serviceError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs}); err != nil {
		h.logger.Error("failed to encode jobs", zap.Error(err))
	}
}

// Get handles GET /api/jobs/{id}.
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	job, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		serviceError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, job); err != nil {
		h.logger.Error("failed to encode job", zap.Error(err))
	}
}
