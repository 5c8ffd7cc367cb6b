package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/relaydata/relay-engine/pkg/models"
	"github.com/relaydata/relay-engine/pkg/services"
)

// ScheduleResponse flattens a schedule for the API; recurrence fields are
// rendered back into the wire shapes the update endpoint accepts.
type ScheduleResponse struct {
	ID           string  `json:"id"`
	ConnectionID string  `json:"connection_id"`
	Frequency    string  `json:"frequency"`
	TimeOfDay    string  `json:"time_of_day"`
	Timezone     string  `json:"timezone"`
	DaysOfWeek   string  `json:"days_of_week,omitempty"`
	DayOfMonth   int     `json:"day_of_month,omitempty"`
	IsActive     bool    `json:"is_active"`
	LastRun      *string `json:"last_run,omitempty"`
	NextRun      *string `json:"next_run,omitempty"`
}

func toScheduleResponse(s *models.Schedule) ScheduleResponse {
	resp := ScheduleResponse{
		ID:           s.ID.String(),
		ConnectionID: s.ConnectionID.String(),
		Frequency:    string(s.Recurrence.Frequency),
		TimeOfDay:    s.Recurrence.TimeOfDay(),
		Timezone:     s.Recurrence.Timezone(),
		DaysOfWeek:   s.Recurrence.DaysOfWeekString(),
		DayOfMonth:   s.Recurrence.DayOfMonth,
		IsActive:     s.IsActive,
	}
	if s.LastRun != nil {
		v := s.LastRun.UTC().Format(time.RFC3339)
		resp.LastRun = &v
	}
	if s.NextRun != nil {
		v := s.NextRun.UTC().Format(time.RFC3339)
		resp.NextRun = &v
	}
	return resp
}

// ScheduleHandler serves schedule endpoints.
type ScheduleHandler struct {
	schedules services.ScheduleService
	logger    *zap.Logger
}

// NewScheduleHandler creates a ScheduleHandler.
func NewScheduleHandler(schedules services.ScheduleService, logger *zap.Logger) *ScheduleHandler {
	return &ScheduleHandler{schedules: schedules, logger: logger.Named("schedules_handler")}
}

// RegisterRoutes registers the schedule routes on the given mux.
func (h *ScheduleHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/connections/{id}/schedule", h.Get)
	mux.HandleFunc("PUT /api/connections/{id}/schedule", h.Update)
}

// Get handles GET /api/connections/{id}/schedule.
func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	sched, err := h.schedules.Get(r.Context(), id)
	if err != nil {
		serviceError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, toScheduleResponse(sched)); err != nil {
		h.logger.Error("failed to encode schedule", zap.Error(err))
	}
}

// Update handles PUT /api/connections/{id}/schedule.
func (h *ScheduleHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req services.UpdateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	sched, err := h.schedules.Update(r.Context(), id, &req)
	if err != nil {
		serviceError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, toScheduleResponse(sched)); err != nil {
		h.logger.Error("failed to encode schedule", zap.Error(err))
	}
}
