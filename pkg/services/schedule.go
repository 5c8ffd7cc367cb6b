package services

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relaydata/relay-engine/pkg/apperrors"
	"github.com/relaydata/relay-engine/pkg/models"
	"github.com/relaydata/relay-engine/pkg/repositories"
	"github.com/relaydata/relay-engine/pkg/schedule"
)

// UpdateScheduleRequest carries the editable recurrence fields. DaysOfWeek
// uses ISO numbering in a comma-separated string ("1,3,5" is Mon, Wed,
// Fri); DayOfMonth applies to monthly schedules only.
type UpdateScheduleRequest struct {
	Frequency  string `json:"frequency"`
	TimeOfDay  string `json:"time_of_day"`
	Timezone   string `json:"timezone"`
	DaysOfWeek string `json:"days_of_week"`
	DayOfMonth int    `json:"day_of_month"`
	IsActive   bool   `json:"is_active"`
}

// ScheduleService manages per-connection sync schedules.
type ScheduleService interface {
	// Get retrieves the schedule for one connection.
	Get(ctx context.Context, connectionID uuid.UUID) (*models.Schedule, error)

	// Update replaces the recurrence and recomputes next_run immediately,
	// so a schedule moved earlier takes effect without waiting for the
	// old next_run to pass.
	Update(ctx context.Context, connectionID uuid.UUID, req *UpdateScheduleRequest) (*models.Schedule, error)
}

type scheduleService struct {
	repo   repositories.ScheduleRepository
	logger *zap.Logger
}

// NewScheduleService creates a ScheduleService.
func NewScheduleService(repo repositories.ScheduleRepository, logger *zap.Logger) ScheduleService {
	return &scheduleService{repo: repo, logger: logger.Named("schedules")}
}

func (s *scheduleService) Get(ctx context.Context, connectionID uuid.UUID) (*models.Schedule, error) {
	return s.repo.GetByConnectionID(ctx, connectionID)
}

func (s *scheduleService) Update(ctx context.Context, connectionID uuid.UUID, req *UpdateScheduleRequest) (*models.Schedule, error) {
	sched, err := s.repo.GetByConnectionID(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	rec, err := schedule.ParseRecurrence(req.Frequency, req.TimeOfDay, req.Timezone, req.DaysOfWeek, req.DayOfMonth)
	if err != nil {
		return nil, apperrors.NewSyncError(apperrors.CategoryConfig, err)
	}

	sched.Recurrence = rec
	sched.IsActive = req.IsActive
	if req.IsActive {
		now := timeNow()
		lastRun := sched.LastRun
		if lastRun != nil && lastRun.Before(now) {
			// A stale anchor would compute a next_run already in the
			// past and replay the backlog; next_run must stay future.
			lastRun = nil
		}
		next := schedule.NextRun(rec, lastRun, now)
		sched.NextRun = &next
	} else {
		sched.NextRun = nil
	}

	if err := s.repo.Update(ctx, sched); err != nil {
		return nil, err
	}

	s.logger.Info("schedule updated",
		zap.String("connection_id", connectionID.String()),
		zap.String("frequency", string(rec.Frequency)),
		zap.Bool("is_active", sched.IsActive))
	return sched, nil
}

var _ ScheduleService = (*scheduleService)(nil)
