package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/relaydata/relay-engine/pkg/apperrors"
	"github.com/relaydata/relay-engine/pkg/metrics"
	"github.com/relaydata/relay-engine/pkg/models"
	"github.com/relaydata/relay-engine/pkg/repositories"
	"github.com/relaydata/relay-engine/pkg/schedule"
)

// Scheduler polls for due schedules and triggers scheduled syncs. It is
// the only component that advances next_run, so a missed tick delays a
// sync rather than dropping it: the schedule stays due until triggered.
type Scheduler struct {
	schedules repositories.ScheduleRepository
	jobs      JobService
	metrics   *metrics.Metrics
	tick      time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewScheduler creates a Scheduler polling at the given interval.
func NewScheduler(
	schedules repositories.ScheduleRepository,
	jobs JobService,
	m *metrics.Metrics,
	tick time.Duration,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		schedules: schedules,
		jobs:      jobs,
		metrics:   m,
		tick:      tick,
		now:       time.Now,
		logger:    logger.Named("scheduler"),
	}
}

// Run blocks until ctx is cancelled, firing one poll per tick. The first
// poll happens immediately so due work is not delayed a full interval
// after startup.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started", zap.Duration("tick", s.tick))

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

// poll triggers every due schedule. Failures on one schedule never block
// the rest.
func (s *Scheduler) poll(ctx context.Context) {
	s.metrics.SchedulerTicks.Inc()
	now := s.now()

	due, err := s.schedules.ListDue(ctx, now)
	if err != nil {
		s.logger.Error("failed to list due schedules", zap.Error(err))
		return
	}

	for _, sched := range due {
		s.fire(ctx, sched, now)
	}
}

func (s *Scheduler) fire(ctx context.Context, sched *models.Schedule, now time.Time) {
	log := s.logger.With(
		zap.String("schedule_id", sched.ID.String()),
		zap.String("connection_id", sched.ConnectionID.String()))

	_, err := s.jobs.Trigger(ctx, sched.ConnectionID, models.TriggerTypeScheduled)
	switch {
	case err == nil:
		log.Info("scheduled sync triggered")
	case errors.Is(err, apperrors.ErrJobAlreadyActive):
		// The previous sync is still running. Advance next_run anyway so
		// the scheduler does not hammer the connection every tick.
		log.Info("previous sync still active, deferring to next occurrence")
	case errors.Is(err, apperrors.ErrConnectionInactive), errors.Is(err, apperrors.ErrNotFound):
		log.Warn("schedule refers to unusable connection", zap.Error(err))
	default:
		log.Error("failed to trigger scheduled sync", zap.Error(err))
		return
	}

	// next_run is computed from now, not from the stored next_run, so a
	// backlog of missed occurrences collapses into a single sync.
	next := schedule.NextRun(sched.Recurrence, &now, now)
	if err := s.schedules.MarkRun(ctx, sched.ID, now, next); err != nil {
		log.Error("failed to advance schedule", zap.Error(err))
		return
	}
	log.Debug("schedule advanced", zap.Time("next_run", next))
}
