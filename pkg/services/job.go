package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relaydata/relay-engine/pkg/apperrors"
	"github.com/relaydata/relay-engine/pkg/config"
	"github.com/relaydata/relay-engine/pkg/models"
	"github.com/relaydata/relay-engine/pkg/repositories"
	"github.com/relaydata/relay-engine/pkg/services/syncqueue"
)

// JobService creates and tracks sync jobs. Creation and execution are
// decoupled: the database row is the source of truth, the in-process queue
// only drives execution.
type JobService interface {
	// Trigger creates a pending job for the connection and enqueues it.
	// Returns ErrJobAlreadyActive when a pending or running job exists.
	Trigger(ctx context.Context, connectionID uuid.UUID, trigger models.TriggerType) (*models.SyncJob, error)

	// TriggerAll triggers a manual sync for every active connection and
	// returns the jobs that were actually created. Connections with an
	// active job are skipped, not failed.
	TriggerAll(ctx context.Context) ([]*models.SyncJob, error)

	// Get retrieves one job.
	Get(ctx context.Context, id uuid.UUID) (*models.SyncJob, error)

	// List retrieves recent jobs, optionally filtered by connection.
	List(ctx context.Context, connectionID *uuid.UUID, limit int) ([]*models.SyncJob, error)

	// SweepOrphans fails jobs left pending or running longer than the
	// configured orphan timeout. Called at startup and from the
	// scheduler, it cleans up after crashes that never reached a
	// terminal state.
	SweepOrphans(ctx context.Context) error
}

type jobService struct {
	jobs        repositories.JobRepository
	connections repositories.ConnectionRepository
	queue       *syncqueue.Queue
	executor    *Executor
	cfg         config.SyncConfig
	logger      *zap.Logger
}

// NewJobService creates a JobService.
func NewJobService(
	jobs repositories.JobRepository,
	connections repositories.ConnectionRepository,
	queue *syncqueue.Queue,
	executor *Executor,
	cfg config.SyncConfig,
	logger *zap.Logger,
) JobService {
	return &jobService{
		jobs:        jobs,
		connections: connections,
		queue:       queue,
		executor:    executor,
		cfg:         cfg,
		logger:      logger.Named("jobs"),
	}
}

func (s *jobService) Trigger(ctx context.Context, connectionID uuid.UUID, trigger models.TriggerType) (*models.SyncJob, error) {
	conn, _, err := s.connections.GetByID(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if !conn.IsActive {
		return nil, apperrors.ErrConnectionInactive
	}

	job := &models.SyncJob{
		ConnectionID: connectionID,
		Status:       models.JobStatusPending,
		JobType:      models.JobTypeFullSync,
		TriggerType:  trigger,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	s.enqueue(job)

	s.logger.Info("job triggered",
		zap.String("job_id", job.ID.String()),
		zap.String("connection_id", connectionID.String()),
		zap.String("trigger", string(trigger)))
	return job, nil
}

func (s *jobService) TriggerAll(ctx context.Context) ([]*models.SyncJob, error) {
	conns, err := s.connections.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	var jobs []*models.SyncJob
	for _, conn := range conns {
		job, err := s.Trigger(ctx, conn.ID, models.TriggerTypeManual)
		if err != nil {
			if errors.Is(err, apperrors.ErrJobAlreadyActive) {
				s.logger.Debug("connection already syncing, skipped",
					zap.String("connection_id", conn.ID.String()))
				continue
			}
			return jobs, fmt.Errorf("trigger connection %s: %w", conn.ID, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (s *jobService) Get(ctx context.Context, id uuid.UUID) (*models.SyncJob, error) {
	return s.jobs.GetByID(ctx, id)
}

func (s *jobService) List(ctx context.Context, connectionID *uuid.UUID, limit int) ([]*models.SyncJob, error) {
	return s.jobs.List(ctx, connectionID, limit)
}

func (s *jobService) SweepOrphans(ctx context.Context) error {
	failed, err := s.jobs.FailOrphans(ctx, s.cfg.OrphanTimeout(),
		"job abandoned: engine restarted or executor stalled")
	if err != nil {
		return err
	}
	for _, job := range failed {
		s.logger.Warn("failed orphaned job",
			zap.String("job_id", job.ID.String()),
			zap.String("connection_id", job.ConnectionID.String()))
	}
	return nil
}

// enqueue hands the job to the worker queue. The queue refuses duplicates
// per connection, but the database index already guarantees only one
// active job exists, so a refusal here means a task is genuinely running.
func (s *jobService) enqueue(job *models.SyncJob) {
	task := &syncTask{
		jobID:        job.ID,
		connectionID: job.ConnectionID,
		executor:     s.executor,
	}
	if !s.queue.Enqueue(task) {
		s.logger.Warn("queue refused job",
			zap.String("job_id", job.ID.String()),
			zap.String("connection_id", job.ConnectionID.String()))
	}
}

// syncTask adapts one job to the queue's Task contract.
type syncTask struct {
	jobID        uuid.UUID
	connectionID uuid.UUID
	executor     *Executor
}

func (t *syncTask) ID() string { return t.jobID.String() }

func (t *syncTask) Name() string { return "sync " + t.connectionID.String() }

func (t *syncTask) ConnectionID() uuid.UUID { return t.connectionID }

func (t *syncTask) Execute(ctx context.Context) error {
	return t.executor.Run(ctx, t.jobID)
}

var _ syncqueue.Task = (*syncTask)(nil)
var _ JobService = (*jobService)(nil)
