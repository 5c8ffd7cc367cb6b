package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/relaydata/relay-engine/pkg/apperrors"
	"github.com/relaydata/relay-engine/pkg/database"
	"github.com/relaydata/relay-engine/pkg/models"
)

// JobRepository defines data access for sync jobs.
type JobRepository interface {
	// Create inserts a new pending job. Returns ErrJobAlreadyActive when
	// the connection already has a pending or running job; the partial
	// unique index on sync_jobs is the authority, so concurrent creates
	// cannot both win.
	Create(ctx context.Context, job *models.SyncJob) error

	// GetByID retrieves a job.
	GetByID(ctx context.Context, id uuid.UUID) (*models.SyncJob, error)

	// List retrieves jobs newest first, optionally filtered by connection,
	// limited to limit rows.
	List(ctx context.Context, connectionID *uuid.UUID, limit int) ([]*models.SyncJob, error)

	// MarkRunning transitions pending -> running and stamps started_at.
	MarkRunning(ctx context.Context, id uuid.UUID) error

	// Complete transitions running -> completed with final counters.
	Complete(ctx context.Context, id uuid.UUID, processed, skipped int64) error

	// Fail transitions pending/running -> failed with a sanitized message.
	Fail(ctx context.Context, id uuid.UUID, errorMessage string) error

	// UpdateProgress updates the running counters without changing status.
	UpdateProgress(ctx context.Context, id uuid.UUID, processed, skipped int64) error

	// FailOrphans fails jobs stuck in pending/running longer than
	// olderThan. Returns the failed jobs for logging.
	FailOrphans(ctx context.Context, olderThan time.Duration, message string) ([]*models.SyncJob, error)
}

type jobRepository struct {
	db *database.DB
}

// NewJobRepository creates a PostgreSQL-backed job repository.
func NewJobRepository(db *database.DB) JobRepository {
	return &jobRepository{db: db}
}

const jobColumns = `id, connection_id, status, job_type, trigger_type, records_processed,
	records_skipped, error_message, started_at, completed_at, created_at, updated_at`

func scanJob(row pgx.Row) (*models.SyncJob, error) {
	var j models.SyncJob
	var errMsg *string
	err := row.Scan(&j.ID, &j.ConnectionID, &j.Status, &j.JobType, &j.TriggerType,
		&j.RecordsProcessed, &j.RecordsSkipped, &errMsg, &j.StartedAt, &j.CompletedAt,
		&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	if errMsg != nil {
		j.ErrorMessage = *errMsg
	}
	return &j, nil
}

func (r *jobRepository) Create(ctx context.Context, job *models.SyncJob) error {
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}

	query := `
		INSERT INTO sync_jobs (connection_id, status, job_type, trigger_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	err := r.db.Pool.QueryRow(ctx, query,
		job.ConnectionID,
		job.Status,
		job.JobType,
		job.TriggerType,
		job.CreatedAt,
		job.UpdatedAt,
	).Scan(&job.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrJobAlreadyActive
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (r *jobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SyncJob, error) {
	query := `SELECT ` + jobColumns + ` FROM sync_jobs WHERE id = $1`
	return scanJob(r.db.Pool.QueryRow(ctx, query, id))
}

func (r *jobRepository) List(ctx context.Context, connectionID *uuid.UUID, limit int) ([]*models.SyncJob, error) {
	if limit < 1 {
		limit = 50
	}

	query := `SELECT ` + jobColumns + ` FROM sync_jobs`
	args := []any{limit}
	if connectionID != nil {
		query += ` WHERE connection_id = $2`
		args = append(args, *connectionID)
	}
	query += ` ORDER BY created_at DESC LIMIT $1`

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.SyncJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

func (r *jobRepository) MarkRunning(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE sync_jobs
		SET status = 'running', started_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'pending'`

	tag, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark job running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.transitionConflict(ctx, id)
	}
	return nil
}

func (r *jobRepository) Complete(ctx context.Context, id uuid.UUID, processed, skipped int64) error {
	query := `
		UPDATE sync_jobs
		SET status = 'completed', records_processed = $2, records_skipped = $3,
			completed_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'running'`

	tag, err := r.db.Pool.Exec(ctx, query, id, processed, skipped)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.transitionConflict(ctx, id)
	}
	return nil
}

func (r *jobRepository) Fail(ctx context.Context, id uuid.UUID, errorMessage string) error {
	query := `
		UPDATE sync_jobs
		SET status = 'failed', error_message = $2, completed_at = now(), updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'running')`

	tag, err := r.db.Pool.Exec(ctx, query, id, errorMessage)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.transitionConflict(ctx, id)
	}
	return nil
}

func (r *jobRepository) UpdateProgress(ctx context.Context, id uuid.UUID, processed, skipped int64) error {
	query := `
		UPDATE sync_jobs
		SET records_processed = $2, records_skipped = $3, updated_at = now()
		WHERE id = $1 AND status = 'running'`

	if _, err := r.db.Pool.Exec(ctx, query, id, processed, skipped); err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return nil
}

// transitionConflict distinguishes a missing job from one already in a
// terminal state.
func (r *jobRepository) transitionConflict(ctx context.Context, id uuid.UUID) error {
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return apperrors.ErrJobTerminal
}

func (r *jobRepository) FailOrphans(ctx context.Context, olderThan time.Duration, message string) ([]*models.SyncJob, error) {
	query := `
		UPDATE sync_jobs
		SET status = 'failed', error_message = $2, completed_at = now(), updated_at = now()
		WHERE status IN ('pending', 'running') AND updated_at < now() - $1::interval
		RETURNING ` + jobColumns

	interval := fmt.Sprintf("%d seconds", int(olderThan.Seconds()))
	rows, err := r.db.Pool.Query(ctx, query, interval, message)
	if err != nil {
		return nil, fmt.Errorf("fail orphan jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.SyncJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orphan jobs: %w", err)
	}
	return jobs, nil
}
