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
	"github.com/relaydata/relay-engine/pkg/schedule"
)

// ScheduleRepository defines data access for per-connection schedules.
// Recurrence fields are stored flat (frequency, time_of_day, timezone,
// days_of_week, day_of_month) and parsed into schedule.Recurrence on read,
// so a row that was valid at write time fails loudly if a timezone is
// removed from the host's tzdata.
type ScheduleRepository interface {
	// Create inserts a schedule for a connection. Each connection has at
	// most one.
	Create(ctx context.Context, s *models.Schedule) error

	// GetByConnectionID retrieves the schedule for one connection.
	GetByConnectionID(ctx context.Context, connectionID uuid.UUID) (*models.Schedule, error)

	// Update replaces recurrence fields and recomputed next_run.
	Update(ctx context.Context, s *models.Schedule) error

	// ListDue retrieves active schedules whose next_run is at or before
	// now, for connections that are active.
	ListDue(ctx context.Context, now time.Time) ([]*models.Schedule, error)

	// MarkRun stamps last_run and the freshly computed next_run.
	MarkRun(ctx context.Context, id uuid.UUID, lastRun, nextRun time.Time) error
}

type scheduleRepository struct {
	db *database.DB
}

// NewScheduleRepository creates a PostgreSQL-backed schedule repository.
func NewScheduleRepository(db *database.DB) ScheduleRepository {
	return &scheduleRepository{db: db}
}

const scheduleColumns = `id, connection_id, frequency, time_of_day, timezone, days_of_week,
	day_of_month, is_active, last_run, next_run, created_at, updated_at`

func scanSchedule(row pgx.Row) (*models.Schedule, error) {
	var (
		s          models.Schedule
		frequency  string
		timeOfDay  string
		timezone   string
		daysOfWeek string
		dayOfMonth int
	)
	err := row.Scan(&s.ID, &s.ConnectionID, &frequency, &timeOfDay, &timezone, &daysOfWeek,
		&dayOfMonth, &s.IsActive, &s.LastRun, &s.NextRun, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan schedule: %w", err)
	}

	rec, err := schedule.ParseRecurrence(frequency, timeOfDay, timezone, daysOfWeek, dayOfMonth)
	if err != nil {
		return nil, fmt.Errorf("schedule %s has invalid recurrence: %w", s.ID, err)
	}
	s.Recurrence = rec
	return &s, nil
}

func (r *scheduleRepository) Create(ctx context.Context, s *models.Schedule) error {
	now := time.Now()
	s.CreatedAt = now
	s.UpdatedAt = now

	query := `
		INSERT INTO schedules (connection_id, frequency, time_of_day, timezone, days_of_week,
			day_of_month, is_active, next_run, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	err := r.db.Pool.QueryRow(ctx, query,
		s.ConnectionID,
		s.Recurrence.Frequency,
		s.Recurrence.TimeOfDay(),
		s.Recurrence.Timezone(),
		s.Recurrence.DaysOfWeekString(),
		s.Recurrence.DayOfMonth,
		s.IsActive,
		s.NextRun,
		s.CreatedAt,
		s.UpdatedAt,
	).Scan(&s.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("create schedule: %w", err)
	}
	return nil
}

func (r *scheduleRepository) GetByConnectionID(ctx context.Context, connectionID uuid.UUID) (*models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE connection_id = $1`
	return scanSchedule(r.db.Pool.QueryRow(ctx, query, connectionID))
}

func (r *scheduleRepository) Update(ctx context.Context, s *models.Schedule) error {
	query := `
		UPDATE schedules
		SET frequency = $2, time_of_day = $3, timezone = $4, days_of_week = $5,
			day_of_month = $6, is_active = $7, next_run = $8, updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Pool.Exec(ctx, query,
		s.ID,
		s.Recurrence.Frequency,
		s.Recurrence.TimeOfDay(),
		s.Recurrence.Timezone(),
		s.Recurrence.DaysOfWeekString(),
		s.Recurrence.DayOfMonth,
		s.IsActive,
		s.NextRun,
	)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *scheduleRepository) ListDue(ctx context.Context, now time.Time) ([]*models.Schedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM schedules s
		WHERE s.is_active
		  AND s.next_run IS NOT NULL
		  AND s.next_run <= $1
		  AND EXISTS (SELECT 1 FROM connections c WHERE c.id = s.connection_id AND c.is_active)
		ORDER BY s.next_run`

	rows, err := r.db.Pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("query due schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*models.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due schedules: %w", err)
	}
	return schedules, nil
}

func (r *scheduleRepository) MarkRun(ctx context.Context, id uuid.UUID, lastRun, nextRun time.Time) error {
	query := `
		UPDATE schedules
		SET last_run = $2, next_run = $3, updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Pool.Exec(ctx, query, id, lastRun, nextRun)
	if err != nil {
		return fmt.Errorf("mark schedule run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
