package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydata/relay-engine/pkg/apperrors"
	"github.com/relaydata/relay-engine/pkg/models"
	"github.com/relaydata/relay-engine/pkg/schedule"
	"github.com/relaydata/relay-engine/pkg/testhelpers"
)

const migrationsPath = "../../migrations"

func createTestConnection(t *testing.T, repo ConnectionRepository) *models.Connection {
	t.Helper()
	conn := &models.Connection{
		Name:          "orders db",
		DatabaseType:  models.DatabasePostgres,
		Status:        models.ConnectionStatusPending,
		OwnerID:       uuid.New(),
		IsActive:      true,
		SyncFrequency: string(schedule.Daily),
	}
	require.NoError(t, repo.Create(context.Background(), conn, "encrypted-blob"))
	return conn
}

func TestConnectionRepository(t *testing.T) {
	tdb := testhelpers.GetTestDB(t, migrationsPath)
	tdb.TruncateAll(t)
	ctx := context.Background()

	repo := NewConnectionRepository(tdb.DB())
	conn := createTestConnection(t, repo)
	require.NotEqual(t, uuid.Nil, conn.ID)

	t.Run("GetByID returns the connection and its credentials", func(t *testing.T) {
		got, encrypted, err := repo.GetByID(ctx, conn.ID)
		require.NoError(t, err)
		assert.Equal(t, conn.Name, got.Name)
		assert.Equal(t, models.DatabasePostgres, got.DatabaseType)
		assert.Equal(t, "encrypted-blob", encrypted)
	})

	t.Run("GetByID unknown id", func(t *testing.T) {
		_, _, err := repo.GetByID(ctx, uuid.New())
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("UpdateStatus stamps last_tested", func(t *testing.T) {
		require.NoError(t, repo.UpdateStatus(ctx, conn.ID, models.ConnectionStatusConnected))
		got, _, err := repo.GetByID(ctx, conn.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ConnectionStatusConnected, got.Status)
		assert.NotNil(t, got.LastTested)
	})

	t.Run("MarkSynced records a healthy connection", func(t *testing.T) {
		// A sync that completes proves the connection works even if an
		// earlier attempt had marked it failed.
		require.NoError(t, repo.UpdateStatus(ctx, conn.ID, models.ConnectionStatusFailed))
		require.NoError(t, repo.MarkSynced(ctx, conn.ID, time.Now()))

		got, _, err := repo.GetByID(ctx, conn.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ConnectionStatusConnected, got.Status)
		assert.True(t, got.AnalyticsReady)
		assert.NotNil(t, got.LastSync)
	})

	t.Run("ListActive excludes inactive connections", func(t *testing.T) {
		active, err := repo.ListActive(ctx)
		require.NoError(t, err)
		assert.Len(t, active, 1)
	})

	t.Run("Delete deactivates and keeps job history", func(t *testing.T) {
		jobs := NewJobRepository(tdb.DB())
		job := &models.SyncJob{
			ConnectionID: conn.ID,
			JobType:      models.JobTypeFullSync,
			TriggerType:  models.TriggerTypeManual,
		}
		require.NoError(t, jobs.Create(ctx, job))

		schedules := NewScheduleRepository(tdb.DB())
		rec, err := schedule.ParseRecurrence("daily", "02:00", "UTC", "", 0)
		require.NoError(t, err)
		next := time.Now().Add(time.Hour).UTC()
		require.NoError(t, schedules.Create(ctx, &models.Schedule{
			ConnectionID: conn.ID,
			Recurrence:   rec,
			IsActive:     true,
			NextRun:      &next,
		}))

		require.NoError(t, repo.Delete(ctx, conn.ID))

		// The row stays readable for diagnosis but drops out of the
		// active set, so no new syncs start.
		got, _, err := repo.GetByID(ctx, conn.ID)
		require.NoError(t, err)
		assert.False(t, got.IsActive)
		active, err := repo.ListActive(ctx)
		require.NoError(t, err)
		assert.Empty(t, active)

		// Job history survives.
		kept, err := jobs.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, conn.ID, kept.ConnectionID)

		// The schedule is suspended rather than left to fire.
		sched, err := schedules.GetByConnectionID(ctx, conn.ID)
		require.NoError(t, err)
		assert.False(t, sched.IsActive)
		assert.Nil(t, sched.NextRun)
	})

	t.Run("Delete unknown id", func(t *testing.T) {
		assert.ErrorIs(t, repo.Delete(ctx, uuid.New()), apperrors.ErrNotFound)
	})
}

func TestJobRepositoryOneActiveJobPerConnection(t *testing.T) {
	tdb := testhelpers.GetTestDB(t, migrationsPath)
	tdb.TruncateAll(t)
	ctx := context.Background()

	conns := NewConnectionRepository(tdb.DB())
	repo := NewJobRepository(tdb.DB())
	conn := createTestConnection(t, conns)

	first := &models.SyncJob{ConnectionID: conn.ID, JobType: models.JobTypeFullSync, TriggerType: models.TriggerTypeManual}
	require.NoError(t, repo.Create(ctx, first))

	// The partial unique index rejects a second active job.
	second := &models.SyncJob{ConnectionID: conn.ID, JobType: models.JobTypeFullSync, TriggerType: models.TriggerTypeScheduled}
	assert.ErrorIs(t, repo.Create(ctx, second), apperrors.ErrJobAlreadyActive)

	// Still rejected while the first job is running.
	require.NoError(t, repo.MarkRunning(ctx, first.ID))
	assert.ErrorIs(t, repo.Create(ctx, second), apperrors.ErrJobAlreadyActive)

	// A terminal first job frees the slot.
	require.NoError(t, repo.Complete(ctx, first.ID, 100, 2))
	assert.NoError(t, repo.Create(ctx, second))
}

func TestJobRepositoryStateMachine(t *testing.T) {
	tdb := testhelpers.GetTestDB(t, migrationsPath)
	tdb.TruncateAll(t)
	ctx := context.Background()

	conns := NewConnectionRepository(tdb.DB())
	repo := NewJobRepository(tdb.DB())
	conn := createTestConnection(t, conns)

	job := &models.SyncJob{ConnectionID: conn.ID, JobType: models.JobTypeFullSync, TriggerType: models.TriggerTypeManual}
	require.NoError(t, repo.Create(ctx, job))
	assert.Equal(t, models.JobStatusPending, job.Status)

	// Completing a pending job skips running and is refused.
	assert.ErrorIs(t, repo.Complete(ctx, job.ID, 0, 0), apperrors.ErrJobTerminal)

	require.NoError(t, repo.MarkRunning(ctx, job.ID))
	require.NoError(t, repo.UpdateProgress(ctx, job.ID, 50, 1))
	require.NoError(t, repo.Complete(ctx, job.ID, 100, 2))

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, int64(100), got.RecordsProcessed)
	assert.NotNil(t, got.CompletedAt)

	// Terminal states are immutable.
	assert.ErrorIs(t, repo.Fail(ctx, job.ID, "too late"), apperrors.ErrJobTerminal)
	assert.ErrorIs(t, repo.MarkRunning(ctx, job.ID), apperrors.ErrJobTerminal)
}

func TestJobRepositoryFailOrphans(t *testing.T) {
	tdb := testhelpers.GetTestDB(t, migrationsPath)
	tdb.TruncateAll(t)
	ctx := context.Background()

	conns := NewConnectionRepository(tdb.DB())
	repo := NewJobRepository(tdb.DB())
	conn := createTestConnection(t, conns)

	job := &models.SyncJob{ConnectionID: conn.ID, JobType: models.JobTypeFullSync, TriggerType: models.TriggerTypeManual}
	require.NoError(t, repo.Create(ctx, job))
	require.NoError(t, repo.MarkRunning(ctx, job.ID))

	// Fresh jobs survive the sweep.
	swept, err := repo.FailOrphans(ctx, time.Hour, "abandoned")
	require.NoError(t, err)
	assert.Empty(t, swept)

	// Backdate the job so it looks stalled.
	_, err = tdb.Pool.Exec(ctx,
		`UPDATE sync_jobs SET updated_at = now() - interval '2 hours' WHERE id = $1`, job.ID)
	require.NoError(t, err)

	swept, err = repo.FailOrphans(ctx, time.Hour, "abandoned")
	require.NoError(t, err)
	require.Len(t, swept, 1)
	assert.Equal(t, models.JobStatusFailed, swept[0].Status)
	assert.Equal(t, "abandoned", swept[0].ErrorMessage)
}

func TestScheduleRepository(t *testing.T) {
	tdb := testhelpers.GetTestDB(t, migrationsPath)
	tdb.TruncateAll(t)
	ctx := context.Background()

	conns := NewConnectionRepository(tdb.DB())
	repo := NewScheduleRepository(tdb.DB())
	conn := createTestConnection(t, conns)

	rec, err := schedule.ParseRecurrence("weekly", "03:30", "UTC", "1,3,5", 0)
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour).UTC()
	sched := &models.Schedule{
		ConnectionID: conn.ID,
		Recurrence:   rec,
		IsActive:     true,
		NextRun:      &past,
	}
	require.NoError(t, repo.Create(ctx, sched))

	// One schedule per connection.
	assert.ErrorIs(t, repo.Create(ctx, &models.Schedule{ConnectionID: conn.ID, Recurrence: rec}), apperrors.ErrConflict)

	t.Run("recurrence round-trips through flat columns", func(t *testing.T) {
		got, err := repo.GetByConnectionID(ctx, conn.ID)
		require.NoError(t, err)
		assert.Equal(t, schedule.Weekly, got.Recurrence.Frequency)
		assert.Equal(t, "03:30", got.Recurrence.TimeOfDay())
		assert.Equal(t, "1,3,5", got.Recurrence.DaysOfWeekString())
	})

	t.Run("ListDue returns overdue schedules for active connections", func(t *testing.T) {
		due, err := repo.ListDue(ctx, time.Now())
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, sched.ID, due[0].ID)
	})

	t.Run("MarkRun advances next_run out of the due window", func(t *testing.T) {
		now := time.Now().UTC()
		next := schedule.NextRun(rec, &now, now)
		require.NoError(t, repo.MarkRun(ctx, sched.ID, now, next))

		due, err := repo.ListDue(ctx, time.Now())
		require.NoError(t, err)
		assert.Empty(t, due)
	})
}

func TestTableStateRepository(t *testing.T) {
	tdb := testhelpers.GetTestDB(t, migrationsPath)
	tdb.TruncateAll(t)
	ctx := context.Background()

	conns := NewConnectionRepository(tdb.DB())
	repo := NewTableStateRepository(tdb.DB())
	conn := createTestConnection(t, conns)

	upsert := func(table string, rows int64) {
		t.Helper()
		require.NoError(t, repo.Upsert(ctx, &models.TableSyncState{
			ConnectionID:   conn.ID,
			SourceTable:    table,
			AnalyticsTable: "conn_12345678_" + table,
			EntityLabel:    table,
			RowCount:       rows,
			Columns: []models.CapturedColumn{
				{Name: "id", DataType: "bigint", IsPrimary: true},
				{Name: "name", DataType: "text", IsNullable: true},
			},
			LastSyncedAt: time.Now().UTC(),
		}))
	}

	upsert("orders", 10)
	upsert("customers", 5)

	// Re-upserting the same table replaces, not duplicates.
	upsert("orders", 25)

	states, err := repo.ListByConnection(ctx, conn.ID)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "customers", states[0].SourceTable) // sorted by table name
	assert.Equal(t, int64(25), states[1].RowCount)
	assert.Len(t, states[1].Columns, 2)
}
