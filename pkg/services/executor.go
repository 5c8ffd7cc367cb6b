package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relaydata/relay-engine/pkg/adapters/source"
	"github.com/relaydata/relay-engine/pkg/analytics"
	"github.com/relaydata/relay-engine/pkg/apperrors"
	"github.com/relaydata/relay-engine/pkg/config"
	"github.com/relaydata/relay-engine/pkg/crypto"
	"github.com/relaydata/relay-engine/pkg/logging"
	"github.com/relaydata/relay-engine/pkg/metrics"
	"github.com/relaydata/relay-engine/pkg/models"
	"github.com/relaydata/relay-engine/pkg/repositories"
	"github.com/relaydata/relay-engine/pkg/retry"
)

// TableLoader is the executor's seam onto the analytics store.
// *analytics.Loader is the production implementation.
type TableLoader interface {
	Begin(ctx context.Context, connectionID uuid.UUID, table source.TableInfo) (analytics.TableLoad, error)
}

// Executor runs one sync job end to end: decrypt credentials, connect,
// stream every table into the analytics store, reconcile metadata, and
// record the terminal state. A sync is a full snapshot, so a retried
// attempt starts clean rather than resuming.
type Executor struct {
	connections repositories.ConnectionRepository
	jobs        repositories.JobRepository
	vault       *crypto.Vault
	factory     source.Factory
	loader      TableLoader
	reconciler  *Reconciler
	metrics     *metrics.Metrics
	cfg         config.SyncConfig
	logger      *zap.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(
	connections repositories.ConnectionRepository,
	jobs repositories.JobRepository,
	vault *crypto.Vault,
	factory source.Factory,
	loader TableLoader,
	reconciler *Reconciler,
	m *metrics.Metrics,
	cfg config.SyncConfig,
	logger *zap.Logger,
) *Executor {
	return &Executor{
		connections: connections,
		jobs:        jobs,
		vault:       vault,
		factory:     factory,
		loader:      loader,
		reconciler:  reconciler,
		metrics:     m,
		cfg:         cfg,
		logger:      logger.Named("executor"),
	}
}

// syncOutcome accumulates counters for one attempt.
type syncOutcome struct {
	processed int64
	skipped   int64
	tables    int
	failed    int
}

// Run executes the job to a terminal state. The returned error mirrors
// what was written to the job row; callers only log it.
func (e *Executor) Run(ctx context.Context, jobID uuid.UUID) error {
	job, err := e.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}

	log := e.logger.With(
		zap.String("job_id", job.ID.String()),
		zap.String("connection_id", job.ConnectionID.String()),
		zap.String("trigger", string(job.TriggerType)))

	conn, encrypted, err := e.connections.GetByID(ctx, job.ConnectionID)
	if err != nil {
		return e.fail(ctx, job, log, err)
	}
	if !conn.IsActive {
		return e.fail(ctx, job, log, apperrors.ErrConnectionInactive)
	}

	if err := e.jobs.MarkRunning(ctx, job.ID); err != nil {
		return err
	}
	e.metrics.RunningJobs.Inc()
	defer e.metrics.RunningJobs.Dec()
	started := time.Now()

	log.Info("sync started", zap.String("database_type", string(conn.DatabaseType)))

	creds, err := e.vault.DecryptCredentials(encrypted)
	if err != nil {
		return e.fail(ctx, job, log,
			apperrors.NewSyncError(apperrors.CategoryDecryption, err))
	}

	var outcome syncOutcome
	attempt := 0
	retryCfg := e.retryConfig(conn)
	err = retry.DoIfRetryable(ctx, retryCfg, func() error {
		attempt++
		if attempt > 1 {
			log.Warn("retrying sync", zap.Int("attempt", attempt))
		}
		var attemptErr error
		outcome, attemptErr = e.syncOnce(ctx, job, conn, creds, log)
		return attemptErr
	}, func(err error) bool {
		return apperrors.CategoryOf(err) != apperrors.CategoryPartialTable && retry.IsRetryable(err)
	})
	if err != nil {
		return e.fail(ctx, job, log, err)
	}

	if err := e.jobs.Complete(ctx, job.ID, outcome.processed, outcome.skipped); err != nil {
		return err
	}
	if err := e.connections.MarkSynced(ctx, conn.ID, time.Now()); err != nil {
		log.Warn("failed to stamp last_sync", zap.Error(err))
	}

	e.metrics.JobsTotal.WithLabelValues("completed", string(job.TriggerType)).Inc()
	e.metrics.RecordsProcessed.Add(float64(outcome.processed))
	e.metrics.RecordsSkipped.Add(float64(outcome.skipped))
	e.metrics.JobDuration.Observe(time.Since(started).Seconds())

	log.Info("sync completed",
		zap.Int("tables", outcome.tables),
		zap.Int("failed_tables", outcome.failed),
		zap.Int64("records_processed", outcome.processed),
		zap.Int64("records_skipped", outcome.skipped),
		zap.Duration("elapsed", time.Since(started)))
	return nil
}

var defaultRetryConfig = retry.DefaultConfig

// retryConfig derives the per-connection retry policy. A connection with
// max_retry_attempts 0 uses the engine-wide default.
func (e *Executor) retryConfig(conn *models.Connection) *retry.Config {
	cfg := defaultRetryConfig()
	cfg.MaxAttempts = e.cfg.MaxRetryAttempts
	if conn.MaxRetryAttempts > 0 {
		cfg.MaxAttempts = conn.MaxRetryAttempts
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return cfg
}

// syncOnce performs one full sync attempt.
func (e *Executor) syncOnce(ctx context.Context, job *models.SyncJob, conn *models.Connection, creds *crypto.Credentials, log *zap.Logger) (syncOutcome, error) {
	var out syncOutcome

	connectCtx, cancel := context.WithTimeout(ctx, e.cfg.ConnectionTimeout())
	connector, err := e.factory.New(connectCtx, conn.DatabaseType, creds)
	cancel()
	if err != nil {
		return out, apperrors.NewSyncError(apperrors.CategoryOf(err), err)
	}
	defer connector.Close()

	tables, err := connector.ListTables(ctx)
	if err != nil {
		return out, apperrors.NewSyncError(apperrors.CategoryConnect, err)
	}
	out.tables = len(tables)
	if len(tables) == 0 {
		log.Info("source has no tables")
		return out, nil
	}

	for _, table := range tables {
		loaded, skipped, err := e.loadTable(ctx, job, conn.ID, connector, table, log)
		if err != nil {
			// One bad table does not abort the sync unless too many
			// fail; the threshold check below decides. Its previous
			// metadata stays recorded.
			out.failed++
			log.Error("table sync failed",
				zap.String("table", table.Name),
				zap.String("error", logging.SanitizeError(err)))
			continue
		}
		out.processed += loaded
		out.skipped += skipped

		if err := e.jobs.UpdateProgress(ctx, job.ID, out.processed, out.skipped); err != nil {
			log.Warn("failed to update job progress", zap.Error(err))
		}
	}

	if threshold := e.cfg.TableFailureThreshold; out.tables > 0 &&
		float64(out.failed)/float64(out.tables) > threshold {
		return out, apperrors.NewSyncError(apperrors.CategoryPartialTable,
			fmt.Errorf("%d of %d tables failed", out.failed, out.tables))
	}
	return out, nil
}

// loadTable streams one table into the analytics store and records its
// metadata.
func (e *Executor) loadTable(ctx context.Context, job *models.SyncJob, connectionID uuid.UUID, connector source.Connector, table source.TableInfo, log *zap.Logger) (int64, int64, error) {
	it, err := connector.StreamRows(ctx, table.Name)
	if err != nil {
		return 0, 0, err
	}
	defer it.Close()

	load, err := e.loader.Begin(ctx, connectionID, table)
	if err != nil {
		return 0, 0, apperrors.NewSyncError(apperrors.CategoryLoad, err)
	}

	var skipped int64
	for {
		// Each batch read gets its own deadline so a wedged source
		// cannot hold the job in running until the orphan sweep.
		batchCtx, cancel := context.WithTimeout(ctx, e.cfg.ConnectionTimeout())
		batch, err := it.Next(batchCtx)
		cancel()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return 0, 0, apperrors.NewSyncError(apperrors.CategoryTimeout,
					fmt.Errorf("reading %s: %w", table.Name, err))
			}
			return 0, 0, err
		}
		skipped += int64(batch.Skipped)
		if err := load.Append(ctx, batch); err != nil {
			return 0, 0, apperrors.NewSyncError(apperrors.CategoryLoad, err)
		}
	}

	if err := e.reconciler.Record(ctx, connectionID, table, load.TargetTable(), load.Loaded(), load.ExtractedAt()); err != nil {
		return 0, 0, err
	}

	log.Debug("table synced",
		zap.String("table", table.Name),
		zap.String("analytics_table", load.TargetTable()),
		zap.Int64("rows", load.Loaded()))
	return load.Loaded(), skipped, nil
}

// fail writes the terminal failed state with a sanitized message.
// Connection-level failures also flip the connection to failed status;
// table-scoped failures leave it untouched.
func (e *Executor) fail(ctx context.Context, job *models.SyncJob, log *zap.Logger, cause error) error {
	msg := logging.SanitizeError(cause)
	if err := e.jobs.Fail(ctx, job.ID, logging.TruncateString(msg, 1000)); err != nil {
		log.Error("failed to record job failure", zap.Error(err))
	}

	var syncErr *apperrors.SyncError
	if errors.As(cause, &syncErr) && syncErr.ConnectionLevel() {
		if err := e.connections.UpdateStatus(ctx, job.ConnectionID, models.ConnectionStatusFailed); err != nil {
			log.Warn("failed to update connection status", zap.Error(err))
		}
	}

	e.metrics.JobsTotal.WithLabelValues("failed", string(job.TriggerType)).Inc()
	log.Error("sync failed",
		zap.String("category", string(apperrors.CategoryOf(cause))),
		zap.String("error", msg))
	return cause
}
