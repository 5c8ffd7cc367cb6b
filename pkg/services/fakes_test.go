package services

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaydata/relay-engine/pkg/adapters/source"
	"github.com/relaydata/relay-engine/pkg/analytics"
	"github.com/relaydata/relay-engine/pkg/apperrors"
	"github.com/relaydata/relay-engine/pkg/crypto"
	"github.com/relaydata/relay-engine/pkg/models"
)

// fakeConnectionRepo is an in-memory ConnectionRepository.
type fakeConnectionRepo struct {
	mu        sync.Mutex
	conns     map[uuid.UUID]*models.Connection
	encrypted map[uuid.UUID]string
	statuses  []models.ConnectionStatus
	synced    []uuid.UUID
}

func newFakeConnectionRepo() *fakeConnectionRepo {
	return &fakeConnectionRepo{
		conns:     make(map[uuid.UUID]*models.Connection),
		encrypted: make(map[uuid.UUID]string),
	}
}

func (r *fakeConnectionRepo) add(conn *models.Connection, encrypted string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn.ID == uuid.Nil {
		conn.ID = uuid.New()
	}
	r.conns[conn.ID] = conn
	r.encrypted[conn.ID] = encrypted
}

func (r *fakeConnectionRepo) Create(ctx context.Context, conn *models.Connection, encryptedCredentials string) error {
	r.add(conn, encryptedCredentials)
	return nil
}

func (r *fakeConnectionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Connection, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return nil, "", apperrors.ErrNotFound
	}
	return conn, r.encrypted[id], nil
}

func (r *fakeConnectionRepo) List(ctx context.Context) ([]*models.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out, nil
}

func (r *fakeConnectionRepo) ListActive(ctx context.Context) ([]*models.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Connection
	for _, c := range r.conns {
		if c.IsActive {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeConnectionRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status models.ConnectionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	conn.Status = status
	r.statuses = append(r.statuses, status)
	return nil
}

func (r *fakeConnectionRepo) MarkSynced(ctx context.Context, id uuid.UUID, syncedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	conn.Status = models.ConnectionStatusConnected
	conn.LastSync = &syncedAt
	conn.AnalyticsReady = true
	r.synced = append(r.synced, id)
	return nil
}

func (r *fakeConnectionRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	conn.IsActive = false
	return nil
}

// fakeJobRepo is an in-memory JobRepository that enforces the one-active-job
// rule the way the partial unique index does.
type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.SyncJob
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[uuid.UUID]*models.SyncJob)}
}

func (r *fakeJobRepo) get(id uuid.UUID) *models.SyncJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[id]
}

func (r *fakeJobRepo) Create(ctx context.Context, job *models.SyncJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.jobs {
		if existing.ConnectionID == job.ConnectionID && !existing.Status.Terminal() {
			return apperrors.ErrJobAlreadyActive
		}
	}
	job.ID = uuid.New()
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	r.jobs[job.ID] = job
	return nil
}

func (r *fakeJobRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.SyncJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return job, nil
}

func (r *fakeJobRepo) List(ctx context.Context, connectionID *uuid.UUID, limit int) ([]*models.SyncJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SyncJob
	for _, j := range r.jobs {
		if connectionID == nil || j.ConnectionID == *connectionID {
			out = append(out, j)
		}
	}
	return out, nil
}

func (r *fakeJobRepo) MarkRunning(ctx context.Context, id uuid.UUID) error {
	return r.transition(id, models.JobStatusPending, models.JobStatusRunning, "")
}

func (r *fakeJobRepo) Complete(ctx context.Context, id uuid.UUID, processed, skipped int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	if job.Status != models.JobStatusRunning {
		return apperrors.ErrJobTerminal
	}
	job.Status = models.JobStatusCompleted
	job.RecordsProcessed = processed
	job.RecordsSkipped = skipped
	return nil
}

func (r *fakeJobRepo) Fail(ctx context.Context, id uuid.UUID, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	if job.Status.Terminal() {
		return apperrors.ErrJobTerminal
	}
	job.Status = models.JobStatusFailed
	job.ErrorMessage = errorMessage
	return nil
}

func (r *fakeJobRepo) UpdateProgress(ctx context.Context, id uuid.UUID, processed, skipped int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[id]; ok {
		job.RecordsProcessed = processed
		job.RecordsSkipped = skipped
	}
	return nil
}

func (r *fakeJobRepo) FailOrphans(ctx context.Context, olderThan time.Duration, message string) ([]*models.SyncJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var failed []*models.SyncJob
	for _, j := range r.jobs {
		if !j.Status.Terminal() && j.UpdatedAt.Before(cutoff) {
			j.Status = models.JobStatusFailed
			j.ErrorMessage = message
			failed = append(failed, j)
		}
	}
	return failed, nil
}

func (r *fakeJobRepo) transition(id uuid.UUID, from, to models.JobStatus, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	if job.Status != from {
		return apperrors.ErrJobTerminal
	}
	job.Status = to
	if msg != "" {
		job.ErrorMessage = msg
	}
	return nil
}

// fakeScheduleRepo is an in-memory ScheduleRepository.
type fakeScheduleRepo struct {
	mu        sync.Mutex
	byConn    map[uuid.UUID]*models.Schedule
	due       []*models.Schedule
	markedRun map[uuid.UUID]time.Time // schedule id -> nextRun
}

func newFakeScheduleRepo() *fakeScheduleRepo {
	return &fakeScheduleRepo{
		byConn:    make(map[uuid.UUID]*models.Schedule),
		markedRun: make(map[uuid.UUID]time.Time),
	}
}

func (r *fakeScheduleRepo) Create(ctx context.Context, s *models.Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byConn[s.ConnectionID]; ok {
		return apperrors.ErrConflict
	}
	s.ID = uuid.New()
	r.byConn[s.ConnectionID] = s
	return nil
}

func (r *fakeScheduleRepo) GetByConnectionID(ctx context.Context, connectionID uuid.UUID) (*models.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byConn[connectionID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return s, nil
}

func (r *fakeScheduleRepo) Update(ctx context.Context, s *models.Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byConn[s.ConnectionID]; !ok {
		return apperrors.ErrNotFound
	}
	r.byConn[s.ConnectionID] = s
	return nil
}

func (r *fakeScheduleRepo) ListDue(ctx context.Context, now time.Time) ([]*models.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.due, nil
}

func (r *fakeScheduleRepo) MarkRun(ctx context.Context, id uuid.UUID, lastRun, nextRun time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markedRun[id] = nextRun
	return nil
}

// fakeTableStateRepo is an in-memory TableStateRepository.
type fakeTableStateRepo struct {
	mu     sync.Mutex
	states map[string]*models.TableSyncState // keyed by connID/table
}

func newFakeTableStateRepo() *fakeTableStateRepo {
	return &fakeTableStateRepo{states: make(map[string]*models.TableSyncState)}
}

func (r *fakeTableStateRepo) Upsert(ctx context.Context, state *models.TableSyncState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[state.ConnectionID.String()+"/"+state.SourceTable] = state
	return nil
}

func (r *fakeTableStateRepo) ListByConnection(ctx context.Context, connectionID uuid.UUID) ([]*models.TableSyncState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.TableSyncState
	for _, s := range r.states {
		if s.ConnectionID == connectionID {
			out = append(out, s)
		}
	}
	return out, nil
}

// fakeFactory returns a canned connector or error.
type fakeFactory struct {
	mu        sync.Mutex
	connector source.Connector
	err       error
	calls     int
}

func (f *fakeFactory) New(ctx context.Context, dbType models.DatabaseType, creds *crypto.Credentials) (source.Connector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.connector, nil
}

func (f *fakeFactory) ListFamilies() []source.Info { return nil }

func (f *fakeFactory) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeConnector serves canned tables and rows. Tables with an entry in
// iterators stream through it; others are immediately exhausted.
type fakeConnector struct {
	tables    []source.TableInfo
	streamErr map[string]error
	iterators map[string]source.RowIterator
	testErr   error
}

func (c *fakeConnector) TestConnection(ctx context.Context) error { return c.testErr }

func (c *fakeConnector) ListTables(ctx context.Context) ([]source.TableInfo, error) {
	return c.tables, nil
}

func (c *fakeConnector) StreamRows(ctx context.Context, table string) (source.RowIterator, error) {
	if err, ok := c.streamErr[table]; ok {
		return nil, err
	}
	if it, ok := c.iterators[table]; ok {
		return it, nil
	}
	return &fakeIterator{}, nil
}

func (c *fakeConnector) Close() error { return nil }

// fakeIterator is immediately exhausted.
type fakeIterator struct{}

func (it *fakeIterator) Next(ctx context.Context) (source.RowBatch, error) {
	return source.RowBatch{}, io.EOF
}

func (it *fakeIterator) Close() error { return nil }

// batchIterator serves the given batches in order, then EOF.
type batchIterator struct {
	batches []source.RowBatch
	pos     int
}

func (it *batchIterator) Next(ctx context.Context) (source.RowBatch, error) {
	if it.pos >= len(it.batches) {
		return source.RowBatch{}, io.EOF
	}
	b := it.batches[it.pos]
	it.pos++
	return b, nil
}

func (it *batchIterator) Close() error { return nil }

// stuckIterator never yields a batch; Next blocks until the context dies.
type stuckIterator struct{}

func (it *stuckIterator) Next(ctx context.Context) (source.RowBatch, error) {
	<-ctx.Done()
	return source.RowBatch{}, ctx.Err()
}

func (it *stuckIterator) Close() error { return nil }

// fakeLoader hands out in-memory loads keyed by source table.
type fakeLoader struct {
	mu       sync.Mutex
	loads    map[string]*fakeLoad
	beginErr map[string]error
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{loads: make(map[string]*fakeLoad)}
}

func (l *fakeLoader) Begin(ctx context.Context, connectionID uuid.UUID, table source.TableInfo) (analytics.TableLoad, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err, ok := l.beginErr[table.Name]; ok {
		return nil, err
	}
	load := &fakeLoad{
		target:      analytics.TargetTableName(connectionID, table.Name),
		extractedAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	l.loads[table.Name] = load
	return load, nil
}

func (l *fakeLoader) load(table string) *fakeLoad {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads[table]
}

// fakeLoad counts appended rows in place of a real analytics table.
type fakeLoad struct {
	target      string
	extractedAt time.Time
	loaded      int64
}

func (fl *fakeLoad) Append(ctx context.Context, batch source.RowBatch) error {
	fl.loaded += int64(len(batch.Rows))
	return nil
}

func (fl *fakeLoad) Loaded() int64          { return fl.loaded }
func (fl *fakeLoad) TargetTable() string    { return fl.target }
func (fl *fakeLoad) ExtractedAt() time.Time { return fl.extractedAt }

var _ TableLoader = (*fakeLoader)(nil)
var _ analytics.TableLoad = (*fakeLoad)(nil)
