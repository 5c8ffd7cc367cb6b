package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relaydata/relay-engine/pkg/adapters/source"
	"github.com/relaydata/relay-engine/pkg/apperrors"
	"github.com/relaydata/relay-engine/pkg/models"
	"github.com/relaydata/relay-engine/pkg/services"
)

// stubConnectionService returns canned values per method.
type stubConnectionService struct {
	conn    *models.Connection
	connErr error
	result  *services.TestResult
}

func (s *stubConnectionService) Create(ctx context.Context, req *services.CreateConnectionRequest) (*models.Connection, error) {
	return s.conn, s.connErr
}

func (s *stubConnectionService) Get(ctx context.Context, id uuid.UUID) (*models.Connection, error) {
	return s.conn, s.connErr
}

func (s *stubConnectionService) List(ctx context.Context) ([]*models.Connection, error) {
	if s.connErr != nil {
		return nil, s.connErr
	}
	return []*models.Connection{s.conn}, nil
}

func (s *stubConnectionService) Delete(ctx context.Context, id uuid.UUID) error { return s.connErr }

func (s *stubConnectionService) Test(ctx context.Context, id uuid.UUID) (*services.TestResult, error) {
	return s.result, s.connErr
}

func (s *stubConnectionService) ListFamilies() []source.Info { return nil }

// stubJobService returns canned values per method.
type stubJobService struct {
	job    *models.SyncJob
	jobErr error
	listed []*models.SyncJob
}

func (s *stubJobService) Trigger(ctx context.Context, connectionID uuid.UUID, trigger models.TriggerType) (*models.SyncJob, error) {
	return s.job, s.jobErr
}

func (s *stubJobService) TriggerAll(ctx context.Context) ([]*models.SyncJob, error) {
	return s.listed, s.jobErr
}

func (s *stubJobService) Get(ctx context.Context, id uuid.UUID) (*models.SyncJob, error) {
	return s.job, s.jobErr
}

func (s *stubJobService) List(ctx context.Context, connectionID *uuid.UUID, limit int) ([]*models.SyncJob, error) {
	return s.listed, s.jobErr
}

func (s *stubJobService) SweepOrphans(ctx context.Context) error { return nil }

func newJobMux(svc services.JobService) *http.ServeMux {
	mux := http.NewServeMux()
	NewJobHandler(svc, zap.NewNop()).RegisterRoutes(mux)
	return mux
}

func newConnectionMux(svc services.ConnectionService) *http.ServeMux {
	mux := http.NewServeMux()
	NewConnectionHandler(svc, nil, zap.NewNop()).RegisterRoutes(mux)
	return mux
}

func TestTriggerSyncAccepted(t *testing.T) {
	job := &models.SyncJob{
		ID:           uuid.New(),
		ConnectionID: uuid.New(),
		Status:       models.JobStatusPending,
		TriggerType:  models.TriggerTypeManual,
	}
	mux := newJobMux(&stubJobService{job: job})

	req := httptest.NewRequest(http.MethodPost, "/api/connections/"+job.ConnectionID.String()+"/sync", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	var got models.SyncJob
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got.ID != job.ID || got.Status != models.JobStatusPending {
		t.Errorf("body = %+v, want the created job", got)
	}
}

func TestTriggerSyncConflictWhenJobActive(t *testing.T) {
	mux := newJobMux(&stubJobService{jobErr: apperrors.ErrJobAlreadyActive})

	req := httptest.NewRequest(http.MethodPost, "/api/connections/"+uuid.NewString()+"/sync", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "job_already_active") {
		t.Errorf("body = %s, want job_already_active error code", rec.Body.String())
	}
}

func TestTriggerSyncInvalidID(t *testing.T) {
	mux := newJobMux(&stubJobService{})

	req := httptest.NewRequest(http.MethodPost, "/api/connections/not-a-uuid/sync", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestListJobsLimitValidation(t *testing.T) {
	mux := newJobMux(&stubJobService{})

	for _, limit := range []string{"0", "501", "abc"} {
		req := httptest.NewRequest(http.MethodGet, "/api/jobs?limit="+limit, nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: status = %d, want 400", limit, rec.Code)
		}
	}
}

func TestListJobsFiltersByConnection(t *testing.T) {
	jobs := []*models.SyncJob{{ID: uuid.New(), Status: models.JobStatusCompleted}}
	mux := newJobMux(&stubJobService{listed: jobs})

	req := httptest.NewRequest(http.MethodGet, "/api/jobs?connection_id="+uuid.NewString()+"&limit=10", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Jobs []*models.SyncJob `json:"jobs"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Jobs) != 1 {
		t.Errorf("got %d jobs, want 1", len(body.Jobs))
	}
}

func TestGetConnectionNotFound(t *testing.T) {
	mux := newConnectionMux(&stubConnectionService{connErr: apperrors.ErrNotFound})

	req := httptest.NewRequest(http.MethodGet, "/api/connections/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCreateConnectionBadJSON(t *testing.T) {
	mux := newConnectionMux(&stubConnectionService{})

	req := httptest.NewRequest(http.MethodPost, "/api/connections", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateConnectionValidationError(t *testing.T) {
	mux := newConnectionMux(&stubConnectionService{
		connErr: apperrors.NewSyncError(apperrors.CategoryConfig, errors.New("connection name is required")),
	})

	req := httptest.NewRequest(http.MethodPost, "/api/connections", strings.NewReader(`{"name":""}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "name is required") {
		t.Errorf("body = %s, want the validation message", rec.Body.String())
	}
}

func TestServiceErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	serviceError(rec, errors.New("pq: password=hunter2 connection failed"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "hunter2") {
		t.Errorf("internal error detail leaked: %s", rec.Body.String())
	}
}
