// Package services contains the sync engine's business logic. Services own
// validation, credential handling and state transitions; repositories own
// SQL; handlers own HTTP.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relaydata/relay-engine/pkg/adapters/source"
	"github.com/relaydata/relay-engine/pkg/apperrors"
	"github.com/relaydata/relay-engine/pkg/crypto"
	"github.com/relaydata/relay-engine/pkg/logging"
	"github.com/relaydata/relay-engine/pkg/models"
	"github.com/relaydata/relay-engine/pkg/repositories"
	"github.com/relaydata/relay-engine/pkg/schedule"
)

// CreateConnectionRequest carries everything needed to register a source
// database. Credentials arrive in plaintext over the API and are encrypted
// before they touch storage.
type CreateConnectionRequest struct {
	Name         string             `json:"name"`
	DatabaseType string             `json:"database_type"`
	OwnerID      uuid.UUID          `json:"owner_id"`
	Credentials  crypto.Credentials `json:"credentials"`
}

// TestResult reports the outcome of a connectivity probe.
type TestResult struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ConnectionService manages source database connections.
type ConnectionService interface {
	// Create validates, encrypts credentials, stores the connection in
	// pending status and seeds its default schedule.
	Create(ctx context.Context, req *CreateConnectionRequest) (*models.Connection, error)

	// Get retrieves one connection without credentials.
	Get(ctx context.Context, id uuid.UUID) (*models.Connection, error)

	// List retrieves all connections, newest first.
	List(ctx context.Context) ([]*models.Connection, error)

	// Delete deactivates a connection. Job history and synced metadata
	// stay queryable; only new syncs stop.
	Delete(ctx context.Context, id uuid.UUID) error

	// Test probes the source database and transitions the connection
	// through testing to connected or failed.
	Test(ctx context.Context, id uuid.UUID) (*TestResult, error)

	// ListFamilies returns the connector families compiled into this
	// binary.
	ListFamilies() []source.Info
}

type connectionService struct {
	repo      repositories.ConnectionRepository
	schedules repositories.ScheduleRepository
	vault     *crypto.Vault
	factory   source.Factory
	logger    *zap.Logger
}

// NewConnectionService creates a ConnectionService.
func NewConnectionService(
	repo repositories.ConnectionRepository,
	schedules repositories.ScheduleRepository,
	vault *crypto.Vault,
	factory source.Factory,
	logger *zap.Logger,
) ConnectionService {
	return &connectionService{
		repo:      repo,
		schedules: schedules,
		vault:     vault,
		factory:   factory,
		logger:    logger.Named("connections"),
	}
}

func (s *connectionService) Create(ctx context.Context, req *CreateConnectionRequest) (*models.Connection, error) {
	if req.Name == "" {
		return nil, apperrors.NewSyncError(apperrors.CategoryConfig, errors.New("connection name is required"))
	}

	dbType, err := models.ParseDatabaseType(req.DatabaseType)
	if err != nil {
		return nil, apperrors.NewSyncError(apperrors.CategoryUnsupported, err)
	}
	// Reject unsupported families at registration, not first sync.
	if !source.IsRegistered(dbType) {
		return nil, apperrors.NewSyncError(apperrors.CategoryUnsupported,
			fmt.Errorf("%w: %s (not compiled in)", apperrors.ErrUnsupportedDatabaseType, dbType))
	}
	if err := validateCredentials(dbType, &req.Credentials); err != nil {
		return nil, apperrors.NewSyncError(apperrors.CategoryConfig, err)
	}

	encrypted, err := s.vault.EncryptCredentials(&req.Credentials)
	if err != nil {
		return nil, fmt.Errorf("encrypt credentials: %w", err)
	}

	conn := &models.Connection{
		Name:             req.Name,
		DatabaseType:     dbType,
		Status:           models.ConnectionStatusPending,
		OwnerID:          req.OwnerID,
		IsActive:         true,
		SyncFrequency:    string(schedule.Daily),
		MaxRetryAttempts: 0, // 0 means use the engine-wide default
	}
	if err := s.repo.Create(ctx, conn, encrypted); err != nil {
		return nil, err
	}

	if err := s.seedDefaultSchedule(ctx, conn.ID); err != nil {
		// The connection exists; a missing schedule only means no
		// automatic syncs until one is configured.
		s.logger.Warn("failed to seed default schedule",
			zap.String("connection_id", conn.ID.String()),
			zap.Error(err))
	}

	s.logger.Info("connection created",
		zap.String("connection_id", conn.ID.String()),
		zap.String("database_type", string(conn.DatabaseType)),
		zap.String("name", conn.Name))
	return conn, nil
}

// seedDefaultSchedule gives every new connection a daily 02:00 UTC sync.
func (s *connectionService) seedDefaultSchedule(ctx context.Context, connectionID uuid.UUID) error {
	rec, err := schedule.ParseRecurrence(string(schedule.Daily), "02:00", "UTC", "", 0)
	if err != nil {
		return err
	}

	next := schedule.NextRun(rec, nil, timeNow())
	sched := &models.Schedule{
		ConnectionID: connectionID,
		Recurrence:   rec,
		IsActive:     true,
		NextRun:      &next,
	}
	return s.schedules.Create(ctx, sched)
}

func (s *connectionService) Get(ctx context.Context, id uuid.UUID) (*models.Connection, error) {
	conn, _, err := s.repo.GetByID(ctx, id)
	return conn, err
}

func (s *connectionService) List(ctx context.Context) ([]*models.Connection, error) {
	return s.repo.List(ctx)
}

func (s *connectionService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("connection deactivated", zap.String("connection_id", id.String()))
	return nil
}

func (s *connectionService) Test(ctx context.Context, id uuid.UUID) (*TestResult, error) {
	conn, encrypted, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdateStatus(ctx, id, models.ConnectionStatusTesting); err != nil {
		return nil, err
	}

	result := s.probe(ctx, conn, encrypted)

	status := models.ConnectionStatusConnected
	if !result.Success {
		status = models.ConnectionStatusFailed
	}
	if err := s.repo.UpdateStatus(ctx, id, status); err != nil {
		return nil, err
	}
	result.Status = string(status)
	return result, nil
}

// probe runs the actual connectivity check. Error text is sanitized before
// it can reach a response or a log line.
func (s *connectionService) probe(ctx context.Context, conn *models.Connection, encrypted string) *TestResult {
	creds, err := s.vault.DecryptCredentials(encrypted)
	if err != nil {
		s.logger.Error("credential decryption failed",
			zap.String("connection_id", conn.ID.String()),
			zap.Error(err))
		return &TestResult{Success: false, Message: "stored credentials could not be decrypted"}
	}

	connector, err := s.factory.New(ctx, conn.DatabaseType, creds)
	if err != nil {
		return &TestResult{Success: false, Message: logging.SanitizeError(err)}
	}
	defer connector.Close()

	if err := connector.TestConnection(ctx); err != nil {
		s.logger.Warn("connection test failed",
			zap.String("connection_id", conn.ID.String()),
			zap.String("error", logging.SanitizeError(err)))
		return &TestResult{Success: false, Message: logging.SanitizeError(err)}
	}

	s.logger.Info("connection test succeeded", zap.String("connection_id", conn.ID.String()))
	return &TestResult{Success: true}
}

func (s *connectionService) ListFamilies() []source.Info {
	return s.factory.ListFamilies()
}

// validateCredentials enforces the per-family required fields before
// anything is stored.
func validateCredentials(dbType models.DatabaseType, creds *crypto.Credentials) error {
	switch dbType {
	case models.DatabaseSQLite:
		if creds.Database == "" {
			return errors.New("sqlite requires a file path in database_name")
		}
	case models.DatabaseMongoDB:
		if creds.Host == "" || creds.Database == "" {
			return errors.New("mongodb requires host and database_name")
		}
	default:
		if creds.Host == "" || creds.Username == "" || creds.Database == "" {
			return errors.New("host, username and database_name are required")
		}
	}
	if creds.Port < 0 || creds.Port > 65535 {
		return fmt.Errorf("invalid port %d", creds.Port)
	}
	return nil
}

var _ ConnectionService = (*connectionService)(nil)
