// Package repositories provides PostgreSQL data access for the sync
// engine's own state. Credentials are stored as encrypted TEXT; encryption
// and decryption happen in the service layer.
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

// ConnectionRepository defines data access for database connections.
type ConnectionRepository interface {
	// Create inserts a new connection with its encrypted credentials.
	Create(ctx context.Context, conn *models.Connection, encryptedCredentials string) error

	// GetByID retrieves a connection and its encrypted credentials.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Connection, string, error)

	// List retrieves all connections, newest first.
	List(ctx context.Context) ([]*models.Connection, error)

	// ListActive retrieves connections eligible for syncing.
	ListActive(ctx context.Context) ([]*models.Connection, error)

	// UpdateStatus transitions a connection's test status and stamps
	// last_tested.
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.ConnectionStatus) error

	// MarkSynced records a successful sync: connected status, last_sync
	// and analytics_ready.
	MarkSynced(ctx context.Context, id uuid.UUID, syncedAt time.Time) error

	// Delete deactivates a connection and suspends its schedule. Job
	// history and table metadata are retained for diagnosis.
	Delete(ctx context.Context, id uuid.UUID) error
}

type connectionRepository struct {
	db *database.DB
}

// NewConnectionRepository creates a PostgreSQL-backed connection repository.
func NewConnectionRepository(db *database.DB) ConnectionRepository {
	return &connectionRepository{db: db}
}

const connectionColumns = `id, name, database_type, status, owner_id, analytics_ready,
	is_active, sync_frequency, max_retry_attempts, last_tested, last_sync, created_at, updated_at`

func scanConnection(row pgx.Row) (*models.Connection, error) {
	var c models.Connection
	err := row.Scan(&c.ID, &c.Name, &c.DatabaseType, &c.Status, &c.OwnerID, &c.AnalyticsReady,
		&c.IsActive, &c.SyncFrequency, &c.MaxRetryAttempts, &c.LastTested, &c.LastSync,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan connection: %w", err)
	}
	return &c, nil
}

func (r *connectionRepository) Create(ctx context.Context, conn *models.Connection, encryptedCredentials string) error {
	now := time.Now()
	conn.CreatedAt = now
	conn.UpdatedAt = now

	query := `
		INSERT INTO connections (name, database_type, encrypted_credentials, status, owner_id,
			analytics_ready, is_active, sync_frequency, max_retry_attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	err := r.db.Pool.QueryRow(ctx, query,
		conn.Name,
		conn.DatabaseType,
		encryptedCredentials,
		conn.Status,
		conn.OwnerID,
		conn.AnalyticsReady,
		conn.IsActive,
		conn.SyncFrequency,
		conn.MaxRetryAttempts,
		conn.CreatedAt,
		conn.UpdatedAt,
	).Scan(&conn.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("create connection: %w", err)
	}
	return nil
}

func (r *connectionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Connection, string, error) {
	query := `
		SELECT ` + connectionColumns + `, encrypted_credentials
		FROM connections WHERE id = $1`

	var c models.Connection
	var encrypted string
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.DatabaseType, &c.Status, &c.OwnerID, &c.AnalyticsReady,
		&c.IsActive, &c.SyncFrequency, &c.MaxRetryAttempts, &c.LastTested, &c.LastSync,
		&c.CreatedAt, &c.UpdatedAt, &encrypted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", apperrors.ErrNotFound
		}
		return nil, "", fmt.Errorf("get connection: %w", err)
	}
	return &c, encrypted, nil
}

func (r *connectionRepository) List(ctx context.Context) ([]*models.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections ORDER BY created_at DESC`
	return r.queryConnections(ctx, query)
}

func (r *connectionRepository) ListActive(ctx context.Context) ([]*models.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE is_active ORDER BY created_at`
	return r.queryConnections(ctx, query)
}

func (r *connectionRepository) queryConnections(ctx context.Context, query string, args ...any) ([]*models.Connection, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query connections: %w", err)
	}
	defer rows.Close()

	var conns []*models.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connections: %w", err)
	}
	return conns, nil
}

func (r *connectionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.ConnectionStatus) error {
	query := `
		UPDATE connections
		SET status = $2, last_tested = now(), updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Pool.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("update connection status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *connectionRepository) MarkSynced(ctx context.Context, id uuid.UUID, syncedAt time.Time) error {
	query := `
		UPDATE connections
		SET status = 'connected', last_sync = $2, analytics_ready = TRUE, updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Pool.Exec(ctx, query, id, syncedAt)
	if err != nil {
		return fmt.Errorf("mark connection synced: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *connectionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	tag, err := tx.Exec(ctx,
		`UPDATE connections SET is_active = FALSE, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate connection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	_, err = tx.Exec(ctx,
		`UPDATE schedules SET is_active = FALSE, next_run = NULL, updated_at = now() WHERE connection_id = $1`, id)
	if err != nil {
		return fmt.Errorf("suspend schedule: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}
