package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DatabaseType is the closed set of supported source database families.
// Dispatch to the connector registry happens on this value; anything outside
// the set is rejected at connection-creation time.
type DatabaseType string

const (
	DatabasePostgres  DatabaseType = "postgresql"
	DatabaseMySQL     DatabaseType = "mysql"
	DatabaseMongoDB   DatabaseType = "mongodb"
	DatabaseSQLite    DatabaseType = "sqlite"
	DatabaseOracle    DatabaseType = "oracle"
	DatabaseSQLServer DatabaseType = "mssql"
)

// ParseDatabaseType validates a raw database type value.
func ParseDatabaseType(raw string) (DatabaseType, error) {
	dt := DatabaseType(raw)
	switch dt {
	case DatabasePostgres, DatabaseMySQL, DatabaseMongoDB, DatabaseSQLite, DatabaseOracle, DatabaseSQLServer:
		return dt, nil
	}
	return "", fmt.Errorf("unknown database type %q", raw)
}

// ConnectionStatus is the lifecycle status of a registered connection.
type ConnectionStatus string

const (
	ConnectionStatusPending   ConnectionStatus = "pending"
	ConnectionStatusTesting   ConnectionStatus = "testing"
	ConnectionStatusConnected ConnectionStatus = "connected"
	ConnectionStatusFailed    ConnectionStatus = "failed"
)

// Connection is a registered external database that the user wants synced.
// Credentials are persisted only as the vault-encrypted blob; the plaintext
// payload never touches this struct.
type Connection struct {
	ID             uuid.UUID        `json:"id"`
	Name           string           `json:"name"`
	DatabaseType   DatabaseType     `json:"database_type"`
	Status         ConnectionStatus `json:"status"`
	OwnerID        uuid.UUID        `json:"owner_id"`
	AnalyticsReady bool             `json:"analytics_ready"`
	IsActive       bool             `json:"is_active"`
	SyncFrequency  string           `json:"sync_frequency"`
	// MaxRetryAttempts overrides the server-wide retry budget for this
	// connection's jobs. Zero means use the configured default.
	MaxRetryAttempts int        `json:"max_retry_attempts,omitempty"`
	LastTested       *time.Time `json:"last_tested,omitempty"`
	LastSync         *time.Time `json:"last_sync,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
