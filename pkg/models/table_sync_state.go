package models

import (
	"time"

	"github.com/google/uuid"
)

// CapturedColumn is one column of a source table's schema as seen at the
// last successful sync.
type CapturedColumn struct {
	Name       string `json:"name"`
	DataType   string `json:"data_type"`
	IsNullable bool   `json:"is_nullable"`
	IsPrimary  bool   `json:"is_primary"`
}

// TableSyncState is the metadata registry entry mapping one source table to
// its materialized analytics table. Unique per (connection, source table);
// upserted by the metadata reconciler after each table load. This mapping is
// how downstream consumers discover what is queryable.
type TableSyncState struct {
	ID             uuid.UUID `json:"id"`
	ConnectionID   uuid.UUID `json:"connection_id"`
	SourceTable    string    `json:"source_table"`
	AnalyticsTable string    `json:"analytics_table"`
	// EntityLabel is a singularized display name for dashboarding tools.
	EntityLabel  string           `json:"entity_label"`
	RowCount     int64            `json:"row_count"`
	Columns      []CapturedColumn `json:"columns"`
	LastSyncedAt time.Time        `json:"last_synced_at"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}
