package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/relaydata/relay-engine/pkg/apperrors"
	"github.com/relaydata/relay-engine/pkg/database"
	"github.com/relaydata/relay-engine/pkg/models"
)

// TableStateRepository defines data access for per-table sync metadata.
// The reconciler is the only writer; handlers read.
type TableStateRepository interface {
	// Upsert inserts or replaces the state row for (connection, table).
	Upsert(ctx context.Context, state *models.TableSyncState) error

	// ListByConnection retrieves all table states for a connection,
	// sorted by source table name. Rows are never deleted automatically;
	// a table dropped from the source keeps its last recorded state.
	ListByConnection(ctx context.Context, connectionID uuid.UUID) ([]*models.TableSyncState, error)
}

type tableStateRepository struct {
	db *database.DB
}

// NewTableStateRepository creates a PostgreSQL-backed table state repository.
func NewTableStateRepository(db *database.DB) TableStateRepository {
	return &tableStateRepository{db: db}
}

func (r *tableStateRepository) Upsert(ctx context.Context, state *models.TableSyncState) error {
	schemaJSON, err := json.Marshal(state.Columns)
	if err != nil {
		return fmt.Errorf("marshal captured schema: %w", err)
	}

	query := `
		INSERT INTO table_sync_states (connection_id, source_table, analytics_table, entity_label,
			row_count, captured_schema, last_synced_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		ON CONFLICT (connection_id, source_table) DO UPDATE SET
			analytics_table = EXCLUDED.analytics_table,
			entity_label = EXCLUDED.entity_label,
			row_count = EXCLUDED.row_count,
			captured_schema = EXCLUDED.captured_schema,
			last_synced_at = EXCLUDED.last_synced_at,
			updated_at = now()
		RETURNING id, created_at, updated_at`

	err = r.db.Pool.QueryRow(ctx, query,
		state.ConnectionID,
		state.SourceTable,
		state.AnalyticsTable,
		state.EntityLabel,
		state.RowCount,
		string(schemaJSON),
		state.LastSyncedAt,
	).Scan(&state.ID, &state.CreatedAt, &state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert table state: %w", err)
	}
	return nil
}

func (r *tableStateRepository) ListByConnection(ctx context.Context, connectionID uuid.UUID) ([]*models.TableSyncState, error) {
	query := `
		SELECT id, connection_id, source_table, analytics_table, entity_label, row_count,
			captured_schema, last_synced_at, created_at, updated_at
		FROM table_sync_states
		WHERE connection_id = $1
		ORDER BY source_table`

	rows, err := r.db.Pool.Query(ctx, query, connectionID)
	if err != nil {
		return nil, fmt.Errorf("query table states: %w", err)
	}
	defer rows.Close()

	var states []*models.TableSyncState
	for rows.Next() {
		var s models.TableSyncState
		var schemaJSON []byte
		err := rows.Scan(&s.ID, &s.ConnectionID, &s.SourceTable, &s.AnalyticsTable, &s.EntityLabel,
			&s.RowCount, &schemaJSON, &s.LastSyncedAt, &s.CreatedAt, &s.UpdatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, apperrors.ErrNotFound
			}
			return nil, fmt.Errorf("scan table state: %w", err)
		}
		if err := json.Unmarshal(schemaJSON, &s.Columns); err != nil {
			return nil, fmt.Errorf("decode captured schema for %s: %w", s.SourceTable, err)
		}
		states = append(states, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table states: %w", err)
	}
	return states, nil
}
