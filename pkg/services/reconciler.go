package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relaydata/relay-engine/pkg/adapters/source"
	"github.com/relaydata/relay-engine/pkg/analytics"
	"github.com/relaydata/relay-engine/pkg/models"
	"github.com/relaydata/relay-engine/pkg/repositories"
)

// Reconciler is the sole writer of table sync metadata. The executor calls
// Record synchronously after each table lands, so the metadata always
// describes what is actually in the analytics store. Entries are never
// removed automatically; a table that vanished from the source keeps its
// last recorded state.
type Reconciler struct {
	tableStates repositories.TableStateRepository
	logger      *zap.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(tableStates repositories.TableStateRepository, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		tableStates: tableStates,
		logger:      logger.Named("reconciler"),
	}
}

// Record upserts the metadata row for one freshly synced table.
func (r *Reconciler) Record(ctx context.Context, connectionID uuid.UUID, table source.TableInfo, analyticsTable string, rowCount int64, syncedAt time.Time) error {
	cols := make([]models.CapturedColumn, 0, len(table.Columns))
	for _, c := range table.Columns {
		cols = append(cols, models.CapturedColumn{
			Name:       c.Name,
			DataType:   c.DataType,
			IsNullable: c.IsNullable,
			IsPrimary:  c.IsPrimary,
		})
	}

	state := &models.TableSyncState{
		ConnectionID:   connectionID,
		SourceTable:    table.Name,
		AnalyticsTable: analyticsTable,
		EntityLabel:    analytics.EntityLabel(table.Name),
		RowCount:       rowCount,
		Columns:        cols,
		LastSyncedAt:   syncedAt,
	}
	return r.tableStates.Upsert(ctx, state)
}

// ListTables returns the recorded metadata for one connection.
func (r *Reconciler) ListTables(ctx context.Context, connectionID uuid.UUID) ([]*models.TableSyncState, error) {
	return r.tableStates.ListByConnection(ctx, connectionID)
}
