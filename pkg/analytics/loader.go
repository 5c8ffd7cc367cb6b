package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/relaydata/relay-engine/pkg/adapters/source"
	"github.com/relaydata/relay-engine/pkg/database"
)

// Metadata columns stamped onto every analytics row. They carry provenance
// so downstream queries can trace a row back to its source.
const (
	ColSourceConnectionID = "_source_connection_id"
	ColSourceTable        = "_source_table"
	ColExtractedAt        = "_extracted_at"
)

// Loader writes streamed source rows into per-table analytics tables.
type Loader struct {
	db     *database.DB
	logger *zap.Logger
}

// NewLoader creates a loader against the engine's own PostgreSQL store.
func NewLoader(db *database.DB, logger *zap.Logger) *Loader {
	return &Loader{db: db, logger: logger.Named("loader")}
}

// TableLoad is one open load for a single source table. Rows go straight
// into the target; batches accumulate until the caller reads the total.
type TableLoad interface {
	// Append bulk-copies one batch into the target table.
	Append(ctx context.Context, batch source.RowBatch) error
	// Loaded returns the rows written so far.
	Loaded() int64
	// TargetTable returns the analytics table this load writes to.
	TargetTable() string
	// ExtractedAt returns the provenance timestamp stamped on the rows.
	ExtractedAt() time.Time
}

type tableLoad struct {
	loader       *Loader
	connectionID uuid.UUID
	sourceTable  string
	targetTable  string
	columns      []source.ColumnInfo
	primaryKey   []string
	extractedAt  time.Time
	loaded       int64
}

var _ TableLoad = (*tableLoad)(nil)

// Begin prepares the target table for a fresh load: creates it if missing,
// reconciles drifted columns by rebuild, and clears prior contents. A sync
// is a full snapshot, so the previous rows are always replaced.
func (l *Loader) Begin(ctx context.Context, connectionID uuid.UUID, table source.TableInfo) (TableLoad, error) {
	target := TargetTableName(connectionID, table.Name)

	if err := l.ensureTable(ctx, target, table); err != nil {
		return nil, err
	}
	if _, err := l.db.Pool.Exec(ctx, fmt.Sprintf(`TRUNCATE %s`, pgx.Identifier{target}.Sanitize())); err != nil {
		return nil, fmt.Errorf("truncate %s: %w", target, err)
	}

	return &tableLoad{
		loader:       l,
		connectionID: connectionID,
		sourceTable:  table.Name,
		targetTable:  target,
		columns:      table.Columns,
		primaryKey:   table.PrimaryKey(),
		extractedAt:  time.Now().UTC(),
	}, nil
}

// ensureTable creates the target table, or rebuilds it when the captured
// source schema no longer matches the existing columns.
func (l *Loader) ensureTable(ctx context.Context, target string, table source.TableInfo) error {
	current, err := l.currentColumns(ctx, target)
	if err != nil {
		return err
	}
	if current != nil && columnsMatch(current, table.Columns) {
		return nil
	}
	if current != nil {
		l.logger.Info("source schema changed, rebuilding analytics table",
			zap.String("table", target))
		if _, err := l.db.Pool.Exec(ctx, fmt.Sprintf(`DROP TABLE %s`, pgx.Identifier{target}.Sanitize())); err != nil {
			return fmt.Errorf("drop %s: %w", target, err)
		}
	}

	var defs []string
	for _, col := range table.Columns {
		defs = append(defs, fmt.Sprintf("%s %s", pgx.Identifier{col.Name}.Sanitize(), pgType(col.DataType)))
	}
	defs = append(defs,
		fmt.Sprintf("%s UUID NOT NULL", ColSourceConnectionID),
		fmt.Sprintf("%s TEXT NOT NULL", ColSourceTable),
		fmt.Sprintf("%s TIMESTAMPTZ NOT NULL", ColExtractedAt),
	)

	ddl := fmt.Sprintf("CREATE TABLE %s (%s)", pgx.Identifier{target}.Sanitize(), strings.Join(defs, ", "))
	if _, err := l.db.Pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	return nil
}

// existingColumn is one source-data column of a target table as PostgreSQL
// reports it.
type existingColumn struct {
	name     string
	dataType string
}

// currentColumns returns the existing source-data columns of a target
// table, or nil when the table does not exist. Metadata columns are
// filtered out of the comparison.
func (l *Loader) currentColumns(ctx context.Context, target string) ([]existingColumn, error) {
	var exists bool
	err := l.db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`,
		target).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", target, err)
	}
	if !exists {
		return nil, nil
	}

	const query = `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
		ORDER BY ordinal_position`

	rows, err := l.db.Pool.Query(ctx, query, target)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", target, err)
	}
	defer rows.Close()

	cols := []existingColumn{}
	for rows.Next() {
		var col existingColumn
		if err := rows.Scan(&col.name, &col.dataType); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		if col.name == ColSourceConnectionID || col.name == ColSourceTable || col.name == ColExtractedAt {
			continue
		}
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return cols, nil
}

// columnsMatch compares names and storage types, so a source column whose
// type changed (say int to text) triggers a rebuild instead of relying on
// CopyFrom coercion into the stale column.
func columnsMatch(existing []existingColumn, captured []source.ColumnInfo) bool {
	if len(existing) != len(captured) {
		return false
	}
	for i, col := range captured {
		if existing[i].name != col.Name || existing[i].dataType != storedType(col.DataType) {
			return false
		}
	}
	return true
}

// storedType is pgType's spelling in information_schema.columns.
func storedType(sourceType string) string {
	switch pgType(sourceType) {
	case "BIGINT":
		return "bigint"
	case "DOUBLE PRECISION":
		return "double precision"
	case "BOOLEAN":
		return "boolean"
	case "TIMESTAMPTZ":
		return "timestamp with time zone"
	case "JSONB":
		return "jsonb"
	case "UUID":
		return "uuid"
	default:
		return "text"
	}
}

// pgType maps a source column type name onto a PostgreSQL storage type.
// Unknown types degrade to TEXT rather than failing the sync.
func pgType(sourceType string) string {
	t := strings.ToLower(sourceType)
	switch {
	case strings.Contains(t, "bigint"), strings.Contains(t, "int8"):
		return "BIGINT"
	case strings.Contains(t, "int"), strings.Contains(t, "serial"):
		return "BIGINT"
	case strings.Contains(t, "float"), strings.Contains(t, "double"), strings.Contains(t, "real"),
		strings.Contains(t, "decimal"), strings.Contains(t, "numeric"), t == "number":
		return "DOUBLE PRECISION"
	case strings.Contains(t, "bool"):
		return "BOOLEAN"
	case strings.Contains(t, "timestamp"), strings.Contains(t, "datetime"), t == "date":
		return "TIMESTAMPTZ"
	case strings.Contains(t, "json"), t == "object", t == "array":
		return "JSONB"
	case t == "uuid":
		return "UUID"
	default:
		return "TEXT"
	}
}

// Append bulk-copies one batch into the target table.
func (tl *tableLoad) Append(ctx context.Context, batch source.RowBatch) error {
	if len(batch.Rows) == 0 {
		return nil
	}

	cols := make([]string, 0, len(tl.columns)+3)
	for _, c := range tl.columns {
		cols = append(cols, c.Name)
	}
	cols = append(cols, ColSourceConnectionID, ColSourceTable, ColExtractedAt)

	rows := make([][]any, 0, len(batch.Rows))
	for _, row := range batch.Rows {
		vals := make([]any, 0, len(cols))
		for _, c := range tl.columns {
			vals = append(vals, copyValue(row[c.Name], c.DataType))
		}
		vals = append(vals, tl.connectionID, tl.sourceTable, tl.extractedAt)
		rows = append(rows, vals)
	}

	n, err := tl.loader.db.Pool.CopyFrom(ctx,
		pgx.Identifier{tl.targetTable},
		cols,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy into %s: %w", tl.targetTable, err)
	}
	tl.loaded += n
	return nil
}

// copyValue coerces a normalized source value into something pgx can encode
// for the column's storage type.
func copyValue(v any, sourceType string) any {
	if v == nil {
		return nil
	}
	if pgType(sourceType) == "JSONB" {
		switch val := v.(type) {
		case string:
			return val
		default:
			b, err := json.Marshal(val)
			if err != nil {
				return fmt.Sprintf("%v", val)
			}
			return string(b)
		}
	}
	if pgType(sourceType) == "TEXT" {
		switch val := v.(type) {
		case string:
			return val
		default:
			return fmt.Sprintf("%v", val)
		}
	}
	return v
}

// Loaded returns the rows written so far.
func (tl *tableLoad) Loaded() int64 {
	return tl.loaded
}

// TargetTable returns the analytics table this load writes to.
func (tl *tableLoad) TargetTable() string {
	return tl.targetTable
}

// ExtractedAt returns the provenance timestamp stamped on this load's rows.
func (tl *tableLoad) ExtractedAt() time.Time {
	return tl.extractedAt
}
