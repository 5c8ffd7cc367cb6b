// Package source defines the capability contract implemented by each
// supported database family. The job executor and metadata reconciler only
// ever see this contract; dialect variance stays inside the family packages.
package source

import "context"

// Connector is the uniform contract over one external database.
// Each implementation owns its connection and must be closed when done.
type Connector interface {
	// TestConnection verifies the database is reachable with valid
	// credentials. The caller bounds it with a deadline context.
	TestConnection(ctx context.Context) error

	// ListTables returns descriptors for all user tables, sorted by name.
	ListTables(ctx context.Context) ([]TableInfo, error)

	// StreamRows opens a bounded-memory stream over one table's rows.
	// The iterator must be closed by the caller.
	StreamRows(ctx context.Context, table string) (RowIterator, error)

	// Close releases the underlying connection.
	Close() error
}

// RowIterator yields a table's rows in batches. Rows that fail to decode
// are dropped and surfaced through RowBatch.Skipped rather than aborting
// the stream.
type RowIterator interface {
	// Next fetches the next batch. It returns io.EOF when the table is
	// exhausted; any other error aborts the stream.
	Next(ctx context.Context) (RowBatch, error)

	// Close releases the cursor. Safe to call after io.EOF.
	Close() error
}

// Row is one source record keyed by column name.
type Row map[string]any

// RowBatch is one bounded chunk of streamed rows.
type RowBatch struct {
	Rows []Row
	// Skipped counts rows in this chunk that failed to decode.
	Skipped int
}

// TableInfo describes a source table.
type TableInfo struct {
	Name       string       `json:"name"`
	ApproxRows int64        `json:"approx_rows"`
	Columns    []ColumnInfo `json:"columns"`
}

// PrimaryKey returns the names of primary key columns, in column order.
func (t TableInfo) PrimaryKey() []string {
	var pk []string
	for _, c := range t.Columns {
		if c.IsPrimary {
			pk = append(pk, c.Name)
		}
	}
	return pk
}

// ColumnInfo describes one column of a source table.
type ColumnInfo struct {
	Name       string `json:"name"`
	DataType   string `json:"data_type"`
	IsNullable bool   `json:"is_nullable"`
	IsPrimary  bool   `json:"is_primary"`
}
