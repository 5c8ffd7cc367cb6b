// Package postgres implements the source connector for PostgreSQL and
// wire-compatible engines (Aurora PostgreSQL, Supabase).
package postgres

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaydata/relay-engine/pkg/adapters/source"
	"github.com/relaydata/relay-engine/pkg/crypto"
	"github.com/relaydata/relay-engine/pkg/sqlsafe"
)

// Connector speaks to one PostgreSQL database over a pgx pool.
type Connector struct {
	pool *pgxpool.Pool
	opts source.Options
}

// buildConnectionString builds a PostgreSQL URL with proper escaping.
// All user-provided fields are URL-escaped so special characters in
// passwords (@, /, #, ?) do not break URL parsing.
func buildConnectionString(creds *crypto.Credentials, connectTimeout time.Duration) string {
	sslMode := creds.Params["sslmode"]
	if sslMode == "" {
		sslMode = "prefer"
	}

	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s&connect_timeout=%d",
		url.QueryEscape(creds.Username),
		url.QueryEscape(creds.Password),
		creds.Host,
		creds.Port,
		url.QueryEscape(creds.Database),
		sslMode,
		int(connectTimeout.Seconds()),
	)
}

// New opens a pooled connection using decrypted credentials.
func New(ctx context.Context, creds *crypto.Credentials, opts source.Options) (*Connector, error) {
	cfg, err := pgxpool.ParseConfig(buildConnectionString(creds, opts.ConnectTimeout))
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	// Sync jobs stream one table at a time; a small pool is enough.
	cfg.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return &Connector{pool: pool, opts: opts}, nil
}

// TestConnection verifies the server is reachable and the credentials grant
// access to the configured database.
func (c *Connector) TestConnection(ctx context.Context) error {
	if err := c.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	var result int
	if err := c.pool.QueryRow(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}
	return nil
}

// ListTables returns the public-schema base tables with estimated row
// counts and columns. Only public is synced; a table name outside it could
// collide with a public one and merge two relations into one listing.
func (c *Connector) ListTables(ctx context.Context) ([]source.TableInfo, error) {
	const query = `
		SELECT
			t.table_name,
			COALESCE(cls.reltuples::bigint, 0) AS approx_rows
		FROM information_schema.tables t
		LEFT JOIN pg_class cls ON cls.relname = t.table_name
			AND cls.relnamespace = 'public'::regnamespace
		WHERE t.table_type = 'BASE TABLE'
		  AND t.table_schema = 'public'
		ORDER BY t.table_name
	`

	rows, err := c.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var tables []source.TableInfo
	for rows.Next() {
		var t source.TableInfo
		if err := rows.Scan(&t.Name, &t.ApproxRows); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}

	for i := range tables {
		cols, err := c.listColumns(ctx, tables[i].Name)
		if err != nil {
			return nil, err
		}
		tables[i].Columns = cols
	}
	return tables, nil
}

// listColumns introspects one table. pg_index.indisprimary detects primary
// keys even when created as unique indexes by an ORM.
func (c *Connector) listColumns(ctx context.Context, table string) ([]source.ColumnInfo, error) {
	const query = `
		SELECT
			col.column_name,
			col.data_type,
			col.is_nullable = 'YES' AS is_nullable,
			COALESCE(pk.is_pk, false) AS is_primary
		FROM information_schema.columns col
		LEFT JOIN (
			SELECT a.attname AS column_name, true AS is_pk
			FROM pg_index ix
			JOIN pg_class t ON t.oid = ix.indrelid
			JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
			WHERE ix.indisprimary AND t.relname = $1
			  AND t.relnamespace = 'public'::regnamespace
		) pk ON col.column_name = pk.column_name
		WHERE col.table_name = $1
		  AND col.table_schema = 'public'
		ORDER BY col.ordinal_position
	`

	rows, err := c.pool.Query(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("query columns for %s: %w", table, err)
	}
	defer rows.Close()

	var cols []source.ColumnInfo
	for rows.Next() {
		var col source.ColumnInfo
		if err := rows.Scan(&col.Name, &col.DataType, &col.IsNullable, &col.IsPrimary); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return cols, nil
}

// StreamRows opens a batched cursor over one table. The relation is
// schema-qualified so search_path cannot redirect the read.
func (c *Connector) StreamRows(ctx context.Context, table string) (source.RowIterator, error) {
	if err := sqlsafe.ValidateIdentifier(table); err != nil {
		return nil, err
	}

	rows, err := c.pool.Query(ctx, fmt.Sprintf(`SELECT * FROM %s`, pgx.Identifier{"public", table}.Sanitize()))
	if err != nil {
		return nil, fmt.Errorf("stream %s: %w", table, err)
	}
	return &rowIterator{rows: rows, batchSize: c.opts.BatchSize()}, nil
}

// Close releases the pool.
func (c *Connector) Close() error {
	c.pool.Close()
	return nil
}

// rowIterator adapts a pgx cursor to the source.RowIterator contract.
type rowIterator struct {
	rows      pgx.Rows
	fields    []string
	batchSize int
	done      bool
}

func (it *rowIterator) Next(ctx context.Context) (source.RowBatch, error) {
	if it.done {
		return source.RowBatch{}, io.EOF
	}
	if it.fields == nil {
		descs := it.rows.FieldDescriptions()
		it.fields = make([]string, len(descs))
		for i, d := range descs {
			it.fields[i] = d.Name
		}
	}

	batch := source.RowBatch{Rows: make([]source.Row, 0, it.batchSize)}
	for len(batch.Rows) < it.batchSize {
		if err := ctx.Err(); err != nil {
			return source.RowBatch{}, err
		}
		if !it.rows.Next() {
			it.done = true
			if err := it.rows.Err(); err != nil {
				return source.RowBatch{}, err
			}
			break
		}

		vals, err := it.rows.Values()
		if err != nil {
			batch.Skipped++
			continue
		}
		row := make(source.Row, len(it.fields))
		for i, name := range it.fields {
			row[name] = normalizeValue(vals[i])
		}
		batch.Rows = append(batch.Rows, row)
	}

	if len(batch.Rows) == 0 && batch.Skipped == 0 {
		return source.RowBatch{}, io.EOF
	}
	return batch, nil
}

func (it *rowIterator) Close() error {
	it.rows.Close()
	return nil
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case [16]byte: // pgtype UUID raw form
		return fmt.Sprintf("%x-%x-%x-%x-%x", val[0:4], val[4:6], val[6:8], val[8:10], val[10:16])
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC()
	default:
		return v
	}
}

var _ source.Connector = (*Connector)(nil)
