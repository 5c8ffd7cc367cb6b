// Package sqlite implements the source connector for SQLite database files.
// The file path travels in the credentials' database field; host, port and
// username are unused.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"

	_ "github.com/mattn/go-sqlite3"

	"github.com/relaydata/relay-engine/pkg/adapters/source"
	"github.com/relaydata/relay-engine/pkg/crypto"
	"github.com/relaydata/relay-engine/pkg/sqlsafe"
)

// Connector reads one SQLite database file.
type Connector struct {
	db   *sql.DB
	opts source.Options
}

// New opens the database file read-only. Opening read-only also stops the
// driver from creating an empty file when the path is wrong, which would
// make every typo look like a healthy empty database.
func New(ctx context.Context, creds *crypto.Credentials, opts source.Options) (*Connector, error) {
	path := creds.Database
	if path == "" {
		return nil, fmt.Errorf("sqlite file path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("sqlite file: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?mode=ro&_busy_timeout=%d", url.PathEscape(path), opts.ConnectTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes access anyway; one connection avoids lock churn.
	db.SetMaxOpenConns(1)
	return &Connector{db: db, opts: opts}, nil
}

// TestConnection verifies the file is a readable SQLite database.
func (c *Connector) TestConnection(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	var result int
	if err := c.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}
	return nil
}

// ListTables enumerates user tables from sqlite_master. Row counts are exact
// since SQLite keeps no statistics catalog worth trusting.
func (c *Connector) ListTables(ctx context.Context) ([]source.TableInfo, error) {
	const query = `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var tables []source.TableInfo
	for rows.Next() {
		var t source.TableInfo
		if err := rows.Scan(&t.Name); err != nil {
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

		count, err := c.countRows(ctx, tables[i].Name)
		if err != nil {
			return nil, err
		}
		tables[i].ApproxRows = count
	}
	return tables, nil
}

func (c *Connector) listColumns(ctx context.Context, table string) ([]source.ColumnInfo, error) {
	if err := sqlsafe.ValidateIdentifier(table); err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info("%s")`, table))
	if err != nil {
		return nil, fmt.Errorf("table_info for %s: %w", table, err)
	}
	defer rows.Close()

	var cols []source.ColumnInfo
	for rows.Next() {
		var (
			cid      int
			name     string
			dataType string
			notNull  int
			dflt     sql.NullString
			pk       int
		)
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		cols = append(cols, source.ColumnInfo{
			Name:       name,
			DataType:   dataType,
			IsNullable: notNull == 0,
			IsPrimary:  pk > 0,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return cols, nil
}

func (c *Connector) countRows(ctx context.Context, table string) (int64, error) {
	if err := sqlsafe.ValidateIdentifier(table); err != nil {
		return 0, err
	}

	var count int64
	if err := c.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM "%s"`, table)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return count, nil
}

// StreamRows opens a batched cursor over one table.
func (c *Connector) StreamRows(ctx context.Context, table string) (source.RowIterator, error) {
	if err := sqlsafe.ValidateIdentifier(table); err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM "%s"`, table))
	if err != nil {
		return nil, fmt.Errorf("stream %s: %w", table, err)
	}
	return source.NewSQLRowIterator(rows, c.opts.BatchSize())
}

// Close releases the file handle.
func (c *Connector) Close() error {
	return c.db.Close()
}

var _ source.Connector = (*Connector)(nil)
