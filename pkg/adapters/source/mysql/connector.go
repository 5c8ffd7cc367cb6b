// Package mysql implements the source connector for MySQL and MariaDB.
package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/relaydata/relay-engine/pkg/adapters/source"
	"github.com/relaydata/relay-engine/pkg/crypto"
	"github.com/relaydata/relay-engine/pkg/sqlsafe"
)

// Connector speaks to one MySQL database through database/sql.
type Connector struct {
	db   *sql.DB
	opts source.Options
}

// buildDSN renders credentials into a driver DSN. mysql.Config handles
// escaping of special characters in the password.
func buildDSN(creds *crypto.Credentials, opts source.Options) string {
	cfg := mysql.NewConfig()
	cfg.User = creds.Username
	cfg.Passwd = creds.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", creds.Host, creds.Port)
	cfg.DBName = creds.Database
	cfg.ParseTime = true
	cfg.Timeout = opts.ConnectTimeout
	cfg.ReadTimeout = 0 // streaming reads are bounded by the job context
	return cfg.FormatDSN()
}

// New opens a connection using decrypted credentials.
func New(ctx context.Context, creds *crypto.Credentials, opts source.Options) (*Connector, error) {
	db, err := sql.Open("mysql", buildDSN(creds, opts))
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(4)
	return &Connector{db: db, opts: opts}, nil
}

// TestConnection verifies reachability and database access.
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

// ListTables returns base tables of the connected schema with approximate
// row counts from the statistics catalog.
func (c *Connector) ListTables(ctx context.Context) ([]source.TableInfo, error) {
	const query = `
		SELECT table_name, COALESCE(table_rows, 0)
		FROM information_schema.tables
		WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`

	rows, err := c.db.QueryContext(ctx, query)
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

func (c *Connector) listColumns(ctx context.Context, table string) ([]source.ColumnInfo, error) {
	const query = `
		SELECT column_name, data_type, is_nullable = 'YES', column_key = 'PRI'
		FROM information_schema.columns
		WHERE table_schema = DATABASE() AND table_name = ?
		ORDER BY ordinal_position
	`

	rows, err := c.db.QueryContext(ctx, query, table)
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

// StreamRows opens a batched cursor over one table.
func (c *Connector) StreamRows(ctx context.Context, table string) (source.RowIterator, error) {
	if err := sqlsafe.ValidateIdentifier(table); err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM `%s`", table))
	if err != nil {
		return nil, fmt.Errorf("stream %s: %w", table, err)
	}
	return source.NewSQLRowIterator(rows, c.opts.BatchSize())
}

// Close releases the connection.
func (c *Connector) Close() error {
	return c.db.Close()
}

var _ source.Connector = (*Connector)(nil)
