// Package mssql implements the source connector for Microsoft SQL Server
// using SQL authentication.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/relaydata/relay-engine/pkg/adapters/source"
	"github.com/relaydata/relay-engine/pkg/crypto"
	"github.com/relaydata/relay-engine/pkg/sqlsafe"
)

// Connector speaks to one SQL Server database through database/sql.
type Connector struct {
	db   *sql.DB
	opts source.Options
}

// buildDSN renders credentials into a sqlserver:// URL. url.URL handles
// escaping of special characters in the password.
func buildDSN(creds *crypto.Credentials, opts source.Options) string {
	query := url.Values{}
	query.Set("database", creds.Database)
	query.Set("dial timeout", fmt.Sprintf("%d", int(opts.ConnectTimeout.Seconds())))
	if enc := creds.Params["encrypt"]; enc != "" {
		query.Set("encrypt", enc)
	}

	u := url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(creds.Username, creds.Password),
		Host:     fmt.Sprintf("%s:%d", creds.Host, creds.Port),
		RawQuery: query.Encode(),
	}
	return u.String()
}

// New opens a connection using decrypted credentials.
func New(ctx context.Context, creds *crypto.Credentials, opts source.Options) (*Connector, error) {
	db, err := sql.Open("sqlserver", buildDSN(creds, opts))
	if err != nil {
		return nil, fmt.Errorf("open sqlserver: %w", err)
	}
	db.SetMaxOpenConns(4)
	return &Connector{db: db, opts: opts}, nil
}

// TestConnection verifies reachability and that the session landed in the
// requested database rather than the login's default.
func (c *Connector) TestConnection(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	var current string
	if err := c.db.QueryRowContext(ctx, "SELECT DB_NAME()").Scan(&current); err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}
	return nil
}

// ListTables returns base tables with approximate row counts from
// sys.partitions statistics.
func (c *Connector) ListTables(ctx context.Context) ([]source.TableInfo, error) {
	const query = `
		SELECT t.name, COALESCE(SUM(p.rows), 0)
		FROM sys.tables t
		LEFT JOIN sys.partitions p ON p.object_id = t.object_id AND p.index_id IN (0, 1)
		WHERE t.is_ms_shipped = 0
		GROUP BY t.name
		ORDER BY t.name
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
		SELECT
			col.COLUMN_NAME,
			col.DATA_TYPE,
			CASE WHEN col.IS_NULLABLE = 'YES' THEN 1 ELSE 0 END,
			CASE WHEN pk.COLUMN_NAME IS NOT NULL THEN 1 ELSE 0 END
		FROM INFORMATION_SCHEMA.COLUMNS col
		LEFT JOIN (
			SELECT kcu.COLUMN_NAME
			FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
			JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
				ON kcu.CONSTRAINT_NAME = tc.CONSTRAINT_NAME
			WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY' AND tc.TABLE_NAME = @p1
		) pk ON col.COLUMN_NAME = pk.COLUMN_NAME
		WHERE col.TABLE_NAME = @p1
		ORDER BY col.ORDINAL_POSITION
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

	rows, err := c.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM [%s]", table))
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
