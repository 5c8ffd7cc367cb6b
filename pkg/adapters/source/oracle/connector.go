// Package oracle implements the source connector for Oracle Database. The
// credentials' database field carries the service name.
package oracle

import (
	"context"
	"database/sql"
	"fmt"

	go_ora "github.com/sijms/go-ora/v2"

	"github.com/relaydata/relay-engine/pkg/adapters/source"
	"github.com/relaydata/relay-engine/pkg/crypto"
	"github.com/relaydata/relay-engine/pkg/sqlsafe"
)

// Connector speaks to one Oracle schema through database/sql.
type Connector struct {
	db   *sql.DB
	opts source.Options
}

// New opens a connection using decrypted credentials.
func New(ctx context.Context, creds *crypto.Credentials, opts source.Options) (*Connector, error) {
	urlOpts := map[string]string{
		"TIMEOUT": fmt.Sprintf("%d", int(opts.ConnectTimeout.Seconds())),
	}
	if sid := creds.Params["sid"]; sid != "" {
		urlOpts["SID"] = sid
	}

	dsn := go_ora.BuildUrl(creds.Host, creds.Port, creds.Database, creds.Username, creds.Password, urlOpts)
	db, err := sql.Open("oracle", dsn)
	if err != nil {
		return nil, fmt.Errorf("open oracle: %w", err)
	}
	db.SetMaxOpenConns(4)
	return &Connector{db: db, opts: opts}, nil
}

// TestConnection verifies reachability and schema access.
func (c *Connector) TestConnection(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	var result int
	if err := c.db.QueryRowContext(ctx, "SELECT 1 FROM dual").Scan(&result); err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}
	return nil
}

// ListTables returns the connected user's tables. num_rows comes from the
// optimizer statistics and is null until the schema has been analyzed.
func (c *Connector) ListTables(ctx context.Context) ([]source.TableInfo, error) {
	const query = `
		SELECT table_name, COALESCE(num_rows, 0)
		FROM user_tables
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
		SELECT
			col.column_name,
			col.data_type,
			CASE WHEN col.nullable = 'Y' THEN 1 ELSE 0 END,
			CASE WHEN pk.column_name IS NOT NULL THEN 1 ELSE 0 END
		FROM user_tab_columns col
		LEFT JOIN (
			SELECT cc.column_name
			FROM user_constraints con
			JOIN user_cons_columns cc ON cc.constraint_name = con.constraint_name
			WHERE con.constraint_type = 'P' AND con.table_name = :1
		) pk ON col.column_name = pk.column_name
		WHERE col.table_name = :2
		ORDER BY col.column_id
	`

	rows, err := c.db.QueryContext(ctx, query, table, table)
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

	rows, err := c.db.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM "%s"`, table))
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
