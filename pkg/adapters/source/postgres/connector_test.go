package postgres

import (
	"context"
	"io"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydata/relay-engine/pkg/adapters/source"
	"github.com/relaydata/relay-engine/pkg/crypto"
	"github.com/relaydata/relay-engine/pkg/testhelpers"
)

const migrationsPath = "../../../../migrations"

// testCredentials derives connector credentials from the shared container's
// connection string.
func testCredentials(t *testing.T, connStr string) *crypto.Credentials {
	t.Helper()

	u, err := url.Parse(connStr)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	password, _ := u.User.Password()

	return &crypto.Credentials{
		Host:     u.Hostname(),
		Port:     port,
		Username: u.User.Username(),
		Password: password,
		Database: "relay_test",
		Params:   map[string]string{"sslmode": "disable"},
	}
}

func TestConnectorScopesToPublicSchema(t *testing.T) {
	tdb := testhelpers.GetTestDB(t, migrationsPath)
	ctx := context.Background()

	// A same-named table in another schema must not leak into the listing
	// or pollute the public table's column set.
	stmts := []string{
		`CREATE TABLE public.widgets (id BIGINT PRIMARY KEY, name TEXT)`,
		`CREATE SCHEMA IF NOT EXISTS internal`,
		`CREATE TABLE internal.widgets (serial_no TEXT, grade INT)`,
		`INSERT INTO public.widgets (id, name) VALUES (1, 'sprocket'), (2, 'gear')`,
		`INSERT INTO internal.widgets (serial_no, grade) VALUES ('X-1', 3)`,
	}
	for _, stmt := range stmts {
		_, err := tdb.Pool.Exec(ctx, stmt)
		require.NoError(t, err)
	}
	t.Cleanup(func() {
		_, _ = tdb.Pool.Exec(context.Background(), `DROP TABLE IF EXISTS public.widgets`)
		_, _ = tdb.Pool.Exec(context.Background(), `DROP SCHEMA IF EXISTS internal CASCADE`)
	})

	connector, err := New(ctx, testCredentials(t, tdb.ConnStr), source.Options{
		FetchBatchSize: 100,
		ConnectTimeout: 10 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = connector.Close() })

	require.NoError(t, connector.TestConnection(ctx))

	tables, err := connector.ListTables(ctx)
	require.NoError(t, err)

	var widgets *source.TableInfo
	for i := range tables {
		if tables[i].Name == "widgets" {
			require.Nil(t, widgets, "widgets listed more than once")
			widgets = &tables[i]
		}
	}
	require.NotNil(t, widgets, "public.widgets missing from the listing")

	names := make([]string, 0, len(widgets.Columns))
	for _, c := range widgets.Columns {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"id", "name"}, names)
	assert.Equal(t, []string{"id"}, widgets.PrimaryKey())

	it, err := connector.StreamRows(ctx, "widgets")
	require.NoError(t, err)
	t.Cleanup(func() { _ = it.Close() })

	batch, err := it.Next(ctx)
	require.NoError(t, err)
	require.Len(t, batch.Rows, 2)
	assert.Equal(t, 0, batch.Skipped)

	_, err = it.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}
