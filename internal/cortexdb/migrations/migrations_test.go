package migrations

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/stretchr/testify/require"
)

func openMemDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunAppliesRegisteredMigrations(t *testing.T) {
	db := openMemDB(t)
	ctx := context.Background()

	require.NoError(t, Run(ctx, db))

	var name string
	err := db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name='facts'`).Scan(&name)
	require.NoError(t, err)
	require.Equal(t, "facts", name)
}

func TestRunIsIdempotent(t *testing.T) {
	db := openMemDB(t)
	ctx := context.Background()

	require.NoError(t, Run(ctx, db))
	require.NoError(t, Run(ctx, db), "running migrations twice must not fail")

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&count))
	require.Equal(t, len(registry), count)
}

func TestRegisterPanicsOnDuplicateVersion(t *testing.T) {
	saved := registry
	defer func() { registry = saved }()
	registry = nil

	register(Migration{Version: 1, Name: "a", Up: func(context.Context, *sql.Tx) error { return nil }})

	require.Panics(t, func() {
		register(Migration{Version: 1, Name: "b", Up: func(context.Context, *sql.Tx) error { return nil }})
	})
}
