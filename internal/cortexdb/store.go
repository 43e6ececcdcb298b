package cortexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/cortex-memory/cortex/internal/cortexdb/migrations"
)

// OpenWriter opens the single read-write connection the writer worker owns
// for the lifetime of the process. The pool is capped at one connection:
// SQLite permits exactly one writer, and serializing through a single
// *sql.DB connection lets the driver's own locking do the rest.
func OpenWriter(ctx context.Context, dbPath string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", ConnString(dbPath, false))
	if err != nil {
		return nil, fmt.Errorf("open writer db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping writer db: %w", err)
	}

	if err := migrations.Run(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

// OpenReader opens a single read-only connection for the bounded read pool.
// Callers are expected to open max such connections and manage them through
// internal/readpool rather than sharing one *sql.DB across goroutines with
// SetMaxOpenConns > 1, since SQLite's own write-lock semantics make a pool
// of independent connections easier to reason about than pooled handles
// inside one *sql.DB.
func OpenReader(ctx context.Context, dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", ConnString(dbPath, true))
	if err != nil {
		return nil, fmt.Errorf("open reader db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping reader db: %w", err)
	}
	return db, nil
}

// VectorExtensionAvailable reports whether a native vector-similarity SQLite
// extension is loaded. CORTEX's retrieval engine always treats this as
// false: no such extension ships in a pure-Go, cgo-free driver, so the
// semantic retrieval arm falls back to brute-force in-process cosine
// similarity unconditionally. The probe still runs (rather than being a
// hardcoded constant) so a future build that loads one is picked up without
// a code change to the retrieval package.
func VectorExtensionAvailable(ctx context.Context, db *sql.DB) bool {
	var name string
	err := db.QueryRowContext(ctx, `SELECT name FROM pragma_function_list WHERE name = 'vec_distance_cosine'`).Scan(&name)
	return err == nil
}
