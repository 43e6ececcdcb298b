// Package migrations holds CORTEX's forward-only schema migrations. Each
// migration lives in its own file and self-registers via an init() call to
// register; Run applies every registered migration not yet recorded in
// schema_migrations, in ascending version order, inside one transaction
// each. Migrations never run twice and are never rewritten in place —
// a mistake gets fixed by adding a new migration, never by editing an old
// one.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
)

// Migration is one forward step in the schema's history.
type Migration struct {
	Version int
	Name    string
	Up      func(ctx context.Context, tx *sql.Tx) error
}

var registry []Migration

// register adds a migration to the package-level registry. Called from each
// migration file's init(). Panics on a duplicate version, since that always
// indicates two migrations were assigned the same number by mistake.
func register(m Migration) {
	for _, existing := range registry {
		if existing.Version == m.Version {
			panic(fmt.Sprintf("migrations: duplicate version %d (%s and %s)", m.Version, existing.Name, m.Name))
		}
	}
	registry = append(registry, m)
}

const createSchemaMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version     INTEGER PRIMARY KEY,
	name        TEXT NOT NULL,
	applied_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
)`

// Run applies every registered migration whose version is not already
// present in schema_migrations, in ascending order. Each migration runs in
// its own transaction; a failure mid-run leaves already-applied migrations
// committed and the schema_migrations table reflecting exactly what ran.
func Run(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, createSchemaMigrationsTable); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("scan schema_migrations: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate schema_migrations: %w", err)
	}
	rows.Close()

	ordered := make([]Migration, len(registry))
	copy(ordered, registry)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Version < ordered[j].Version })

	for _, m := range ordered {
		if applied[m.Version] {
			continue
		}
		if err := applyOne(ctx, db, m); err != nil {
			return fmt.Errorf("migration %d_%s: %w", m.Version, m.Name, err)
		}
	}
	return nil
}

func applyOne(ctx context.Context, db *sql.DB, m Migration) (retErr error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	if err := m.Up(ctx, tx); err != nil {
		return fmt.Errorf("up: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, m.Version, m.Name); err != nil {
		return fmt.Errorf("record version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
