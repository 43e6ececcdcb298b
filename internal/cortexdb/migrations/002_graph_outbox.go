package migrations

import (
	"context"
	"database/sql"
)

func init() {
	register(Migration{Version: 2, Name: "graph_outbox", Up: upGraphOutbox})
}

const graphOutboxDDL = `
CREATE TABLE IF NOT EXISTS graph_outbox (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	tenant_id  TEXT NOT NULL,
	project    TEXT NOT NULL,
	fact_id    INTEGER NOT NULL REFERENCES facts(id) ON DELETE CASCADE,
	status     TEXT NOT NULL DEFAULT 'pending',
	retries    INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_graph_outbox_pending
	ON graph_outbox(status, id);
`

// upGraphOutbox backs the best-effort graph-extraction task queue: the fact
// store enqueues a row on every store, and a separate worker (not this
// migration's concern) drains pending rows, parking one after
// CORTEX_GRAPH_OUTBOX_MAX_RETRIES failures rather than retrying forever.
func upGraphOutbox(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, graphOutboxDDL)
	return err
}
