package migrations

import (
	"context"
	"database/sql"
)

func init() {
	register(Migration{Version: 1, Name: "initial_schema", Up: upInitialSchema})
}

const initialSchemaDDL = `
CREATE TABLE IF NOT EXISTS facts (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	tenant_id        TEXT NOT NULL,
	project          TEXT NOT NULL,
	content          BLOB NOT NULL,
	content_alg      TEXT NOT NULL DEFAULT '',
	content_nonce    BLOB,
	fact_type        TEXT NOT NULL,
	tags             TEXT NOT NULL DEFAULT '[]',
	confidence       TEXT NOT NULL DEFAULT 'stated',
	source           TEXT NOT NULL DEFAULT '',
	meta             BLOB NOT NULL DEFAULT (x''),
	meta_alg         TEXT NOT NULL DEFAULT '',
	meta_nonce       BLOB,
	consensus_score  REAL NOT NULL DEFAULT 1.0,
	content_hash     TEXT NOT NULL,
	tx_id            INTEGER,
	valid_from       TEXT NOT NULL,
	valid_until      TEXT,
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_facts_tenant_project_active
	ON facts(tenant_id, project, valid_until);
CREATE INDEX IF NOT EXISTS idx_facts_tenant_content_hash
	ON facts(tenant_id, project, content_hash, valid_until);
CREATE INDEX IF NOT EXISTS idx_facts_tx_id ON facts(tx_id);

CREATE TABLE IF NOT EXISTS fact_embeddings (
	fact_id    INTEGER PRIMARY KEY REFERENCES facts(id) ON DELETE CASCADE,
	dims       INTEGER NOT NULL,
	embedding  BLOB NOT NULL,
	created_at TEXT NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS facts_fts USING fts5(
	content, project, tags, fact_type,
	content='', tokenize='porter unicode61'
);

CREATE TABLE IF NOT EXISTS ledger_transactions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	tenant_id  TEXT NOT NULL,
	project    TEXT NOT NULL,
	action     TEXT NOT NULL,
	detail     TEXT NOT NULL,
	prev_hash  TEXT NOT NULL,
	hash       TEXT NOT NULL,
	timestamp  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ledger_tenant_id ON ledger_transactions(tenant_id, id);

CREATE TABLE IF NOT EXISTS ledger_checkpoints (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	tenant_id    TEXT NOT NULL,
	root_hash    TEXT NOT NULL,
	tx_start_id  INTEGER NOT NULL,
	tx_end_id    INTEGER NOT NULL,
	tx_count     INTEGER NOT NULL,
	created_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_tenant ON ledger_checkpoints(tenant_id, tx_end_id);

CREATE TABLE IF NOT EXISTS integrity_checks (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	tenant_id    TEXT NOT NULL,
	valid        INTEGER NOT NULL,
	tx_checked   INTEGER NOT NULL,
	roots_checked INTEGER NOT NULL,
	violations   TEXT NOT NULL DEFAULT '[]',
	checked_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS agents (
	id                TEXT PRIMARY KEY,
	tenant_id         TEXT NOT NULL,
	name              TEXT NOT NULL,
	agent_type        TEXT NOT NULL DEFAULT '',
	reputation_score  REAL NOT NULL DEFAULT 1.0,
	public_key        TEXT,
	created_at        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS votes (
	fact_id           INTEGER NOT NULL REFERENCES facts(id) ON DELETE CASCADE,
	agent_id          TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
	value             INTEGER NOT NULL,
	vote_weight       REAL NOT NULL,
	agent_rep_at_vote REAL NOT NULL,
	created_at        TEXT NOT NULL,
	PRIMARY KEY (fact_id, agent_id)
);

CREATE TABLE IF NOT EXISTS api_keys (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	key_hash     TEXT NOT NULL UNIQUE,
	key_prefix   TEXT NOT NULL,
	tenant_id    TEXT NOT NULL,
	role         TEXT NOT NULL,
	permissions  TEXT NOT NULL DEFAULT '[]',
	rate_limit   INTEGER NOT NULL DEFAULT 0,
	is_active    INTEGER NOT NULL DEFAULT 1,
	created_at   TEXT NOT NULL,
	last_used    TEXT
);

CREATE INDEX IF NOT EXISTS idx_api_keys_tenant ON api_keys(tenant_id);

CREATE TABLE IF NOT EXISTS compaction_log (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	tenant_id       TEXT NOT NULL,
	project         TEXT NOT NULL,
	strategies      TEXT NOT NULL,
	deprecated_ids  TEXT NOT NULL DEFAULT '[]',
	new_fact_ids    TEXT NOT NULL DEFAULT '[]',
	count_before    INTEGER NOT NULL,
	count_after     INTEGER NOT NULL,
	dry_run         INTEGER NOT NULL DEFAULT 0,
	created_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS graph_entities (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	project    TEXT NOT NULL,
	name       TEXT NOT NULL,
	kind       TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS graph_relations (
	id            TEXT PRIMARY KEY,
	tenant_id     TEXT NOT NULL,
	project       TEXT NOT NULL,
	from_entity   TEXT NOT NULL REFERENCES graph_entities(id) ON DELETE CASCADE,
	to_entity     TEXT NOT NULL REFERENCES graph_entities(id) ON DELETE CASCADE,
	relation      TEXT NOT NULL,
	fact_id       INTEGER REFERENCES facts(id) ON DELETE SET NULL,
	created_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_graph_relations_from ON graph_relations(tenant_id, project, from_entity);
CREATE INDEX IF NOT EXISTS idx_graph_relations_to ON graph_relations(tenant_id, project, to_entity);

CREATE TABLE IF NOT EXISTS ghosts (
	id          TEXT PRIMARY KEY,
	tenant_id   TEXT NOT NULL,
	project     TEXT NOT NULL,
	fact_id     INTEGER REFERENCES facts(id) ON DELETE SET NULL,
	reason      TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL
);

`

// upInitialSchema bootstraps every table the engine depends on. facts_fts has
// no content-synchronizing trigger: fact content is encrypted at rest, so a
// trigger reading facts.content would only ever see ciphertext. The fact
// store writes the plaintext into facts_fts explicitly, in the same
// transaction as the encrypted facts row, while it still holds the plaintext
// in memory.
func upInitialSchema(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, initialSchemaDDL)
	return err
}
