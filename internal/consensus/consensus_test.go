package consensus

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/stretchr/testify/require"

	"github.com/cortex-memory/cortex/internal/types"
	"github.com/cortex-memory/cortex/internal/writer"
)

func newTestEngine(t *testing.T) (*Engine, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE facts (id INTEGER PRIMARY KEY, confidence TEXT NOT NULL DEFAULT 'stated', consensus_score REAL NOT NULL DEFAULT 1.0);
		CREATE TABLE agents (id TEXT PRIMARY KEY, tenant_id TEXT NOT NULL, reputation_score REAL NOT NULL);
		CREATE TABLE votes (
			fact_id INTEGER NOT NULL, agent_id TEXT NOT NULL, value INTEGER NOT NULL,
			vote_weight REAL NOT NULL, agent_rep_at_vote REAL NOT NULL, created_at TEXT NOT NULL,
			PRIMARY KEY (fact_id, agent_id)
		);
	`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO facts (id, confidence, consensus_score) VALUES (1, 'stated', 1.0)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO agents (id, tenant_id, reputation_score) VALUES ('agent-1', 't1', 2.0), ('agent-2', 't1', 3.0)`)
	require.NoError(t, err)

	w := writer.New(db, nil)
	w.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = w.Stop(ctx)
		db.Close()
	})
	return New(w, db), db
}

func TestVotePositiveIncreasesScore(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	score, tier, err := e.Vote(ctx, "t1", 1, "agent-1", 1)
	require.NoError(t, err)
	require.InDelta(t, 1.2, score, 1e-9)
	require.Equal(t, types.ConfidenceTier(""), tier)
}

func TestVoteReachesVerifiedTier(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, _, err := e.Vote(ctx, "t1", 1, "agent-1", 1)
	require.NoError(t, err)
	score, tier, err := e.Vote(ctx, "t1", 1, "agent-2", 1)
	require.NoError(t, err)
	require.GreaterOrEqual(t, score, 1.5)
	require.Equal(t, types.TierVerified, tier)
}

func TestVoteReachesDisputedTier(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, _, err := e.Vote(ctx, "t1", 1, "agent-1", -1)
	require.NoError(t, err)
	score, tier, err := e.Vote(ctx, "t1", 1, "agent-2", -1)
	require.NoError(t, err)
	require.LessOrEqual(t, score, 0.5)
	require.Equal(t, types.TierDisputed, tier)
}

func TestVoteZeroDeletesRow(t *testing.T) {
	e, db := newTestEngine(t)
	ctx := context.Background()

	_, _, err := e.Vote(ctx, "t1", 1, "agent-1", 1)
	require.NoError(t, err)
	_, _, err = e.Vote(ctx, "t1", 1, "agent-1", 0)
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM votes WHERE fact_id = 1 AND agent_id = 'agent-1'`).Scan(&count))
	require.Equal(t, 0, count)
}

func TestVoteScoreNeverNegative(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	score, _, err := e.Vote(ctx, "t1", 1, "agent-2", -1)
	require.NoError(t, err)
	require.GreaterOrEqual(t, score, 0.0)
}

func TestVoteUpsertReplacesPriorValue(t *testing.T) {
	e, db := newTestEngine(t)
	ctx := context.Background()

	_, _, err := e.Vote(ctx, "t1", 1, "agent-1", 1)
	require.NoError(t, err)
	_, _, err = e.Vote(ctx, "t1", 1, "agent-1", -1)
	require.NoError(t, err)

	var value int
	require.NoError(t, db.QueryRow(`SELECT value FROM votes WHERE fact_id = 1 AND agent_id = 'agent-1'`).Scan(&value))
	require.Equal(t, -1, value)
}

func TestVoteLegacyUsesUnweightedValue(t *testing.T) {
	e, db := newTestEngine(t)
	ctx := context.Background()

	_, err := db.Exec(`INSERT INTO agents (id, tenant_id, reputation_score) VALUES ('legacy-agent', 't1', 99.0)`)
	require.NoError(t, err)

	score, _, err := e.VoteLegacy(ctx, 1, "legacy-agent", 1)
	require.NoError(t, err)
	require.InDelta(t, 1.1, score, 1e-9, "legacy vote weight must ignore the agent's high reputation")
}
