package compaction

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/stretchr/testify/require"

	"github.com/cortex-memory/cortex/internal/canon"
	"github.com/cortex-memory/cortex/internal/cortexdb/migrations"
	"github.com/cortex-memory/cortex/internal/facts"
	"github.com/cortex-memory/cortex/internal/ledger"
	"github.com/cortex-memory/cortex/internal/types"
	"github.com/cortex-memory/cortex/internal/writer"
)

// insertRawFact writes a fact row directly, bypassing Store()'s write-time
// dedup check — it stands in for facts that predate compaction being wired
// in, or a second writer process, either of which can leave byte-identical
// active duplicates for the dedup strategy to find.
func insertRawFact(t *testing.T, db *sql.DB, project, content string, factType types.FactType) int64 {
	t.Helper()
	env, err := canon.Seal(testTenant, []byte(content))
	require.NoError(t, err)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := db.Exec(
		`INSERT INTO facts (tenant_id, project, content, content_alg, content_nonce, fact_type, tags, confidence,
			source, meta, meta_alg, meta_nonce, consensus_score, content_hash, tx_id, valid_from, valid_until, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, '[]', 'stated', '', x'', '', NULL, 1.0, ?, NULL, ?, NULL, ?, ?)`,
		testTenant, project, env.Ciphertext, env.Alg, env.Nonce, string(factType), content, now, now, now,
	)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

const testTenant = "t1"

func newTestEngine(t *testing.T) (*Engine, *facts.Store, *sql.DB) {
	t.Helper()
	canon.SetMasterKeyForTest([32]byte{4, 5, 6})

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	require.NoError(t, migrations.Run(context.Background(), db))

	w := writer.New(db, nil)
	w.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = w.Stop(ctx)
		db.Close()
	})

	l := ledger.New(w, db, 3, 10)
	store := facts.New(w, db, l, nil, nil)
	return New(w, db, store), store, db
}

func storeFact(t *testing.T, s *facts.Store, project, content string, factType types.FactType) int64 {
	t.Helper()
	id, err := s.Store(context.Background(), facts.StoreInput{
		TenantID: testTenant,
		Project:  project,
		Content:  content,
		FactType: factType,
	})
	require.NoError(t, err)
	return id
}

func TestDedupCollapsesExactDuplicates(t *testing.T) {
	e, s, db := newTestEngine(t)
	ctx := context.Background()
	insertRawFact(t, db, "p", "the sky is blue on a clear day", types.FactKnowledge)
	insertRawFact(t, db, "p", "the sky is blue on a clear day", types.FactKnowledge)
	storeFact(t, s, "p", "an entirely unrelated fact about rivers", types.FactKnowledge)

	result, err := e.Compact(ctx, Request{TenantID: testTenant, Project: "p", Strategies: []Strategy{StrategyDedup}})
	require.NoError(t, err)
	require.Contains(t, result.StrategiesApplied, "dedup")
	require.Equal(t, 3, result.OriginalCount)
	require.Equal(t, 2, result.CompactedCount)
	require.Len(t, result.DeprecatedIDs, 1)
}

func TestDedupDryRunChangesNothing(t *testing.T) {
	e, _, db := newTestEngine(t)
	ctx := context.Background()
	insertRawFact(t, db, "p", "duplicate content goes here twice", types.FactKnowledge)
	insertRawFact(t, db, "p", "duplicate content goes here twice", types.FactKnowledge)

	result, err := e.Compact(ctx, Request{TenantID: testTenant, Project: "p", DryRun: true, Strategies: []Strategy{StrategyDedup}})
	require.NoError(t, err)
	require.True(t, result.DryRun)
	require.Empty(t, result.DeprecatedIDs)
	require.Equal(t, result.OriginalCount, result.CompactedCount)
}

func TestDedupFindsNearDuplicates(t *testing.T) {
	e, s, _ := newTestEngine(t)
	ctx := context.Background()
	storeFact(t, s, "p", "this is a long sentence about testing", types.FactKnowledge)
	storeFact(t, s, "p", "this is a long sentence about testing things", types.FactKnowledge)

	result, err := e.Compact(ctx, Request{
		TenantID: testTenant, Project: "p",
		Strategies: []Strategy{StrategyDedup}, SimilarityThreshold: 0.8,
	})
	require.NoError(t, err)
	require.Contains(t, result.StrategiesApplied, "dedup")
	require.NotEmpty(t, result.DeprecatedIDs)
}

func TestDedupIsolatesProjects(t *testing.T) {
	e, s, _ := newTestEngine(t)
	ctx := context.Background()
	storeFact(t, s, "a", "same content across two different projects", types.FactKnowledge)
	storeFact(t, s, "b", "same content across two different projects", types.FactKnowledge)

	result, err := e.Compact(ctx, Request{TenantID: testTenant, Project: "a", Strategies: []Strategy{StrategyDedup}})
	require.NoError(t, err)
	require.Empty(t, result.DeprecatedIDs)
}

func TestMergeErrorsConsolidatesIdenticalErrors(t *testing.T) {
	e, s, db := newTestEngine(t)
	ctx := context.Background()
	insertRawFact(t, db, "p", "connection timeout to database server", types.FactError)
	insertRawFact(t, db, "p", "connection timeout to database server", types.FactError)
	insertRawFact(t, db, "p", "connection timeout to database server", types.FactError)

	result, err := e.Compact(ctx, Request{TenantID: testTenant, Project: "p", Strategies: []Strategy{StrategyMergeErrors}})
	require.NoError(t, err)
	require.Contains(t, result.StrategiesApplied, "merge_errors")
	require.Len(t, result.NewFactIDs, 1)
	require.Len(t, result.DeprecatedIDs, 3)

	merged, err := s.Recall(ctx, testTenant, "p", 10, 0)
	require.NoError(t, err)
	require.Len(t, merged, 1)
	require.Contains(t, merged[0].Content, "3×")
}

func TestMergeErrorsLeavesSingleErrorAlone(t *testing.T) {
	e, s, _ := newTestEngine(t)
	ctx := context.Background()
	storeFact(t, s, "p", "a one-off error that never repeats", types.FactError)

	result, err := e.Compact(ctx, Request{TenantID: testTenant, Project: "p", Strategies: []Strategy{StrategyMergeErrors}})
	require.NoError(t, err)
	require.NotContains(t, result.StrategiesApplied, "merge_errors")
	require.Empty(t, result.DeprecatedIDs)
}

func TestStalenessPruneDeprecatesOldLowConsensusFacts(t *testing.T) {
	e, s, db := newTestEngine(t)
	ctx := context.Background()
	id := storeFact(t, s, "p", "a fact that will become stale and unverified", types.FactKnowledge)
	old := time.Now().UTC().Add(-120 * 24 * time.Hour).Format(time.RFC3339Nano)
	_, err := db.Exec(`UPDATE facts SET created_at = ?, consensus_score = 0.3 WHERE id = ?`, old, id)
	require.NoError(t, err)

	result, err := e.Compact(ctx, Request{TenantID: testTenant, Project: "p", Strategies: []Strategy{StrategyStalenessPrune}, MaxAgeDays: 90, MinConsensus: 0.5})
	require.NoError(t, err)
	require.Contains(t, result.StrategiesApplied, "staleness_prune")
	require.Contains(t, result.DeprecatedIDs, id)
}

func TestStalenessPruneSparesHighConsensusFacts(t *testing.T) {
	e, s, db := newTestEngine(t)
	ctx := context.Background()
	id := storeFact(t, s, "p", "an old fact that has earned strong trust", types.FactKnowledge)
	old := time.Now().UTC().Add(-120 * 24 * time.Hour).Format(time.RFC3339Nano)
	_, err := db.Exec(`UPDATE facts SET created_at = ?, consensus_score = 0.9 WHERE id = ?`, old, id)
	require.NoError(t, err)

	result, err := e.Compact(ctx, Request{TenantID: testTenant, Project: "p", Strategies: []Strategy{StrategyStalenessPrune}, MaxAgeDays: 90, MinConsensus: 0.5})
	require.NoError(t, err)
	require.NotContains(t, result.DeprecatedIDs, id)
}

func TestCompactEmptyProjectIsNoop(t *testing.T) {
	e, _, _ := newTestEngine(t)
	result, err := e.Compact(context.Background(), Request{TenantID: testTenant, Project: "nonexistent"})
	require.NoError(t, err)
	require.Equal(t, 0, result.Reduction())
	require.Empty(t, result.Details)
}

func TestCompactFullPipelineReducesCount(t *testing.T) {
	e, s, db := newTestEngine(t)
	ctx := context.Background()
	insertRawFact(t, db, "p", "identical content for dedup testing purposes", types.FactKnowledge)
	insertRawFact(t, db, "p", "identical content for dedup testing purposes", types.FactKnowledge)
	insertRawFact(t, db, "p", "database connection refused by remote host", types.FactError)
	insertRawFact(t, db, "p", "database connection refused by remote host", types.FactError)
	storeFact(t, s, "p", "a wholly unique surviving fact about caching", types.FactDecision)

	result, err := e.Compact(ctx, Request{TenantID: testTenant, Project: "p"})
	require.NoError(t, err)
	require.Greater(t, result.Reduction(), 0)
	require.NotEmpty(t, result.StrategiesApplied)
}

func TestCompactLogsHistory(t *testing.T) {
	e, _, db := newTestEngine(t)
	ctx := context.Background()
	insertRawFact(t, db, "p", "duplicate entry for the history log test", types.FactKnowledge)
	insertRawFact(t, db, "p", "duplicate entry for the history log test", types.FactKnowledge)

	_, err := e.Compact(ctx, Request{TenantID: testTenant, Project: "p"})
	require.NoError(t, err)

	stats, err := e.CompactionStats(ctx, testTenant, "p")
	require.NoError(t, err)
	require.GreaterOrEqual(t, stats.TotalCompactions, 1)
	require.Greater(t, stats.TotalDeprecated, 0)
}

func TestCompactionStatsEmptyWhenNoHistory(t *testing.T) {
	e, _, _ := newTestEngine(t)
	stats, err := e.CompactionStats(context.Background(), testTenant, "")
	require.NoError(t, err)
	require.Equal(t, 0, stats.TotalCompactions)
}

func TestCompactSessionFormatsMarkdownGroupedByType(t *testing.T) {
	e, s, _ := newTestEngine(t)
	ctx := context.Background()
	storeFact(t, s, "p", "the system must never lose a committed fact", types.FactAxiom)
	storeFact(t, s, "p", "we decided to use sqlite for local storage", types.FactDecision)

	out, err := e.CompactSession(ctx, testTenant, "p", 10)
	require.NoError(t, err)
	require.Contains(t, out, "# p")
	require.Contains(t, out, "## Axiom")
	require.Contains(t, out, "## Decision")
}

func TestCompactSessionEmptyProject(t *testing.T) {
	e, _, _ := newTestEngine(t)
	out, err := e.CompactSession(context.Background(), testTenant, "empty", 10)
	require.NoError(t, err)
	require.Contains(t, out, "No active facts")
}
