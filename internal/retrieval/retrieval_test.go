package retrieval

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
	"github.com/cortex-memory/cortex/internal/embedding"
)

func newTestEngine(t *testing.T) (*Engine, *sql.DB) {
	t.Helper()
	canon.SetMasterKeyForTest([32]byte{9, 9, 9})

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	require.NoError(t, migrations.Run(context.Background(), db))
	t.Cleanup(func() { db.Close() })

	return New(db, embedding.NewHashingProvider(32)), db
}

func insertFact(t *testing.T, db *sql.DB, tenantID, project, content string) int64 {
	t.Helper()
	env, err := canon.Seal(tenantID, []byte(content))
	require.NoError(t, err)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := db.Exec(
		`INSERT INTO facts (tenant_id, project, content, content_alg, content_nonce, fact_type, tags, confidence,
			source, meta, meta_alg, meta_nonce, consensus_score, content_hash, tx_id, valid_from, valid_until, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 'knowledge', '[]', 'stated', '', x'', '', NULL, 1.0, ?, NULL, ?, NULL, ?, ?)`,
		tenantID, project, env.Ciphertext, env.Alg, env.Nonce, content, now, now, now,
	)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO facts_fts (rowid, content, project, tags, fact_type) VALUES (?, ?, ?, '', 'knowledge')`, id, content, project)
	require.NoError(t, err)
	return id
}

func TestSearchFindsFactByLexicalMatch(t *testing.T) {
	e, db := newTestEngine(t)
	ctx := context.Background()
	insertFact(t, db, "t1", "proj", "the quick brown fox jumps over the lazy dog")
	insertFact(t, db, "t1", "proj", "completely unrelated content about weather patterns")

	results, err := e.Search(ctx, Query{TenantID: "t1", Project: "proj", Text: "fox", TopK: 5})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Contains(t, results[0].Content, "fox")
}

func TestSearchIsolatesTenants(t *testing.T) {
	e, db := newTestEngine(t)
	ctx := context.Background()
	insertFact(t, db, "t1", "proj", "tenant one secret project notes here")
	insertFact(t, db, "t2", "proj", "tenant two secret project notes here")

	results, err := e.Search(ctx, Query{TenantID: "t1", Project: "proj", Text: "secret", TopK: 5})
	require.NoError(t, err)
	for _, r := range results {
		require.NotContains(t, r.Content, "tenant two")
	}
}

func TestSearchRespectsTopK(t *testing.T) {
	e, db := newTestEngine(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		insertFact(t, db, "t1", "proj", "repeated searchable content item for ranking test")
	}

	results, err := e.Search(ctx, Query{TenantID: "t1", Project: "proj", Text: "searchable", TopK: 2})
	require.NoError(t, err)
	require.LessOrEqual(t, len(results), 2)
}

func TestFuseRRFCombinesBothArms(t *testing.T) {
	semantic := []rankedFact{{factID: 1, rank: 1}, {factID: 2, rank: 2}}
	lexical := []rankedFact{{factID: 2, rank: 1}, {factID: 3, rank: 2}}

	fused, scores := fuseRRF(10, semantic, lexical)
	require.Contains(t, fused, int64(2))
	require.Equal(t, int64(2), fused[0], "fact ranked highly by both arms should win fusion")
	require.Greater(t, scores[2], scores[1])
}

func TestFuseRRFCapsAtTopK(t *testing.T) {
	var arm []rankedFact
	for i := int64(1); i <= 20; i++ {
		arm = append(arm, rankedFact{factID: i, rank: int(i)})
	}
	fused, _ := fuseRRF(5, arm)
	require.Len(t, fused, 5)
}

func TestSearchWithNoEmbedderFallsBackToLexicalOnly(t *testing.T) {
	canon.SetMasterKeyForTest([32]byte{1})
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	require.NoError(t, migrations.Run(context.Background(), db))
	t.Cleanup(func() { db.Close() })
	insertFact(t, db, "t1", "proj", "lexical only fallback content for testing")

	e := New(db, nil)
	results, err := e.Search(context.Background(), Query{TenantID: "t1", Project: "proj", Text: "lexical", TopK: 5})
	require.NoError(t, err)
	require.NotEmpty(t, results)
}
