package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/cortex-memory/cortex/internal/cortexerr"
	"github.com/cortex-memory/cortex/internal/embedding"
)

// semanticArm embeds the query and brute-force scans fact_embeddings for
// the top alpha*topK facts by cosine similarity. Per Open Question #3, no
// ANN index is available under the pure-Go driver, so this always runs the
// full scan rather than a filtered ANN lookup — correctness-equivalent,
// just without the index's speed advantage.
func (e *Engine) semanticArm(ctx context.Context, q Query) ([]rankedFact, error) {
	if e.embedder == nil {
		return nil, nil
	}
	queryVec, err := e.embedder.Encode(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	embedding.Normalize(queryVec)

	pred, predArgs := temporalPredicate(q.AsOf)
	projectPred, args := projectPredicate(q.Project, []any{q.TenantID})
	query := `SELECT f.id, e.dims, e.embedding FROM fact_embeddings e
		JOIN facts f ON f.id = e.fact_id
		WHERE f.tenant_id = ? AND ` + projectPred + ` AND ` + pred
	args = append(args, predArgs...)

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: semantic scan: %s", cortexerr.ErrStorage, err)
	}
	defer rows.Close()

	type scored struct {
		factID int64
		score  float64
	}
	var candidates []scored
	for rows.Next() {
		var factID int64
		var dims int
		var blob []byte
		if err := rows.Scan(&factID, &dims, &blob); err != nil {
			return nil, fmt.Errorf("%w: scan embedding row: %s", cortexerr.ErrStorage, err)
		}
		vec, err := embedding.DecodeVector(blob, dims)
		if err != nil {
			continue // corrupt/mismatched row never blocks the arm
		}
		candidates = append(candidates, scored{factID: factID, score: cosineSimilarity(queryVec, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate embedding rows: %s", cortexerr.ErrStorage, err)
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	overscan := q.TopK * annOverscanAlpha
	if overscan > len(candidates) {
		overscan = len(candidates)
	}
	out := make([]rankedFact, overscan)
	for i := 0; i < overscan; i++ {
		out[i] = rankedFact{factID: candidates[i].factID, rank: i + 1}
	}
	return out, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return -1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// lexicalArm runs an FTS5 MATCH over the tokenized shadow index, joined
// back to facts for the tenant/project/temporal filters facts_fts itself
// can't express (it's contentless and carries no tenant_id column).
func (e *Engine) lexicalArm(ctx context.Context, q Query) ([]rankedFact, error) {
	pred, predArgs := temporalPredicate(q.AsOf)
	projectPred, args := projectPredicate(q.Project, []any{q.Text, q.TenantID})
	query := `SELECT f.id FROM facts_fts
		JOIN facts f ON f.id = facts_fts.rowid
		WHERE facts_fts MATCH ? AND f.tenant_id = ? AND ` + projectPred + ` AND ` + pred + `
		ORDER BY bm25(facts_fts)
		LIMIT ?`
	args = append(args, predArgs...)
	args = append(args, q.TopK*annOverscanAlpha)

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lexical match: %w", err)
	}
	defer rows.Close()

	var out []rankedFact
	rank := 1
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan lexical row: %w", err)
		}
		out = append(out, rankedFact{factID: id, rank: rank})
		rank++
	}
	return out, rows.Err()
}
