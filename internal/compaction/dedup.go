package compaction

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/cortex-memory/cortex/internal/embedding"
	"github.com/cortex-memory/cortex/internal/types"
)

// findDuplicates partitions facts into duplicate groups (size > 1 only):
// first an exact pass keyed by normalized content hash, then a greedy
// near-duplicate pass over whatever didn't exact-match, comparing each
// candidate against a cluster's first member via near.
func findDuplicates(all []types.Fact, threshold float64, near func(a, b types.Fact) float64) [][]types.Fact {
	byHash := make(map[string][]types.Fact)
	for _, f := range all {
		h := contentHash(f.Content)
		byHash[h] = append(byHash[h], f)
	}

	var groups [][]types.Fact
	var remaining []types.Fact
	for _, g := range byHash {
		if len(g) > 1 {
			groups = append(groups, g)
		} else {
			remaining = append(remaining, g[0])
		}
	}

	var clusters [][]types.Fact
	for _, f := range remaining {
		placed := false
		for i := range clusters {
			if near(clusters[i][0], f) >= threshold {
				clusters[i] = append(clusters[i], f)
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, []types.Fact{f})
		}
	}
	for _, c := range clusters {
		if len(c) > 1 {
			groups = append(groups, c)
		}
	}
	return groups
}

// executeDedup deprecates every non-canonical member of each duplicate
// group, keeping the lowest-id (oldest) fact as canonical. Unlike
// merge_errors it never creates a new fact — the canonical is already a
// faithful copy of what's being removed.
func executeDedup(ctx context.Context, e *Engine, req Request, result *Result) error {
	all, err := e.store.ListActive(ctx, req.TenantID, req.Project, "")
	if err != nil {
		return err
	}

	near := func(a, b types.Fact) float64 {
		vecA, okA, err := e.embeddingFor(ctx, a.ID)
		if err != nil {
			okA = false
		}
		vecB, okB, err := e.embeddingFor(ctx, b.ID)
		if err != nil {
			okB = false
		}
		if okA && okB {
			return cosineSim(vecA, vecB)
		}
		return similarity(a.Content, b.Content)
	}
	groups := findDuplicates(all, req.SimilarityThreshold, near)

	mergedCount := 0
	for _, group := range groups {
		if !req.DryRun {
			if err := e.dedupGroup(ctx, req.TenantID, group, result); err != nil {
				return err
			}
		}
		mergedCount += len(group)
	}

	if mergedCount > 0 {
		result.StrategiesApplied = append(result.StrategiesApplied, string(StrategyDedup))
		result.Details = append(result.Details, fmt.Sprintf(
			"dedup: collapsed %d facts across %d group(s)", mergedCount, len(groups)))
	}
	return nil
}

func (e *Engine) dedupGroup(ctx context.Context, tenantID string, group []types.Fact, result *Result) error {
	sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })
	canonical := group[0]
	for _, f := range group[1:] {
		if _, err := e.store.Deprecate(ctx, tenantID, f.ID, fmt.Sprintf("compacted:dedup→#%d", canonical.ID)); err != nil {
			return err
		}
		result.DeprecatedIDs = append(result.DeprecatedIDs, f.ID)
	}
	return nil
}

// embeddingFor reads factID's stored embedding, if one has been backfilled.
// ok is false (not an error) whenever no row exists yet — embedding backfill
// is asynchronous, so a fresh fact may not have one.
func (e *Engine) embeddingFor(ctx context.Context, factID int64) ([]float32, bool, error) {
	var dims int
	var blob []byte
	err := e.db.QueryRowContext(ctx,
		`SELECT dims, embedding FROM fact_embeddings WHERE fact_id = ?`, factID,
	).Scan(&dims, &blob)
	if err != nil {
		return nil, false, nil
	}
	vec, err := embedding.DecodeVector(blob, dims)
	if err != nil {
		return nil, false, err
	}
	return vec, true, nil
}

func cosineSim(a, b []float32) float64 {
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
