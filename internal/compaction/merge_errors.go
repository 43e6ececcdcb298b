package compaction

import (
	"context"
	"fmt"
	"sort"

	"github.com/cortex-memory/cortex/internal/facts"
	"github.com/cortex-memory/cortex/internal/types"
)

// executeMergeErrors groups active error facts by exact content hash
// (no near-duplicate pass — an error message is either the same incident
// or a different one) and consolidates each group of 2+ into a single new
// fact recording the occurrence count, deprecating the originals.
func executeMergeErrors(ctx context.Context, e *Engine, req Request, result *Result) error {
	errFacts, err := e.store.ListActive(ctx, req.TenantID, req.Project, types.FactError)
	if err != nil {
		return err
	}
	if len(errFacts) <= 1 {
		return nil
	}

	byHash := make(map[string][]types.Fact)
	for _, f := range errFacts {
		h := contentHash(f.Content)
		byHash[h] = append(byHash[h], f)
	}

	mergedCount := 0
	uniqueGroups := 0
	for _, group := range byHash {
		if len(group) <= 1 {
			continue
		}
		uniqueGroups++
		if !req.DryRun {
			if err := e.mergeErrorGroup(ctx, req.TenantID, req.Project, group, result); err != nil {
				return err
			}
		}
		mergedCount += len(group)
	}

	if mergedCount > 0 {
		result.StrategiesApplied = append(result.StrategiesApplied, string(StrategyMergeErrors))
		result.Details = append(result.Details, fmt.Sprintf(
			"merge_errors: consolidated %d → %d error facts", mergedCount, uniqueGroups))
	}
	return nil
}

func (e *Engine) mergeErrorGroup(ctx context.Context, tenantID, project string, group []types.Fact, result *Result) error {
	sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })
	canonical := group[0]

	contents := make([]string, len(group))
	for i, f := range group {
		contents[i] = f.Content
	}
	merged := mergeErrorContents(contents)

	newID, err := e.store.Store(ctx, facts.StoreInput{
		TenantID:   tenantID,
		Project:    project,
		Content:    merged,
		FactType:   types.FactError,
		Tags:       canonical.Tags,
		Confidence: canonical.Confidence,
		Source:     "compactor:merge_errors",
	})
	if err != nil {
		return fmt.Errorf("merge_errors: store consolidated fact: %w", err)
	}
	result.NewFactIDs = append(result.NewFactIDs, newID)

	for _, f := range group {
		if _, err := e.store.Deprecate(ctx, tenantID, f.ID, fmt.Sprintf("compacted:merge_errors→#%d", newID)); err != nil {
			return fmt.Errorf("merge_errors: deprecate %d: %w", f.ID, err)
		}
		result.DeprecatedIDs = append(result.DeprecatedIDs, f.ID)
	}
	return nil
}
