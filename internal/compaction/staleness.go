package compaction

import (
	"context"
	"fmt"
	"time"

	"github.com/cortex-memory/cortex/internal/types"
)

// findStaleFacts returns active facts older than maxAgeDays whose
// consensus_score is below minConsensus — old AND never gained trust, as
// opposed to old-but-verified facts which stay.
func findStaleFacts(all []types.Fact, maxAgeDays int, minConsensus float64, now time.Time) []types.Fact {
	var out []types.Fact
	cutoff := time.Duration(maxAgeDays) * 24 * time.Hour
	for _, f := range all {
		if now.Sub(f.CreatedAt) > cutoff && f.ConsensusScore < minConsensus {
			out = append(out, f)
		}
	}
	return out
}

// executeStalenessPrune deprecates every stale fact it finds. There is no
// consolidated replacement fact here — staleness removes, it doesn't merge.
func executeStalenessPrune(ctx context.Context, e *Engine, req Request, result *Result) error {
	all, err := e.store.ListActive(ctx, req.TenantID, req.Project, "")
	if err != nil {
		return err
	}
	stale := findStaleFacts(all, req.MaxAgeDays, req.MinConsensus, time.Now().UTC())
	if len(stale) == 0 {
		return nil
	}

	prunedCount := 0
	for _, f := range stale {
		if !req.DryRun {
			if _, err := e.store.Deprecate(ctx, req.TenantID, f.ID, "stale"); err != nil {
				return fmt.Errorf("staleness_prune: deprecate %d: %w", f.ID, err)
			}
			result.DeprecatedIDs = append(result.DeprecatedIDs, f.ID)
		}
		prunedCount++
	}

	if prunedCount > 0 {
		result.StrategiesApplied = append(result.StrategiesApplied, string(StrategyStalenessPrune))
		result.Details = append(result.Details, fmt.Sprintf(
			"staleness_prune: deprecated %d fact(s) older than %dd with consensus below %.2f",
			prunedCount, req.MaxAgeDays, req.MinConsensus))
	}
	return nil
}
