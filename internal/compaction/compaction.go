// Package compaction fights context rot: it deduplicates near-identical
// facts, consolidates repeated errors into one consolidated fact, and
// deprecates old low-consensus facts. Every strategy deprecates, it never
// deletes — the ledger hash-chain and time_travel stay intact across a
// compaction run.
package compaction

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cortex-memory/cortex/internal/facts"
	"github.com/cortex-memory/cortex/internal/writer"
)

// Strategy names one compaction pass.
type Strategy string

const (
	StrategyDedup          Strategy = "dedup"
	StrategyMergeErrors    Strategy = "merge_errors"
	StrategyStalenessPrune Strategy = "staleness_prune"
)

// AllStrategies runs in the fixed order dedup, merge_errors,
// staleness_prune — dedup first so merge_errors never has to consider a
// group dedup already collapsed.
func AllStrategies() []Strategy {
	return []Strategy{StrategyDedup, StrategyMergeErrors, StrategyStalenessPrune}
}

const (
	DefaultSimilarityThreshold = 0.85
	DefaultMaxAgeDays          = 90
	DefaultMinConsensus        = 0.5
)

// Request configures one Compact call. Zero values fall back to the
// defaults above; a nil Strategies list runs every strategy.
type Request struct {
	TenantID            string
	Project             string
	Strategies          []Strategy
	DryRun              bool
	SimilarityThreshold float64
	MaxAgeDays          int
	MinConsensus        float64
}

func (r *Request) applyDefaults() {
	if r.Strategies == nil {
		r.Strategies = AllStrategies()
	}
	if r.SimilarityThreshold <= 0 {
		r.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if r.MaxAgeDays <= 0 {
		r.MaxAgeDays = DefaultMaxAgeDays
	}
	if r.MinConsensus <= 0 {
		r.MinConsensus = DefaultMinConsensus
	}
}

// Result is the outcome of one compaction run.
type Result struct {
	Project           string
	StrategiesApplied []string
	OriginalCount     int
	CompactedCount    int
	DeprecatedIDs     []int64
	NewFactIDs        []int64
	DryRun            bool
	Details           []string
}

// Reduction is the net fact count removed by the run.
func (r Result) Reduction() int {
	return r.OriginalCount - r.CompactedCount
}

// Engine runs compaction strategies against one tenant's fact store.
type Engine struct {
	w     *writer.Worker
	db    *sql.DB
	store *facts.Store
	log   *slog.Logger
}

// New constructs a compaction Engine. store is used for every mutation
// (Store for consolidated facts, Deprecate for originals) so compaction
// never bypasses the fact lifecycle's validation, encryption, or ledger
// append.
func New(w *writer.Worker, db *sql.DB, store *facts.Store) *Engine {
	return &Engine{w: w, db: db, store: store, log: slog.Default().With("component", "cortex.compaction")}
}

type strategyFunc func(ctx context.Context, e *Engine, req Request, result *Result) error

var strategyDispatch = map[Strategy]strategyFunc{
	StrategyDedup:          executeDedup,
	StrategyMergeErrors:    executeMergeErrors,
	StrategyStalenessPrune: executeStalenessPrune,
}

// Compact applies req's strategies in the fixed order
// dedup → merge_errors → staleness_prune, regardless of the order they
// appear in req.Strategies; dedup must run first so merge_errors never
// reconsiders a group dedup already collapsed.
func (e *Engine) Compact(ctx context.Context, req Request) (Result, error) {
	req.applyDefaults()
	wanted := make(map[Strategy]bool, len(req.Strategies))
	for _, s := range req.Strategies {
		wanted[s] = true
	}

	countBefore, err := e.activeCount(ctx, req.TenantID, req.Project)
	if err != nil {
		return Result{}, err
	}

	result := Result{Project: req.Project, OriginalCount: countBefore, DryRun: req.DryRun}

	for _, s := range AllStrategies() {
		if !wanted[s] {
			continue
		}
		fn := strategyDispatch[s]
		if err := fn(ctx, e, req, &result); err != nil {
			return result, fmt.Errorf("compaction: strategy %s: %w", s, err)
		}
	}

	countAfter, err := e.activeCount(ctx, req.TenantID, req.Project)
	if err != nil {
		return result, err
	}
	result.CompactedCount = countAfter

	if !req.DryRun && len(result.DeprecatedIDs) > 0 {
		if err := e.logCompaction(ctx, req.TenantID, result); err != nil {
			e.log.Warn("failed to log compaction", "error", err, "project", req.Project)
		}
	}

	e.log.Info("compaction complete",
		"project", req.Project, "before", countBefore, "after", countAfter,
		"reduction", result.Reduction(), "dry_run", req.DryRun)
	return result, nil
}

func (e *Engine) activeCount(ctx context.Context, tenantID, project string) (int, error) {
	var n int
	err := e.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM facts WHERE tenant_id = ? AND project = ? AND valid_until IS NULL`,
		tenantID, project,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("compaction: count active facts: %w", err)
	}
	return n, nil
}

func (e *Engine) logCompaction(ctx context.Context, tenantID string, r Result) error {
	deprecatedJSON, err := json.Marshal(r.DeprecatedIDs)
	if err != nil {
		return err
	}
	newIDsJSON, err := json.Marshal(r.NewFactIDs)
	if err != nil {
		return err
	}
	strategiesJSON, err := json.Marshal(r.StrategiesApplied)
	if err != nil {
		return err
	}
	_, err = e.w.Execute(ctx,
		`INSERT INTO compaction_log
			(tenant_id, project, strategies, deprecated_ids, new_fact_ids, count_before, count_after, dry_run, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tenantID, r.Project, string(strategiesJSON), string(deprecatedJSON), string(newIDsJSON),
		r.OriginalCount, r.CompactedCount, boolToInt(r.DryRun), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
