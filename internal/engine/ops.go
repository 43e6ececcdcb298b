package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cortex-memory/cortex/internal/compaction"
	"github.com/cortex-memory/cortex/internal/cortexerr"
	"github.com/cortex-memory/cortex/internal/facts"
	"github.com/cortex-memory/cortex/internal/retrieval"
	"github.com/cortex-memory/cortex/internal/types"
)

// Store persists a new fact and opportunistically advances tenantID's
// Merkle checkpoint in the background once the write has returned.
func (e *Engine) Store(ctx context.Context, in facts.StoreInput) (int64, error) {
	id, err := e.Facts.Store(ctx, in)
	if err != nil {
		return 0, err
	}
	go e.maybeCheckpoint(in.TenantID)
	return id, nil
}

// StoreMany validates and stores a batch of facts in order.
func (e *Engine) StoreMany(ctx context.Context, inputs []facts.StoreInput) ([]int64, error) {
	ids, err := e.Facts.StoreMany(ctx, inputs)
	if len(inputs) > 0 {
		go e.maybeCheckpoint(inputs[0].TenantID)
	}
	return ids, err
}

// Recall returns a project's active facts ranked by consensus and recency.
func (e *Engine) Recall(ctx context.Context, tenantID, project string, limit, offset int) ([]types.Fact, error) {
	return e.Facts.Recall(ctx, tenantID, project, limit, offset)
}

// History returns every version of every fact in project, optionally as of
// a point in time.
func (e *Engine) History(ctx context.Context, tenantID, project string, asOf *time.Time) ([]types.Fact, error) {
	return e.Facts.History(ctx, tenantID, project, asOf)
}

// TimeTravel reconstructs project's fact state as it stood immediately
// after ledger transaction txID.
func (e *Engine) TimeTravel(ctx context.Context, tenantID string, txID int64, project string) ([]types.Fact, error) {
	return e.Facts.TimeTravel(ctx, tenantID, txID, project)
}

// Update stores a new version of factID with in's overrides applied and
// deprecates the prior version.
func (e *Engine) Update(ctx context.Context, tenantID string, factID int64, in facts.UpdateInput) (int64, error) {
	return e.Facts.Update(ctx, tenantID, factID, in)
}

// Deprecate marks factID no longer active, recording reason in the ledger.
func (e *Engine) Deprecate(ctx context.Context, tenantID string, factID int64, reason string) (bool, error) {
	return e.Facts.Deprecate(ctx, tenantID, factID, reason)
}

// Search runs hybrid retrieval against a pooled reader connection.
func (e *Engine) Search(ctx context.Context, q retrieval.Query) ([]retrieval.Result, error) {
	var results []retrieval.Result
	err := e.withReader(ctx, func(db *sql.DB) error {
		r := retrieval.New(db, e.embedder)
		res, err := r.Search(ctx, q)
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	return results, err
}

// FindPath runs a bounded BFS between two graph entities over a pooled
// reader connection.
func (e *Engine) FindPath(ctx context.Context, tenantID, project, fromEntity, toEntity string, maxHops int) ([]retrieval.GraphNeighbor, error) {
	var path []retrieval.GraphNeighbor
	err := e.withReader(ctx, func(db *sql.DB) error {
		r := retrieval.New(db, e.embedder)
		p, err := r.FindPath(ctx, tenantID, project, fromEntity, toEntity, maxHops)
		if err != nil {
			return err
		}
		path = p
		return nil
	})
	return path, err
}

// ContextSubgraph expands a bounded neighborhood around entityID over a
// pooled reader connection.
func (e *Engine) ContextSubgraph(ctx context.Context, tenantID, project, entityID string, depth, maxNodes int) ([]retrieval.GraphNeighbor, error) {
	var nodes []retrieval.GraphNeighbor
	err := e.withReader(ctx, func(db *sql.DB) error {
		r := retrieval.New(db, e.embedder)
		n, err := r.ContextSubgraph(ctx, tenantID, project, entityID, depth, maxNodes)
		if err != nil {
			return err
		}
		nodes = n
		return nil
	})
	return nodes, err
}

// Vote casts or clears agentID's vote on factID, returning the fact's
// recomputed consensus score and confidence tier.
func (e *Engine) Vote(ctx context.Context, tenantID string, factID int64, agentID string, value int) (float64, types.ConfidenceTier, error) {
	return e.Consensus.Vote(ctx, tenantID, factID, agentID, value)
}

// VerifyLedger walks tenantID's hash chain and checkpoints, reporting any
// detected tamper or corruption.
func (e *Engine) VerifyLedger(ctx context.Context, tenantID string) (types.IntegrityReport, error) {
	report, err := e.Ledger.VerifyIntegrity(ctx, tenantID)
	if err != nil {
		return report, err
	}
	if !report.Valid {
		return report, fmt.Errorf("%w: %d violation(s) detected", cortexerr.ErrIntegrityViolation, len(report.Violations))
	}
	return report, nil
}

// Compact runs one or more compaction strategies over req.TenantID/req.Project.
func (e *Engine) Compact(ctx context.Context, req compaction.Request) (compaction.Result, error) {
	return e.Compaction.Compact(ctx, req)
}

// CompactSession renders project's active facts as a markdown digest sized
// for re-injection into an LLM's context window.
func (e *Engine) CompactSession(ctx context.Context, tenantID, project string, maxFacts int) (string, error) {
	return e.Compaction.CompactSession(ctx, tenantID, project, maxFacts)
}

// CompactionStats summarizes tenantID's compaction history, optionally
// narrowed to one project.
func (e *Engine) CompactionStats(ctx context.Context, tenantID, project string) (compaction.Stats, error) {
	return e.Compaction.CompactionStats(ctx, tenantID, project)
}

// RegisterGhost records an unresolved knowledge reference for project.
func (e *Engine) RegisterGhost(ctx context.Context, tenantID, project, reference, ghostContext string) (string, error) {
	return e.Facts.RegisterGhost(ctx, tenantID, project, reference, ghostContext)
}

// ListGhosts returns every ghost recorded for tenantID/project.
func (e *Engine) ListGhosts(ctx context.Context, tenantID, project string) ([]facts.Ghost, error) {
	return e.Facts.ListGhosts(ctx, tenantID, project)
}

// Stats aggregates a tenant-scoped snapshot across facts, ledger, and
// compaction history for project.
func (e *Engine) Stats(ctx context.Context, tenantID, project string) (Stats, error) {
	active, err := e.Facts.ListActive(ctx, tenantID, project, "")
	if err != nil {
		return Stats{}, err
	}
	txCount, err := e.Ledger.TransactionCount(ctx, tenantID)
	if err != nil {
		return Stats{}, err
	}
	compStats, err := e.Compaction.CompactionStats(ctx, tenantID, project)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		ActiveFacts:     len(active),
		LedgerTxCount:   txCount,
		CompactionStats: compStats,
	}, nil
}
