// Package consensus implements CORTEX's reputation-weighted voting:
// agents cast a vote on a fact, votes are weighted by the voting agent's
// reputation, and the sum drives a fact's consensus score and confidence
// tier.
package consensus

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/cortex-memory/cortex/internal/types"
	"github.com/cortex-memory/cortex/internal/writer"
)

// Tier thresholds from the score recompute formula: score >= verifiedAt is
// "verified", score <= disputedAt is "disputed", otherwise the fact's
// existing tier is left unchanged.
const (
	verifiedAt = 1.5
	disputedAt = 0.5
)

// Engine recomputes fact consensus scores from reputation-weighted votes.
type Engine struct {
	w  *writer.Worker
	db *sql.DB
}

// New constructs a consensus Engine.
func New(w *writer.Worker, db *sql.DB) *Engine {
	return &Engine{w: w, db: db}
}

// Vote casts or clears agent's vote on fact_id. value == 0 deletes the
// agent's existing vote row (if any); any other value upserts it with
// vote_weight = sign(value) * agent reputation, snapshotting the agent's
// reputation at vote time. Returns the fact's recomputed consensus score
// and confidence tier.
func (e *Engine) Vote(ctx context.Context, tenantID string, factID int64, agentID string, value int) (score float64, tier types.ConfidenceTier, err error) {
	if value < -1 || value > 1 {
		return 0, "", fmt.Errorf("consensus: vote value must be -1, 0, or 1, got %d", value)
	}

	var reputation float64
	if err := e.db.QueryRowContext(ctx,
		`SELECT reputation_score FROM agents WHERE id = ? AND tenant_id = ?`, agentID, tenantID,
	).Scan(&reputation); err != nil {
		if err == sql.ErrNoRows {
			return 0, "", fmt.Errorf("consensus: agent %q not found", agentID)
		}
		return 0, "", fmt.Errorf("consensus: read agent reputation: %w", err)
	}

	if value == 0 {
		if _, err := e.w.Execute(ctx,
			`DELETE FROM votes WHERE fact_id = ? AND agent_id = ?`, factID, agentID,
		); err != nil {
			return 0, "", fmt.Errorf("consensus: delete vote: %w", err)
		}
	} else {
		weight := float64(value) * reputation
		if _, err := e.w.Execute(ctx,
			`INSERT INTO votes (fact_id, agent_id, value, vote_weight, agent_rep_at_vote, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(fact_id, agent_id) DO UPDATE SET
			   value = excluded.value,
			   vote_weight = excluded.vote_weight,
			   agent_rep_at_vote = excluded.agent_rep_at_vote,
			   created_at = excluded.created_at`,
			factID, agentID, value, weight, reputation, time.Now().UTC().Format(time.RFC3339Nano),
		); err != nil {
			return 0, "", fmt.Errorf("consensus: upsert vote: %w", err)
		}
	}

	return e.recompute(ctx, factID)
}

// recompute sums vote_weight across every vote on factID, derives the new
// consensus_score, and writes both the score and (conditionally) a new
// confidence tier back onto the fact row.
func (e *Engine) recompute(ctx context.Context, factID int64) (float64, types.ConfidenceTier, error) {
	var sum sql.NullFloat64
	if err := e.db.QueryRowContext(ctx,
		`SELECT SUM(vote_weight) FROM votes WHERE fact_id = ?`, factID,
	).Scan(&sum); err != nil {
		return 0, "", fmt.Errorf("consensus: sum vote weights: %w", err)
	}
	s := 0.0
	if sum.Valid {
		s = sum.Float64
	}

	score := math.Max(0.0, 1.0+0.1*s)

	var currentConfidence string
	if err := e.db.QueryRowContext(ctx,
		`SELECT confidence FROM facts WHERE id = ?`, factID,
	).Scan(&currentConfidence); err != nil {
		return 0, "", fmt.Errorf("consensus: read current confidence: %w", err)
	}

	newConfidence := currentConfidence
	var tier types.ConfidenceTier
	switch {
	case score >= verifiedAt:
		newConfidence = string(types.TierVerified)
		tier = types.TierVerified
	case score <= disputedAt:
		newConfidence = string(types.TierDisputed)
		tier = types.TierDisputed
	}

	if _, err := e.w.Execute(ctx,
		`UPDATE facts SET consensus_score = ?, confidence = ? WHERE id = ?`,
		score, newConfidence, factID,
	); err != nil {
		return 0, "", fmt.Errorf("consensus: update fact score: %w", err)
	}

	return score, tier, nil
}

// VoteLegacy is the unweighted v1 path: vote_weight = value directly,
// coexisting with the reputation-weighted path through the same score
// formula.
func (e *Engine) VoteLegacy(ctx context.Context, factID int64, agentID string, value int) (float64, types.ConfidenceTier, error) {
	if value < -1 || value > 1 {
		return 0, "", fmt.Errorf("consensus: vote value must be -1, 0, or 1, got %d", value)
	}
	if value == 0 {
		if _, err := e.w.Execute(ctx,
			`DELETE FROM votes WHERE fact_id = ? AND agent_id = ?`, factID, agentID,
		); err != nil {
			return 0, "", fmt.Errorf("consensus: delete legacy vote: %w", err)
		}
	} else {
		if _, err := e.w.Execute(ctx,
			`INSERT INTO votes (fact_id, agent_id, value, vote_weight, agent_rep_at_vote, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(fact_id, agent_id) DO UPDATE SET
			   value = excluded.value, vote_weight = excluded.vote_weight, created_at = excluded.created_at`,
			factID, agentID, value, float64(value), 1.0, time.Now().UTC().Format(time.RFC3339Nano),
		); err != nil {
			return 0, "", fmt.Errorf("consensus: upsert legacy vote: %w", err)
		}
	}
	return e.recompute(ctx, factID)
}
