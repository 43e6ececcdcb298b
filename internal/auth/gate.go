package auth

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cortex-memory/cortex/internal/cortexerr"
	"github.com/cortex-memory/cortex/internal/types"
)

// SovereignGate is a compound authorizer for high-stakes operations: the
// caller must hold the required permission AND the claim it's acting on
// must carry a consensus score that meets the configured floor. It is the
// only authorizer in CORTEX that reads fact state as part of an
// authorization decision.
type SovereignGate struct {
	db   *sql.DB
	eval *Evaluator
}

// NewSovereignGate constructs a gate reading consensus scores via db. eval
// may be nil to use DefaultEvaluator.
func NewSovereignGate(db *sql.DB, eval *Evaluator) *SovereignGate {
	if eval == nil {
		eval = DefaultEvaluator()
	}
	return &SovereignGate{db: db, eval: eval}
}

// Check authorizes factID's claim under result for perm: result's role (or
// explicit grants) must carry perm, and factID's current consensus_score
// must be at least minConsensusScore. Either failing kind is reported as
// ErrPermissionDenied, the kind spec.md §7 names for Sovereign Gate
// rejections including consensus shortfalls.
func (g *SovereignGate) Check(ctx context.Context, result types.AuthResult, perm types.Permission, tenantID string, factID int64, minConsensusScore float64) error {
	if !result.Authenticated {
		return fmt.Errorf("%w: not authenticated", cortexerr.ErrAuth)
	}
	if !g.eval.HasPermission(result.Role, result.Permissions, perm) {
		return fmt.Errorf("%w: role %s lacks permission %s", cortexerr.ErrPermissionDenied, result.Role, perm)
	}

	var score float64
	err := g.db.QueryRowContext(ctx,
		`SELECT consensus_score FROM facts WHERE id = ? AND tenant_id = ?`, factID, tenantID,
	).Scan(&score)
	if err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: fact %d not found for tenant", cortexerr.ErrValidation, factID)
		}
		return fmt.Errorf("%w: sovereign gate consensus lookup: %s", cortexerr.ErrStorage, err)
	}
	if score < minConsensusScore {
		return fmt.Errorf("%w: consensus score %.2f below required %.2f", cortexerr.ErrPermissionDenied, score, minConsensusScore)
	}
	return nil
}
