package engine

import (
	"context"

	"github.com/cortex-memory/cortex/internal/auth"
	"github.com/cortex-memory/cortex/internal/types"
)

// CreateAPIKey mints a fresh credential, returning the raw key exactly
// once; only its hash is persisted.
func (e *Engine) CreateAPIKey(ctx context.Context, in auth.CreateKeyInput) (string, types.APIKey, error) {
	return e.Auth.CreateKey(ctx, in)
}

// Authenticate verifies a raw candidate key against the api_keys table.
func (e *Engine) Authenticate(ctx context.Context, candidate string) types.AuthResult {
	return e.Auth.Authenticate(ctx, candidate)
}

// Authorize reports whether an already-authenticated result carries perm.
func (e *Engine) Authorize(result types.AuthResult, perm types.Permission) bool {
	return e.Auth.Authorize(result, perm)
}

// RevokeAPIKey deactivates keyID under tenantID.
func (e *Engine) RevokeAPIKey(ctx context.Context, tenantID, keyID string) error {
	return e.Auth.RevokeKey(ctx, tenantID, keyID)
}

// ListAPIKeys returns every key registered for tenantID.
func (e *Engine) ListAPIKeys(ctx context.Context, tenantID string) ([]types.APIKey, error) {
	return e.Auth.ListKeys(ctx, tenantID)
}

// SovereignCheck runs the compound permission+consensus authorization a
// high-stakes operation (e.g. purge, override) requires before acting on
// factID.
func (e *Engine) SovereignCheck(ctx context.Context, result types.AuthResult, perm types.Permission, tenantID string, factID int64, minConsensusScore float64) error {
	return e.Gate.Check(ctx, result, perm, tenantID, factID, minConsensusScore)
}

// RegisterAgent mints a fresh voting identity under tenantID.
func (e *Engine) RegisterAgent(ctx context.Context, tenantID, name, agentType, publicKey string) (types.Agent, error) {
	return e.Consensus.RegisterAgent(ctx, tenantID, name, agentType, publicKey)
}
