package consensus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cortex-memory/cortex/internal/types"
)

// DefaultReputation is the starting reputation_score assigned to a freshly
// registered agent.
const DefaultReputation = 1.0

// RegisterAgent mints a fresh agent identity under tenantID. Agent ids are
// uuids rather than content-derived hashes — unlike facts or graph
// entities, two agents with the same display name are still distinct
// voters, so there is nothing stable to derive an id from.
func (e *Engine) RegisterAgent(ctx context.Context, tenantID, name, agentType, publicKey string) (types.Agent, error) {
	if tenantID == "" {
		return types.Agent{}, fmt.Errorf("consensus: register agent: tenant_id is required")
	}
	if name == "" {
		return types.Agent{}, fmt.Errorf("consensus: register agent: name is required")
	}

	agent := types.Agent{
		ID:              uuid.NewString(),
		Name:            name,
		AgentType:       agentType,
		ReputationScore: DefaultReputation,
		PublicKey:       publicKey,
	}

	if _, err := e.w.Execute(ctx,
		`INSERT INTO agents (id, tenant_id, name, agent_type, reputation_score, public_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		agent.ID, tenantID, agent.Name, agent.AgentType, agent.ReputationScore, agent.PublicKey,
		time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return types.Agent{}, fmt.Errorf("consensus: register agent: %w", err)
	}
	return agent, nil
}

// Agent returns agentID's current record, scoped to tenantID.
func (e *Engine) Agent(ctx context.Context, tenantID, agentID string) (types.Agent, error) {
	var a types.Agent
	err := e.db.QueryRowContext(ctx,
		`SELECT id, name, agent_type, reputation_score, public_key FROM agents WHERE id = ? AND tenant_id = ?`,
		agentID, tenantID,
	).Scan(&a.ID, &a.Name, &a.AgentType, &a.ReputationScore, &a.PublicKey)
	if err != nil {
		return types.Agent{}, fmt.Errorf("consensus: agent %s: %w", agentID, err)
	}
	return a, nil
}
