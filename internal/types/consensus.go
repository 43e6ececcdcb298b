package types

import "time"

// Vote is a single agent's consensus signal on a fact.
type Vote struct {
	FactID        int64
	AgentID       string
	Value         int // -1, 0, +1
	VoteWeight    float64
	AgentRepAtVote float64
	CreatedAt     time.Time
}

// Agent is a voting identity.
type Agent struct {
	ID              string
	Name            string
	AgentType       string
	ReputationScore float64
	PublicKey       string
}

// ConfidenceTier is the derived label attached to a fact's consensus score.
type ConfidenceTier string

const (
	TierVerified ConfidenceTier = "verified"
	TierDisputed ConfidenceTier = "disputed"
	TierNone     ConfidenceTier = ""
)
