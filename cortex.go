// Package cortex is the public embeddable API for CORTEX's local-first
// memory engine. Most embedders should use Open and the methods on Engine;
// direct access to internal/* is for CORTEX's own cmd/cortex CLI.
package cortex

import (
	"context"

	"github.com/cortex-memory/cortex/internal/auth"
	"github.com/cortex-memory/cortex/internal/compaction"
	"github.com/cortex-memory/cortex/internal/config"
	"github.com/cortex-memory/cortex/internal/engine"
	"github.com/cortex-memory/cortex/internal/facts"
	"github.com/cortex-memory/cortex/internal/retrieval"
	"github.com/cortex-memory/cortex/internal/types"
)

// Core types for working with a CORTEX memory store.
type (
	Fact            = types.Fact
	FactType        = types.FactType
	Confidence      = types.Confidence
	Role            = types.Role
	Permission      = types.Permission
	APIKey          = types.APIKey
	AuthResult      = types.AuthResult
	ConfidenceTier  = types.ConfidenceTier
	IntegrityReport = types.IntegrityReport

	StoreInput      = facts.StoreInput
	UpdateInput     = facts.UpdateInput
	Ghost           = facts.Ghost
	Query           = retrieval.Query
	Result          = retrieval.Result
	GraphNeighbor   = retrieval.GraphNeighbor
	CompactRequest  = compaction.Request
	CompactResult   = compaction.Result
	CompactionStats = compaction.Stats
	CreateKeyInput  = auth.CreateKeyInput
	SnapshotMeta    = engine.SnapshotMeta
	Stats           = engine.Stats
)

// Fact type constants.
const (
	FactKnowledge    = types.FactKnowledge
	FactDecision     = types.FactDecision
	FactError        = types.FactError
	FactRule         = types.FactRule
	FactAxiom        = types.FactAxiom
	FactSchema       = types.FactSchema
	FactIdea         = types.FactIdea
	FactGhost        = types.FactGhost
	FactBridge       = types.FactBridge
	FactReflection   = types.FactReflection
	FactMetaLearning = types.FactMetaLearning
)

// Role constants.
const (
	RoleSystem = types.RoleSystem
	RoleAdmin  = types.RoleAdmin
	RoleAgent  = types.RoleAgent
	RoleViewer = types.RoleViewer
)

// Config is CORTEX's resolved runtime configuration.
type Config = config.Config

// LoadConfig resolves Config from defaults, an optional cortex.toml, and
// CORTEX_* environment variables.
func LoadConfig() (Config, error) {
	return config.Load()
}

// Engine is a single open CORTEX database plus every component built on
// top of it.
type Engine = engine.Engine

// Open boots a CORTEX engine against cfg.DBPath. Close must be called when
// the caller is done with it.
func Open(ctx context.Context, cfg Config) (*Engine, error) {
	return engine.New(ctx, cfg)
}
