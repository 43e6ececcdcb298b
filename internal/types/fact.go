// Package types holds the domain records shared across CORTEX's storage,
// ledger, retrieval, and consensus packages.
package types

import "time"

// FactType enumerates the kinds of content a fact can hold.
type FactType string

const (
	FactKnowledge     FactType = "knowledge"
	FactDecision      FactType = "decision"
	FactError         FactType = "error"
	FactRule          FactType = "rule"
	FactAxiom         FactType = "axiom"
	FactSchema        FactType = "schema"
	FactIdea          FactType = "idea"
	FactGhost         FactType = "ghost"
	FactBridge        FactType = "bridge"
	FactReflection    FactType = "reflection"
	FactMetaLearning  FactType = "meta_learning"
)

// ValidFactTypes is the enumerated set accepted by the fact store.
var ValidFactTypes = map[FactType]bool{
	FactKnowledge:    true,
	FactDecision:     true,
	FactError:        true,
	FactRule:         true,
	FactAxiom:        true,
	FactSchema:       true,
	FactIdea:         true,
	FactGhost:        true,
	FactBridge:       true,
	FactReflection:   true,
	FactMetaLearning: true,
}

// Confidence is the caller-asserted or consensus-derived trust tier of a fact.
type Confidence string

const (
	ConfidenceStated    Confidence = "stated"
	ConfidenceVerified  Confidence = "verified"
	ConfidenceDisputed  Confidence = "disputed"
	ConfidenceInferred  Confidence = "inferred"
	ConfidenceC1        Confidence = "C1"
	ConfidenceC2        Confidence = "C2"
	ConfidenceC3        Confidence = "C3"
	ConfidenceC4        Confidence = "C4"
	ConfidenceC5        Confidence = "C5"
)

// Fact is the primary tenant-scoped, bitemporal record.
type Fact struct {
	ID             int64
	TenantID       string
	Project        string
	Content        string // decrypted plaintext once loaded by the caller
	FactType       FactType
	Tags           []string
	Confidence     Confidence
	Source         string
	Meta           map[string]any
	ConsensusScore float64
	TxID           int64
	TxHash         string
	ValidFrom      time.Time
	ValidUntil     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Active reports whether the fact is the currently-true version.
func (f *Fact) Active() bool {
	return f.ValidUntil == nil
}

// FactFilter narrows a SearchIssues-shaped query. Nil fields are unconstrained.
type FactFilter struct {
	Project  *string
	FactType *FactType
	AsOf     *time.Time
}
