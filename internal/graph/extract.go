// Package graph implements CORTEX's opportunistic knowledge-graph overlay:
// a best-effort extraction step that turns a stored fact's plaintext into
// entity/relation rows, queued through graph_outbox so a slow or failing
// extraction never blocks the write path that enqueued it.
package graph

import (
	"crypto/sha256"
	"regexp"
	"sort"
	"strings"

	"github.com/cortex-memory/cortex/internal/idgen"
)

// properNounRun matches a run of capitalized words, the cheapest
// proper-noun heuristic available without a trained NER model — good
// enough for an optional overlay whose own spec (§3) calls its failures
// non-fatal and its production "opportunistic."
var properNounRun = regexp.MustCompile(`\b[A-Z][a-zA-Z0-9]*(?:\s+[A-Z][a-zA-Z0-9]*)*\b`)

// MaxEntitiesPerFact bounds how many distinct entities one fact can
// contribute, so a pathological wall-of-capitals document can't blow up
// the relation chain below into O(n^2) rows.
const MaxEntitiesPerFact = 12

// Entity is one extracted mention, keyed by a deterministic id so the same
// name within a tenant/project always resolves to the same graph_entities
// row regardless of which fact mentioned it first.
type Entity struct {
	ID   string
	Name string
}

// ExtractEntities pulls distinct proper-noun phrases out of content, in
// first-seen order, capped at MaxEntitiesPerFact.
func ExtractEntities(tenantID, project, content string) []Entity {
	matches := properNounRun.FindAllString(content, -1)
	seen := make(map[string]bool, len(matches))
	var out []Entity
	for _, m := range matches {
		name := strings.TrimSpace(m)
		key := strings.ToLower(name)
		if name == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, Entity{ID: EntityID(tenantID, project, name), Name: name})
		if len(out) >= MaxEntitiesPerFact {
			break
		}
	}
	return out
}

// EntityID derives a stable id for (tenantID, project, name), so repeated
// extraction across facts converges on one graph_entities row per entity
// instead of minting a fresh id every time the name recurs.
func EntityID(tenantID, project, name string) string {
	key := tenantID + "\x00" + project + "\x00" + strings.ToLower(strings.TrimSpace(name))
	sum := sha256.Sum256([]byte(key))
	return "ent-" + idgen.EncodeBase36(sum[:8], 16)
}

// RelationID derives a stable id for one (from, to, kind) edge, so the same
// co-occurrence observed again from a different fact converges on the same
// graph_relations row rather than duplicating it.
func RelationID(fromEntity, toEntity, kind string) string {
	key := fromEntity + "\x00" + toEntity + "\x00" + kind
	sum := sha256.Sum256([]byte(key))
	return "rel-" + idgen.EncodeBase36(sum[:8], 16)
}

// Relation is one extracted co-occurrence edge between two entities
// mentioned in the same fact.
type Relation struct {
	FromEntity string
	ToEntity   string
	Kind       string
}

// coOccurs is the only relation kind this heuristic extractor produces; it
// makes no claim about directionality or semantic relationship beyond
// "mentioned in the same fact."
const coOccurs = "co_occurs"

// DeriveRelations chains consecutive entities (in appearance order) with a
// co_occurs edge, deduplicated and with from/to ordered so a symmetric
// co-occurrence between the same pair is never stored twice.
func DeriveRelations(entities []Entity) []Relation {
	if len(entities) < 2 {
		return nil
	}
	seen := make(map[string]bool)
	var out []Relation
	for i := 0; i < len(entities)-1; i++ {
		a, b := entities[i].ID, entities[i+1].ID
		if a == b {
			continue
		}
		if a > b {
			a, b = b, a
		}
		key := a + "|" + b
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, Relation{FromEntity: a, ToEntity: b, Kind: coOccurs})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FromEntity < out[j].FromEntity })
	return out
}
