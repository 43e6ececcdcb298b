package compaction

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/cortex-memory/cortex/internal/types"
)

// DefaultSessionFacts bounds CompactSession's fact count when the caller
// doesn't override it.
const DefaultSessionFacts = 50

// typeOrder is the priority CompactSession groups fact types in: axioms
// and decisions first since they're load-bearing context, everything else
// after in roughly descending durability.
var typeOrder = []types.FactType{
	types.FactAxiom, types.FactDecision, types.FactRule, types.FactError,
	types.FactKnowledge, types.FactGhost,
}

// CompactSession renders the project's most relevant active facts as a
// dense markdown block sized for re-injection into an LLM's context
// window, grouped by fact type in typeOrder with any remaining types
// appended after.
func (e *Engine) CompactSession(ctx context.Context, tenantID, project string, maxFacts int) (string, error) {
	if maxFacts <= 0 {
		maxFacts = DefaultSessionFacts
	}

	all, err := e.store.ListActive(ctx, tenantID, project, "")
	if err != nil {
		return "", err
	}
	if len(all) == 0 {
		return fmt.Sprintf("# %s\n\nNo active facts.\n", project), nil
	}

	rankOf := make(map[types.FactType]int, len(typeOrder))
	for i, t := range typeOrder {
		rankOf[t] = i
	}
	sort.SliceStable(all, func(i, j int) bool {
		ri, oki := rankOf[all[i].FactType]
		rj, okj := rankOf[all[j].FactType]
		if !oki {
			ri = len(typeOrder)
		}
		if !okj {
			rj = len(typeOrder)
		}
		if ri != rj {
			return ri < rj
		}
		if all[i].ConsensusScore != all[j].ConsensusScore {
			return all[i].ConsensusScore > all[j].ConsensusScore
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if len(all) > maxFacts {
		all = all[:maxFacts]
	}

	byType := make(map[types.FactType][]types.Fact)
	var order []types.FactType
	for _, f := range all {
		if _, seen := byType[f.FactType]; !seen {
			order = append(order, f.FactType)
		}
		byType[f.FactType] = append(byType[f.FactType], f)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", project)
	for _, t := range order {
		appendTypeSection(&b, t, byType[t])
	}
	return b.String(), nil
}

func appendTypeSection(b *strings.Builder, factType types.FactType, group []types.Fact) {
	fmt.Fprintf(b, "## %s (%d)\n\n", capitalize(string(factType)), len(group))
	for _, f := range group {
		content := f.Content
		if len(content) > 200 {
			content = content[:200]
		}
		fmt.Fprintf(b, "- %s\n", content)
	}
	b.WriteString("\n")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
