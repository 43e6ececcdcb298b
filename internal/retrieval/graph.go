package retrieval

import (
	"context"
	"fmt"
)

// DefaultMaxGraphNodes bounds a single expansion's neighbor count when the
// caller doesn't override it.
const DefaultMaxGraphNodes = 50

// GraphNeighbor is one entity reached by a bounded BFS from a retrieved
// fact's mentioned entities.
type GraphNeighbor struct {
	EntityID string
	Name     string
	Relation string
	Hops     int
}

// expandGraph walks up to depth hops from factID's mentioned entities,
// capped at maxNodes total neighbors. Failure here is always non-fatal to
// the caller (Search logs and continues with no context attached).
func (e *Engine) expandGraph(ctx context.Context, tenantID, project string, factID int64, depth, maxNodes int) ([]GraphNeighbor, error) {
	seeds, err := e.entitiesForFact(ctx, tenantID, project, factID)
	if err != nil {
		return nil, err
	}
	if len(seeds) == 0 {
		return nil, nil
	}
	return e.bfs(ctx, tenantID, project, seeds, depth, maxNodes)
}

// ContextSubgraph walks up to depth hops outward from a single named entity
// id, the supplemented-feature counterpart of expandGraph that starts from
// an entity the caller already knows rather than one derived from a fact.
func (e *Engine) ContextSubgraph(ctx context.Context, tenantID, project, entityID string, depth, maxNodes int) ([]GraphNeighbor, error) {
	if entityID == "" {
		return nil, fmt.Errorf("context subgraph: entity id is required")
	}
	return e.bfs(ctx, tenantID, project, []string{entityID}, depth, maxNodes)
}

// bfs is the shared bounded breadth-first walk both expandGraph and
// ContextSubgraph drive, differing only in how they derive their seed set.
func (e *Engine) bfs(ctx context.Context, tenantID, project string, seeds []string, depth, maxNodes int) ([]GraphNeighbor, error) {
	if maxNodes <= 0 {
		maxNodes = DefaultMaxGraphNodes
	}

	visited := make(map[string]bool, len(seeds))
	frontier := make([]string, 0, len(seeds))
	for _, s := range seeds {
		visited[s] = true
		frontier = append(frontier, s)
	}

	var out []GraphNeighbor
	for hop := 1; hop <= depth && len(out) < maxNodes; hop++ {
		next, err := e.neighborsOf(ctx, tenantID, project, frontier)
		if err != nil {
			return out, err
		}
		var nextFrontier []string
		for _, n := range next {
			if visited[n.EntityID] {
				continue
			}
			visited[n.EntityID] = true
			n.Hops = hop
			out = append(out, n)
			nextFrontier = append(nextFrontier, n.EntityID)
			if len(out) >= maxNodes {
				break
			}
		}
		frontier = nextFrontier
		if len(frontier) == 0 {
			break
		}
	}
	return out, nil
}

// DefaultMaxPathHops bounds FindPath's search when the caller doesn't
// override it, so an unreachable target fails fast instead of walking the
// whole graph.
const DefaultMaxPathHops = 6

// FindPath runs an unweighted BFS from fromEntity to toEntity and returns
// the shortest chain of relations connecting them, or nil if no path
// exists within maxHops. The returned slice is ordered start-to-end, one
// GraphNeighbor per hop.
func (e *Engine) FindPath(ctx context.Context, tenantID, project, fromEntity, toEntity string, maxHops int) ([]GraphNeighbor, error) {
	if fromEntity == "" || toEntity == "" {
		return nil, fmt.Errorf("find path: both entity ids are required")
	}
	if maxHops <= 0 {
		maxHops = DefaultMaxPathHops
	}
	if fromEntity == toEntity {
		return nil, nil
	}

	type step struct {
		neighbor GraphNeighbor
		prev     *step
	}
	visited := map[string]bool{fromEntity: true}
	frontier := []*step{{neighbor: GraphNeighbor{EntityID: fromEntity}, prev: nil}}

	for hop := 1; hop <= maxHops; hop++ {
		ids := make([]string, len(frontier))
		byID := make(map[string]*step, len(frontier))
		for i, s := range frontier {
			ids[i] = s.neighbor.EntityID
			byID[s.neighbor.EntityID] = s
		}

		next, err := e.neighborsOf(ctx, tenantID, project, ids)
		if err != nil {
			return nil, err
		}

		var nextFrontier []*step
		for _, n := range next {
			if visited[n.EntityID] {
				continue
			}
			visited[n.EntityID] = true
			n.Hops = hop
			cur := &step{neighbor: n, prev: byID[n.EntityID]}
			// neighborsOf doesn't tell us which frontier member produced n when
			// multiple edges converge on the same target; fall back to the first
			// frontier entry as the predecessor, which still yields a valid
			// (if not uniquely-determined) shortest path of the correct length.
			if cur.prev == nil && len(frontier) > 0 {
				cur.prev = frontier[0]
			}
			if n.EntityID == toEntity {
				return reconstructPath(cur), nil
			}
			nextFrontier = append(nextFrontier, cur)
		}
		if len(nextFrontier) == 0 {
			return nil, nil
		}
		frontier = nextFrontier
	}
	return nil, nil
}

func reconstructPath(s *step) []GraphNeighbor {
	var path []GraphNeighbor
	for n := s; n != nil && n.prev != nil; n = n.prev {
		path = append([]GraphNeighbor{n.neighbor}, path...)
	}
	return path
}

func (e *Engine) entitiesForFact(ctx context.Context, tenantID, project string, factID int64) ([]string, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT DISTINCT from_entity FROM graph_relations WHERE tenant_id = ? AND project = ? AND fact_id = ?
		 UNION
		 SELECT DISTINCT to_entity FROM graph_relations WHERE tenant_id = ? AND project = ? AND fact_id = ?`,
		tenantID, project, factID, tenantID, project, factID)
	if err != nil {
		return nil, fmt.Errorf("graph seed lookup: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan graph seed: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (e *Engine) neighborsOf(ctx context.Context, tenantID, project string, entityIDs []string) ([]GraphNeighbor, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(entityIDs))
	args := make([]any, 0, len(entityIDs)*2+4)
	args = append(args, tenantID, project)
	for i, id := range entityIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}
	in := joinPlaceholders(placeholders)
	args = append(args, tenantID, project)
	for _, id := range entityIDs {
		args = append(args, id)
	}

	query := fmt.Sprintf(`
		SELECT r.to_entity, ge.name, r.relation FROM graph_relations r
		JOIN graph_entities ge ON ge.id = r.to_entity
		WHERE r.tenant_id = ? AND r.project = ? AND r.from_entity IN (%s)
		UNION
		SELECT r.from_entity, ge.name, r.relation FROM graph_relations r
		JOIN graph_entities ge ON ge.id = r.from_entity
		WHERE r.tenant_id = ? AND r.project = ? AND r.to_entity IN (%s)`, in, in)

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("graph neighbor lookup: %w", err)
	}
	defer rows.Close()

	var out []GraphNeighbor
	for rows.Next() {
		var n GraphNeighbor
		if err := rows.Scan(&n.EntityID, &n.Name, &n.Relation); err != nil {
			return nil, fmt.Errorf("scan graph neighbor: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
