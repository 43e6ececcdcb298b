package facts

import (
	"context"
	"fmt"
	"time"

	"github.com/cortex-memory/cortex/internal/idgen"
)

// RegisterGhost records a reference to knowledge the caller expects exists
// somewhere but could not retrieve — a placeholder the next recall or
// compaction pass can reconcile against, rather than silently dropping the
// gap. reference names what's missing; context is a freeform note on why
// it was registered. The ghosts table has no separate reference column, so
// the two are folded into the stored reason as "reference: context".
func (s *Store) RegisterGhost(ctx context.Context, tenantID, project, reference, ghostContext string) (string, error) {
	if tenantID == "" {
		return "", fmt.Errorf("facts: register ghost: tenant_id is required")
	}
	if project == "" {
		return "", fmt.Errorf("facts: register ghost: project is required")
	}
	if reference == "" {
		return "", fmt.Errorf("facts: register ghost: reference is required")
	}

	reason := reference
	if ghostContext != "" {
		reason = reference + ": " + ghostContext
	}

	now := time.Now().UTC()
	id := idgen.GenerateHashID("ghost", tenantID+"|"+project, reason, now, 10, 0)

	if _, err := s.w.Execute(ctx,
		`INSERT INTO ghosts (id, tenant_id, project, fact_id, reason, created_at) VALUES (?, ?, ?, NULL, ?, ?)`,
		id, tenantID, project, reason, now.Format(time.RFC3339Nano),
	); err != nil {
		return "", fmt.Errorf("facts: register ghost: %w", err)
	}
	return id, nil
}

// Ghost is an unresolved knowledge reference recorded by RegisterGhost.
type Ghost struct {
	ID        string
	TenantID  string
	Project   string
	FactID    *int64
	Reason    string
	CreatedAt time.Time
}

// ListGhosts returns every ghost recorded for a tenant/project, most recent first.
func (s *Store) ListGhosts(ctx context.Context, tenantID, project string) ([]Ghost, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, project, fact_id, reason, created_at FROM ghosts
		 WHERE tenant_id = ? AND project = ? ORDER BY created_at DESC`,
		tenantID, project,
	)
	if err != nil {
		return nil, fmt.Errorf("facts: list ghosts: %w", err)
	}
	defer rows.Close()

	var out []Ghost
	for rows.Next() {
		var g Ghost
		var createdAt string
		var factID *int64
		if err := rows.Scan(&g.ID, &g.TenantID, &g.Project, &factID, &g.Reason, &createdAt); err != nil {
			return nil, fmt.Errorf("facts: scan ghost: %w", err)
		}
		g.FactID = factID
		g.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("facts: parse ghost timestamp: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
