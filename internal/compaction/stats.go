package compaction

import (
	"context"
	"encoding/json"
	"fmt"
)

// HistoryEntry is one row of compaction_log, decoded for display.
type HistoryEntry struct {
	ID              int64
	Project         string
	Strategies      []string
	DeprecatedCount int
	NewFactIDs      []int64
	CountBefore     int
	CountAfter      int
	DryRun          bool
	CreatedAt       string
}

// Stats summarizes a tenant's compaction history.
type Stats struct {
	TotalCompactions int
	TotalDeprecated  int
	History          []HistoryEntry
}

const statsHistoryLimit = 20

// CompactionStats reads compaction_log for tenantID, optionally narrowed
// to one project, most recent first.
func (e *Engine) CompactionStats(ctx context.Context, tenantID, project string) (Stats, error) {
	query := `SELECT id, project, strategies, deprecated_ids, new_fact_ids, count_before, count_after, dry_run, created_at
		FROM compaction_log WHERE tenant_id = ?`
	args := []any{tenantID}
	if project != "" {
		query += ` AND project = ?`
		args = append(args, project)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, statsHistoryLimit)

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Stats{}, fmt.Errorf("compaction: stats query: %w", err)
	}
	defer rows.Close()

	var out Stats
	for rows.Next() {
		var h HistoryEntry
		var strategiesJSON, deprecatedJSON, newIDsJSON string
		var dryRun int
		if err := rows.Scan(&h.ID, &h.Project, &strategiesJSON, &deprecatedJSON, &newIDsJSON,
			&h.CountBefore, &h.CountAfter, &dryRun, &h.CreatedAt); err != nil {
			return Stats{}, fmt.Errorf("compaction: scan stats row: %w", err)
		}
		h.DryRun = dryRun != 0
		var deprecatedIDs []int64
		_ = json.Unmarshal([]byte(strategiesJSON), &h.Strategies)
		_ = json.Unmarshal([]byte(deprecatedJSON), &deprecatedIDs)
		_ = json.Unmarshal([]byte(newIDsJSON), &h.NewFactIDs)
		h.DeprecatedCount = len(deprecatedIDs)

		out.TotalCompactions++
		out.TotalDeprecated += h.DeprecatedCount
		out.History = append(out.History, h)
	}
	return out, rows.Err()
}
