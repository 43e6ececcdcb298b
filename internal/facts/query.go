package facts

import (
	"context"
	"fmt"
	"time"

	"github.com/cortex-memory/cortex/internal/cortexerr"
	"github.com/cortex-memory/cortex/internal/types"
)

// Recall returns active facts for project, ordered by
// consensus_score*0.8 + recency*0.2 desc, then fact_type, then created_at
// desc. recency is computed as a [0,1] decay so the SQL stays portable
// across SQLite's julianday arithmetic rather than relying on a specific
// recency half-life constant the spec doesn't name.
func (s *Store) Recall(ctx context.Context, tenantID, project string, limit, offset int) ([]types.Fact, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+factColumns+`,
			(consensus_score * 0.8 +
			 (1.0 / (1.0 + (julianday('now') - julianday(created_at)))) * 0.2) AS rank_score
		 FROM facts
		 WHERE tenant_id = ? AND project = ? AND valid_until IS NULL
		 ORDER BY rank_score DESC, fact_type ASC, created_at DESC
		 LIMIT ? OFFSET ?`,
		tenantID, project, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: recall query: %s", cortexerr.ErrStorage, err)
	}
	defer rows.Close()

	var out []types.Fact
	for rows.Next() {
		var rankScore float64
		r, err := scanFactRowWithExtra(rows, &rankScore)
		if err != nil {
			return nil, fmt.Errorf("%w: scan recall row: %s", cortexerr.ErrStorage, err)
		}
		f, err := decrypt(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", cortexerr.ErrIntegrityViolation, err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ListActive returns every active (non-deprecated) fact in project,
// optionally narrowed to one fact_type, ordered oldest-first. Unlike
// Recall it is unpaginated and unranked — meant for bulk scans such as
// compaction, not for serving a query result.
func (s *Store) ListActive(ctx context.Context, tenantID, project string, factType types.FactType) ([]types.Fact, error) {
	query := `SELECT ` + factColumns + ` FROM facts WHERE tenant_id = ? AND project = ? AND valid_until IS NULL`
	args := []any{tenantID, project}
	if factType != "" {
		query += ` AND fact_type = ?`
		args = append(args, string(factType))
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list_active query: %s", cortexerr.ErrStorage, err)
	}
	defer rows.Close()

	var out []types.Fact
	for rows.Next() {
		r, err := scanFactRow(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan list_active row: %s", cortexerr.ErrStorage, err)
		}
		f, err := decrypt(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", cortexerr.ErrIntegrityViolation, err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// History returns facts for project active at asOf (if non-nil) or every
// version ever recorded (if nil).
func (s *Store) History(ctx context.Context, tenantID, project string, asOf *time.Time) ([]types.Fact, error) {
	var rows interface {
		Next() bool
		Scan(...any) error
		Err() error
		Close() error
	}
	var err error
	if asOf != nil {
		asOfStr := asOf.UTC().Format(time.RFC3339Nano)
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+factColumns+` FROM facts
			 WHERE tenant_id = ? AND project = ?
			   AND valid_from <= ?
			   AND (valid_until IS NULL OR valid_until > ?)
			 ORDER BY created_at DESC`,
			tenantID, project, asOfStr, asOfStr,
		)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+factColumns+` FROM facts WHERE tenant_id = ? AND project = ? ORDER BY created_at DESC`,
			tenantID, project,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: history query: %s", cortexerr.ErrStorage, err)
	}
	defer rows.Close()

	var out []types.Fact
	for rows.Next() {
		r, err := scanFactRow(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan history row: %s", cortexerr.ErrStorage, err)
		}
		f, err := decrypt(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", cortexerr.ErrIntegrityViolation, err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// TimeTravel reconstructs the set of facts active immediately after
// transaction txID: created no later than that transaction's timestamp,
// not yet deprecated as of that instant, and (when project is non-empty)
// scoped to it.
func (s *Store) TimeTravel(ctx context.Context, tenantID string, txID int64, project string) ([]types.Fact, error) {
	var txTime string
	err := s.db.QueryRowContext(ctx,
		`SELECT timestamp FROM ledger_transactions WHERE tenant_id = ? AND id = ?`, tenantID, txID,
	).Scan(&txTime)
	if err != nil {
		return nil, fmt.Errorf("%w: time_travel: unknown tx %d: %s", cortexerr.ErrValidation, txID, err)
	}

	query := `SELECT ` + factColumns + ` FROM facts
		WHERE tenant_id = ?
		  AND created_at <= ?
		  AND (valid_until IS NULL OR valid_until > ?)
		  AND (tx_id IS NULL OR tx_id <= ?)`
	args := []any{tenantID, txTime, txTime, txID}
	if project != "" {
		query += ` AND project = ?`
		args = append(args, project)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: time_travel query: %s", cortexerr.ErrStorage, err)
	}
	defer rows.Close()

	var out []types.Fact
	for rows.Next() {
		r, err := scanFactRow(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan time_travel row: %s", cortexerr.ErrStorage, err)
		}
		f, err := decrypt(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", cortexerr.ErrIntegrityViolation, err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// scanFactRowWithExtra scans the standard fact columns plus one trailing
// computed column (e.g. a rank score) into extra.
func scanFactRowWithExtra(scanner interface{ Scan(...any) error }, extra *float64) (factRow, error) {
	var r factRow
	err := scanner.Scan(
		&r.ID, &r.TenantID, &r.Project, &r.Content, &r.ContentAlg, &r.ContentNonce,
		&r.FactType, &r.Tags, &r.Confidence, &r.Source, &r.Meta, &r.MetaAlg, &r.MetaNonce,
		&r.ConsensusScore, &r.ContentHash, &r.TxID, &r.ValidFrom, &r.ValidUntil, &r.CreatedAt, &r.UpdatedAt,
		extra,
	)
	return r, err
}
