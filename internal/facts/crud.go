package facts

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cortex-memory/cortex/internal/cortexerr"
	"github.com/cortex-memory/cortex/internal/types"
)

// UpdateInput carries the fields a caller may change; nil/zero fields fall
// through to the existing fact's current value.
type UpdateInput struct {
	Content *string
	Tags    []string
	Meta    map[string]any
}

// Update reads factID, synthesizes a new version with in's overrides
// layered on top, stores it as a new row via Store, then deprecates the
// original with reason "updated_by_<new_id>". The new fact's meta carries
// previous_fact_id linking it back.
func (s *Store) Update(ctx context.Context, tenantID string, factID int64, in UpdateInput) (int64, error) {
	existing, err := s.getByID(ctx, tenantID, factID)
	if err != nil {
		return 0, err
	}

	content := existing.Content
	if in.Content != nil {
		content = *in.Content
	}
	tags := existing.Tags
	if in.Tags != nil {
		tags = in.Tags
	}
	meta := map[string]any{}
	for k, v := range existing.Meta {
		meta[k] = v
	}
	for k, v := range in.Meta {
		meta[k] = v
	}
	meta["previous_fact_id"] = factID

	newID, err := s.Store(ctx, StoreInput{
		TenantID:   tenantID,
		Project:    existing.Project,
		Content:    content,
		FactType:   existing.FactType,
		Tags:       tags,
		Confidence: existing.Confidence,
		Source:     existing.Source,
		Meta:       meta,
	})
	if err != nil {
		return 0, fmt.Errorf("facts update: store new version: %w", err)
	}

	if _, err := s.Deprecate(ctx, tenantID, factID, fmt.Sprintf("updated_by_%d", newID)); err != nil {
		return newID, fmt.Errorf("facts update: deprecate prior version: %w", err)
	}
	return newID, nil
}

// Deprecate sets valid_until on an active fact and appends a ledger
// transaction. It is a no-op (returns false, nil) if the fact is already
// inactive — deprecation is never physical deletion and never reversed
// here.
func (s *Store) Deprecate(ctx context.Context, tenantID string, factID int64, reason string) (bool, error) {
	existing, err := s.getByID(ctx, tenantID, factID)
	if err != nil {
		return false, err
	}
	if !existing.Active() {
		return false, nil
	}

	now := time.Now().UTC()
	meta := existing.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	meta["deprecation_reason"] = reason
	metaJSON, err := marshalJSON(meta)
	if err != nil {
		return false, fmt.Errorf("facts deprecate: marshal meta: %w", err)
	}
	metaEnv, err := sealJSON(tenantID, metaJSON)
	if err != nil {
		return false, fmt.Errorf("facts deprecate: seal meta: %w", err)
	}

	_, err = s.w.Execute(ctx,
		`UPDATE facts SET valid_until = ?, updated_at = ?, meta = ?, meta_alg = ?, meta_nonce = ?
		 WHERE id = ? AND tenant_id = ? AND valid_until IS NULL`,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
		metaEnv.Ciphertext, metaEnv.Alg, metaEnv.Nonce, factID, tenantID,
	)
	if err != nil {
		return false, fmt.Errorf("%w: %s", cortexerr.ErrStorage, err)
	}

	if _, _, err := s.ledger.Append(ctx, tenantID, existing.Project, "deprecate", map[string]any{
		"fact_id": factID,
		"reason":  reason,
	}); err != nil {
		s.log.Error("ledger append failed after deprecate", "error", err, "fact_id", factID)
	}
	return true, nil
}

func (s *Store) getByID(ctx context.Context, tenantID string, factID int64) (types.Fact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+factColumns+` FROM facts WHERE id = ? AND tenant_id = ?`, factID, tenantID)
	r, err := scanFactRow(row)
	if err == sql.ErrNoRows {
		return types.Fact{}, fmt.Errorf("%w: fact %d", cortexerr.ErrValidation, factID)
	}
	if err != nil {
		return types.Fact{}, fmt.Errorf("%w: %s", cortexerr.ErrStorage, err)
	}
	f, err := decrypt(r)
	if err != nil {
		return types.Fact{}, fmt.Errorf("%w: %s", cortexerr.ErrIntegrityViolation, err)
	}
	return f, nil
}
