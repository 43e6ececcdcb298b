package facts

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cortex-memory/cortex/internal/canon"
	"github.com/cortex-memory/cortex/internal/types"
)

// factRow mirrors the facts table's columns in scan order.
type factRow struct {
	ID             int64
	TenantID       string
	Project        string
	Content        []byte
	ContentAlg     string
	ContentNonce   []byte
	FactType       string
	Tags           string
	Confidence     string
	Source         string
	Meta           []byte
	MetaAlg        string
	MetaNonce      []byte
	ConsensusScore float64
	ContentHash    string
	TxID           sql.NullInt64
	ValidFrom      string
	ValidUntil     sql.NullString
	CreatedAt      string
	UpdatedAt      string
}

const factColumns = `id, tenant_id, project, content, content_alg, content_nonce,
	fact_type, tags, confidence, source, meta, meta_alg, meta_nonce,
	consensus_score, content_hash, tx_id, valid_from, valid_until, created_at, updated_at`

func scanFactRow(scanner interface{ Scan(...any) error }) (factRow, error) {
	var r factRow
	err := scanner.Scan(
		&r.ID, &r.TenantID, &r.Project, &r.Content, &r.ContentAlg, &r.ContentNonce,
		&r.FactType, &r.Tags, &r.Confidence, &r.Source, &r.Meta, &r.MetaAlg, &r.MetaNonce,
		&r.ConsensusScore, &r.ContentHash, &r.TxID, &r.ValidFrom, &r.ValidUntil, &r.CreatedAt, &r.UpdatedAt,
	)
	return r, err
}

// decrypt turns a raw factRow into the public types.Fact, decrypting
// content and meta under the row's own tenant id.
func decrypt(r factRow) (types.Fact, error) {
	plainContent, err := canon.Open(r.TenantID, canon.Envelope{Alg: r.ContentAlg, Nonce: r.ContentNonce, Ciphertext: r.Content})
	if err != nil {
		return types.Fact{}, fmt.Errorf("decrypt content: %w", err)
	}
	plainMeta, err := canon.Open(r.TenantID, canon.Envelope{Alg: r.MetaAlg, Nonce: r.MetaNonce, Ciphertext: r.Meta})
	if err != nil {
		return types.Fact{}, fmt.Errorf("decrypt meta: %w", err)
	}

	var tags []string
	if err := json.Unmarshal([]byte(r.Tags), &tags); err != nil {
		return types.Fact{}, fmt.Errorf("unmarshal tags: %w", err)
	}
	meta := map[string]any{}
	if len(plainMeta) > 0 {
		if err := json.Unmarshal(plainMeta, &meta); err != nil {
			return types.Fact{}, fmt.Errorf("unmarshal meta: %w", err)
		}
	}

	validFrom, err := time.Parse(time.RFC3339Nano, r.ValidFrom)
	if err != nil {
		return types.Fact{}, fmt.Errorf("parse valid_from: %w", err)
	}
	createdAt, _ := time.Parse(time.RFC3339Nano, r.CreatedAt)
	updatedAt, _ := time.Parse(time.RFC3339Nano, r.UpdatedAt)

	var validUntil *time.Time
	if r.ValidUntil.Valid {
		t, err := time.Parse(time.RFC3339Nano, r.ValidUntil.String)
		if err != nil {
			return types.Fact{}, fmt.Errorf("parse valid_until: %w", err)
		}
		validUntil = &t
	}

	f := types.Fact{
		ID:             r.ID,
		TenantID:       r.TenantID,
		Project:        r.Project,
		Content:        string(plainContent),
		FactType:       types.FactType(r.FactType),
		Tags:           tags,
		Confidence:     types.Confidence(r.Confidence),
		Source:         r.Source,
		Meta:           meta,
		ConsensusScore: r.ConsensusScore,
		TxID:           r.TxID.Int64,
		ValidFrom:      validFrom,
		ValidUntil:     validUntil,
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
	}
	return f, nil
}
