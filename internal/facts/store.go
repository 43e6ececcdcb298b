// Package facts implements CORTEX's fact lifecycle store: tenant-scoped
// CRUD plus the bitemporal operations (deprecate, update-as-new-version,
// time-travel) every other component reads through.
package facts

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cortex-memory/cortex/internal/canon"
	"github.com/cortex-memory/cortex/internal/cortexerr"
	"github.com/cortex-memory/cortex/internal/embedding"
	"github.com/cortex-memory/cortex/internal/firewall"
	"github.com/cortex-memory/cortex/internal/ledger"
	"github.com/cortex-memory/cortex/internal/types"
	"github.com/cortex-memory/cortex/internal/writer"
)

// DefaultMinContentLength is MIN_CONTENT_LENGTH's default: content shorter
// than this after trimming is rejected.
const DefaultMinContentLength = 10

// MaxProjectLength bounds the project namespace string.
const MaxProjectLength = 256

// Store is the fact lifecycle manager. All of its methods are tenant-scoped
// by an explicit tenantID argument; there is no ambient tenant context.
type Store struct {
	w        *writer.Worker
	db       *sql.DB
	ledger   *ledger.Ledger
	embedder *embedding.Async
	shield   *firewall.Log
	log      *slog.Logger

	minContentLength int
}

// New constructs a Store. shield may be nil to disable privacy-shield
// logging (the scan itself always runs; only the JSONL audit trail is
// optional).
func New(w *writer.Worker, db *sql.DB, l *ledger.Ledger, embedder *embedding.Async, shield *firewall.Log) *Store {
	return &Store{
		w:                w,
		db:               db,
		ledger:           l,
		embedder:         embedder,
		shield:           shield,
		log:              slog.Default().With("component", "cortex.facts"),
		minContentLength: DefaultMinContentLength,
	}
}

// SetMinContentLength overrides DefaultMinContentLength (CORTEX_MIN_CONTENT_LENGTH).
func (s *Store) SetMinContentLength(n int) {
	if n > 0 {
		s.minContentLength = n
	}
}

// StoreInput carries every caller-suppliable field of Store's public method.
type StoreInput struct {
	TenantID   string
	Project    string
	Content    string
	FactType   types.FactType
	Tags       []string
	Confidence types.Confidence
	Source     string
	Meta       map[string]any
	ValidFrom  *time.Time
}

func (in StoreInput) validate(minContentLength int) error {
	if strings.TrimSpace(in.TenantID) == "" {
		return fmt.Errorf("%w: tenant_id is required", cortexerr.ErrValidation)
	}
	project := strings.TrimSpace(in.Project)
	if project == "" {
		return fmt.Errorf("%w: project is required", cortexerr.ErrValidation)
	}
	if len(project) > MaxProjectLength {
		return fmt.Errorf("%w: project exceeds %d characters", cortexerr.ErrValidation, MaxProjectLength)
	}
	if len(strings.TrimSpace(in.Content)) < minContentLength {
		return fmt.Errorf("%w: content must be at least %d characters", cortexerr.ErrValidation, minContentLength)
	}
	if !types.ValidFactTypes[in.FactType] {
		return fmt.Errorf("%w: unknown fact_type %q", cortexerr.ErrValidation, in.FactType)
	}
	return nil
}

// Store inserts a new fact, deduplicating against an existing active fact
// with identical (tenant_id, project, content). It is the only entrypoint
// that creates a fact row; Update and the compaction strategies both call
// through it for the "new version" half of their work.
func (s *Store) Store(ctx context.Context, in StoreInput) (int64, error) {
	if err := in.validate(s.minContentLength); err != nil {
		return 0, err
	}
	trimmed := strings.TrimSpace(in.Content)
	project := strings.TrimSpace(in.Project)
	contentHash := hashContent(trimmed)

	if existingID, found, err := s.findActiveDuplicate(ctx, in.TenantID, project, contentHash); err != nil {
		return 0, fmt.Errorf("facts store: dedup check: %w", err)
	} else if found {
		return existingID, nil
	}

	if in.Confidence == "" {
		in.Confidence = types.ConfidenceStated
	}
	meta := in.Meta
	if meta == nil {
		meta = map[string]any{}
	}

	flagged, matchIDs, score := firewall.Scan(trimmed)
	if flagged {
		meta["privacy_flagged"] = true
		meta["privacy_matches"] = matchIDs
		meta["privacy_score"] = score
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return 0, fmt.Errorf("facts store: marshal meta: %w", err)
	}

	contentEnv, err := canon.Seal(in.TenantID, []byte(trimmed))
	if err != nil {
		return 0, fmt.Errorf("facts store: seal content: %w", err)
	}
	metaEnv, err := canon.Seal(in.TenantID, metaJSON)
	if err != nil {
		return 0, fmt.Errorf("facts store: seal meta: %w", err)
	}

	now := time.Now().UTC()
	validFrom := now
	if in.ValidFrom != nil {
		validFrom = in.ValidFrom.UTC()
	}
	nowStr := now.Format(time.RFC3339Nano)
	validFromStr := validFrom.Format(time.RFC3339Nano)
	tags := in.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return 0, fmt.Errorf("facts store: marshal tags: %w", err)
	}

	var factID int64
	txErr := s.w.Transaction(ctx, func(tx *writer.Tx) error {
		return tx.Do(func(sqlTx *sql.Tx) error {
			res, err := sqlTx.Exec(
				`INSERT INTO facts (
					tenant_id, project, content, content_alg, content_nonce,
					fact_type, tags, confidence, source, meta, meta_alg, meta_nonce,
					consensus_score, content_hash, tx_id, valid_from, valid_until,
					created_at, updated_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1.0, ?, NULL, ?, NULL, ?, ?)`,
				in.TenantID, project, contentEnv.Ciphertext, contentEnv.Alg, contentEnv.Nonce,
				string(in.FactType), string(tagsJSON), string(in.Confidence), in.Source,
				metaEnv.Ciphertext, metaEnv.Alg, metaEnv.Nonce,
				contentHash, validFromStr, nowStr, nowStr,
			)
			if err != nil {
				return fmt.Errorf("insert fact: %w", err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("read inserted fact id: %w", err)
			}
			factID = id

			if _, err := sqlTx.Exec(
				`INSERT INTO facts_fts (rowid, content, project, tags, fact_type) VALUES (?, ?, ?, ?, ?)`,
				factID, trimmed, project, strings.Join(tags, " "), string(in.FactType),
			); err != nil {
				return fmt.Errorf("sync fts index: %w", err)
			}

			if _, err := sqlTx.Exec(
				`INSERT INTO graph_outbox (tenant_id, project, fact_id, status, created_at, updated_at)
				 VALUES (?, ?, ?, 'pending', ?, ?)`,
				in.TenantID, project, factID, nowStr, nowStr,
			); err != nil {
				return fmt.Errorf("enqueue graph extraction: %w", err)
			}
			return nil
		})
	})
	if txErr != nil {
		return 0, fmt.Errorf("%w: %s", cortexerr.ErrStorage, txErr)
	}

	if flagged && s.shield != nil {
		if err := s.shield.Append(firewall.Entry{
			ID:        contentHash,
			Timestamp: now,
			TenantID:  in.TenantID,
			Project:   project,
			FactID:    factID,
			Patterns:  matchIDs,
			Score:     score,
		}); err != nil {
			s.log.Warn("privacy shield log append failed", "error", err, "fact_id", factID)
		}
	}

	txID, _, err := s.ledger.Append(ctx, in.TenantID, project, "store", map[string]any{
		"fact_id":   factID,
		"fact_type": string(in.FactType),
	})
	if err != nil {
		s.log.Error("ledger append failed after fact store", "error", err, "fact_id", factID)
	} else if _, err := s.w.Execute(ctx, `UPDATE facts SET tx_id = ? WHERE id = ?`, txID, factID); err != nil {
		s.log.Error("backfill tx_id failed", "error", err, "fact_id", factID)
	}

	if s.embedder != nil {
		go s.backfillEmbedding(factID, trimmed)
	}

	return factID, nil
}

// StoreMany validates every input before writing any row, then stores the
// whole batch inside one transaction: a storage failure partway through
// rolls back every row this call already wrote, leaving either every fact
// persisted or none. Privacy-shield log appends and embedding backfill are
// side effects outside SQL, so they're deferred until after the batch
// transaction commits — a rolled-back fact is never logged or embedded.
func (s *Store) StoreMany(ctx context.Context, inputs []StoreInput) ([]int64, error) {
	for i, in := range inputs {
		if err := in.validate(s.minContentLength); err != nil {
			return nil, fmt.Errorf("store_many: input %d: %w", i, err)
		}
	}

	type sideEffect struct {
		factID  int64
		content string
		flagged bool
		entry   firewall.Entry
	}
	ids := make([]int64, len(inputs))
	effects := make([]sideEffect, len(inputs))

	txErr := s.w.Transaction(ctx, func(tx *writer.Tx) error {
		return tx.Do(func(sqlTx *sql.Tx) error {
			for i, in := range inputs {
				factID, content, flagged, entry, err := s.storeOneTx(sqlTx, in)
				if err != nil {
					return fmt.Errorf("store_many: input %d: %w", i, err)
				}
				ids[i] = factID
				effects[i] = sideEffect{factID: factID, content: content, flagged: flagged, entry: entry}
			}
			return nil
		})
	})
	if txErr != nil {
		return nil, fmt.Errorf("%w: %s", cortexerr.ErrStorage, txErr)
	}

	for _, eff := range effects {
		if eff.flagged && s.shield != nil {
			if err := s.shield.Append(eff.entry); err != nil {
				s.log.Warn("privacy shield log append failed", "error", err, "fact_id", eff.factID)
			}
		}
		if s.embedder != nil {
			go s.backfillEmbedding(eff.factID, eff.content)
		}
	}
	return ids, nil
}

// storeOneTx performs one fact insert (dedup check, envelope seal, facts/
// facts_fts/graph_outbox rows, ledger append) against an already-open
// sqlTx, for StoreMany's single enclosing transaction. It returns the
// trimmed content and any privacy-shield entry so the caller can apply
// those side effects only after the whole batch commits.
func (s *Store) storeOneTx(sqlTx *sql.Tx, in StoreInput) (factID int64, trimmed string, flagged bool, entry firewall.Entry, err error) {
	trimmed = strings.TrimSpace(in.Content)
	project := strings.TrimSpace(in.Project)
	contentHash := hashContent(trimmed)

	if existingID, found, derr := s.findActiveDuplicateTx(sqlTx, in.TenantID, project, contentHash); derr != nil {
		return 0, "", false, firewall.Entry{}, fmt.Errorf("dedup check: %w", derr)
	} else if found {
		return existingID, trimmed, false, firewall.Entry{}, nil
	}

	if in.Confidence == "" {
		in.Confidence = types.ConfidenceStated
	}
	meta := in.Meta
	if meta == nil {
		meta = map[string]any{}
	}

	var matchIDs []string
	var score float64
	flagged, matchIDs, score = firewall.Scan(trimmed)
	if flagged {
		meta["privacy_flagged"] = true
		meta["privacy_matches"] = matchIDs
		meta["privacy_score"] = score
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return 0, "", false, firewall.Entry{}, fmt.Errorf("marshal meta: %w", err)
	}

	contentEnv, err := canon.Seal(in.TenantID, []byte(trimmed))
	if err != nil {
		return 0, "", false, firewall.Entry{}, fmt.Errorf("seal content: %w", err)
	}
	metaEnv, err := canon.Seal(in.TenantID, metaJSON)
	if err != nil {
		return 0, "", false, firewall.Entry{}, fmt.Errorf("seal meta: %w", err)
	}

	now := time.Now().UTC()
	validFrom := now
	if in.ValidFrom != nil {
		validFrom = in.ValidFrom.UTC()
	}
	nowStr := now.Format(time.RFC3339Nano)
	validFromStr := validFrom.Format(time.RFC3339Nano)
	tags := in.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return 0, "", false, firewall.Entry{}, fmt.Errorf("marshal tags: %w", err)
	}

	res, err := sqlTx.Exec(
		`INSERT INTO facts (
			tenant_id, project, content, content_alg, content_nonce,
			fact_type, tags, confidence, source, meta, meta_alg, meta_nonce,
			consensus_score, content_hash, tx_id, valid_from, valid_until,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1.0, ?, NULL, ?, NULL, ?, ?)`,
		in.TenantID, project, contentEnv.Ciphertext, contentEnv.Alg, contentEnv.Nonce,
		string(in.FactType), string(tagsJSON), string(in.Confidence), in.Source,
		metaEnv.Ciphertext, metaEnv.Alg, metaEnv.Nonce,
		contentHash, validFromStr, nowStr, nowStr,
	)
	if err != nil {
		return 0, "", false, firewall.Entry{}, fmt.Errorf("insert fact: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, "", false, firewall.Entry{}, fmt.Errorf("read inserted fact id: %w", err)
	}
	factID = id

	if _, err := sqlTx.Exec(
		`INSERT INTO facts_fts (rowid, content, project, tags, fact_type) VALUES (?, ?, ?, ?, ?)`,
		factID, trimmed, project, strings.Join(tags, " "), string(in.FactType),
	); err != nil {
		return 0, "", false, firewall.Entry{}, fmt.Errorf("sync fts index: %w", err)
	}

	if _, err := sqlTx.Exec(
		`INSERT INTO graph_outbox (tenant_id, project, fact_id, status, created_at, updated_at)
		 VALUES (?, ?, ?, 'pending', ?, ?)`,
		in.TenantID, project, factID, nowStr, nowStr,
	); err != nil {
		return 0, "", false, firewall.Entry{}, fmt.Errorf("enqueue graph extraction: %w", err)
	}

	txID, _, err := s.ledger.AppendTx(sqlTx, in.TenantID, project, "store", map[string]any{
		"fact_id":   factID,
		"fact_type": string(in.FactType),
	})
	if err != nil {
		return 0, "", false, firewall.Entry{}, fmt.Errorf("ledger append: %w", err)
	}
	if _, err := sqlTx.Exec(`UPDATE facts SET tx_id = ? WHERE id = ?`, txID, factID); err != nil {
		return 0, "", false, firewall.Entry{}, fmt.Errorf("backfill tx_id: %w", err)
	}

	if flagged {
		entry = firewall.Entry{
			ID:        contentHash,
			Timestamp: now,
			TenantID:  in.TenantID,
			Project:   project,
			FactID:    factID,
			Patterns:  matchIDs,
			Score:     score,
		}
	}

	return factID, trimmed, flagged, entry, nil
}

// findActiveDuplicateTx is findActiveDuplicate scoped to an already-open
// sqlTx, so a StoreMany batch's dedup check sees the batch's own
// not-yet-committed inserts along with everything already on disk.
func (s *Store) findActiveDuplicateTx(sqlTx *sql.Tx, tenantID, project, contentHash string) (int64, bool, error) {
	var id int64
	err := sqlTx.QueryRow(
		`SELECT id FROM facts WHERE tenant_id = ? AND project = ? AND content_hash = ? AND valid_until IS NULL
		 ORDER BY id LIMIT 1`,
		tenantID, project, contentHash,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (s *Store) backfillEmbedding(factID int64, content string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result := <-s.embedder.EncodeAsync(ctx, content)
	if result.Err != nil {
		s.log.Warn("embedding backfill failed, retrieval degrades to lexical", "error", result.Err, "fact_id", factID)
		return
	}
	embedding.Normalize(result.Vector)
	blob := embedding.EncodeVector(result.Vector)
	if _, err := s.w.Execute(ctx,
		`INSERT INTO fact_embeddings (fact_id, dims, embedding, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(fact_id) DO UPDATE SET dims = excluded.dims, embedding = excluded.embedding`,
		factID, len(result.Vector), blob, time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		s.log.Warn("embedding persist failed", "error", err, "fact_id", factID)
	}
}

func (s *Store) findActiveDuplicate(ctx context.Context, tenantID, project, contentHash string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM facts WHERE tenant_id = ? AND project = ? AND content_hash = ? AND valid_until IS NULL
		 ORDER BY id LIMIT 1`,
		tenantID, project, contentHash,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
