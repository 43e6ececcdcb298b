// Package retrieval implements CORTEX's hybrid search: independent
// semantic and lexical arms fused by Reciprocal Rank Fusion, with optional
// bounded graph expansion attached to each hit.
package retrieval

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cortex-memory/cortex/internal/canon"
	"github.com/cortex-memory/cortex/internal/cortexerr"
	"github.com/cortex-memory/cortex/internal/embedding"
	"github.com/cortex-memory/cortex/internal/obs"
	"github.com/cortex-memory/cortex/internal/types"
)

// Fusion weights and RRF constant, per spec.md §4.C9 defaults.
const (
	weightSemantic = 0.6
	weightLexical  = 0.4
	rrfK           = 60.0
	annOverscanAlpha = 2
)

// Result is one fused hit, shaped per spec.md §4.C9's return contract.
type Result struct {
	FactID     int64
	Project    string
	Content    string
	FactType   types.FactType
	Score      float64
	Tags       []string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	TxID       int64
	Hash       string
	Context    []GraphNeighbor
}

// Query narrows a Search call. AsOf and GraphDepth are optional.
type Query struct {
	TenantID    string
	Project     string
	Text        string
	TopK        int
	AsOf        *time.Time
	GraphDepth  int
	IncludeGraph bool
	MaxGraphNodes int
}

// Engine runs hybrid search over a reader connection. db should be a
// read-only connection (C4's pool), never the single-writer connection.
type Engine struct {
	db       *sql.DB
	embedder embedding.Provider
	log      *slog.Logger
	tracer   trace.Tracer
}

// New constructs a retrieval Engine. embedder is used synchronously here
// (query embedding is on the read path and small), unlike facts.Store's
// async write-path usage.
func New(db *sql.DB, embedder embedding.Provider) *Engine {
	return &Engine{
		db:       db,
		embedder: embedder,
		log:      slog.Default().With("component", "cortex.retrieval"),
		tracer:   obs.Tracer("cortex.retrieval"),
	}
}

type rankedFact struct {
	factID int64
	rank   int // 1-based
}

// Search runs the semantic and lexical arms, fuses them by RRF, and
// optionally attaches a bounded graph expansion to each hit.
func (e *Engine) Search(ctx context.Context, q Query) (_ []Result, err error) {
	ctx, span := e.tracer.Start(ctx, "retrieval.search", trace.WithAttributes(
		attribute.String("cortex.tenant_id", q.TenantID),
		attribute.Int("cortex.top_k", q.TopK),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	if q.TenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", cortexerr.ErrValidation)
	}
	if q.TopK <= 0 {
		q.TopK = 10
	}

	semantic, err := e.semanticArm(ctx, q)
	if err != nil {
		e.log.Warn("semantic arm failed, continuing lexical-only", "error", err)
		semantic = nil
	}
	lexical, err := e.lexicalArm(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: lexical arm: %s", cortexerr.ErrStorage, err)
	}

	fused, scores := fuseRRF(q.TopK, semantic, lexical)
	results, err := e.hydrate(ctx, q.TenantID, fused, scores)
	if err != nil {
		return nil, err
	}

	if q.IncludeGraph && q.GraphDepth > 0 {
		for i := range results {
			neighbors, err := e.expandGraph(ctx, q.TenantID, q.Project, results[i].FactID, q.GraphDepth, q.MaxGraphNodes)
			if err != nil {
				e.log.Warn("graph expansion failed, omitting context", "error", err, "fact_id", results[i].FactID)
				continue
			}
			results[i].Context = neighbors
		}
	}
	return results, nil
}

// fuseRRF combines ranked-by-arm lists into one score per fact via
// score += weight / (rrfK + rank), then returns the top-k fact ids alongside
// their fused scores.
func fuseRRF(topK int, arms ...[]rankedFact) ([]int64, map[int64]float64) {
	scores := make(map[int64]float64)
	weights := []float64{weightSemantic, weightLexical}
	for i, arm := range arms {
		w := 1.0
		if i < len(weights) {
			w = weights[i]
		}
		for _, rf := range arm {
			scores[rf.factID] += w / (rrfK + float64(rf.rank))
		}
	}

	ids := make([]int64, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if len(ids) > topK {
		ids = ids[:topK]
	}
	return ids, scores
}

func temporalPredicate(asOf *time.Time) (string, []any) {
	if asOf == nil {
		return "f.valid_until IS NULL", nil
	}
	ts := asOf.UTC().Format(time.RFC3339Nano)
	return "f.valid_from <= ? AND (f.valid_until IS NULL OR f.valid_until > ?)", []any{ts, ts}
}

// projectPredicate narrows a search to one project, or scans every
// project the tenant owns when project is empty — search's project
// filter is optional, unlike recall/history's, which always take one.
func projectPredicate(project string, baseArgs []any) (string, []any) {
	if project == "" {
		return "1=1", baseArgs
	}
	return "f.project = ?", append(baseArgs, project)
}

// hydrate loads and decrypts the fused fact ids, preserving fusion order,
// and attaches each fact's last fused score.
func (e *Engine) hydrate(ctx context.Context, tenantID string, ids []int64, scores map[int64]float64) ([]Result, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, tenantID)
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}
	query := fmt.Sprintf(
		`SELECT id, project, content, content_alg, content_nonce, fact_type, tags, tx_id, content_hash, created_at, updated_at
		 FROM facts WHERE tenant_id = ? AND id IN (%s)`, joinPlaceholders(placeholders))

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: hydrate: %s", cortexerr.ErrStorage, err)
	}
	defer rows.Close()

	byID := make(map[int64]Result, len(ids))
	for rows.Next() {
		var id, txID sql.NullInt64
		var project, factType, tags, contentAlg, contentHash, createdAt, updatedAt string
		var content, contentNonce []byte
		if err := rows.Scan(&id, &project, &content, &contentAlg, &contentNonce, &factType, &tags, &txID, &contentHash, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan hydrate row: %s", cortexerr.ErrStorage, err)
		}
		plain, err := canon.Open(tenantID, canon.Envelope{Alg: contentAlg, Nonce: contentNonce, Ciphertext: content})
		if err != nil {
			return nil, fmt.Errorf("%w: decrypt content: %s", cortexerr.ErrIntegrityViolation, err)
		}
		created, _ := time.Parse(time.RFC3339Nano, createdAt)
		updated, _ := time.Parse(time.RFC3339Nano, updatedAt)
		var tagList []string
		if tags != "" {
			if err := json.Unmarshal([]byte(tags), &tagList); err != nil {
				return nil, fmt.Errorf("%w: unmarshal tags: %s", cortexerr.ErrStorage, err)
			}
		}
		byID[id.Int64] = Result{
			FactID:    id.Int64,
			Project:   project,
			Content:   string(plain),
			FactType:  types.FactType(factType),
			Score:     scores[id.Int64],
			Tags:      tagList,
			TxID:      txID.Int64,
			Hash:      contentHash,
			CreatedAt: created,
			UpdatedAt: updated,
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate hydrate rows: %s", cortexerr.ErrStorage, err)
	}

	out := make([]Result, 0, len(ids))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func joinPlaceholders(ph []string) string {
	s := ""
	for i, p := range ph {
		if i > 0 {
			s += ","
		}
		s += p
	}
	return s
}
