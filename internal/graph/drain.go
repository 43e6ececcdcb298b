package graph

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/cortex-memory/cortex/internal/canon"
	"github.com/cortex-memory/cortex/internal/obs"
	"github.com/cortex-memory/cortex/internal/writer"
)

// DefaultMaxRetries mirrors CORTEX_GRAPH_OUTBOX_MAX_RETRIES's default: a
// graph_outbox row that fails extraction this many times is parked rather
// than retried forever.
const DefaultMaxRetries = 5

// DefaultBatchSize bounds how many pending rows one DrainOnce call claims.
const DefaultBatchSize = 50

// Drainer processes graph_outbox rows opportunistically: it is never on the
// fact-store write path (Store.Store only enqueues), so a slow or failing
// extraction can't add latency or an error to a caller's Store call.
type Drainer struct {
	w          *writer.Worker
	db         *sql.DB
	log        *slog.Logger
	tracer     trace.Tracer
	maxRetries int
}

// NewDrainer constructs a Drainer. maxRetries <= 0 uses DefaultMaxRetries.
func NewDrainer(w *writer.Worker, db *sql.DB, maxRetries int) *Drainer {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Drainer{
		w:          w,
		db:         db,
		log:        slog.Default().With("component", "cortex.graph"),
		tracer:     obs.Tracer("cortex.graph"),
		maxRetries: maxRetries,
	}
}

type outboxRow struct {
	id       int64
	tenantID string
	project  string
	factID   int64
	retries  int
}

// DrainOnce claims up to batchSize pending rows and attempts extraction on
// each, returning how many it processed (successfully or not — a parked row
// still counts as processed). batchSize <= 0 uses DefaultBatchSize.
func (d *Drainer) DrainOnce(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	ctx, span := d.tracer.Start(ctx, "graph.drain_once")
	defer span.End()

	rows, err := d.db.QueryContext(ctx,
		`SELECT id, tenant_id, project, fact_id, retries FROM graph_outbox
		 WHERE status = 'pending' ORDER BY id LIMIT ?`, batchSize)
	if err != nil {
		return 0, fmt.Errorf("graph drain: query pending: %w", err)
	}
	var pending []outboxRow
	for rows.Next() {
		var r outboxRow
		if err := rows.Scan(&r.id, &r.tenantID, &r.project, &r.factID, &r.retries); err != nil {
			rows.Close()
			return 0, fmt.Errorf("graph drain: scan pending: %w", err)
		}
		pending = append(pending, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("graph drain: iterate pending: %w", err)
	}
	rows.Close()

	for _, r := range pending {
		if err := d.process(ctx, r); err != nil {
			d.log.Warn("graph extraction failed", "error", err, "outbox_id", r.id, "fact_id", r.factID)
			d.fail(ctx, r, err)
		}
	}
	return len(pending), nil
}

func (d *Drainer) process(ctx context.Context, r outboxRow) error {
	var content, nonce []byte
	var alg string
	err := d.db.QueryRowContext(ctx,
		`SELECT content, content_alg, content_nonce FROM facts WHERE id = ? AND tenant_id = ?`,
		r.factID, r.tenantID,
	).Scan(&content, &alg, &nonce)
	if err == sql.ErrNoRows {
		return d.markDone(ctx, r.id)
	}
	if err != nil {
		return fmt.Errorf("load fact: %w", err)
	}

	plain, err := canon.Open(r.tenantID, canon.Envelope{Alg: alg, Nonce: nonce, Ciphertext: content})
	if err != nil {
		return fmt.Errorf("decrypt fact: %w", err)
	}

	entities := ExtractEntities(r.tenantID, r.project, string(plain))
	relations := DeriveRelations(entities)

	now := time.Now().UTC().Format(time.RFC3339Nano)
	ops := writer.Batch()
	for _, e := range entities {
		ops = append(ops, writer.BatchOp(
			`INSERT INTO graph_entities (id, tenant_id, project, name, kind, created_at)
			 VALUES (?, ?, ?, ?, '', ?)
			 ON CONFLICT(id) DO NOTHING`,
			e.ID, r.tenantID, r.project, e.Name, now,
		))
	}
	for _, rel := range relations {
		relID := RelationID(rel.FromEntity, rel.ToEntity, rel.Kind)
		ops = append(ops, writer.BatchOp(
			`INSERT INTO graph_relations (id, tenant_id, project, from_entity, to_entity, relation, fact_id, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO NOTHING`,
			relID, r.tenantID, r.project, rel.FromEntity, rel.ToEntity, rel.Kind, r.factID, now,
		))
	}
	if len(ops) > 0 {
		if _, err := d.w.ExecuteMany(ctx, ops); err != nil {
			return fmt.Errorf("persist graph rows: %w", err)
		}
	}
	return d.markDone(ctx, r.id)
}

func (d *Drainer) markDone(ctx context.Context, outboxID int64) error {
	_, err := d.w.Execute(ctx,
		`UPDATE graph_outbox SET status = 'done', updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), outboxID)
	if err != nil {
		return fmt.Errorf("graph drain: mark done: %w", err)
	}
	return nil
}

// fail increments retries and parks the row once maxRetries is exceeded.
// Errors here are logged, not returned — this already runs from an error
// path and DrainOnce's caller has no more-specific action to take.
func (d *Drainer) fail(ctx context.Context, r outboxRow, cause error) {
	retries := r.retries + 1
	status := "pending"
	if retries >= d.maxRetries {
		status = "parked"
	}
	if _, err := d.w.Execute(ctx,
		`UPDATE graph_outbox SET status = ?, retries = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		status, retries, cause.Error(), time.Now().UTC().Format(time.RFC3339Nano), r.id,
	); err != nil {
		d.log.Error("graph drain: record failure failed", "error", err, "outbox_id", r.id)
	}
}
