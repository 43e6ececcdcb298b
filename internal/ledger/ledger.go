package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/cortex-memory/cortex/internal/canon"
	"github.com/cortex-memory/cortex/internal/obs"
	"github.com/cortex-memory/cortex/internal/types"
	"github.com/cortex-memory/cortex/internal/writer"
)

// writeRateWindow and highWriteThreshold mirror the original engine's
// adaptive checkpointing constants: 60s trailing window, 10 writes/sec
// considered a burst.
const (
	writeRateWindow    = 60 * time.Second
	highWriteThreshold = 10.0
	maxTrackedWrites   = 5000
)

// Ledger append-only transaction log, hash-chained per tenant and
// periodically checkpointed into a Merkle root for batch verification.
type Ledger struct {
	w  *writer.Worker
	db *sql.DB // read-only access for checkpoint/verify queries

	checkpointMin int
	checkpointMax int

	tracer trace.Tracer

	mu              sync.Mutex
	writeTimestamps []time.Time
}

// New constructs a Ledger. db is used for read queries (checkpoint lookups,
// integrity verification); w is the single-writer worker every append and
// checkpoint insert flows through.
func New(w *writer.Worker, db *sql.DB, checkpointMin, checkpointMax int) *Ledger {
	if checkpointMin <= 0 {
		checkpointMin = 100
	}
	if checkpointMax <= 0 || checkpointMax < checkpointMin {
		checkpointMax = checkpointMin * 10
	}
	return &Ledger{
		w: w, db: db,
		checkpointMin: checkpointMin, checkpointMax: checkpointMax,
		tracer: obs.Tracer("cortex.ledger"),
	}
}

// RecordWrite pushes now onto the bounded write-rate tracking window, used
// by AdaptiveBatchSize to detect bursts.
func (l *Ledger) RecordWrite() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writeTimestamps = append(l.writeTimestamps, time.Now())
	if len(l.writeTimestamps) > maxTrackedWrites {
		l.writeTimestamps = l.writeTimestamps[len(l.writeTimestamps)-maxTrackedWrites:]
	}
}

// AdaptiveBatchSize shrinks the checkpoint batch toward checkpointMin when
// the trailing write rate exceeds highWriteThreshold, bounding the
// data-loss window during write bursts; otherwise it returns checkpointMax.
func (l *Ledger) AdaptiveBatchSize() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-writeRateWindow)
	recent := 0
	for _, ts := range l.writeTimestamps {
		if ts.After(cutoff) {
			recent++
		}
	}
	rate := float64(recent) / writeRateWindow.Seconds()
	if rate > highWriteThreshold {
		return l.checkpointMin
	}
	return l.checkpointMax
}

// Append writes one ledger transaction under the hash chain, opening its
// own single-statement transaction via the writer worker. See AppendTx for
// the shared logic and for callers (like facts.StoreMany) that need the
// append to share a larger enclosing transaction instead.
func (l *Ledger) Append(ctx context.Context, tenantID, project, action string, detail any) (txID int64, hash string, err error) {
	txErr := l.w.Transaction(ctx, func(tx *writer.Tx) error {
		return tx.Do(func(sqlTx *sql.Tx) error {
			id, h, err := l.AppendTx(sqlTx, tenantID, project, action, detail)
			if err != nil {
				return err
			}
			txID, hash = id, h
			return nil
		})
	})
	if txErr != nil {
		return 0, "", txErr
	}
	return txID, hash, nil
}

// AppendTx writes one ledger transaction under the hash chain using an
// already-open *sql.Tx, for callers that need the append to commit or
// roll back atomically with other statements in a larger transaction
// (facts.StoreMany's batch insert, in particular). detail is canonicalized
// before hashing so the stored hash is stable regardless of map iteration
// order. It re-reads its own prev_hash inside sqlTx right before
// inserting — defense in depth against a second writer existing, even
// though the architecture forbids one — and uses whatever predecessor it
// actually observes rather than one read earlier in the call.
func (l *Ledger) AppendTx(sqlTx *sql.Tx, tenantID, project, action string, detail any) (txID int64, hash string, err error) {
	detailCanonical, err := canon.CanonicalJSON(detail)
	if err != nil {
		return 0, "", fmt.Errorf("ledger append: canonicalize detail: %w", err)
	}
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	prevHash := canon.GenesisHash
	err = sqlTx.QueryRow(
		`SELECT hash FROM ledger_transactions WHERE tenant_id = ? ORDER BY id DESC LIMIT 1`,
		tenantID,
	).Scan(&prevHash)
	if err != nil && err != sql.ErrNoRows {
		return 0, "", fmt.Errorf("read prev hash: %w", err)
	}

	computedHash := canon.TxHashV2(prevHash, project, action, detailCanonical, timestamp)

	res, err := sqlTx.Exec(
		`INSERT INTO ledger_transactions (tenant_id, project, action, detail, prev_hash, hash, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tenantID, project, action, string(detailCanonical), prevHash, computedHash, timestamp,
	)
	if err != nil {
		return 0, "", fmt.Errorf("insert transaction: %w", err)
	}
	insertedID, err := res.LastInsertId()
	if err != nil {
		return 0, "", fmt.Errorf("read inserted id: %w", err)
	}

	l.RecordWrite()
	return insertedID, computedHash, nil
}

// TransactionCount reports how many ledger transactions exist for tenantID,
// used by Engine.Stats to surface ledger size without exposing row access.
func (l *Ledger) TransactionCount(ctx context.Context, tenantID string) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger_transactions WHERE tenant_id = ?`, tenantID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("ledger: count transactions: %w", err)
	}
	return n, nil
}

// LatestTransactionID returns tenantID's highest ledger transaction id, or
// 0 if the tenant has no ledger entries yet.
func (l *Ledger) LatestTransactionID(ctx context.Context, tenantID string) (int64, error) {
	var id sql.NullInt64
	if err := l.db.QueryRowContext(ctx,
		`SELECT MAX(id) FROM ledger_transactions WHERE tenant_id = ?`, tenantID,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("ledger: latest transaction id: %w", err)
	}
	return id.Int64, nil
}

// LatestCheckpointRoot returns the Merkle root of tenantID's most recent
// checkpoint, or "" if none has been created yet.
func (l *Ledger) LatestCheckpointRoot(ctx context.Context, tenantID string) (string, error) {
	var root string
	err := l.db.QueryRowContext(ctx,
		`SELECT root_hash FROM ledger_checkpoints WHERE tenant_id = ? ORDER BY id DESC LIMIT 1`, tenantID,
	).Scan(&root)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("ledger: latest checkpoint root: %w", err)
	}
	return root, nil
}

// Transaction reconstructs a single ledger row by id, scoped to tenantID.
func (l *Ledger) Transaction(ctx context.Context, tenantID string, id int64) (types.Transaction, error) {
	var t types.Transaction
	var ts string
	err := l.db.QueryRowContext(ctx,
		`SELECT id, project, action, detail, prev_hash, hash, timestamp
		 FROM ledger_transactions WHERE tenant_id = ? AND id = ?`, tenantID, id,
	).Scan(&t.ID, &t.Project, &t.Action, &t.Detail, &t.PrevHash, &t.Hash, &ts)
	if err != nil {
		return types.Transaction{}, fmt.Errorf("ledger transaction %d: %w", id, err)
	}
	t.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
	return t, nil
}
