package ledger

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/stretchr/testify/require"

	"github.com/cortex-memory/cortex/internal/canon"
	"github.com/cortex-memory/cortex/internal/writer"
)

func newTestLedger(t *testing.T) (*Ledger, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE ledger_transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id TEXT NOT NULL,
			project TEXT NOT NULL,
			action TEXT NOT NULL,
			detail TEXT NOT NULL,
			prev_hash TEXT NOT NULL,
			hash TEXT NOT NULL,
			timestamp TEXT NOT NULL
		);
		CREATE TABLE ledger_checkpoints (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id TEXT NOT NULL,
			root_hash TEXT NOT NULL,
			tx_start_id INTEGER NOT NULL,
			tx_end_id INTEGER NOT NULL,
			tx_count INTEGER NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE TABLE integrity_checks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id TEXT NOT NULL,
			valid INTEGER NOT NULL,
			tx_checked INTEGER NOT NULL,
			roots_checked INTEGER NOT NULL,
			violations TEXT NOT NULL DEFAULT '[]',
			checked_at TEXT NOT NULL
		);
	`)
	require.NoError(t, err)

	w := writer.New(db, nil)
	w.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = w.Stop(ctx)
		db.Close()
	})

	return New(w, db, 3, 10), db
}

func TestAppendFirstTransactionUsesGenesis(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, hash, err := l.Append(ctx, "tenant-a", "proj", "fact.store", map[string]any{"fact_id": 1})
	require.NoError(t, err)
	require.Len(t, hash, 64)

	tx, err := l.Transaction(ctx, "tenant-a", 1)
	require.NoError(t, err)
	require.Equal(t, canon.GenesisHash, tx.PrevHash)
}

func TestAppendChainsHashes(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, hash1, err := l.Append(ctx, "tenant-a", "proj", "fact.store", map[string]any{"fact_id": 1})
	require.NoError(t, err)
	_, _, err = l.Append(ctx, "tenant-a", "proj", "fact.store", map[string]any{"fact_id": 2})
	require.NoError(t, err)

	tx2, err := l.Transaction(ctx, "tenant-a", 2)
	require.NoError(t, err)
	require.Equal(t, hash1, tx2.PrevHash)
}

func TestAppendIsolatesTenants(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, _, err := l.Append(ctx, "tenant-a", "proj", "fact.store", map[string]any{"fact_id": 1})
	require.NoError(t, err)
	_, hashB, err := l.Append(ctx, "tenant-b", "proj", "fact.store", map[string]any{"fact_id": 1})
	require.NoError(t, err)

	txB, err := l.Transaction(ctx, "tenant-b", 1)
	require.NoError(t, err)
	require.Equal(t, canon.GenesisHash, txB.PrevHash, "tenant-b's first tx must not chain off tenant-a's")
	require.Equal(t, hashB, txB.Hash)
}

func TestVerifyIntegrityValidChain(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _, err := l.Append(ctx, "tenant-a", "proj", "fact.store", map[string]any{"fact_id": i})
		require.NoError(t, err)
	}

	report, err := l.VerifyIntegrity(ctx, "tenant-a")
	require.NoError(t, err)
	require.True(t, report.Valid)
	require.Equal(t, 5, report.TxChecked)
	require.Empty(t, report.Violations)
}

func TestVerifyIntegrityDetectsTamperedHash(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()

	_, _, err := l.Append(ctx, "tenant-a", "proj", "fact.store", map[string]any{"fact_id": 1})
	require.NoError(t, err)

	_, err = db.Exec(`UPDATE ledger_transactions SET hash = 'tampered' WHERE id = 1`)
	require.NoError(t, err)

	report, err := l.VerifyIntegrity(ctx, "tenant-a")
	require.NoError(t, err)
	require.False(t, report.Valid)
	require.NotEmpty(t, report.Violations)
}

func TestCreateCheckpointWaitsForBatchSize(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, _, err := l.Append(ctx, "tenant-a", "proj", "fact.store", map[string]any{"fact_id": 1})
	require.NoError(t, err)

	id, err := l.CreateCheckpoint(ctx, "tenant-a")
	require.NoError(t, err)
	require.Equal(t, int64(0), id, "fewer than checkpointMin transactions must not checkpoint")
}

func TestCreateCheckpointOnceBatchSizeReached(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := l.Append(ctx, "tenant-a", "proj", "fact.store", map[string]any{"fact_id": i})
		require.NoError(t, err)
	}

	id, err := l.CreateCheckpoint(ctx, "tenant-a")
	require.NoError(t, err)
	require.Greater(t, id, int64(0))

	report, err := l.VerifyIntegrity(ctx, "tenant-a")
	require.NoError(t, err)
	require.True(t, report.Valid)
	require.Equal(t, 1, report.RootsChecked)
}

func TestAdaptiveBatchSizeShrinksUnderBurst(t *testing.T) {
	l, _ := newTestLedger(t)
	for i := 0; i < 20; i++ {
		l.RecordWrite()
	}
	// 20 writes all within the window far exceed highWriteThreshold per
	// second over a 60s window only if sustained; this test instead checks
	// the boundary behavior directly via the public knobs.
	require.Equal(t, l.checkpointMax, l.AdaptiveBatchSize(), "20 writes over 60s is below the 10/s burst threshold")
}
