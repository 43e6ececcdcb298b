package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateCheckpoint inserts a new Merkle checkpoint over the next pending
// range of transactions for tenantID, if at least AdaptiveBatchSize()
// transactions are pending since the last checkpoint. Returns 0, nil if
// there was nothing to checkpoint.
func (l *Ledger) CreateCheckpoint(ctx context.Context, tenantID string) (checkpointID int64, err error) {
	ctx, span := l.tracer.Start(ctx, "ledger.create_checkpoint")
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	batchSize := l.AdaptiveBatchSize()

	var lastTxEnd sql.NullInt64
	if err := l.db.QueryRowContext(ctx,
		`SELECT MAX(tx_end_id) FROM ledger_checkpoints WHERE tenant_id = ?`, tenantID,
	).Scan(&lastTxEnd); err != nil {
		return 0, fmt.Errorf("ledger checkpoint: read last checkpoint: %w", err)
	}
	lastTx := int64(0)
	if lastTxEnd.Valid {
		lastTx = lastTxEnd.Int64
	}

	var pending int
	if err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger_transactions WHERE tenant_id = ? AND id > ?`, tenantID, lastTx,
	).Scan(&pending); err != nil {
		return 0, fmt.Errorf("ledger checkpoint: count pending: %w", err)
	}
	if pending < batchSize {
		return 0, nil
	}

	startID := lastTx + 1
	var endID int64
	if err := l.db.QueryRowContext(ctx,
		`SELECT id FROM ledger_transactions WHERE tenant_id = ? AND id >= ? ORDER BY id LIMIT 1 OFFSET ?`,
		tenantID, startID, batchSize-1,
	).Scan(&endID); err != nil {
		return 0, fmt.Errorf("ledger checkpoint: resolve end id: %w", err)
	}

	hashes, err := l.txHashRange(ctx, tenantID, startID, endID)
	if err != nil {
		return 0, err
	}
	root := MerkleRoot(hashes)
	if root == "" {
		return 0, nil
	}

	if _, err := l.w.Execute(ctx,
		`INSERT INTO ledger_checkpoints (tenant_id, root_hash, tx_start_id, tx_end_id, tx_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		tenantID, root, startID, endID, len(hashes), time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return 0, fmt.Errorf("ledger checkpoint: insert: %w", err)
	}

	var id int64
	if err := l.db.QueryRowContext(ctx,
		`SELECT id FROM ledger_checkpoints WHERE tenant_id = ? AND tx_end_id = ? ORDER BY id DESC LIMIT 1`,
		tenantID, endID,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("ledger checkpoint: read inserted id: %w", err)
	}
	return id, nil
}

func (l *Ledger) txHashRange(ctx context.Context, tenantID string, startID, endID int64) ([]string, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT hash FROM ledger_transactions WHERE tenant_id = ? AND id >= ? AND id <= ? ORDER BY id`,
		tenantID, startID, endID,
	)
	if err != nil {
		return nil, fmt.Errorf("ledger: query tx hash range: %w", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("ledger: scan tx hash: %w", err)
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}
