package writer

import (
	"context"
	"database/sql"
)

// Tx is a scoped transaction handle bound to the worker's single
// connection. Exec calls within the scope reuse the worker's queue; the
// worker guarantees only one Tx can be open at a time, since it drives one
// connection.
type Tx struct {
	w   *Worker
	ctx context.Context
}

// Transaction opens a transaction, invokes fn, and commits on a nil return
// or rolls back on any error — including a panic, which is re-raised after
// rollback.
func (w *Worker) Transaction(ctx context.Context, fn func(tx *Tx) error) (retErr error) {
	if _, err := w.send(ctx, message{kind: opTxBegin}); err != nil {
		return err
	}
	tx := &Tx{w: w, ctx: ctx}

	defer func() {
		if p := recover(); p != nil {
			_, _ = w.send(ctx, message{kind: opTxRollback})
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if _, rbErr := w.send(ctx, message{kind: opTxRollback}); rbErr != nil {
			return rbErr
		}
		return err
	}
	if _, err := w.send(ctx, message{kind: opTxCommit}); err != nil {
		return err
	}
	return nil
}

// Exec runs a statement within the enclosing Transaction scope.
func (tx *Tx) Exec(query string, args ...any) (int64, error) {
	return tx.w.send(tx.ctx, message{kind: opTxExec, sql: query, args: args})
}

// Do runs fn against the live *sql.Tx on the worker's own goroutine, for
// callers that need a query (not just an exec) inside the transaction —
// read-modify-write sequences like the ledger's hash-chain append, where the
// read and the write must be atomic with respect to every other writer
// operation.
func (tx *Tx) Do(fn func(*sql.Tx) error) error {
	_, err := tx.w.send(tx.ctx, message{kind: opTxFunc, fn: fn})
	return err
}
