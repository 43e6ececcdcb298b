// Package writer implements CORTEX's single-writer queue: every mutating
// statement against the database flows through one goroutine that owns the
// sole read-write connection, eliminating SQLITE_BUSY contention by
// architecture rather than by retry.
package writer

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/cortex-memory/cortex/internal/obs"
)

type opKind int

const (
	opWrite opKind = iota
	opExecMany
	opTxBegin
	opTxExec
	opTxFunc
	opTxCommit
	opTxRollback
	opCheckpoint
	opShutdown
)

type message struct {
	kind  opKind
	sql   string
	args  []any
	batch []batchOp
	fn    func(*sql.Tx) error
	reply chan Result[int64]
	ctx   context.Context
}

// batchOp is one statement within an ExecuteMany batch.
type batchOp struct {
	SQL  string
	Args []any
}

// DefaultCheckpointInterval mirrors the teacher worker's default: every this
// many writes, a background PASSIVE checkpoint is issued to bound WAL growth.
const DefaultCheckpointInterval = 5000

// Worker owns the single read-write *sql.DB connection and serializes every
// mutating statement through its queue goroutine.
type Worker struct {
	db              *sql.DB
	log             *slog.Logger
	queue           chan message
	done            chan struct{}
	stopped         chan struct{}
	writeCount      atomic.Int64
	checkpointEvery int64

	// inTx and txHandle protect against a caller starting two overlapping
	// transactions; only one transaction()-scoped handle may be open at a
	// time since the worker drives a single connection.
	mu    sync.Mutex
	inTx  bool
	curTx *sql.Tx

	tracer      trace.Tracer
	writeCounter metric.Int64Counter
}

// New creates a Worker over db. Start must be called before use.
func New(db *sql.DB, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	tracer := obs.Tracer("cortex.writer")
	counter, err := obs.Meter("cortex.writer").Int64Counter("cortex.writer.writes",
		metric.WithDescription("number of committed write operations"))
	if err != nil {
		counter = nil
	}
	return &Worker{
		db:              db,
		log:             log,
		queue:           make(chan message, 256),
		done:            make(chan struct{}),
		stopped:         make(chan struct{}),
		checkpointEvery: DefaultCheckpointInterval,
		tracer:          tracer,
		writeCounter:    counter,
	}
}

// Start launches the writer loop goroutine. Idempotent: calling Start twice
// on an already-running worker is a no-op.
func (w *Worker) Start() {
	select {
	case <-w.stopped:
		return
	default:
	}
	go w.loop()
}

// Stop drains queued writes, issues a final TRUNCATE checkpoint, and closes
// the loop. Idempotent.
func (w *Worker) Stop(ctx context.Context) error {
	reply := make(chan Result[int64], 1)
	select {
	case w.queue <- message{kind: opShutdown, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case res := <-reply:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execute enqueues a single statement and waits for its result.
func (w *Worker) Execute(ctx context.Context, query string, args ...any) (int64, error) {
	return w.send(ctx, message{kind: opWrite, sql: query, args: args})
}

// ExecuteMany runs every op as one BEGIN IMMEDIATE … COMMIT transaction,
// rolled back in full on the first failing statement.
func (w *Worker) ExecuteMany(ctx context.Context, ops []batchOp) (int64, error) {
	if len(ops) == 0 {
		return 0, nil
	}
	return w.send(ctx, message{kind: opExecMany, batch: ops})
}

// Checkpoint requests a PASSIVE WAL checkpoint, enqueued like any other
// write so it runs in order relative to pending mutations.
func (w *Worker) Checkpoint(ctx context.Context) error {
	_, err := w.send(ctx, message{kind: opCheckpoint})
	return err
}

// BatchOp constructs a statement for use with ExecuteMany.
func BatchOp(sql string, args ...any) batchOp {
	return batchOp{SQL: sql, Args: args}
}

// Batch collects BatchOp-constructed statements into the slice type
// ExecuteMany expects. batchOp is unexported so a caller outside this
// package can't spell "[]batchOp" itself; starting from Batch()'s inferred
// return type and appending to it works around that.
func Batch(ops ...batchOp) []batchOp {
	return ops
}

func (w *Worker) send(ctx context.Context, msg message) (int64, error) {
	reply := make(chan Result[int64], 1)
	msg.reply = reply
	msg.ctx = ctx
	select {
	case w.queue <- msg:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.Value, res.Err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (w *Worker) loop() {
	defer close(w.stopped)
	for msg := range w.queue {
		switch msg.kind {
		case opShutdown:
			w.drainAndCheckpoint()
			msg.reply <- Result[int64]{}
			return
		default:
			w.handle(msg)
		}
	}
}

func (w *Worker) handle(msg message) {
	ctx := msg.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	switch msg.kind {
	case opWrite:
		_, span := w.tracer.Start(ctx, "writer.write")
		n, err := w.execWrite(msg.sql, msg.args)
		endSpan(span, err)
		msg.reply <- Result[int64]{Value: n, Err: err}
	case opExecMany:
		_, span := w.tracer.Start(ctx, "writer.execute_many", trace.WithAttributes(attribute.Int("writer.batch_size", len(msg.batch))))
		n, err := w.execMany(msg.batch)
		endSpan(span, err)
		msg.reply <- Result[int64]{Value: n, Err: err}
	case opTxBegin:
		err := w.beginTx()
		msg.reply <- Result[int64]{Err: err}
	case opTxExec:
		n, err := w.execInTx(msg.sql, msg.args)
		msg.reply <- Result[int64]{Value: n, Err: err}
	case opTxFunc:
		err := w.runInTx(msg.fn)
		msg.reply <- Result[int64]{Err: err}
	case opTxCommit:
		_, span := w.tracer.Start(ctx, "writer.transaction_commit")
		err := w.commitTx()
		endSpan(span, err)
		msg.reply <- Result[int64]{Err: err}
	case opTxRollback:
		err := w.rollbackTx()
		msg.reply <- Result[int64]{Err: err}
	case opCheckpoint:
		_, span := w.tracer.Start(ctx, "writer.checkpoint", trace.WithAttributes(attribute.String("writer.checkpoint_mode", "PASSIVE")))
		err := w.checkpoint("PASSIVE")
		endSpan(span, err)
		msg.reply <- Result[int64]{Err: err}
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (w *Worker) execWrite(query string, args []any) (int64, error) {
	res, err := w.db.Exec(query, args...)
	if err != nil {
		w.log.Warn("writer: statement failed", "error", err)
		return 0, fmt.Errorf("execute: %w", err)
	}
	w.afterWrite()
	n, _ := res.RowsAffected()
	return n, nil
}

func (w *Worker) execMany(ops []batchOp) (total int64, retErr error) {
	tx, err := w.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("execute_many begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	for _, op := range ops {
		res, err := tx.Exec(op.SQL, op.Args...)
		if err != nil {
			return 0, fmt.Errorf("execute_many: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("execute_many commit: %w", err)
	}
	w.afterWrite()
	return total, nil
}

func (w *Worker) beginTx() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.inTx {
		return fmt.Errorf("transaction already open")
	}
	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	w.curTx = tx
	w.inTx = true
	return nil
}

func (w *Worker) execInTx(query string, args []any) (int64, error) {
	w.mu.Lock()
	tx := w.curTx
	open := w.inTx
	w.mu.Unlock()
	if !open {
		return 0, fmt.Errorf("no open transaction")
	}
	res, err := tx.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("tx execute: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (w *Worker) runInTx(fn func(*sql.Tx) error) error {
	w.mu.Lock()
	tx := w.curTx
	open := w.inTx
	w.mu.Unlock()
	if !open {
		return fmt.Errorf("no open transaction")
	}
	return fn(tx)
}

func (w *Worker) commitTx() error {
	w.mu.Lock()
	tx := w.curTx
	w.curTx = nil
	w.inTx = false
	w.mu.Unlock()
	if tx == nil {
		return fmt.Errorf("no open transaction")
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	w.afterWrite()
	return nil
}

func (w *Worker) rollbackTx() error {
	w.mu.Lock()
	tx := w.curTx
	w.curTx = nil
	w.inTx = false
	w.mu.Unlock()
	if tx == nil {
		return nil
	}
	if err := tx.Rollback(); err != nil {
		w.log.Warn("writer: rollback failed", "error", err)
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

func (w *Worker) afterWrite() {
	if w.writeCounter != nil {
		w.writeCounter.Add(context.Background(), 1)
	}
	if w.writeCount.Add(1)%w.checkpointEvery == 0 {
		if err := w.checkpoint("PASSIVE"); err != nil {
			w.log.Warn("writer: periodic checkpoint failed", "error", err)
		}
	}
}

func (w *Worker) checkpoint(mode string) error {
	_, err := w.db.Exec(fmt.Sprintf("PRAGMA wal_checkpoint(%s)", mode))
	return err
}

func (w *Worker) drainAndCheckpoint() {
draining:
	for {
		select {
		case msg, ok := <-w.queue:
			if !ok {
				break draining
			}
			w.handle(msg)
		default:
			break draining
		}
	}
	if err := w.checkpoint("TRUNCATE"); err != nil {
		w.log.Warn("writer: shutdown checkpoint failed", "error", err)
	}
}
