// Package readpool implements CORTEX's bounded pool of warm, read-only
// connections: a semaphore bounds concurrency, a buffered channel recycles
// already-open connections, and every acquire runs a cheap health check so
// a connection killed out from under the pool (disk error, forced close)
// is replaced rather than handed to a caller.
package readpool

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// OpenFunc opens one fresh read-only connection. The pool calls it both at
// warm-up and whenever a dead connection needs replacing.
type OpenFunc func(ctx context.Context) (*sql.DB, error)

// Pool is a bounded set of read-only *sql.DB connections.
type Pool struct {
	open OpenFunc
	log  *slog.Logger

	sem   chan struct{}
	idle  chan *sql.DB
	min   int
	max   int
	count atomic.Int32

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a pool and pre-warms min connections. max bounds total
// concurrently acquired connections.
func New(ctx context.Context, open OpenFunc, min, max int, log *slog.Logger) (*Pool, error) {
	if log == nil {
		log = slog.Default()
	}
	if max < 1 {
		max = 1
	}
	if min > max {
		min = max
	}
	p := &Pool{
		open:   open,
		log:    log,
		sem:    make(chan struct{}, max),
		idle:   make(chan *sql.DB, max),
		min:    min,
		max:    max,
		closed: make(chan struct{}),
	}

	for i := 0; i < min; i++ {
		conn, err := open(ctx)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("readpool: prewarm connection %d: %w", i, err)
		}
		p.count.Add(1)
		p.idle <- conn
	}
	return p, nil
}

// Conn is an acquired connection. Callers must call Release exactly once.
type Conn struct {
	db   *sql.DB
	pool *Pool
	bad  bool
}

// DB exposes the underlying connection for queries.
func (c *Conn) DB() *sql.DB { return c.db }

// Discard marks the connection as unhealthy so Release closes it instead of
// returning it to the idle set. Call this when a query on the connection
// returned a driver-level error that might indicate a dead connection.
func (c *Conn) Discard() { c.bad = true }

// Acquire blocks until a connection is available (bounded by the semaphore),
// then health-checks it before returning. A connection that fails the
// health check is closed and replaced transparently.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.closed:
		return nil, fmt.Errorf("readpool: closed")
	}

	for {
		var db *sql.DB
		select {
		case db = <-p.idle:
		default:
			opened, err := p.open(ctx)
			if err != nil {
				<-p.sem
				return nil, fmt.Errorf("readpool: open connection: %w", err)
			}
			p.count.Add(1)
			db = opened
		}

		if err := db.PingContext(ctx); err != nil {
			p.log.Warn("readpool: dropping unhealthy connection", "error", err)
			db.Close()
			p.count.Add(-1)
			continue
		}
		return &Conn{db: db, pool: p}, nil
	}
}

// Release returns a connection to the pool, or closes it if it was marked
// bad. A connection is never returned to the idle set after an error inside
// its acquire scope, so a dead connection cannot propagate to the next
// caller.
func (p *Pool) Release(c *Conn) {
	defer func() { <-p.sem }()
	if c.bad {
		c.db.Close()
		p.count.Add(-1)
		return
	}
	select {
	case p.idle <- c.db:
	default:
		// idle channel is full (shouldn't happen since it's sized to max),
		// close rather than block.
		c.db.Close()
		p.count.Add(-1)
	}
}

// Close closes every idle connection and marks the pool unusable for new
// acquires. In-flight Acquire/Release pairs already holding a connection are
// unaffected.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)
		for {
			select {
			case db := <-p.idle:
				db.Close()
			default:
				return
			}
		}
	})
}

// Len reports the number of connections currently open (idle + acquired).
func (p *Pool) Len() int {
	return int(p.count.Load())
}
