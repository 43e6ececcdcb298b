// Package engine wires every CORTEX component (substrate, ledger, fact
// store, retrieval, consensus, compaction, auth) into one facade whose
// methods mirror the operations a local CORTEX deployment exposes: store,
// recall, search, vote, verify, compact, and the auth/ghost/graph
// supplements built alongside them.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/cortex-memory/cortex/internal/auth"
	"github.com/cortex-memory/cortex/internal/canon"
	"github.com/cortex-memory/cortex/internal/compaction"
	"github.com/cortex-memory/cortex/internal/config"
	"github.com/cortex-memory/cortex/internal/consensus"
	"github.com/cortex-memory/cortex/internal/cortexdb"
	"github.com/cortex-memory/cortex/internal/embedding"
	"github.com/cortex-memory/cortex/internal/facts"
	"github.com/cortex-memory/cortex/internal/firewall"
	"github.com/cortex-memory/cortex/internal/graph"
	"github.com/cortex-memory/cortex/internal/ledger"
	"github.com/cortex-memory/cortex/internal/readpool"
	"github.com/cortex-memory/cortex/internal/retrieval"
	"github.com/cortex-memory/cortex/internal/types"
	"github.com/cortex-memory/cortex/internal/writer"
)

// graphDrainInterval bounds how often the background drainer sweeps
// graph_outbox for pending rows.
const graphDrainInterval = 2 * time.Second

// checkpointDrainBatch bounds how many outbox rows one sweep claims.
const checkpointDrainBatch = 100

// Engine is CORTEX's facade: one struct per open database, holding the
// single writer connection, the bounded reader pool, and every component
// built on top of them.
type Engine struct {
	cfg config.Config
	log *slog.Logger

	writerDB *sql.DB
	w        *writer.Worker
	readers  *readpool.Pool

	Facts      *facts.Store
	Ledger     *ledger.Ledger
	Consensus  *consensus.Engine
	Compaction *compaction.Engine
	Auth       *auth.Manager
	Gate       *auth.SovereignGate

	embedder embedding.Provider
	drainer  *graph.Drainer

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New boots every component against cfg.DBPath: master key, writer
// connection + worker, reader pool, and the facade's constituent engines.
// Close must be called to stop the background drain loop and flush WAL.
func New(ctx context.Context, cfg config.Config) (*Engine, error) {
	if err := loadMasterKey(cfg); err != nil {
		return nil, fmt.Errorf("engine: master key: %w", err)
	}

	writerDB, err := cortexdb.OpenWriter(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("engine: open writer: %w", err)
	}

	log := slog.Default().With("component", "cortex.engine")
	w := writer.New(writerDB, slog.Default().With("component", "cortex.writer"))
	w.Start()

	readers, err := readpool.New(ctx, func(ctx context.Context) (*sql.DB, error) {
		return cortexdb.OpenReader(ctx, cfg.DBPath)
	}, 1, maxInt(cfg.PoolSize, 1), slog.Default().With("component", "cortex.readpool"))
	if err != nil {
		_ = w.Stop(ctx)
		writerDB.Close()
		return nil, fmt.Errorf("engine: open read pool: %w", err)
	}

	shieldDir := filepath.Join(filepath.Dir(cfg.DBPath), "shield")
	shield, err := firewall.New(shieldDir)
	if err != nil {
		readers.Close()
		_ = w.Stop(ctx)
		writerDB.Close()
		return nil, fmt.Errorf("engine: open firewall log: %w", err)
	}

	embedder := embedding.NewHashingProvider(cfg.EmbeddingsDim)
	asyncEmbedder := embedding.NewAsync(embedder)

	l := ledger.New(w, writerDB, cfg.CheckpointMin, cfg.CheckpointMax)
	factsStore := facts.New(w, writerDB, l, asyncEmbedder, shield)
	factsStore.SetMinContentLength(cfg.MinContentLength)

	evaluator := auth.DefaultEvaluator()

	e := &Engine{
		cfg:        cfg,
		log:        log,
		writerDB:   writerDB,
		w:          w,
		readers:    readers,
		Facts:      factsStore,
		Ledger:     l,
		Consensus:  consensus.New(w, writerDB),
		Compaction: compaction.New(w, writerDB, factsStore),
		Auth:       auth.NewManager(w, writerDB, evaluator),
		Gate:       auth.NewSovereignGate(writerDB, evaluator),
		embedder:   embedder,
		drainer:    graph.NewDrainer(w, writerDB, cfg.GraphOutboxMaxRetries),
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.wg.Add(1)
	go e.runGraphDrainLoop(loopCtx)

	return e, nil
}

// Close stops the background drain loop, closes the reader pool, and
// flushes/closes the writer connection.
func (e *Engine) Close(ctx context.Context) error {
	e.cancel()
	e.wg.Wait()
	e.readers.Close()
	if err := e.w.Stop(ctx); err != nil {
		return fmt.Errorf("engine: stop writer: %w", err)
	}
	return e.writerDB.Close()
}

func (e *Engine) runGraphDrainLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(graphDrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.drainer.DrainOnce(ctx, checkpointDrainBatch); err != nil {
				e.log.Warn("graph drain sweep failed", "error", err)
			}
		}
	}
}

// withReader acquires a pooled read-only connection, runs fn against it,
// and releases it, discarding the connection instead of returning it to
// the pool on error.
func (e *Engine) withReader(ctx context.Context, fn func(db *sql.DB) error) error {
	conn, err := e.readers.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("engine: acquire reader: %w", err)
	}
	if err := fn(conn.DB()); err != nil {
		conn.Discard()
		e.readers.Release(conn)
		return err
	}
	e.readers.Release(conn)
	return nil
}

// maybeCheckpoint opportunistically advances tenantID's Merkle checkpoint.
// It runs in the caller's goroutine but after the operation it's attached
// to has already returned its result, mirroring facts.Store's own
// fire-and-forget embedding backfill: checkpointing must never add latency
// to the write path that triggers it.
func (e *Engine) maybeCheckpoint(tenantID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := e.Ledger.CreateCheckpoint(ctx, tenantID); err != nil {
		e.log.Warn("opportunistic checkpoint failed", "error", err, "tenant_id", tenantID)
	}
}

func loadMasterKey(cfg config.Config) error {
	switch {
	case cfg.MasterKeyFile != "":
		return canon.LoadMasterKeyFromFile(cfg.MasterKeyFile, true)
	case cfg.MasterKeyB64 != "":
		return canon.LoadMasterKeyFromEnv()
	default:
		return canon.GenerateEphemeralMasterKey()
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Stats is the aggregate view returned by Engine.Stats: a tenant-scoped
// snapshot of fact counts, ledger length, and compaction history.
type Stats struct {
	ActiveFacts     int
	LedgerTxCount   int
	CompactionStats compaction.Stats
}

// AuthResult re-exports types.AuthResult so cmd/cortex doesn't need to
// import internal/types directly for the one type its auth flags touch.
type AuthResult = types.AuthResult
