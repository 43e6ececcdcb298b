package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
)

// maxEncodeElapsed bounds how long a single retried encode attempt may run
// before giving up and letting the caller's fallback (lexical-only
// retrieval, or persisting the fact without an embedding) take over.
const maxEncodeElapsed = 5 * time.Second

// Async wraps a Provider so callers on a hot path (the fact store's insert)
// never block the caller's goroutine on inference: EncodeAsync launches the
// work, possibly across several goroutines for a batch, and delivers the
// result on the returned channel. Transient provider errors are retried
// with backoff; a Provider that keeps failing within maxEncodeElapsed
// surfaces its error on the channel instead of blocking forever.
type Async struct {
	provider Provider
}

// NewAsync wraps provider for off-goroutine, retried encoding.
func NewAsync(provider Provider) *Async {
	return &Async{provider: provider}
}

// EncodeResult is delivered once on the channel returned by EncodeAsync.
type EncodeResult struct {
	Vector []float32
	Err    error
}

// EncodeAsync starts encoding text on a new goroutine and returns
// immediately. The caller selects on the returned channel (or ctx.Done())
// rather than blocking inline, matching the spec's requirement that
// embedding inference never runs on the caller's critical path.
func (a *Async) EncodeAsync(ctx context.Context, text string) <-chan EncodeResult {
	out := make(chan EncodeResult, 1)
	go func() {
		defer close(out)
		v, err := a.encodeWithRetry(ctx, text)
		out <- EncodeResult{Vector: v, Err: err}
	}()
	return out
}

// EncodeBatchConcurrent fans EncodeAsync's retry wrapper out across the
// batch using errgroup, bounding total wait to the slowest single item
// rather than the sum of all items.
func (a *Async) EncodeBatchConcurrent(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			v, err := a.encodeWithRetry(gctx, text)
			if err != nil {
				return fmt.Errorf("encode batch item %d: %w", i, err)
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Async) encodeWithRetry(ctx context.Context, text string) ([]float32, error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxEncodeElapsed

	var result []float32
	err := backoff.Retry(func() error {
		v, err := a.provider.Encode(ctx, text)
		if err != nil {
			return err
		}
		result = v
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return nil, fmt.Errorf("embedding encode: %w", err)
	}
	return result, nil
}
