package embedding

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type flakyProvider struct {
	failuresLeft atomic.Int32
	dim          int
}

func (f *flakyProvider) Dim() int { return f.dim }

func (f *flakyProvider) Encode(ctx context.Context, text string) ([]float32, error) {
	if f.failuresLeft.Add(-1) >= 0 {
		return nil, errors.New("transient provider error")
	}
	return make([]float32, f.dim), nil
}

func (f *flakyProvider) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Encode(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func TestEncodeAsyncRetriesTransientFailures(t *testing.T) {
	p := &flakyProvider{dim: 8}
	p.failuresLeft.Store(2)
	a := NewAsync(p)

	res := <-a.EncodeAsync(context.Background(), "hello")
	require.NoError(t, res.Err)
	require.Len(t, res.Vector, 8)
}

func TestEncodeBatchConcurrentFansOut(t *testing.T) {
	p := NewHashingProvider(16)
	a := NewAsync(p)

	texts := []string{"a", "b", "c", "d", "e"}
	out, err := a.EncodeBatchConcurrent(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, out, 5)
	for _, v := range out {
		require.Len(t, v, 16)
	}
}

func TestEncodeBatchConcurrentPropagatesPermanentFailure(t *testing.T) {
	p := &flakyProvider{dim: 8}
	p.failuresLeft.Store(1 << 20)
	a := NewAsync(p)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.EncodeBatchConcurrent(ctx, []string{"x"})
	require.Error(t, err)
}
