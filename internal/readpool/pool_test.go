package readpool

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/stretchr/testify/require"
)

func openMem(ctx context.Context) (*sql.DB, error) {
	return sql.Open("sqlite3", ":memory:")
}

func TestNewPrewarmsMinConnections(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, openMem, 2, 4, nil)
	require.NoError(t, err)
	defer p.Close()
	require.Equal(t, 2, p.Len())
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, openMem, 1, 2, nil)
	require.NoError(t, err)
	defer p.Close()

	c, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NotNil(t, c.DB())
	p.Release(c)
}

func TestDiscardClosesConnectionInsteadOfReturning(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, openMem, 1, 1, nil)
	require.NoError(t, err)
	defer p.Close()

	c, err := p.Acquire(ctx)
	require.NoError(t, err)
	c.Discard()
	p.Release(c)
	require.Equal(t, 0, p.Len())
}

func TestAcquireBoundedByMax(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, openMem, 0, 1, nil)
	require.NoError(t, err)
	defer p.Close()

	c1, err := p.Acquire(ctx)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		c2, err := p.Acquire(ctx)
		require.NoError(t, err)
		close(acquired)
		p.Release(c2)
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should block while max=1 connection is held")
	default:
	}

	p.Release(c1)
	<-acquired
}

func TestConcurrentAcquireRelease(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, openMem, 2, 4, nil)
	require.NoError(t, err)
	defer p.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := p.Acquire(ctx)
			require.NoError(t, err)
			p.Release(c)
		}()
	}
	wg.Wait()
}
