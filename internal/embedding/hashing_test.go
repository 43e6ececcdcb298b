package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashingProviderDeterministic(t *testing.T) {
	p := NewHashingProvider(64)
	a, err := p.Encode(context.Background(), "the quick brown fox")
	require.NoError(t, err)
	b, err := p.Encode(context.Background(), "the quick brown fox")
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestHashingProviderUnitNorm(t *testing.T) {
	p := NewHashingProvider(64)
	v, err := p.Encode(context.Background(), "some meaningful content about databases")
	require.NoError(t, err)

	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	require.InDelta(t, 1.0, math.Sqrt(sumSquares), 1e-6)
}

func TestHashingProviderDimension(t *testing.T) {
	p := NewHashingProvider(128)
	require.Equal(t, 128, p.Dim())
	v, err := p.Encode(context.Background(), "text")
	require.NoError(t, err)
	require.Len(t, v, 128)
}

func TestHashingProviderDefaultsDimWhenInvalid(t *testing.T) {
	p := NewHashingProvider(0)
	require.Equal(t, DefaultDim, p.Dim())
}

func TestHashingProviderDistinctTextsDiffer(t *testing.T) {
	p := NewHashingProvider(64)
	a, err := p.Encode(context.Background(), "alpha beta gamma")
	require.NoError(t, err)
	b, err := p.Encode(context.Background(), "completely different content here")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestEncodeBatchMatchesIndividualEncode(t *testing.T) {
	p := NewHashingProvider(64)
	texts := []string{"one", "two", "three"}
	batch, err := p.EncodeBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	for i, text := range texts {
		single, err := p.Encode(context.Background(), text)
		require.NoError(t, err)
		require.Equal(t, single, batch[i])
	}
}

func TestNormalizeZeroVectorUnchanged(t *testing.T) {
	v := make([]float32, 8)
	Normalize(v)
	for _, x := range v {
		require.Equal(t, float32(0), x)
	}
}
