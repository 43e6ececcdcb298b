package canon

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTxHashV2Deterministic(t *testing.T) {
	detail, err := CanonicalJSON(map[string]any{"key": "value"})
	require.NoError(t, err)

	a := TxHashV2(GenesisHash, "tenant-1", "fact.store", detail, "2026-01-01T00:00:00Z")
	b := TxHashV2(GenesisHash, "tenant-1", "fact.store", detail, "2026-01-01T00:00:00Z")
	require.Equal(t, a, b)
	require.Len(t, a, 64)
}

func TestTxHashV2ChangesWithPrevHash(t *testing.T) {
	detail, err := CanonicalJSON(map[string]any{"key": "value"})
	require.NoError(t, err)

	first := TxHashV2(GenesisHash, "tenant-1", "fact.store", detail, "2026-01-01T00:00:00Z")
	second := TxHashV2(first, "tenant-1", "fact.store", detail, "2026-01-01T00:00:01Z")
	require.NotEqual(t, first, second)
}

func TestTxHashV1DiffersFromV2(t *testing.T) {
	v1 := TxHashV1(GenesisHash, "tenant-1", "fact.store", `{"key":"value"}`, "2026-01-01T00:00:00Z")
	detail, err := CanonicalJSON(map[string]any{"key": "value"})
	require.NoError(t, err)
	v2 := TxHashV2(GenesisHash, "tenant-1", "fact.store", detail, "2026-01-01T00:00:00Z")
	require.NotEqual(t, v1, v2, "v1 and v2 use different field delimiters and must diverge")
	require.Len(t, v1, 64)
}

func TestTxHashV1Deterministic(t *testing.T) {
	a := TxHashV1(GenesisHash, "tenant-1", "fact.store", "raw-detail", "2026-01-01T00:00:00Z")
	b := TxHashV1(GenesisHash, "tenant-1", "fact.store", "raw-detail", "2026-01-01T00:00:00Z")
	require.Equal(t, a, b)
}
