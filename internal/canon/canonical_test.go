package canon

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalJSONSortsKeys(t *testing.T) {
	a, err := CanonicalJSON(map[string]any{"b": 1, "a": 2})
	require.NoError(t, err)
	require.Equal(t, `{"a":2,"b":1}`, string(a))
}

func TestCanonicalJSONNestedMaps(t *testing.T) {
	v := map[string]any{
		"outer": map[string]any{"z": 1, "y": 2},
		"list":  []any{3, 1, 2},
	}
	out, err := CanonicalJSON(v)
	require.NoError(t, err)
	require.Equal(t, `{"list":[3,1,2],"outer":{"y":2,"z":1}}`, string(out))
}

func TestCanonicalJSONStableAcrossEncodingOrder(t *testing.T) {
	first, err := CanonicalJSON(map[string]any{"alpha": 1, "beta": 2, "gamma": 3})
	require.NoError(t, err)
	second, err := CanonicalJSON(map[string]any{"gamma": 3, "alpha": 1, "beta": 2})
	require.NoError(t, err)
	require.Equal(t, string(first), string(second))
}

func TestCanonicalJSONFloatFormatting(t *testing.T) {
	out, err := CanonicalJSON(map[string]any{"score": 0.8500000001})
	require.NoError(t, err)
	require.Contains(t, string(out), "0.8500000001")
}

func TestCanonicalJSONIntegerHasNoDecimalPoint(t *testing.T) {
	out, err := CanonicalJSON(map[string]any{"count": 5})
	require.NoError(t, err)
	require.Equal(t, `{"count":5}`, string(out))
}

func TestCanonicalJSONRejectsNaN(t *testing.T) {
	_, err := CanonicalJSON(map[string]any{"x": math.NaN()})
	require.Error(t, err)
}
