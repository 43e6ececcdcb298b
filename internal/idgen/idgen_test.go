package idgen

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEncodeBase36PadsAndTruncates(t *testing.T) {
	short := EncodeBase36([]byte{0x00}, 4)
	require.Equal(t, 4, len(short))
	require.Equal(t, "0000", short)

	long := EncodeBase36([]byte{0xFF, 0xFF, 0xFF, 0xFF}, 3)
	require.Equal(t, 3, len(long))
}

func TestGenerateHashIDDeterministic(t *testing.T) {
	ts := time.Unix(0, 1700000000000000000)
	a := GenerateHashID("agt", "watcher", "agent", ts, 6, 0)
	b := GenerateHashID("agt", "watcher", "agent", ts, 6, 0)
	require.Equal(t, a, b)
	require.True(t, strings.HasPrefix(a, "agt-"))

	c := GenerateHashID("agt", "watcher", "agent", ts, 6, 1)
	require.NotEqual(t, a, c, "nonce must change the derived id")
}

func TestNewRawAPIKeyFormat(t *testing.T) {
	raw, err := NewRawAPIKey()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(raw, "ctx_"))
	require.Len(t, raw, 4+64)

	raw2, err := NewRawAPIKey()
	require.NoError(t, err)
	require.NotEqual(t, raw, raw2)
}

func TestHashAPIKeyStable(t *testing.T) {
	h1 := HashAPIKey("ctx_abc")
	h2 := HashAPIKey("ctx_abc")
	require.Equal(t, h1, h2)
	require.Len(t, h1, 64)
}

func TestKeyPrefix(t *testing.T) {
	require.Equal(t, "ctx_abcdefgh", KeyPrefix("ctx_abcdefghijklmnop", 12))
	require.Equal(t, "short", KeyPrefix("short", 12))
}
