package canon

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) {
	t.Helper()
	var key [32]byte
	for i := range key {
		key[i] = byte(i)
	}
	SetMasterKeyForTest(key)
}

func TestSealOpenRoundTrip(t *testing.T) {
	testKey(t)

	env, err := Seal("tenant-a", []byte("the moon landing happened in 1969"))
	require.NoError(t, err)
	require.Equal(t, AlgAESGCM256, env.Alg)
	require.NotEmpty(t, env.Nonce)

	plaintext, err := Open("tenant-a", env)
	require.NoError(t, err)
	require.Equal(t, "the moon landing happened in 1969", string(plaintext))
}

func TestOpenFailsForWrongTenant(t *testing.T) {
	testKey(t)

	env, err := Seal("tenant-a", []byte("secret"))
	require.NoError(t, err)

	_, err = Open("tenant-b", env)
	require.Error(t, err)
}

func TestOpenPassesThroughLegacyPlaintext(t *testing.T) {
	testKey(t)

	legacy := Envelope{Alg: "", Ciphertext: []byte("unencrypted legacy value")}
	out, err := Open("tenant-a", legacy)
	require.NoError(t, err)
	require.Equal(t, "unencrypted legacy value", string(out))
}

func TestOpenRejectsUnknownAlgorithm(t *testing.T) {
	testKey(t)

	_, err := Open("tenant-a", Envelope{Alg: "ROT13", Ciphertext: []byte("x")})
	require.Error(t, err)
}

func TestSealProducesDistinctNoncesPerCall(t *testing.T) {
	testKey(t)

	first, err := Seal("tenant-a", []byte("same plaintext"))
	require.NoError(t, err)
	second, err := Seal("tenant-a", []byte("same plaintext"))
	require.NoError(t, err)
	require.NotEqual(t, first.Nonce, second.Nonce)
	require.NotEqual(t, first.Ciphertext, second.Ciphertext)
}
