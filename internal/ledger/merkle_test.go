package ledger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMerkleRootEmpty(t *testing.T) {
	require.Equal(t, "", MerkleRoot(nil))
}

func TestMerkleRootSingleLeaf(t *testing.T) {
	root := MerkleRoot([]string{"abc"})
	require.Equal(t, hashPair("abc", "abc"), root)
}

func TestMerkleRootDeterministic(t *testing.T) {
	leaves := []string{"a", "b", "c", "d"}
	r1 := MerkleRoot(leaves)
	r2 := MerkleRoot(leaves)
	require.Equal(t, r1, r2)
}

func TestMerkleRootOddCountDuplicatesLast(t *testing.T) {
	leaves := []string{"a", "b", "c"}
	withDup := MerkleRoot([]string{"a", "b", "c", "c"})
	require.Equal(t, withDup, MerkleRoot(leaves))
}

func TestMerkleRootChangesWithLeafOrder(t *testing.T) {
	a := MerkleRoot([]string{"a", "b", "c", "d"})
	b := MerkleRoot([]string{"d", "c", "b", "a"})
	require.NotEqual(t, a, b)
}

func TestMerkleRootSensitiveToLeafChange(t *testing.T) {
	a := MerkleRoot([]string{"a", "b", "c", "d"})
	b := MerkleRoot([]string{"a", "b", "c", "e"})
	require.NotEqual(t, a, b)
}
