// Package ledger implements CORTEX's hash-chained, Merkle-checkpointed
// transaction log: every mutation appends one row whose hash commits to its
// predecessor, and periodic checkpoints fold ranges of transaction hashes
// into a single root for cheap batch verification.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
)

// MerkleRoot computes the canonical binary Merkle root over leafHashes,
// which are taken verbatim (not re-hashed) as the tree's leaves. An odd
// level duplicates its last node before pairing, the standard fix for
// asymmetric trees (Bitcoin-style). Returns "" for an empty input.
func MerkleRoot(leafHashes []string) string {
	if len(leafHashes) == 0 {
		return ""
	}
	level := make([]string, len(leafHashes))
	copy(level, leafHashes)

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]string, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, hashPair(level[i], level[i+1]))
		}
		level = next
	}
	return level[0]
}

func hashPair(a, b string) string {
	h := sha256.New()
	h.Write([]byte(a))
	h.Write([]byte(b))
	return hex.EncodeToString(h.Sum(nil))
}
