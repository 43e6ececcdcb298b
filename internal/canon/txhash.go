package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// GenesisHash is the sentinel prev_hash for the first transaction in a
// tenant's ledger.
const GenesisHash = "GENESIS"

// TxHashV2 is the current transaction hash derivation: colon-joined fields,
// SHA-256, lowercase hex. detailCanonical must already be CanonicalJSON
// output so the hash is stable regardless of map iteration order upstream.
func TxHashV2(prevHash, project, action string, detailCanonical []byte, timestamp string) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write([]byte{':'})
	h.Write([]byte(project))
	h.Write([]byte{':'})
	h.Write([]byte(action))
	h.Write([]byte{':'})
	h.Write(detailCanonical)
	h.Write([]byte{':'})
	h.Write([]byte(timestamp))
	return hex.EncodeToString(h.Sum(nil))
}

// TxHashV1 is the legacy transaction hash derivation, preserved forever so
// chains written before the v2 switch still verify. It pipe-joins fields
// instead of colon-joining and hashes detail as a plain string rather than
// canonical bytes.
func TxHashV1(prevHash, project, action, detail, timestamp string) string {
	fields := strings.Join([]string{prevHash, project, action, detail, timestamp}, "|")
	sum := sha256.Sum256([]byte(fields))
	return hex.EncodeToString(sum[:])
}
