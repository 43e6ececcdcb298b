// Package idgen generates short, content-derived identifiers for entities
// that are not natively keyed by the ledger's monotonic integer ids
// (agents, API keys, ghosts).
package idgen

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"
)

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// EncodeBase36 converts data to a base36 string of exactly length characters,
// padding with leading zeros or truncating to the least-significant digits.
func EncodeBase36(data []byte, length int) string {
	num := new(big.Int).SetBytes(data)

	base := big.NewInt(36)
	zero := big.NewInt(0)
	mod := new(big.Int)

	chars := make([]byte, 0, length)
	for num.Cmp(zero) > 0 {
		num.DivMod(num, base, mod)
		chars = append(chars, base36Alphabet[mod.Int64()])
	}

	var result strings.Builder
	for i := len(chars) - 1; i >= 0; i-- {
		result.WriteByte(chars[i])
	}

	str := result.String()
	if len(str) < length {
		str = strings.Repeat("0", length-len(str)) + str
	}
	if len(str) > length {
		str = str[len(str)-length:]
	}
	return str
}

// GenerateHashID derives a short, content-stable id for an entity from its
// defining attributes plus a nonce (to break ties on collision).
func GenerateHashID(prefix, name, kind string, timestamp time.Time, length, nonce int) string {
	content := fmt.Sprintf("%s|%s|%d|%d", name, kind, timestamp.UnixNano(), nonce)
	hash := sha256.Sum256([]byte(content))

	var numBytes int
	switch {
	case length <= 4:
		numBytes = 3
	case length <= 6:
		numBytes = 4
	default:
		numBytes = 5
	}

	return fmt.Sprintf("%s-%s", prefix, EncodeBase36(hash[:numBytes], length))
}

// NewRawAPIKey mints a fresh "ctx_<64-hex>" credential. The caller persists
// only SHA256(raw) — the raw value is shown exactly once.
func NewRawAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return "ctx_" + hex.EncodeToString(buf), nil
}

// HashAPIKey returns the lowercase hex SHA-256 digest persisted at rest.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// KeyPrefix returns the first n characters of a raw key for display purposes.
func KeyPrefix(raw string, n int) string {
	if len(raw) <= n {
		return raw
	}
	return raw[:n]
}
