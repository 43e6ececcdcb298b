package compaction

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"
)

// normalizeContent lowercases and collapses runs of whitespace (including
// newlines) to a single space, so exact-duplicate detection isn't thrown
// off by incidental formatting differences.
func normalizeContent(s string) string {
	fields := strings.Fields(strings.ToLower(s))
	return strings.Join(fields, " ")
}

// contentHash is the grouping key for exact-duplicate detection: the
// SHA-256 hex digest of the normalized content.
func contentHash(s string) string {
	sum := sha256.Sum256([]byte(normalizeContent(s)))
	return hex.EncodeToString(sum[:])
}

// similarity is a Levenshtein-distance-derived ratio in [0,1], 1.0 meaning
// identical after normalization. Two empty strings are trivially identical.
func similarity(a, b string) float64 {
	na, nb := normalizeContent(a), normalizeContent(b)
	if na == nb {
		return 1.0
	}
	maxLen := len(na)
	if len(nb) > maxLen {
		maxLen = len(nb)
	}
	if maxLen == 0 {
		return 1.0
	}
	dist := levenshtein.ComputeDistance(na, nb)
	return 1.0 - float64(dist)/float64(maxLen)
}

// mergeErrorContents consolidates a group of error fact contents into one
// summary string: a single repeated message collapses to an occurrence
// count, a set of distinct messages becomes a consolidated list.
func mergeErrorContents(contents []string) string {
	if len(contents) == 0 {
		return ""
	}
	if len(contents) == 1 {
		return fmt.Sprintf("%s (occurred 1×)", contents[0])
	}

	seen := make(map[string]bool, len(contents))
	var distinct []string
	for _, c := range contents {
		if !seen[c] {
			seen[c] = true
			distinct = append(distinct, c)
		}
	}
	if len(distinct) == 1 {
		return fmt.Sprintf("%s (occurred %d×)", distinct[0], len(contents))
	}
	return fmt.Sprintf("Consolidated %d errors: %s", len(contents), strings.Join(distinct, " | "))
}
