package firewall

import "regexp"

// pattern is one named privacy-shield detector.
type pattern struct {
	id string
	re *regexp.Regexp
	// weight contributes to the aggregate privacy score on a match; higher
	// for patterns with near-zero false-positive rates (private key blocks),
	// lower for patterns that can coincidentally match ordinary prose
	// (generic high-entropy tokens).
	weight float64
}

var patterns = []pattern{
	{id: "aws_access_key_id", re: regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`), weight: 0.9},
	{id: "generic_api_key", re: regexp.MustCompile(`(?i)\b(api[_-]?key|secret[_-]?key|access[_-]?token)\b\s*[:=]\s*['"]?[A-Za-z0-9_\-]{16,}['"]?`), weight: 0.7},
	{id: "private_key_block", re: regexp.MustCompile(`-----BEGIN (RSA |EC |OPENSSH |DSA )?PRIVATE KEY-----`), weight: 1.0},
	{id: "slack_token", re: regexp.MustCompile(`\bxox[baprs]-[0-9A-Za-z-]{10,}\b`), weight: 0.9},
	{id: "github_token", re: regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`), weight: 0.9},
	{id: "jwt", re: regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\b`), weight: 0.5},
	{id: "db_connection_string", re: regexp.MustCompile(`(?i)\b(postgres|postgresql|mysql|mongodb(\+srv)?|redis):\/\/[^\s'"]+:[^\s'"]+@[^\s'"]+`), weight: 0.8},
	{id: "generic_password_assignment", re: regexp.MustCompile(`(?i)\bpassword\b\s*[:=]\s*['"]?\S{6,}['"]?`), weight: 0.4},
}

// Scan checks content against every privacy-shield pattern. It never blocks
// a write: matches only annotate the fact's meta (flagged, matched pattern
// ids, a blended score in [0,1]) per the spec's non-blocking privacy
// shield contract.
func Scan(content string) (flagged bool, matchedIDs []string, score float64) {
	var total float64
	var count int
	for _, p := range patterns {
		if p.re.MatchString(content) {
			matchedIDs = append(matchedIDs, p.id)
			total += p.weight
			count++
		}
	}
	if count == 0 {
		return false, nil, 0
	}
	score = total / float64(count)
	if score > 1 {
		score = 1
	}
	return true, matchedIDs, score
}
