// Package firewall implements CORTEX's privacy shield: a regex scan run
// over fact content before persistence, plus an append-only JSON-lines log
// of every flagged write, kept independent of the main ledger so it can be
// inspected or rotated without touching the hash chain.
package firewall

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileName is the JSONL file written under the engine's data directory.
const FileName = "firewall.jsonl"

// Entry is one flagged-content event.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	TenantID  string    `json:"tenant_id"`
	Project   string    `json:"project"`
	FactID    int64     `json:"fact_id,omitempty"`
	Patterns  []string  `json:"patterns"`
	Score     float64   `json:"score"`
}

// Log appends privacy-shield hits to an append-only JSONL file.
type Log struct {
	mu   sync.Mutex
	path string
}

// New opens (creating if necessary) a firewall log under dir.
func New(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("firewall: create log dir: %w", err)
	}
	return &Log{path: filepath.Join(dir, FileName)}, nil
}

// Append writes entry as one JSON line. Entries are never rewritten or
// deleted in place; log rotation, if any, is an operational concern outside
// this package.
func (l *Log) Append(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("firewall: open log: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("firewall: marshal entry: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("firewall: write entry: %w", err)
	}
	return nil
}
