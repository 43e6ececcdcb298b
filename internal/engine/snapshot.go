package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

// nonSnapshotNameChar strips everything outside spec's sanitized-name
// alphabet before a caller-supplied snapshot name reaches the filesystem.
var nonSnapshotNameChar = regexp.MustCompile(`[^A-Za-z0-9_\-]`)

// SnapshotMeta is the sibling JSON metadata written next to every exported
// snapshot file.
type SnapshotMeta struct {
	Name       string  `json:"name"`
	TxID       int64   `json:"tx_id"`
	MerkleRoot string  `json:"merkle_root"`
	CreatedAt  string  `json:"created_at"`
	SizeMB     float64 `json:"size_mb"`
	Path       string  `json:"path"`
}

// ExportSnapshot takes a VACUUM INTO copy of the live database and writes a
// sibling JSON metadata file recording tenantID's ledger position at
// export time, under <dbdir>/snapshots/cortex_snap_<timestamp>_<name>.db.
func (e *Engine) ExportSnapshot(ctx context.Context, tenantID, name string) (SnapshotMeta, error) {
	sanitized := nonSnapshotNameChar.ReplaceAllString(name, "")
	if sanitized == "" {
		sanitized = "snapshot"
	}

	now := time.Now().UTC()
	stamp := now.Format("20060102_150405")
	snapshotDir := filepath.Join(filepath.Dir(e.cfg.DBPath), "snapshots")
	if err := os.MkdirAll(snapshotDir, 0o755); err != nil {
		return SnapshotMeta{}, fmt.Errorf("engine: create snapshots dir: %w", err)
	}

	dbName := fmt.Sprintf("cortex_snap_%s_%s.db", stamp, sanitized)
	dbPath := filepath.Join(snapshotDir, dbName)

	if _, err := e.w.Execute(ctx, fmt.Sprintf(`VACUUM INTO '%s'`, escapeSQLiteLiteral(dbPath))); err != nil {
		return SnapshotMeta{}, fmt.Errorf("engine: vacuum into snapshot: %w", err)
	}

	txID, err := e.Ledger.LatestTransactionID(ctx, tenantID)
	if err != nil {
		return SnapshotMeta{}, err
	}
	root, err := e.Ledger.LatestCheckpointRoot(ctx, tenantID)
	if err != nil {
		return SnapshotMeta{}, err
	}

	info, err := os.Stat(dbPath)
	if err != nil {
		return SnapshotMeta{}, fmt.Errorf("engine: stat snapshot: %w", err)
	}

	meta := SnapshotMeta{
		Name:       sanitized,
		TxID:       txID,
		MerkleRoot: root,
		CreatedAt:  now.Format(time.RFC3339Nano),
		SizeMB:     float64(info.Size()) / (1024 * 1024),
		Path:       dbPath,
	}

	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return SnapshotMeta{}, fmt.Errorf("engine: marshal snapshot metadata: %w", err)
	}
	metaPath := dbPath[:len(dbPath)-len(filepath.Ext(dbPath))] + ".json"
	if err := os.WriteFile(metaPath, metaJSON, 0o644); err != nil {
		return SnapshotMeta{}, fmt.Errorf("engine: write snapshot metadata: %w", err)
	}

	return meta, nil
}

// escapeSQLiteLiteral doubles embedded single quotes so dbPath can be
// interpolated into a VACUUM INTO statement, which SQLite doesn't accept a
// bound parameter for.
func escapeSQLiteLiteral(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'', '\'')
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}
