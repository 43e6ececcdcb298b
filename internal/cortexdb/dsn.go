// Package cortexdb is CORTEX's SQLite storage substrate: DSN construction,
// connection opening with the pragmas the single-writer and read pool models
// depend on, and the forward-only migration runner in the migrations
// subpackage.
package cortexdb

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// defaultBusyTimeout is used when CORTEX_LOCK_TIMEOUT is unset or invalid.
const defaultBusyTimeout = 30 * time.Second

// ConnString builds a ncruces/go-sqlite3 DSN for path with the pragmas every
// CORTEX connection requires: WAL journaling, a busy timeout long enough to
// ride out writer contention, and foreign key enforcement. readOnly opens
// the connection in SQLite's native read-only mode, used by the read pool.
func ConnString(path string, readOnly bool) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}

	busy := defaultBusyTimeout
	if v := strings.TrimSpace(os.Getenv("CORTEX_LOCK_TIMEOUT")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			busy = d
		}
	}
	busyMs := int64(busy / time.Millisecond)

	var b strings.Builder
	fmt.Fprintf(&b, "file:%s?_pragma=busy_timeout(%s)", path, strconv.FormatInt(busyMs, 10))
	fmt.Fprint(&b, "&_pragma=foreign_keys(ON)")
	fmt.Fprint(&b, "&_pragma=journal_mode(WAL)")
	fmt.Fprint(&b, "&_time_format=sqlite")
	if readOnly {
		fmt.Fprint(&b, "&mode=ro")
	}
	return b.String()
}
