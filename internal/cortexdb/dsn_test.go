package cortexdb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConnStringEmptyPath(t *testing.T) {
	require.Equal(t, "", ConnString("", false))
}

func TestConnStringIncludesPragmas(t *testing.T) {
	dsn := ConnString("/tmp/cortex.db", false)
	require.Contains(t, dsn, "_pragma=busy_timeout(")
	require.Contains(t, dsn, "_pragma=foreign_keys(ON)")
	require.Contains(t, dsn, "_pragma=journal_mode(WAL)")
	require.NotContains(t, dsn, "mode=ro")
}

func TestConnStringReadOnlyAddsMode(t *testing.T) {
	dsn := ConnString("/tmp/cortex.db", true)
	require.Contains(t, dsn, "mode=ro")
}

func TestConnStringHonorsLockTimeoutEnv(t *testing.T) {
	t.Setenv("CORTEX_LOCK_TIMEOUT", "5s")
	dsn := ConnString("/tmp/cortex.db", false)
	require.Contains(t, dsn, "_pragma=busy_timeout(5000)")
}
