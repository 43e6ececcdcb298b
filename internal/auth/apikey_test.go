package auth

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/stretchr/testify/require"

	"github.com/cortex-memory/cortex/internal/types"
	"github.com/cortex-memory/cortex/internal/writer"
)

func newTestManager(t *testing.T) (*Manager, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE api_keys (
			id TEXT PRIMARY KEY, name TEXT NOT NULL, key_hash TEXT NOT NULL UNIQUE,
			key_prefix TEXT NOT NULL, tenant_id TEXT NOT NULL, role TEXT NOT NULL,
			permissions TEXT NOT NULL DEFAULT '[]', rate_limit INTEGER NOT NULL DEFAULT 0,
			is_active INTEGER NOT NULL DEFAULT 1, created_at TEXT NOT NULL, last_used TEXT
		);
	`)
	require.NoError(t, err)

	w := writer.New(db, nil)
	w.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = w.Stop(ctx)
		db.Close()
	})
	return NewManager(w, db, nil), db
}

func TestCreateKeyReturnsRawOnceAndPersistsOnlyHash(t *testing.T) {
	m, db := newTestManager(t)
	ctx := context.Background()

	raw, key, err := m.CreateKey(ctx, CreateKeyInput{Name: "ci", TenantID: "t1", Role: types.RoleAgent})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(raw, "ctx_"))
	require.Len(t, raw, 68)
	require.NotEqual(t, raw, key.KeyHash)

	var storedHash string
	require.NoError(t, db.QueryRow(`SELECT key_hash FROM api_keys WHERE id = ?`, key.ID).Scan(&storedHash))
	require.Equal(t, key.KeyHash, storedHash)
	require.NotContains(t, storedHash, raw)
}

func TestAuthenticateValidKey(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	raw, _, err := m.CreateKey(ctx, CreateKeyInput{Name: "ci", TenantID: "t1", Role: types.RoleAdmin})
	require.NoError(t, err)

	result := m.Authenticate(ctx, raw)
	require.True(t, result.Authenticated)
	require.Equal(t, "t1", result.TenantID)
	require.Equal(t, types.RoleAdmin, result.Role)
}

func TestAuthenticateMalformedKeyStillHashes(t *testing.T) {
	m, _ := newTestManager(t)
	result := m.Authenticate(context.Background(), "not-a-cortex-key")
	require.False(t, result.Authenticated)
	require.Equal(t, "Invalid key format", result.Error)
}

func TestAuthenticateRevokedKeyFails(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	raw, key, err := m.CreateKey(ctx, CreateKeyInput{Name: "ci", TenantID: "t1", Role: types.RoleAgent})
	require.NoError(t, err)
	require.NoError(t, m.RevokeKey(ctx, "t1", key.ID))

	result := m.Authenticate(ctx, raw)
	require.False(t, result.Authenticated)
}

func TestAuthorizeRespectsRoleHierarchy(t *testing.T) {
	m, _ := newTestManager(t)
	viewerResult := types.AuthResult{Authenticated: true, Role: types.RoleViewer}
	require.True(t, m.Authorize(viewerResult, types.PermReadFacts))
	require.False(t, m.Authorize(viewerResult, types.PermWriteFacts))
}

func TestListKeysExcludesHash(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	_, _, err := m.CreateKey(ctx, CreateKeyInput{Name: "ci-1", TenantID: "t1", Role: types.RoleViewer})
	require.NoError(t, err)
	_, _, err = m.CreateKey(ctx, CreateKeyInput{Name: "ci-2", TenantID: "t2", Role: types.RoleViewer})
	require.NoError(t, err)

	keys, err := m.ListKeys(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.Empty(t, keys[0].KeyHash)
}
