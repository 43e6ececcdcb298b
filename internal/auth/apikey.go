package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/cortex-memory/cortex/internal/cortexdb"
	"github.com/cortex-memory/cortex/internal/cortexerr"
	"github.com/cortex-memory/cortex/internal/idgen"
	"github.com/cortex-memory/cortex/internal/types"
	"github.com/cortex-memory/cortex/internal/writer"
)

// keyPrefixLen is the number of leading raw-key characters persisted
// unhashed for display ("ctx_<12 hex chars>...").
const keyPrefixLen = 12

// dummyHashInput is hashed for every malformed candidate key so a
// malformed-format rejection costs the same wall-clock time as a real
// lookup miss, per spec.md §4.C12's constant-time posture.
const dummyHashInput = "cortex-dummy-key-equalizes-timing"

// Manager issues and verifies API keys against the api_keys table. It also
// holds a small LRU of recently authenticated hashes so a hot caller
// issuing many requests per second doesn't hit the database for every one
// — entries are immutable snapshots of an authorization decision, safe to
// cache because a revoked key simply falls out of the cache on its own TTL
// rather than needing active invalidation.
type Manager struct {
	w    *writer.Worker
	db   *sql.DB
	eval *Evaluator
	log  *slog.Logger

	cache *expirable.LRU[string, types.AuthResult]
}

// DefaultCacheTTL bounds how long a successful authentication is cached
// before the next call re-reads the api_keys row (picking up role or
// permission changes, or a meanwhile-revoked key).
const DefaultCacheTTL = 30 * time.Second

// DefaultCacheCapacity bounds the authenticate cache's size; entries beyond
// it are evicted least-recently-used rather than kept indefinitely.
const DefaultCacheCapacity = 1024

// NewManager constructs a key Manager. eval may be nil to use DefaultEvaluator.
func NewManager(w *writer.Worker, db *sql.DB, eval *Evaluator) *Manager {
	if eval == nil {
		eval = DefaultEvaluator()
	}
	return &Manager{
		w:     w,
		db:    db,
		eval:  eval,
		log:   slog.Default().With("component", "cortex.auth"),
		cache: expirable.NewLRU[string, types.AuthResult](DefaultCacheCapacity, nil, DefaultCacheTTL),
	}
}

// CreateKeyInput carries the caller-suppliable fields for CreateKey.
type CreateKeyInput struct {
	Name        string
	TenantID    string
	Role        types.Role
	Permissions []types.Permission
	RateLimit   int
}

// CreateKey mints a fresh "ctx_<64-hex>" credential, persists only its
// SHA-256 hash, and returns the raw key exactly once — callers must store
// it themselves, CORTEX never will.
func (m *Manager) CreateKey(ctx context.Context, in CreateKeyInput) (rawKey string, key types.APIKey, err error) {
	if strings.TrimSpace(in.Name) == "" {
		return "", types.APIKey{}, fmt.Errorf("%w: key name is required", cortexerr.ErrValidation)
	}
	if strings.TrimSpace(in.TenantID) == "" {
		return "", types.APIKey{}, fmt.Errorf("%w: tenant_id is required", cortexerr.ErrValidation)
	}
	if in.Role == "" {
		in.Role = types.RoleViewer
	}

	rawKey, err = idgen.NewRawAPIKey()
	if err != nil {
		return "", types.APIKey{}, fmt.Errorf("auth: create key: %w", err)
	}
	hash := idgen.HashAPIKey(rawKey)
	prefix := idgen.KeyPrefix(rawKey, keyPrefixLen)

	permsJSON, err := json.Marshal(in.Permissions)
	if err != nil {
		return "", types.APIKey{}, fmt.Errorf("auth: marshal permissions: %w", err)
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	_, err = m.w.Execute(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, tenant_id, role, permissions, rate_limit, is_active, created_at, last_used)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, NULL)`,
		id, in.Name, hash, prefix, in.TenantID, string(in.Role), string(permsJSON), in.RateLimit,
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", types.APIKey{}, fmt.Errorf("%w: %s", cortexerr.ErrStorage, err)
	}

	key = types.APIKey{
		ID: id, Name: in.Name, KeyHash: hash, KeyPrefix: prefix,
		TenantID: in.TenantID, Role: in.Role, Permissions: in.Permissions,
		RateLimit: in.RateLimit, IsActive: true, CreatedAt: now,
	}
	return rawKey, key, nil
}

// Authenticate looks up candidate by its hash. On a malformed key (missing
// the "ctx_" prefix) it still hashes a fixed dummy input before returning
// so the failure path costs the same time as a real lookup, per spec.md's
// constant-time posture requirement.
func (m *Manager) Authenticate(ctx context.Context, candidate string) types.AuthResult {
	if !strings.HasPrefix(candidate, "ctx_") {
		_ = idgen.HashAPIKey(dummyHashInput)
		return types.AuthResult{Authenticated: false, Error: "Invalid key format"}
	}

	hash := idgen.HashAPIKey(candidate)

	if cached, ok := m.cache.Get(hash); ok {
		return cached
	}

	var key types.APIKey
	var permsJSON, roleStr string
	var isActive int
	err := m.db.QueryRowContext(ctx,
		`SELECT id, name, tenant_id, role, permissions, rate_limit, is_active
		 FROM api_keys WHERE key_hash = ?`, hash,
	).Scan(&key.ID, &key.Name, &key.TenantID, &roleStr, &permsJSON, &key.RateLimit, &isActive)
	if err != nil {
		if err == sql.ErrNoRows {
			return types.AuthResult{Authenticated: false, Error: "Invalid key format"}
		}
		m.log.Error("auth: key lookup failed", "error", err)
		return types.AuthResult{Authenticated: false, Error: "Invalid key format"}
	}
	if isActive == 0 {
		return types.AuthResult{Authenticated: false, Error: "Invalid key format"}
	}
	key.Role = types.Role(roleStr)
	_ = json.Unmarshal([]byte(permsJSON), &key.Permissions)

	result := types.AuthResult{
		Authenticated: true,
		TenantID:      key.TenantID,
		Role:          key.Role,
		Permissions:   key.Permissions,
		KeyName:       key.Name,
	}
	m.cache.Add(hash, result)

	go m.touchLastUsed(key.ID)

	return result
}

// Authorize reports whether result's role (plus explicit permission
// grants) authorizes perm.
func (m *Manager) Authorize(result types.AuthResult, perm types.Permission) bool {
	if !result.Authenticated {
		return false
	}
	return m.eval.HasPermission(result.Role, result.Permissions, perm)
}

// RevokeKey flips is_active to false; the row (and its audit trail) is
// kept, never deleted.
func (m *Manager) RevokeKey(ctx context.Context, tenantID, keyID string) error {
	n, err := m.w.Execute(ctx,
		`UPDATE api_keys SET is_active = 0 WHERE id = ? AND tenant_id = ?`, keyID, tenantID)
	if err != nil {
		return fmt.Errorf("%w: %s", cortexerr.ErrStorage, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: key %s", cortexdb.ErrNotFound, keyID)
	}
	return nil
}

// ListKeys returns every key registered for tenantID, most recently
// created first. KeyHash is never populated on returned rows.
func (m *Manager) ListKeys(ctx context.Context, tenantID string) ([]types.APIKey, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, name, key_prefix, tenant_id, role, permissions, rate_limit, is_active, created_at, last_used
		 FROM api_keys WHERE tenant_id = ? ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", cortexerr.ErrStorage, err)
	}
	defer rows.Close()

	var out []types.APIKey
	for rows.Next() {
		var k types.APIKey
		var roleStr, permsJSON, createdAt string
		var lastUsed sql.NullString
		var isActive int
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyPrefix, &k.TenantID, &roleStr, &permsJSON,
			&k.RateLimit, &isActive, &createdAt, &lastUsed); err != nil {
			return nil, fmt.Errorf("%w: %s", cortexerr.ErrStorage, err)
		}
		k.Role = types.Role(roleStr)
		k.IsActive = isActive != 0
		_ = json.Unmarshal([]byte(permsJSON), &k.Permissions)
		k.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		if lastUsed.Valid {
			t, err := time.Parse(time.RFC3339Nano, lastUsed.String)
			if err == nil {
				k.LastUsed = &t
			}
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (m *Manager) touchLastUsed(keyID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := m.w.Execute(ctx,
		`UPDATE api_keys SET last_used = ? WHERE id = ?`, time.Now().UTC().Format(time.RFC3339Nano), keyID,
	); err != nil {
		m.log.Warn("auth: update last_used failed (best-effort)", "error", err, "key_id", keyID)
	}
}

