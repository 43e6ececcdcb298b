package canon

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

const masterKeySize = 32

var (
	masterKey   atomic.Pointer[[masterKeySize]byte]
	watcherOnce sync.Once
)

// LoadMasterKeyFromEnv decodes a base64-encoded 32-byte key from the
// CORTEX_MASTER_KEY environment variable and installs it as the process-wide
// master key. Safe to call multiple times; only the first successful load
// takes effect per process, matching the engine's single-construction
// lifecycle.
func LoadMasterKeyFromEnv() error {
	raw := os.Getenv("CORTEX_MASTER_KEY")
	if raw == "" {
		return fmt.Errorf("CORTEX_MASTER_KEY is not set")
	}
	return loadMasterKeyBase64(raw)
}

// LoadMasterKeyFromFile reads a base64-encoded key from path and installs it.
// If watch is true, an fsnotify watcher reloads the key whenever the file is
// rewritten, so a rotated key takes effect without a process restart.
func LoadMasterKeyFromFile(path string, watch bool) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read master key file: %w", err)
	}
	if err := loadMasterKeyBase64(strings.TrimSpace(string(raw))); err != nil {
		return err
	}
	if watch {
		watcherOnce.Do(func() {
			go watchMasterKeyFile(path)
		})
	}
	return nil
}

func watchMasterKeyFile(path string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("master key watcher: create failed", "error", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		slog.Error("master key watcher: add failed", "path", path, "error", err)
		return
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			raw, err := os.ReadFile(path)
			if err != nil {
				slog.Warn("master key watcher: reload read failed", "error", err)
				continue
			}
			if err := loadMasterKeyBase64(strings.TrimSpace(string(raw))); err != nil {
				slog.Warn("master key watcher: reload decode failed", "error", err)
				continue
			}
			slog.Info("master key rotated from file", "path", path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("master key watcher error", "error", err)
		}
	}
}

func loadMasterKeyBase64(encoded string) error {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decode master key: %w", err)
	}
	if len(decoded) != masterKeySize {
		return fmt.Errorf("master key must decode to %d bytes, got %d", masterKeySize, len(decoded))
	}
	var key [masterKeySize]byte
	copy(key[:], decoded)
	masterKey.Store(&key)
	return nil
}

// SetMasterKeyForTest installs a raw 32-byte key directly, bypassing env or
// file loading. Intended for tests and local development fixtures only.
func SetMasterKeyForTest(key [masterKeySize]byte) {
	masterKey.Store(&key)
}

// GenerateEphemeralMasterKey installs a random per-process key when no
// CORTEX_MASTER_KEY or key file is configured. This keeps a local-first
// single-node deployment functional out of the box — facts are still
// sealed at rest — at the cost that the key does not survive a process
// restart; an operator who needs durable encrypted data across restarts
// must configure CORTEX_MASTER_KEY or CORTEX_MASTER_KEY_FILE explicitly.
func GenerateEphemeralMasterKey() error {
	var key [masterKeySize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return fmt.Errorf("generate ephemeral master key: %w", err)
	}
	masterKey.Store(&key)
	slog.Warn("no CORTEX_MASTER_KEY configured; generated an ephemeral per-process key. Encrypted facts will not be readable after restart.")
	return nil
}

func currentMasterKey() (*[masterKeySize]byte, error) {
	k := masterKey.Load()
	if k == nil {
		return nil, fmt.Errorf("master key not loaded: call LoadMasterKeyFromEnv or LoadMasterKeyFromFile first")
	}
	return k, nil
}
