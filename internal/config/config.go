// Package config resolves CORTEX's runtime configuration from, in
// ascending precedence, built-in defaults, an optional cortex.toml file,
// and CORTEX_* environment variables — the same env-over-file-over-default
// layering the teacher's own config package applies for its BD_/BEADS_
// variables, via the same viper engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is CORTEX's fully resolved runtime configuration, per spec.md §6.
type Config struct {
	DBPath               string
	MasterKeyB64         string
	MasterKeyFile        string
	CheckpointMin        int
	CheckpointMax        int
	CheckpointBatch      int
	PoolSize             int
	RateLimit            int
	RateWindowSeconds    int
	EmbeddingsDim        int
	AllowedOrigins       []string
	Deploy               string // "local" | "cloud"
	LogLevel             string
	LogFormat            string // "text" | "json"
	MinContentLength     int
	GraphOutboxMaxRetries int
}

const envPrefix = "CORTEX"

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "cortex.db"
	}
	return filepath.Join(home, ".cortex", "cortex.db")
}

// Load builds a Config from defaults, an optional file named by
// CORTEX_CONFIG (or ./cortex.toml if unset and present), and CORTEX_*
// environment variables, in that ascending order of precedence.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault("db", defaultDBPath())
	v.SetDefault("master_key", "")
	v.SetDefault("master_key_file", "")
	v.SetDefault("checkpoint_min", 100)
	v.SetDefault("checkpoint_max", 1000)
	v.SetDefault("checkpoint_batch", 500)
	v.SetDefault("pool_size", 4)
	v.SetDefault("rate_limit", 100)
	v.SetDefault("rate_window", 60)
	v.SetDefault("embeddings_dim", 384)
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("deploy", "local")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("min_content_length", 10)
	v.SetDefault("graph_outbox_max_retries", 5)

	configPath := os.Getenv(envPrefix + "_CONFIG")
	if configPath == "" {
		if _, err := os.Stat("cortex.toml"); err == nil {
			configPath = "cortex.toml"
		}
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	cfg := Config{
		DBPath:                v.GetString("db"),
		MasterKeyB64:          v.GetString("master_key"),
		MasterKeyFile:         v.GetString("master_key_file"),
		CheckpointMin:         v.GetInt("checkpoint_min"),
		CheckpointMax:         v.GetInt("checkpoint_max"),
		CheckpointBatch:       v.GetInt("checkpoint_batch"),
		PoolSize:              v.GetInt("pool_size"),
		RateLimit:             v.GetInt("rate_limit"),
		RateWindowSeconds:     v.GetInt("rate_window"),
		EmbeddingsDim:         v.GetInt("embeddings_dim"),
		AllowedOrigins:        v.GetStringSlice("allowed_origins"),
		Deploy:                v.GetString("deploy"),
		LogLevel:              v.GetString("log_level"),
		LogFormat:             v.GetString("log_format"),
		MinContentLength:      v.GetInt("min_content_length"),
		GraphOutboxMaxRetries: v.GetInt("graph_outbox_max_retries"),
	}
	return cfg, nil
}
