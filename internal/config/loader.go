package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tailscale/hujson"
)

// Load resolves DATA_DIR, reads $DATA_DIR/config.jsonc when present, applies
// defaults, and layers the environment switches on top. A missing config
// file is not an error: the environment plus defaults describe a complete
// deployment.
func Load() (*Config, error) {
	dataDir, err := DataDir()
	if err != nil {
		return nil, err
	}

	cfg := &Config{DataDir: dataDir}

	path := ConfigPath(dataDir)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		standardized, err := hujson.Standardize(data)
		if err != nil {
			return nil, fmt.Errorf("standardize %s: %w", path, err)
		}
		if err := json.Unmarshal(standardized, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", path, err)
		}
		cfg.DataDir = dataDir
	case os.IsNotExist(err):
		// env + defaults only
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyDefaults(cfg)
	applyEnv(cfg)
	return cfg, nil
}

// applyDefaults fills in zero-value fields.
func applyDefaults(cfg *Config) {
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "127.0.0.1"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 18900
	}
	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 1024
	}
	if cfg.Agent.MaxTurns == 0 {
		cfg.Agent.MaxTurns = 12
	}
	if cfg.Agent.TaskTimeout.Duration() == 0 {
		cfg.Agent.TaskTimeout = Duration(600 * time.Second)
	}
	if cfg.Agent.MaxConcurrent == 0 {
		cfg.Agent.MaxConcurrent = 32
	}
	if cfg.Inbox.Retention.Duration() == 0 {
		cfg.Inbox.Retention = Duration(7 * 24 * time.Hour)
	}
	if cfg.Workers.DefaultBackend == "" {
		cfg.Workers.DefaultBackend = "core-agent"
	}
	if cfg.Workers.ProgressEvery.Duration() == 0 {
		cfg.Workers.ProgressEvery = Duration(10 * time.Second)
	}
	if cfg.Heartbeat.DefaultEvery.Duration() == 0 {
		cfg.Heartbeat.DefaultEvery = Duration(30 * time.Minute)
	}
	if len(cfg.Skills.Dirs) == 0 {
		cfg.Skills.Dirs = []string{filepath.Join(cfg.DataDir, "skills")}
	}
}

// applyEnv layers the environment switches over the file config.
// Routing defaults to on unless DISPATCH_MODEL_ROUTING=false.
func applyEnv(cfg *Config) {
	if v, ok := envInt("MAX_TURNS"); ok {
		cfg.Agent.MaxTurns = v
	}
	if v, ok := envInt("TASK_TIMEOUT"); ok {
		cfg.Agent.TaskTimeout = Duration(time.Duration(v) * time.Second)
	}
	if v, ok := envBool("MCP_MEMORY_ENABLED"); ok {
		cfg.Memory.Enabled = v
	}
	if v, ok := envBool("DISPATCH_MODEL_ROUTING"); ok {
		cfg.Agent.DispatchModelRouting = &v
	}
	if v := os.Getenv("X_DEPLOYMENT_STAGING_PATH"); v != "" {
		cfg.Workers.StagingPath = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}
