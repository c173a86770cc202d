package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// DataDir resolves the data root from $DATA_DIR. The path must be set and
// absolute; everything the core persists lives under it.
func DataDir() (string, error) {
	dir := os.Getenv("DATA_DIR")
	if dir == "" {
		return "", fmt.Errorf("DATA_DIR not set")
	}
	if !filepath.IsAbs(dir) {
		return "", fmt.Errorf("DATA_DIR must be absolute, got %q", dir)
	}
	return dir, nil
}

// ConfigPath returns the path of config.jsonc under the data root.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config.jsonc")
}

// DotenvPath returns the path of the .env file under the data root.
func DotenvPath(dataDir string) string {
	return filepath.Join(dataDir, ".env")
}

// KernelPath returns a path under the kernel tree (core-manager SOUL,
// tool access policies).
func KernelPath(dataDir string, segments ...string) string {
	parts := append([]string{dataDir, "kernel"}, segments...)
	return filepath.Join(parts...)
}
