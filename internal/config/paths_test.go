package config

import (
	"path/filepath"
	"testing"
)

func TestDataDirRequiresAbsolute(t *testing.T) {
	t.Setenv("DATA_DIR", "relative/path")
	if _, err := DataDir(); err == nil {
		t.Fatal("expected error for relative DATA_DIR")
	}

	t.Setenv("DATA_DIR", "/var/lib/xbot")
	dir, err := DataDir()
	if err != nil {
		t.Fatalf("DataDir: %v", err)
	}
	if dir != "/var/lib/xbot" {
		t.Errorf("dir = %q", dir)
	}
}

func TestDerivedPaths(t *testing.T) {
	root := "/var/lib/xbot"
	if got := ConfigPath(root); got != filepath.Join(root, "config.jsonc") {
		t.Errorf("ConfigPath = %q", got)
	}
	if got := DotenvPath(root); got != filepath.Join(root, ".env") {
		t.Errorf("DotenvPath = %q", got)
	}
	if got := KernelPath(root, "core-manager", "SOUL.MD"); got != filepath.Join(root, "kernel", "core-manager", "SOUL.MD") {
		t.Errorf("KernelPath = %q", got)
	}
}
