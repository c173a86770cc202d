package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDotenvDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# credentials\nFOO_KEY=file-value\nQUOTED=\"hello world\"\nEMPTYLINE=\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("FOO_KEY", "env-value")
	t.Setenv("QUOTED", "")
	os.Unsetenv("QUOTED")

	if err := LoadDotenv(path); err != nil {
		t.Fatalf("LoadDotenv: %v", err)
	}

	if got := os.Getenv("FOO_KEY"); got != "env-value" {
		t.Errorf("FOO_KEY = %q, existing env var was overridden", got)
	}
	if got := os.Getenv("QUOTED"); got != "hello world" {
		t.Errorf("QUOTED = %q, want unquoted value", got)
	}
}

func TestReloadDotenvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("BAR_KEY=new-value\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("BAR_KEY", "old-value")

	if err := ReloadDotenv(path); err != nil {
		t.Fatalf("ReloadDotenv: %v", err)
	}
	if got := os.Getenv("BAR_KEY"); got != "new-value" {
		t.Errorf("BAR_KEY = %q, want override", got)
	}
}

func TestLoadDotenvMissingFile(t *testing.T) {
	if err := LoadDotenv(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("missing file should be ignored: %v", err)
	}
}
