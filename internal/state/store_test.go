package state

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestStoreRequiresAbsoluteRoot(t *testing.T) {
	if _, err := NewStore("relative/path"); err == nil {
		t.Fatal("expected error for relative root")
	}
}

func TestWriteReadCanonical(t *testing.T) {
	store := newTestStore(t)
	path := filepath.Join(store.Root(), "users", "42", "settings.md")

	payload := NewPayload()
	_ = payload.Set("version", 1)
	_ = payload.Set("translation_mode", true)

	if err := store.Write(path, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, kind, err := store.Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if kind != SourceCanonical {
		t.Errorf("kind = %q, want %q", kind, SourceCanonical)
	}
	node, ok := got.Get("translation_mode")
	if !ok || node.Value != "true" {
		t.Errorf("translation_mode = %v, want true", node)
	}
}

func TestWritePrependsVersion(t *testing.T) {
	store := newTestStore(t)
	path := filepath.Join(store.Root(), "thing.md")

	payload := NewPayload()
	_ = payload.Set("name", "eve")

	if err := store.Write(path, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, _, err := store.Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	keys := got.Keys()
	if len(keys) != 2 || keys[0] != "version" || keys[1] != "name" {
		t.Errorf("Keys = %v, want [version name]", keys)
	}
	if got.Version() != 1 {
		t.Errorf("version = %d, want 1", got.Version())
	}
}

func TestWriteKeepsExplicitVersion(t *testing.T) {
	store := newTestStore(t)
	path := filepath.Join(store.Root(), "heartbeat.md")

	payload := NewPayload()
	_ = payload.Set("version", 2)
	_ = payload.Set("every", "30m")

	if err := store.Write(path, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, _, err := store.Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Version() != 2 {
		t.Errorf("version = %d, want 2", got.Version())
	}
}

func TestWriteBacksUpUnparsableFile(t *testing.T) {
	store := newTestStore(t)
	path := filepath.Join(store.Root(), "settings.md")

	garbage := []byte{0xde, 0xad, 0xbe, 0xef, 0x80}
	if err := os.WriteFile(path, garbage, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	payload := NewPayload()
	_ = payload.Set("version", 1)
	if err := store.Write(path, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	matches, err := filepath.Glob(path + ".bak-*")
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("backups = %v, want exactly one", matches)
	}

	saved, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("ReadFile backup: %v", err)
	}
	if string(saved) != string(garbage) {
		t.Errorf("backup bytes differ from original")
	}

	// The live file must now be canonical.
	if _, kind, err := store.Read(path); err != nil || kind != SourceCanonical {
		t.Errorf("Read after repair: kind=%q err=%v", kind, err)
	}
}

func TestWriteLegacyFileNoBackup(t *testing.T) {
	store := newTestStore(t)
	path := filepath.Join(store.Root(), "settings.md")

	legacy := "---\nversion: 1\nlanguage: en\n---\n"
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	payload := NewPayload()
	_ = payload.Set("version", 1)
	_ = payload.Set("language", "zh")
	if err := store.Write(path, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	matches, _ := filepath.Glob(path + ".bak-*")
	if len(matches) != 0 {
		t.Errorf("unexpected backups for parsable legacy file: %v", matches)
	}
}

func TestWriteLeavesNoTempFile(t *testing.T) {
	store := newTestStore(t)
	path := filepath.Join(store.Root(), "thing.md")

	payload := NewPayload()
	_ = payload.Set("version", 1)
	if err := store.Write(path, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}
}

func TestReadMissingFile(t *testing.T) {
	store := newTestStore(t)

	_, _, err := store.Read(filepath.Join(store.Root(), "nope.md"))
	if !os.IsNotExist(err) {
		t.Fatalf("err = %v, want not-exist", err)
	}
}

func TestUserPath(t *testing.T) {
	store := newTestStore(t)

	path, err := store.UserPath("42", "rss", "subscriptions.md")
	if err != nil {
		t.Fatalf("UserPath: %v", err)
	}
	want := filepath.Join(store.Root(), "users", "42", "rss", "subscriptions.md")
	if path != want {
		t.Errorf("UserPath = %q, want %q", path, want)
	}
}

func TestUserPathRejectsTraversal(t *testing.T) {
	store := newTestStore(t)

	for _, uid := range []string{"", "..", "a/b", `a\b`} {
		if _, err := store.UserPath(uid, "settings.md"); err == nil {
			t.Errorf("UserPath(%q) succeeded, want error", uid)
		}
	}
}

func TestNextIDMonotonicPerNamespace(t *testing.T) {
	store := newTestStore(t)

	for want := 1; want <= 3; want++ {
		got, err := store.NextID("reminders")
		if err != nil {
			t.Fatalf("NextID: %v", err)
		}
		if got != want {
			t.Errorf("NextID = %d, want %d", got, want)
		}
	}

	// Independent namespace starts over.
	got, err := store.NextID("subscriptions")
	if err != nil {
		t.Fatalf("NextID: %v", err)
	}
	if got != 1 {
		t.Errorf("NextID(subscriptions) = %d, want 1", got)
	}

	// Counters survive a fresh store over the same root.
	again, err := NewStore(store.Root())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	got, err = again.NextID("reminders")
	if err != nil {
		t.Fatalf("NextID: %v", err)
	}
	if got != 4 {
		t.Errorf("NextID after reload = %d, want 4", got)
	}
}

func TestStateFileIsHumanEditable(t *testing.T) {
	store := newTestStore(t)
	path := filepath.Join(store.Root(), "settings.md")

	payload := NewPayload()
	_ = payload.Set("version", 1)
	_ = payload.Set("language", "en")
	if err := store.Write(path, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Simulate a human editing only the YAML payload in place.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	edited := strings.Replace(string(data), "language: en", "language: zh", 1)
	if err := os.WriteFile(path, []byte(edited), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, kind, err := store.Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if kind != SourceCanonical {
		t.Errorf("kind = %q, want %q", kind, SourceCanonical)
	}
	node, _ := got.Get("language")
	if node == nil || node.Value != "zh" {
		t.Errorf("language = %v, want zh", node)
	}
}
