package tools

import (
	"os"
	"path/filepath"
	"testing"
)

func newAccess(t *testing.T) *AccessStore {
	t.Helper()
	s, err := NewAccessStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewAccessStore: %v", err)
	}
	return s
}

func TestDefaultManagerProfile(t *testing.T) {
	s := newAccess(t)
	mgr := ManagerCaller("user1", "/tmp/ws")

	for _, tool := range []string{"read", "write", "edit", "bash", "list_workers", "dispatch_worker", "run_extension", "list_extensions", "open_nodes", "read_graph", "ext_weather"} {
		if !s.Allowed(mgr, tool) {
			t.Errorf("manager denied %q", tool)
		}
	}
}

func TestDefaultWorkerProfile(t *testing.T) {
	s := newAccess(t)
	w := WorkerCaller("worker-main", "/tmp/ws", true)

	for _, tool := range []string{"read", "write", "edit", "bash", "run_extension", "list_extensions", "ext_weather"} {
		if !s.Allowed(w, tool) {
			t.Errorf("worker denied %q", tool)
		}
	}
	for _, tool := range []string{"dispatch_worker", "list_workers", "open_nodes", "create_entities", "read_graph", "search_nodes"} {
		if s.Allowed(w, tool) {
			t.Errorf("worker allowed %q", tool)
		}
	}
}

func TestWorkerOverrideCannotGrantMemory(t *testing.T) {
	s := newAccess(t)
	if err := s.SetWorkerPolicy("worker-x", Policy{Allow: []string{"group:all"}}); err != nil {
		t.Fatal(err)
	}

	w := WorkerCaller("worker-x", "/tmp/ws", true)
	if s.Allowed(w, "read_graph") {
		t.Error("worker override granted memory tools")
	}
	if s.Allowed(w, "dispatch_worker") {
		t.Error("worker override granted management tools")
	}
	if !s.Allowed(w, "bash") {
		t.Error("worker override lost bash")
	}
}

func TestWorkerOverrideRestricts(t *testing.T) {
	s := newAccess(t)
	if err := s.SetWorkerPolicy("worker-ro", Policy{Allow: []string{"group:fs"}, Deny: []string{"tool:write"}}); err != nil {
		t.Fatal(err)
	}

	w := WorkerCaller("worker-ro", "/tmp/ws", false)
	if !s.Allowed(w, "read") {
		t.Error("read denied despite group:fs allow")
	}
	if s.Allowed(w, "write") {
		t.Error("deny token did not override allow")
	}
	if s.Allowed(w, "bash") {
		t.Error("bash allowed outside the allow list")
	}
}

func TestAccessPersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	s, err := NewAccessStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetWorkerPolicy("worker-x", Policy{Deny: []string{"bash"}}); err != nil {
		t.Fatal(err)
	}

	reloaded, err := NewAccessStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Allowed(WorkerCaller("worker-x", "/tmp", true), "bash") {
		t.Error("per-worker deny lost on reload")
	}
}

func TestCorruptAccessFileResetsToDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tool_access.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := NewAccessStore(dir)
	if err != nil {
		t.Fatalf("NewAccessStore: %v", err)
	}
	if !s.Allowed(ManagerCaller("u", "/tmp"), "bash") {
		t.Error("defaults not restored after corrupt file")
	}

	backups, _ := filepath.Glob(path + ".bak-*")
	if len(backups) != 1 {
		t.Errorf("backups = %v, want the corrupt file preserved", backups)
	}
}
