package skills

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func skillMarkdown(name string) string {
	return `---
name: ` + name + `
api_version: v3
description: Test skill ` + name + `.
entrypoint: run.sh
---
`
}

func TestRegistryScansKinds(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, filepath.Join(root, "builtin"), "alpha", skillMarkdown("alpha"))
	writeSkill(t, filepath.Join(root, "learned"), "beta", skillMarkdown("beta"))
	writeSkill(t, filepath.Join(root, "learned"), "broken", "not a skill\n")

	reg, err := NewRegistry(root)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	a, ok := reg.Get("alpha")
	if !ok || a.Kind != KindBuiltin {
		t.Errorf("alpha = %+v, ok=%v", a, ok)
	}
	b, ok := reg.Get("beta")
	if !ok || b.Kind != KindLearned {
		t.Errorf("beta = %+v, ok=%v", b, ok)
	}
	if _, ok := reg.Get("broken"); ok {
		t.Error("invalid skill loaded")
	}
	if got := reg.List(); len(got) != 2 || got[0].Name != "alpha" || got[1].Name != "beta" {
		t.Errorf("List = %v", got)
	}
}

func TestLearnedCannotShadowBuiltin(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, filepath.Join(root, "builtin"), "dup", skillMarkdown("dup"))
	writeSkill(t, filepath.Join(root, "learned"), "dup2", skillMarkdown("dup"))

	reg, err := NewRegistry(root)
	if err != nil {
		t.Fatal(err)
	}
	d, ok := reg.Get("dup")
	if !ok || d.Kind != KindBuiltin {
		t.Errorf("dup = %+v", d)
	}
}

func TestNativeSurvivesReload(t *testing.T) {
	reg, err := NewRegistry(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	d := &Descriptor{Name: "native_x", APIVersion: APIVersion, Description: "native"}
	if err := reg.RegisterNative(d, func(context.Context, map[string]any) (*NativeResult, error) {
		return &NativeResult{Value: "hi"}, nil
	}); err != nil {
		t.Fatal(err)
	}

	if err := reg.Reload(); err != nil {
		t.Fatal(err)
	}
	if _, ok := reg.Get("native_x"); !ok {
		t.Error("native lost on reload")
	}
	if _, ok := reg.Native("native_x"); !ok {
		t.Error("native runner lost")
	}
}

func TestWatchPicksUpNewSkill(t *testing.T) {
	root := t.TempDir()
	learned := filepath.Join(root, "learned")
	if err := os.MkdirAll(learned, 0o755); err != nil {
		t.Fatal(err)
	}

	reg, err := NewRegistry(root)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := reg.Watch(ctx); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	writeSkill(t, learned, "fresh", skillMarkdown("fresh"))

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := reg.Get("fresh"); ok {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("new skill not picked up by watcher")
}
