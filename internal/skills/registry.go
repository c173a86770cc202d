package skills

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Registry is the descriptor cache over the skills directories. Each root
// holds builtin/ and learned/ subtrees, one skill per directory with a
// SKILL.md inside. Builtins are immutable at runtime; learned skills appear,
// change, and disappear while the agent runs, so the registry watches the
// roots and rebuilds on change.
type Registry struct {
	mu      sync.RWMutex
	roots   []string
	skills  map[string]*Descriptor
	natives map[string]NativeRunner

	watcher  *fsnotify.Watcher
	onReload func()
}

// NewRegistry creates a registry over the given skill roots and performs the
// initial scan. Missing roots are not an error; they appear on first wake.
func NewRegistry(roots ...string) (*Registry, error) {
	r := &Registry{
		roots:   roots,
		skills:  make(map[string]*Descriptor),
		natives: make(map[string]NativeRunner),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// RegisterNative installs an in-process skill. Natives behave like builtins:
// a learned skill cannot shadow them.
func (r *Registry) RegisterNative(d *Descriptor, run NativeRunner) error {
	if d == nil || run == nil {
		return fmt.Errorf("nil native skill")
	}
	d.Native = true
	d.Kind = KindBuiltin
	if err := d.Validate(); err != nil {
		return fmt.Errorf("native skill %s: %w", d.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.natives[d.Name] = run
	r.skills[d.Name] = d
	return nil
}

// Reload rescans every root and swaps the descriptor cache. Invalid skills
// are logged and skipped; one broken SKILL.md never takes the fleet down.
func (r *Registry) Reload() error {
	loaded := make(map[string]*Descriptor)

	for _, root := range r.roots {
		for _, kind := range []Kind{KindBuiltin, KindLearned} {
			dir := filepath.Join(root, string(kind))
			entries, err := os.ReadDir(dir)
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return fmt.Errorf("read skills dir %s: %w", dir, err)
			}

			for _, entry := range entries {
				if !entry.IsDir() {
					continue
				}
				path := filepath.Join(dir, entry.Name(), "SKILL.md")
				d, err := ParseSkillFile(path)
				if err != nil {
					if !os.IsNotExist(err) {
						slog.Warn("skipping invalid skill", "path", path, "error", err)
					}
					continue
				}
				d.Kind = kind
				d.Dir = filepath.Join(dir, entry.Name())

				if prev, ok := loaded[d.Name]; ok {
					// builtin wins over learned, first root wins otherwise
					if prev.Kind == KindBuiltin || kind == KindLearned {
						slog.Warn("duplicate skill name", "name", d.Name, "kept", prev.Dir, "ignored", d.Dir)
						continue
					}
				}
				loaded[d.Name] = d
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for name, d := range r.skills {
		if d.Native {
			loaded[name] = d
		}
	}
	r.skills = loaded
	return nil
}

// Get returns the named descriptor.
func (r *Registry) Get(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.skills[name]
	return d, ok
}

// Native returns the in-process runner for a native skill.
func (r *Registry) Native(name string) (NativeRunner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.natives[name]
	return run, ok
}

// List returns all descriptors sorted by name.
func (r *Registry) List() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Descriptor, 0, len(r.skills))
	for _, d := range r.skills {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Watch starts the fsnotify loop and rebuilds the cache when any skill root
// changes. Events are debounced so an unpacking skill triggers one reload.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("skills watcher: %w", err)
	}
	r.watcher = watcher

	for _, root := range r.roots {
		if err := watcher.Add(root); err != nil {
			slog.Debug("skills watch skipped", "dir", root, "error", err)
		}
		for _, kind := range []Kind{KindBuiltin, KindLearned} {
			dir := filepath.Join(root, string(kind))
			if err := watcher.Add(dir); err != nil {
				slog.Debug("skills watch skipped", "dir", dir, "error", err)
			}
		}
	}

	go func() {
		defer watcher.Close()

		var pending <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				pending = time.After(200 * time.Millisecond)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("skills watcher error", "error", err)
			case <-pending:
				pending = nil
				if err := r.Reload(); err != nil {
					slog.Error("skills reload failed", "error", err)
					continue
				}
				slog.Info("skills reloaded", "count", len(r.List()))
				if r.onReload != nil {
					r.onReload()
				}
			}
		}
	}()
	return nil
}

// OnReload registers a callback fired after each successful hot reload, used
// to refresh the tool registry declarations.
func (r *Registry) OnReload(fn func()) {
	r.onReload = fn
}
