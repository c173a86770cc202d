package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/schema"
)

// Registry holds every registered tool and enforces access policy in front
// of execution. Registration order is preserved so declarations reach the
// model deterministically.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	order  []string
	access *AccessStore
}

// NewRegistry creates a registry backed by the access store.
func NewRegistry(access *AccessStore) *Registry {
	return &Registry{
		tools:  make(map[string]Tool),
		access: access,
	}
}

// Register adds a tool under name. Re-registering replaces the tool, which
// the skills registry uses on hot reload.
func (r *Registry) Register(name string, t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

// Unregister removes a tool, used when a learned skill disappears.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		return
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	return t, ok
}

// Declarations returns the tool infos visible to the caller, access-filtered.
func (r *Registry) Declarations(ctx context.Context, caller Caller) ([]*schema.ToolInfo, error) {
	r.mu.RLock()
	names := append([]string(nil), r.order...)
	r.mu.RUnlock()

	var infos []*schema.ToolInfo
	for _, name := range names {
		if !r.access.Allowed(caller, name) {
			continue
		}
		t, ok := r.Get(name)
		if !ok {
			continue
		}
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool %s info: %w", name, err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Dispatch checks access and executes the named tool. Every failure mode is
// a Response so the model always gets an observation.
func (r *Registry) Dispatch(ctx context.Context, caller Caller, name, argsJSON string) Response {
	if !r.access.Allowed(caller, name) {
		return Fail(CodeUnauthorized, fmt.Sprintf("tool %q is not in the caller's profile", name))
	}

	t, ok := r.Get(name)
	if !ok {
		return Fail(CodeUnknownTool, fmt.Sprintf("unknown tool %q", name))
	}

	return t.Invoke(ctx, caller, argsJSON)
}
