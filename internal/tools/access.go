package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xbot-ai/xbot/internal/storage"
)

// Policy is one caller profile: deny overrides allow; a non-empty allow list
// means everything else is rejected.
type Policy struct {
	Allow []string `json:"allow,omitempty"`
	Deny  []string `json:"deny,omitempty"`
}

type accessFile struct {
	Version       int               `json:"version"`
	UpdatedAt     time.Time         `json:"updated_at"`
	CoreManager   Policy            `json:"core_manager"`
	WorkerDefault Policy            `json:"worker_default"`
	Workers       map[string]Policy `json:"workers,omitempty"`
}

func defaultAccessFile() accessFile {
	return accessFile{
		Version: 1,
		CoreManager: Policy{
			Allow: []string{"group:primitives", "group:management", "group:skills", "group:memory"},
		},
		WorkerDefault: Policy{
			Allow: []string{"group:all"},
			Deny:  []string{"group:management", "group:memory"},
		},
	}
}

// groupsForTool maps a tool name to the group tokens it belongs to.
// Extension tools (ext_ prefix) fall into the skills group.
func groupsForTool(name string) []string {
	switch name {
	case "read", "write", "edit":
		return []string{"group:primitives", "group:fs"}
	case "bash":
		return []string{"group:primitives", "group:execution"}
	case "list_workers", "dispatch_worker", "worker_status":
		return []string{"group:management"}
	case "run_extension", "list_extensions":
		return []string{"group:skills"}
	case "open_nodes", "create_entities", "create_relations", "add_observations",
		"delete_entities", "delete_observations", "read_graph", "search_nodes":
		return []string{"group:memory"}
	}
	return []string{"group:skills"}
}

// InGroup reports whether the tool carries the given group token.
func InGroup(tool, group string) bool {
	for _, g := range groupsForTool(tool) {
		if g == group {
			return true
		}
	}
	return false
}

func tokenMatches(token, tool string) bool {
	if token == "group:all" {
		return true
	}
	if token == tool || token == "tool:"+tool {
		return true
	}
	for _, g := range groupsForTool(tool) {
		if token == g {
			return true
		}
	}
	return false
}

func (p Policy) allows(tool string) bool {
	for _, token := range p.Deny {
		if tokenMatches(token, tool) {
			return false
		}
	}
	if len(p.Allow) == 0 {
		return true
	}
	for _, token := range p.Allow {
		if tokenMatches(token, tool) {
			return true
		}
	}
	return false
}

// AccessStore persists tool profiles in kernel/tool_access.json and answers
// whether a caller may invoke a tool.
type AccessStore struct {
	mu   sync.Mutex
	path string
	file accessFile
}

// NewAccessStore loads the profile file under kernelDir, writing the
// defaults when it is missing or unreadable.
func NewAccessStore(kernelDir string) (*AccessStore, error) {
	s := &AccessStore{path: filepath.Join(kernelDir, "tool_access.json")}

	if err := storage.ReadJSONFile(s.path, &s.file); err != nil {
		if !os.IsNotExist(err) {
			// keep the broken file aside; defaults take over
			_ = os.Rename(s.path, s.path+".bak-"+time.Now().Format("20060102-150405"))
		}
		s.file = defaultAccessFile()
		if err := s.persist(); err != nil {
			return nil, err
		}
	}
	if s.file.Workers == nil {
		s.file.Workers = map[string]Policy{}
	}
	return s, nil
}

func (s *AccessStore) persist() error {
	s.file.Version = 1
	s.file.UpdatedAt = time.Now().UTC()
	if err := storage.WriteJSONFile(s.path, &s.file); err != nil {
		return fmt.Errorf("persist tool access: %w", err)
	}
	return nil
}

func (s *AccessStore) policyFor(caller Caller) Policy {
	if caller.Role == RoleManager {
		return s.file.CoreManager
	}
	if p, ok := s.file.Workers[caller.WorkerID()]; ok {
		return p
	}
	return s.file.WorkerDefault
}

// Allowed reports whether the caller's profile admits the tool. Workers are
// hard-denied memory tools regardless of profile.
func (s *AccessStore) Allowed(caller Caller, tool string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller.Role == RoleWorker {
		for _, g := range groupsForTool(tool) {
			if g == "group:memory" || g == "group:management" {
				return false
			}
		}
	}
	return s.policyFor(caller).allows(tool)
}

// SetWorkerPolicy installs a per-worker override.
func (s *AccessStore) SetWorkerPolicy(workerID string, policy Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.file.Workers[workerID] = policy
	return s.persist()
}
