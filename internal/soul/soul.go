// Package soul stores the role/personality documents layered into system
// prompts. The Manager soul lives in the kernel tree, worker souls in each
// worker's userland workspace. Both are canonical state files so agents can
// read and edit them with the state tools.
package soul

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/xbot-ai/xbot/internal/state"
)

// RuntimeWorkerPrefix marks a runtime user id as belonging to a worker.
const RuntimeWorkerPrefix = "worker::"

const backupTimeLayout = "20060102-150405"

const defaultManagerPersona = `# SOUL

Name: Eve

You are the core manager of a personal assistant fleet. You are curious and
concise. You answer directly when you can, and you govern the worker fleet:
route heavy or long-running work to workers, keep the user informed, and
never leave a dispatched task unaccounted for.
`

const defaultWorkerPersona = `# SOUL

Name: Atlas

You are a worker in an assistant fleet. You are execution-focused: accept the
dispatched instruction, carry it out inside your workspace, and report a
structured result. You never contact the user directly and you never
re-dispatch work to other workers.
`

// Document is the decoded payload of a SOUL.MD state file.
type Document struct {
	Version   int    `yaml:"version"`
	Name      string `yaml:"name,omitempty"`
	Revision  int    `yaml:"revision"`
	UpdatedAt string `yaml:"updated_at,omitempty"`
	Persona   string `yaml:"persona"`
}

// Store reads and updates soul documents through the state protocol.
type Store struct {
	state *state.Store

	mu sync.Mutex // serializes revision read-modify-write
}

// NewStore creates a soul store on top of the state store.
func NewStore(st *state.Store) *Store {
	return &Store{state: st}
}

// ManagerPath is the location of the core manager soul.
func (s *Store) ManagerPath() string {
	return filepath.Join(s.state.Root(), "kernel", "core-manager", "SOUL.MD")
}

// WorkerPath is the location of a worker's soul inside its workspace.
func (s *Store) WorkerPath(workerID string) (string, error) {
	if workerID == "" || strings.ContainsAny(workerID, "/\\") || workerID == ".." {
		return "", fmt.Errorf("invalid worker id %q", workerID)
	}
	return filepath.Join(s.state.Root(), "userland", "workers", workerID, "SOUL.MD"), nil
}

// Manager returns the manager soul, writing the default on first read.
func (s *Store) Manager() (Document, error) {
	return s.ensure(s.ManagerPath(), "Eve", defaultManagerPersona)
}

// Worker returns a worker soul, writing the default on first read.
func (s *Store) Worker(workerID string) (Document, error) {
	path, err := s.WorkerPath(workerID)
	if err != nil {
		return Document{}, err
	}
	return s.ensure(path, "Atlas", defaultWorkerPersona)
}

// Resolve maps a runtime user id to its soul: worker::<id> resolves to the
// worker soul, anything else to the manager soul.
func (s *Store) Resolve(runtimeUser string) (Document, error) {
	if id, ok := strings.CutPrefix(runtimeUser, RuntimeWorkerPrefix); ok {
		return s.Worker(id)
	}
	return s.Manager()
}

// UpdateManager replaces the manager persona, bumping the revision and
// preserving the previous file in a timestamped backup.
func (s *Store) UpdateManager(persona string) (Document, error) {
	return s.update(s.ManagerPath(), "Eve", defaultManagerPersona, persona)
}

// UpdateWorker replaces a worker persona.
func (s *Store) UpdateWorker(workerID, persona string) (Document, error) {
	path, err := s.WorkerPath(workerID)
	if err != nil {
		return Document{}, err
	}
	return s.update(path, "Atlas", defaultWorkerPersona, persona)
}

func (s *Store) ensure(path, name, defaultPersona string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLocked(path, name, defaultPersona)
}

func (s *Store) ensureLocked(path, name, defaultPersona string) (Document, error) {
	var doc Document
	_, err := s.state.ReadInto(path, &doc)
	if err == nil && strings.TrimSpace(doc.Persona) != "" {
		return doc, nil
	}

	// Missing, empty, or unparsable: the default persona takes over. For
	// the unparsable case the state store backs up the bytes on write.
	return s.writeLocked(path, Document{Name: name, Persona: defaultPersona, Revision: 1})
}

func (s *Store) update(path, name, defaultPersona, persona string) (Document, error) {
	if strings.TrimSpace(persona) == "" {
		return Document{}, fmt.Errorf("empty persona")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.ensureLocked(path, name, defaultPersona)
	if err != nil {
		return Document{}, err
	}

	if err := s.backup(path); err != nil {
		return Document{}, err
	}

	return s.writeLocked(path, Document{
		Name:     current.Name,
		Persona:  persona,
		Revision: current.Revision + 1,
	})
}

func (s *Store) writeLocked(path string, doc Document) (Document, error) {
	doc.Version = 1
	doc.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	if err := s.state.WriteValue(path, doc); err != nil {
		return Document{}, fmt.Errorf("write soul %s: %w", path, err)
	}
	return doc, nil
}

// backup copies the current soul file aside so an edit never loses the
// previous revision.
func (s *Store) backup(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read soul for backup: %w", err)
	}
	backup := path + ".bak-" + time.Now().Format(backupTimeLayout)
	if err := os.WriteFile(backup, data, 0o644); err != nil {
		return fmt.Errorf("write soul backup: %w", err)
	}
	return nil
}
