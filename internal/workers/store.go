// Package workers manages the worker fleet: the WORKERS.json metadata
// store, the append-only WORKER_TASKS.jsonl log, and the runtime that
// executes dispatched tasks against one of the four backends.
package workers

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xbot-ai/xbot/internal/storage"
)

// ErrBusy is returned when a dispatch targets a worker that already has an
// active task. The manager sees it as an observation and can pick another
// worker or wait.
var ErrBusy = errors.New("worker is busy")

// ErrNoWorker is returned when no idle worker matches the requested
// capability.
var ErrNoWorker = errors.New("no idle worker available")

// Status is the lifecycle state of a worker slot.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusBusy    Status = "busy"
	StatusError   Status = "error"
	StatusOffline Status = "offline"
)

// Backend selects how a worker executes instructions.
const (
	BackendCoreAgent = "core-agent"
	BackendCodex     = "codex"
	BackendGeminiCLI = "gemini-cli"
	BackendShell     = "shell"
)

// DefaultWorkerID is ensured at startup so dispatch always has a target.
const DefaultWorkerID = "worker-main"

// Record is one worker's metadata row in WORKERS.json.
type Record struct {
	WorkerID       string    `json:"worker_id"`
	Name           string    `json:"name"`
	Backend        string    `json:"backend"`
	Status         Status    `json:"status"`
	Capabilities   []string  `json:"capabilities"`
	WorkspacePath  string    `json:"workspace_path"`
	CredentialsRef string    `json:"credentials_ref,omitempty"`
	SoulPath       string    `json:"soul_path"`
	Summary        string    `json:"summary,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	LastDispatch   time.Time `json:"last_dispatch,omitempty"`
	LastTaskID     string    `json:"last_task_id,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
}

// Shell reports whether the worker may use the bash primitive.
func (r *Record) Shell() bool {
	for _, c := range r.Capabilities {
		if c == "shell" {
			return true
		}
	}
	return r.Backend == BackendShell
}

func (r *Record) clone() *Record {
	cp := *r
	cp.Capabilities = append([]string(nil), r.Capabilities...)
	return &cp
}

type fleetFile struct {
	Version   int                `json:"version"`
	UpdatedAt time.Time          `json:"updated_at"`
	Workers   map[string]*Record `json:"workers"`
}

// Store is the WORKERS.json fleet store.
type Store struct {
	mu      sync.Mutex
	path    string
	dataDir string
	workers map[string]*Record
}

// NewStore loads data/WORKERS.json and ensures the default worker exists.
// A corrupt file is backed up and replaced with a fresh fleet.
func NewStore(dataDir string) (*Store, error) {
	s := &Store{
		path:    filepath.Join(dataDir, "WORKERS.json"),
		dataDir: dataDir,
		workers: make(map[string]*Record),
	}

	var file fleetFile
	if err := storage.ReadJSONFile(s.path, &file); err != nil {
		if !os.IsNotExist(err) {
			backup := s.path + ".bak-" + time.Now().Format("20060102-150405")
			if renameErr := os.Rename(s.path, backup); renameErr == nil {
				fmt.Fprintf(os.Stderr, "workers: corrupt %s backed up to %s\n", s.path, backup)
			}
		}
	} else if file.Workers != nil {
		s.workers = file.Workers
	}

	// Any worker marked busy at load time died mid-task with the process.
	for _, w := range s.workers {
		if w.Status == StatusBusy {
			w.Status = StatusError
			w.LastError = "process restarted during task"
		}
	}

	if _, err := s.ensureLocked(DefaultWorkerID, "Main", BackendCoreAgent, []string{"general", "shell"}); err != nil {
		return nil, err
	}
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(name string) string {
	slug := slugRe.ReplaceAllString(strings.ToLower(name), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "worker"
	}
	return slug
}

// Create registers a new worker. The id is the slugified name; collisions
// get a -2, -3, ... suffix.
func (s *Store) Create(name, backend string, capabilities []string) (*Record, error) {
	switch backend {
	case BackendCoreAgent, BackendCodex, BackendGeminiCLI, BackendShell:
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	base := slugify(name)
	id := base
	for n := 2; ; n++ {
		if _, taken := s.workers[id]; !taken {
			break
		}
		id = fmt.Sprintf("%s-%d", base, n)
	}

	rec, err := s.ensureLocked(id, name, backend, capabilities)
	if err != nil {
		return nil, err
	}
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	return rec.clone(), nil
}

func (s *Store) ensureLocked(id, name, backend string, capabilities []string) (*Record, error) {
	if rec, ok := s.workers[id]; ok {
		return rec, nil
	}

	workspace := filepath.Join(s.dataDir, "userland", "workers", id)
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, fmt.Errorf("create worker workspace: %w", err)
	}

	now := time.Now().UTC()
	rec := &Record{
		WorkerID:      id,
		Name:          name,
		Backend:       backend,
		Status:        StatusIdle,
		Capabilities:  capabilities,
		WorkspacePath: workspace,
		SoulPath:      filepath.Join(workspace, "SOUL.MD"),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.workers[id] = rec
	return rec, nil
}

func (s *Store) persistLocked() error {
	return storage.WriteJSONFile(s.path, fleetFile{
		Version:   1,
		UpdatedAt: time.Now().UTC(),
		Workers:   s.workers,
	})
}

// Get returns a copy of the worker record.
func (s *Store) Get(id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.workers[id]
	if !ok {
		return nil, fmt.Errorf("unknown worker %q", id)
	}
	return rec.clone(), nil
}

// List returns all workers sorted by id.
func (s *Store) List() []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Record, 0, len(s.workers))
	for _, rec := range s.workers {
		out = append(out, rec.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkerID < out[j].WorkerID })
	return out
}

// MarkBusy claims the worker for a task. Only an idle worker can be
// claimed; everything else is ErrBusy.
func (s *Store) MarkBusy(id, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.workers[id]
	if !ok {
		return fmt.Errorf("unknown worker %q", id)
	}
	if rec.Status != StatusIdle {
		return fmt.Errorf("%w: %s is %s", ErrBusy, id, rec.Status)
	}

	now := time.Now().UTC()
	rec.Status = StatusBusy
	rec.LastTaskID = taskID
	rec.LastDispatch = now
	rec.UpdatedAt = now
	return s.persistLocked()
}

// MarkIdle frees the worker slot after a task ends. A non-empty lastErr
// leaves the worker in error state until the next successful run.
func (s *Store) MarkIdle(id, summary, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.workers[id]
	if !ok {
		return fmt.Errorf("unknown worker %q", id)
	}

	rec.Status = StatusIdle
	if lastErr != "" {
		rec.Status = StatusError
	}
	rec.Summary = summary
	rec.LastError = lastErr
	rec.UpdatedAt = time.Now().UTC()
	return s.persistLocked()
}

// SetStatus force-sets a worker status, used for offline/online toggles.
func (s *Store) SetStatus(id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.workers[id]
	if !ok {
		return fmt.Errorf("unknown worker %q", id)
	}
	rec.Status = status
	rec.UpdatedAt = time.Now().UTC()
	return s.persistLocked()
}

// Select picks the least recently dispatched idle worker matching the
// capability. An empty capability matches any idle worker.
func (s *Store) Select(capability string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *Record
	for _, rec := range s.workers {
		if rec.Status != StatusIdle {
			continue
		}
		if capability != "" && !hasCapability(rec, capability) {
			continue
		}
		if best == nil || rec.LastDispatch.Before(best.LastDispatch) {
			best = rec
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w for capability %q", ErrNoWorker, capability)
	}
	return best.clone(), nil
}

func hasCapability(rec *Record, capability string) bool {
	for _, c := range rec.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// DisplayName reads the "Name:" line from the worker's SOUL.MD, falling back
// to the record name.
func (s *Store) DisplayName(id string) string {
	rec, err := s.Get(id)
	if err != nil {
		return id
	}

	f, err := os.Open(rec.SoulPath)
	if err != nil {
		return rec.Name
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "name:") {
			if name := strings.TrimSpace(line[len("name:"):]); name != "" {
				return name
			}
		}
	}
	return rec.Name
}
