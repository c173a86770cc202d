package state

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const backupTimeLayout = "20060102-150405"

// Store is the single file I/O boundary for business state. All domain
// files under the data root go through Read/Write so every caller gets the
// same tolerant-read, strict-write, backup-on-risk semantics.
type Store struct {
	root string

	idMu sync.Mutex // serializes NextID read-modify-write
}

// NewStore creates a store rooted at the data directory. The root must be
// an absolute path.
func NewStore(root string) (*Store, error) {
	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("data root must be absolute, got %q", root)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create data root: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the data root directory.
func (s *Store) Root() string {
	return s.root
}

// UserPath derives a path under the per-user data tree.
func (s *Store) UserPath(userID string, segments ...string) (string, error) {
	if userID == "" || strings.ContainsAny(userID, "/\\") || userID == ".." {
		return "", fmt.Errorf("invalid user id %q", userID)
	}
	parts := append([]string{s.root, "users", userID}, segments...)
	return filepath.Join(parts...), nil
}

// SystemPath derives a path under the system data tree.
func (s *Store) SystemPath(segments ...string) string {
	parts := append([]string{s.root, "system"}, segments...)
	return filepath.Join(parts...)
}

// Read parses the state file at path, reporting which protocol variant
// recovered the payload. A missing file surfaces the os error; callers that
// treat absence as empty check os.IsNotExist.
func (s *Store) Read(path string) (*Payload, SourceKind, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	payload, kind, err := Decode(data)
	if err != nil {
		return nil, "", fmt.Errorf("read state %s: %w", path, err)
	}
	return payload, kind, nil
}

// ReadInto reads the state file at path and decodes the payload into out.
func (s *Store) ReadInto(path string, out any) (SourceKind, error) {
	payload, kind, err := s.Read(path)
	if err != nil {
		return "", err
	}
	if err := payload.Decode(out); err != nil {
		return kind, fmt.Errorf("decode state %s: %w", path, err)
	}
	return kind, nil
}

// Write atomically replaces the state file at path with a canonical
// rendering of payload. A version key is prepended when the payload lacks
// one. If the existing file cannot be parsed under any protocol variant, its
// bytes are preserved in a timestamped backup before the overwrite.
func (s *Store) Write(path string, payload *Payload) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	if backup, err := s.backupIfUnparsable(path); err != nil {
		return err
	} else if backup != "" {
		slog.Warn("state file unparsable, backed up before overwrite",
			"path", path, "backup", backup)
	}

	data, err := Encode(payload.withVersion(1))
	if err != nil {
		return fmt.Errorf("encode state %s: %w", path, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}

// WriteValue is a convenience wrapper building the payload from v.
func (s *Store) WriteValue(path string, v any) error {
	payload, err := PayloadFrom(v)
	if err != nil {
		return err
	}
	return s.Write(path, payload)
}

// backupIfUnparsable copies the current file content to <path>.bak-<ts>
// when it parses under no protocol variant. Returns the backup path, or ""
// when no backup was needed.
func (s *Store) backupIfUnparsable(path string) (string, error) {
	existing, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read existing state: %w", err)
	}
	if len(existing) == 0 {
		return "", nil
	}
	if _, _, err := Decode(existing); err == nil {
		return "", nil
	}

	backup := path + ".bak-" + time.Now().Format(backupTimeLayout)
	if err := os.WriteFile(backup, existing, 0o644); err != nil {
		return "", fmt.Errorf("write state backup: %w", err)
	}
	return backup, nil
}

type idCounters struct {
	Version  int            `yaml:"version"`
	Counters map[string]int `yaml:"counters"`
}

// NextID returns the next monotonic id for a namespace. Counters persist
// canonically under system/repositories/id_counters.md.
func (s *Store) NextID(namespace string) (int, error) {
	s.idMu.Lock()
	defer s.idMu.Unlock()

	path := s.SystemPath("repositories", "id_counters.md")

	var counters idCounters
	if _, err := s.ReadInto(path, &counters); err != nil && !os.IsNotExist(err) {
		// Write backs up the unparsable file; counters restart at 1.
		slog.Warn("id counters unreadable, resetting", "path", path, "error", err)
	}
	if counters.Counters == nil {
		counters.Counters = make(map[string]int)
	}
	counters.Version = 1

	counters.Counters[namespace]++
	next := counters.Counters[namespace]

	if err := s.WriteValue(path, counters); err != nil {
		return 0, fmt.Errorf("persist id counters: %w", err)
	}
	return next, nil
}
