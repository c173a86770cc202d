package sessions

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xbot-ai/xbot/internal/storage"
)

// FileStore persists sessions as directories with meta.json + messages.jsonl
// and mirrors every turn into a daily markdown transcript.
type FileStore struct {
	mu      sync.RWMutex
	baseDir string
}

// NewFileStore creates a FileStore rooted at baseDir.
func NewFileStore(baseDir string) *FileStore {
	return &FileStore{baseDir: baseDir}
}

// sanitizeID keeps session directory names filesystem-safe. Adapter keys
// like "telegram:12345" become "telegram_12345".
func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ', '.':
			return '_'
		}
		return r
	}, id)
}

func (fs *FileStore) sessionDir(id string) string {
	return filepath.Join(fs.baseDir, sanitizeID(id))
}

func (fs *FileStore) metaPath(id string) string {
	return filepath.Join(fs.sessionDir(id), "meta.json")
}

func (fs *FileStore) messagesPath(id string) string {
	return filepath.Join(fs.sessionDir(id), "messages.jsonl")
}

func (fs *FileStore) transcriptPath(id string, day time.Time) string {
	return filepath.Join(fs.sessionDir(id), "transcripts", day.Format("2006-01-02")+".md")
}

// Open returns the session with the given id, creating it on first use.
func (fs *FileStore) Open(id, userID, platform string) (*Session, error) {
	if id == "" {
		return nil, fmt.Errorf("empty session id")
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if s, err := fs.readMeta(id); err == nil {
		return s, nil
	}

	now := time.Now()
	s := &Session{
		ID:        id,
		UserID:    userID,
		Platform:  platform,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    SessionActive,
	}

	if err := os.MkdirAll(fs.sessionDir(id), 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	if err := fs.writeMeta(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Get reads session metadata by ID.
func (fs *FileStore) Get(id string) (*Session, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	return fs.readMeta(id)
}

// List returns all sessions sorted by UpdatedAt descending.
func (fs *FileStore) List() ([]*Session, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	entries, err := os.ReadDir(fs.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list sessions dir: %w", err)
	}

	var sessions []*Session
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		s, err := fs.readMeta(entry.Name())
		if err != nil {
			continue // skip corrupted sessions
		}
		sessions = append(sessions, s)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})

	return sessions, nil
}

// UpdateMeta atomically rewrites a session's meta.json.
func (fs *FileStore) UpdateMeta(s *Session) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return fs.writeMeta(s)
}

// Close marks a session as closed.
func (fs *FileStore) Close(id string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	s, err := fs.readMeta(id)
	if err != nil {
		return err
	}

	s.Status = SessionClosed
	s.UpdatedAt = time.Now()
	return fs.writeMeta(s)
}

// AppendMessage appends a message to the session's JSONL file, mirrors it to
// the daily transcript, and updates meta.
func (fs *FileStore) AppendMessage(sessionID string, msg Message) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if msg.Ts.IsZero() {
		msg.Ts = time.Now()
	}

	if err := storage.AppendJSONLine(fs.messagesPath(sessionID), msg); err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	if err := fs.appendTranscript(sessionID, msg); err != nil {
		return err
	}

	s, err := fs.readMeta(sessionID)
	if err != nil {
		return err
	}
	s.MessageCount++
	s.UpdatedAt = time.Now()
	return fs.writeMeta(s)
}

// LoadMessages reads all messages from a session's JSONL file. Corrupt lines
// are skipped.
func (fs *FileStore) LoadMessages(sessionID string) ([]Message, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	return storage.ReadJSONLines[Message](fs.messagesPath(sessionID))
}

// appendTranscript mirrors a turn into the human-readable daily log.
func (fs *FileStore) appendTranscript(sessionID string, msg Message) error {
	path := fs.transcriptPath(sessionID, msg.Ts)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create transcript dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	entry := fmt.Sprintf("## %s %s\n\n%s\n\n", msg.Ts.Format("15:04:05"), msg.Role, strings.TrimSpace(msg.Content))
	if _, err := f.WriteString(entry); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	return nil
}

func (fs *FileStore) writeMeta(s *Session) error {
	if err := storage.WriteJSONFile(fs.metaPath(s.ID), s); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	return nil
}

func (fs *FileStore) readMeta(id string) (*Session, error) {
	var s Session
	if err := storage.ReadJSONFile(fs.metaPath(id), &s); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("session not found: %s", id)
		}
		return nil, err
	}
	return &s, nil
}
