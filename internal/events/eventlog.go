package events

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Logger persists bus events to JSONL files, one per session, plus a
// _global.jsonl for events with no session. replay-task reads these back.
type Logger struct {
	dir         string
	unsubscribe func()
}

// NewLogger subscribes to every bus event and appends them under dir.
func NewLogger(dir string, bus *Bus) *Logger {
	l := &Logger{dir: dir}
	l.unsubscribe = bus.Subscribe(l.handle)
	return l
}

// OpenLog returns a read-only view of an existing log directory. It never
// subscribes; ReadSession is the only useful method on it.
func OpenLog(dir string) *Logger {
	return &Logger{dir: dir}
}

// Close detaches the logger from the bus.
func (l *Logger) Close() {
	if l.unsubscribe != nil {
		l.unsubscribe()
	}
}

func (l *Logger) handle(e Event) {
	// Stream deltas are noise; the final assistant.message carries the text.
	if e.Type == EventAssistantStream {
		return
	}
	_ = l.append(e)
}

func (l *Logger) append(e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	path := l.path(e.SessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(data)
	return err
}

// ReadSession loads every logged event for one session, skipping corrupt
// lines so a torn append never blocks replay.
func (l *Logger) ReadSession(sessionID string) ([]Event, error) {
	data, err := os.ReadFile(l.path(sessionID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []Event
	for _, line := range splitLines(data) {
		var e Event
		if json.Unmarshal(line, &e) == nil && e.ID != "" {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *Logger) path(sessionID string) string {
	if sessionID == "" {
		return filepath.Join(l.dir, "_global.jsonl")
	}
	return filepath.Join(l.dir, sessionID+".jsonl")
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
