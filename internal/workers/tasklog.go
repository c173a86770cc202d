package workers

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xbot-ai/xbot/internal/storage"
)

// TaskStatus is the worker task lifecycle.
type TaskStatus string

const (
	TaskQueued  TaskStatus = "queued"
	TaskRunning TaskStatus = "running"
	TaskDone    TaskStatus = "done"
	TaskFailed  TaskStatus = "failed"
)

const maxTaskEvents = 40

// SourceManagerDispatch is the normalized source for manager-driven work.
const SourceManagerDispatch = "manager_dispatch"

// TaskEvent is one audit entry on a worker task row.
type TaskEvent struct {
	Ts   time.Time `json:"ts"`
	Kind string    `json:"kind"`
	Note string    `json:"note,omitempty"`
}

// Task is one row in WORKER_TASKS.jsonl.
type Task struct {
	TaskID        string            `json:"task_id"`
	WorkerID      string            `json:"worker_id"`
	Source        string            `json:"source"`
	Instruction   string            `json:"instruction"`
	Status        TaskStatus        `json:"status"`
	ResultSummary string            `json:"result_summary,omitempty"`
	Error         string            `json:"error,omitempty"`
	RetryCount    int               `json:"retry_count"`
	CreatedAt     time.Time         `json:"created_at"`
	StartedAt     *time.Time        `json:"started_at,omitempty"`
	EndedAt       *time.Time        `json:"ended_at,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Events        []TaskEvent       `json:"events"`
}

func (t *Task) appendEvent(kind, note string) {
	if len(note) > 200 {
		note = note[:200]
	}
	t.Events = append(t.Events, TaskEvent{Ts: time.Now().UTC(), Kind: kind, Note: note})
	if len(t.Events) > maxTaskEvents {
		t.Events = t.Events[len(t.Events)-maxTaskEvents:]
	}
}

// NewTask builds a queued task row with a fresh wt- id.
func NewTask(workerID, source, instruction string) *Task {
	if source == "" {
		source = SourceManagerDispatch
	}
	t := &Task{
		TaskID:      newWorkerTaskID(),
		WorkerID:    workerID,
		Source:      source,
		Instruction: instruction,
		Status:      TaskQueued,
		CreatedAt:   time.Now().UTC(),
	}
	t.appendEvent("queued", "")
	return t
}

func newWorkerTaskID() string {
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("wt-%d-%s", time.Now().Unix(), hex)
}

// TaskLog is the shared WORKER_TASKS.jsonl, guarded by an OS advisory lock
// so several processes can append without tearing rows.
type TaskLog struct {
	path string
}

// NewTaskLog points the log at data/WORKER_TASKS.jsonl.
func NewTaskLog(dataDir string) *TaskLog {
	return &TaskLog{path: filepath.Join(dataDir, "WORKER_TASKS.jsonl")}
}

// Append writes a new row under the file lock.
func (l *TaskLog) Append(task *Task) error {
	lock, err := storage.AcquireFileLock(l.path)
	if err != nil {
		return fmt.Errorf("lock worker task log: %w", err)
	}
	defer lock.Release()

	return storage.AppendJSONLine(l.path, task)
}

// Update mutates one row and rewrites the log under the lock. mutate runs on
// the stored copy; status, error, and retry changes get an audit event.
func (l *TaskLog) Update(taskID string, mutate func(*Task)) (*Task, error) {
	lock, err := storage.AcquireFileLock(l.path)
	if err != nil {
		return nil, fmt.Errorf("lock worker task log: %w", err)
	}
	defer lock.Release()

	rows, err := storage.ReadJSONLines[*Task](l.path)
	if err != nil {
		return nil, fmt.Errorf("read worker task log: %w", err)
	}

	var updated *Task
	for _, row := range rows {
		if row.TaskID != taskID {
			continue
		}

		before := struct {
			status TaskStatus
			err    string
			retry  int
		}{row.Status, row.Error, row.RetryCount}

		mutate(row)

		if row.Status != before.status {
			row.appendEvent("status", string(row.Status))
		}
		if row.Error != "" && row.Error != before.err {
			row.appendEvent("error", row.Error)
		}
		if row.RetryCount != before.retry {
			row.appendEvent("retry", fmt.Sprintf("attempt %d", row.RetryCount))
		}
		updated = row
		break
	}
	if updated == nil {
		return nil, fmt.Errorf("worker task %q not found", taskID)
	}

	if err := storage.RewriteJSONLines(l.path, rows); err != nil {
		return nil, fmt.Errorf("rewrite worker task log: %w", err)
	}
	return updated, nil
}

// Get returns one row by id.
func (l *TaskLog) Get(taskID string) (*Task, error) {
	rows, err := storage.ReadJSONLines[*Task](l.path)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if row.TaskID == taskID {
			return row, nil
		}
	}
	return nil, fmt.Errorf("worker task %q not found", taskID)
}

// ListForWorker returns the most recent rows for a worker, newest first.
func (l *TaskLog) ListForWorker(workerID string, limit int) ([]*Task, error) {
	rows, err := storage.ReadJSONLines[*Task](l.path)
	if err != nil {
		return nil, err
	}

	var out []*Task
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].WorkerID == workerID {
			out = append(out, rows[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}
