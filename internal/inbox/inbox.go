package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xbot-ai/xbot/internal/events"
	"github.com/xbot-ai/xbot/internal/storage"
)

var (
	// ErrNotFound is returned for an unknown task id.
	ErrNotFound = errors.New("task not found")
	// ErrTerminal is returned when a mutation targets a finished envelope.
	ErrTerminal = errors.New("task already in terminal status")
	// ErrTransition is returned for a non-monotonic status change.
	ErrTransition = errors.New("invalid status transition")
	// ErrReassign is returned when an envelope already has a worker.
	ErrReassign = errors.New("task already assigned to a worker")
)

// SubmitRequest carries the caller-supplied fields of a new envelope.
type SubmitRequest struct {
	Source        Source
	Goal          string
	UserID        string
	Platform      string
	SessionID     string
	Payload       map[string]any
	Priority      Priority
	RequiresReply bool
}

// Inbox is the lifecycle store for task envelopes. A single mutex guards the
// in-memory map; every mutation is persisted to disk before the lock is
// released, so the on-disk state is never behind what a caller observed.
type Inbox struct {
	mu     sync.Mutex
	dir    string
	tasks  map[string]*TaskEnvelope
	bus    *events.Bus
	notify chan struct{}
}

// New creates an Inbox persisting under dir and re-hydrates every envelope
// found there. Corrupt files are skipped, not fatal.
func New(dir string, bus *events.Bus) (*Inbox, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create inbox dir: %w", err)
	}

	loaded, err := storage.LoadDirJSON[TaskEnvelope](dir)
	if err != nil {
		return nil, fmt.Errorf("rehydrate inbox: %w", err)
	}

	in := &Inbox{
		dir:    dir,
		tasks:  make(map[string]*TaskEnvelope, len(loaded)),
		bus:    bus,
		notify: make(chan struct{}, 1),
	}
	for _, t := range loaded {
		if t.TaskID == "" {
			continue
		}
		cp := t
		in.tasks[t.TaskID] = &cp
	}
	return in, nil
}

// Notify returns a channel that receives a signal after every submission.
// The channel has capacity one; consumers drain pending work per signal.
func (in *Inbox) Notify() <-chan struct{} {
	return in.notify
}

func (in *Inbox) wake() {
	select {
	case in.notify <- struct{}{}:
	default:
	}
}

func (in *Inbox) path(taskID string) string {
	return filepath.Join(in.dir, taskID+".json")
}

// persist writes the envelope under the held lock.
func (in *Inbox) persist(t *TaskEnvelope) error {
	t.UpdatedAt = time.Now().UTC()
	return storage.WriteJSONFile(in.path(t.TaskID), t)
}

func (in *Inbox) publish(eventType events.EventType, t *TaskEnvelope) {
	if in.bus == nil {
		return
	}
	in.bus.Publish(events.NewTaskEvent(eventType, events.SourceInbox, events.TaskStatusPayload{
		TaskID:   t.TaskID,
		Source:   string(t.Source),
		UserID:   t.UserID,
		Priority: string(t.Priority),
		Status:   string(t.Status),
		Goal:     t.Goal,
		Error:    t.Error,
	}, t.SessionID, t.TaskID))
}

// Submit creates a pending envelope, persists it, and wakes consumers.
func (in *Inbox) Submit(req SubmitRequest) (*TaskEnvelope, error) {
	if strings.TrimSpace(req.Goal) == "" {
		return nil, fmt.Errorf("empty goal")
	}
	if req.Priority == "" {
		req.Priority = PriorityNormal
	}
	if req.SessionID == "" {
		if req.Platform != "" {
			req.SessionID = req.Platform + ":" + req.UserID
		} else {
			req.SessionID = req.UserID
		}
	}

	t := &TaskEnvelope{
		TaskID:        newTaskID(),
		Source:        req.Source,
		Goal:          req.Goal,
		Payload:       req.Payload,
		Priority:      req.Priority,
		UserID:        req.UserID,
		Platform:      req.Platform,
		SessionID:     req.SessionID,
		RequiresReply: req.RequiresReply,
		CreatedAt:     time.Now().UTC(),
		Status:        StatusPending,
	}
	t.appendEvent("submitted", string(req.Source))

	in.mu.Lock()
	defer in.mu.Unlock()

	if err := in.persist(t); err != nil {
		return nil, err
	}
	in.tasks[t.TaskID] = t

	in.publish(events.EventTaskSubmitted, t)
	in.wake()
	return t.clone(), nil
}

// Get returns a copy of the envelope with the given id.
func (in *Inbox) Get(taskID string) (*TaskEnvelope, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	t, ok := in.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	return t.clone(), nil
}

// allowed transitions along the monotonic lifecycle.
func validTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusCancelled || to == StatusFailed
	case StatusRunning:
		return to.Terminal()
	default:
		return false
	}
}

// UpdateStatus moves an envelope along the lifecycle, appending an audit
// event and persisting before returning.
func (in *Inbox) UpdateStatus(taskID string, status Status, note string) (*TaskEnvelope, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	return in.transition(taskID, status, note, nil)
}

func (in *Inbox) transition(taskID string, status Status, note string, mutate func(*TaskEnvelope)) (*TaskEnvelope, error) {
	t, ok := in.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	if t.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrTerminal, taskID, t.Status)
	}
	if !validTransition(t.Status, status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrTransition, t.Status, status)
	}

	t.Status = status
	if mutate != nil {
		mutate(t)
	}
	t.appendEvent("status", string(status)+dashNote(note))

	if err := in.persist(t); err != nil {
		return nil, err
	}

	in.publish(statusEventType(status), t)
	return t.clone(), nil
}

func dashNote(note string) string {
	if note == "" {
		return ""
	}
	return ": " + note
}

func statusEventType(s Status) events.EventType {
	switch s {
	case StatusRunning:
		return events.EventTaskStarted
	case StatusCompleted:
		return events.EventTaskCompleted
	case StatusFailed:
		return events.EventTaskFailed
	case StatusCancelled:
		return events.EventTaskCancelled
	default:
		return events.EventTaskSubmitted
	}
}

// AssignWorker records the worker an envelope was dispatched to. A worker is
// assigned at most once.
func (in *Inbox) AssignWorker(taskID, workerID, reason string) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	t, ok := in.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	if t.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrTerminal, taskID)
	}
	if t.AssignedWorkerID != "" {
		return fmt.Errorf("%w: %s has %s", ErrReassign, taskID, t.AssignedWorkerID)
	}

	t.AssignedWorkerID = workerID
	t.DispatchReason = reason
	t.appendEvent("assigned", workerID+dashNote(reason))
	return in.persist(t)
}

// Complete finishes an envelope successfully.
func (in *Inbox) Complete(taskID string, result map[string]any, finalOutput string) (*TaskEnvelope, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	return in.transition(taskID, StatusCompleted, "", func(t *TaskEnvelope) {
		t.Result = result
		t.FinalOutput = finalOutput
	})
}

// Fail finishes an envelope with an error.
func (in *Inbox) Fail(taskID string, taskErr string) (*TaskEnvelope, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	return in.transition(taskID, StatusFailed, taskErr, func(t *TaskEnvelope) {
		t.Error = taskErr
	})
}

// Cancel aborts a pending or running envelope.
func (in *Inbox) Cancel(taskID, reason string) (*TaskEnvelope, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	return in.transition(taskID, StatusCancelled, reason, nil)
}

// IncrementRetry bumps the retry counter, used by the loop guards.
func (in *Inbox) IncrementRetry(taskID string) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	t, ok := in.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	t.RetryCount++
	return in.persist(t)
}

// ListPending returns up to limit pending envelopes ordered by priority then
// FIFO on creation time. limit <= 0 means no limit.
func (in *Inbox) ListPending(limit int) []*TaskEnvelope {
	in.mu.Lock()
	defer in.mu.Unlock()

	var pending []*TaskEnvelope
	for _, t := range in.tasks {
		if t.Status == StatusPending {
			pending = append(pending, t.clone())
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		if ri, rj := pending[i].Priority.rank(), pending[j].Priority.rank(); ri != rj {
			return ri < rj
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})

	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending
}

// List returns every envelope, newest first.
func (in *Inbox) List() []*TaskEnvelope {
	in.mu.Lock()
	defer in.mu.Unlock()

	out := make([]*TaskEnvelope, 0, len(in.tasks))
	for _, t := range in.tasks {
		out = append(out, t.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// HasActive reports whether the user has a pending or running envelope from
// the given source. The heartbeat and scheduler use it to yield to an active
// chat.
func (in *Inbox) HasActive(userID string, source Source) bool {
	in.mu.Lock()
	defer in.mu.Unlock()

	for _, t := range in.tasks {
		if t.UserID != userID || t.Source != source {
			continue
		}
		if t.Status == StatusPending || t.Status == StatusRunning {
			return true
		}
	}
	return false
}

// Sweep removes terminal envelopes older than retention. It returns the
// number of envelopes trimmed.
func (in *Inbox) Sweep(retention time.Duration) int {
	in.mu.Lock()
	defer in.mu.Unlock()

	cutoff := time.Now().UTC().Add(-retention)
	trimmed := 0
	for id, t := range in.tasks {
		if !t.Status.Terminal() || t.UpdatedAt.After(cutoff) {
			continue
		}
		if err := os.Remove(in.path(id)); err != nil && !os.IsNotExist(err) {
			continue
		}
		delete(in.tasks, id)
		trimmed++
	}
	return trimmed
}

// RunRetention sweeps terminal envelopes on a fixed interval until ctx is
// cancelled. One sweep runs immediately on start.
func (in *Inbox) RunRetention(ctx context.Context, every, retention time.Duration) {
	if every <= 0 {
		every = time.Hour
	}
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		if n := in.Sweep(retention); n > 0 {
			slog.Info("inbox retention sweep", "trimmed", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
