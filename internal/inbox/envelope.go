// Package inbox is the single entry point for every unit of work in the
// core. Chat adapters, the scheduler, and the heartbeat all submit task
// envelopes here; the orchestrator consumes them. Each envelope is one JSON
// file under data/system/inbox so a crash loses nothing.
package inbox

import (
	"time"

	"github.com/google/uuid"
)

// Source identifies who submitted an envelope.
type Source string

const (
	SourceUserChat  Source = "user_chat"
	SourceUserCmd   Source = "user_cmd"
	SourceHeartbeat Source = "heartbeat"
	SourceCron      Source = "cron"
	SourceSystem    Source = "system"
)

// Status is the lifecycle state of an envelope. Transitions are monotonic
// along pending → running → (completed|failed|cancelled).
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether a status admits no further transition.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Priority orders pending envelopes; high before normal before low.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// EnvelopeEvent is one entry in the envelope audit trail.
type EnvelopeEvent struct {
	Ts   time.Time `json:"ts"`
	Kind string    `json:"kind"`
	Note string    `json:"note,omitempty"`
}

// TaskEnvelope is the unit of scheduling.
type TaskEnvelope struct {
	TaskID           string          `json:"task_id"`
	Source           Source          `json:"source"`
	Goal             string          `json:"goal"`
	Payload          map[string]any  `json:"payload,omitempty"`
	Priority         Priority        `json:"priority"`
	UserID           string          `json:"user_id"`
	Platform         string          `json:"platform,omitempty"`
	SessionID        string          `json:"session_id,omitempty"`
	RequiresReply    bool            `json:"requires_reply"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	Status           Status          `json:"status"`
	AssignedWorkerID string          `json:"assigned_worker_id,omitempty"`
	DispatchReason   string          `json:"dispatch_reason,omitempty"`
	Result           map[string]any  `json:"result,omitempty"`
	FinalOutput      string          `json:"final_output,omitempty"`
	Error            string          `json:"error,omitempty"`
	RetryCount       int             `json:"retry_count"`
	Events           []EnvelopeEvent `json:"events,omitempty"`
}

// clone returns a deep-enough copy so callers never alias the store's map
// entry.
func (t *TaskEnvelope) clone() *TaskEnvelope {
	cp := *t
	cp.Events = append([]EnvelopeEvent(nil), t.Events...)
	return &cp
}

func (t *TaskEnvelope) appendEvent(kind, note string) {
	t.Events = append(t.Events, EnvelopeEvent{Ts: time.Now().UTC(), Kind: kind, Note: note})
}

func newTaskID() string {
	return uuid.New().String()
}
