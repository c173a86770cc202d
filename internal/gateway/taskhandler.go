package gateway

import (
	"github.com/xbot-ai/xbot/internal/inbox"
)

// TaskHandler bridges websocket and HTTP task requests onto the inbox.
type TaskHandler struct {
	inbox *inbox.Inbox
}

// NewTaskHandler wraps the inbox for the gateway surface.
func NewTaskHandler(in *inbox.Inbox) *TaskHandler {
	return &TaskHandler{inbox: in}
}

type taskSummary struct {
	TaskID      string `json:"task_id"`
	Source      string `json:"source"`
	Goal        string `json:"goal"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
	UserID      string `json:"user_id"`
	SessionID   string `json:"session_id,omitempty"`
	FinalOutput string `json:"final_output,omitempty"`
	Error       string `json:"error,omitempty"`
}

func summarize(t *inbox.TaskEnvelope) taskSummary {
	return taskSummary{
		TaskID:      t.TaskID,
		Source:      string(t.Source),
		Goal:        t.Goal,
		Status:      string(t.Status),
		Priority:    string(t.Priority),
		UserID:      t.UserID,
		SessionID:   t.SessionID,
		FinalOutput: t.FinalOutput,
		Error:       t.Error,
	}
}

// Submit enters a user_chat envelope; empty priority means normal.
func (h *TaskHandler) Submit(sessionID, userID, platform, goal, priority string) (string, error) {
	env, err := h.inbox.Submit(inbox.SubmitRequest{
		Source:        inbox.SourceUserChat,
		Goal:          goal,
		UserID:        userID,
		Platform:      platform,
		SessionID:     sessionID,
		Priority:      inbox.Priority(priority),
		RequiresReply: true,
	})
	if err != nil {
		return "", err
	}
	return env.TaskID, nil
}

// Check returns one envelope summary.
func (h *TaskHandler) Check(taskID string) (any, error) {
	t, err := h.inbox.Get(taskID)
	if err != nil {
		return nil, err
	}
	return summarize(t), nil
}

// Cancel marks a pending or running envelope cancelled.
func (h *TaskHandler) Cancel(taskID, reason string) error {
	if reason == "" {
		reason = "cancelled via gateway"
	}
	_, err := h.inbox.Cancel(taskID, reason)
	return err
}

// List returns envelope summaries, optionally narrowed to one session.
func (h *TaskHandler) List(sessionID string) (any, error) {
	all := h.inbox.List()
	summaries := make([]taskSummary, 0, len(all))
	for _, t := range all {
		if sessionID != "" && t.SessionID != sessionID {
			continue
		}
		summaries = append(summaries, summarize(t))
	}
	return summaries, nil
}
