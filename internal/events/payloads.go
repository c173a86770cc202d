package events

import (
	"encoding/json"
	"time"
)

// EventPayload is the interface all typed payloads implement.
type EventPayload interface {
	EventType() EventType
}

type UserMessagePayload struct {
	Platform string `json:"platform,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Content  string `json:"content"`
}

func (UserMessagePayload) EventType() EventType { return EventIncomingMessage }

type OutgoingMessagePayload struct {
	Platform string `json:"platform,omitempty"`
	ChatID   string `json:"chat_id,omitempty"`
	Content  string `json:"content"`
	UI       *UI    `json:"ui,omitempty"`
}

func (OutgoingMessagePayload) EventType() EventType { return EventOutgoingMessage }

// TaskStatusPayload tracks an envelope through its lifecycle. Which
// transition happened is carried by the event type.
type TaskStatusPayload struct {
	TaskID   string `json:"task_id"`
	Source   string `json:"source"`
	UserID   string `json:"user_id,omitempty"`
	Priority string `json:"priority,omitempty"`
	Status   string `json:"status"`
	Goal     string `json:"goal,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (TaskStatusPayload) EventType() EventType { return EventTaskSubmitted }

type StreamPhase string

const (
	StreamPhaseStart StreamPhase = "start"
	StreamPhaseDelta StreamPhase = "delta"
	StreamPhaseEnd   StreamPhase = "end"
)

type AssistantStreamPayload struct {
	Phase   StreamPhase `json:"phase"`
	Content string      `json:"content"`
	Index   int         `json:"index"`
}

func (AssistantStreamPayload) EventType() EventType { return EventAssistantStream }

type AssistantMessagePayload struct {
	Content string         `json:"content"`
	Error   string         `json:"error,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

func (AssistantMessagePayload) EventType() EventType { return EventAssistantMessage }

type ToolStatus string

const (
	ToolStatusStarted   ToolStatus = "started"
	ToolStatusCompleted ToolStatus = "completed"
	ToolStatusFailed    ToolStatus = "failed"
)

type ToolCallPayload struct {
	Status    ToolStatus `json:"status"`
	Name      string     `json:"name"`
	Arguments string     `json:"arguments,omitempty"`
	Result    string     `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
}

func (ToolCallPayload) EventType() EventType { return EventToolCall }

type WorkerProgressPayload struct {
	WorkerID     string `json:"worker_id"`
	WorkerTaskID string `json:"worker_task_id"`
	Status       string `json:"status"`
	Note         string `json:"note,omitempty"`
}

func (WorkerProgressPayload) EventType() EventType { return EventWorkerProgress }

type HeartbeatResultPayload struct {
	UserID  string `json:"user_id"`
	Grade   string `json:"grade"`
	Summary string `json:"summary,omitempty"`
}

func (HeartbeatResultPayload) EventType() EventType { return EventHeartbeatResult }

type ScheduleTriggerPayload struct {
	UserID      string `json:"user_id"`
	EntryID     int    `json:"entry_id"`
	Instruction string `json:"instruction"`
}

func (ScheduleTriggerPayload) EventType() EventType { return EventScheduleTrigger }

type SkillRunPayload struct {
	Name       string `json:"name"`
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

func (SkillRunPayload) EventType() EventType { return EventSkillCompleted }

type LLMCallPayload struct {
	Phase        string        `json:"phase"`
	Model        string        `json:"model"`
	Provider     string        `json:"provider,omitempty"`
	MessageCount int           `json:"message_count,omitempty"`
	TokensInput  int           `json:"tokens_input,omitempty"`
	TokensOutput int           `json:"tokens_output,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
	Error        string        `json:"error,omitempty"`
}

func (LLMCallPayload) EventType() EventType { return EventLLMCall }

// UI is the adapter-facing button row attached to outgoing messages.
type UI struct {
	Buttons   []Button `json:"buttons,omitempty"`
	SendFiles bool     `json:"send_files,omitempty"`
}

// Button is one inline action: either a callback (CustomID) or a link (URL).
type Button struct {
	Label    string `json:"label"`
	CustomID string `json:"custom_id,omitempty"`
	URL      string `json:"url,omitempty"`
}

// NewTypedEvent wraps a typed payload in a bus event.
func NewTypedEvent(source EventSource, payload EventPayload) Event {
	return Event{
		ID:        generateEventID(),
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

// NewTaskEvent wraps a typed payload with task and session correlation ids,
// overriding the payload's default event type.
func NewTaskEvent(eventType EventType, source EventSource, payload EventPayload, sessionID, taskID string) Event {
	return Event{
		ID:        generateEventID(),
		SessionID: sessionID,
		TaskID:    taskID,
		Type:      eventType,
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

// NewTypedEventWithSession wraps a typed payload with session correlation.
func NewTypedEventWithSession(source EventSource, payload EventPayload, sessionID string) Event {
	return Event{
		ID:        generateEventID(),
		SessionID: sessionID,
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

func toMap(v any) map[string]any {
	var result map[string]any
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// ExtractPayload decodes an event payload back into its typed form.
func ExtractPayload[T EventPayload](e Event) (T, bool) {
	var result T
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return result, false
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, false
	}
	return result, true
}

func GetTaskStatusPayload(e Event) (TaskStatusPayload, bool) {
	return ExtractPayload[TaskStatusPayload](e)
}

func GetAssistantMessagePayload(e Event) (AssistantMessagePayload, bool) {
	return ExtractPayload[AssistantMessagePayload](e)
}

func GetAssistantStreamPayload(e Event) (AssistantStreamPayload, bool) {
	return ExtractPayload[AssistantStreamPayload](e)
}

func GetToolCallPayload(e Event) (ToolCallPayload, bool) {
	return ExtractPayload[ToolCallPayload](e)
}

func GetWorkerProgressPayload(e Event) (WorkerProgressPayload, bool) {
	return ExtractPayload[WorkerProgressPayload](e)
}

func GetHeartbeatResultPayload(e Event) (HeartbeatResultPayload, bool) {
	return ExtractPayload[HeartbeatResultPayload](e)
}

func GetLLMCallPayload(e Event) (LLMCallPayload, bool) {
	return ExtractPayload[LLMCallPayload](e)
}
