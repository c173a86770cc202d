// Package ws implements the websocket side of the gateway: a frame
// protocol for clients (TUI, adapters) and a hub bridging the event bus.
package ws

import "encoding/json"

// FrameType discriminates the three frame kinds on the wire.
type FrameType string

const (
	FrameTypeRequest  FrameType = "req"
	FrameTypeResponse FrameType = "res"
	FrameTypeEvent    FrameType = "event"
)

// Request methods a client may call.
const (
	MethodSendMessage = "send_message"
	MethodSubmitTask  = "submit_task"
	MethodCheckTask   = "check_task"
	MethodCancelTask  = "cancel_task"
	MethodListTasks   = "list_tasks"
)

// Frame is the wire envelope. Requests carry ID+Method+Params; responses
// echo the ID with OK/Payload/Error; event frames carry Event+Payload.
type Frame struct {
	Type      FrameType       `json:"type"`
	ID        string          `json:"id,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	OK        *bool           `json:"ok,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
	Event     string          `json:"event,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
}

func MarshalFrame(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

func UnmarshalFrame(data []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(data, &f)
	return f, err
}

// NewEventFrame wraps a bus event payload for broadcast.
func NewEventFrame(event, sessionID string, payload any) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Type:      FrameTypeEvent,
		Event:     event,
		SessionID: sessionID,
		Payload:   data,
	}, nil
}

// NewResponseFrame answers one request.
func NewResponseFrame(id string, ok bool, payload any, errMsg string) (Frame, error) {
	f := Frame{
		Type:  FrameTypeResponse,
		ID:    id,
		OK:    &ok,
		Error: errMsg,
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Frame{}, err
		}
		f.Payload = data
	}
	return f, nil
}
