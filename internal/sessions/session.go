// Package sessions persists per-user conversation history. Each session is a
// directory with meta.json and messages.jsonl, plus a daily markdown
// transcript mirror a human can read without tooling.
package sessions

import (
	"time"

	"github.com/cloudwego/eino/schema"
)

// SessionStatus represents the lifecycle state of a session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionClosed SessionStatus = "closed"
)

// TokenUsage tracks cumulative token consumption for a session.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Session holds metadata about a conversation session. The ID is the
// adapter-scoped key, usually "<platform>:<user_id>".
type Session struct {
	ID           string        `json:"id"`
	UserID       string        `json:"user_id,omitempty"`
	Platform     string        `json:"platform,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	Status       SessionStatus `json:"status"`
	Model        string        `json:"model,omitempty"`
	MessageCount int           `json:"message_count"`
	TokenUsage   TokenUsage    `json:"token_usage"`
}

// Message is a single turn in a conversation, serializable to JSONL.
type Message struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	TaskID  string    `json:"task_id,omitempty"`
	Ts      time.Time `json:"ts"`
}

// ToSchemaMessage converts a session Message to an eino schema.Message.
func (m Message) ToSchemaMessage() *schema.Message {
	return &schema.Message{
		Role:    schema.RoleType(m.Role),
		Content: m.Content,
	}
}

// NewMessageFromSchema converts an eino schema.Message to a session Message.
func NewMessageFromSchema(msg *schema.Message) Message {
	return Message{
		Role:    string(msg.Role),
		Content: msg.Content,
		Ts:      time.Now(),
	}
}

// Store defines the persistence interface for sessions.
type Store interface {
	Open(id, userID, platform string) (*Session, error)
	Get(id string) (*Session, error)
	List() ([]*Session, error)
	UpdateMeta(s *Session) error
	Close(id string) error
	AppendMessage(sessionID string, msg Message) error
	LoadMessages(sessionID string) ([]Message, error)
}
