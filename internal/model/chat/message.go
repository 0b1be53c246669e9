package chat

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of an embed conversation.
type Message struct {
	UUID    string    `json:"uuid,omitempty"`
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	SentAt  time.Time `json:"sentAt"`
}

// NewMessage stamps a turn with a fresh uuid and the current time.
func NewMessage(role Role, content string) Message {
	return Message{
		UUID:    uuid.NewString(),
		Role:    role,
		Content: content,
		SentAt:  time.Now().UTC(),
	}
}

// UserMessage builds a user turn.
func UserMessage(content string) Message {
	return NewMessage(RoleUser, content)
}

// AssistantMessage builds an assistant turn.
func AssistantMessage(content string) Message {
	return NewMessage(RoleAssistant, content)
}
