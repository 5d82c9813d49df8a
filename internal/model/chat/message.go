package chat

import (
	"errors"
	"fmt"
	"time"
)

// Role 标识一条消息的作者。system 提示词只在调用模型时注入，从不落库。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ErrInvalidSequence reports a history that breaks the turn order.
var ErrInvalidSequence = errors.New("invalid message sequence")

// Message is one turn of a session. The position inside the session's
// message slice is the conversation order.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// IsUser reports whether the message was written by the user.
func (m Message) IsUser() bool {
	return m.Role == RoleUser
}

// CheckSequence verifies that a history never starts with an assistant
// turn and never holds two assistant turns in a row.
func CheckSequence(messages []Message) error {
	for i, msg := range messages {
		switch msg.Role {
		case RoleUser:
		case RoleAssistant:
			if i == 0 {
				return fmt.Errorf("%w: history starts with assistant message %s", ErrInvalidSequence, msg.ID)
			}
			if messages[i-1].Role == RoleAssistant {
				return fmt.Errorf("%w: consecutive assistant messages at %d", ErrInvalidSequence, i)
			}
		default:
			return fmt.Errorf("%w: unsupported role %q at %d", ErrInvalidSequence, msg.Role, i)
		}
	}
	return nil
}

// CloneMessages returns an independent copy of the slice.
func CloneMessages(messages []Message) []Message {
	if messages == nil {
		return nil
	}
	copied := make([]Message, len(messages))
	copy(copied, messages)
	return copied
}
