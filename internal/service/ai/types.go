package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/eray/backend/internal/model/chat"
	"github.com/zhouzirui/eray/backend/internal/model/llm"
)

var (
	// ErrCanceled 表示调用方主动取消了生成，与内容错误区分开。
	ErrCanceled = errors.New("generation canceled")
	// ErrUnknownModel 表示模型 key 未注册或当前层级不可用。
	ErrUnknownModel = errors.New("unknown model")
	// ErrProviderUnavailable 表示模型所属的供应商没有配置凭证。
	ErrProviderUnavailable = errors.New("model provider unavailable")
	// ErrEmptySource 表示写作助手收到的正文为空。
	ErrEmptySource = errors.New("source content is empty")
)

// Role values sent to providers. The system role only ever appears as the
// first message of a request.
const (
	RoleSystem    = "system"
	RoleUser      = string(chat.RoleUser)
	RoleAssistant = string(chat.RoleAssistant)
)

// Message is one (role, content) pair of a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes a single completion call.
type Request struct {
	ModelKey string
	Scope    chat.Scope
	Messages []Message
	// Temperature overrides the model default when the model accepts one.
	Temperature *float32
}

// Provider streams text deltas from one upstream API family.
type Provider interface {
	Stream(ctx context.Context, spec llm.ModelSpec, messages []Message, temperature *float32) (*schema.StreamReader[string], error)
}

// StreamError reports a failure after the stream started and keeps the
// content received before it.
type StreamError struct {
	Partial string
	Err     error
}

func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream interrupted after %d bytes: %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream interrupted: %v", e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// BuildMessages places the system prompt first and maps the history to
// (role, content) pairs. Content is sent verbatim, hidden context included.
func BuildMessages(systemPrompt string, history []chat.Message) []Message {
	messages := make([]Message, 0, len(history)+1)
	if systemPrompt != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: systemPrompt})
	}
	for _, msg := range history {
		messages = append(messages, Message{Role: string(msg.Role), Content: msg.Content})
	}
	return messages
}

// splitSystem separates a leading system message from the rest.
func splitSystem(messages []Message) (string, []Message) {
	if len(messages) > 0 && messages[0].Role == RoleSystem {
		return messages[0].Content, messages[1:]
	}
	return "", messages
}
