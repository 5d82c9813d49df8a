// Package conversation 实现聊天会话引擎：维护有序的消息历史，把模型输出
// 流式写入占位消息，支持重新生成与编辑重发，并在生成完成后整体持久化。
//
// 状态集中在 ConversationState 中，Send / Regenerate / Edit 是纯函数，
// 返回下一个状态和一个描述待执行生成步骤的 GenerateEffect；Engine 负责
// 串行地应用它们并运行生成。
package conversation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zhouzirui/eray/backend/internal/analysis/hiddencontext"
	"github.com/zhouzirui/eray/backend/internal/model/chat"
)

var (
	ErrEmptyMessage    = errors.New("message is empty")
	ErrMessageNotFound = errors.New("message not found")
	ErrNotUserMessage  = errors.New("message is not a user message")
	ErrInvalidIndex    = errors.New("invalid message index")
	ErrNoModel         = errors.New("no model selected")
	ErrNoActiveSession = errors.New("no active session")
)

// ConversationState is everything the engine knows about the active
// conversation. Values are treated as immutable; transitions return copies.
type ConversationState struct {
	Session      *chat.Session  `json:"session,omitempty"`
	Messages     []chat.Message `json:"messages"`
	SystemPrompt string         `json:"systemPrompt"`
	ModelKey     string         `json:"modelKey"`
	Generating   bool           `json:"generating"`
	// PendingID is the placeholder still being filled by a generation. It
	// is always the last message.
	PendingID string     `json:"pendingId,omitempty"`
	Scope     chat.Scope `json:"-"`
}

// GenerateEffect describes the generation step a transition asks for.
type GenerateEffect struct {
	// SessionID is fixed when the effect is created; the generation never
	// re-reads the active session.
	SessionID     string
	Session       chat.Session
	History       []chat.Message
	Placeholder   chat.Message
	SystemPrompt  string
	ModelKey      string
	Scope         chat.Scope
	CreateSession bool
}

// Env supplies time and ids to the transitions.
type Env struct {
	Now   func() time.Time
	NewID func() string
}

// EditInput carries the replacement attachments of an edit. With Articles
// nil and KeepContext set, the articles already embedded in the message are
// kept; otherwise they are dropped.
type EditInput struct {
	Articles    []chat.ArticleRef
	KeepContext bool
}

// Clone returns a deep copy of the state.
func (s ConversationState) Clone() ConversationState {
	next := s
	next.Messages = chat.CloneMessages(s.Messages)
	if s.Session != nil {
		session := *s.Session
		next.Session = &session
	}
	return next
}

// Send appends a user message and asks for a reply. Without an active
// session a new one is created.
func (s ConversationState) Send(env Env, text string, articles []chat.ArticleRef) (ConversationState, GenerateEffect, error) {
	if strings.TrimSpace(text) == "" && len(articles) == 0 {
		return s, GenerateEffect{}, ErrEmptyMessage
	}
	if s.ModelKey == "" {
		return s, GenerateEffect{}, ErrNoModel
	}

	next := s.Clone()
	// 被抢占的生成不能在历史中留下痕迹。
	next.dropPending()
	now := env.Now()
	createSession := false
	if next.Session == nil {
		next.Session = &chat.Session{
			ID:           env.NewID(),
			Title:        chat.DefaultTitle,
			SystemPrompt: next.SystemPrompt,
			ModelKey:     next.ModelKey,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		next.Messages = nil
		createSession = true
	}

	user := chat.Message{
		ID:        env.NewID(),
		SessionID: next.Session.ID,
		Role:      chat.RoleUser,
		Content:   hiddencontext.Encode(text, articles),
		CreatedAt: now,
	}
	next.Messages = append(next.Messages, user)

	effect := next.generate(env, createSession)
	return next, effect, nil
}

// Regenerate drops the assistant turn at index and everything after it,
// then asks for a new reply to the remaining history.
func (s ConversationState) Regenerate(env Env, index int) (ConversationState, GenerateEffect, error) {
	if s.Session == nil {
		return s, GenerateEffect{}, ErrNoActiveSession
	}
	if index <= 0 || index >= len(s.Messages) {
		return s, GenerateEffect{}, fmt.Errorf("%w: %d", ErrInvalidIndex, index)
	}
	if s.Messages[index].Role != chat.RoleAssistant {
		return s, GenerateEffect{}, fmt.Errorf("%w: message %d is not an assistant turn", ErrInvalidIndex, index)
	}
	if s.ModelKey == "" {
		return s, GenerateEffect{}, ErrNoModel
	}

	next := s.Clone()
	next.Messages = next.Messages[:index]
	next.PendingID = ""

	effect := next.generate(env, false)
	return next, effect, nil
}

// Edit replaces a user message, discarding it and everything after it, and
// asks for a reply to the edited history. The message keeps its id and gets
// a fresh timestamp.
func (s ConversationState) Edit(env Env, messageID, text string, input EditInput) (ConversationState, GenerateEffect, error) {
	if s.Session == nil {
		return s, GenerateEffect{}, ErrNoActiveSession
	}

	index := -1
	for i, msg := range s.Messages {
		if msg.ID == messageID {
			index = i
			break
		}
	}
	if index < 0 {
		return s, GenerateEffect{}, fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
	}
	original := s.Messages[index]
	if !original.IsUser() {
		return s, GenerateEffect{}, fmt.Errorf("%w: %s", ErrNotUserMessage, messageID)
	}

	articles := input.Articles
	if articles == nil && input.KeepContext {
		articles = hiddencontext.Decode(original.Content).Articles
	}
	if strings.TrimSpace(text) == "" && len(articles) == 0 {
		return s, GenerateEffect{}, ErrEmptyMessage
	}
	if s.ModelKey == "" {
		return s, GenerateEffect{}, ErrNoModel
	}

	next := s.Clone()
	edited := original
	edited.Content = hiddencontext.Encode(text, articles)
	edited.CreatedAt = env.Now()
	next.Messages = append(next.Messages[:index], edited)
	next.PendingID = ""

	effect := next.generate(env, false)
	return next, effect, nil
}

// generate appends the assistant placeholder and builds the effect. The
// receiver must already be a private copy.
func (s *ConversationState) generate(env Env, createSession bool) GenerateEffect {
	history := chat.CloneMessages(s.Messages)
	placeholder := chat.Message{
		ID:        env.NewID(),
		SessionID: s.Session.ID,
		Role:      chat.RoleAssistant,
		CreatedAt: env.Now(),
	}
	s.Messages = append(s.Messages, placeholder)
	s.PendingID = placeholder.ID
	s.Generating = true

	return GenerateEffect{
		SessionID:     s.Session.ID,
		Session:       *s.Session,
		History:       history,
		Placeholder:   placeholder,
		SystemPrompt:  s.SystemPrompt,
		ModelKey:      s.ModelKey,
		Scope:         s.Scope,
		CreateSession: createSession,
	}
}

// dropPending removes the placeholder of a generation that is being
// replaced.
func (s *ConversationState) dropPending() {
	if s.PendingID == "" {
		return
	}
	for i, msg := range s.Messages {
		if msg.ID == s.PendingID {
			s.Messages = append(s.Messages[:i], s.Messages[i+1:]...)
			break
		}
	}
	s.PendingID = ""
}
