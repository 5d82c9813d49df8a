package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zhouzirui/eray/backend/internal/model/chat"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrArticleNotFound = errors.New("article not found")
	ErrInvalidSession  = errors.New("invalid session")
)

// Store persists sessions and their complete message lists. Both write
// paths overwrite the whole list; there is no incremental append.
type Store interface {
	ListSessions(ctx context.Context, scope chat.Scope) ([]chat.Session, error)
	GetSession(ctx context.Context, sessionID string, scope chat.Scope) (chat.Session, []chat.Message, error)
	// SaveSession creates or replaces a session.
	SaveSession(ctx context.Context, session chat.Session, messages []chat.Message, scope chat.Scope) error
	// UpdateSession changes an existing session and returns it as stored.
	// A deleted session is never recreated: ErrSessionNotFound is returned.
	// nil messages keep the stored history.
	UpdateSession(ctx context.Context, sessionID string, patch SessionPatch, messages []chat.Message, scope chat.Scope) (chat.Session, error)
	DeleteSession(ctx context.Context, sessionID string, scope chat.Scope) error
}

// SessionPatch 描述对已有会话的部分修改，nil 字段保持原值。
type SessionPatch struct {
	Title        *string
	SystemPrompt *string
	ModelKey     *string
	// AutoTitle 只在会话仍是占位标题时生效，不会覆盖用户改过的标题。
	AutoTitle string
	UpdatedAt time.Time
}

// apply 把修改合并到 session 上。
func (p SessionPatch) apply(session chat.Session) chat.Session {
	if p.Title != nil {
		session.Title = *p.Title
	}
	if p.AutoTitle != "" && session.HasPlaceholderTitle() {
		session.Title = p.AutoTitle
	}
	if p.SystemPrompt != nil {
		session.SystemPrompt = *p.SystemPrompt
	}
	if p.ModelKey != nil {
		session.ModelKey = *p.ModelKey
	}
	if !p.UpdatedAt.IsZero() {
		session.UpdatedAt = p.UpdatedAt
	}
	return session
}

// ArticleStore resolves articles that can be attached to a message.
type ArticleStore interface {
	GetArticle(ctx context.Context, articleID string) (chat.Article, error)
	ListArticles(ctx context.Context, publishedOnly bool) ([]chat.Article, error)
	SaveArticle(ctx context.Context, article chat.Article) (chat.Article, error)
}

// validateSave 检查会话 id 与消息顺序，并把消息归属到该会话。
func validateSave(session chat.Session, messages []chat.Message) ([]chat.Message, error) {
	if strings.TrimSpace(session.ID) == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidSession)
	}
	if err := chat.CheckSequence(messages); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}

	owned := chat.CloneMessages(messages)
	if owned == nil {
		owned = []chat.Message{}
	}
	for i := range owned {
		owned[i].SessionID = session.ID
	}
	return owned, nil
}
