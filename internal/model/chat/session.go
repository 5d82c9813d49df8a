package chat

import "time"

const (
	// DefaultTitle 是新会话在首条消息到来之前的占位标题。
	DefaultTitle = "新对话"
	// DefaultSystemPrompt 是新会话默认携带的系统提示词。
	DefaultSystemPrompt = "你是一个智能助手，名字叫 My AI。请用简洁、优雅的 Markdown 格式回答用户的问题。"
)

// Session is a persisted conversation thread. It exclusively owns its
// messages; they are stored and loaded as a whole.
type Session struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	SystemPrompt     string    `json:"systemPrompt"`
	ModelKey         string    `json:"modelKey,omitempty"`
	ArticleContextID string    `json:"articleContextId,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// HasPlaceholderTitle reports whether the title still awaits derivation
// from the first user message.
func (s Session) HasPlaceholderTitle() bool {
	return s.Title == "" || s.Title == DefaultTitle
}
