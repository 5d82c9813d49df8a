package conversation

import (
	"strings"

	"github.com/zhouzirui/eray/backend/internal/analysis/hiddencontext"
	"github.com/zhouzirui/eray/backend/internal/model/chat"
)

const (
	titleRunes    = 20
	titleEllipsis = "..."
	// articlePromptRunes 限制注入系统提示词的文章正文长度。
	articlePromptRunes = 8000
)

// DeriveTitle builds a session title from the first user message: its
// visible text cut to 20 runes. A message carrying only attachments is
// titled after its first article.
func DeriveTitle(messages []chat.Message) (string, bool) {
	for _, msg := range messages {
		if !msg.IsUser() {
			continue
		}
		display := hiddencontext.Displayify(msg.Content)
		text := strings.Join(strings.Fields(display.Text), " ")
		if text == "" && len(display.References) > 0 {
			text = display.References[0]
		}
		if text == "" {
			return "", false
		}
		runes := []rune(text)
		if len(runes) > titleRunes {
			return string(runes[:titleRunes]) + titleEllipsis, true
		}
		return text, true
	}
	return "", false
}

// ArticleSessionTitle is the title of a session started from an article.
func ArticleSessionTitle(article chat.Article) string {
	return "关于 \"" + article.Title + "\" 的讨论"
}

// ArticleSystemPrompt appends the article to the base prompt so every turn
// of the session is answered against it.
func ArticleSystemPrompt(base string, article chat.Article) string {
	content := article.Content
	if runes := []rune(content); len(runes) > articlePromptRunes {
		content = string(runes[:articlePromptRunes])
	}

	var builder strings.Builder
	builder.WriteString(base)
	builder.WriteString("\n\n你正在根据以下文章回答用户的问题：\n\n标题：")
	builder.WriteString(article.Title)
	builder.WriteString("\n内容：\n")
	builder.WriteString(content)
	builder.WriteString("... (截取部分)")
	return builder.String()
}
