package conversation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zhouzirui/eray/backend/internal/analysis/hiddencontext"
	"github.com/zhouzirui/eray/backend/internal/model/chat"
)

func TestDeriveTitle(t *testing.T) {
	cases := []struct {
		name     string
		messages []chat.Message
		want     string
		ok       bool
	}{
		{
			name:     "long text is cut",
			messages: []chat.Message{{Role: chat.RoleUser, Content: "Hello, can you explain recursion in five different ways today?"}},
			want:     "Hello, can you expla...",
			ok:       true,
		},
		{
			name:     "short text kept",
			messages: []chat.Message{{Role: chat.RoleUser, Content: "递归是什么"}},
			want:     "递归是什么",
			ok:       true,
		},
		{
			name:     "runes not bytes",
			messages: []chat.Message{{Role: chat.RoleUser, Content: strings.Repeat("字", 25)}},
			want:     strings.Repeat("字", 20) + "...",
			ok:       true,
		},
		{
			name: "hidden context ignored",
			messages: []chat.Message{{Role: chat.RoleUser, Content: hiddencontext.Encode("Compare these", []chat.ArticleRef{
				{Title: "A", Content: strings.Repeat("long body ", 10)},
			})}},
			want: "Compare these",
			ok:   true,
		},
		{
			name:     "attachments only",
			messages: []chat.Message{{Role: chat.RoleUser, Content: hiddencontext.Encode("", []chat.ArticleRef{{Title: "Go 并发"}})}},
			want:     "Go 并发",
			ok:       true,
		},
		{
			name:     "newlines collapse",
			messages: []chat.Message{{Role: chat.RoleUser, Content: "第一行\n第二行"}},
			want:     "第一行 第二行",
			ok:       true,
		},
		{
			name:     "no user message",
			messages: []chat.Message{{Role: chat.RoleAssistant, Content: "hi"}},
			ok:       false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := DeriveTitle(tc.messages)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestArticleSystemPrompt(t *testing.T) {
	article := chat.Article{Title: "Go", Content: strings.Repeat("文", 9000)}

	prompt := ArticleSystemPrompt("base", article)
	assert.True(t, strings.HasPrefix(prompt, "base\n\n你正在根据以下文章回答用户的问题：\n\n标题：Go\n内容：\n"))
	assert.True(t, strings.HasSuffix(prompt, "... (截取部分)"))
	assert.Equal(t, 8000, strings.Count(prompt, "文")-1)

	assert.Equal(t, `关于 "Go" 的讨论`, ArticleSessionTitle(article))
}
