package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/eray/backend/internal/analysis/hiddencontext"
	"github.com/zhouzirui/eray/backend/internal/model/chat"
	"github.com/zhouzirui/eray/backend/internal/model/llm"
	"github.com/zhouzirui/eray/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/eray/backend/internal/service/chat"
	"github.com/zhouzirui/eray/backend/internal/service/conversation"
)

type cannedEndpoint struct {
	chunks []string
	err    error
	last   ai.Request
}

func (e *cannedEndpoint) Stream(_ context.Context, req ai.Request) (*schema.StreamReader[string], error) {
	e.last = req
	sr, sw := schema.Pipe[string](len(e.chunks) + 1)
	go func() {
		defer sw.Close()
		for _, c := range e.chunks {
			sw.Send(c, nil)
		}
		if e.err != nil {
			sw.Send("", e.err)
		}
	}()
	return sr, nil
}

func newFactory(store *chatservice.MemoryStore, endpoint conversation.Endpoint) *conversation.Factory {
	return conversation.NewFactory(conversation.Options{
		Store:    store,
		Articles: store,
		Endpoint: endpoint,
		Registry: llm.NewRegistry(llm.Seed(""), ""),
	})
}

func TestRunAskStreamsAndPersists(t *testing.T) {
	store := chatservice.NewMemoryStore()
	ctx := context.Background()
	_, err := store.SaveArticle(ctx, chat.Article{ID: "a1", Title: "Go 调度器", Content: "GMP", IsPublished: true})
	require.NoError(t, err)

	endpoint := &cannedEndpoint{chunks: []string{"GMP ", "模型"}}
	var out bytes.Buffer
	err = runAsk(ctx, newFactory(store, endpoint), chat.ScopePublic, &out, "解释一下", askOptions{articleIDs: []string{"a1"}})
	require.NoError(t, err)

	assert.Contains(t, out.String(), "GMP 模型\n")
	assert.Contains(t, out.String(), "(session ")
	assert.Equal(t, "openrouter-v3", endpoint.last.ModelKey)

	sessions, err := store.ListSessions(ctx, chat.ScopePublic)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	_, messages, err := store.GetSession(ctx, sessions[0].ID, chat.ScopePublic)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	decoded := hiddencontext.Decode(messages[0].Content)
	assert.Equal(t, "解释一下", decoded.Text)
	require.Len(t, decoded.Articles, 1)
	assert.Equal(t, "Go 调度器", decoded.Articles[0].Title)
}

func TestRunAskReportsFailure(t *testing.T) {
	store := chatservice.NewMemoryStore()
	endpoint := &cannedEndpoint{chunks: []string{"部分"}, err: errors.New("quota exceeded")}

	var out bytes.Buffer
	err := runAsk(context.Background(), newFactory(store, endpoint), chat.ScopePublic, &out, "hi", askOptions{})
	assert.ErrorIs(t, err, errGenerationFailed)
	assert.Contains(t, out.String(), "部分\n"+conversation.ErrorPrefix+"quota exceeded\n")
}

func TestRunAskRejectsPaidModelForPublic(t *testing.T) {
	store := chatservice.NewMemoryStore()
	var out bytes.Buffer
	err := runAsk(context.Background(), newFactory(store, &cannedEndpoint{}), chat.ScopePublic, &out, "hi", askOptions{modelKey: "deepseek-chat"})
	assert.ErrorIs(t, err, conversation.ErrNoModel)
}

func TestPrintTranscriptHidesArticleBodies(t *testing.T) {
	var out bytes.Buffer
	printTranscript(&out, chat.Session{Title: "调度"}, []chat.Message{
		{Role: chat.RoleUser, Content: hiddencontext.Encode("看看这个", []chat.ArticleRef{{Title: "GMP", Content: "很长的正文"}})},
		{Role: chat.RoleAssistant, Content: "好的"},
	})

	assert.Contains(t, out.String(), "# 调度")
	assert.Contains(t, out.String(), "看看这个")
	assert.Contains(t, out.String(), "(引用: GMP)")
	assert.NotContains(t, out.String(), "很长的正文")
}

func TestPrintSessionsAndModels(t *testing.T) {
	var out bytes.Buffer
	printSessions(&out, nil)
	assert.Equal(t, "No sessions\n", out.String())

	out.Reset()
	printSessions(&out, []chat.Session{{ID: "s1", Title: "标题", UpdatedAt: time.Now()}})
	assert.Contains(t, out.String(), "s1")

	out.Reset()
	models := llm.Seed("")
	printModels(&out, models, "gemini-flash", func(spec llm.ModelSpec) bool { return spec.Provider == llm.ProviderGemini })
	assert.Contains(t, out.String(), "* gemini-flash")
	assert.Contains(t, out.String(), "no credentials")
}
