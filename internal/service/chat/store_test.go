package chat_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/eray/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/eray/backend/internal/service/chat"
)

type fullStore interface {
	chatservice.Store
	chatservice.ArticleStore
}

func storeImplementations(t *testing.T) map[string]fullStore {
	t.Helper()

	sqliteStore, err := chatservice.OpenSQLite(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqliteStore.Close() })

	memorySQLite, err := chatservice.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { memorySQLite.Close() })

	return map[string]fullStore{
		"memory":        chatservice.NewMemoryStore(),
		"sqlite":        sqliteStore,
		"sqlite-memory": memorySQLite,
	}
}

func sampleSession(id string, updated time.Time) (chat.Session, []chat.Message) {
	session := chat.Session{
		ID:           id,
		Title:        chat.DefaultTitle,
		SystemPrompt: chat.DefaultSystemPrompt,
		ModelKey:     "openrouter-v3",
		CreatedAt:    updated.Add(-time.Minute),
		UpdatedAt:    updated,
	}
	messages := []chat.Message{
		{ID: "u1", Role: chat.RoleUser, Content: "你好", CreatedAt: updated.Add(-time.Minute)},
		{ID: "a1", Role: chat.RoleAssistant, Content: "你好！", CreatedAt: updated},
	}
	return session, messages
}

func TestStoreSaveAndGet(t *testing.T) {
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	for name, store := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			session, messages := sampleSession("s1", base)

			require.NoError(t, store.SaveSession(ctx, session, messages, chat.ScopePublic))

			got, gotMessages, err := store.GetSession(ctx, "s1", chat.ScopePublic)
			require.NoError(t, err)
			assert.Equal(t, session.Title, got.Title)
			assert.Equal(t, session.ModelKey, got.ModelKey)
			assert.True(t, got.UpdatedAt.Equal(base))
			require.Len(t, gotMessages, 2)
			assert.Equal(t, "u1", gotMessages[0].ID)
			assert.Equal(t, "a1", gotMessages[1].ID)
			assert.Equal(t, "s1", gotMessages[1].SessionID)
			assert.True(t, gotMessages[1].CreatedAt.Equal(base))
		})
	}
}

func TestStoreSaveOverwritesWholeHistory(t *testing.T) {
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	for name, store := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			session, messages := sampleSession("s1", base)
			messages = append(messages,
				chat.Message{ID: "u2", Role: chat.RoleUser, Content: "再说一次"},
				chat.Message{ID: "a2", Role: chat.RoleAssistant, Content: "好的"},
			)
			require.NoError(t, store.SaveSession(ctx, session, messages, chat.ScopePublic))

			session.Title = "改名"
			require.NoError(t, store.SaveSession(ctx, session, messages[:1], chat.ScopePublic))

			got, gotMessages, err := store.GetSession(ctx, "s1", chat.ScopePublic)
			require.NoError(t, err)
			assert.Equal(t, "改名", got.Title)
			require.Len(t, gotMessages, 1)
			assert.Equal(t, "u1", gotMessages[0].ID)
		})
	}
}

func TestStoreScopesAreIsolated(t *testing.T) {
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	for name, store := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			session, messages := sampleSession("admin-only", base)
			require.NoError(t, store.SaveSession(ctx, session, messages, chat.ScopeAdmin))

			_, _, err := store.GetSession(ctx, "admin-only", chat.ScopePublic)
			assert.ErrorIs(t, err, chatservice.ErrSessionNotFound)

			public, err := store.ListSessions(ctx, chat.ScopePublic)
			require.NoError(t, err)
			assert.Empty(t, public)

			assert.ErrorIs(t, store.DeleteSession(ctx, "admin-only", chat.ScopePublic), chatservice.ErrSessionNotFound)

			admin, err := store.ListSessions(ctx, chat.ScopeAdmin)
			require.NoError(t, err)
			require.Len(t, admin, 1)
		})
	}
}

func TestStoreListOrdersByUpdatedAt(t *testing.T) {
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	for name, store := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i, id := range []string{"old", "new", "mid"} {
				offsets := []time.Duration{0, 2 * time.Hour, time.Hour}
				session, messages := sampleSession(id, base.Add(offsets[i]))
				require.NoError(t, store.SaveSession(ctx, session, messages, chat.ScopePublic))
			}

			sessions, err := store.ListSessions(ctx, chat.ScopePublic)
			require.NoError(t, err)
			require.Len(t, sessions, 3)
			assert.Equal(t, []string{"new", "mid", "old"}, []string{sessions[0].ID, sessions[1].ID, sessions[2].ID})
		})
	}
}

func TestStoreDeleteSession(t *testing.T) {
	for name, store := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			session, messages := sampleSession("gone", time.Now().UTC())
			require.NoError(t, store.SaveSession(ctx, session, messages, chat.ScopePublic))

			require.NoError(t, store.DeleteSession(ctx, "gone", chat.ScopePublic))
			_, _, err := store.GetSession(ctx, "gone", chat.ScopePublic)
			assert.ErrorIs(t, err, chatservice.ErrSessionNotFound)
			assert.ErrorIs(t, store.DeleteSession(ctx, "gone", chat.ScopePublic), chatservice.ErrSessionNotFound)
		})
	}
}

func TestStoreRejectsInvalidSessions(t *testing.T) {
	for name, store := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			err := store.SaveSession(ctx, chat.Session{}, nil, chat.ScopePublic)
			assert.ErrorIs(t, err, chatservice.ErrInvalidSession)

			err = store.SaveSession(ctx, chat.Session{ID: "bad"}, []chat.Message{
				{ID: "a", Role: chat.RoleAssistant, Content: "hi"},
			}, chat.ScopePublic)
			assert.ErrorIs(t, err, chatservice.ErrInvalidSession)
			assert.True(t, errors.Is(err, chat.ErrInvalidSequence))

			_, _, err = store.GetSession(ctx, "bad", chat.ScopePublic)
			assert.ErrorIs(t, err, chatservice.ErrSessionNotFound)
		})
	}
}

func TestStoreArticles(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for name, store := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			draft, err := store.SaveArticle(ctx, chat.Article{Title: "草稿", CreatedAt: base})
			require.NoError(t, err)
			assert.NotEmpty(t, draft.ID)

			published, err := store.SaveArticle(ctx, chat.Article{
				ID:          "go-concurrency",
				Title:       "Go 并发",
				Summary:     "goroutine 与 channel",
				Content:     "正文",
				Tags:        []string{"Go", "并发"},
				IsPublished: true,
				CreatedAt:   base.Add(time.Hour),
			})
			require.NoError(t, err)

			got, err := store.GetArticle(ctx, published.ID)
			require.NoError(t, err)
			assert.Equal(t, []string{"Go", "并发"}, got.Tags)
			assert.True(t, got.IsPublished)
			assert.Equal(t, "goroutine 与 channel", got.Ref().Summary)

			all, err := store.ListArticles(ctx, false)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "go-concurrency", all[0].ID)

			onlyPublished, err := store.ListArticles(ctx, true)
			require.NoError(t, err)
			require.Len(t, onlyPublished, 1)

			_, err = store.GetArticle(ctx, "missing")
			assert.ErrorIs(t, err, chatservice.ErrArticleNotFound)
		})
	}
}

func TestStoreUpdateSession(t *testing.T) {
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	for name, store := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.UpdateSession(ctx, "ghost", chatservice.SessionPatch{UpdatedAt: base}, nil, chat.ScopePublic)
			require.ErrorIs(t, err, chatservice.ErrSessionNotFound)
			_, _, err = store.GetSession(ctx, "ghost", chat.ScopePublic)
			require.ErrorIs(t, err, chatservice.ErrSessionNotFound)

			session, messages := sampleSession("s1", base)
			require.NoError(t, store.SaveSession(ctx, session, messages, chat.ScopePublic))

			prompt := "新提示词"
			later := base.Add(time.Hour)
			got, err := store.UpdateSession(ctx, "s1", chatservice.SessionPatch{
				SystemPrompt: &prompt,
				AutoTitle:    "自动标题",
				UpdatedAt:    later,
			}, nil, chat.ScopePublic)
			require.NoError(t, err)
			assert.Equal(t, "自动标题", got.Title)
			assert.Equal(t, "新提示词", got.SystemPrompt)
			assert.Equal(t, "openrouter-v3", got.ModelKey)

			stored, storedMessages, err := store.GetSession(ctx, "s1", chat.ScopePublic)
			require.NoError(t, err)
			assert.Equal(t, "自动标题", stored.Title)
			assert.True(t, stored.UpdatedAt.Equal(later))
			assert.Len(t, storedMessages, 2, "nil messages keep the history")

			// 已有标题时自动标题不生效。
			got, err = store.UpdateSession(ctx, "s1", chatservice.SessionPatch{AutoTitle: "另一个"}, messages[:1], chat.ScopePublic)
			require.NoError(t, err)
			assert.Equal(t, "自动标题", got.Title)
			_, storedMessages, err = store.GetSession(ctx, "s1", chat.ScopePublic)
			require.NoError(t, err)
			require.Len(t, storedMessages, 1)

			require.NoError(t, store.DeleteSession(ctx, "s1", chat.ScopePublic))
			_, err = store.UpdateSession(ctx, "s1", chatservice.SessionPatch{}, messages, chat.ScopePublic)
			require.ErrorIs(t, err, chatservice.ErrSessionNotFound)
			_, _, err = store.GetSession(ctx, "s1", chat.ScopePublic)
			require.ErrorIs(t, err, chatservice.ErrSessionNotFound)
		})
	}
}
