package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/eray/backend/internal/middleware"
	"github.com/zhouzirui/eray/backend/internal/model/chat"
	"github.com/zhouzirui/eray/backend/internal/model/llm"
	chatservice "github.com/zhouzirui/eray/backend/internal/service/chat"
)

type onlyProvider llm.Provider

func (p onlyProvider) Available(spec llm.ModelSpec) bool {
	return spec.Provider == llm.Provider(p)
}

func setupRouter(t *testing.T) *chi.Mux {
	t.Helper()
	store := chatservice.NewMemoryStore()
	ctx := context.Background()
	_, err := store.SaveArticle(ctx, chat.Article{ID: "a1", Title: "已发布", Content: "正文", IsPublished: true})
	require.NoError(t, err)
	_, err = store.SaveArticle(ctx, chat.Article{ID: "a2", Title: "草稿", Content: "草稿正文"})
	require.NoError(t, err)

	registry := llm.NewRegistry(llm.Seed(""), "")
	handler := New(registry, onlyProvider(llm.ProviderOpenRouter), store)

	r := chi.NewRouter()
	r.Use(middleware.Scope("secret"))
	handler.RegisterRoutes(r)
	return r
}

func get(r http.Handler, path string, admin bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if admin {
		req.Header.Set(middleware.AdminTokenHeader, "secret")
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestListModelsPublicSeesFreeOnly(t *testing.T) {
	r := setupRouter(t)

	resp := get(r, "/models", false)
	require.Equal(t, http.StatusOK, resp.Code)

	var list ModelList
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &list))
	require.NotEmpty(t, list.Models)
	for _, m := range list.Models {
		assert.True(t, m.IsFree, m.Key)
		assert.True(t, m.Available, m.Key)
	}
	assert.Equal(t, "openrouter-v3", list.DefaultKey)
	assert.NotContains(t, resp.Body.String(), "model_id")
	assert.NotContains(t, resp.Body.String(), "deepseek/deepseek-chat")
}

func TestListModelsAdminSeesAvailability(t *testing.T) {
	r := setupRouter(t)

	var list ModelList
	require.NoError(t, json.Unmarshal(get(r, "/models", true).Body.Bytes(), &list))

	byKey := map[string]ModelView{}
	for _, m := range list.Models {
		byKey[m.Key] = m
	}
	require.Contains(t, byKey, "deepseek-chat")
	assert.False(t, byKey["deepseek-chat"].Available)
	assert.True(t, byKey["openrouter-r1"].Available)
}

func TestListArticlesByScope(t *testing.T) {
	r := setupRouter(t)

	var public []ArticleView
	require.NoError(t, json.Unmarshal(get(r, "/articles", false).Body.Bytes(), &public))
	require.Len(t, public, 1)
	assert.Equal(t, "a1", public[0].ID)
	assert.NotContains(t, get(r, "/articles", false).Body.String(), "正文")

	var admin []ArticleView
	require.NoError(t, json.Unmarshal(get(r, "/articles", true).Body.Bytes(), &admin))
	assert.Len(t, admin, 2)
}
