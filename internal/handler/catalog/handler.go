package catalog

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/eray/backend/internal/handler/apierr"
	"github.com/zhouzirui/eray/backend/internal/middleware"
	"github.com/zhouzirui/eray/backend/internal/model/chat"
	"github.com/zhouzirui/eray/backend/internal/model/llm"
	chatService "github.com/zhouzirui/eray/backend/internal/service/chat"
	"github.com/zhouzirui/eray/backend/pkg/utils"
)

// Availability reports whether a model can actually be served.
type Availability interface {
	Available(spec llm.ModelSpec) bool
}

// Handler 模型列表与文章列表的HTTP处理器
type Handler struct {
	registry     *llm.Registry
	availability Availability
	articles     chatService.ArticleStore
}

// New 创建目录处理器，availability 与 articles 可以为空
func New(registry *llm.Registry, availability Availability, articles chatService.ArticleStore) *Handler {
	return &Handler{
		registry:     registry,
		availability: availability,
		articles:     articles,
	}
}

// RegisterRoutes 注册目录相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/models", h.handleListModels)
	r.Get("/articles", h.handleListArticles)
}

// ModelView 是模型选择器中的一项。
type ModelView struct {
	llm.ModelSpec
	Available bool `json:"available"`
}

// ModelList 是 /models 的响应。
type ModelList struct {
	Models     []ModelView `json:"models"`
	DefaultKey string      `json:"defaultKey,omitempty"`
}

// ArticleView 是附件选择器中的一项，不含正文。
type ArticleView struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Summary string   `json:"summary"`
	Tags    []string `json:"tags"`
}

// handleListModels 列出当前层级可见的模型
func (h *Handler) handleListModels(w http.ResponseWriter, r *http.Request) {
	scope := middleware.ScopeFrom(r.Context())

	list := ModelList{Models: []ModelView{}}
	for _, spec := range h.registry.List(scope) {
		available := true
		if h.availability != nil {
			available = h.availability.Available(spec)
		}
		list.Models = append(list.Models, ModelView{ModelSpec: spec, Available: available})
	}
	if spec, ok := h.registry.Default(scope); ok {
		list.DefaultKey = spec.Key
	}

	utils.RespondJSON(w, http.StatusOK, list)
}

// handleListArticles 列出可作为附件引用的文章，公共层级只能看到已发布的
func (h *Handler) handleListArticles(w http.ResponseWriter, r *http.Request) {
	views := []ArticleView{}
	if h.articles == nil {
		utils.RespondJSON(w, http.StatusOK, views)
		return
	}

	publishedOnly := !middleware.ScopeFrom(r.Context()).IsAdmin()
	articles, err := h.articles.ListArticles(r.Context(), publishedOnly)
	if err != nil {
		apierr.Respond(w, err)
		return
	}
	for _, article := range articles {
		views = append(views, newArticleView(article))
	}
	utils.RespondJSON(w, http.StatusOK, views)
}

func newArticleView(article chat.Article) ArticleView {
	tags := article.Tags
	if tags == nil {
		tags = []string{}
	}
	return ArticleView{ID: article.ID, Title: article.Title, Summary: article.Summary, Tags: tags}
}
