package assist

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/eray/backend/internal/handler/apierr"
	"github.com/zhouzirui/eray/backend/internal/middleware"
	"github.com/zhouzirui/eray/backend/internal/model/chat"
	"github.com/zhouzirui/eray/backend/internal/model/llm"
	"github.com/zhouzirui/eray/backend/pkg/utils"
)

// Writer 是后台编辑器使用的写作助手。
type Writer interface {
	GenerateSummary(ctx context.Context, modelKey, content string, onToken func(string)) (string, error)
	GenerateTags(ctx context.Context, modelKey, title, content string, existing []string) ([]string, error)
}

// Handler 写作助手的HTTP处理器，只对管理员开放
type Handler struct {
	writer   Writer
	registry *llm.Registry
}

// New 创建写作助手处理器
func New(writer Writer, registry *llm.Registry) *Handler {
	return &Handler{writer: writer, registry: registry}
}

// RegisterRoutes 注册写作助手路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/assist", func(ar chi.Router) {
		ar.Use(middleware.RequireAdmin)
		ar.Post("/summary", h.handleSummary)
		ar.Post("/tags", h.handleTags)
	})
}

type summaryRequest struct {
	Content  string `json:"content"`
	ModelKey string `json:"modelKey"`
}

type tagsRequest struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Existing []string `json:"existing"`
	ModelKey string   `json:"modelKey"`
}

// summaryChunk 是摘要 SSE 流中的一帧。
type summaryChunk struct {
	Event   string `json:"event"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handleSummary 以 SSE 流式返回摘要
func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var req summaryRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		utils.RespondError(w, http.StatusBadRequest, "content is required")
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	summary, err := h.writer.GenerateSummary(r.Context(), h.modelKey(req.ModelKey), req.Content, func(token string) {
		utils.SendSSEChunk(w, flusher, summaryChunk{Event: "delta", Content: token})
	})
	if err != nil {
		log.Printf("[assist] summary failed: %v", err)
		utils.SendSSEChunk(w, flusher, summaryChunk{Event: "error", Error: err.Error()})
		return
	}
	utils.SendSSEChunk(w, flusher, summaryChunk{Event: "done", Content: summary})
}

// handleTags 返回建议的标签
func (h *Handler) handleTags(w http.ResponseWriter, r *http.Request) {
	var req tagsRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Title) == "" && strings.TrimSpace(req.Content) == "" {
		utils.RespondError(w, http.StatusBadRequest, "title or content is required")
		return
	}

	tags, err := h.writer.GenerateTags(r.Context(), h.modelKey(req.ModelKey), req.Title, req.Content, req.Existing)
	if err != nil {
		apierr.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string][]string{"tags": tags})
}

func (h *Handler) modelKey(requested string) string {
	if key := strings.TrimSpace(requested); key != "" {
		return key
	}
	if h.registry != nil {
		if spec, ok := h.registry.Default(chat.ScopeAdmin); ok {
			return spec.Key
		}
	}
	return ""
}
