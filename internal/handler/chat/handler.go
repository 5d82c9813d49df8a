package chat

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/eray/backend/internal/analysis/hiddencontext"
	"github.com/zhouzirui/eray/backend/internal/handler/apierr"
	"github.com/zhouzirui/eray/backend/internal/middleware"
	"github.com/zhouzirui/eray/backend/internal/model/chat"
	chatService "github.com/zhouzirui/eray/backend/internal/service/chat"
	"github.com/zhouzirui/eray/backend/pkg/utils"
)

// Handler 会话管理的HTTP处理器
type Handler struct {
	store chatService.Store
	now   func() time.Time
}

// New 创建会话处理器
func New(store chatService.Store) *Handler {
	return &Handler{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions", h.handleListSessions)
	r.Get("/sessions/{sessionID}", h.handleGetSession)
	r.Patch("/sessions/{sessionID}", h.handleUpdateSession)
	r.Delete("/sessions/{sessionID}", h.handleDeleteSession)
}

// MessageView 是返回给前端的消息，display 只含可见文本和引用标题。
type MessageView struct {
	chat.Message
	Display hiddencontext.Display `json:"display"`
}

// SessionView 是会话及其完整消息列表。
type SessionView struct {
	Session  chat.Session  `json:"session"`
	Messages []MessageView `json:"messages"`
}

func newSessionView(session chat.Session, messages []chat.Message) SessionView {
	views := make([]MessageView, 0, len(messages))
	for _, msg := range messages {
		views = append(views, MessageView{Message: msg, Display: hiddencontext.Displayify(msg.Content)})
	}
	return SessionView{Session: session, Messages: views}
}

// handleListSessions 列出当前层级的会话，最近更新的在前
func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.ListSessions(r.Context(), middleware.ScopeFrom(r.Context()))
	if err != nil {
		apierr.Respond(w, err)
		return
	}
	if sessions == nil {
		sessions = []chat.Session{}
	}
	utils.RespondJSON(w, http.StatusOK, sessions)
}

// handleGetSession 返回会话和消息
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, messages, err := h.store.GetSession(r.Context(), chi.URLParam(r, "sessionID"), middleware.ScopeFrom(r.Context()))
	if err != nil {
		apierr.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, newSessionView(session, messages))
}

// handleUpdateSession 修改标题或系统提示词
func (h *Handler) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Title        *string `json:"title"`
		SystemPrompt *string `json:"systemPrompt"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Title == nil && payload.SystemPrompt == nil {
		utils.RespondError(w, http.StatusBadRequest, "title or systemPrompt is required")
		return
	}

	patch := chatService.SessionPatch{SystemPrompt: payload.SystemPrompt, UpdatedAt: h.now()}
	if payload.Title != nil {
		title := strings.TrimSpace(*payload.Title)
		if title == "" {
			utils.RespondError(w, http.StatusBadRequest, "title must not be empty")
			return
		}
		patch.Title = &title
	}

	ctx := r.Context()
	session, err := h.store.UpdateSession(ctx, chi.URLParam(r, "sessionID"), patch, nil, middleware.ScopeFrom(ctx))
	if err != nil {
		apierr.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

// handleDeleteSession 删除会话及其消息
func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteSession(r.Context(), chi.URLParam(r, "sessionID"), middleware.ScopeFrom(r.Context())); err != nil {
		apierr.Respond(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
