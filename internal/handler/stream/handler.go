package stream

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/eray/backend/internal/handler/apierr"
	"github.com/zhouzirui/eray/backend/internal/middleware"
	"github.com/zhouzirui/eray/backend/internal/service/conversation"
	"github.com/zhouzirui/eray/backend/pkg/utils"
)

// Handler manages streaming chat replies via Server-Sent Events
type Handler struct {
	engines *conversation.Factory
}

// New creates a new stream handler
func New(engines *conversation.Factory) *Handler {
	return &Handler{engines: engines}
}

// RegisterRoutes registers the chat stream endpoint. limit guards the
// generation endpoint and may be nil.
func (h *Handler) RegisterRoutes(r chi.Router, limit func(http.Handler) http.Handler) {
	r.Group(func(g chi.Router) {
		if limit != nil {
			g.Use(limit)
		}
		g.Post("/chat/stream", h.handleChatStream)
	})
}

// ChatRequest 是 /chat/stream 的请求体。
type ChatRequest struct {
	SessionID        string   `json:"sessionId"`
	Action           string   `json:"action"`
	Text             string   `json:"text"`
	ArticleIDs       []string `json:"articleIds"`
	Index            *int     `json:"index"`
	MessageID        string   `json:"messageId"`
	KeepContext      bool     `json:"keepContext"`
	ModelKey         string   `json:"modelKey"`
	SystemPrompt     *string  `json:"systemPrompt"`
	ArticleContextID string   `json:"articleContextId"`
}

// StreamResponse represents a streaming response chunk
type StreamResponse struct {
	Event     string `json:"event"`
	SessionID string `json:"sessionId,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Content   string `json:"content,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
	Error     string `json:"error,omitempty"`
}

const (
	actionSend       = "send"
	actionRegenerate = "regenerate"
	actionEdit       = "edit"
)

func (h *Handler) handleChatStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var req ChatRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	events := newSink(false)
	defer events.close()

	engine := h.engines.New(ctx, middleware.ScopeFrom(ctx), events.listen)
	if err := prepare(ctx, engine, req); err != nil {
		apierr.Respond(w, err)
		return
	}
	if err := dispatch(ctx, engine, req); err != nil {
		apierr.Respond(w, err)
		return
	}

	state := engine.Snapshot()
	sessionID := ""
	if state.Session != nil {
		sessionID = state.Session.ID
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	utils.SendSSEChunk(w, flusher, StreamResponse{
		Event:     "start",
		SessionID: sessionID,
		MessageID: state.PendingID,
	})

	h.pump(ctx, w, flusher, engine, events)
	log.Printf("[stream] completed response for session=%s", sessionID)
}

// prepare 选择会话、模型与系统提示词。
func prepare(ctx context.Context, engine *conversation.Engine, req ChatRequest) error {
	switch {
	case req.SessionID != "":
		if err := engine.Open(ctx, req.SessionID); err != nil {
			return err
		}
	case req.ArticleContextID != "":
		if _, err := engine.StartFromArticle(ctx, req.ArticleContextID); err != nil {
			return err
		}
	}

	if req.ModelKey != "" {
		if err := engine.SetModel(req.ModelKey); err != nil {
			return err
		}
	}
	if req.SystemPrompt != nil {
		engine.SetSystemPrompt(*req.SystemPrompt)
	}
	return nil
}

func dispatch(ctx context.Context, engine *conversation.Engine, req ChatRequest) error {
	switch req.Action {
	case "", actionSend:
		articles, err := engine.ResolveArticles(ctx, req.ArticleIDs)
		if err != nil {
			return err
		}
		return engine.Send(ctx, req.Text, articles)
	case actionRegenerate:
		if req.Index == nil {
			return conversation.ErrInvalidIndex
		}
		return engine.Regenerate(ctx, *req.Index)
	case actionEdit:
		input := conversation.EditInput{KeepContext: req.KeepContext}
		if len(req.ArticleIDs) > 0 {
			articles, err := engine.ResolveArticles(ctx, req.ArticleIDs)
			if err != nil {
				return err
			}
			input.Articles = articles
		}
		return engine.EditAndResubmit(ctx, req.MessageID, req.Text, input)
	default:
		return fmt.Errorf("%w: unsupported action %q", apierr.ErrBadRequest, req.Action)
	}
}

// pump forwards engine events until the generation settles or the client
// goes away.
func (h *Handler) pump(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, engine *conversation.Engine, events *sink) {
	for {
		select {
		case <-ctx.Done():
			// 客户端断开：生成随请求上下文取消，不落库。
			events.close()
			engine.Wait()
			return
		case event := <-events.events:
			utils.SendSSEChunk(w, flusher, toResponse(event))
			if isTerminal(event.Type) {
				h.drain(w, flusher, engine, events)
				return
			}
		}
	}
}

// drain 在终止事件之后继续转发落库失败等尾随事件，直到生成协程退出。
func (h *Handler) drain(w http.ResponseWriter, flusher http.Flusher, engine *conversation.Engine, events *sink) {
	idle := make(chan struct{})
	go func() {
		engine.Wait()
		close(idle)
	}()

	for {
		select {
		case event := <-events.events:
			utils.SendSSEChunk(w, flusher, toResponse(event))
		case <-idle:
			for {
				select {
				case event := <-events.events:
					utils.SendSSEChunk(w, flusher, toResponse(event))
				default:
					return
				}
			}
		}
	}
}

func toResponse(event conversation.Event) StreamResponse {
	resp := StreamResponse{
		Event:     string(event.Type),
		SessionID: event.SessionID,
		MessageID: event.MessageID,
		Content:   event.Content,
		Error:     event.Error,
	}
	if isTerminal(event.Type) {
		resp.Finished = true
	}
	return resp
}
