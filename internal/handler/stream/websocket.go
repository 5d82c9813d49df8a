package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/eray/backend/internal/handler/apierr"
	"github.com/zhouzirui/eray/backend/internal/middleware"
	"github.com/zhouzirui/eray/backend/internal/model/chat"
	"github.com/zhouzirui/eray/backend/internal/service/conversation"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// Limiter 限制公共层级发起生成的频率。
type Limiter interface {
	Allow(key string) bool
}

// WebSocketHandler 实时聊天通道，每个连接持有一个独立的引擎
type WebSocketHandler struct {
	engines  *conversation.Factory
	limiter  Limiter
	upgrader websocket.Upgrader
}

// NewWebSocketHandler 创建WebSocket处理器。checkOrigin 与 limiter 可以为空
func NewWebSocketHandler(engines *conversation.Factory, limiter Limiter, checkOrigin func(*http.Request) bool) *WebSocketHandler {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &WebSocketHandler{
		engines: engines,
		limiter: limiter,
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/chat/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// commandData 覆盖所有入站帧的字段，每种帧只使用其中一部分。
type commandData struct {
	SessionID   string   `json:"sessionId"`
	ArticleID   string   `json:"articleId"`
	Text        string   `json:"text"`
	ArticleIDs  []string `json:"articleIds"`
	Index       *int     `json:"index"`
	MessageID   string   `json:"messageId"`
	KeepContext bool     `json:"keepContext"`
	Prompt      string   `json:"prompt"`
	Key         string   `json:"key"`
}

// connection 是一个 websocket 连接的运行状态。所有写操作都经过 writeLoop。
type connection struct {
	conn     *websocket.Conn
	engine   *conversation.Engine
	events   *sink
	outbox   chan outgoingMessage
	scope    chat.Scope
	clientIP string
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	scope := middleware.ScopeFrom(r.Context())
	events := newSink(true)
	c := &connection{
		conn:     conn,
		events:   events,
		outbox:   make(chan outgoingMessage, 16),
		scope:    scope,
		clientIP: middleware.ClientIP(r),
	}
	c.engine = h.engines.New(ctx, scope, events.listen)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()

	log.Printf("[websocket] new connection scope=%s", scope)
	c.send(outgoingMessage{Type: "connected", Data: map[string]any{"scope": scope.String()}})
	c.send(outgoingMessage{Type: "snapshot", Data: c.engine.Snapshot()})

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[websocket] read error: %v", err)
			}
			break
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		var msg inboundMessage
		if err := sonic.Unmarshal(raw, &msg); err != nil {
			c.sendError("invalid frame")
			continue
		}
		h.handleMessage(ctx, c, msg)
	}

	// 连接关闭：取消进行中的生成并等待其退出，再停止写循环。
	cancel()
	events.close()
	c.engine.Wait()
	<-writerDone
	log.Printf("[websocket] connection closed scope=%s", scope)
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, c *connection, msg inboundMessage) {
	var data commandData
	if len(msg.Data) > 0 {
		if err := sonic.Unmarshal(msg.Data, &data); err != nil {
			c.sendError("invalid " + msg.Type + " payload")
			return
		}
	}

	var err error
	switch msg.Type {
	case "list":
		var sessions []chat.Session
		if sessions, err = c.engine.ListSessions(ctx); err == nil {
			c.send(outgoingMessage{Type: "sessions", Data: sessions})
		}
	case "open":
		err = c.engine.Open(ctx, data.SessionID)
	case "new":
		if data.ArticleID != "" {
			_, err = c.engine.StartFromArticle(ctx, data.ArticleID)
		} else {
			c.engine.NewConversation()
		}
	case "send", "regenerate", "edit":
		if !h.allow(c) {
			c.sendError("rate limit exceeded, please retry later")
			return
		}
		err = h.generate(ctx, c, msg.Type, data)
	case "stop":
		c.engine.Stop()
	case "delete":
		err = c.engine.DeleteSession(ctx, data.SessionID)
	case "system_prompt":
		c.engine.SetSystemPrompt(data.Prompt)
	case "model":
		err = c.engine.SetModel(data.Key)
	default:
		c.sendError("unsupported message type: " + msg.Type)
		return
	}

	if err != nil {
		if apierr.Status(err) == http.StatusInternalServerError {
			log.Printf("[websocket] %s failed: %v", msg.Type, err)
			c.sendError(msg.Type + " failed")
			return
		}
		c.sendError(err.Error())
	}
}

func (h *WebSocketHandler) generate(ctx context.Context, c *connection, action string, data commandData) error {
	return dispatch(ctx, c.engine, ChatRequest{
		Action:      action,
		Text:        data.Text,
		ArticleIDs:  data.ArticleIDs,
		Index:       data.Index,
		MessageID:   data.MessageID,
		KeepContext: data.KeepContext,
	})
}

func (h *WebSocketHandler) allow(c *connection) bool {
	if h.limiter == nil || c.scope.IsAdmin() {
		return true
	}
	return h.limiter.Allow(c.clientIP)
}

// send 投递一条非引擎事件的消息。
func (c *connection) send(msg outgoingMessage) {
	select {
	case c.outbox <- msg:
	case <-c.events.closed:
	}
}

func (c *connection) sendError(message string) {
	c.send(outgoingMessage{Type: "command_error", Data: map[string]string{"message": message}})
}

// writeLoop 是连接唯一的写入者，同时负责心跳。写失败时关闭连接，
// 让读循环退出，并停止向引擎监听器收取事件。
func (c *connection) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.conn.Close()
	defer c.events.close()

	for {
		var msg outgoingMessage
		select {
		case <-c.events.closed:
			c.flushEvents()
			c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
			continue
		case event := <-c.events.events:
			msg = eventMessage(event)
		case msg = <-c.outbox:
		}

		if err := c.write(msg); err != nil {
			log.Printf("[websocket] write failed: %v", err)
			return
		}
	}
}

// flushEvents 尽力写出关闭前已排队的事件。
func (c *connection) flushEvents() {
	for {
		select {
		case event := <-c.events.events:
			if c.write(eventMessage(event)) != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *connection) write(msg outgoingMessage) error {
	msg.Timestamp = time.Now().Unix()
	payload, err := sonic.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", msg.Type, err)
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func eventMessage(event conversation.Event) outgoingMessage {
	if event.Type == conversation.EventSnapshot && event.State != nil {
		return outgoingMessage{Type: string(event.Type), SessionID: event.SessionID, Data: event.State}
	}
	return outgoingMessage{Type: string(event.Type), SessionID: event.SessionID, Data: event}
}
