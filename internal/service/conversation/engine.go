package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/zhouzirui/eray/backend/internal/model/chat"
	"github.com/zhouzirui/eray/backend/internal/model/llm"
	"github.com/zhouzirui/eray/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/eray/backend/internal/service/chat"
)

// ErrorPrefix marks assistant content produced from a failed generation.
const ErrorPrefix = "Error: "

// Endpoint opens a stream of text deltas for a completion request.
type Endpoint interface {
	Stream(ctx context.Context, req ai.Request) (*schema.StreamReader[string], error)
}

// Options configures an Engine.
type Options struct {
	Store    chatservice.Store
	Articles chatservice.ArticleStore
	Endpoint Endpoint
	// Registry validates model keys and picks the initial model. Optional.
	Registry     *llm.Registry
	Scope        chat.Scope
	SystemPrompt string
	ModelKey     string
	Listener     Listener
	// BaseContext bounds every generation the engine starts.
	BaseContext context.Context
	Now         func() time.Time
	NewID       func() string
}

type generation struct {
	token     uint64
	sessionID string
	cancel    context.CancelFunc
	// baseline is the session as this engine last read or wrote it.
	baseline chat.Session
	// create is set when the session row could not be created up front.
	create bool
}

// Engine owns one ConversationState. All operations are serialized; at most
// one generation runs at a time and a new one cancels the previous.
type Engine struct {
	store         chatservice.Store
	articles      chatservice.ArticleStore
	endpoint      Endpoint
	registry      *llm.Registry
	listener      Listener
	scope         chat.Scope
	baseCtx       context.Context
	env           Env
	defaultPrompt string

	mu     sync.Mutex
	state  ConversationState
	loaded chat.Session
	active *generation
	tokens uint64
	wg     sync.WaitGroup
}

// NewEngine creates an engine with an empty conversation.
func NewEngine(opts Options) *Engine {
	env := Env{Now: opts.Now, NewID: opts.NewID}
	if env.Now == nil {
		env.Now = func() time.Time { return time.Now().UTC() }
	}
	if env.NewID == nil {
		env.NewID = uuid.NewString
	}

	prompt := opts.SystemPrompt
	if prompt == "" {
		prompt = chat.DefaultSystemPrompt
	}

	modelKey := opts.ModelKey
	if modelKey == "" && opts.Registry != nil {
		if spec, ok := opts.Registry.Default(opts.Scope); ok {
			modelKey = spec.Key
		}
	}

	baseCtx := opts.BaseContext
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	return &Engine{
		store:         opts.Store,
		articles:      opts.Articles,
		endpoint:      opts.Endpoint,
		registry:      opts.Registry,
		listener:      opts.Listener,
		scope:         opts.Scope,
		baseCtx:       baseCtx,
		env:           env,
		defaultPrompt: prompt,
		state: ConversationState{
			SystemPrompt: prompt,
			ModelKey:     modelKey,
			Scope:        opts.Scope,
		},
	}
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() ConversationState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// Wait blocks until every started generation has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// ListSessions lists the sessions of the engine's scope.
func (e *Engine) ListSessions(ctx context.Context) ([]chat.Session, error) {
	return e.store.ListSessions(ctx, e.scope)
}

// NewConversation clears the active session. A running generation keeps
// going against its own session.
func (e *Engine) NewConversation() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.Session = nil
	e.state.Messages = nil
	e.state.PendingID = ""
	e.state.SystemPrompt = e.defaultPrompt
	e.emitSnapshot()
}

// StartFromArticle creates and activates a session whose system prompt
// carries the article.
func (e *Engine) StartFromArticle(ctx context.Context, articleID string) (chat.Session, error) {
	if e.articles == nil {
		return chat.Session{}, fmt.Errorf("%w: %s", chatservice.ErrArticleNotFound, articleID)
	}
	article, err := e.articles.GetArticle(ctx, articleID)
	if err != nil {
		return chat.Session{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.env.Now()
	session := chat.Session{
		ID:               e.env.NewID(),
		Title:            ArticleSessionTitle(article),
		SystemPrompt:     ArticleSystemPrompt(e.defaultPrompt, article),
		ModelKey:         e.state.ModelKey,
		ArticleContextID: article.ID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.store.SaveSession(ctx, session, nil, e.scope); err != nil {
		return chat.Session{}, fmt.Errorf("save article session: %w", err)
	}

	e.loaded = session
	e.state.Session = &session
	e.state.Messages = nil
	e.state.PendingID = ""
	e.state.SystemPrompt = session.SystemPrompt
	e.emitSnapshot()
	return session, nil
}

// Open loads a session and makes it active. A running generation for
// another session is not disturbed.
func (e *Engine) Open(ctx context.Context, sessionID string) error {
	session, messages, err := e.store.GetSession(ctx, sessionID, e.scope)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.loaded = session
	e.state.Session = &session
	e.state.Messages = messages
	e.state.PendingID = ""
	e.state.SystemPrompt = session.SystemPrompt
	if e.state.SystemPrompt == "" {
		e.state.SystemPrompt = e.defaultPrompt
	}
	if session.ModelKey != "" && e.modelAllowed(session.ModelKey) {
		e.state.ModelKey = session.ModelKey
	}
	e.emitSnapshot()
	return nil
}

// SetSystemPrompt changes the prompt used from the next generation on.
// It is saved with the session when that generation completes.
func (e *Engine) SetSystemPrompt(prompt string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.SystemPrompt = prompt
	if e.state.Session != nil {
		e.state.Session.SystemPrompt = prompt
	}
	e.emitSnapshot()
}

// SetModel selects the model for the next generation.
func (e *Engine) SetModel(key string) error {
	key = strings.TrimSpace(key)
	if key == "" || !e.modelAllowed(key) {
		return fmt.Errorf("%w: %s", ErrNoModel, key)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.ModelKey = key
	if e.state.Session != nil {
		e.state.Session.ModelKey = key
	}
	return nil
}

func (e *Engine) modelAllowed(key string) bool {
	if e.registry == nil {
		return true
	}
	_, err := e.registry.Resolve(key, e.scope)
	return err == nil
}

// DeleteSession removes a session. Deleting the active session clears the
// conversation and cancels its generation.
func (e *Engine) DeleteSession(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.DeleteSession(ctx, sessionID, e.scope); err != nil {
		return err
	}

	if e.active != nil && e.active.sessionID == sessionID {
		e.active.cancel()
	}
	if e.state.Session != nil && e.state.Session.ID == sessionID {
		e.clearSession()
	}
	e.emitSnapshot()
	return nil
}

// Stop cancels the running generation. It reports whether one was running.
// Text received so far stays on screen but is not saved. A stream that still
// runs to completion after Stop is kept like any finished reply.
func (e *Engine) Stop() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active == nil {
		return false
	}
	e.active.cancel()
	return true
}

// Send appends a user message with optional attachments and starts a
// generation.
func (e *Engine) Send(ctx context.Context, text string, articles []chat.ArticleRef) error {
	return e.apply(ctx, func(s ConversationState) (ConversationState, GenerateEffect, error) {
		return s.Send(e.env, text, articles)
	})
}

// Regenerate replaces the assistant turn at index with a new reply.
func (e *Engine) Regenerate(ctx context.Context, index int) error {
	return e.apply(ctx, func(s ConversationState) (ConversationState, GenerateEffect, error) {
		return s.Regenerate(e.env, index)
	})
}

// EditAndResubmit rewrites a user message and generates a new reply to it.
func (e *Engine) EditAndResubmit(ctx context.Context, messageID, text string, input EditInput) error {
	return e.apply(ctx, func(s ConversationState) (ConversationState, GenerateEffect, error) {
		return s.Edit(e.env, messageID, text, input)
	})
}

// ResolveArticles loads attachments by id.
func (e *Engine) ResolveArticles(ctx context.Context, ids []string) ([]chat.ArticleRef, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if e.articles == nil {
		return nil, chatservice.ErrArticleNotFound
	}

	refs := make([]chat.ArticleRef, 0, len(ids))
	for _, id := range ids {
		article, err := e.articles.GetArticle(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("attachment %s: %w", id, err)
		}
		if !e.scope.IsAdmin() && !article.IsPublished {
			return nil, fmt.Errorf("attachment %s: %w", id, chatservice.ErrArticleNotFound)
		}
		refs = append(refs, article.Ref())
	}
	return refs, nil
}

func (e *Engine) apply(ctx context.Context, transition func(ConversationState) (ConversationState, GenerateEffect, error)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next, effect, err := transition(e.state)
	if err != nil {
		return err
	}

	if e.active != nil {
		// 新的生成总是抢占旧的生成，旧生成不会再写入状态或落库。
		e.active.cancel()
	}
	e.state = next

	baseline := effect.Session
	if e.loaded.ID == effect.SessionID {
		baseline = e.loaded
	}
	create := false
	if effect.CreateSession {
		if err := e.store.SaveSession(ctx, effect.Session, nil, effect.Scope); err != nil {
			log.Printf("[engine] failed to create session=%s: %v", effect.SessionID, err)
			e.emit(Event{Type: EventPersistFailed, SessionID: effect.SessionID, Error: err.Error()})
			create = true
		} else {
			e.loaded = effect.Session
		}
	}

	e.emitSnapshot()
	e.start(effect, baseline, create)
	return nil
}

// start launches the generation goroutine. Caller holds e.mu.
func (e *Engine) start(effect GenerateEffect, baseline chat.Session, create bool) {
	ctx, cancel := context.WithCancel(e.baseCtx)
	e.tokens++
	gen := &generation{token: e.tokens, sessionID: effect.SessionID, cancel: cancel, baseline: baseline, create: create}
	e.active = gen

	log.Printf("[engine] generation start session=%s model=%s history=%d", effect.SessionID, effect.ModelKey, len(effect.History))

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()
		content, err := e.run(ctx, gen, effect)
		e.finish(ctx, gen, effect, content, err)
	}()
}

func (e *Engine) run(ctx context.Context, gen *generation, effect GenerateEffect) (string, error) {
	stream, err := e.endpoint.Stream(ctx, ai.Request{
		ModelKey: effect.ModelKey,
		Scope:    effect.Scope,
		Messages: ai.BuildMessages(effect.SystemPrompt, effect.History),
	})
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var builder strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return builder.String(), nil
		}
		if err != nil {
			return builder.String(), err
		}
		if ctx.Err() != nil {
			return builder.String(), ctx.Err()
		}

		builder.WriteString(chunk)
		e.applyDelta(gen, effect, builder.String())
	}
}

// applyDelta overwrites the placeholder with the accumulated text when
// the generation is still current and its session is on screen.
func (e *Engine) applyDelta(gen *generation, effect GenerateEffect, content string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active != gen {
		return
	}
	if e.state.Session != nil && e.state.Session.ID == effect.SessionID {
		e.setMessageContent(effect.Placeholder.ID, content)
	}
	e.emit(Event{Type: EventDelta, SessionID: effect.SessionID, MessageID: effect.Placeholder.ID, Content: content})
}

func (e *Engine) setMessageContent(messageID, content string) bool {
	for i := range e.state.Messages {
		if e.state.Messages[i].ID == messageID {
			e.state.Messages[i].Content = content
			return true
		}
	}
	return false
}

func (e *Engine) finish(ctx context.Context, gen *generation, effect GenerateEffect, content string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active != gen {
		// 被抢占：新生成已经接管状态。
		log.Printf("[engine] generation pre-empted session=%s", effect.SessionID)
		return
	}
	e.active = nil
	e.state.Generating = false

	// 流已经完整结束时，迟到的 Stop 不再丢弃回复。
	if errors.Is(err, ai.ErrCanceled) || (err != nil && ctx.Err() != nil) {
		e.settleCanceled(effect)
		log.Printf("[engine] generation canceled session=%s", effect.SessionID)
		e.emit(Event{Type: EventCanceled, SessionID: effect.SessionID, MessageID: effect.Placeholder.ID})
		e.emitSnapshot()
		return
	}

	eventType := EventDone
	if err != nil {
		log.Printf("[engine] generation failed session=%s: %v", effect.SessionID, err)
		content = ErrorPrefix + errorText(err)
		eventType = EventError
	} else {
		log.Printf("[engine] generation done session=%s length=%d", effect.SessionID, len(content))
	}

	final := chat.CloneMessages(effect.History)
	assistant := effect.Placeholder
	assistant.Content = content
	final = append(final, assistant)

	onScreen := e.isActive(effect.SessionID)
	patch := e.sessionPatch(gen, effect, final, onScreen)

	if onScreen {
		e.state.Messages = chat.CloneMessages(final)
		e.state.PendingID = ""
		e.state.Session.UpdatedAt = patch.UpdatedAt
		e.state.Session.ModelKey = effect.ModelKey
		if patch.AutoTitle != "" && e.state.Session.HasPlaceholderTitle() {
			e.state.Session.Title = patch.AutoTitle
		}
	}

	event := Event{Type: eventType, SessionID: effect.SessionID, MessageID: assistant.ID, Content: content}
	if err != nil {
		event.Error = err.Error()
	}
	e.emit(event)

	e.persist(context.WithoutCancel(ctx), gen, effect, patch, final)
	e.emitSnapshot()
}

// sessionPatch 只包含这次生成真正改变的字段，生成期间通过别的入口
// 修改的标题和提示词不会被覆盖。
func (e *Engine) sessionPatch(gen *generation, effect GenerateEffect, final []chat.Message, onScreen bool) chatservice.SessionPatch {
	modelKey := effect.ModelKey
	patch := chatservice.SessionPatch{ModelKey: &modelKey, UpdatedAt: e.env.Now()}

	prompt := effect.Session.SystemPrompt
	if onScreen {
		prompt = e.state.Session.SystemPrompt
	}
	if prompt != gen.baseline.SystemPrompt {
		patch.SystemPrompt = &prompt
	}
	if gen.baseline.HasPlaceholderTitle() {
		if title, ok := DeriveTitle(final); ok {
			patch.AutoTitle = title
		}
	}
	return patch
}

// persist writes the finished turn. Caller holds e.mu.
func (e *Engine) persist(ctx context.Context, gen *generation, effect GenerateEffect, patch chatservice.SessionPatch, final []chat.Message) {
	if gen.create {
		session := effect.Session
		session.ModelKey = *patch.ModelKey
		session.UpdatedAt = patch.UpdatedAt
		if patch.SystemPrompt != nil {
			session.SystemPrompt = *patch.SystemPrompt
		}
		if patch.AutoTitle != "" {
			session.Title = patch.AutoTitle
		}
		if err := e.store.SaveSession(ctx, session, final, effect.Scope); err != nil {
			e.persistFailed(effect.SessionID, err)
			return
		}
		if e.isActive(effect.SessionID) {
			e.loaded = session
		}
		return
	}

	session, err := e.store.UpdateSession(ctx, effect.SessionID, patch, final, effect.Scope)
	switch {
	case errors.Is(err, chatservice.ErrSessionNotFound):
		// 会话在生成期间被删除，不再写回。
		log.Printf("[engine] session=%s deleted during generation, reply dropped", effect.SessionID)
		if e.isActive(effect.SessionID) {
			e.clearSession()
		}
	case err != nil:
		e.persistFailed(effect.SessionID, err)
	default:
		if e.isActive(effect.SessionID) {
			e.loaded = session
			e.state.Session.Title = session.Title
		}
	}
}

func (e *Engine) isActive(sessionID string) bool {
	return e.state.Session != nil && e.state.Session.ID == sessionID
}

// persistFailed 落库失败不回滚内存中的对话。
func (e *Engine) persistFailed(sessionID string, err error) {
	log.Printf("[engine] failed to persist session=%s: %v", sessionID, err)
	e.emit(Event{Type: EventPersistFailed, SessionID: sessionID, Error: err.Error()})
}

// clearSession drops the active session. Caller holds e.mu.
func (e *Engine) clearSession() {
	e.state.Session = nil
	e.state.Messages = nil
	e.state.PendingID = ""
	e.state.SystemPrompt = e.defaultPrompt
}

// settleCanceled keeps the partial reply of a stopped generation as a
// normal message, or removes the placeholder if nothing arrived.
func (e *Engine) settleCanceled(effect GenerateEffect) {
	if e.state.PendingID != effect.Placeholder.ID {
		return
	}
	for i, msg := range e.state.Messages {
		if msg.ID == effect.Placeholder.ID && msg.Content == "" {
			e.state.Messages = append(e.state.Messages[:i], e.state.Messages[i+1:]...)
			break
		}
	}
	e.state.PendingID = ""
}

func errorText(err error) string {
	var streamErr *ai.StreamError
	if errors.As(err, &streamErr) && streamErr.Err != nil {
		return streamErr.Err.Error()
	}
	return err.Error()
}

func (e *Engine) emit(event Event) {
	if e.listener != nil {
		e.listener(event)
	}
}

func (e *Engine) emitSnapshot() {
	if e.listener == nil {
		return
	}
	state := e.state.Clone()
	sessionID := ""
	if state.Session != nil {
		sessionID = state.Session.ID
	}
	e.listener(Event{Type: EventSnapshot, SessionID: sessionID, State: &state})
}
