package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/eray/backend/internal/model/chat"
)

type sessionKey struct {
	scope chat.Scope
	id    string
}

// MemoryStore keeps sessions and articles in process memory. It is used by
// tests and by STORE_DRIVER=memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[sessionKey]chat.Session
	messages map[sessionKey][]chat.Message
	articles map[string]chat.Article
}

// NewMemoryStore bootstraps an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[sessionKey]chat.Session),
		messages: make(map[sessionKey][]chat.Message),
		articles: make(map[string]chat.Article),
	}
}

// ListSessions returns the scope's sessions, most recently updated first.
func (s *MemoryStore) ListSessions(_ context.Context, scope chat.Scope) ([]chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]chat.Session, 0, len(s.sessions))
	for key, session := range s.sessions {
		if key.scope == scope {
			result = append(result, session)
		}
	}
	sortSessions(result)
	return result, nil
}

// GetSession retrieves a session and a copy of its messages.
func (s *MemoryStore) GetSession(_ context.Context, sessionID string, scope chat.Scope) (chat.Session, []chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := sessionKey{scope: scope, id: sessionID}
	session, ok := s.sessions[key]
	if !ok {
		return chat.Session{}, nil, ErrSessionNotFound
	}

	copied := make([]chat.Message, len(s.messages[key]))
	copy(copied, s.messages[key])
	return session, copied, nil
}

// SaveSession replaces the session and its whole message list.
func (s *MemoryStore) SaveSession(_ context.Context, session chat.Session, messages []chat.Message, scope chat.Scope) error {
	owned, err := validateSave(session, messages)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionKey{scope: scope, id: session.ID}
	s.sessions[key] = session
	s.messages[key] = owned
	return nil
}

// UpdateSession patches an existing session and, when messages is not
// nil, replaces its history.
func (s *MemoryStore) UpdateSession(_ context.Context, sessionID string, patch SessionPatch, messages []chat.Message, scope chat.Scope) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionKey{scope: scope, id: sessionID}
	session, ok := s.sessions[key]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	session = patch.apply(session)

	if messages != nil {
		owned, err := validateSave(session, messages)
		if err != nil {
			return chat.Session{}, err
		}
		s.messages[key] = owned
	}
	s.sessions[key] = session
	return session, nil
}

// DeleteSession removes a session and its messages.
func (s *MemoryStore) DeleteSession(_ context.Context, sessionID string, scope chat.Scope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionKey{scope: scope, id: sessionID}
	if _, ok := s.sessions[key]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, key)
	delete(s.messages, key)
	return nil
}

// GetArticle looks up one article by id.
func (s *MemoryStore) GetArticle(_ context.Context, articleID string) (chat.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	article, ok := s.articles[articleID]
	if !ok {
		return chat.Article{}, ErrArticleNotFound
	}
	return article, nil
}

// ListArticles returns articles newest first.
func (s *MemoryStore) ListArticles(_ context.Context, publishedOnly bool) ([]chat.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]chat.Article, 0, len(s.articles))
	for _, article := range s.articles {
		if publishedOnly && !article.IsPublished {
			continue
		}
		result = append(result, article)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// SaveArticle inserts or replaces an article, assigning an id when empty.
func (s *MemoryStore) SaveArticle(_ context.Context, article chat.Article) (chat.Article, error) {
	article = prepareArticle(article)

	s.mu.Lock()
	s.articles[article.ID] = article
	s.mu.Unlock()

	return article, nil
}

func prepareArticle(article chat.Article) chat.Article {
	now := time.Now().UTC()
	if article.ID == "" {
		article.ID = uuid.NewString()
	}
	if article.CreatedAt.IsZero() {
		article.CreatedAt = now
	}
	if article.UpdatedAt.IsZero() {
		article.UpdatedAt = article.CreatedAt
	}
	if article.Tags == nil {
		article.Tags = []string{}
	}
	return article
}

func sortSessions(sessions []chat.Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].UpdatedAt.Equal(sessions[j].UpdatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
}
