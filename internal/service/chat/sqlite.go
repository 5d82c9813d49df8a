package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	_ "modernc.org/sqlite"

	"github.com/zhouzirui/eray/backend/internal/model/chat"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS chat_sessions (
		scope INTEGER NOT NULL,
		id TEXT NOT NULL,
		title TEXT NOT NULL,
		system_prompt TEXT NOT NULL,
		model_key TEXT NOT NULL DEFAULT '',
		article_context_id TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (scope, id)
	)`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
		scope INTEGER NOT NULL,
		session_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (scope, session_id, position),
		FOREIGN KEY (scope, session_id) REFERENCES chat_sessions(scope, id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_sessions_updated ON chat_sessions(scope, updated_at DESC)`,
	`CREATE TABLE IF NOT EXISTS articles (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		is_published INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
}

// SQLiteStore persists sessions in a SQLite database through the pure Go
// modernc driver.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) the database at path. ":memory:" gives a
// private in-memory database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// 内存库每个连接都是独立的数据库，写操作也需要串行。
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[store] sqlite ready at %s", path)
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	for _, stmt := range migrations {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ListSessions returns the scope's sessions, most recently updated first.
func (s *SQLiteStore) ListSessions(ctx context.Context, scope chat.Scope) ([]chat.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, system_prompt, model_key, article_context_id, created_at, updated_at
		FROM chat_sessions WHERE scope = ?
		ORDER BY updated_at DESC, id ASC`, int(scope))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]chat.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// GetSession loads a session with its ordered messages.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string, scope chat.Scope) (chat.Session, []chat.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, system_prompt, model_key, article_context_id, created_at, updated_at
		FROM chat_sessions WHERE scope = ? AND id = ?`, int(scope), sessionID)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Session{}, nil, ErrSessionNotFound
	}
	if err != nil {
		return chat.Session{}, nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, created_at
		FROM chat_messages WHERE scope = ? AND session_id = ?
		ORDER BY position ASC`, int(scope), sessionID)
	if err != nil {
		return chat.Session{}, nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	messages := make([]chat.Message, 0)
	for rows.Next() {
		var (
			msg     chat.Message
			role    string
			created int64
		)
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &created); err != nil {
			return chat.Session{}, nil, fmt.Errorf("scan message: %w", err)
		}
		msg.SessionID = sessionID
		msg.Role = chat.Role(role)
		msg.CreatedAt = fromUnixNano(created)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return chat.Session{}, nil, err
	}
	return session, messages, nil
}

// SaveSession upserts the session and rewrites its messages in one
// transaction.
func (s *SQLiteStore) SaveSession(ctx context.Context, session chat.Session, messages []chat.Message, scope chat.Scope) error {
	owned, err := validateSave(session, messages)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chat_sessions (scope, id, title, system_prompt, model_key, article_context_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scope, id) DO UPDATE SET
			title = excluded.title,
			system_prompt = excluded.system_prompt,
			model_key = excluded.model_key,
			article_context_id = excluded.article_context_id,
			updated_at = excluded.updated_at`,
		int(scope), session.ID, session.Title, session.SystemPrompt, session.ModelKey,
		session.ArticleContextID, toUnixNano(session.CreatedAt), toUnixNano(session.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	if err := replaceMessages(ctx, tx, session.ID, owned, scope); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// UpdateSession patches an existing session inside one transaction. It
// never inserts the session row, so a concurrent delete wins.
func (s *SQLiteStore) UpdateSession(ctx context.Context, sessionID string, patch SessionPatch, messages []chat.Message, scope chat.Scope) (chat.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return chat.Session{}, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx, `
		SELECT id, title, system_prompt, model_key, article_context_id, created_at, updated_at
		FROM chat_sessions WHERE scope = ? AND id = ?`, int(scope), sessionID)
	current, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return chat.Session{}, err
	}

	session := patch.apply(current)
	_, err = tx.ExecContext(ctx, `
		UPDATE chat_sessions SET title = ?, system_prompt = ?, model_key = ?, updated_at = ?
		WHERE scope = ? AND id = ?`,
		session.Title, session.SystemPrompt, session.ModelKey, toUnixNano(session.UpdatedAt), int(scope), sessionID)
	if err != nil {
		return chat.Session{}, fmt.Errorf("update session: %w", err)
	}

	if messages != nil {
		owned, err := validateSave(session, messages)
		if err != nil {
			return chat.Session{}, err
		}
		if err := replaceMessages(ctx, tx, sessionID, owned, scope); err != nil {
			return chat.Session{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return chat.Session{}, fmt.Errorf("commit update: %w", err)
	}
	return session, nil
}

// replaceMessages rewrites the whole message list of a session.
func replaceMessages(ctx context.Context, tx *sql.Tx, sessionID string, messages []chat.Message, scope chat.Scope) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE scope = ? AND session_id = ?`, int(scope), sessionID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chat_messages (scope, session_id, position, id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare message insert: %w", err)
	}
	defer stmt.Close()

	for i, msg := range messages {
		if _, err := stmt.ExecContext(ctx, int(scope), sessionID, i, msg.ID, string(msg.Role), msg.Content, toUnixNano(msg.CreatedAt)); err != nil {
			return fmt.Errorf("insert message %d: %w", i, err)
		}
	}
	return nil
}

// DeleteSession removes a session; its messages go with it.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string, scope chat.Scope) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE scope = ? AND id = ?`, int(scope), sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// GetArticle looks up one article by id.
func (s *SQLiteStore) GetArticle(ctx context.Context, articleID string) (chat.Article, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, summary, content, tags, is_published, created_at, updated_at
		FROM articles WHERE id = ?`, articleID)
	article, err := scanArticle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Article{}, ErrArticleNotFound
	}
	return article, err
}

// ListArticles returns articles newest first.
func (s *SQLiteStore) ListArticles(ctx context.Context, publishedOnly bool) ([]chat.Article, error) {
	query := `SELECT id, title, summary, content, tags, is_published, created_at, updated_at FROM articles`
	if publishedOnly {
		query += ` WHERE is_published = 1`
	}
	query += ` ORDER BY created_at DESC, id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	defer rows.Close()

	articles := make([]chat.Article, 0)
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, article)
	}
	return articles, rows.Err()
}

// SaveArticle inserts or replaces an article, assigning an id when empty.
func (s *SQLiteStore) SaveArticle(ctx context.Context, article chat.Article) (chat.Article, error) {
	article = prepareArticle(article)

	tags, err := sonic.MarshalString(article.Tags)
	if err != nil {
		return chat.Article{}, fmt.Errorf("encode tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO articles (id, title, summary, content, tags, is_published, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			summary = excluded.summary,
			content = excluded.content,
			tags = excluded.tags,
			is_published = excluded.is_published,
			updated_at = excluded.updated_at`,
		article.ID, article.Title, article.Summary, article.Content, tags,
		boolToInt(article.IsPublished), toUnixNano(article.CreatedAt), toUnixNano(article.UpdatedAt))
	if err != nil {
		return chat.Article{}, fmt.Errorf("save article: %w", err)
	}
	return article, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (chat.Session, error) {
	var (
		session          chat.Session
		created, updated int64
	)
	err := row.Scan(&session.ID, &session.Title, &session.SystemPrompt, &session.ModelKey,
		&session.ArticleContextID, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return chat.Session{}, err
		}
		return chat.Session{}, fmt.Errorf("scan session: %w", err)
	}
	session.CreatedAt = fromUnixNano(created)
	session.UpdatedAt = fromUnixNano(updated)
	return session, nil
}

func scanArticle(row scanner) (chat.Article, error) {
	var (
		article          chat.Article
		tags             string
		published        int
		created, updated int64
	)
	err := row.Scan(&article.ID, &article.Title, &article.Summary, &article.Content,
		&tags, &published, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return chat.Article{}, err
		}
		return chat.Article{}, fmt.Errorf("scan article: %w", err)
	}

	article.Tags = []string{}
	if err := sonic.UnmarshalString(tags, &article.Tags); err != nil {
		log.Printf("[store] article %s has unreadable tags: %v", article.ID, err)
		article.Tags = []string{}
	}
	article.IsPublished = published != 0
	article.CreatedAt = fromUnixNano(created)
	article.UpdatedAt = fromUnixNano(updated)
	return article, nil
}

func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v).UTC()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
