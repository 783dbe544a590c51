// Package memory persists conversation history and reference knowledge in
// SQLite so suggestions and responses can draw on past context.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Snippet is one retrieved piece of context.
type Snippet struct {
	Source    string // "conversation" or "knowledge"
	Topic     string
	Content   string
	CreatedAt time.Time
}

// Store wraps the SQLite database. Methods are safe for concurrent use;
// database/sql serializes access.
type Store struct {
	db *sql.DB

	// knowledgeLimit caps knowledge rows per Query. -1 means no extra cap,
	// 0 disables the knowledge table entirely.
	knowledgeLimit int
}

const schema = `
CREATE TABLE IF NOT EXISTS exchanges (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_text  TEXT NOT NULL,
	reply_text TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS knowledge (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	topic      TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_exchanges_created ON exchanges(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_knowledge_topic ON knowledge(topic);
`

// Open creates or opens the database at path, creating parent directories
// and the schema as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, knowledgeLimit: -1}, nil
}

// SetKnowledgeLimit caps how many knowledge entries a Query may return.
// Zero removes knowledge from results; negative restores the default of
// filling the whole limit.
func (s *Store) SetKnowledgeLimit(n int) {
	if n < 0 {
		n = -1
	}
	s.knowledgeLimit = n
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// StoreExchange records one completed user/assistant turn.
func (s *Store) StoreExchange(ctx context.Context, userText, replyText string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exchanges (user_text, reply_text, created_at) VALUES (?, ?, ?)`,
		userText, replyText, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("store exchange: %w", err)
	}
	return nil
}

// StoreKnowledge records a reference fact under a topic.
func (s *Store) StoreKnowledge(ctx context.Context, topic, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO knowledge (topic, content, created_at) VALUES (?, ?, ?)`,
		topic, content, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("store knowledge: %w", err)
	}
	return nil
}

// Query returns up to limit snippets matching the topic, knowledge entries
// first, then conversation turns, each newest first. Matching is a simple
// substring search.
func (s *Store) Query(ctx context.Context, topic string, limit int) ([]Snippet, error) {
	pattern := "%" + strings.ToLower(strings.TrimSpace(topic)) + "%"

	knowledgeLimit := limit
	if s.knowledgeLimit >= 0 && s.knowledgeLimit < limit {
		knowledgeLimit = s.knowledgeLimit
	}

	var snippets []Snippet

	if knowledgeLimit > 0 {
		rows, err := s.db.QueryContext(ctx, `
			SELECT topic, content, created_at FROM knowledge
			WHERE lower(topic) LIKE ? OR lower(content) LIKE ?
			ORDER BY created_at DESC LIMIT ?`,
			pattern, pattern, knowledgeLimit)
		if err != nil {
			return nil, fmt.Errorf("query knowledge: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var sn Snippet
			var createdAt int64
			if err := rows.Scan(&sn.Topic, &sn.Content, &createdAt); err != nil {
				return nil, fmt.Errorf("scan knowledge: %w", err)
			}
			sn.Source = "knowledge"
			sn.CreatedAt = time.Unix(createdAt, 0)
			snippets = append(snippets, sn)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	if remaining := limit - len(snippets); remaining > 0 {
		convRows, err := s.db.QueryContext(ctx, `
			SELECT user_text, reply_text, created_at FROM exchanges
			WHERE lower(user_text) LIKE ? OR lower(reply_text) LIKE ?
			ORDER BY created_at DESC LIMIT ?`,
			pattern, pattern, remaining)
		if err != nil {
			return nil, fmt.Errorf("query exchanges: %w", err)
		}
		defer convRows.Close()
		for convRows.Next() {
			var userText, replyText string
			var createdAt int64
			if err := convRows.Scan(&userText, &replyText, &createdAt); err != nil {
				return nil, fmt.Errorf("scan exchange: %w", err)
			}
			snippets = append(snippets, Snippet{
				Source:    "conversation",
				Content:   fmt.Sprintf("User said: %s. You replied: %s", userText, replyText),
				CreatedAt: time.Unix(createdAt, 0),
			})
		}
		if err := convRows.Err(); err != nil {
			return nil, err
		}
	}

	return snippets, nil
}

// Recent returns the n most recent conversation turns, newest first. Used
// as the fallback when a topical query times out.
func (s *Store) Recent(ctx context.Context, n int) ([]Snippet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_text, reply_text, created_at FROM exchanges
		ORDER BY created_at DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var snippets []Snippet
	for rows.Next() {
		var userText, replyText string
		var createdAt int64
		if err := rows.Scan(&userText, &replyText, &createdAt); err != nil {
			return nil, fmt.Errorf("scan recent: %w", err)
		}
		snippets = append(snippets, Snippet{
			Source:    "conversation",
			Content:   fmt.Sprintf("User said: %s. You replied: %s", userText, replyText),
			CreatedAt: time.Unix(createdAt, 0),
		})
	}
	return snippets, rows.Err()
}
