// Package store persists conversations, messages, and the knowledge-base
// corpus in a local sqlite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/conduitlabs/conduit/internal/toolreg"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL DEFAULT '',
	provider   TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	tool_calls      TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);
CREATE TABLE IF NOT EXISTS documents (
	id    TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	body  TEXT NOT NULL
);
`

// Store wraps the sqlite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path. ":memory:" gives
// an ephemeral store for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// sqlite allows one writer; serialize access through a single conn.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// CreateOrGetConversation returns the id of an existing conversation or
// creates a new one. An empty id always creates.
func (s *Store) CreateOrGetConversation(ctx context.Context, id, userID, providerName string) (string, error) {
	if id != "" {
		var existing string
		err := s.db.QueryRowContext(ctx,
			`SELECT id FROM conversations WHERE id = ?`, id).Scan(&existing)
		switch {
		case err == nil:
			return existing, nil
		case err != sql.ErrNoRows:
			return "", fmt.Errorf("lookup conversation: %w", err)
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, provider, created_at) VALUES (?, ?, ?, ?)`,
		id, userID, providerName, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	return id, nil
}

// SaveMessage appends one message to a conversation. toolCalls, when
// non-nil, is stored as a JSON audit record alongside the content.
func (s *Store) SaveMessage(ctx context.Context, conversationID, role, content string, toolCalls any) error {
	var callsJSON string
	if toolCalls != nil {
		b, err := json.Marshal(toolCalls)
		if err != nil {
			return fmt.Errorf("marshal tool calls: %w", err)
		}
		callsJSON = string(b)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, role, content, tool_calls, created_at) VALUES (?, ?, ?, ?, ?)`,
		conversationID, role, content, callsJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

// StoredMessage is one persisted conversation message.
type StoredMessage struct {
	Role      string
	Content   string
	ToolCalls string // raw JSON audit record, may be empty
	CreatedAt time.Time
}

// Messages returns a conversation's messages in insertion order.
func (s *Store) Messages(ctx context.Context, conversationID string) ([]StoredMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, tool_calls, created_at FROM messages WHERE conversation_id = ? ORDER BY id`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []StoredMessage
	for rows.Next() {
		var m StoredMessage
		if err := rows.Scan(&m.Role, &m.Content, &m.ToolCalls, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AddDocument inserts or replaces one knowledge-base document.
func (s *Store) AddDocument(ctx context.Context, id, title, body string) error {
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO documents (id, title, body) VALUES (?, ?, ?)`,
		id, title, body)
	if err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// SearchDocuments runs a case-insensitive substring search over titles
// and bodies, returning up to limit hits with a short snippet each.
func (s *Store) SearchDocuments(ctx context.Context, query string, limit int) ([]toolreg.SearchHit, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + strings.ToLower(query) + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, body FROM documents
		 WHERE lower(title) LIKE ? OR lower(body) LIKE ?
		 ORDER BY title LIMIT ?`,
		pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	var hits []toolreg.SearchHit
	for rows.Next() {
		var id, title, body string
		if err := rows.Scan(&id, &title, &body); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		hits = append(hits, toolreg.SearchHit{
			ID:      id,
			Title:   title,
			Snippet: snippet(body, query),
		})
	}
	return hits, rows.Err()
}

// snippet returns a window of body text around the first query match.
func snippet(body, query string) string {
	const window = 160
	idx := strings.Index(strings.ToLower(body), strings.ToLower(query))
	if idx < 0 {
		idx = 0
	}
	start := idx - window/4
	if start < 0 {
		start = 0
	}
	end := start + window
	if end > len(body) {
		end = len(body)
	}
	snip := strings.TrimSpace(body[start:end])
	if end < len(body) {
		snip += "…"
	}
	return snip
}
