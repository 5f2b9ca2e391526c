package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/neboloop/nexus/internal/ai"
)

// ErrDatabaseRequired is returned when a manager is built without a connection.
var ErrDatabaseRequired = errors.New("database connection required")

// ChatSession is a stored conversation.
type ChatSession struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionMessage is one stored turn of a conversation.
type SessionMessage struct {
	ID          int64           `json:"id"`
	SessionID   string          `json:"session_id"`
	Role        string          `json:"role"` // user, model
	Content     string          `json:"content"`
	Attachments []ai.Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// SessionManager persists conversations in the sessions/session_messages tables.
type SessionManager struct {
	db *sql.DB
}

// NewSessionManager creates a session manager from a Store
func NewSessionManager(store *Store) *SessionManager {
	return &SessionManager{db: store.db}
}

// NewSessionManagerFromDB creates a session manager from a raw database connection
func NewSessionManagerFromDB(sqlDB *sql.DB) (*SessionManager, error) {
	if sqlDB == nil {
		return nil, ErrDatabaseRequired
	}
	return &SessionManager{db: sqlDB}, nil
}

// Create starts a new session. An empty id gets a generated UUID.
func (m *SessionManager) Create(ctx context.Context, id, title string) (*ChatSession, error) {
	if id == "" {
		id = uuid.New().String()
	}
	if title == "" {
		title = "New Chat"
	}
	now := time.Now().Unix()
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO sessions (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		id, title, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return &ChatSession{ID: id, Title: title, CreatedAt: time.Unix(now, 0), UpdatedAt: time.Unix(now, 0)}, nil
}

// GetOrCreate returns an existing session or creates one with the given id.
func (m *SessionManager) GetOrCreate(ctx context.Context, id, title string) (*ChatSession, error) {
	s, err := m.Get(ctx, id)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return m.Create(ctx, id, title)
}

// Get returns a session by id. Returns sql.ErrNoRows if it doesn't exist.
func (m *SessionManager) Get(ctx context.Context, id string) (*ChatSession, error) {
	var s ChatSession
	var createdAt, updatedAt int64
	err := m.db.QueryRowContext(ctx,
		`SELECT id, title, created_at, updated_at FROM sessions WHERE id = ?`, id,
	).Scan(&s.ID, &s.Title, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	s.CreatedAt = time.Unix(createdAt, 0)
	s.UpdatedAt = time.Unix(updatedAt, 0)
	return &s, nil
}

// List returns sessions, most recently updated first.
func (m *SessionManager) List(ctx context.Context, limit int) ([]ChatSession, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, title, created_at, updated_at FROM sessions ORDER BY updated_at DESC, id LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []ChatSession
	for rows.Next() {
		var s ChatSession
		var createdAt, updatedAt int64
		if err := rows.Scan(&s.ID, &s.Title, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		s.CreatedAt = time.Unix(createdAt, 0)
		s.UpdatedAt = time.Unix(updatedAt, 0)
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Delete removes a session and its messages.
func (m *SessionManager) Delete(ctx context.Context, id string) error {
	_, err := m.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// AppendMessage stores a turn at the end of the session, creating the session if needed.
func (m *SessionManager) AppendMessage(ctx context.Context, sessionID string, turn ai.Turn) error {
	if _, err := m.GetOrCreate(ctx, sessionID, titleFrom(turn)); err != nil {
		return err
	}

	var attachments sql.NullString
	if len(turn.Attachments) > 0 {
		data, err := json.Marshal(turn.Attachments)
		if err != nil {
			return fmt.Errorf("failed to encode attachments: %w", err)
		}
		attachments = sql.NullString{String: string(data), Valid: true}
	}

	now := time.Now().Unix()
	if _, err := m.db.ExecContext(ctx,
		`INSERT INTO session_messages (session_id, role, content, attachments, created_at) VALUES (?, ?, ?, ?, ?)`,
		sessionID, turn.Role, turn.Text, attachments, now,
	); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	_, err := m.db.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, now, sessionID)
	return err
}

// GetMessages returns the stored messages of a session in order.
func (m *SessionManager) GetMessages(ctx context.Context, sessionID string) ([]SessionMessage, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, attachments, created_at
		 FROM session_messages WHERE session_id = ? ORDER BY id`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []SessionMessage
	for rows.Next() {
		var msg SessionMessage
		var attachments sql.NullString
		var createdAt int64
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &attachments, &createdAt); err != nil {
			return nil, err
		}
		if attachments.Valid && attachments.String != "" {
			if err := json.Unmarshal([]byte(attachments.String), &msg.Attachments); err != nil {
				return nil, fmt.Errorf("message %d: bad attachments: %w", msg.ID, err)
			}
		}
		msg.CreatedAt = time.Unix(createdAt, 0)
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// GetHistory returns the prior turns of a session. Unknown or blank ids yield an empty history.
func (m *SessionManager) GetHistory(ctx context.Context, sessionID string) ([]ai.Turn, error) {
	if sessionID == "" {
		return nil, nil
	}
	msgs, err := m.GetMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	turns := make([]ai.Turn, 0, len(msgs))
	for _, msg := range msgs {
		turns = append(turns, ai.Turn{Role: msg.Role, Text: msg.Content, Attachments: msg.Attachments})
	}
	return turns, nil
}

func titleFrom(turn ai.Turn) string {
	title := []rune(turn.Text)
	if len(title) > 40 {
		title = append(title[:40], '…')
	}
	return string(title)
}
