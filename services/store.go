package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"triagebot/models"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ConversationStore is the durable record of sessions and their transcripts,
// backed by SQLite.
type ConversationStore struct {
	db *sql.DB
}

// NewConversationStore opens (or creates) the database at dsn and runs
// migrations.
func NewConversationStore(dsn string) (*ConversationStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &ConversationStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *ConversationStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			sender TEXT NOT NULL,
			text TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			topic_category TEXT,
			status TEXT,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, timestamp)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *ConversationStore) Close() error {
	return s.db.Close()
}

// GetSession retrieves a session by ID, or nil when it does not exist.
func (s *ConversationStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var session models.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, created_at FROM sessions WHERE session_id = ?`,
		sessionID).Scan(&session.ID, &session.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// GetOrCreateSession returns the session for sessionID, creating it on first
// contact. There is no separate creation step for callers.
func (s *ConversationStore) GetOrCreateSession(ctx context.Context, sessionID string) (*models.Session, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session != nil {
		return session, nil
	}

	session = &models.Session{
		ID:        sessionID,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, created_at) VALUES (?, ?)`,
		session.ID, session.CreatedAt)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// AppendMessage persists a message. ID and timestamp are assigned here when
// the caller leaves them empty. Messages are never updated or deleted.
func (s *ConversationStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	var topic, status sql.NullString
	if msg.TopicCategory != "" {
		topic = sql.NullString{String: msg.TopicCategory, Valid: true}
	}
	if msg.Status != "" {
		status = sql.NullString{String: msg.Status, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (message_id, session_id, sender, text, timestamp, topic_category, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Sender, msg.Text, msg.Timestamp, topic, status)
	return err
}

// RecentMessages returns up to limit of the newest messages for a session,
// reversed into chronological order before returning.
func (s *ConversationStore) RecentMessages(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, session_id, sender, text, timestamp, topic_category, status
		 FROM messages WHERE session_id = ?
		 ORDER BY timestamp DESC, rowid DESC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		var topic, status sql.NullString
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Sender, &msg.Text, &msg.Timestamp, &topic, &status); err != nil {
			return nil, err
		}
		if topic.Valid {
			msg.TopicCategory = topic.String
		}
		if status.Valid {
			msg.Status = status.String
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest-first from the query; reverse to chronological.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// FormatHistory renders a transcript as the prompt history block, one
// "[SENDER]: text" line per message in chronological order.
func FormatHistory(messages []models.Message) string {
	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		lines = append(lines, fmt.Sprintf("[%s]: %s", strings.ToUpper(msg.Sender), msg.Text))
	}
	return strings.Join(lines, "\n")
}

// GetStatus returns the status of the conversation store.
func (s *ConversationStore) GetStatus() map[string]interface{} {
	status := map[string]interface{}{
		"backend": "sqlite",
	}

	if err := s.db.Ping(); err != nil {
		status["status"] = "unavailable"
		status["error"] = err.Error()
	} else {
		status["status"] = "active"
	}

	return status
}
