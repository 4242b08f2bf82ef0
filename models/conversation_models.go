package models

import "time"

// Message senders.
const (
	SenderUser = "user"
	SenderAI   = "ai"
)

// Session is a conversation thread identified by the client-supplied
// session ID. Created lazily on first message.
type Session struct {
	ID        string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is one entry in a session's transcript. Immutable once written.
// TopicCategory and Status are set only on AI messages that were recorded.
type Message struct {
	ID            string    `json:"message_id"`
	SessionID     string    `json:"session_id"`
	Sender        string    `json:"sender"` // "user" or "ai"
	Text          string    `json:"text"`
	Timestamp     time.Time `json:"timestamp"`
	TopicCategory string    `json:"topic_category,omitempty"`
	Status        string    `json:"status,omitempty"`
}
