package store

import "time"

// Sender role constants for message rows.
// The CHECK constraint on messages.sender enforces the same set.
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

// User is a registered identity. PasswordHash holds a bcrypt hash, never
// plaintext.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Conversation is a thread of messages owned by exactly one user.
// LastMessage is the text of the newest message, populated by
// ListConversations; empty for a conversation with no messages yet.
type Conversation struct {
	ID          int64
	UserID      int64
	CreatedAt   time.Time
	LastMessage string
}

// Message is one turn in a conversation. Immutable once created; the
// timestamp is assigned by the database at insert time, so append order and
// timestamp order agree within a conversation.
type Message struct {
	ID             int64
	ConversationID int64
	Sender         string
	Text           string
	CreatedAt      time.Time
}
