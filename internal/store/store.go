// Package store persists the conversation transcript: users, conversations
// and messages, backed by PostgreSQL via pgx.
//
// Every operation is a single atomic statement (or short transaction) against
// the pool. No operation holds a database connection across a retrieval or
// inference call; callers compose those separately.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQL error codes translated into sentinel errors.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Store provides transactional CRUD over the transcript entities.
// Safe for concurrent use; the pool handles connection management.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Store over the given connection pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// CreateUser inserts a new user row. The email is stored as given; uniqueness
// is enforced case-insensitively by the lower(email) index, surfacing as
// ErrDuplicateEmail.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) (*User, error) {
	var u User
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (email, password_hash)
		 VALUES ($1, $2)
		 RETURNING id, email, password_hash, created_at`,
		email, passwordHash,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if isPgError(err, pgUniqueViolation) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}

	s.logger.Debug("created user", "id", u.ID)
	return &u, nil
}

// UserByEmail finds a user by email, compared case-insensitively.
// Returns ErrUserNotFound when no row matches.
func (s *Store) UserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, created_at
		 FROM users
		 WHERE lower(email) = lower($1)`,
		email,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("finding user by email: %w", err)
	}
	return &u, nil
}

// CreateConversation starts a new empty conversation for the user.
// The creation timestamp is assigned by the database at commit time.
func (s *Store) CreateConversation(ctx context.Context, userID int64) (*Conversation, error) {
	var c Conversation
	err := s.pool.QueryRow(ctx,
		`INSERT INTO conversations (user_id)
		 VALUES ($1)
		 RETURNING id, user_id, created_at`,
		userID,
	).Scan(&c.ID, &c.UserID, &c.CreatedAt)
	if err != nil {
		if isPgError(err, pgForeignKeyViolation) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", c.ID, "user_id", userID)
	return &c, nil
}

// AppendMessage appends one turn to a conversation. The timestamp is assigned
// inside the insert, so timestamp order matches append order within the
// conversation. Returns ErrConversationNotFound when the conversation id does
// not reference an existing row.
func (s *Store) AppendMessage(ctx context.Context, conversationID int64, sender, text string) (*Message, error) {
	if sender != SenderUser && sender != SenderAssistant {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSender, sender)
	}

	var m Message
	err := s.pool.QueryRow(ctx,
		`INSERT INTO messages (conversation_id, sender, text)
		 VALUES ($1, $2, $3)
		 RETURNING id, conversation_id, sender, text, created_at`,
		conversationID, sender, text,
	).Scan(&m.ID, &m.ConversationID, &m.Sender, &m.Text, &m.CreatedAt)
	if err != nil {
		if isPgError(err, pgForeignKeyViolation) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("appending message: %w", err)
	}

	s.logger.Debug("appended message",
		"conversation_id", conversationID, "sender", sender, "length", len(text))
	return &m, nil
}

// ListConversations returns the user's conversations, newest first by
// creation timestamp, each carrying the text of its most recent message.
func (s *Store) ListConversations(ctx context.Context, userID int64) ([]Conversation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.user_id, c.created_at, COALESCE(last.text, '')
		 FROM conversations c
		 LEFT JOIN LATERAL (
		     SELECT m.text
		     FROM messages m
		     WHERE m.conversation_id = c.id
		     ORDER BY m.created_at DESC, m.id DESC
		     LIMIT 1
		 ) last ON true
		 WHERE c.user_id = $1
		 ORDER BY c.created_at DESC, c.id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	conversations := make([]Conversation, 0)
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.CreatedAt, &c.LastMessage); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		conversations = append(conversations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	return conversations, nil
}

// ListMessages returns the messages of a conversation owned by userID,
// oldest first by timestamp (ties broken by id, preserving append order).
//
// When the conversation does not exist or belongs to another user the result
// is an empty slice, not an error: the existence of other users'
// conversations is never revealed.
func (s *Store) ListMessages(ctx context.Context, userID, conversationID int64) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT m.id, m.conversation_id, m.sender, m.text, m.created_at
		 FROM messages m
		 JOIN conversations c ON c.id = m.conversation_id
		 WHERE m.conversation_id = $1 AND c.user_id = $2
		 ORDER BY m.created_at, m.id`,
		conversationID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Sender, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	return messages, nil
}

// ConversationOwned reports whether the conversation exists and belongs to
// userID. Used by the orchestrator to validate a caller-supplied id without
// leaking foreign conversations (a miss is indistinguishable from absence).
func (s *Store) ConversationOwned(ctx context.Context, userID, conversationID int64) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM conversations WHERE id = $1 AND user_id = $2`,
		conversationID, userID,
	).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("checking conversation ownership: %w", err)
	}
	return true, nil
}

// isPgError reports whether err is a PostgreSQL error with the given code.
func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
