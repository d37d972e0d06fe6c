package store

import "errors"

// Sentinel errors for transcript operations, checked with errors.Is().
var (
	// ErrUserNotFound indicates no user exists for the given email or id.
	ErrUserNotFound = errors.New("user not found")

	// ErrDuplicateEmail indicates the email is already registered
	// (case-insensitive; backed by the unique index on lower(email)).
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrConversationNotFound indicates the referenced conversation does not exist.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrInvalidSender indicates the sender role is not "user" or "assistant".
	ErrInvalidSender = errors.New("invalid sender role")
)
