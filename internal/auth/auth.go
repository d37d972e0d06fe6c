// Package auth implements the credential service: password hashing with
// bcrypt and stateless, signed, time-limited access tokens.
//
// Token verification is stateless: any holder of a validly signed, unexpired
// token is treated as that user. There is no refresh mechanism; expired
// tokens require re-authentication.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"ragchat/internal/store"
)

// Sentinel errors, checked with errors.Is().
var (
	// ErrDuplicateEmail indicates the email is already registered (any casing).
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrInvalidCredentials indicates an unknown email or wrong password.
	// Deliberately indistinguishable: the caller never learns which.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken indicates a token whose signature or expiry failed
	// verification.
	ErrInvalidToken = errors.New("invalid token")

	// ErrInvalidEmail indicates a syntactically unacceptable email.
	ErrInvalidEmail = errors.New("invalid email")

	// ErrWeakPassword indicates the password is below the minimum length.
	ErrWeakPassword = errors.New("password too short")
)

// MinPasswordLength is the minimum accepted password length.
const MinPasswordLength = 4

// UserStore is the slice of the transcript store the credential service needs.
type UserStore interface {
	CreateUser(ctx context.Context, email, passwordHash string) (*store.User, error)
	UserByEmail(ctx context.Context, email string) (*store.User, error)
}

// Identity is a verified user identity extracted from an access token.
type Identity struct {
	UserID int64
	Email  string
}

// Service issues and verifies credentials. Safe for concurrent use.
type Service struct {
	users  UserStore
	tokens *TokenIssuer
	logger *slog.Logger
}

// New creates a credential service.
func New(users UserStore, tokens *TokenIssuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{users: users, tokens: tokens, logger: logger}
}

// Register creates a new user and returns its id. The password is stored
// only as a bcrypt hash. Fails with ErrDuplicateEmail when the email exists
// under any casing.
func (s *Service) Register(ctx context.Context, email, password string) (int64, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return 0, err
	}
	if len(password) < MinPasswordLength {
		return 0, fmt.Errorf("%w: need at least %d characters", ErrWeakPassword, MinPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("hashing password: %w", err)
	}

	user, err := s.users.CreateUser(ctx, email, string(hash))
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return 0, ErrDuplicateEmail
		}
		return 0, fmt.Errorf("creating user: %w", err)
	}

	s.logger.Info("registered user", "user_id", user.ID)
	return user.ID, nil
}

// Authenticate verifies the email/password pair and returns a signed access
// token. Unknown email and wrong password both yield ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (string, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return "", ErrInvalidCredentials
	}

	user, err := s.users.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("finding user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return "", fmt.Errorf("issuing token: %w", err)
	}

	s.logger.Debug("authenticated user", "user_id", user.ID)
	return token, nil
}

// Verify validates a token and returns the identity it asserts.
// Any failure (bad signature, malformed, expired) is ErrInvalidToken.
func (s *Service) Verify(token string) (Identity, error) {
	return s.tokens.Verify(token)
}

// NormalizeEmail lowercases and trims an email, rejecting obviously invalid
// values. Full RFC validation is out of scope.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	return email, nil
}
