package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"ragchat/internal/auth"
)

// AuthService is the credential surface the handlers need.
type AuthService interface {
	Register(ctx context.Context, email, password string) (int64, error)
	Authenticate(ctx context.Context, email, password string) (string, error)
	Verify(token string) (auth.Identity, error)
}

type authHandler struct {
	service     AuthService
	tokenExpiry time.Duration
	logger      *slog.Logger
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerResponse struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"` // seconds
}

// register creates a new account. Duplicate emails are a 409 so clients can
// distinguish "taken" from validation failures.
func (h *authHandler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "malformed request body")
		return
	}

	userID, err := h.service.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrDuplicateEmail):
			writeError(w, http.StatusConflict, "email_taken", "email is already registered")
		case errors.Is(err, auth.ErrInvalidEmail):
			writeError(w, http.StatusBadRequest, "invalid_email", "email address is not valid")
		case errors.Is(err, auth.ErrWeakPassword):
			writeError(w, http.StatusBadRequest, "weak_password", "password does not meet the minimum length")
		default:
			h.logger.Error("registering user",
				"error", err,
				"request_id", requestIDFromContext(r.Context()),
			)
			writeError(w, http.StatusInternalServerError, "register_failed", "failed to register")
		}
		return
	}

	// Register already validated the email, so normalization cannot fail here.
	email, _ := auth.NormalizeEmail(req.Email)

	writeJSON(w, http.StatusCreated, registerResponse{
		UserID: userID,
		Email:  email,
	})
}

// login verifies credentials and returns a signed bearer token. Unknown email
// and wrong password produce the same response.
func (h *authHandler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "malformed request body")
		return
	}

	token, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
			return
		}
		h.logger.Error("authenticating user",
			"error", err,
			"request_id", requestIDFromContext(r.Context()),
		)
		writeError(w, http.StatusInternalServerError, "login_failed", "failed to log in")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int64(h.tokenExpiry.Seconds()),
	})
}
