// Package api exposes the chat service over HTTP as a JSON API. Routes are
// registered on a net/http ServeMux with method patterns; cross-cutting
// concerns (recovery, request IDs, logging, rate limiting, bearer auth) are
// middleware around it.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger *slog.Logger

	Auth AuthService // Required
	Chat ChatService // Required

	TokenExpiry time.Duration // Advertised in login responses
	Pool        *pgxpool.Pool // Optional: nil disables pool stats in /ready
	TrustProxy  bool          // Trust X-Real-IP/X-Forwarded-For headers
	RateBurst   int           // Rate limiter burst size per IP (0 = default 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Auth == nil {
		return nil, errors.New("auth service is required")
	}
	if cfg.Chat == nil {
		return nil, errors.New("chat service is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ah := &authHandler{
		service:     cfg.Auth,
		tokenExpiry: cfg.TokenExpiry,
		logger:      logger,
	}
	ch := &chatHandler{
		service: cfg.Chat,
		logger:  logger,
	}

	// Public routes: no bearer token required.
	public := http.NewServeMux()
	public.HandleFunc("POST /api/v1/auth/register", ah.register)
	public.HandleFunc("POST /api/v1/auth/login", ah.login)

	// Authenticated routes.
	private := http.NewServeMux()
	private.HandleFunc("POST /api/v1/chat", ch.send)
	private.HandleFunc("GET /api/v1/conversations", ch.listConversations)
	private.HandleFunc("GET /api/v1/conversations/{id}/messages", ch.listMessages)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/auth/", public)
	mux.Handle("/", authMiddleware(cfg.Auth, logger)(private))

	// Rate limiter: per-IP token bucket (1 token/sec refill)
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Build middleware stack (outermost first):
	//   Recovery → RequestID → Logging → RateLimit → Routes
	// RequestID must be before Logging so request_id is available in log
	// attributes.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w)
		handler.ServeHTTP(w, r)
	})

	// Use a top-level mux to separate health probes from the middleware stack
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
