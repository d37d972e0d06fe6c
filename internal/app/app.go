// Package app wires the application together: configuration, database pool,
// Genkit AI provider, stores and services. cmd binaries call Setup and hold
// on to the returned App for their lifetime.
package app

import (
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"ragchat/internal/auth"
	"ragchat/internal/chat"
	"ragchat/internal/config"
	"ragchat/internal/knowledge"
	"ragchat/internal/rag"
	"ragchat/internal/store"
)

// App holds all initialized application components.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Pool     *pgxpool.Pool
	Genkit   *genkit.Genkit
	Embedder ai.Embedder

	Store     *store.Store
	Knowledge *knowledge.Store
	Auth      *auth.Service
	Answerer  *rag.Answerer
	Chat      *chat.Orchestrator

	dbCleanup func()
}

// Close releases all resources held by the App. Safe to call on a partially
// initialized App.
func (a *App) Close() {
	if a.dbCleanup != nil {
		a.dbCleanup()
	}
}
