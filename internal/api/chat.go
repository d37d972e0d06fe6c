package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"ragchat/internal/chat"
	"ragchat/internal/rag"
	"ragchat/internal/store"
)

// ChatService is the conversation surface the handlers need.
type ChatService interface {
	Send(ctx context.Context, userID int64, conversationID *int64, prompt string) (*chat.Exchange, error)
	Conversations(ctx context.Context, userID int64) ([]store.Conversation, error)
	Messages(ctx context.Context, userID, conversationID int64) ([]store.Message, error)
}

type chatHandler struct {
	service ChatService
	logger  *slog.Logger
}

type sendRequest struct {
	ConversationID *int64 `json:"conversation_id,omitempty"`
	Prompt         string `json:"prompt"`
}

type sendResponse struct {
	ConversationID int64       `json:"conversation_id"`
	UserMessage    messageJSON `json:"user_message"`
	Assistant      messageJSON `json:"assistant_message"`
	Sources        []rag.Chunk `json:"sources"`
	Warning        string      `json:"warning,omitempty"`
}

type conversationJSON struct {
	ID          int64     `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	LastMessage string    `json:"last_message,omitempty"`
}

type messageJSON struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	Sender         string    `json:"sender"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
}

func toMessageJSON(m *store.Message) messageJSON {
	return messageJSON{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         m.Sender,
		Text:           m.Text,
		CreatedAt:      m.CreatedAt,
	}
}

// send runs one chat turn: persist the user message, answer it, persist the
// assistant message. Omitting conversation_id starts a new conversation.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	var req sendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "malformed request body")
		return
	}

	exchange, err := h.service.Send(r.Context(), identity.UserID, req.ConversationID, req.Prompt)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrEmptyPrompt):
			writeError(w, http.StatusBadRequest, "empty_prompt", "prompt must not be empty")
		case errors.Is(err, chat.ErrConversationNotFound):
			writeError(w, http.StatusNotFound, "conversation_not_found", "conversation not found")
		default:
			h.logger.Error("sending chat message",
				"error", err,
				"user_id", identity.UserID,
				"request_id", requestIDFromContext(r.Context()),
			)
			writeError(w, http.StatusInternalServerError, "send_failed", "failed to process message")
		}
		return
	}

	sources := exchange.Sources
	if sources == nil {
		sources = []rag.Chunk{}
	}

	writeJSON(w, http.StatusOK, sendResponse{
		ConversationID: exchange.ConversationID,
		UserMessage:    toMessageJSON(exchange.UserMessage),
		Assistant:      toMessageJSON(exchange.AssistantMessage),
		Sources:        sources,
		Warning:        exchange.Warning,
	})
}

// listConversations returns the caller's conversations, newest first.
func (h *chatHandler) listConversations(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	conversations, err := h.service.Conversations(r.Context(), identity.UserID)
	if err != nil {
		h.logger.Error("listing conversations",
			"error", err,
			"user_id", identity.UserID,
			"request_id", requestIDFromContext(r.Context()),
		)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list conversations")
		return
	}

	out := make([]conversationJSON, len(conversations))
	for i, c := range conversations {
		out[i] = conversationJSON{
			ID:          c.ID,
			CreatedAt:   c.CreatedAt,
			LastMessage: c.LastMessage,
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversations": out,
		"count":         len(out),
	})
}

// listMessages returns a conversation's transcript in chronological order.
// A conversation the caller does not own yields an empty list, identical to
// a conversation that does not exist.
func (h *chatHandler) listMessages(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	conversationID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid conversation ID")
		return
	}

	messages, err := h.service.Messages(r.Context(), identity.UserID, conversationID)
	if err != nil {
		h.logger.Error("listing messages",
			"error", err,
			"user_id", identity.UserID,
			"conversation_id", conversationID,
			"request_id", requestIDFromContext(r.Context()),
		)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list messages")
		return
	}

	out := make([]messageJSON, len(messages))
	for i := range messages {
		out[i] = toMessageJSON(&messages[i])
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"messages": out,
		"count":    len(out),
	})
}
