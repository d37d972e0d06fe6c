// Package chat orchestrates one chat turn: resolve the conversation, persist
// the user's message, generate a grounded answer, persist the assistant's
// reply.
//
// The user's turn is persisted before generation, so the transcript always
// reflects what was asked even when generation fails. A failed generation is
// recorded as a visible failure notice, never as a silently missing turn.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"ragchat/internal/rag"
	"ragchat/internal/store"
)

// FailureNotice is persisted as the assistant turn when answer generation
// fails terminally. It keeps multi-turn transcripts unambiguous about
// whether the assistant saw the message.
const FailureNotice = "The assistant was unable to answer this message. Please try again."

// Sentinel errors, checked with errors.Is().
var (
	// ErrEmptyPrompt indicates a blank prompt.
	ErrEmptyPrompt = errors.New("empty prompt")

	// ErrConversationNotFound indicates the supplied conversation id does not
	// exist for this user. Deliberately identical for missing and foreign
	// conversations.
	ErrConversationNotFound = errors.New("conversation not found")
)

// TranscriptStore is the slice of store.Store the orchestrator needs.
type TranscriptStore interface {
	CreateConversation(ctx context.Context, userID int64) (*store.Conversation, error)
	AppendMessage(ctx context.Context, conversationID int64, sender, text string) (*store.Message, error)
	ListConversations(ctx context.Context, userID int64) ([]store.Conversation, error)
	ListMessages(ctx context.Context, userID, conversationID int64) ([]store.Message, error)
	ConversationOwned(ctx context.Context, userID, conversationID int64) (bool, error)
}

// Answerer produces a grounded answer for a query.
type Answerer interface {
	Answer(ctx context.Context, query string) (*rag.Answer, error)
}

// Exchange is the result of one chat turn: the two persisted messages plus
// the transient retrieval sources. Warning is non-empty when the assistant
// turn is the failure notice rather than a generated answer.
type Exchange struct {
	ConversationID   int64
	UserMessage      *store.Message
	AssistantMessage *store.Message
	Sources          []rag.Chunk
	Warning          string
}

// Orchestrator composes the transcript store and the answerer.
// Safe for concurrent use; it holds no per-request state.
type Orchestrator struct {
	transcripts TranscriptStore
	answerer    Answerer
	logger      *slog.Logger
}

// New creates an Orchestrator.
func New(transcripts TranscriptStore, answerer Answerer, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{transcripts: transcripts, answerer: answerer, logger: logger}
}

// Send handles one chat turn for an already-verified user.
//
// When conversationID is nil a new conversation is created. A supplied id is
// validated against ownership first; a foreign id behaves exactly like a
// missing one (ErrConversationNotFound).
//
// If generation fails, the user turn stays persisted, the assistant turn is
// the failure notice and Exchange.Warning carries a caller-facing hint; the
// error itself is not returned.
func (o *Orchestrator) Send(ctx context.Context, userID int64, conversationID *int64, prompt string) (*Exchange, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	convID, err := o.resolveConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	userMsg, err := o.transcripts.AppendMessage(ctx, convID, store.SenderUser, prompt)
	if err != nil {
		if errors.Is(err, store.ErrConversationNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("persisting user message: %w", err)
	}

	answerText, sources, warning := o.generate(ctx, convID, prompt)

	assistantMsg, err := o.transcripts.AppendMessage(ctx, convID, store.SenderAssistant, answerText)
	if err != nil {
		// The user turn is already durable; surface the append failure so the
		// caller can resubmit.
		return nil, fmt.Errorf("persisting assistant message: %w", err)
	}

	o.logger.Info("chat turn completed",
		"conversation_id", convID,
		"user_id", userID,
		"degraded", warning != "",
	)

	return &Exchange{
		ConversationID:   convID,
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
		Sources:          sources,
		Warning:          warning,
	}, nil
}

// resolveConversation returns the id to append to, creating a new
// conversation when none was supplied.
func (o *Orchestrator) resolveConversation(ctx context.Context, userID int64, conversationID *int64) (int64, error) {
	if conversationID == nil {
		conv, err := o.transcripts.CreateConversation(ctx, userID)
		if err != nil {
			return 0, fmt.Errorf("creating conversation: %w", err)
		}
		return conv.ID, nil
	}

	owned, err := o.transcripts.ConversationOwned(ctx, userID, *conversationID)
	if err != nil {
		return 0, fmt.Errorf("checking conversation: %w", err)
	}
	if !owned {
		return 0, ErrConversationNotFound
	}
	return *conversationID, nil
}

// generate invokes the answerer and absorbs its failures into the fallback
// notice. Retrieval and inference outages degrade the turn, they never lose it.
func (o *Orchestrator) generate(ctx context.Context, convID int64, prompt string) (string, []rag.Chunk, string) {
	answer, err := o.answerer.Answer(ctx, prompt)
	if err != nil {
		o.logger.Warn("answer generation failed",
			"conversation_id", convID,
			"error", err,
			"retrieval_unavailable", errors.Is(err, rag.ErrRetrievalUnavailable),
			"inference_unavailable", errors.Is(err, rag.ErrInferenceUnavailable),
		)
		return FailureNotice, nil, "answer generation is currently unavailable"
	}
	return answer.Text, answer.Sources, ""
}

// Conversations lists the user's conversations, newest first.
func (o *Orchestrator) Conversations(ctx context.Context, userID int64) ([]store.Conversation, error) {
	conversations, err := o.transcripts.ListConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	return conversations, nil
}

// Messages lists a conversation's transcript, oldest first. A missing or
// foreign conversation yields an empty slice, never an error.
func (o *Orchestrator) Messages(ctx context.Context, userID, conversationID int64) ([]store.Message, error) {
	messages, err := o.transcripts.ListMessages(ctx, userID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	return messages, nil
}
