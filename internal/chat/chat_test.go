package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"ragchat/internal/log"
	"ragchat/internal/rag"
	"ragchat/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// mockTranscripts is an in-memory TranscriptStore.
type mockTranscripts struct {
	mu sync.Mutex

	conversations map[int64]*store.Conversation // id -> conversation
	messages      map[int64][]store.Message     // conversation id -> messages
	nextConvID    int64
	nextMsgID     int64

	createConversationErr error
	appendMessageErr      error
	appendErrAfter        int // fail appends after this many successes (0 = use appendMessageErr always)
	appendCalls           int
}

func newMockTranscripts() *mockTranscripts {
	return &mockTranscripts{
		conversations: make(map[int64]*store.Conversation),
		messages:      make(map[int64][]store.Message),
		nextConvID:    1,
		nextMsgID:     1,
	}
}

func (m *mockTranscripts) CreateConversation(_ context.Context, userID int64) (*store.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createConversationErr != nil {
		return nil, m.createConversationErr
	}
	c := &store.Conversation{ID: m.nextConvID, UserID: userID, CreatedAt: time.Now()}
	m.nextConvID++
	m.conversations[c.ID] = c
	return c, nil
}

func (m *mockTranscripts) AppendMessage(_ context.Context, conversationID int64, sender, text string) (*store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendCalls++
	if m.appendMessageErr != nil && (m.appendErrAfter == 0 || m.appendCalls > m.appendErrAfter) {
		return nil, m.appendMessageErr
	}
	if _, ok := m.conversations[conversationID]; !ok {
		return nil, store.ErrConversationNotFound
	}
	msg := store.Message{
		ID:             m.nextMsgID,
		ConversationID: conversationID,
		Sender:         sender,
		Text:           text,
		CreatedAt:      time.Now(),
	}
	m.nextMsgID++
	m.messages[conversationID] = append(m.messages[conversationID], msg)
	return &msg, nil
}

func (m *mockTranscripts) ListConversations(_ context.Context, userID int64) ([]store.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Conversation
	for _, c := range m.conversations {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *mockTranscripts) ListMessages(_ context.Context, userID, conversationID int64) ([]store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[conversationID]
	if !ok || c.UserID != userID {
		return []store.Message{}, nil
	}
	return append([]store.Message(nil), m.messages[conversationID]...), nil
}

func (m *mockTranscripts) ConversationOwned(_ context.Context, userID, conversationID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[conversationID]
	return ok && c.UserID == userID, nil
}

// mockAnswerer returns a fixed answer or error.
type mockAnswerer struct {
	answer *rag.Answer
	err    error

	mu      sync.Mutex
	queries []string
}

func (m *mockAnswerer) Answer(_ context.Context, query string) (*rag.Answer, error) {
	m.mu.Lock()
	m.queries = append(m.queries, query)
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.answer, nil
}

func testAnswer(text string) *rag.Answer {
	return &rag.Answer{
		Text: text,
		Sources: []rag.Chunk{
			{Text: "chunk one", Metadata: map[string]string{"source": "guide.txt"}},
		},
	}
}

func TestSend(t *testing.T) {
	ctx := context.Background()

	t.Run("new conversation persists both turns", func(t *testing.T) {
		transcripts := newMockTranscripts()
		answerer := &mockAnswerer{answer: testAnswer("generated text")}
		orch := New(transcripts, answerer, log.NewNop())

		ex, err := orch.Send(ctx, 1, nil, "What is X?")
		require.NoError(t, err)

		assert.Equal(t, int64(1), ex.ConversationID)
		assert.Equal(t, store.SenderUser, ex.UserMessage.Sender)
		assert.Equal(t, "What is X?", ex.UserMessage.Text)
		assert.Equal(t, store.SenderAssistant, ex.AssistantMessage.Sender)
		assert.Equal(t, "generated text", ex.AssistantMessage.Text)
		assert.Empty(t, ex.Warning)
		require.Len(t, ex.Sources, 1)
		assert.Equal(t, "guide.txt", ex.Sources[0].Metadata["source"])

		msgs, err := orch.Messages(ctx, 1, ex.ConversationID)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, store.SenderUser, msgs[0].Sender)
		assert.Equal(t, store.SenderAssistant, msgs[1].Sender)
	})

	t.Run("second turn reuses the conversation", func(t *testing.T) {
		transcripts := newMockTranscripts()
		orch := New(transcripts, &mockAnswerer{answer: testAnswer("first")}, log.NewNop())

		ex1, err := orch.Send(ctx, 1, nil, "first question")
		require.NoError(t, err)

		ex2, err := orch.Send(ctx, 1, &ex1.ConversationID, "second question")
		require.NoError(t, err)
		assert.Equal(t, ex1.ConversationID, ex2.ConversationID)

		msgs, err := orch.Messages(ctx, 1, ex1.ConversationID)
		require.NoError(t, err)
		assert.Len(t, msgs, 4)

		convs, err := orch.Conversations(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, convs, 1)
	})

	t.Run("foreign conversation id behaves like a missing one", func(t *testing.T) {
		transcripts := newMockTranscripts()
		orch := New(transcripts, &mockAnswerer{answer: testAnswer("x")}, log.NewNop())

		ex, err := orch.Send(ctx, 1, nil, "owner message")
		require.NoError(t, err)

		_, foreignErr := orch.Send(ctx, 2, &ex.ConversationID, "intruder message")
		missing := int64(999)
		_, missingErr := orch.Send(ctx, 1, &missing, "lost message")

		assert.ErrorIs(t, foreignErr, ErrConversationNotFound)
		assert.ErrorIs(t, missingErr, ErrConversationNotFound)
	})

	t.Run("empty prompt is rejected before any write", func(t *testing.T) {
		transcripts := newMockTranscripts()
		orch := New(transcripts, &mockAnswerer{answer: testAnswer("x")}, log.NewNop())

		_, err := orch.Send(ctx, 1, nil, "   ")
		assert.ErrorIs(t, err, ErrEmptyPrompt)
		assert.Empty(t, transcripts.conversations)
	})

	t.Run("generation failure persists failure notice", func(t *testing.T) {
		for _, genErr := range []error{
			rag.ErrRetrievalUnavailable,
			rag.ErrInferenceUnavailable,
			errors.New("unexpected"),
		} {
			transcripts := newMockTranscripts()
			orch := New(transcripts, &mockAnswerer{err: genErr}, log.NewNop())

			ex, err := orch.Send(ctx, 1, nil, "doomed question")
			require.NoError(t, err, "generation failure must not fail the turn")

			assert.Equal(t, FailureNotice, ex.AssistantMessage.Text)
			assert.NotEmpty(t, ex.Warning)
			assert.Empty(t, ex.Sources)

			// Both turns are in the transcript: the question and the notice.
			msgs, err := orch.Messages(ctx, 1, ex.ConversationID)
			require.NoError(t, err)
			require.Len(t, msgs, 2)
			assert.Equal(t, "doomed question", msgs[0].Text)
			assert.Equal(t, FailureNotice, msgs[1].Text)
		}
	})

	t.Run("assistant append failure still leaves user turn persisted", func(t *testing.T) {
		transcripts := newMockTranscripts()
		transcripts.appendMessageErr = errors.New("write failed")
		transcripts.appendErrAfter = 1
		orch := New(transcripts, &mockAnswerer{answer: testAnswer("x")}, log.NewNop())

		_, err := orch.Send(ctx, 1, nil, "question")
		require.Error(t, err)

		msgs := transcripts.messages[1]
		require.Len(t, msgs, 1)
		assert.Equal(t, store.SenderUser, msgs[0].Sender)
	})

	t.Run("concurrent sends to one conversation all land", func(t *testing.T) {
		transcripts := newMockTranscripts()
		orch := New(transcripts, &mockAnswerer{answer: testAnswer("reply")}, log.NewNop())

		ex, err := orch.Send(ctx, 1, nil, "opening")
		require.NoError(t, err)

		const workers = 8
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := orch.Send(ctx, 1, &ex.ConversationID, "concurrent message")
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		msgs, err := orch.Messages(ctx, 1, ex.ConversationID)
		require.NoError(t, err)
		// Opening turn pair plus one pair per worker.
		assert.Len(t, msgs, 2+2*workers)
	})
}

func TestMessagesOwnershipMasking(t *testing.T) {
	ctx := context.Background()
	transcripts := newMockTranscripts()
	orch := New(transcripts, &mockAnswerer{answer: testAnswer("x")}, log.NewNop())

	ex, err := orch.Send(ctx, 1, nil, "private message")
	require.NoError(t, err)

	msgs, err := orch.Messages(ctx, 2, ex.ConversationID)
	require.NoError(t, err, "foreign reads must not error")
	assert.Empty(t, msgs, "foreign reads must not leak messages")
}
