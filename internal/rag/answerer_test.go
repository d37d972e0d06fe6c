package rag

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/knowledge"
	"ragchat/internal/log"
	"ragchat/internal/testutil"
)

// mockRetriever returns canned results or an error.
type mockRetriever struct {
	results []knowledge.Result
	err     error

	queries []string
}

func (m *mockRetriever) Search(_ context.Context, query string, _ ...knowledge.SearchOption) ([]knowledge.Result, error) {
	m.queries = append(m.queries, query)
	if m.err != nil {
		return nil, m.err
	}
	return m.results, nil
}

// blockingRetriever never answers; it waits out the context deadline.
type blockingRetriever struct{}

func (blockingRetriever) Search(ctx context.Context, _ string, _ ...knowledge.SearchOption) ([]knowledge.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func corpusResults() []knowledge.Result {
	return []knowledge.Result{
		{
			Document: knowledge.Document{
				ID:       "guide-1",
				Content:  "X is a measure of widget throughput.",
				Metadata: map[string]string{"source": "guide.txt"},
			},
			Similarity: 0.93,
		},
		{
			Document: knowledge.Document{
				ID:       "faq-7",
				Content:  "Widgets are rated by X at the factory.",
				Metadata: map[string]string{"source": "faq.txt"},
			},
			Similarity: 0.88,
		},
	}
}

func newTestAnswerer(t *testing.T, model *testutil.MockModel, retriever Retriever) *Answerer {
	t.Helper()

	g := genkit.Init(context.Background())
	require.NotNil(t, g)
	model.Register(g)

	a, err := New(Config{
		Genkit:    g,
		Retriever: retriever,
		Logger:    log.NewNop(),
		ModelName: "mock/test-model",
	})
	require.NoError(t, err)
	return a
}

func TestNewValidation(t *testing.T) {
	g := genkit.Init(context.Background())

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "missing genkit", cfg: Config{Retriever: &mockRetriever{}, ModelName: "m"}},
		{name: "missing retriever", cfg: Config{Genkit: g, ModelName: "m"}},
		{name: "missing model name", cfg: Config{Genkit: g, Retriever: &mockRetriever{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestAnswer(t *testing.T) {
	ctx := context.Background()

	t.Run("grounded answer carries sources in retrieval order", func(t *testing.T) {
		model := testutil.NewMockModel("")
		model.AddResponse("what is x", "X measures widget throughput.")
		retriever := &mockRetriever{results: corpusResults()}
		a := newTestAnswerer(t, model, retriever)

		answer, err := a.Answer(ctx, "What is X?")
		require.NoError(t, err)

		assert.Equal(t, "X measures widget throughput.", answer.Text)
		require.Len(t, answer.Sources, 2)
		assert.Equal(t, "X is a measure of widget throughput.", answer.Sources[0].Text)
		assert.Equal(t, "guide.txt", answer.Sources[0].Metadata["source"])
		assert.Equal(t, "faq.txt", answer.Sources[1].Metadata["source"])
	})

	t.Run("prompt contains context chunks, sources and the question", func(t *testing.T) {
		model := testutil.NewMockModel("ok")
		retriever := &mockRetriever{results: corpusResults()}
		a := newTestAnswerer(t, model, retriever)

		_, err := a.Answer(ctx, "What is X?")
		require.NoError(t, err)

		prompts := model.Prompts()
		require.Len(t, prompts, 1)
		assert.Contains(t, prompts[0], "X is a measure of widget throughput.")
		assert.Contains(t, prompts[0], "guide.txt")
		assert.Contains(t, prompts[0], "Question: What is X?")
		assert.Contains(t, prompts[0], "only the context")
	})

	t.Run("empty model output becomes the fallback answer", func(t *testing.T) {
		model := testutil.NewMockModel("") // unmatched prompts yield empty text
		retriever := &mockRetriever{results: corpusResults()}
		a := newTestAnswerer(t, model, retriever)

		answer, err := a.Answer(ctx, "unanswerable")
		require.NoError(t, err)
		assert.Equal(t, FallbackAnswer, answer.Text)
		assert.NotEmpty(t, answer.Text)
	})

	t.Run("whitespace-only output becomes the fallback answer", func(t *testing.T) {
		model := testutil.NewMockModel("   \n\t ")
		retriever := &mockRetriever{results: corpusResults()}
		a := newTestAnswerer(t, model, retriever)

		answer, err := a.Answer(ctx, "unanswerable")
		require.NoError(t, err)
		assert.Equal(t, FallbackAnswer, answer.Text)
	})

	t.Run("retriever failure is terminal as ErrRetrievalUnavailable", func(t *testing.T) {
		model := testutil.NewMockModel("ok")
		retriever := &mockRetriever{err: errors.New("index unreachable")}
		a := newTestAnswerer(t, model, retriever)

		_, err := a.Answer(ctx, "What is X?")
		assert.ErrorIs(t, err, ErrRetrievalUnavailable)
		// The model must not be invoked when retrieval fails.
		assert.Empty(t, model.Prompts())
	})

	t.Run("model failure is terminal as ErrInferenceUnavailable", func(t *testing.T) {
		model := testutil.NewMockModel("ok")
		model.Fail(errors.New("backend unreachable"))
		retriever := &mockRetriever{results: corpusResults()}
		a := newTestAnswerer(t, model, retriever)

		_, err := a.Answer(ctx, "What is X?")
		assert.ErrorIs(t, err, ErrInferenceUnavailable)
	})

	t.Run("retrieval deadline surfaces as ErrRetrievalUnavailable", func(t *testing.T) {
		model := testutil.NewMockModel("ok")
		g := genkit.Init(ctx)
		require.NotNil(t, g)
		model.Register(g)

		a, err := New(Config{
			Genkit:          g,
			Retriever:       blockingRetriever{},
			Logger:          log.NewNop(),
			ModelName:       "mock/test-model",
			RetrieveTimeout: 10 * time.Millisecond,
		})
		require.NoError(t, err)

		_, err = a.Answer(ctx, "What is X?")
		assert.ErrorIs(t, err, ErrRetrievalUnavailable)
		assert.Empty(t, model.Prompts())
	})

	t.Run("generation deadline surfaces as ErrInferenceUnavailable", func(t *testing.T) {
		model := testutil.NewMockModel("ok")
		model.Delay(time.Second)
		g := genkit.Init(ctx)
		require.NotNil(t, g)
		model.Register(g)

		a, err := New(Config{
			Genkit:          g,
			Retriever:       &mockRetriever{results: corpusResults()},
			Logger:          log.NewNop(),
			ModelName:       "mock/test-model",
			GenerateTimeout: 10 * time.Millisecond,
		})
		require.NoError(t, err)

		_, err = a.Answer(ctx, "What is X?")
		assert.ErrorIs(t, err, ErrInferenceUnavailable)
	})

	t.Run("no retrieved chunks still produces an answer", func(t *testing.T) {
		model := testutil.NewMockModel("I don't know.")
		retriever := &mockRetriever{results: nil}
		a := newTestAnswerer(t, model, retriever)

		answer, err := a.Answer(ctx, "What is X?")
		require.NoError(t, err)
		assert.Equal(t, "I don't know.", answer.Text)
		assert.Empty(t, answer.Sources)

		prompts := model.Prompts()
		require.Len(t, prompts, 1)
		assert.Contains(t, prompts[0], "(none available)")
	})
}

func TestBuildPrompt(t *testing.T) {
	chunks := []Chunk{
		{Text: "first chunk", Metadata: map[string]string{"source": "a.txt"}},
		{Text: "second chunk", Metadata: map[string]string{}},
	}

	prompt := buildPrompt("why?", chunks)

	assert.Contains(t, prompt, "[1] (a.txt) first chunk")
	assert.Contains(t, prompt, "[2] (unknown) second chunk")
	assert.Contains(t, prompt, "Question: why?")
}
