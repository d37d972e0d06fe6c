// Package rag turns a user query into an answer grounded in the private
// corpus: embed the query, retrieve the nearest chunks, then ask the model to
// answer using only that context.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"ragchat/internal/knowledge"
)

// FallbackAnswer replaces empty model output. Callers never receive an empty
// answer string.
const FallbackAnswer = "no answer could be generated"

// Default bounds for the retrieval and inference calls.
const (
	defaultTopK            = 3
	defaultRetrieveTimeout = 10 * time.Second
	defaultGenerateTimeout = 60 * time.Second
)

// Sentinel errors, checked with errors.Is(). Both are terminal for the
// request; this package never retries.
var (
	// ErrRetrievalUnavailable indicates the vector index could not be queried.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")

	// ErrInferenceUnavailable indicates the model backend could not be reached.
	ErrInferenceUnavailable = errors.New("inference unavailable")
)

// Retriever is the slice of knowledge.Store the answerer needs.
type Retriever interface {
	Search(ctx context.Context, query string, opts ...knowledge.SearchOption) ([]knowledge.Result, error)
}

// Chunk is one retrieved context span returned to the caller alongside the
// answer. Transient; never persisted.
type Chunk struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
}

// Answer is the result of one grounded generation.
type Answer struct {
	Text    string  `json:"answer"`
	Sources []Chunk `json:"sources"`
}

// Config contains the required parameters for an Answerer.
type Config struct {
	Genkit    *genkit.Genkit
	Retriever Retriever
	Logger    *slog.Logger

	ModelName string // Provider-qualified model name (e.g. "ollama/llama3.2")
	TopK      int    // Retrieval width; 0 uses the default of 3

	RetrieveTimeout time.Duration // 0 uses the 10s default
	GenerateTimeout time.Duration // 0 uses the 60s default
}

func (cfg Config) validate() error {
	if cfg.Genkit == nil {
		return errors.New("genkit instance is required")
	}
	if cfg.Retriever == nil {
		return errors.New("retriever is required")
	}
	if cfg.ModelName == "" {
		return errors.New("model name is required")
	}
	return nil
}

// Answerer produces context-grounded answers. It is read-only with respect to
// conversation state and safe for concurrent use.
type Answerer struct {
	g         *genkit.Genkit
	retriever Retriever
	logger    *slog.Logger

	modelName       string
	topK            int
	retrieveTimeout time.Duration
	generateTimeout time.Duration
}

// New creates an Answerer from the given configuration.
func New(cfg Config) (*Answerer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	topK := cfg.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	retrieveTimeout := cfg.RetrieveTimeout
	if retrieveTimeout <= 0 {
		retrieveTimeout = defaultRetrieveTimeout
	}
	generateTimeout := cfg.GenerateTimeout
	if generateTimeout <= 0 {
		generateTimeout = defaultGenerateTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Answerer{
		g:               cfg.Genkit,
		retriever:       cfg.Retriever,
		logger:          logger,
		modelName:       cfg.ModelName,
		topK:            topK,
		retrieveTimeout: retrieveTimeout,
		generateTimeout: generateTimeout,
	}, nil
}

// Answer retrieves the nearest chunks for the query and generates an answer
// conditioned on them. The returned answer text is never empty: blank model
// output is replaced with FallbackAnswer.
func (a *Answerer) Answer(ctx context.Context, query string) (*Answer, error) {
	retrieveCtx, cancelRetrieve := context.WithTimeout(ctx, a.retrieveTimeout)
	defer cancelRetrieve()

	results, err := a.retriever.Search(retrieveCtx, query, knowledge.WithTopK(a.topK))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetrievalUnavailable, err)
	}

	a.logger.Debug("retrieved context",
		"query_length", len(query), "chunks", len(results))

	chunks := make([]Chunk, len(results))
	for i, r := range results {
		metadata := r.Document.Metadata
		if metadata == nil {
			metadata = make(map[string]string)
		}
		chunks[i] = Chunk{Text: r.Document.Content, Metadata: metadata}
	}

	prompt := buildPrompt(query, chunks)

	generateCtx, cancelGenerate := context.WithTimeout(ctx, a.generateTimeout)
	defer cancelGenerate()

	resp, err := genkit.Generate(generateCtx, a.g,
		ai.WithModelName(a.modelName),
		ai.WithPrompt(prompt),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInferenceUnavailable, err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		a.logger.Warn("model returned empty answer, substituting fallback",
			"query_length", len(query))
		text = FallbackAnswer
	}

	a.logger.Debug("generated answer",
		"answer_length", len(text), "sources", len(chunks))

	return &Answer{Text: text, Sources: chunks}, nil
}

// buildPrompt assembles the grounding prompt: numbered context blocks with
// their source names, then the instruction to answer only from that context.
func buildPrompt(query string, chunks []Chunk) string {
	var b strings.Builder

	b.WriteString("Answer the question using only the context below. ")
	b.WriteString("If the context does not contain the answer, say you don't know.\n\n")

	if len(chunks) == 0 {
		b.WriteString("Context: (none available)\n")
	} else {
		b.WriteString("Context:\n")
		for i, c := range chunks {
			source := c.Metadata["source"]
			if source == "" {
				source = "unknown"
			}
			fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, source, c.Text)
		}
	}

	b.WriteString("\nQuestion: ")
	b.WriteString(query)
	b.WriteString("\nAnswer:")

	return b.String()
}
