package knowledge

import "time"

// Document is one indexed chunk of the corpus.
type Document struct {
	ID        string            // Unique identifier
	Content   string            // Chunk text
	Metadata  map[string]string // Provenance (source document name, etc.)
	CreatedAt time.Time
}

// Result is a single search hit with its similarity score.
type Result struct {
	Document   Document
	Similarity float32 // Cosine similarity (0-1)
}

// SearchOption configures a search using the functional options pattern.
type SearchOption func(*searchConfig)

type searchConfig struct {
	topK   int
	filter map[string]string
}

// WithTopK sets the maximum number of results. Default is 3.
func WithTopK(k int) SearchOption {
	return func(c *searchConfig) {
		c.topK = k
	}
}

// WithSource restricts results to chunks whose metadata "source" equals name.
func WithSource(name string) SearchOption {
	return func(c *searchConfig) {
		if c.filter == nil {
			c.filter = make(map[string]string)
		}
		c.filter["source"] = name
	}
}

func buildSearchConfig(opts []SearchOption) *searchConfig {
	cfg := &searchConfig{topK: 3}
	for _, opt := range opts {
		opt(cfg)
	}
	// topK ends up in a SQL LIMIT; zero or negative values are invalid there.
	if cfg.topK < 1 {
		cfg.topK = 1
	}
	return cfg
}
