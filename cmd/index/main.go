// Command index ingests plain-text documents into the knowledge base. Each
// file is split into overlapping chunks, embedded and upserted, so re-running
// it against the same directory is safe.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ragchat/internal/app"
	"ragchat/internal/config"
	"ragchat/internal/knowledge"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	dir := flag.String("dir", "data", "directory of .txt/.md files to index")
	chunkSize := flag.Int("chunk-size", knowledge.DefaultChunkSize, "maximum characters per chunk")
	overlap := flag.Int("chunk-overlap", knowledge.DefaultChunkOverlap, "characters shared between consecutive chunks")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx := context.Background()

	a, err := app.Setup(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	files, err := listDocumentFiles(*dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no .txt or .md files found in %s", *dir)
	}

	var indexed int
	for _, path := range files {
		n, err := indexFile(ctx, a.Knowledge, path, *chunkSize, *overlap)
		if err != nil {
			return fmt.Errorf("indexing %s: %w", path, err)
		}
		a.Logger.Info("indexed file", "path", path, "chunks", n)
		indexed += n
	}

	total, err := a.Knowledge.Count(ctx)
	if err != nil {
		return fmt.Errorf("counting documents: %w", err)
	}

	fmt.Printf("Indexed %d chunks from %d files (%d documents total)\n",
		indexed, len(files), total)
	return nil
}

func listDocumentFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".txt", ".md":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}

func indexFile(ctx context.Context, kb *knowledge.Store, path string, chunkSize, overlap int) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	source := filepath.Base(path)
	chunks := knowledge.SplitText(string(raw), chunkSize, overlap)

	for i, chunk := range chunks {
		doc := knowledge.Document{
			ID:      fmt.Sprintf("%s#%d", source, i),
			Content: chunk,
			Metadata: map[string]string{
				"source": source,
			},
		}
		if err := kb.Add(ctx, doc); err != nil {
			return 0, err
		}
	}
	return len(chunks), nil
}
