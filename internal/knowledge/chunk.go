package knowledge

import "strings"

// Default chunking parameters for document ingestion.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// SplitText divides text into chunks of at most size characters, preferring
// paragraph boundaries and falling back to hard splits with overlap carried
// between consecutive chunks. Whitespace-only input yields no chunks.
func SplitText(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
		if overlap >= size {
			overlap = size / 5
		}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		chunk := strings.TrimSpace(current.String())
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		current.Reset()
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		// Oversized paragraph: hard-split with overlap.
		if len(para) > size {
			flush()
			for start := 0; start < len(para); {
				end := start + size
				if end > len(para) {
					end = len(para)
				}
				chunks = append(chunks, para[start:end])
				if end == len(para) {
					break
				}
				start = end - overlap
			}
			continue
		}

		if current.Len() > 0 && current.Len()+len(para)+2 > size {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	return chunks
}
