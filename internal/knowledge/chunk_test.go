package knowledge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitText(t *testing.T) {
	t.Run("empty input yields no chunks", func(t *testing.T) {
		assert.Nil(t, SplitText("", 1000, 200))
		assert.Nil(t, SplitText("   \n\n  ", 1000, 200))
	})

	t.Run("short text is a single chunk", func(t *testing.T) {
		chunks := SplitText("hello world", 1000, 200)
		require.Len(t, chunks, 1)
		assert.Equal(t, "hello world", chunks[0])
	})

	t.Run("paragraphs are packed up to the size limit", func(t *testing.T) {
		a := strings.Repeat("a", 400)
		b := strings.Repeat("b", 400)
		c := strings.Repeat("c", 400)
		chunks := SplitText(a+"\n\n"+b+"\n\n"+c, 1000, 200)

		// a+b fit together (802 chars with the separator); c starts a new chunk.
		require.Len(t, chunks, 2)
		assert.Equal(t, a+"\n\n"+b, chunks[0])
		assert.Equal(t, c, chunks[1])
	})

	t.Run("oversized paragraph is hard-split with overlap", func(t *testing.T) {
		text := strings.Repeat("x", 2500)
		chunks := SplitText(text, 1000, 200)

		require.True(t, len(chunks) >= 3)
		for _, c := range chunks {
			assert.LessOrEqual(t, len(c), 1000)
		}
		// Overlap: each split advances size-overlap characters.
		assert.Len(t, chunks[0], 1000)
		assert.Len(t, chunks[1], 1000)

		// No content is lost.
		total := 0
		for _, c := range chunks {
			total += len(c)
		}
		assert.GreaterOrEqual(t, total, len(text))
	})

	t.Run("non-positive size falls back to the default", func(t *testing.T) {
		chunks := SplitText("hello", 0, 0)
		require.Len(t, chunks, 1)
	})
}
