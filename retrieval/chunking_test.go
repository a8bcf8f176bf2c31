package retrieval

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func patternText(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + i%26)
	}
	return string(b)
}

func TestSplitDefaultWindow(t *testing.T) {
	text := patternText(3000)
	chunks := newChunker(ChunkOptions{}).split(text)

	require.Len(t, chunks, 3)
	require.Equal(t, text[0:1200], chunks[0])
	require.Equal(t, text[1000:2200], chunks[1])
	require.Equal(t, text[2000:3000], chunks[2])
}

func TestSplitZeroOverlapReconstructsText(t *testing.T) {
	text := patternText(2777)
	chunks := newChunker(ChunkOptions{Size: 512, Overlap: intPtr(0)}).split(text)

	require.Equal(t, text, strings.Join(chunks, ""))
}

func TestSplitOverlapProperty(t *testing.T) {
	text := patternText(1000)
	size, overlap := 100, 30
	chunks := newChunker(ChunkOptions{Size: size, Overlap: intPtr(overlap)}).split(text)

	require.Greater(t, len(chunks), 1)
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1]
		require.Equal(t, prev[len(prev)-overlap:], chunks[i][:overlap])
	}
}

func TestSplitMultibyteTextKeepsRunesIntact(t *testing.T) {
	// 2100 runes of three-byte characters: byte-based windows would land
	// mid rune and emit invalid UTF-8.
	text := strings.Repeat("知识库文档内容", 300)
	chunks := newChunker(ChunkOptions{}).split(text)

	require.Len(t, chunks, 2)
	for i, chunk := range chunks {
		require.True(t, utf8.ValidString(chunk), "chunk %d is not valid UTF-8", i)
	}

	runes := []rune(text)
	require.Equal(t, string(runes[0:1200]), chunks[0])
	require.Equal(t, string(runes[1000:2100]), chunks[1])
}

func TestSplitMultibyteOverlapCountsCharacters(t *testing.T) {
	text := strings.Repeat("héllo wörld", 40)
	size, overlap := 50, 10
	chunks := newChunker(ChunkOptions{Size: size, Overlap: intPtr(overlap)}).split(text)

	require.Greater(t, len(chunks), 1)
	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1])
		curr := []rune(chunks[i])
		require.Equal(t, string(prev[len(prev)-overlap:]), string(curr[:overlap]))
	}
}

func TestSplitShortText(t *testing.T) {
	chunks := newChunker(ChunkOptions{}).split("hello")
	require.Equal(t, []string{"hello"}, chunks)
}

func TestSplitEmptyAndWhitespace(t *testing.T) {
	c := newChunker(ChunkOptions{})
	require.Empty(t, c.split(""))
	require.Empty(t, c.split("   \n\t  "))
}

func TestSplitDropsWhitespaceOnlyWindows(t *testing.T) {
	text := "abcd" + strings.Repeat(" ", 8) + "wxyz"
	chunks := newChunker(ChunkOptions{Size: 4, Overlap: intPtr(0)}).split(text)

	require.Equal(t, []string{"abcd", "wxyz"}, chunks)
}

func TestSplitClampsOversizedOverlap(t *testing.T) {
	text := patternText(12)
	chunks := newChunker(ChunkOptions{Size: 10, Overlap: intPtr(25)}).split(text)

	// overlap clamps to size-1, so the window advances one byte per step.
	require.Len(t, chunks, 3)
	require.Equal(t, text[0:10], chunks[0])
	require.Equal(t, text[1:11], chunks[1])
	require.Equal(t, text[2:12], chunks[2])
}
