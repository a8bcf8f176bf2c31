package retrieval

import "strings"

const (
	defaultChunkSize    = 1200
	defaultChunkOverlap = 200
)

// ChunkOptions controls the sliding window used to split document text.
// Overlap is a pointer so an explicit 0 (disjoint windows) can be told apart
// from an absent value (default 200).
type ChunkOptions struct {
	Size    int  `json:"size"`
	Overlap *int `json:"overlap"`
}

type chunker struct {
	size    int
	overlap int
}

func newChunker(opts ChunkOptions) *chunker {
	size := opts.Size
	if size <= 0 {
		size = defaultChunkSize
	}
	overlap := defaultChunkOverlap
	if opts.Overlap != nil && *opts.Overlap >= 0 {
		overlap = *opts.Overlap
	}
	// overlap >= size would collapse the stride; clamp, never loop.
	if overlap >= size {
		overlap = size - 1
	}
	return &chunker{size: size, overlap: overlap}
}

// split advances a window of c.size characters across text with stride
// size−overlap, emitting the final window when it reaches the end. Size and
// overlap count runes, not bytes, so multi-byte text never breaks mid
// character. Whitespace-only chunks are dropped; surviving chunks keep their
// original text and order.
func (c *chunker) split(text string) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	step := c.size - c.overlap
	if step < 1 {
		step = 1
	}
	chunks := make([]string, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}
		piece := string(runes[start:end])
		if strings.TrimSpace(piece) != "" {
			chunks = append(chunks, piece)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}
