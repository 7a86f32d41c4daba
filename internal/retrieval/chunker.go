package retrieval

import (
	"errors"
	"fmt"
)

const (
	DefaultChunkSize = 1000
	DefaultOverlap   = 50
)

var ErrInvalidChunking = errors.New("invalid chunking parameters")

// ChunkText splits text into windows of at most size runes. Each window
// starts size-overlap runes after the previous one, so consecutive chunks
// share overlap runes.
func ChunkText(text string, size, overlap int) ([]string, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size %d must be positive", ErrInvalidChunking, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidChunking, overlap, size)
	}

	runes := []rune(text)
	var chunks []string
	for start := 0; start < len(runes); {
		end := min(start+size, len(runes))
		chunks = append(chunks, string(runes[start:end]))
		start = max(start+size-overlap, 0)
	}
	return chunks, nil
}
