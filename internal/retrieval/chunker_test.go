package retrieval

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkText(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		size    int
		overlap int
		lengths []int
	}{
		{name: "defaults over long text", text: strings.Repeat("a", 2500), size: 1000, overlap: 50, lengths: []int{1000, 1000, 600}},
		{name: "shorter than one chunk", text: "hello", size: 1000, overlap: 50, lengths: []int{5}},
		{name: "tail chunks shrink", text: strings.Repeat("b", 10), size: 5, overlap: 2, lengths: []int{5, 5, 4, 1}},
		{name: "no overlap", text: strings.Repeat("c", 10), size: 5, overlap: 0, lengths: []int{5, 5}},
		{name: "empty text", text: "", size: 10, overlap: 2, lengths: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := ChunkText(tt.text, tt.size, tt.overlap)
			require.NoError(t, err)

			var lengths []int
			for _, c := range chunks {
				lengths = append(lengths, len([]rune(c)))
			}
			assert.Equal(t, tt.lengths, lengths)
		})
	}
}

func TestChunkText_OverlapAndCoverage(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 317; i++ {
		sb.WriteString(string(rune('a' + i%26)))
	}
	text := sb.String()

	chunks, err := ChunkText(text, 40, 7)
	require.NoError(t, err)

	rebuilt := chunks[0]
	for i := 1; i < len(chunks); i++ {
		prev, cur := chunks[i-1], chunks[i]
		assert.LessOrEqual(t, len(cur), 40)
		assert.Equal(t, prev[len(prev)-7:], cur[:7], "chunk %d must start with the tail of chunk %d", i, i-1)
		rebuilt += cur[7:]
	}
	assert.Equal(t, text, rebuilt)
}

func TestChunkText_CountsRunes(t *testing.T) {
	chunks, err := ChunkText("héllo wörld", 5, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"héllo", "o wör", "rld"}, chunks)
}

func TestChunkText_InvalidParameters(t *testing.T) {
	_, err := ChunkText("text", 0, 0)
	assert.ErrorIs(t, err, ErrInvalidChunking)

	_, err = ChunkText("text", 10, 10)
	assert.ErrorIs(t, err, ErrInvalidChunking)

	_, err = ChunkText("text", 10, -1)
	assert.ErrorIs(t, err, ErrInvalidChunking)
}
