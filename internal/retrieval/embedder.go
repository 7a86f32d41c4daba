package retrieval

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ErrEmbedding marks failures of the embedding provider.
var ErrEmbedding = errors.New("embedding provider failure")

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

const defaultEmbeddingBatch = 64

type OpenAIEmbedder struct {
	client    *openai.Client
	model     openai.EmbeddingModel
	batchSize int
	logger    *zap.Logger
}

func NewOpenAIEmbedder(client *openai.Client, model string, logger *zap.Logger) *OpenAIEmbedder {
	if model == "" {
		model = string(openai.AdaEmbeddingV2)
	}
	return &OpenAIEmbedder{
		client:    client,
		model:     openai.EmbeddingModel(model),
		batchSize: defaultEmbeddingBatch,
		logger:    logger,
	}
}

// Embed returns one vector per input text, in input order.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		batch := texts[start:end]

		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: batch,
			Model: e.model,
		})
		if err != nil {
			e.logger.Error("Failed to create embeddings", zap.Error(err), zap.Int("batch_size", len(batch)))
			return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
		}
		if len(resp.Data) != len(batch) {
			return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrEmbedding, len(batch), len(resp.Data))
		}

		for i, d := range resp.Data {
			idx := i
			if d.Index >= 0 && d.Index < len(batch) {
				idx = d.Index
			}
			out[start+idx] = d.Embedding
		}
	}
	return out, nil
}
