package retrieval

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

const (
	RelevanceHigh     = "highly_relevant"
	RelevancePossible = "possibly_relevant"

	DefaultTopK          = 3
	DefaultThreshold     = 0.70
	DefaultHighThreshold = 0.85
)

// Article is one knowledge base hit as presented to the model.
type Article struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	RelevantChunk   string  `json:"relevant_chunk"`
	SimilarityScore float32 `json:"similarity_score"`
	Relevance       string  `json:"relevance"`
}

// SearchResult groups hits by relevance tier, each in descending similarity.
type SearchResult struct {
	HighlyRelevant   []Article `json:"highly_relevant"`
	PossiblyRelevant []Article `json:"possibly_relevant"`
}

func (r SearchResult) Empty() bool {
	return len(r.HighlyRelevant) == 0 && len(r.PossiblyRelevant) == 0
}

type RetrieverConfig struct {
	TopK          int
	Threshold     float32
	HighThreshold float32
}

type Retriever struct {
	embedder Embedder
	index    Index
	config   RetrieverConfig
	logger   *zap.Logger
}

func NewRetriever(embedder Embedder, index Index, config RetrieverConfig, logger *zap.Logger) *Retriever {
	if config.TopK <= 0 {
		config.TopK = DefaultTopK
	}
	if config.Threshold <= 0 {
		config.Threshold = DefaultThreshold
	}
	if config.HighThreshold <= 0 {
		config.HighThreshold = DefaultHighThreshold
	}
	return &Retriever{
		embedder: embedder,
		index:    index,
		config:   config,
		logger:   logger,
	}
}

func (r *Retriever) Search(ctx context.Context, query string) (*SearchResult, error) {
	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("error embedding query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: expected 1 query embedding, got %d", ErrEmbedding, len(vectors))
	}

	matches, err := r.index.SearchArticleChunks(ctx, vectors[0], r.config.Threshold, r.config.TopK)
	if err != nil {
		return nil, fmt.Errorf("error searching knowledge base: %w", err)
	}

	articles := make([]Article, 0, len(matches))
	for _, m := range matches {
		if m.Similarity < r.config.Threshold {
			continue
		}
		relevance := RelevancePossible
		if m.Similarity >= r.config.HighThreshold {
			relevance = RelevanceHigh
		}
		articles = append(articles, Article{
			ID:              m.ArticleID,
			Name:            m.ArticleName,
			RelevantChunk:   m.ChunkText,
			SimilarityScore: m.Similarity,
			Relevance:       relevance,
		})
	}
	sort.SliceStable(articles, func(i, j int) bool {
		return articles[i].SimilarityScore > articles[j].SimilarityScore
	})
	if len(articles) > r.config.TopK {
		articles = articles[:r.config.TopK]
	}

	result := &SearchResult{HighlyRelevant: []Article{}, PossiblyRelevant: []Article{}}
	for _, a := range articles {
		if a.Relevance == RelevanceHigh {
			result.HighlyRelevant = append(result.HighlyRelevant, a)
		} else {
			result.PossiblyRelevant = append(result.PossiblyRelevant, a)
		}
	}

	r.logger.Debug("Knowledge base search",
		zap.Int("highly_relevant", len(result.HighlyRelevant)),
		zap.Int("possibly_relevant", len(result.PossiblyRelevant)))
	return result, nil
}
