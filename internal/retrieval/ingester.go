package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/helpdesk-agent/internal/models"
	"go.uber.org/zap"
)

// ArticleSource loads knowledge base articles.
type ArticleSource interface {
	GetArticle(ctx context.Context, id string) (*models.KnowledgeArticle, error)
	ListArticles(ctx context.Context) ([]models.KnowledgeArticle, error)
}

type IngestRequest struct {
	ArticleID string
	// Text overrides the stored article body when non-empty.
	Text      string
	ChunkSize int
	// Overlap falls back to the ingester's overlap when nil. Zero is a
	// valid request for disjoint chunks.
	Overlap *int
}

type IngestResult struct {
	ArticleID string `json:"articleId"`
	Chunks    int    `json:"chunks"`
	Removed   bool   `json:"removed,omitempty"`
}

type Ingester struct {
	articles ArticleSource
	embedder Embedder
	index    Index
	size     int
	overlap  int
	logger   *zap.Logger
}

func NewIngester(articles ArticleSource, embedder Embedder, index Index, chunkSize, overlap int, logger *zap.Logger) *Ingester {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultOverlap
	}
	return &Ingester{
		articles: articles,
		embedder: embedder,
		index:    index,
		size:     chunkSize,
		overlap:  overlap,
		logger:   logger,
	}
}

// Ingest chunks and embeds an article and replaces whatever the index held
// for it. Articles that are not public and active are dropped from the index.
func (i *Ingester) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	article, err := i.articles.GetArticle(ctx, req.ArticleID)
	if err != nil {
		return nil, fmt.Errorf("error loading article: %w", err)
	}

	if !article.Searchable() {
		if err := i.index.RemoveArticleChunks(ctx, article.ID); err != nil {
			return nil, err
		}
		i.logger.Info("Removed non-searchable article from index", zap.String("article_id", article.ID))
		return &IngestResult{ArticleID: article.ID, Removed: true}, nil
	}

	size := req.ChunkSize
	if size <= 0 {
		size = i.size
	}
	overlap := i.overlap
	switch {
	case req.Overlap != nil:
		overlap = *req.Overlap
	case overlap >= size:
		// a small explicit chunk size cannot carry the configured overlap
		overlap = 0
	}

	text := req.Text
	if text == "" {
		text = article.Body
	}

	texts, err := ChunkText(text, size, overlap)
	if err != nil {
		return nil, err
	}

	var vectors [][]float32
	if len(texts) > 0 {
		vectors, err = i.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("error embedding article %s: %w", article.ID, err)
		}
	}

	now := time.Now()
	chunks := make([]models.ArticleChunk, len(texts))
	for n, t := range texts {
		chunks[n] = models.ArticleChunk{
			ID:        uuid.New().String(),
			ArticleID: article.ID,
			ChunkText: t,
			Embedding: vectors[n],
			CreatedAt: now,
		}
	}

	if err := i.index.ReplaceArticleChunks(ctx, *article, chunks); err != nil {
		return nil, err
	}

	i.logger.Info("Indexed article",
		zap.String("article_id", article.ID),
		zap.Int("chunks", len(chunks)))
	return &IngestResult{ArticleID: article.ID, Chunks: len(chunks)}, nil
}

// Reindex ingests every stored article with default chunking.
func (i *Ingester) Reindex(ctx context.Context) (int, error) {
	articles, err := i.articles.ListArticles(ctx)
	if err != nil {
		return 0, err
	}

	indexed := 0
	for _, a := range articles {
		res, err := i.Ingest(ctx, IngestRequest{ArticleID: a.ID})
		if err != nil {
			return indexed, err
		}
		if !res.Removed {
			indexed++
		}
	}
	return indexed, nil
}
