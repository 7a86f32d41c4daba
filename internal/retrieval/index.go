package retrieval

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/xaenox/helpdesk-agent/internal/models"
)

// Index stores article chunk embeddings and answers similarity queries.
// Only chunks of searchable articles are ever returned.
type Index interface {
	ReplaceArticleChunks(ctx context.Context, article models.KnowledgeArticle, chunks []models.ArticleChunk) error
	RemoveArticleChunks(ctx context.Context, articleID string) error
	SearchArticleChunks(ctx context.Context, embedding []float32, threshold float32, limit int) ([]models.ChunkMatch, error)
}

const chunkCollection = "article_chunks"

// ChromemIndex is an in-process Index backed by a chromem-go collection.
type ChromemIndex struct {
	// searches read-lock mu so the result count never exceeds the collection size
	mu  sync.RWMutex
	col *chromem.Collection
}

func NewChromemIndex() (*ChromemIndex, error) {
	db := chromem.NewDB()
	col, err := db.GetOrCreateCollection(chunkCollection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating chunk collection: %w", err)
	}
	return &ChromemIndex{col: col}, nil
}

func (x *ChromemIndex) ReplaceArticleChunks(ctx context.Context, article models.KnowledgeArticle, chunks []models.ArticleChunk) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.col.Delete(ctx, map[string]string{"article_id": article.ID}, nil); err != nil {
		return fmt.Errorf("error deleting chunks of article %s: %w", article.ID, err)
	}
	if len(chunks) == 0 {
		return nil
	}

	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = chromem.Document{
			ID: c.ID,
			Metadata: map[string]string{
				"article_id":   article.ID,
				"article_name": article.Name,
			},
			Embedding: c.Embedding,
			Content:   c.ChunkText,
		}
	}
	if err := x.col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("error indexing chunks of article %s: %w", article.ID, err)
	}
	return nil
}

func (x *ChromemIndex) RemoveArticleChunks(ctx context.Context, articleID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.col.Delete(ctx, map[string]string{"article_id": articleID}, nil); err != nil {
		return fmt.Errorf("error deleting chunks of article %s: %w", articleID, err)
	}
	return nil
}

func (x *ChromemIndex) SearchArticleChunks(ctx context.Context, embedding []float32, threshold float32, limit int) ([]models.ChunkMatch, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	n := min(limit, x.col.Count())
	if n <= 0 {
		return nil, nil
	}

	results, err := x.col.QueryEmbedding(ctx, embedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("error querying chunk index: %w", err)
	}

	matches := make([]models.ChunkMatch, 0, len(results))
	for _, r := range results {
		if r.Similarity < threshold {
			continue
		}
		matches = append(matches, models.ChunkMatch{
			ArticleID:   r.Metadata["article_id"],
			ArticleName: r.Metadata["article_name"],
			ChunkText:   r.Content,
			Similarity:  r.Similarity,
		})
	}
	return matches, nil
}
