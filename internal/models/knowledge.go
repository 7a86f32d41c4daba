package models

import "time"

// KnowledgeArticle is a knowledge base article.
type KnowledgeArticle struct {
	ID         string    `json:"id" yaml:"id"`
	Name       string    `json:"name" yaml:"name"`
	Body       string    `json:"body" yaml:"body"`
	IsPublic   bool      `json:"is_public" yaml:"is_public"`
	IsActive   bool      `json:"is_active" yaml:"is_active"`
	CategoryID string    `json:"category_id" yaml:"category_id"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
}

// Searchable reports whether the article may be offered to customers.
func (a KnowledgeArticle) Searchable() bool {
	return a.IsPublic && a.IsActive
}

// ArticleChunk is an embedded slice of an article body.
type ArticleChunk struct {
	ID        string    `json:"id"`
	ArticleID string    `json:"article_id"`
	ChunkText string    `json:"chunk_text"`
	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// ChunkMatch is a chunk returned by a similarity search.
type ChunkMatch struct {
	ArticleID   string
	ArticleName string
	ChunkText   string
	Similarity  float32
}
