package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Source is a crawled origin (site, repository, uploaded document set).
// Deleting a source cascades to its pages and code examples.
type Source struct {
	ID          surrealmodels.RecordID `json:"id"`
	URL         string                 `json:"url"`
	DisplayName string                 `json:"display_name"`
	Metadata    map[string]any         `json:"metadata,omitempty"`
	LastCrawled *time.Time             `json:"last_crawled,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// Page is one stored content chunk of a crawled document. Exactly one of the
// per-dimension embedding columns is populated, selected by the active
// provider's dimension.
type Page struct {
	ID          surrealmodels.RecordID `json:"id"`
	SourceID    string                 `json:"source_id"`
	URL         string                 `json:"url"`
	Content     string                 `json:"content"`
	ChunkNumber int                    `json:"chunk_number"`

	Embedding384  []float32 `json:"embedding_384,omitempty"`
	Embedding768  []float32 `json:"embedding_768,omitempty"`
	Embedding1024 []float32 `json:"embedding_1024,omitempty"`
	Embedding1536 []float32 `json:"embedding_1536,omitempty"`
	Embedding3072 []float32 `json:"embedding_3072,omitempty"`
	Embedding3584 []float32 `json:"embedding_3584,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// CodeExample is an extracted, summarized and optionally embedded code block.
// The embedding is nil when generation failed; the artifact is kept so
// full-text search still works when semantic search degrades.
type CodeExample struct {
	ID       surrealmodels.RecordID `json:"id"`
	SourceID string                 `json:"source_id"`
	PageID   *string                `json:"page_id,omitempty"`
	Code     string                 `json:"code"`
	Summary  *string                `json:"summary,omitempty"`
	Language *string                `json:"language,omitempty"`

	Embedding384  []float32 `json:"embedding_384,omitempty"`
	Embedding768  []float32 `json:"embedding_768,omitempty"`
	Embedding1024 []float32 `json:"embedding_1024,omitempty"`
	Embedding1536 []float32 `json:"embedding_1536,omitempty"`
	Embedding3072 []float32 `json:"embedding_3072,omitempty"`
	Embedding3584 []float32 `json:"embedding_3584,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
