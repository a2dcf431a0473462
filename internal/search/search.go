// Package search performs semantic lookup over stored pages and code
// examples. Queries are embedded with the same provider the pipeline used,
// so results come from the vector column matching the active dimension.
package search

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ljutzkanovltd/codeharvest/internal/models"
)

// Kind selects which artifact tables a search touches.
type Kind string

const (
	KindAll      Kind = "all"
	KindPages    Kind = "pages"
	KindExamples Kind = "code"
)

const defaultLimit = 10

// snippetLength bounds page content in results; full pages can be several
// thousand characters of chunked prose.
const snippetLength = 500

// Store is the vector-search surface. *db.Client implements it.
type Store interface {
	SearchPages(ctx context.Context, embedding []float32, dimension, limit int) ([]models.Page, error)
	SearchCodeExamples(ctx context.Context, embedding []float32, dimension, limit int) ([]models.CodeExample, error)
}

// Embedder generates query embeddings. *llm.Service implements it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Options configures one search.
type Options struct {
	Query string
	Kind  Kind
	Limit int
}

// PageResult is one matched documentation chunk.
type PageResult struct {
	ID          string `json:"id"`
	SourceID    string `json:"source_id"`
	URL         string `json:"url"`
	Snippet     string `json:"snippet"`
	ChunkNumber int    `json:"chunk_number"`
}

// ExampleResult is one matched code example.
type ExampleResult struct {
	ID       string  `json:"id"`
	SourceID string  `json:"source_id"`
	PageID   *string `json:"page_id,omitempty"`
	Code     string  `json:"code"`
	Summary  *string `json:"summary,omitempty"`
	Language *string `json:"language,omitempty"`
}

// Results groups matches per artifact kind.
type Results struct {
	Pages    []PageResult    `json:"pages,omitempty"`
	Examples []ExampleResult `json:"examples,omitempty"`
}

// Service runs semantic searches.
type Service struct {
	store    Store
	embedder Embedder
	logger   *slog.Logger
}

// New creates a search service.
func New(store Store, embedder Embedder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, embedder: embedder, logger: logger}
}

// Search embeds the query and runs KNN lookups per requested kind.
func (s *Service) Search(ctx context.Context, opts Options) (*Results, error) {
	if opts.Query == "" {
		return nil, fmt.Errorf("empty query")
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultLimit
	}
	switch opts.Kind {
	case KindAll, KindPages, KindExamples:
	case "":
		opts.Kind = KindAll
	default:
		return nil, fmt.Errorf("unknown search kind %q", opts.Kind)
	}

	embedding, err := s.embedder.Embed(ctx, opts.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	dimension := s.embedder.Dimension()

	results := &Results{}

	if opts.Kind == KindAll || opts.Kind == KindPages {
		pages, err := s.store.SearchPages(ctx, embedding, dimension, opts.Limit)
		if err != nil {
			return nil, fmt.Errorf("search pages: %w", err)
		}
		for _, p := range pages {
			results.Pages = append(results.Pages, toPageResult(p))
		}
	}

	if opts.Kind == KindAll || opts.Kind == KindExamples {
		examples, err := s.store.SearchCodeExamples(ctx, embedding, dimension, opts.Limit)
		if err != nil {
			return nil, fmt.Errorf("search code examples: %w", err)
		}
		for _, e := range examples {
			results.Examples = append(results.Examples, toExampleResult(e))
		}
	}

	s.logger.Debug("search finished",
		"query", opts.Query,
		"kind", opts.Kind,
		"pages", len(results.Pages),
		"examples", len(results.Examples))
	return results, nil
}

func toPageResult(p models.Page) PageResult {
	snippet := p.Content
	if len(snippet) > snippetLength {
		snippet = snippet[:snippetLength] + "..."
	}
	id, err := models.RecordIDString(p.ID)
	if err != nil {
		id = p.ID.String()
	}
	return PageResult{
		ID:          id,
		SourceID:    p.SourceID,
		URL:         p.URL,
		Snippet:     snippet,
		ChunkNumber: p.ChunkNumber,
	}
}

func toExampleResult(e models.CodeExample) ExampleResult {
	id, err := models.RecordIDString(e.ID)
	if err != nil {
		id = e.ID.String()
	}
	return ExampleResult{
		ID:       id,
		SourceID: e.SourceID,
		PageID:   e.PageID,
		Code:     e.Code,
		Summary:  e.Summary,
		Language: e.Language,
	}
}
