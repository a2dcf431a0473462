package db

import (
	"context"
	"fmt"

	"github.com/ljutzkanovltd/codeharvest/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// SupportedDimensions lists the vector widths the schema carries columns and
// HNSW indexes for. Different providers produce different widths; the write
// and read paths both select the column matching the active dimension.
var SupportedDimensions = []int{384, 768, 1024, 1536, 3072, 3584}

// vectorColumnFor maps an embedding dimension to its column name so callers
// never hardcode column names.
func vectorColumnFor(dimension int) (string, error) {
	for _, d := range SupportedDimensions {
		if d == dimension {
			return fmt.Sprintf("embedding_%d", d), nil
		}
	}
	return "", fmt.Errorf("unsupported embedding dimension: %d", dimension)
}

// UpsertPage writes one content chunk, storing its vector in the column
// matching the dimension. A nil vector stores the page without an embedding.
func (c *Client) UpsertPage(ctx context.Context, id string, page models.Page, vector []float32, dimension int) (*models.Page, error) {
	embeddingClause := ""
	vars := map[string]any{
		"id":           id,
		"source_id":    page.SourceID,
		"url":          page.URL,
		"content":      page.Content,
		"chunk_number": page.ChunkNumber,
	}
	if vector != nil {
		column, err := vectorColumnFor(dimension)
		if err != nil {
			return nil, err
		}
		embeddingClause = fmt.Sprintf(", %s = $embedding", column)
		vars["embedding"] = vector
	}

	sql := fmt.Sprintf(`
		UPSERT type::record("page", $id) SET
			source_id = $source_id,
			url = $url,
			content = $content,
			chunk_number = $chunk_number%s
		RETURN AFTER
	`, embeddingClause)

	results, err := surrealdb.Query[[]models.Page](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("upsert page: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("upsert page: no result returned")
	}
	return &(*results)[0].Result[0], nil
}

// CodeExampleInput carries the fields stored for one extracted block.
type CodeExampleInput struct {
	SourceID string
	PageID   *string
	Code     string
	Summary  *string
	Language *string
	// Vector is nil when embedding generation failed; the example is still
	// stored so full-text search keeps working.
	Vector    []float32
	Dimension int
}

// InsertCodeExample persists one extracted code block.
func (c *Client) InsertCodeExample(ctx context.Context, id string, in CodeExampleInput) (*models.CodeExample, error) {
	embeddingClause := ""
	vars := map[string]any{
		"id":        id,
		"source_id": in.SourceID,
		"page_id":   in.PageID,
		"code":      in.Code,
		"summary":   in.Summary,
		"language":  in.Language,
	}
	if in.Vector != nil {
		column, err := vectorColumnFor(in.Dimension)
		if err != nil {
			return nil, err
		}
		embeddingClause = fmt.Sprintf(", %s = $embedding", column)
		vars["embedding"] = in.Vector
	}

	sql := fmt.Sprintf(`
		CREATE type::record("code_example", $id) SET
			source_id = $source_id,
			page_id = $page_id,
			code = $code,
			summary = $summary,
			language = $language%s
		RETURN AFTER
	`, embeddingClause)

	results, err := surrealdb.Query[[]models.CodeExample](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("insert code example: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("insert code example: no result returned")
	}
	return &(*results)[0].Result[0], nil
}

// DeleteSourceData bulk-deletes all pages and code examples for a source.
// This path runs on every re-crawl and relies on the source_id indexes.
func (c *Client) DeleteSourceData(ctx context.Context, sourceID string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		DELETE page WHERE source_id = $source_id;
		DELETE code_example WHERE source_id = $source_id;
	`, map[string]any{"source_id": sourceID})
	if err != nil {
		return fmt.Errorf("delete source data: %w", wrapQueryError(err))
	}
	return nil
}

// SearchPages runs a vector KNN search against the column matching the
// active provider's dimension.
func (c *Client) SearchPages(ctx context.Context, embedding []float32, dimension, limit int) ([]models.Page, error) {
	column, err := vectorColumnFor(dimension)
	if err != nil {
		return nil, err
	}

	sql := fmt.Sprintf(`
		SELECT * FROM page
		WHERE %s <|%d,40|> $embedding
	`, column, limit)

	results, err := surrealdb.Query[[]models.Page](ctx, c.db, sql, map[string]any{"embedding": embedding})
	if err != nil {
		return nil, fmt.Errorf("search pages: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return []models.Page{}, nil
	}
	return (*results)[0].Result, nil
}

// SearchCodeExamples runs a vector KNN search over code examples.
func (c *Client) SearchCodeExamples(ctx context.Context, embedding []float32, dimension, limit int) ([]models.CodeExample, error) {
	column, err := vectorColumnFor(dimension)
	if err != nil {
		return nil, err
	}

	sql := fmt.Sprintf(`
		SELECT * FROM code_example
		WHERE %s <|%d,40|> $embedding
	`, column, limit)

	results, err := surrealdb.Query[[]models.CodeExample](ctx, c.db, sql, map[string]any{"embedding": embedding})
	if err != nil {
		return nil, fmt.Errorf("search code examples: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return []models.CodeExample{}, nil
	}
	return (*results)[0].Result, nil
}
