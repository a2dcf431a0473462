package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ljutzkanovltd/codeharvest/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// UpsertSource creates or updates a source by ID, preserving created_at and
// last_crawled on update.
func (c *Client) UpsertSource(ctx context.Context, id, url, displayName string, metadata map[string]any) (*models.Source, error) {
	results, err := surrealdb.Query[[]models.Source](ctx, c.db, `
		UPSERT type::record("source", $id) SET
			url = $url,
			display_name = $display_name,
			metadata = $metadata
		RETURN AFTER
	`, map[string]any{
		"id":           id,
		"url":          url,
		"display_name": displayName,
		"metadata":     metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("upsert source: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("upsert source: no result returned")
	}
	return &(*results)[0].Result[0], nil
}

// GetSourceByURL returns the source for a URL, or ErrNotFound.
func (c *Client) GetSourceByURL(ctx context.Context, url string) (*models.Source, error) {
	results, err := surrealdb.Query[[]models.Source](ctx, c.db, `
		SELECT * FROM source WHERE url = $url LIMIT 1
	`, map[string]any{"url": url})
	if err != nil {
		return nil, fmt.Errorf("get source by url: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, ErrNotFound
	}
	return &(*results)[0].Result[0], nil
}

// TouchSourceCrawled records a successful crawl of the source.
func (c *Client) TouchSourceCrawled(ctx context.Context, id string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("source", $id) SET last_crawled = time::now()
	`, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("touch source crawled: %w", wrapQueryError(err))
	}
	return nil
}

// RecentlyCrawled reports whether the URL's source was crawled within the
// dedup window. Used to reject duplicate enqueues unless force is set.
func (c *Client) RecentlyCrawled(ctx context.Context, url string, window time.Duration) (bool, error) {
	source, err := c.GetSourceByURL(ctx, url)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if source.LastCrawled == nil {
		return false, nil
	}
	return time.Since(*source.LastCrawled) < window, nil
}

// DeleteSource removes a source and cascades deletion of its pages and code
// examples.
func (c *Client) DeleteSource(ctx context.Context, id string) error {
	if err := c.DeleteSourceData(ctx, id); err != nil {
		return err
	}
	_, err := surrealdb.Query[any](ctx, c.db, `
		DELETE type::record("source", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("delete source: %w", wrapQueryError(err))
	}
	return nil
}
