package db

import (
	"context"
	"fmt"
	"time"

	"github.com/ljutzkanovltd/codeharvest/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// claimAttempts bounds how many candidate rows a single ClaimNext call will
// race for before giving up and reporting an empty queue pass.
const claimAttempts = 5

// QueueItemInput carries the fields set at enqueue time.
type QueueItemInput struct {
	SourceRef           string
	SourceID            *string
	BatchID             *string
	Priority            int
	MaxRetries          int
	ExtractCodeExamples bool
}

// CreateQueueItem inserts a new pending queue item under the given ID.
func (c *Client) CreateQueueItem(ctx context.Context, id string, in QueueItemInput) (*models.QueueItem, error) {
	results, err := surrealdb.Query[[]models.QueueItem](ctx, c.db, `
		CREATE type::record("queue_item", $id) SET
			source_ref = $source_ref,
			source_id = $source_id,
			batch_id = $batch_id,
			status = 'pending',
			priority = $priority,
			retry_count = 0,
			max_retries = $max_retries,
			requires_human_review = false,
			extract_code_examples = $extract,
			created_at = time::now()
		RETURN AFTER
	`, map[string]any{
		"id":          id,
		"source_ref":  in.SourceRef,
		"source_id":   in.SourceID,
		"batch_id":    in.BatchID,
		"priority":    in.Priority,
		"max_retries": in.MaxRetries,
		"extract":     in.ExtractCodeExamples,
	})
	if err != nil {
		return nil, fmt.Errorf("create queue item: %w", wrapQueryError(err))
	}
	return firstResult(results, "create queue item")
}

// GetQueueItem retrieves a queue item by ID. Returns ErrNotFound if missing.
func (c *Client) GetQueueItem(ctx context.Context, id string) (*models.QueueItem, error) {
	results, err := surrealdb.Query[[]models.QueueItem](ctx, c.db, `
		SELECT * FROM type::record("queue_item", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get queue item: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, ErrNotFound
	}
	return &(*results)[0].Result[0], nil
}

// ClaimNext atomically claims the highest-priority, oldest-created pending
// item for the given worker and transitions it to running. Returns (nil, nil)
// when no item is claimable.
//
// The claim is a compare-and-swap: the status='pending' guard on the UPDATE
// means at most one worker wins a given row; losers move to the next
// candidate.
func (c *Client) ClaimNext(ctx context.Context, workerID string) (*models.QueueItem, error) {
	for attempt := 0; attempt < claimAttempts; attempt++ {
		candidates, err := surrealdb.Query[[]models.QueueItem](ctx, c.db, `
			SELECT * FROM queue_item
			WHERE status = 'pending'
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
		`, nil)
		if err != nil {
			return nil, fmt.Errorf("select claim candidate: %w", wrapQueryError(err))
		}
		if candidates == nil || len(*candidates) == 0 || len((*candidates)[0].Result) == 0 {
			return nil, nil
		}
		candidate := (*candidates)[0].Result[0]

		claimed, err := surrealdb.Query[[]models.QueueItem](ctx, c.db, `
			UPDATE type::record("queue_item", $id) SET
				status = 'running',
				claimed_by = $worker,
				started_at = time::now()
			WHERE status = 'pending'
			RETURN AFTER
		`, map[string]any{
			"id":     candidate.ID.ID,
			"worker": workerID,
		})
		if err != nil {
			return nil, fmt.Errorf("claim item: %w", wrapQueryError(err))
		}
		if claimed != nil && len(*claimed) > 0 && len((*claimed)[0].Result) > 0 {
			return &(*claimed)[0].Result[0], nil
		}
		// Lost the race for this row; try the next candidate.
	}
	// Pending work exists but other workers took every candidate.
	return nil, ErrClaimConflict
}

// CompleteQueueItem transitions a running item to completed. The
// status='running' guard keeps a concurrent cancellation from being
// overwritten.
func (c *Client) CompleteQueueItem(ctx context.Context, id string) (*models.QueueItem, error) {
	results, err := surrealdb.Query[[]models.QueueItem](ctx, c.db, `
		UPDATE type::record("queue_item", $id) SET
			status = 'completed',
			completed_at = time::now(),
			claimed_by = NONE,
			error_type = NONE,
			error_message = NONE
		WHERE status = 'running'
		RETURN AFTER
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("complete queue item: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, ErrInvalidTransition
	}
	return &(*results)[0].Result[0], nil
}

// FailureUpdate carries the retry-policy outcome persisted on failure.
type FailureUpdate struct {
	ErrorType    string
	ErrorMessage string
	ErrorDetails map[string]any
	RetryCount   int
	HumanReview  bool
	NextRetryAt  *time.Time
}

// FailQueueItem transitions a running item to failed with retry bookkeeping
// decided by the retry policy.
func (c *Client) FailQueueItem(ctx context.Context, id string, up FailureUpdate) (*models.QueueItem, error) {
	results, err := surrealdb.Query[[]models.QueueItem](ctx, c.db, `
		UPDATE type::record("queue_item", $id) SET
			status = 'failed',
			claimed_by = NONE,
			retry_count = $retry_count,
			error_type = $error_type,
			error_message = $error_message,
			error_details = $error_details,
			requires_human_review = $human_review,
			last_retry_at = time::now(),
			next_retry_at = $next_retry_at
		WHERE status = 'running'
		RETURN AFTER
	`, map[string]any{
		"id":            id,
		"retry_count":   up.RetryCount,
		"error_type":    up.ErrorType,
		"error_message": up.ErrorMessage,
		"error_details": up.ErrorDetails,
		"human_review":  up.HumanReview,
		"next_retry_at": up.NextRetryAt,
	})
	if err != nil {
		return nil, fmt.Errorf("fail queue item: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, ErrInvalidTransition
	}
	return &(*results)[0].Result[0], nil
}

// CancelQueueItem flips a pending or running item to cancelled. Returns the
// item and whether this call changed anything; cancelling an already-terminal
// item is a no-op, not an error.
func (c *Client) CancelQueueItem(ctx context.Context, id string) (*models.QueueItem, bool, error) {
	results, err := surrealdb.Query[[]models.QueueItem](ctx, c.db, `
		UPDATE type::record("queue_item", $id) SET
			status = 'cancelled',
			completed_at = time::now(),
			claimed_by = NONE
		WHERE status IN ['pending', 'running']
		RETURN AFTER
	`, map[string]any{"id": id})
	if err != nil {
		return nil, false, fmt.Errorf("cancel queue item: %w", wrapQueryError(err))
	}
	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		return &(*results)[0].Result[0], true, nil
	}

	item, err := c.GetQueueItem(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return item, false, nil
}

// RequeueItem moves a retryable failed item back to pending. The guards
// mirror the retry policy: exhausted or escalated items never return to the
// queue without an explicit manual reset.
func (c *Client) RequeueItem(ctx context.Context, id string) (bool, error) {
	results, err := surrealdb.Query[[]models.QueueItem](ctx, c.db, `
		UPDATE type::record("queue_item", $id) SET
			status = 'pending',
			next_retry_at = NONE
		WHERE status = 'failed'
			AND requires_human_review = false
			AND retry_count < max_retries
		RETURN AFTER
	`, map[string]any{"id": id})
	if err != nil {
		return false, fmt.Errorf("requeue item: %w", wrapQueryError(err))
	}
	return results != nil && len(*results) > 0 && len((*results)[0].Result) > 0, nil
}

// RetryCandidates returns failed items whose backoff has expired, ordered by
// next_retry_at ascending.
func (c *Client) RetryCandidates(ctx context.Context, now time.Time, limit int) ([]models.QueueItem, error) {
	results, err := surrealdb.Query[[]models.QueueItem](ctx, c.db, `
		SELECT * FROM queue_item
		WHERE status = 'failed'
			AND requires_human_review = false
			AND retry_count < max_retries
			AND next_retry_at != NONE
			AND next_retry_at <= $now
		ORDER BY next_retry_at ASC
		LIMIT $limit
	`, map[string]any{"now": now, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("retry candidates: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return []models.QueueItem{}, nil
	}
	return (*results)[0].Result, nil
}

// ListHumanReview returns items flagged for manual triage, newest first.
func (c *Client) ListHumanReview(ctx context.Context, limit int) ([]models.QueueItem, error) {
	results, err := surrealdb.Query[[]models.QueueItem](ctx, c.db, `
		SELECT * FROM queue_item
		WHERE requires_human_review = true
		ORDER BY created_at DESC
		LIMIT $limit
	`, map[string]any{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("list human review: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return []models.QueueItem{}, nil
	}
	return (*results)[0].Result, nil
}

// ResetQueueItem re-queues a reviewed item with a fresh retry budget
// (the "retry" review action).
func (c *Client) ResetQueueItem(ctx context.Context, id string) (*models.QueueItem, error) {
	results, err := surrealdb.Query[[]models.QueueItem](ctx, c.db, `
		UPDATE type::record("queue_item", $id) SET
			status = 'pending',
			retry_count = 0,
			requires_human_review = false,
			error_type = NONE,
			error_message = NONE,
			error_details = NONE,
			next_retry_at = NONE
		WHERE requires_human_review = true
		RETURN AFTER
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("reset queue item: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, ErrInvalidTransition
	}
	return &(*results)[0].Result[0], nil
}

// ResolveQueueItem clears the review flag without re-queueing (the "skip"
// and "resolve" review actions). The resolution string is recorded in the
// structured error details.
func (c *Client) ResolveQueueItem(ctx context.Context, id, resolution string) (*models.QueueItem, error) {
	results, err := surrealdb.Query[[]models.QueueItem](ctx, c.db, `
		UPDATE type::record("queue_item", $id) SET
			requires_human_review = false,
			retry_count = max_retries,
			error_details = object::from_entries(array::concat(
				object::entries(error_details ?? {}),
				[["resolution", $resolution]]
			))
		WHERE requires_human_review = true
		RETURN AFTER
	`, map[string]any{"id": id, "resolution": resolution})
	if err != nil {
		return nil, fmt.Errorf("resolve queue item: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, ErrInvalidTransition
	}
	return &(*results)[0].Result[0], nil
}

// statusCount is the aggregation row shape for derived batch counts.
type statusCount struct {
	Status models.ItemStatus `json:"status"`
	Count  int               `json:"count"`
}

// BatchProgress computes derived per-status counts for a batch by live
// aggregation. Counts are never maintained independently.
func (c *Client) BatchProgress(ctx context.Context, batchID string) (models.BatchProgress, error) {
	var progress models.BatchProgress
	results, err := surrealdb.Query[[]statusCount](ctx, c.db, `
		SELECT status, count() AS count FROM queue_item
		WHERE batch_id = $batch_id
		GROUP BY status
	`, map[string]any{"batch_id": batchID})
	if err != nil {
		return progress, fmt.Errorf("batch progress: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return progress, nil
	}
	for _, row := range (*results)[0].Result {
		switch row.Status {
		case models.ItemPending:
			progress.Pending = row.Count
		case models.ItemRunning:
			progress.Running = row.Count
		case models.ItemCompleted:
			progress.Completed = row.Count
		case models.ItemFailed:
			progress.Failed = row.Count
		case models.ItemCancelled:
			progress.Cancelled = row.Count
		}
	}
	return progress, nil
}

// QueueStats computes queue-wide derived counts.
func (c *Client) QueueStats(ctx context.Context) (models.QueueStats, error) {
	var stats models.QueueStats
	results, err := surrealdb.Query[[]statusCount](ctx, c.db, `
		SELECT status, count() AS count FROM queue_item GROUP BY status
	`, nil)
	if err != nil {
		return stats, fmt.Errorf("queue stats: %w", wrapQueryError(err))
	}
	if results != nil && len(*results) > 0 {
		for _, row := range (*results)[0].Result {
			switch row.Status {
			case models.ItemPending:
				stats.Pending = row.Count
			case models.ItemRunning:
				stats.Running = row.Count
			case models.ItemCompleted:
				stats.Completed = row.Count
			case models.ItemFailed:
				stats.Failed = row.Count
			case models.ItemCancelled:
				stats.Cancelled = row.Count
			}
		}
	}

	review, err := surrealdb.Query[[]struct {
		Count int `json:"count"`
	}](ctx, c.db, `
		SELECT count() AS count FROM queue_item
		WHERE requires_human_review = true
		GROUP ALL
	`, nil)
	if err != nil {
		return stats, fmt.Errorf("queue stats review count: %w", wrapQueryError(err))
	}
	if review != nil && len(*review) > 0 && len((*review)[0].Result) > 0 {
		stats.HumanReview = (*review)[0].Result[0].Count
	}
	return stats, nil
}

// firstResult extracts the first row of the first query result, or fails.
func firstResult(results *[]surrealdb.QueryResult[[]models.QueueItem], op string) (*models.QueueItem, error) {
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("%s: no result returned", op)
	}
	return &(*results)[0].Result[0], nil
}
