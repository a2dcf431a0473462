// Package models defines data structures for the codeharvest crawl store.
package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// ItemStatus enumerates the lifecycle states of a queue item.
type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemRunning   ItemStatus = "running"
	ItemCompleted ItemStatus = "completed"
	ItemFailed    ItemStatus = "failed"
	ItemCancelled ItemStatus = "cancelled"
)

// Terminal reports whether the status permits no further automatic processing.
func (s ItemStatus) Terminal() bool {
	return s == ItemCompleted || s == ItemCancelled
}

// QueueItem is one unit of crawl/extraction work. It is the sole source of
// truth for scheduling state; workers and the retry policy mutate it only
// through the queue store.
type QueueItem struct {
	ID        surrealmodels.RecordID `json:"id"`
	SourceRef string                 `json:"source_ref"`
	SourceID  *string                `json:"source_id,omitempty"`
	BatchID   *string                `json:"batch_id,omitempty"`
	Status    ItemStatus             `json:"status"`
	Priority  int                    `json:"priority"`

	// Retry bookkeeping, maintained by the retry policy.
	RetryCount   int        `json:"retry_count"`
	MaxRetries   int        `json:"max_retries"`
	ErrorType    *string    `json:"error_type,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	ErrorDetails map[string]any `json:"error_details,omitempty"`

	RequiresHumanReview bool `json:"requires_human_review"`

	// Crawl options carried with the item.
	ExtractCodeExamples bool `json:"extract_code_examples"`

	ClaimedBy   *string    `json:"claimed_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	LastRetryAt *time.Time `json:"last_retry_at,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
}

// Retryable reports whether the item may automatically return to the queue.
func (q *QueueItem) Retryable() bool {
	return q.Status == ItemFailed && !q.RequiresHumanReview && q.RetryCount < q.MaxRetries
}

// Batch groups queue items submitted together. Counts are always derived by
// aggregation over queue items carrying the batch ID, never stored.
type Batch struct {
	ID        surrealmodels.RecordID `json:"id"`
	Status    string                 `json:"status"`
	StartedAt time.Time              `json:"started_at"`
}

// BatchProgress holds derived per-status counts for a batch.
type BatchProgress struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Total returns the number of items in the batch.
func (p BatchProgress) Total() int {
	return p.Pending + p.Running + p.Completed + p.Failed + p.Cancelled
}

// Done reports whether no item in the batch can still make progress.
func (p BatchProgress) Done() bool {
	return p.Pending == 0 && p.Running == 0
}

// QueueStats holds derived queue-wide counts for the stats surface.
type QueueStats struct {
	Pending     int `json:"pending"`
	Running     int `json:"running"`
	Completed   int `json:"completed"`
	Failed      int `json:"failed"`
	Cancelled   int `json:"cancelled"`
	HumanReview int `json:"human_review"`
}
