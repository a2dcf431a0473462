package models

import "time"

// OperationType distinguishes crawl operations from direct uploads.
type OperationType string

const (
	OperationCrawl  OperationType = "crawl"
	OperationUpload OperationType = "upload"
)

// OperationStatus enumerates progress-facing states of an operation.
type OperationStatus string

const (
	OpStarting       OperationStatus = "starting"
	OpDiscovery      OperationStatus = "discovery"
	OpCrawling       OperationStatus = "crawling"
	OpProcessing     OperationStatus = "processing"
	OpStoring        OperationStatus = "storing"
	OpCodeExtraction OperationStatus = "code_extraction"
	OpCompleted      OperationStatus = "completed"
	OpError          OperationStatus = "error"
	OpFailed         OperationStatus = "failed"
	OpCancelled      OperationStatus = "cancelled"
)

// Terminal reports whether the operation has finished. Once terminal, the
// server never advances the operation again and clients should stop polling.
func (s OperationStatus) Terminal() bool {
	switch s {
	case OpCompleted, OpError, OpFailed, OpCancelled:
		return true
	}
	return false
}

// CrawlStats accumulates counts surfaced in progress snapshots.
type CrawlStats struct {
	PagesStored     int `json:"pages_stored"`
	BlocksFound     int `json:"blocks_found"`
	ExamplesStored  int `json:"examples_stored"`
	SummariesFailed int `json:"summaries_failed"`
	EmbedsFailed    int `json:"embeds_failed"`
}

// Operation is the ephemeral progress-facing view of one in-flight crawl or
// upload. It exists only in the progress tracker, not in the database.
type Operation struct {
	ID          string          `json:"operation_id"`
	Type        OperationType   `json:"type"`
	Status      OperationStatus `json:"status"`
	Progress    int             `json:"progress"` // 0-100
	Message     string          `json:"message"`
	Stats       CrawlStats      `json:"stats"`
	ItemID      string          `json:"item_id,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`

	// PollInterval hints how long clients should wait before the next
	// poll, in milliseconds. Zero once the operation is terminal.
	PollInterval int `json:"poll_interval_ms"`
}
