// Package queue orchestrates the durable crawl queue: enqueue, atomic
// claiming, completion and classified failure handling, batch aggregation and
// the human-review surface.
package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ljutzkanovltd/codeharvest/internal/db"
	"github.com/ljutzkanovltd/codeharvest/internal/models"
	"github.com/ljutzkanovltd/codeharvest/internal/retry"
)

// Sentinel errors surfaced to the API layer.
var (
	// ErrEmptySourceRef rejects enqueue requests without a source.
	ErrEmptySourceRef = errors.New("source reference must not be empty")

	// ErrRecentlyCrawled rejects enqueues inside the dedup window unless
	// the force flag is set.
	ErrRecentlyCrawled = errors.New("source was recently crawled")
)

// Store is the persistence surface the manager needs. *db.Client implements
// it; tests substitute an in-memory fake.
type Store interface {
	CreateQueueItem(ctx context.Context, id string, in db.QueueItemInput) (*models.QueueItem, error)
	GetQueueItem(ctx context.Context, id string) (*models.QueueItem, error)
	ClaimNext(ctx context.Context, workerID string) (*models.QueueItem, error)
	CompleteQueueItem(ctx context.Context, id string) (*models.QueueItem, error)
	FailQueueItem(ctx context.Context, id string, up db.FailureUpdate) (*models.QueueItem, error)
	CancelQueueItem(ctx context.Context, id string) (*models.QueueItem, bool, error)
	RequeueItem(ctx context.Context, id string) (bool, error)
	RetryCandidates(ctx context.Context, now time.Time, limit int) ([]models.QueueItem, error)
	ListHumanReview(ctx context.Context, limit int) ([]models.QueueItem, error)
	ResetQueueItem(ctx context.Context, id string) (*models.QueueItem, error)
	ResolveQueueItem(ctx context.Context, id, resolution string) (*models.QueueItem, error)
	BatchProgress(ctx context.Context, batchID string) (models.BatchProgress, error)
	QueueStats(ctx context.Context) (models.QueueStats, error)

	UpsertSource(ctx context.Context, id, url, displayName string, metadata map[string]any) (*models.Source, error)
	RecentlyCrawled(ctx context.Context, url string, window time.Duration) (bool, error)
	TouchSourceCrawled(ctx context.Context, id string) error
}

// Options configures manager behavior.
type Options struct {
	MaxRetries    int
	MinPriority   int
	MaxPriority   int
	RecrawlWindow time.Duration
}

// DefaultOptions returns the stock manager settings.
func DefaultOptions() Options {
	return Options{
		MaxRetries:    3,
		MinPriority:   0,
		MaxPriority:   100,
		RecrawlWindow: 24 * time.Hour,
	}
}

// Manager coordinates all queue mutations. Workers coordinate only through
// it; there is no direct worker-to-worker signaling.
type Manager struct {
	store  Store
	policy retry.Policy
	opts   Options
}

// NewManager creates a queue manager.
func NewManager(store Store, policy retry.Policy, opts Options) *Manager {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.MaxPriority <= opts.MinPriority {
		opts.MinPriority, opts.MaxPriority = 0, 100
	}
	return &Manager{store: store, policy: policy, opts: opts}
}

// EnqueueRequest carries one enqueue call.
type EnqueueRequest struct {
	SourceRef string
	Priority  int
	BatchID   *string
	// Force bypasses the recent-crawl dedup window.
	Force bool
	// ExtractCodeExamples enables pipeline phases 2-3 for this item.
	ExtractCodeExamples bool
}

// Enqueue validates and persists one work item, returning its ID. The
// priority is clamped to the configured range; an empty source reference is
// rejected.
func (m *Manager) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	ref := strings.TrimSpace(req.SourceRef)
	if ref == "" {
		return "", ErrEmptySourceRef
	}

	if !req.Force && m.opts.RecrawlWindow > 0 {
		recent, err := m.store.RecentlyCrawled(ctx, ref, m.opts.RecrawlWindow)
		if err != nil {
			return "", fmt.Errorf("dedup check: %w", err)
		}
		if recent {
			return "", fmt.Errorf("%w: %s", ErrRecentlyCrawled, ref)
		}
	}

	sourceID, err := m.EnsureSource(ctx, ref)
	if err != nil {
		return "", err
	}

	itemID := uuid.New().String()
	_, err = m.store.CreateQueueItem(ctx, itemID, db.QueueItemInput{
		SourceRef:           ref,
		SourceID:            &sourceID,
		BatchID:             req.BatchID,
		Priority:            m.clampPriority(req.Priority),
		MaxRetries:          m.opts.MaxRetries,
		ExtractCodeExamples: req.ExtractCodeExamples,
	})
	if err != nil {
		return "", err
	}

	slog.Info("item enqueued", "item_id", itemID, "source_ref", ref, "priority", m.clampPriority(req.Priority), "batch_id", req.BatchID)
	return itemID, nil
}

// EnqueueBatch enqueues several source refs under one fresh batch ID.
// Individual failures (empty ref, dedup) are collected per ref, not fatal to
// the batch.
func (m *Manager) EnqueueBatch(ctx context.Context, refs []string, priority int, force, extractCode bool) (string, []string, map[string]string, error) {
	batchID := uuid.New().String()
	itemIDs := make([]string, 0, len(refs))
	rejected := make(map[string]string)

	for _, ref := range refs {
		id, err := m.Enqueue(ctx, EnqueueRequest{
			SourceRef:           ref,
			Priority:            priority,
			BatchID:             &batchID,
			Force:               force,
			ExtractCodeExamples: extractCode,
		})
		if err != nil {
			if errors.Is(err, ErrEmptySourceRef) || errors.Is(err, ErrRecentlyCrawled) {
				rejected[ref] = err.Error()
				continue
			}
			return "", nil, nil, err
		}
		itemIDs = append(itemIDs, id)
	}

	return batchID, itemIDs, rejected, nil
}

// EnsureSource upserts the source record for a reference and returns its ID.
func (m *Manager) EnsureSource(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", ErrEmptySourceRef
	}
	sourceID := SourceIDFor(ref)
	if _, err := m.store.UpsertSource(ctx, sourceID, ref, displayNameFor(ref), nil); err != nil {
		return "", fmt.Errorf("ensure source: %w", err)
	}
	return sourceID, nil
}

// ClaimNext atomically claims the next pending item for a worker. Returns
// (nil, nil) when the queue has no claimable work, including when every
// candidate was lost to another worker.
func (m *Manager) ClaimNext(ctx context.Context, workerID string) (*models.QueueItem, error) {
	item, err := m.store.ClaimNext(ctx, workerID)
	if errors.Is(err, db.ErrClaimConflict) {
		slog.Debug("claim contention", "worker_id", workerID)
		return nil, nil
	}
	return item, err
}

// MarkCompleted finishes a running item and records the source crawl time.
func (m *Manager) MarkCompleted(ctx context.Context, item *models.QueueItem) error {
	if _, err := m.store.CompleteQueueItem(ctx, models.MustRecordIDString(item.ID)); err != nil {
		return err
	}
	if item.SourceID != nil {
		if err := m.store.TouchSourceCrawled(ctx, *item.SourceID); err != nil {
			slog.Warn("failed to record crawl time", "source_id", *item.SourceID, "error", err)
		}
	}
	return nil
}

// MarkFailed applies the retry policy to a failure: transient errors with
// remaining budget are scheduled for retry, everything else escalates to
// human review. The retry count increments on every failure and never
// exceeds max_retries.
func (m *Manager) MarkFailed(ctx context.Context, item *models.QueueItem, cause error) (*models.QueueItem, error) {
	decision := m.policy.OnFailure(time.Now(), cause, item.RetryCount, item.MaxRetries)

	retryCount := item.RetryCount + 1
	if retryCount > item.MaxRetries {
		retryCount = item.MaxRetries
	}

	up := db.FailureUpdate{
		ErrorType:    string(decision.Kind),
		ErrorMessage: cause.Error(),
		ErrorDetails: failureDetails(cause, decision),
		RetryCount:   retryCount,
		HumanReview:  decision.HumanReview,
	}
	if decision.Retry {
		at := decision.NextRetryAt
		up.NextRetryAt = &at
	}

	updated, err := m.store.FailQueueItem(ctx, models.MustRecordIDString(item.ID), up)
	if err != nil {
		return nil, err
	}

	slog.Warn("item failed",
		"item_id", models.MustRecordIDString(item.ID),
		"error_type", decision.Kind,
		"retry_count", retryCount,
		"human_review", decision.HumanReview,
		"error", cause)
	return updated, nil
}

// Cancel flips a pending or running item to cancelled. Cancelling an
// already-terminal item succeeds without changing anything.
func (m *Manager) Cancel(ctx context.Context, itemID string) (*models.QueueItem, bool, error) {
	return m.store.CancelQueueItem(ctx, itemID)
}

// IsCancelled reports whether the item has been cancelled. Workers call this
// at phase boundaries for cooperative cancellation.
func (m *Manager) IsCancelled(ctx context.Context, itemID string) (bool, error) {
	item, err := m.store.GetQueueItem(ctx, itemID)
	if err != nil {
		return false, err
	}
	return item.Status == models.ItemCancelled, nil
}

// RequeueDue moves failed items whose backoff expired back to pending.
// Returns how many items were requeued.
func (m *Manager) RequeueDue(ctx context.Context, now time.Time, limit int) (int, error) {
	candidates, err := m.store.RetryCandidates(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, item := range candidates {
		ok, err := m.store.RequeueItem(ctx, models.MustRecordIDString(item.ID))
		if err != nil {
			slog.Warn("failed to requeue item", "item_id", models.MustRecordIDString(item.ID), "error", err)
			continue
		}
		if ok {
			requeued++
		}
	}

	if requeued > 0 {
		slog.Info("requeued retry candidates", "count", requeued)
	}
	return requeued, nil
}

// BatchProgress returns derived per-status counts for a batch.
func (m *Manager) BatchProgress(ctx context.Context, batchID string) (models.BatchProgress, error) {
	return m.store.BatchProgress(ctx, batchID)
}

// ListHumanReview returns items awaiting manual triage, newest first.
func (m *Manager) ListHumanReview(ctx context.Context, limit int) ([]models.QueueItem, error) {
	if limit <= 0 {
		limit = 50
	}
	return m.store.ListHumanReview(ctx, limit)
}

// ReviewRetry re-queues a reviewed item with a fresh retry budget.
func (m *Manager) ReviewRetry(ctx context.Context, itemID string) (*models.QueueItem, error) {
	return m.store.ResetQueueItem(ctx, itemID)
}

// ReviewSkip marks a reviewed item permanently failed with no further
// retries.
func (m *Manager) ReviewSkip(ctx context.Context, itemID string) (*models.QueueItem, error) {
	return m.store.ResolveQueueItem(ctx, itemID, "skipped")
}

// ReviewResolve marks a reviewed item as handled without re-queueing.
func (m *Manager) ReviewResolve(ctx context.Context, itemID string) (*models.QueueItem, error) {
	return m.store.ResolveQueueItem(ctx, itemID, "resolved")
}

// Stats returns queue-wide derived counts.
func (m *Manager) Stats(ctx context.Context) (models.QueueStats, error) {
	return m.store.QueueStats(ctx)
}

func (m *Manager) clampPriority(p int) int {
	if p < m.opts.MinPriority {
		return m.opts.MinPriority
	}
	if p > m.opts.MaxPriority {
		return m.opts.MaxPriority
	}
	return p
}

// failureDetails builds the structured details payload stored with a failed
// item, including suggested triage actions for the review surface.
func failureDetails(cause error, decision retry.Decision) map[string]any {
	details := map[string]any{
		"classified_as": string(decision.Kind),
	}

	var re *retry.Error
	if errors.As(cause, &re) && re.Details != nil {
		for k, v := range re.Details {
			details[k] = v
		}
	}

	switch {
	case decision.Kind == retry.KindProviderAuth:
		details["suggested_actions"] = []string{"check provider credentials", "verify billing status", "retry after reconfiguring"}
	case decision.Kind == retry.KindValidation || decision.Kind == retry.KindParseError:
		details["suggested_actions"] = []string{"verify the source URL", "skip if the content is unusable"}
	case decision.HumanReview:
		details["suggested_actions"] = []string{"retry with a fresh budget", "skip if the source is persistently unavailable"}
	}

	return details
}

// SourceIDFor derives a stable source record ID from a source reference.
func SourceIDFor(ref string) string {
	sum := sha256.Sum256([]byte(ref))
	slug := models.Slugify(displayNameFor(ref))
	if slug == "" {
		return hex.EncodeToString(sum[:8])
	}
	if len(slug) > 40 {
		slug = slug[:40]
	}
	return slug + "-" + hex.EncodeToString(sum[:4])
}

func displayNameFor(ref string) string {
	u, err := url.Parse(ref)
	if err != nil || u.Host == "" {
		return ref
	}
	name := u.Host
	if u.Path != "" && u.Path != "/" {
		name += strings.TrimSuffix(u.Path, "/")
	}
	return name
}
