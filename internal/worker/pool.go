// Package worker runs the pool of goroutines that drain the crawl queue.
// Workers coordinate only through the queue store; each claims an item,
// fetches its source, drives the extraction pipeline and records the
// outcome.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ljutzkanovltd/codeharvest/internal/fetcher"
	"github.com/ljutzkanovltd/codeharvest/internal/metrics"
	"github.com/ljutzkanovltd/codeharvest/internal/models"
	"github.com/ljutzkanovltd/codeharvest/internal/pipeline"
	"github.com/ljutzkanovltd/codeharvest/internal/progress"
)

// Queue is the scheduling surface the pool drives. *queue.Manager
// implements it.
type Queue interface {
	ClaimNext(ctx context.Context, workerID string) (*models.QueueItem, error)
	MarkCompleted(ctx context.Context, item *models.QueueItem) error
	MarkFailed(ctx context.Context, item *models.QueueItem, cause error) (*models.QueueItem, error)
	IsCancelled(ctx context.Context, itemID string) (bool, error)
	RequeueDue(ctx context.Context, now time.Time, limit int) (int, error)
	EnsureSource(ctx context.Context, ref string) (string, error)
}

// Runner drives the extraction pipeline for one claimed item. *pipeline.Pipeline
// implements it.
type Runner interface {
	Run(ctx context.Context, item *models.QueueItem, docs []fetcher.Document, sink pipeline.Sink) (models.CrawlStats, error)
}

// Options configures the pool.
type Options struct {
	// Workers is the number of concurrent claim loops.
	Workers int
	// PollInterval is how long an idle worker waits before re-checking
	// the queue.
	PollInterval time.Duration
	// RequeueInterval is how often due retry candidates move back to
	// pending.
	RequeueInterval time.Duration
}

// DefaultOptions returns the stock pool settings.
func DefaultOptions() Options {
	return Options{
		Workers:         4,
		PollInterval:    2 * time.Second,
		RequeueInterval: 5 * time.Second,
	}
}

// Pool owns the worker goroutines and the retry-requeue ticker.
type Pool struct {
	manager  Queue
	fetcher  fetcher.Fetcher
	runner   Runner
	tracker  *progress.Tracker
	metrics  *metrics.Collector
	logger   *slog.Logger
	opts     Options
	poolID   string
	wg       sync.WaitGroup
	stopOnce sync.Once
	stop     chan struct{}
}

// NewPool creates a worker pool. Start must be called before it does any
// work.
func NewPool(manager Queue, f fetcher.Fetcher, runner Runner, tracker *progress.Tracker, collector *metrics.Collector, logger *slog.Logger, opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.RequeueInterval <= 0 {
		opts.RequeueInterval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		manager: manager,
		fetcher: f,
		runner:  runner,
		tracker: tracker,
		metrics: collector,
		logger:  logger,
		opts:    opts,
		poolID:  uuid.New().String()[:8],
		stop:    make(chan struct{}),
	}
}

// Start launches the workers and the requeue ticker. It returns immediately.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("starting worker pool", "workers", p.opts.Workers, "pool_id", p.poolID)

	for i := 0; i < p.opts.Workers; i++ {
		workerID := fmt.Sprintf("%s-w%d", p.poolID, i)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runWorker(ctx, workerID)
		}()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runRequeue(ctx)
	}()
}

// Stop signals all workers to finish their current item and waits for them.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()
	p.logger.Info("worker pool stopped", "pool_id", p.poolID)
}

// runWorker is one claim loop. A claim failure or an item failure never
// exits the loop; only shutdown does.
func (p *Pool) runWorker(ctx context.Context, workerID string) {
	logger := p.logger.With("worker_id", workerID)
	logger.Debug("worker started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		default:
		}

		start := time.Now()
		item, err := p.manager.ClaimNext(ctx, workerID)
		if err != nil {
			p.record(metrics.OpQueueClaim, start, true)
			logger.Error("claim failed", "error", err)
			p.sleep(ctx, p.opts.PollInterval)
			continue
		}
		if item == nil {
			p.sleep(ctx, p.opts.PollInterval)
			continue
		}
		p.record(metrics.OpQueueClaim, start, false)

		p.process(ctx, logger, item)
	}
}

// process runs one claimed item end to end. Fetch and pipeline failures are
// classified by the retry policy; they never crash the worker.
func (p *Pool) process(ctx context.Context, logger *slog.Logger, item *models.QueueItem) {
	itemID := models.MustRecordIDString(item.ID)
	logger = logger.With("item_id", itemID, "source_ref", item.SourceRef)
	logger.Info("processing item", "priority", item.Priority, "retry_count", item.RetryCount)

	op := p.tracker.Start(uuid.New().String(), models.OperationCrawl, itemID)
	p.tracker.Update(op.ID, models.OpCrawling, 0, "fetching "+item.SourceRef)

	fetchStart := time.Now()
	docs, err := p.fetcher.Fetch(ctx, item.SourceRef)
	if err != nil {
		p.record(metrics.OpFetch, fetchStart, true)
		p.fail(ctx, logger, op.ID, item, fmt.Errorf("fetch %s: %w", item.SourceRef, err))
		return
	}
	p.record(metrics.OpFetch, fetchStart, false)

	if cancelled, cerr := p.manager.IsCancelled(ctx, itemID); cerr == nil && cancelled {
		p.tracker.Finish(op.ID, models.OpCancelled, "cancelled")
		logger.Info("item cancelled before pipeline")
		return
	}

	stats, err := p.runner.Run(ctx, item, docs, &trackerSink{tracker: p.tracker, opID: op.ID})
	p.tracker.UpdateStats(op.ID, stats)
	switch {
	case errors.Is(err, pipeline.ErrCancelled):
		p.tracker.Finish(op.ID, models.OpCancelled, "cancelled")
		logger.Info("item cancelled mid-pipeline")
		return
	case err != nil:
		p.fail(ctx, logger, op.ID, item, err)
		return
	}

	if err := p.manager.MarkCompleted(ctx, item); err != nil {
		// A concurrent cancel may have beaten us to a terminal state.
		p.tracker.Finish(op.ID, models.OpCancelled, "cancelled")
		logger.Warn("completion rejected", "error", err)
		return
	}

	p.tracker.Finish(op.ID, models.OpCompleted,
		fmt.Sprintf("stored %d pages, %d code examples", stats.PagesStored, stats.ExamplesStored))
	logger.Info("item completed",
		"pages_stored", stats.PagesStored,
		"examples_stored", stats.ExamplesStored,
		"summaries_failed", stats.SummariesFailed,
		"embeds_failed", stats.EmbedsFailed)
}

func (p *Pool) fail(ctx context.Context, logger *slog.Logger, opID string, item *models.QueueItem, cause error) {
	updated, err := p.manager.MarkFailed(ctx, item, cause)
	if err != nil {
		// Cancellation won the race; leave the terminal state alone.
		p.tracker.Finish(opID, models.OpCancelled, "cancelled")
		logger.Warn("failure update rejected", "error", err)
		return
	}

	msg := cause.Error()
	if updated.RequiresHumanReview {
		p.tracker.Finish(opID, models.OpFailed, msg)
	} else {
		p.tracker.Finish(opID, models.OpError, msg)
	}
}

// Upload runs the extraction pipeline directly on caller-provided content,
// bypassing the queue and the fetcher. Returns the operation ID to poll.
func (p *Pool) Upload(ctx context.Context, name, content string, extractCode bool) (string, error) {
	sourceID, err := p.manager.EnsureSource(ctx, name)
	if err != nil {
		return "", err
	}

	op := p.tracker.Start(uuid.New().String(), models.OperationUpload, "")
	item := &models.QueueItem{
		SourceRef:           name,
		SourceID:            &sourceID,
		Status:              models.ItemRunning,
		ExtractCodeExamples: extractCode,
	}
	docs := []fetcher.Document{{URL: name, Content: content, ContentType: "text/plain"}}

	// The caller's request context ends when the response is written; the
	// upload keeps running.
	bgctx := context.WithoutCancel(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		stats, err := p.runner.Run(bgctx, item, docs, &trackerSink{tracker: p.tracker, opID: op.ID})
		p.tracker.UpdateStats(op.ID, stats)
		if err != nil {
			p.tracker.Finish(op.ID, models.OpError, err.Error())
			p.logger.Error("upload failed", "name", name, "error", err)
			return
		}
		p.tracker.Finish(op.ID, models.OpCompleted,
			fmt.Sprintf("stored %d pages, %d code examples", stats.PagesStored, stats.ExamplesStored))
	}()

	return op.ID, nil
}

// runRequeue periodically moves due retry candidates back to pending.
func (p *Pool) runRequeue(ctx context.Context) {
	ticker := time.NewTicker(p.opts.RequeueInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			if _, err := p.manager.RequeueDue(ctx, time.Now(), 100); err != nil {
				p.logger.Error("requeue pass failed", "error", err)
			}
		}
	}
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-p.stop:
	case <-time.After(d):
	}
}

func (p *Pool) record(op string, start time.Time, failed bool) {
	if p.metrics == nil {
		return
	}
	if failed {
		p.metrics.RecordFailure(op, time.Since(start))
		return
	}
	p.metrics.Record(op, time.Since(start))
}

// trackerSink adapts the progress tracker to the pipeline's sink.
type trackerSink struct {
	tracker *progress.Tracker
	opID    string
}

func (s *trackerSink) Report(status models.OperationStatus, percent int, message string) {
	s.tracker.Update(s.opID, status, percent, message)
}

func (s *trackerSink) ReportStats(stats models.CrawlStats) {
	s.tracker.UpdateStats(s.opID, stats)
}
