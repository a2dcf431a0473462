// Package pipeline implements the three-phase extraction pipeline: block
// extraction, summarization and embedding + storage. Failures in phases 2
// and 3 are isolated per block so provider flakiness never destroys content
// that was already extracted.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ljutzkanovltd/codeharvest/internal/db"
	"github.com/ljutzkanovltd/codeharvest/internal/extract"
	"github.com/ljutzkanovltd/codeharvest/internal/fetcher"
	"github.com/ljutzkanovltd/codeharvest/internal/llm"
	"github.com/ljutzkanovltd/codeharvest/internal/metrics"
	"github.com/ljutzkanovltd/codeharvest/internal/models"
	"github.com/ljutzkanovltd/codeharvest/internal/retry"
)

// ErrCancelled is returned when a cancellation request is observed at a
// phase boundary.
var ErrCancelled = errors.New("item cancelled")

// chunkChars bounds the size of one stored page chunk.
const chunkChars = 4000

// Store is the persistence surface the pipeline writes to. *db.Client
// implements it.
type Store interface {
	UpsertPage(ctx context.Context, id string, page models.Page, vector []float32, dimension int) (*models.Page, error)
	InsertCodeExample(ctx context.Context, id string, in db.CodeExampleInput) (*models.CodeExample, error)
	DeleteSourceData(ctx context.Context, sourceID string) error
}

// Sink receives progress events at phase boundaries and at bounded intervals
// within a phase. Implementations must be safe for concurrent use.
type Sink interface {
	Report(status models.OperationStatus, percent int, message string)
	ReportStats(stats models.CrawlStats)
}

// Config holds pipeline tuning knobs.
type Config struct {
	Extract extract.Config
	// SummaryRetries bounds per-block summarization attempts.
	SummaryRetries int
	// SummaryParallel bounds concurrent summarization calls.
	SummaryParallel int
	// PhaseTimeout bounds each phase; expiry is a transient failure.
	PhaseTimeout time.Duration
	// SummaryRetryDelay spaces per-block retry attempts.
	SummaryRetryDelay time.Duration
}

// DefaultConfig returns the stock pipeline settings.
func DefaultConfig() Config {
	return Config{
		Extract:           extract.DefaultConfig(),
		SummaryRetries:    3,
		SummaryParallel:   4,
		PhaseTimeout:      5 * time.Minute,
		SummaryRetryDelay: time.Second,
	}
}

// Pipeline transforms fetched documents into stored pages and code examples.
type Pipeline struct {
	store    Store
	provider llm.Provider
	cfg      Config
	metrics  *metrics.Collector
	logger   *slog.Logger

	// cancelled reports whether the current item was cancelled. Checked
	// at phase boundaries only; in-flight provider calls run to their own
	// timeout.
	cancelled func(ctx context.Context, itemID string) (bool, error)
}

// New creates a pipeline. The cancelled callback may be nil when cooperative
// cancellation is not needed (uploads).
func New(store Store, provider llm.Provider, cfg Config, collector *metrics.Collector, logger *slog.Logger, cancelled func(ctx context.Context, itemID string) (bool, error)) *Pipeline {
	if cfg.SummaryRetries <= 0 {
		cfg.SummaryRetries = 3
	}
	if cfg.SummaryParallel <= 0 {
		cfg.SummaryParallel = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:     store,
		provider:  provider,
		cfg:       cfg,
		metrics:   collector,
		logger:    logger,
		cancelled: cancelled,
	}
}

// block carries one extracted span through phases 2 and 3.
type block struct {
	extract.CodeBlock
	PageURL string
	Summary string
}

// Run drives all three phases for one claimed item. The returned stats are
// final even on error. Zero extracted blocks is a success.
func (p *Pipeline) Run(ctx context.Context, item *models.QueueItem, docs []fetcher.Document, sink Sink) (models.CrawlStats, error) {
	var stats models.CrawlStats
	// Upload items never touch the queue and carry no record ID; an empty
	// itemID disables the cancellation checks below.
	itemID, _ := models.RecordIDString(item.ID)
	sourceID := ""
	if item.SourceID != nil {
		sourceID = *item.SourceID
	}

	// Refresh semantics: previous content for this source is replaced
	// wholesale.
	if sourceID != "" {
		if err := p.store.DeleteSourceData(ctx, sourceID); err != nil {
			return stats, fmt.Errorf("clear previous source data: %w", err)
		}
	}

	// Phase 1: block extraction, 0-20 percent.
	var blocks []block
	err := p.phase(ctx, "extraction", func(pctx context.Context) error {
		sink.Report(models.OpCodeExtraction, 0, "extracting code blocks")
		for i, doc := range docs {
			if item.ExtractCodeExamples {
				for _, cb := range extract.Extract(doc.Content, p.cfg.Extract) {
					blocks = append(blocks, block{CodeBlock: cb, PageURL: doc.URL})
				}
			}
			sink.Report(models.OpCodeExtraction, scale(0, 20, i+1, len(docs)),
				fmt.Sprintf("scanned %d/%d documents", i+1, len(docs)))
		}
		return pctx.Err()
	})
	if err != nil {
		return stats, err
	}
	stats.BlocksFound = len(blocks)
	sink.ReportStats(stats)

	if err := p.checkCancelled(ctx, itemID); err != nil {
		return stats, err
	}

	// Phase 2: summarization, 20-90 percent. Each block retries
	// independently; exhaustion degrades to an empty summary.
	err = p.phase(ctx, "summarization", func(pctx context.Context) error {
		if len(blocks) == 0 {
			sink.Report(models.OpProcessing, 90, "no code blocks to summarize")
			return nil
		}
		sink.Report(models.OpProcessing, 20, fmt.Sprintf("summarizing %d code blocks", len(blocks)))

		var mu sync.Mutex
		done := 0

		g, gctx := errgroup.WithContext(pctx)
		g.SetLimit(p.cfg.SummaryParallel)
		for i := range blocks {
			b := &blocks[i]
			g.Go(func() error {
				summary, ok := p.summarizeBlock(gctx, b)
				mu.Lock()
				defer mu.Unlock()
				b.Summary = summary
				if !ok {
					stats.SummariesFailed++
				}
				done++
				sink.Report(models.OpProcessing, scale(20, 90, done, len(blocks)),
					fmt.Sprintf("summarized %d/%d blocks", done, len(blocks)))
				return gctx.Err()
			})
		}
		return g.Wait()
	})
	if err != nil {
		return stats, err
	}
	sink.ReportStats(stats)

	if err := p.checkCancelled(ctx, itemID); err != nil {
		return stats, err
	}

	// Phase 3: embedding + storage, 90-100 percent. Embedding failure of
	// any kind degrades to a null embedding; the artifact is always kept.
	err = p.phase(ctx, "storage", func(pctx context.Context) error {
		sink.Report(models.OpStoring, 90, "storing pages and code examples")

		pageIDs := make(map[string]string, len(docs))
		for _, doc := range docs {
			stored, firstChunkID, embedsFailed, err := p.storePages(pctx, sourceID, doc)
			if err != nil {
				return err
			}
			stats.PagesStored += stored
			stats.EmbedsFailed += embedsFailed
			if firstChunkID != "" {
				pageIDs[doc.URL] = firstChunkID
			}
		}

		for i := range blocks {
			failed, err := p.storeExample(pctx, sourceID, &blocks[i], pageIDs[blocks[i].PageURL])
			if err != nil {
				return err
			}
			if failed {
				stats.EmbedsFailed++
			}
			stats.ExamplesStored++
			sink.Report(models.OpStoring, scale(90, 100, i+1, len(blocks)),
				fmt.Sprintf("stored %d/%d examples", i+1, len(blocks)))
		}
		return pctx.Err()
	})
	if err != nil {
		return stats, err
	}

	sink.ReportStats(stats)
	sink.Report(models.OpStoring, 100, "done")
	return stats, nil
}

// summarizeBlock retries one block's summarization up to the configured
// bound. Permanent provider errors stop retrying early. Returns the summary
// and whether it succeeded.
func (p *Pipeline) summarizeBlock(ctx context.Context, b *block) (string, bool) {
	var lastErr error
	for attempt := 0; attempt < p.cfg.SummaryRetries; attempt++ {
		if attempt > 0 && p.cfg.SummaryRetryDelay > 0 {
			select {
			case <-ctx.Done():
				return "", false
			case <-time.After(p.cfg.SummaryRetryDelay):
			}
		}

		start := time.Now()
		summary, err := p.provider.Summarize(ctx, b.Code, b.Context)
		if err == nil {
			p.record(metrics.OpSummarize, start, false)
			return summary, true
		}
		p.record(metrics.OpSummarize, start, true)
		lastErr = err

		if retry.Classify(err).Permanent() {
			break
		}
	}

	p.logger.Warn("block summarization exhausted, storing with empty summary",
		"page_url", b.PageURL, "error", lastErr)
	return "", false
}

// storePages chunks one document and upserts each chunk, embedding where
// possible. Returns the stored chunk count, the first chunk's record ID and
// how many embeddings failed.
func (p *Pipeline) storePages(ctx context.Context, sourceID string, doc fetcher.Document) (int, string, int, error) {
	chunks := splitChunks(doc.Content, chunkChars)
	embedsFailed := 0
	firstChunkID := ""

	for n, chunk := range chunks {
		vector := p.embed(ctx, chunk)
		if vector == nil {
			embedsFailed++
		}

		id := uuid.New().String()
		if n == 0 {
			firstChunkID = id
		}

		start := time.Now()
		_, err := p.store.UpsertPage(ctx, id, models.Page{
			SourceID:    sourceID,
			URL:         doc.URL,
			Content:     chunk,
			ChunkNumber: n,
		}, vector, p.provider.Dimension())
		p.record(metrics.OpStoreWrite, start, err != nil)
		if err != nil {
			return n, firstChunkID, embedsFailed, fmt.Errorf("store page chunk %d of %s: %w", n, doc.URL, err)
		}
	}
	return len(chunks), firstChunkID, embedsFailed, nil
}

// storeExample persists one block, embedding code plus summary. Returns
// whether the embedding was degraded to null.
func (p *Pipeline) storeExample(ctx context.Context, sourceID string, b *block, pageID string) (bool, error) {
	text := b.Code
	if b.Summary != "" {
		text = b.Summary + "\n\n" + b.Code
	}
	vector := p.embed(ctx, text)

	in := db.CodeExampleInput{
		SourceID:  sourceID,
		Code:      b.Code,
		Vector:    vector,
		Dimension: p.provider.Dimension(),
	}
	if b.Summary != "" {
		in.Summary = &b.Summary
	}
	if b.Language != "" {
		in.Language = &b.Language
	}
	if pageID != "" {
		in.PageID = &pageID
	}

	start := time.Now()
	_, err := p.store.InsertCodeExample(ctx, uuid.New().String(), in)
	p.record(metrics.OpStoreWrite, start, err != nil)
	if err != nil {
		return false, fmt.Errorf("store code example: %w", err)
	}
	return vector == nil, nil
}

// embed generates a vector for text, returning nil on any failure. The
// caller stores the artifact either way.
func (p *Pipeline) embed(ctx context.Context, text string) []float32 {
	start := time.Now()
	vector, err := p.provider.Embed(ctx, text)
	if err != nil {
		p.record(metrics.OpEmbedding, start, true)
		p.logger.Warn("embedding failed, storing without vector",
			"error_type", retry.Classify(err), "error", err)
		return nil
	}
	p.record(metrics.OpEmbedding, start, false)
	return vector
}

// phase runs fn under the configured phase timeout. Expiry of the phase
// deadline (as opposed to the caller's context) surfaces as a transient
// timeout failure.
func (p *Pipeline) phase(ctx context.Context, name string, fn func(context.Context) error) error {
	pctx := ctx
	if p.cfg.PhaseTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, p.cfg.PhaseTimeout)
		defer cancel()
	}

	err := fn(pctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return retry.NewError(retry.KindTimeout, fmt.Errorf("%s phase timed out after %s", name, p.cfg.PhaseTimeout))
	}
	return fmt.Errorf("%s phase: %w", name, err)
}

func (p *Pipeline) checkCancelled(ctx context.Context, itemID string) error {
	if p.cancelled == nil || itemID == "" {
		return nil
	}
	cancelled, err := p.cancelled(ctx, itemID)
	if err != nil {
		p.logger.Warn("cancellation check failed", "error", err)
		return nil
	}
	if cancelled {
		return ErrCancelled
	}
	return nil
}

func (p *Pipeline) record(op string, start time.Time, failed bool) {
	if p.metrics == nil {
		return
	}
	if failed {
		p.metrics.RecordFailure(op, time.Since(start))
		return
	}
	p.metrics.Record(op, time.Since(start))
}

// scale maps done/total onto the [lo, hi] percent range.
func scale(lo, hi, done, total int) int {
	if total <= 0 {
		return hi
	}
	return lo + (hi-lo)*done/total
}

// splitChunks splits content into chunks of at most size bytes, preferring
// newline boundaries.
func splitChunks(content string, size int) []string {
	if content == "" {
		return nil
	}
	if len(content) <= size {
		return []string{content}
	}

	var chunks []string
	for len(content) > size {
		cut := size
		if idx := lastNewline(content[:size]); idx > size/2 {
			cut = idx + 1
		}
		chunks = append(chunks, content[:cut])
		content = content[cut:]
	}
	if content != "" {
		chunks = append(chunks, content)
	}
	return chunks
}

func lastNewline(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '\n' {
			return i
		}
	}
	return -1
}
