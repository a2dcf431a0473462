package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/ljutzkanovltd/codeharvest/internal/db"
	"github.com/ljutzkanovltd/codeharvest/internal/fetcher"
	"github.com/ljutzkanovltd/codeharvest/internal/models"
	"github.com/ljutzkanovltd/codeharvest/internal/retry"
)

// fakeStore records writes in memory.
type fakeStore struct {
	mu       sync.Mutex
	pages    []models.Page
	examples []db.CodeExampleInput
	deleted  []string
}

func (f *fakeStore) UpsertPage(_ context.Context, _ string, page models.Page, vector []float32, _ int) (*models.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if vector != nil {
		page.Embedding384 = vector
	}
	f.pages = append(f.pages, page)
	return &page, nil
}

func (f *fakeStore) InsertCodeExample(_ context.Context, _ string, in db.CodeExampleInput) (*models.CodeExample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.examples = append(f.examples, in)
	return &models.CodeExample{SourceID: in.SourceID, Code: in.Code}, nil
}

func (f *fakeStore) DeleteSourceData(_ context.Context, sourceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, sourceID)
	return nil
}

// fakeProvider is a scriptable Provider.
type fakeProvider struct {
	mu            sync.Mutex
	summarizeErr  error
	summarizeFail int // fail this many calls before succeeding
	embedErr      error
	embedCalls    int
	summarizeHits int
}

func (f *fakeProvider) Summarize(_ context.Context, code, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summarizeHits++
	if f.summarizeFail > 0 {
		f.summarizeFail--
		return "", errors.New("summarize hiccup")
	}
	if f.summarizeErr != nil {
		return "", f.summarizeErr
	}
	return "summary of " + code[:min(10, len(code))], nil
}

func (f *fakeProvider) Embed(_ context.Context, _ string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embedCalls++
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	return make([]float32, 384), nil
}

func (f *fakeProvider) Dimension() int { return 384 }

// recordingSink captures progress reports.
type recordingSink struct {
	mu      sync.Mutex
	reports []int
	last    models.OperationStatus
	stats   models.CrawlStats
}

func (s *recordingSink) Report(status models.OperationStatus, percent int, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, percent)
	s.last = status
}

func (s *recordingSink) ReportStats(stats models.CrawlStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = stats
}

const fencedDoc = "Intro prose.\n\n```go\nfunc main() {\n\tfmt.Println(\"hi\")\n}\n```\n\nTrailing prose.\n"

func testItem(extractCode bool) *models.QueueItem {
	sourceID := "src-1"
	return &models.QueueItem{
		ID:                  surrealmodels.RecordID{Table: "queue_item", ID: "item-1"},
		SourceID:            &sourceID,
		Status:              models.ItemRunning,
		ExtractCodeExamples: extractCode,
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SummaryRetryDelay = time.Millisecond
	return cfg
}

func TestRunExtractsSummarizesAndStores(t *testing.T) {
	store := &fakeStore{}
	provider := &fakeProvider{}
	sink := &recordingSink{}
	p := New(store, provider, testConfig(), nil, nil, nil)

	docs := []fetcher.Document{{URL: "https://docs.example.com/guide", Content: fencedDoc}}
	stats, err := p.Run(context.Background(), testItem(true), docs, sink)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.BlocksFound)
	assert.Equal(t, 1, stats.ExamplesStored)
	assert.Equal(t, 1, stats.PagesStored)
	assert.Zero(t, stats.SummariesFailed)
	assert.Zero(t, stats.EmbedsFailed)

	require.Len(t, store.examples, 1)
	ex := store.examples[0]
	assert.NotNil(t, ex.Vector, "embedding must be populated on success")
	require.NotNil(t, ex.Summary)
	assert.NotEmpty(t, *ex.Summary)
	require.NotNil(t, ex.Language)
	assert.Equal(t, "go", *ex.Language)
	assert.NotNil(t, ex.PageID, "example should link to its page chunk")

	assert.Equal(t, []string{"src-1"}, store.deleted, "previous source data is replaced")
}

func TestRunZeroBlocksIsSuccess(t *testing.T) {
	store := &fakeStore{}
	sink := &recordingSink{}
	p := New(store, &fakeProvider{}, testConfig(), nil, nil, nil)

	docs := []fetcher.Document{{URL: "https://docs.example.com", Content: "Just prose, nothing else here."}}
	stats, err := p.Run(context.Background(), testItem(true), docs, sink)
	require.NoError(t, err)

	assert.Zero(t, stats.BlocksFound)
	assert.Zero(t, stats.ExamplesStored)
	assert.Equal(t, 1, stats.PagesStored, "pages are stored even without code blocks")
	assert.Empty(t, store.examples)
}

func TestRunSkipsExtractionWhenDisabled(t *testing.T) {
	store := &fakeStore{}
	p := New(store, &fakeProvider{}, testConfig(), nil, nil, nil)

	docs := []fetcher.Document{{URL: "https://docs.example.com", Content: fencedDoc}}
	stats, err := p.Run(context.Background(), testItem(false), docs, &recordingSink{})
	require.NoError(t, err)

	assert.Zero(t, stats.BlocksFound)
	assert.Empty(t, store.examples)
	assert.Equal(t, 1, stats.PagesStored)
}

// An embedding failure degrades that example to a null vector; the run still
// completes and the artifact is kept.
func TestEmbedFailureDegradesToNullVector(t *testing.T) {
	store := &fakeStore{}
	provider := &fakeProvider{embedErr: retry.NewError(retry.KindEncoding, errors.New("invalid utf-8"))}
	p := New(store, provider, testConfig(), nil, nil, nil)

	docs := []fetcher.Document{{URL: "https://docs.example.com", Content: fencedDoc}}
	stats, err := p.Run(context.Background(), testItem(true), docs, &recordingSink{})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.ExamplesStored)
	require.Len(t, store.examples, 1)
	assert.Nil(t, store.examples[0].Vector)
	// One failed embed for the page chunk, one for the example.
	assert.Equal(t, 2, stats.EmbedsFailed)
}

// Summarization exhaustion degrades to an empty summary instead of failing
// the item.
func TestSummaryExhaustionDegrades(t *testing.T) {
	store := &fakeStore{}
	provider := &fakeProvider{summarizeErr: errors.New("provider down")}
	cfg := testConfig()
	cfg.SummaryRetries = 2
	p := New(store, provider, cfg, nil, nil, nil)

	docs := []fetcher.Document{{URL: "https://docs.example.com", Content: fencedDoc}}
	stats, err := p.Run(context.Background(), testItem(true), docs, &recordingSink{})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.SummariesFailed)
	assert.Equal(t, 1, stats.ExamplesStored)
	require.Len(t, store.examples, 1)
	assert.Nil(t, store.examples[0].Summary)
	assert.NotNil(t, store.examples[0].Vector, "embedding still runs on code alone")
}

func TestSummaryRetriesThenSucceeds(t *testing.T) {
	store := &fakeStore{}
	provider := &fakeProvider{summarizeFail: 2}
	p := New(store, provider, testConfig(), nil, nil, nil)

	docs := []fetcher.Document{{URL: "https://docs.example.com", Content: fencedDoc}}
	stats, err := p.Run(context.Background(), testItem(true), docs, &recordingSink{})
	require.NoError(t, err)

	assert.Zero(t, stats.SummariesFailed)
	assert.Equal(t, 3, provider.summarizeHits)
	require.Len(t, store.examples, 1)
	assert.NotNil(t, store.examples[0].Summary)
}

// Permanent provider errors stop per-block retrying early.
func TestSummaryPermanentErrorSkipsRetries(t *testing.T) {
	store := &fakeStore{}
	provider := &fakeProvider{summarizeErr: retry.NewError(retry.KindProviderAuth, errors.New("invalid key"))}
	p := New(store, provider, testConfig(), nil, nil, nil)

	docs := []fetcher.Document{{URL: "https://docs.example.com", Content: fencedDoc}}
	stats, err := p.Run(context.Background(), testItem(true), docs, &recordingSink{})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.SummariesFailed)
	assert.Equal(t, 1, provider.summarizeHits, "permanent errors must not burn retries")
}

func TestCancellationObservedAtPhaseBoundary(t *testing.T) {
	store := &fakeStore{}
	cancelled := func(context.Context, string) (bool, error) { return true, nil }
	p := New(store, &fakeProvider{}, testConfig(), nil, nil, cancelled)

	docs := []fetcher.Document{{URL: "https://docs.example.com", Content: fencedDoc}}
	_, err := p.Run(context.Background(), testItem(true), docs, &recordingSink{})
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Empty(t, store.examples, "no writes after cancellation")
}

// Upload items never pass through the queue, so they carry no record ID.
// The run must complete without consulting the cancellation callback.
func TestRunToleratesItemWithoutRecordID(t *testing.T) {
	store := &fakeStore{}
	cancelChecks := 0
	cancelled := func(context.Context, string) (bool, error) {
		cancelChecks++
		return true, nil
	}
	p := New(store, &fakeProvider{}, testConfig(), nil, nil, cancelled)

	sourceID := "src-upload"
	item := &models.QueueItem{
		SourceRef:           "notes.md",
		SourceID:            &sourceID,
		Status:              models.ItemRunning,
		ExtractCodeExamples: true,
	}
	docs := []fetcher.Document{{URL: "notes.md", Content: fencedDoc}}
	stats, err := p.Run(context.Background(), item, docs, &recordingSink{})
	require.NoError(t, err)

	assert.Zero(t, cancelChecks, "cancellation is a queue concept")
	assert.Equal(t, 1, stats.ExamplesStored)
}

func TestProgressIsMonotonicAndTerminatesAtHundred(t *testing.T) {
	sink := &recordingSink{}
	p := New(&fakeStore{}, &fakeProvider{}, testConfig(), nil, nil, nil)

	docs := []fetcher.Document{{URL: "https://docs.example.com", Content: fencedDoc}}
	_, err := p.Run(context.Background(), testItem(true), docs, sink)
	require.NoError(t, err)

	require.NotEmpty(t, sink.reports)
	for i := 1; i < len(sink.reports); i++ {
		assert.GreaterOrEqual(t, sink.reports[i], sink.reports[i-1], "progress must not go backwards")
	}
	assert.Equal(t, 100, sink.reports[len(sink.reports)-1])
	assert.Equal(t, 1, sink.stats.ExamplesStored)
}

func TestSplitChunks(t *testing.T) {
	assert.Nil(t, splitChunks("", 100))
	assert.Equal(t, []string{"short"}, splitChunks("short", 100))

	long := strings.Repeat("line of text\n", 100)
	chunks := splitChunks(long, 200)
	assert.Greater(t, len(chunks), 1)
	assert.Equal(t, long, strings.Join(chunks, ""))
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 200)
	}
}
