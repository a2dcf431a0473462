package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/ljutzkanovltd/codeharvest/internal/fetcher"
	"github.com/ljutzkanovltd/codeharvest/internal/models"
	"github.com/ljutzkanovltd/codeharvest/internal/pipeline"
	"github.com/ljutzkanovltd/codeharvest/internal/progress"
)

// fakeQueue hands out a fixed list of items, then reports an empty queue.
type fakeQueue struct {
	mu        sync.Mutex
	items     []*models.QueueItem
	completed []string
	failed    map[string]error
	cancelled map[string]bool
	requeues  int
}

func newFakeQueue(items ...*models.QueueItem) *fakeQueue {
	return &fakeQueue{
		items:     items,
		failed:    make(map[string]error),
		cancelled: make(map[string]bool),
	}
}

func (f *fakeQueue) ClaimNext(_ context.Context, workerID string) (*models.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.items) == 0 {
		return nil, nil
	}
	item := f.items[0]
	f.items = f.items[1:]
	item.Status = models.ItemRunning
	item.ClaimedBy = &workerID
	return item, nil
}

func (f *fakeQueue) MarkCompleted(_ context.Context, item *models.QueueItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, models.MustRecordIDString(item.ID))
	return nil
}

func (f *fakeQueue) MarkFailed(_ context.Context, item *models.QueueItem, cause error) (*models.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := models.MustRecordIDString(item.ID)
	f.failed[id] = cause
	updated := *item
	updated.Status = models.ItemFailed
	updated.RequiresHumanReview = true
	return &updated, nil
}

func (f *fakeQueue) IsCancelled(_ context.Context, itemID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled[itemID], nil
}

func (f *fakeQueue) RequeueDue(context.Context, time.Time, int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requeues++
	return 0, nil
}

func (f *fakeQueue) EnsureSource(_ context.Context, ref string) (string, error) {
	return "src-" + ref, nil
}

// fakeFetcher returns canned documents or an error.
type fakeFetcher struct {
	docs []fetcher.Document
	err  error
}

func (f *fakeFetcher) Fetch(context.Context, string) ([]fetcher.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.docs, nil
}

// fakeRunner scripts the pipeline outcome.
type fakeRunner struct {
	stats models.CrawlStats
	err   error
	ran   chan string
}

func (f *fakeRunner) Run(_ context.Context, item *models.QueueItem, _ []fetcher.Document, sink pipeline.Sink) (models.CrawlStats, error) {
	sink.Report(models.OpStoring, 95, "storing")
	if f.ran != nil {
		f.ran <- models.MustRecordIDString(item.ID)
	}
	return f.stats, f.err
}

func testQueueItem(id string) *models.QueueItem {
	sourceID := "src-" + id
	return &models.QueueItem{
		ID:         surrealmodels.RecordID{Table: "queue_item", ID: id},
		SourceRef:  "https://docs.example.com/" + id,
		SourceID:   &sourceID,
		Status:     models.ItemPending,
		MaxRetries: 3,
	}
}

func testPool(q Queue, f fetcher.Fetcher, r Runner, tracker *progress.Tracker) *Pool {
	opts := Options{Workers: 1, PollInterval: 10 * time.Millisecond, RequeueInterval: 10 * time.Millisecond}
	return NewPool(q, f, r, tracker, nil, nil, opts)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestPoolCompletesItem(t *testing.T) {
	q := newFakeQueue(testQueueItem("a"))
	tracker := progress.NewTracker(time.Minute)
	runner := &fakeRunner{stats: models.CrawlStats{PagesStored: 2, ExamplesStored: 1}}
	pool := testPool(q, &fakeFetcher{docs: []fetcher.Document{{URL: "u", Content: "c"}}}, runner, tracker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	waitFor(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.completed) == 1
	})

	op, ok := tracker.FindByItem("a")
	require.True(t, ok)
	assert.Equal(t, models.OpCompleted, op.Status)
	assert.Equal(t, 0, op.PollInterval, "terminal operations hint clients to stop polling")
	assert.Equal(t, 1, op.Stats.ExamplesStored)
}

func TestPoolFetchFailureMarksFailed(t *testing.T) {
	q := newFakeQueue(testQueueItem("a"))
	tracker := progress.NewTracker(time.Minute)
	pool := testPool(q, &fakeFetcher{err: errors.New("connection refused")}, &fakeRunner{}, tracker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	waitFor(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.failed) == 1
	})

	q.mu.Lock()
	cause := q.failed["a"]
	q.mu.Unlock()
	assert.ErrorContains(t, cause, "connection refused")

	op, ok := tracker.FindByItem("a")
	require.True(t, ok)
	assert.True(t, op.Status.Terminal())
	assert.Empty(t, q.completed)
}

func TestPoolPipelineCancellation(t *testing.T) {
	q := newFakeQueue(testQueueItem("a"))
	tracker := progress.NewTracker(time.Minute)
	runner := &fakeRunner{err: pipeline.ErrCancelled}
	pool := testPool(q, &fakeFetcher{docs: []fetcher.Document{{URL: "u", Content: "c"}}}, runner, tracker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	waitFor(t, func() bool {
		op, ok := tracker.FindByItem("a")
		return ok && op.Status.Terminal()
	})

	op, _ := tracker.FindByItem("a")
	assert.Equal(t, models.OpCancelled, op.Status)

	q.mu.Lock()
	defer q.mu.Unlock()
	assert.Empty(t, q.completed, "cancelled items are not completed")
	assert.Empty(t, q.failed, "cancelled items are not failed")
}

func TestPoolSkipsPipelineWhenCancelledAfterFetch(t *testing.T) {
	item := testQueueItem("a")
	q := newFakeQueue(item)
	q.cancelled["a"] = true
	tracker := progress.NewTracker(time.Minute)
	runner := &fakeRunner{ran: make(chan string, 1)}
	pool := testPool(q, &fakeFetcher{docs: []fetcher.Document{{URL: "u", Content: "c"}}}, runner, tracker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	waitFor(t, func() bool {
		op, ok := tracker.FindByItem("a")
		return ok && op.Status == models.OpCancelled
	})

	select {
	case <-runner.ran:
		t.Fatal("pipeline must not run for a cancelled item")
	default:
	}
}

func TestPoolRunsRequeueTicker(t *testing.T) {
	q := newFakeQueue()
	pool := testPool(q, &fakeFetcher{}, &fakeRunner{}, progress.NewTracker(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	waitFor(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return q.requeues >= 2
	})
	pool.Stop()
}

func TestUploadRunsPipelineDirectly(t *testing.T) {
	tracker := progress.NewTracker(time.Minute)
	runner := &fakeRunner{stats: models.CrawlStats{PagesStored: 1}}
	pool := testPool(newFakeQueue(), &fakeFetcher{}, runner, tracker)

	opID, err := pool.Upload(context.Background(), "notes.md", "# notes", true)
	require.NoError(t, err)

	waitFor(t, func() bool {
		op, ok := tracker.Get(opID)
		return ok && op.Status.Terminal()
	})

	op, _ := tracker.Get(opID)
	assert.Equal(t, models.OpCompleted, op.Status)
	assert.Equal(t, models.OperationUpload, op.Type)
	assert.Equal(t, 1, op.Stats.PagesStored)
}

func TestPoolStopIsIdempotent(t *testing.T) {
	pool := testPool(newFakeQueue(), &fakeFetcher{}, &fakeRunner{}, progress.NewTracker(time.Minute))
	pool.Start(context.Background())
	pool.Stop()
	pool.Stop()
}
