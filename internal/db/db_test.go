// Package db provides integration tests for SurrealDB operations.
package db

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ljutzkanovltd/codeharvest/internal/models"
)

var testDB *Client
var testContainer testcontainers.Container

// TestMain sets up and tears down the SurrealDB container for all tests.
func TestMain(m *testing.M) {
	// Disable ryuk (cleanup container) as it can cause issues in some environments
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	var err error
	testContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0-beta.1",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start SurrealDB container: %v", err)
	}

	host, err := testContainer.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	// Workaround: testcontainers may return "null" as host in some environments
	if host == "" || host == "null" {
		host = "localhost"
	}
	mappedPort, err := testContainer.MappedPort(ctx, "8000")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	testDB, err = NewClient(ctx, Config{
		URL:       fmt.Sprintf("ws://%s:%s/rpc", host, mappedPort.Port()),
		Namespace: "test",
		Database:  "test",
		Username:  "root",
		Password:  "root",
		AuthLevel: "root",
	}, nil)
	if err != nil {
		log.Fatalf("Failed to connect to test database: %v", err)
	}

	if err := testDB.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	code := m.Run()

	_ = testDB.Close(ctx)
	_ = testContainer.Terminate(ctx)

	os.Exit(code)
}

// dummyEmbedding returns a deterministic 384-dimension vector matching the
// default all-minilm:l6-v2 model.
func dummyEmbedding() []float32 {
	embedding := make([]float32, 384)
	for i := range embedding {
		embedding[i] = float32(i) / 384.0
	}
	return embedding
}

func newItem(t *testing.T, priority int) *models.QueueItem {
	t.Helper()
	item, err := testDB.CreateQueueItem(context.Background(), uuid.New().String(), QueueItemInput{
		SourceRef:           "https://docs.example.com/" + uuid.New().String(),
		Priority:            priority,
		MaxRetries:          3,
		ExtractCodeExamples: true,
	})
	if err != nil {
		t.Fatalf("CreateQueueItem failed: %v", err)
	}
	return item
}

// =============================================================================
// QUEUE ITEM TESTS
// =============================================================================

func TestCreateAndGetQueueItem(t *testing.T) {
	ctx := context.Background()

	item := newItem(t, 70)
	if item.Status != models.ItemPending {
		t.Errorf("Expected status pending, got %q", item.Status)
	}
	if item.Priority != 70 {
		t.Errorf("Expected priority 70, got %d", item.Priority)
	}
	if item.RetryCount != 0 {
		t.Errorf("Expected retry_count 0, got %d", item.RetryCount)
	}

	fetched, err := testDB.GetQueueItem(ctx, models.MustRecordIDString(item.ID))
	if err != nil {
		t.Fatalf("GetQueueItem failed: %v", err)
	}
	if fetched.SourceRef != item.SourceRef {
		t.Errorf("Expected source_ref %q, got %q", item.SourceRef, fetched.SourceRef)
	}

	_, err = testDB.GetQueueItem(ctx, "nonexistent-item")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing item, got %v", err)
	}

	// Leave the shared queue empty for the tests that follow.
	if _, _, err := testDB.CancelQueueItem(ctx, models.MustRecordIDString(item.ID)); err != nil {
		t.Fatalf("cleanup cancel failed: %v", err)
	}
}

func TestClaimNextPrefersHigherPriority(t *testing.T) {
	ctx := context.Background()

	low := newItem(t, 10)
	high := newItem(t, 90)

	claimed, err := testDB.ClaimNext(ctx, "worker-a")
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if claimed == nil {
		t.Fatal("ClaimNext returned nil with pending items present")
	}
	if models.MustRecordIDString(claimed.ID) != models.MustRecordIDString(high.ID) {
		t.Errorf("Expected highest-priority item %s, got %s",
			models.MustRecordIDString(high.ID), models.MustRecordIDString(claimed.ID))
	}
	if claimed.Status != models.ItemRunning {
		t.Errorf("Expected claimed item running, got %q", claimed.Status)
	}
	if claimed.ClaimedBy == nil || *claimed.ClaimedBy != "worker-a" {
		t.Errorf("Expected claimed_by worker-a, got %v", claimed.ClaimedBy)
	}

	// Drain the other item so later tests see an empty queue.
	second, err := testDB.ClaimNext(ctx, "worker-a")
	if err != nil {
		t.Fatalf("second ClaimNext failed: %v", err)
	}
	if second == nil || models.MustRecordIDString(second.ID) != models.MustRecordIDString(low.ID) {
		t.Error("Expected second claim to pick up the low-priority item")
	}
	if _, err := testDB.CompleteQueueItem(ctx, models.MustRecordIDString(claimed.ID)); err != nil {
		t.Fatalf("cleanup complete failed: %v", err)
	}
	if _, err := testDB.CompleteQueueItem(ctx, models.MustRecordIDString(second.ID)); err != nil {
		t.Fatalf("cleanup complete failed: %v", err)
	}
}

func TestClaimNextEmptyQueueReturnsNil(t *testing.T) {
	claimed, err := testDB.ClaimNext(context.Background(), "worker-b")
	if err != nil {
		t.Fatalf("ClaimNext on empty queue failed: %v", err)
	}
	if claimed != nil {
		t.Errorf("Expected nil claim on empty queue, got %v", claimed.SourceRef)
	}
}

func TestCompleteRequiresRunning(t *testing.T) {
	ctx := context.Background()

	item := newItem(t, 50)
	id := models.MustRecordIDString(item.ID)

	// Completing a pending item must be rejected.
	_, err := testDB.CompleteQueueItem(ctx, id)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition completing pending item, got %v", err)
	}

	claimed, err := testDB.ClaimNext(ctx, "worker-c")
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}

	done, err := testDB.CompleteQueueItem(ctx, id)
	if err != nil {
		t.Fatalf("CompleteQueueItem failed: %v", err)
	}
	if done.Status != models.ItemCompleted {
		t.Errorf("Expected completed, got %q", done.Status)
	}
	if done.CompletedAt == nil {
		t.Error("Expected completed_at to be set")
	}
}

func TestFailAndRequeueCycle(t *testing.T) {
	ctx := context.Background()

	item := newItem(t, 50)
	id := models.MustRecordIDString(item.ID)

	if _, err := testDB.ClaimNext(ctx, "worker-d"); err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}

	next := time.Now().Add(-time.Second)
	failed, err := testDB.FailQueueItem(ctx, id, FailureUpdate{
		ErrorType:    "network_error",
		ErrorMessage: "connection reset",
		RetryCount:   1,
		NextRetryAt:  &next,
	})
	if err != nil {
		t.Fatalf("FailQueueItem failed: %v", err)
	}
	if failed.Status != models.ItemFailed {
		t.Errorf("Expected failed, got %q", failed.Status)
	}
	if failed.RetryCount != 1 {
		t.Errorf("Expected retry_count 1, got %d", failed.RetryCount)
	}
	if failed.ErrorType == nil || *failed.ErrorType != "network_error" {
		t.Errorf("Expected error_type network_error, got %v", failed.ErrorType)
	}
	if !failed.Retryable() {
		t.Error("Expected item to be retryable")
	}

	// The retry scheduler should see it as due.
	candidates, err := testDB.RetryCandidates(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("RetryCandidates failed: %v", err)
	}
	found := false
	for _, c := range candidates {
		if models.MustRecordIDString(c.ID) == id {
			found = true
		}
	}
	if !found {
		t.Error("Expected failed item among retry candidates")
	}

	changed, err := testDB.RequeueItem(ctx, id)
	if err != nil {
		t.Fatalf("RequeueItem failed: %v", err)
	}
	if !changed {
		t.Error("Expected requeue to take effect")
	}

	requeued, err := testDB.GetQueueItem(ctx, id)
	if err != nil {
		t.Fatalf("GetQueueItem failed: %v", err)
	}
	if requeued.Status != models.ItemPending {
		t.Errorf("Expected pending after requeue, got %q", requeued.Status)
	}

	// Drain it again so the shared queue stays empty.
	claimed, err := testDB.ClaimNext(ctx, "worker-d")
	if err != nil || claimed == nil {
		t.Fatalf("re-claim failed: %v", err)
	}
	if _, err := testDB.CompleteQueueItem(ctx, id); err != nil {
		t.Fatalf("cleanup complete failed: %v", err)
	}
}

func TestCancelIsIdempotentOnTerminalItems(t *testing.T) {
	ctx := context.Background()

	item := newItem(t, 50)
	id := models.MustRecordIDString(item.ID)

	cancelled, changed, err := testDB.CancelQueueItem(ctx, id)
	if err != nil {
		t.Fatalf("CancelQueueItem failed: %v", err)
	}
	if !changed {
		t.Error("Expected first cancel to change the item")
	}
	if cancelled.Status != models.ItemCancelled {
		t.Errorf("Expected cancelled, got %q", cancelled.Status)
	}

	again, changed, err := testDB.CancelQueueItem(ctx, id)
	if err != nil {
		t.Fatalf("Second CancelQueueItem failed: %v", err)
	}
	if changed {
		t.Error("Expected second cancel to be a no-op")
	}
	if again.Status != models.ItemCancelled {
		t.Errorf("Expected cancelled after no-op cancel, got %q", again.Status)
	}

	// A cancelled item must reject completion.
	_, err = testDB.CompleteQueueItem(ctx, id)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition completing cancelled item, got %v", err)
	}
}

func TestHumanReviewLifecycle(t *testing.T) {
	ctx := context.Background()

	item := newItem(t, 50)
	id := models.MustRecordIDString(item.ID)

	if _, err := testDB.ClaimNext(ctx, "worker-e"); err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	_, err := testDB.FailQueueItem(ctx, id, FailureUpdate{
		ErrorType:    "provider_auth",
		ErrorMessage: "invalid API key",
		ErrorDetails: map[string]any{"provider": "openai"},
		RetryCount:   1,
		HumanReview:  true,
	})
	if err != nil {
		t.Fatalf("FailQueueItem failed: %v", err)
	}

	reviews, err := testDB.ListHumanReview(ctx, 10)
	if err != nil {
		t.Fatalf("ListHumanReview failed: %v", err)
	}
	found := false
	for _, r := range reviews {
		if models.MustRecordIDString(r.ID) == id {
			found = true
			if r.ErrorDetails["provider"] != "openai" {
				t.Errorf("Expected error details to round-trip, got %v", r.ErrorDetails)
			}
		}
	}
	if !found {
		t.Fatal("Expected item in human review list")
	}

	// A review item is not an automatic retry candidate.
	candidates, err := testDB.RetryCandidates(ctx, time.Now().Add(time.Hour), 100)
	if err != nil {
		t.Fatalf("RetryCandidates failed: %v", err)
	}
	for _, c := range candidates {
		if models.MustRecordIDString(c.ID) == id {
			t.Error("Review item must not appear among retry candidates")
		}
	}

	// Manual retry resets the counters and requeues.
	reset, err := testDB.ResetQueueItem(ctx, id)
	if err != nil {
		t.Fatalf("ResetQueueItem failed: %v", err)
	}
	if reset.Status != models.ItemPending {
		t.Errorf("Expected pending after reset, got %q", reset.Status)
	}
	if reset.RetryCount != 0 {
		t.Errorf("Expected retry_count 0 after reset, got %d", reset.RetryCount)
	}
	if reset.RequiresHumanReview {
		t.Error("Expected requires_human_review cleared after reset")
	}

	// Drain and resolve as skipped.
	if _, err := testDB.ClaimNext(ctx, "worker-e"); err != nil {
		t.Fatalf("re-claim failed: %v", err)
	}
	_, err = testDB.FailQueueItem(ctx, id, FailureUpdate{
		ErrorType: "parse_error", ErrorMessage: "bad markup", RetryCount: 1, HumanReview: true,
	})
	if err != nil {
		t.Fatalf("second FailQueueItem failed: %v", err)
	}
	resolved, err := testDB.ResolveQueueItem(ctx, id, "skipped")
	if err != nil {
		t.Fatalf("ResolveQueueItem failed: %v", err)
	}
	if resolved.RequiresHumanReview {
		t.Error("Expected review flag cleared after resolution")
	}
	if resolved.Retryable() {
		t.Error("Resolved item must not be retryable")
	}
	if resolved.ErrorDetails["resolution"] != "skipped" {
		t.Errorf("Expected resolution recorded in details, got %v", resolved.ErrorDetails)
	}

	// Resolving twice is an invalid transition.
	_, err = testDB.ResolveQueueItem(ctx, id, "skipped")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition on double resolve, got %v", err)
	}
}

func TestBatchProgressCounts(t *testing.T) {
	ctx := context.Background()

	batchID := uuid.New().String()
	var ids []string
	for range 3 {
		item, err := testDB.CreateQueueItem(ctx, uuid.New().String(), QueueItemInput{
			SourceRef:  "https://docs.example.com/" + uuid.New().String(),
			BatchID:    &batchID,
			Priority:   50,
			MaxRetries: 3,
		})
		if err != nil {
			t.Fatalf("CreateQueueItem failed: %v", err)
		}
		ids = append(ids, models.MustRecordIDString(item.ID))
	}

	// One completed, one cancelled, one left pending.
	if _, err := testDB.ClaimNext(ctx, "worker-f"); err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	// Claim order among equal priorities is oldest first.
	if _, err := testDB.CompleteQueueItem(ctx, ids[0]); err != nil {
		t.Fatalf("CompleteQueueItem failed: %v", err)
	}
	if _, _, err := testDB.CancelQueueItem(ctx, ids[1]); err != nil {
		t.Fatalf("CancelQueueItem failed: %v", err)
	}

	progress, err := testDB.BatchProgress(ctx, batchID)
	if err != nil {
		t.Fatalf("BatchProgress failed: %v", err)
	}
	if progress.Completed != 1 || progress.Cancelled != 1 || progress.Pending != 1 {
		t.Errorf("Unexpected batch counts: %+v", progress)
	}
	if progress.Total() != 3 {
		t.Errorf("Expected total 3, got %d", progress.Total())
	}

	// Drain the remaining pending item.
	if _, err := testDB.ClaimNext(ctx, "worker-f"); err != nil {
		t.Fatalf("drain claim failed: %v", err)
	}
	if _, err := testDB.CompleteQueueItem(ctx, ids[2]); err != nil {
		t.Fatalf("drain complete failed: %v", err)
	}
}

func TestQueueStats(t *testing.T) {
	ctx := context.Background()

	item := newItem(t, 50)

	stats, err := testDB.QueueStats(ctx)
	if err != nil {
		t.Fatalf("QueueStats failed: %v", err)
	}
	if stats.Pending < 1 {
		t.Errorf("Expected at least one pending item, got %d", stats.Pending)
	}

	_, _, err = testDB.CancelQueueItem(ctx, models.MustRecordIDString(item.ID))
	if err != nil {
		t.Fatalf("cleanup cancel failed: %v", err)
	}
}

// =============================================================================
// SOURCE TESTS
// =============================================================================

func TestSourceLifecycle(t *testing.T) {
	ctx := context.Background()

	url := "https://docs.example.com/source-test"
	src, err := testDB.UpsertSource(ctx, "source-test-1", url, "docs.example.com/source-test", nil)
	if err != nil {
		t.Fatalf("UpsertSource failed: %v", err)
	}
	if src.URL != url {
		t.Errorf("Expected url %q, got %q", url, src.URL)
	}

	fetched, err := testDB.GetSourceByURL(ctx, url)
	if err != nil {
		t.Fatalf("GetSourceByURL failed: %v", err)
	}
	if models.MustRecordIDString(fetched.ID) != "source-test-1" {
		t.Errorf("Expected source-test-1, got %s", models.MustRecordIDString(fetched.ID))
	}

	// Never crawled yet.
	recent, err := testDB.RecentlyCrawled(ctx, url, 24*time.Hour)
	if err != nil {
		t.Fatalf("RecentlyCrawled failed: %v", err)
	}
	if recent {
		t.Error("Expected source without last_crawled to not count as recent")
	}

	if err := testDB.TouchSourceCrawled(ctx, "source-test-1"); err != nil {
		t.Fatalf("TouchSourceCrawled failed: %v", err)
	}
	recent, err = testDB.RecentlyCrawled(ctx, url, 24*time.Hour)
	if err != nil {
		t.Fatalf("RecentlyCrawled after touch failed: %v", err)
	}
	if !recent {
		t.Error("Expected source to be recently crawled after touch")
	}

	// Unknown URLs are never recent.
	recent, err = testDB.RecentlyCrawled(ctx, "https://unknown.example.com", time.Hour)
	if err != nil {
		t.Fatalf("RecentlyCrawled for unknown URL failed: %v", err)
	}
	if recent {
		t.Error("Unknown URL must not be recently crawled")
	}

	if err := testDB.DeleteSource(ctx, "source-test-1"); err != nil {
		t.Fatalf("DeleteSource failed: %v", err)
	}
	_, err = testDB.GetSourceByURL(ctx, url)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}

// =============================================================================
// VECTOR STORE TESTS
// =============================================================================

func TestPagesAndCodeExamples(t *testing.T) {
	ctx := context.Background()
	sourceID := "vector-test-src"

	page, err := testDB.UpsertPage(ctx, "vector-test-page", models.Page{
		SourceID:    sourceID,
		URL:         "https://docs.example.com/guide",
		Content:     "Install the package with the following command.",
		ChunkNumber: 0,
	}, dummyEmbedding(), 384)
	if err != nil {
		t.Fatalf("UpsertPage failed: %v", err)
	}
	if page.SourceID != sourceID {
		t.Errorf("Expected source_id %q, got %q", sourceID, page.SourceID)
	}
	if len(page.Embedding384) != 384 {
		t.Errorf("Expected embedding in the 384 column, got %d values", len(page.Embedding384))
	}

	summary := "Installs the package."
	lang := "bash"
	pageID := "vector-test-page"
	example, err := testDB.InsertCodeExample(ctx, "vector-test-example", CodeExampleInput{
		SourceID:  sourceID,
		PageID:    &pageID,
		Code:      "$ make install;",
		Summary:   &summary,
		Language:  &lang,
		Vector:    dummyEmbedding(),
		Dimension: 384,
	})
	if err != nil {
		t.Fatalf("InsertCodeExample failed: %v", err)
	}
	if example.Summary == nil || *example.Summary != summary {
		t.Errorf("Expected summary to round-trip, got %v", example.Summary)
	}

	pages, err := testDB.SearchPages(ctx, dummyEmbedding(), 384, 5)
	if err != nil {
		t.Fatalf("SearchPages failed: %v", err)
	}
	if len(pages) == 0 {
		t.Error("Expected at least one page result")
	}

	examples, err := testDB.SearchCodeExamples(ctx, dummyEmbedding(), 384, 5)
	if err != nil {
		t.Fatalf("SearchCodeExamples failed: %v", err)
	}
	if len(examples) == 0 {
		t.Error("Expected at least one code example result")
	}

	// Refresh semantics: deleting source data removes both tables.
	if err := testDB.DeleteSourceData(ctx, sourceID); err != nil {
		t.Fatalf("DeleteSourceData failed: %v", err)
	}
	pages, err = testDB.SearchPages(ctx, dummyEmbedding(), 384, 5)
	if err != nil {
		t.Fatalf("SearchPages after delete failed: %v", err)
	}
	for _, p := range pages {
		if p.SourceID == sourceID {
			t.Error("Expected pages for source to be deleted")
		}
	}
}

func TestNullVectorExampleIsStored(t *testing.T) {
	ctx := context.Background()

	example, err := testDB.InsertCodeExample(ctx, "vector-test-degraded", CodeExampleInput{
		SourceID:  "vector-test-degraded-src",
		Code:      "func main() { degraded() }",
		Vector:    nil,
		Dimension: 384,
	})
	if err != nil {
		t.Fatalf("InsertCodeExample with nil vector failed: %v", err)
	}
	if len(example.Embedding384) != 0 {
		t.Error("Expected no embedding on degraded example")
	}

	_ = testDB.DeleteSourceData(ctx, "vector-test-degraded-src")
}
