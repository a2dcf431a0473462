// Package server exposes the crawl queue over a JSON HTTP API: enqueue,
// progress polling, cancellation, human review and stats.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ljutzkanovltd/codeharvest/internal/db"
	"github.com/ljutzkanovltd/codeharvest/internal/metrics"
	"github.com/ljutzkanovltd/codeharvest/internal/models"
	"github.com/ljutzkanovltd/codeharvest/internal/progress"
	"github.com/ljutzkanovltd/codeharvest/internal/queue"
	"github.com/ljutzkanovltd/codeharvest/internal/search"
)

// Queue is the scheduling surface the API drives. *queue.Manager implements
// it.
type Queue interface {
	EnqueueBatch(ctx context.Context, refs []string, priority int, force, extractCode bool) (string, []string, map[string]string, error)
	Cancel(ctx context.Context, itemID string) (*models.QueueItem, bool, error)
	BatchProgress(ctx context.Context, batchID string) (models.BatchProgress, error)
	ListHumanReview(ctx context.Context, limit int) ([]models.QueueItem, error)
	ReviewRetry(ctx context.Context, itemID string) (*models.QueueItem, error)
	ReviewSkip(ctx context.Context, itemID string) (*models.QueueItem, error)
	ReviewResolve(ctx context.Context, itemID string) (*models.QueueItem, error)
	Stats(ctx context.Context) (models.QueueStats, error)
}

// Uploader runs the extraction pipeline on caller-provided content.
// *worker.Pool implements it.
type Uploader interface {
	Upload(ctx context.Context, name, content string, extractCode bool) (string, error)
}

// Searcher runs semantic lookups over stored content. *search.Service
// implements it.
type Searcher interface {
	Search(ctx context.Context, opts search.Options) (*search.Results, error)
}

// Server holds the API dependencies and the HTTP handler.
type Server struct {
	queue    Queue
	tracker  *progress.Tracker
	uploader Uploader
	searcher Searcher
	metrics  *metrics.Collector
	logger   *slog.Logger
	handler  http.Handler
}

// New wires the routes. The uploader, searcher and collector may be nil; the
// matching endpoints then report unavailability.
func New(q Queue, tracker *progress.Tracker, uploader Uploader, searcher Searcher, collector *metrics.Collector, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		queue:    q,
		tracker:  tracker,
		uploader: uploader,
		searcher: searcher,
		metrics:  collector,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/crawl", s.handleCrawl)
	mux.HandleFunc("POST /api/upload", s.handleUpload)
	mux.HandleFunc("GET /api/progress/", s.handleListProgress)
	mux.HandleFunc("GET /api/progress/{id}", s.handleGetProgress)
	mux.HandleFunc("POST /api/stop/{id}", s.handleStop)
	mux.HandleFunc("GET /api/batch/{id}", s.handleBatchProgress)
	mux.HandleFunc("GET /api/review", s.handleListReview)
	mux.HandleFunc("POST /api/review/{id}/{action}", s.handleReviewAction)
	mux.HandleFunc("GET /api/search", s.handleSearch)
	mux.HandleFunc("GET /api/stats", s.handleStats)

	s.handler = loggingMiddleware(logger, mux)
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe runs the server until the context is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type crawlRequest struct {
	URL                 string   `json:"url,omitempty"`
	URLs                []string `json:"urls,omitempty"`
	Priority            int      `json:"priority"`
	Force               bool     `json:"force"`
	ExtractCodeExamples bool     `json:"extract_code_examples"`
}

type crawlResponse struct {
	BatchID  string            `json:"batch_id"`
	ItemIDs  []string          `json:"item_ids"`
	Rejected map[string]string `json:"rejected,omitempty"`
}

func (s *Server) handleCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	refs := req.URLs
	if req.URL != "" {
		refs = append(refs, req.URL)
	}
	if len(refs) == 0 {
		writeError(w, http.StatusBadRequest, "no urls provided")
		return
	}

	batchID, itemIDs, rejected, err := s.queue.EnqueueBatch(r.Context(), refs, req.Priority, req.Force, req.ExtractCodeExamples)
	if err != nil {
		s.logger.Error("enqueue failed", "error", err)
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	if len(itemIDs) == 0 {
		writeJSON(w, http.StatusConflict, crawlResponse{BatchID: batchID, ItemIDs: itemIDs, Rejected: rejected})
		return
	}
	writeJSON(w, http.StatusAccepted, crawlResponse{BatchID: batchID, ItemIDs: itemIDs, Rejected: rejected})
}

type uploadRequest struct {
	Name                string `json:"name"`
	Content             string `json:"content"`
	ExtractCodeExamples bool   `json:"extract_code_examples"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.uploader == nil {
		writeError(w, http.StatusServiceUnavailable, "uploads unavailable")
		return
	}

	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, "name and content are required")
		return
	}

	opID, err := s.uploader.Upload(r.Context(), req.Name, req.Content, req.ExtractCodeExamples)
	if err != nil {
		s.logger.Error("upload failed", "name", req.Name, "error", err)
		writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"operation_id": opID})
}

func (s *Server) handleListProgress(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"operations": s.tracker.ListActive()})
}

func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	op, ok := s.tracker.Get(r.PathValue("id"))
	if !ok {
		// Just-completed operations age out after the retention window;
		// clients treat this as "stop polling", not as a failure.
		writeError(w, http.StatusNotFound, "operation not found")
		return
	}
	writeJSON(w, http.StatusOK, op)
}

// handleStop cancels the queue item behind an operation. Stopping an
// already-terminal operation is a success no-op.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	itemID := id
	opID := ""
	if op, ok := s.tracker.Get(id); ok {
		opID = op.ID
		if op.ItemID != "" {
			itemID = op.ItemID
		}
		if op.Status.Terminal() {
			writeJSON(w, http.StatusOK, map[string]any{"stopped": false, "status": op.Status})
			return
		}
	}

	item, changed, err := s.queue.Cancel(r.Context(), itemID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusNotFound, "item not found")
			return
		}
		s.logger.Error("cancel failed", "item_id", itemID, "error", err)
		writeError(w, http.StatusInternalServerError, "cancel failed")
		return
	}

	if changed {
		if opID == "" {
			if op, ok := s.tracker.FindByItem(itemID); ok {
				opID = op.ID
			}
		}
		if opID != "" {
			s.tracker.Finish(opID, models.OpCancelled, "stopped by request")
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"stopped": changed, "status": item.Status})
}

func (s *Server) handleBatchProgress(w http.ResponseWriter, r *http.Request) {
	batchID := r.PathValue("id")
	p, err := s.queue.BatchProgress(r.Context(), batchID)
	if err != nil {
		s.logger.Error("batch progress failed", "batch_id", batchID, "error", err)
		writeError(w, http.StatusInternalServerError, "batch progress failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"batch_id": batchID,
		"counts":   p,
		"total":    p.Total(),
		"done":     p.Done(),
	})
}

// reviewItem is the wire view of a queue item awaiting triage.
type reviewItem struct {
	ID               string         `json:"item_id"`
	SourceRef        string         `json:"source_ref"`
	Status           string         `json:"status"`
	RetryCount       int            `json:"retry_count"`
	MaxRetries       int            `json:"max_retries"`
	ErrorType        string         `json:"error_type,omitempty"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	ErrorDetails     map[string]any `json:"error_details,omitempty"`
	SuggestedActions []string       `json:"suggested_actions,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

func toReviewItem(item models.QueueItem) reviewItem {
	out := reviewItem{
		ID:           models.MustRecordIDString(item.ID),
		SourceRef:    item.SourceRef,
		Status:       string(item.Status),
		RetryCount:   item.RetryCount,
		MaxRetries:   item.MaxRetries,
		ErrorDetails: item.ErrorDetails,
		CreatedAt:    item.CreatedAt,
	}
	if item.ErrorType != nil {
		out.ErrorType = *item.ErrorType
	}
	if item.ErrorMessage != nil {
		out.ErrorMessage = *item.ErrorMessage
	}
	out.SuggestedActions = stringSlice(item.ErrorDetails["suggested_actions"])
	return out
}

// stringSlice normalizes a details value to []string. The CBOR codec decodes
// stored lists as []any, in-process values stay []string.
func stringSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, a := range vals {
			if s, ok := a.(string); ok {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	default:
		return nil
	}
}

func (s *Server) handleListReview(w http.ResponseWriter, r *http.Request) {
	items, err := s.queue.ListHumanReview(r.Context(), 50)
	if err != nil {
		s.logger.Error("review list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "review list failed")
		return
	}

	out := make([]reviewItem, 0, len(items))
	for _, item := range items {
		out = append(out, toReviewItem(item))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (s *Server) handleReviewAction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var item *models.QueueItem
	var err error
	switch action := r.PathValue("action"); action {
	case "retry":
		item, err = s.queue.ReviewRetry(r.Context(), id)
	case "skip":
		item, err = s.queue.ReviewSkip(r.Context(), id)
	case "resolve":
		item, err = s.queue.ReviewResolve(r.Context(), id)
	default:
		writeError(w, http.StatusBadRequest, "unknown action: "+action)
		return
	}

	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusNotFound, "item not found")
			return
		}
		s.logger.Error("review action failed", "item_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "review action failed")
		return
	}
	writeJSON(w, http.StatusOK, toReviewItem(*item))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.searcher == nil {
		writeError(w, http.StatusServiceUnavailable, "search not available")
		return
	}

	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "missing query parameter 'q'")
		return
	}

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	results, err := s.searcher.Search(r.Context(), search.Options{
		Query: query,
		Kind:  search.Kind(q.Get("kind")),
		Limit: limit,
	})
	if err != nil {
		s.logger.Error("search failed", "query", query, "error", err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.Stats(r.Context())
	if err != nil {
		s.logger.Error("stats failed", "error", err)
		writeError(w, http.StatusInternalServerError, "stats failed")
		return
	}

	resp := map[string]any{"queue": stats}
	if s.metrics != nil {
		resp["operations"] = s.metrics.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

var _ Queue = (*queue.Manager)(nil)
