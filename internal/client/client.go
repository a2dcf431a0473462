// Package client provides an HTTP client for the codeharvest server API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/ljutzkanovltd/codeharvest/internal/models"
	"github.com/ljutzkanovltd/codeharvest/internal/search"
)

// Client talks to the codeharvest server's JSON API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client. If baseURL is empty, uses CODEHARVEST_SERVER_URL or
// defaults to localhost:8181. Timeout can be configured via
// CODEHARVEST_CLIENT_TIMEOUT.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("CODEHARVEST_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8181"
	}

	timeout := 2 * time.Minute
	if t := os.Getenv("CODEHARVEST_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// apiError is the server's error payload.
type apiError struct {
	Error string `json:"error"`
}

// ErrNotFound is returned for 404 responses. Progress pollers treat it as
// "operation aged out", not as a failure.
var ErrNotFound = fmt.Errorf("not found")

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 400 {
		var apiErr apiError
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server error (%d): %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server error (%d)", resp.StatusCode)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// CrawlRequest is the enqueue payload.
type CrawlRequest struct {
	URLs                []string `json:"urls"`
	Priority            int      `json:"priority"`
	Force               bool     `json:"force"`
	ExtractCodeExamples bool     `json:"extract_code_examples"`
}

// CrawlResponse reports the created batch.
type CrawlResponse struct {
	BatchID  string            `json:"batch_id"`
	ItemIDs  []string          `json:"item_ids"`
	Rejected map[string]string `json:"rejected,omitempty"`
}

// Crawl enqueues one or more source URLs.
func (c *Client) Crawl(ctx context.Context, req CrawlRequest) (*CrawlResponse, error) {
	var resp CrawlResponse
	if err := c.do(ctx, http.MethodPost, "/api/crawl", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Upload submits inline content for extraction and returns the operation ID.
func (c *Client) Upload(ctx context.Context, name, content string, extractCode bool) (string, error) {
	var resp struct {
		OperationID string `json:"operation_id"`
	}
	body := map[string]any{
		"name":                  name,
		"content":               content,
		"extract_code_examples": extractCode,
	}
	if err := c.do(ctx, http.MethodPost, "/api/upload", body, &resp); err != nil {
		return "", err
	}
	return resp.OperationID, nil
}

// Progress fetches one operation snapshot.
func (c *Client) Progress(ctx context.Context, operationID string) (*models.Operation, error) {
	var op models.Operation
	if err := c.do(ctx, http.MethodGet, "/api/progress/"+operationID, nil, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// ActiveOperations lists all non-terminal operations.
func (c *Client) ActiveOperations(ctx context.Context) ([]models.Operation, error) {
	var resp struct {
		Operations []models.Operation `json:"operations"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/progress/", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Operations, nil
}

// StopResult reports the outcome of a stop request.
type StopResult struct {
	Stopped bool   `json:"stopped"`
	Status  string `json:"status"`
}

// Stop cancels an operation or queue item. Stopping something already
// terminal succeeds with Stopped=false.
func (c *Client) Stop(ctx context.Context, id string) (*StopResult, error) {
	var resp StopResult
	if err := c.do(ctx, http.MethodPost, "/api/stop/"+id, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BatchStatus is the aggregated view of one batch.
type BatchStatus struct {
	BatchID string               `json:"batch_id"`
	Counts  models.BatchProgress `json:"counts"`
	Total   int                  `json:"total"`
	Done    bool                 `json:"done"`
}

// BatchProgress fetches derived per-status counts for a batch.
func (c *Client) BatchProgress(ctx context.Context, batchID string) (*BatchStatus, error) {
	var resp BatchStatus
	if err := c.do(ctx, http.MethodGet, "/api/batch/"+batchID, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReviewItem is one queue item awaiting human triage.
type ReviewItem struct {
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

// ReviewItems lists queue items awaiting human triage.
func (c *Client) ReviewItems(ctx context.Context) ([]ReviewItem, error) {
	var resp struct {
		Items []ReviewItem `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/review", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// ReviewAction applies retry, skip or resolve to a reviewed item.
func (c *Client) ReviewAction(ctx context.Context, itemID, action string) error {
	return c.do(ctx, http.MethodPost, "/api/review/"+itemID+"/"+action, nil, nil)
}

// Stats fetches queue-wide counts and operation metrics.
func (c *Client) Stats(ctx context.Context) (map[string]any, error) {
	var resp map[string]any
	if err := c.do(ctx, http.MethodGet, "/api/stats", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Search runs a semantic query over stored pages and code examples.
func (c *Client) Search(ctx context.Context, query, kind string, limit int) (*search.Results, error) {
	params := url.Values{}
	params.Set("q", query)
	if kind != "" {
		params.Set("kind", kind)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var resp search.Results
	if err := c.do(ctx, http.MethodGet, "/api/search?"+params.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
