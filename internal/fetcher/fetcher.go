// Package fetcher retrieves raw document content for queue items.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ljutzkanovltd/codeharvest/internal/retry"
)

// Document is one fetched document handed to the extraction pipeline.
type Document struct {
	URL         string
	Content     string
	ContentType string
}

// Fetcher retrieves content for a source reference. Implementations map
// their failures to retry kinds so the queue can classify them.
type Fetcher interface {
	Fetch(ctx context.Context, sourceRef string) ([]Document, error)
}

// maxBodyBytes caps a single fetched document.
const maxBodyBytes = 10 << 20

// HTTPFetcher fetches a single document over HTTP(S).
type HTTPFetcher struct {
	client *http.Client
}

var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates a fetcher with the given per-request timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPFetcher{
		client: &http.Client{Timeout: timeout},
	}
}

// Fetch retrieves the document at sourceRef.
func (f *HTTPFetcher) Fetch(ctx context.Context, sourceRef string) ([]Document, error) {
	if !strings.HasPrefix(sourceRef, "http://") && !strings.HasPrefix(sourceRef, "https://") {
		return nil, retry.NewError(retry.KindValidation,
			fmt.Errorf("unsupported source reference: %s", sourceRef))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceRef, nil)
	if err != nil {
		return nil, retry.NewError(retry.KindValidation, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", "codeharvest/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classifyFetchError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, sourceRef)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classifyFetchError(err)
	}

	return []Document{{
		URL:         sourceRef,
		Content:     string(body),
		ContentType: resp.Header.Get("Content-Type"),
	}}, nil
}

func classifyFetchError(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return retry.NewError(retry.KindTimeout, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return retry.NewError(retry.KindTimeout, err)
	default:
		return retry.NewError(retry.KindNetwork, err)
	}
}

func classifyStatus(status int, url string) error {
	err := fmt.Errorf("fetch %s: HTTP %d", url, status)
	switch {
	case status == http.StatusTooManyRequests:
		return retry.NewError(retry.KindRateLimit, err)
	case status == http.StatusUnauthorized || status == http.StatusForbidden ||
		status == http.StatusNotFound || status == http.StatusGone:
		return retry.NewError(retry.KindValidation, err)
	case status >= 500:
		return retry.NewError(retry.KindNetwork, err)
	default:
		return retry.NewError(retry.KindNetwork, err)
	}
}
