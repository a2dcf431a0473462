package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ljutzkanovltd/codeharvest/internal/retry"
)

func errorKind(t *testing.T, err error) retry.Kind {
	t.Helper()
	var rerr *retry.Error
	require.ErrorAs(t, err, &rerr)
	return rerr.Kind
}

func TestFetchReturnsDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "codeharvest/1.0", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>docs</html>"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(5 * time.Second)
	docs, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, srv.URL, docs[0].URL)
	assert.Equal(t, "<html>docs</html>", docs[0].Content)
	assert.Equal(t, "text/html", docs[0].ContentType)
}

func TestFetchRejectsNonHTTPRefs(t *testing.T) {
	f := NewHTTPFetcher(time.Second)
	_, err := f.Fetch(context.Background(), "ftp://example.com/file")
	require.Error(t, err)
	assert.Equal(t, retry.KindValidation, errorKind(t, err))
}

func TestFetchClassifiesStatusCodes(t *testing.T) {
	tests := []struct {
		status int
		kind   retry.Kind
	}{
		{http.StatusTooManyRequests, retry.KindRateLimit},
		{http.StatusUnauthorized, retry.KindValidation},
		{http.StatusForbidden, retry.KindValidation},
		{http.StatusNotFound, retry.KindValidation},
		{http.StatusGone, retry.KindValidation},
		{http.StatusInternalServerError, retry.KindNetwork},
		{http.StatusBadGateway, retry.KindNetwork},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.status)
		}))

		f := NewHTTPFetcher(5 * time.Second)
		_, err := f.Fetch(context.Background(), srv.URL)
		srv.Close()

		require.Error(t, err, "status %d", tt.status)
		assert.Equal(t, tt.kind, errorKind(t, err), "status %d", tt.status)
	}
}

func TestFetchTimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(50 * time.Millisecond)
	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)

	kind := errorKind(t, err)
	assert.Equal(t, retry.KindTimeout, kind)
	assert.True(t, kind.Transient())
}

func TestFetchConnectionRefusedIsNetwork(t *testing.T) {
	// Grab a port that nothing listens on.
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	f := NewHTTPFetcher(time.Second)
	_, err := f.Fetch(context.Background(), url)
	require.Error(t, err)
	assert.Equal(t, retry.KindNetwork, errorKind(t, err))
}
