package fetcher

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paradl/internal/engineerr"
)

func newFetcher() *Fetcher {
	return New(Config{Timeout: 5 * time.Second, Retries: 1, RetryDelay: 10 * time.Millisecond}, nil, nil)
}

func TestProbeSizeReadsContentLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1234")
	}))
	defer srv.Close()

	size, err := newFetcher().ProbeSize(t.Context(), srv.URL)
	require.NoError(t, err)
	assert.EqualValues(t, 1234, size)
}

func TestProbeSizeMissingContentLengthIsSizeUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	_, err := newFetcher().ProbeSize(t.Context(), srv.URL)
	require.Error(t, err)
	assert.True(t, engineerr.Is(err, engineerr.SizeUnknown))
}

func TestProbeRangeSupportTrueOn206(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "" {
			w.WriteHeader(http.StatusPartialContent)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	assert.True(t, newFetcher().ProbeRangeSupport(t.Context(), srv.URL))
}

func TestProbeRangeSupportFalseOn200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	assert.False(t, newFetcher().ProbeRangeSupport(t.Context(), srv.URL))
}

func TestFetchRangeStreamsBodyAndReportsProgress(t *testing.T) {
	body := "0123456789"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes 0-9/10")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte(body))
	}))
	defer srv.Close()

	var received strings.Builder
	var lastReport int64
	err := newFetcher().FetchRange(t.Context(), srv.URL, 0, 9, func(chunk []byte) error {
		received.Write(chunk)
		return nil
	}, func(cumulative int64) {
		lastReport = cumulative
	})
	require.NoError(t, err)
	assert.Equal(t, body, received.String())
	assert.EqualValues(t, len(body), lastReport)
}

func TestFetchRangeRejectsNon206(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := newFetcher().FetchRange(t.Context(), srv.URL, 0, 9, func([]byte) error { return nil }, nil)
	assert.Error(t, err)
}

func TestFetchFullRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	err := newFetcher().FetchFull(t.Context(), srv.URL, func([]byte) error { return nil }, nil)
	assert.Error(t, err)
}

func TestFilenameFromURL(t *testing.T) {
	assert.Equal(t, "file.zip", FilenameFromURL("https://example.com/a/b/file.zip"))
	assert.Equal(t, "download", FilenameFromURL("https://example.com/"))
	assert.Equal(t, "my file.zip", FilenameFromURL("https://example.com/my%20file.zip"))
}

func TestFilenameFromResponsePrefersContentDisposition(t *testing.T) {
	got := FilenameFromResponse(`attachment; filename="report.pdf"`, "https://example.com/x")
	assert.Equal(t, "report.pdf", got)

	got = FilenameFromResponse("", "https://example.com/a/b/fallback.bin")
	assert.Equal(t, "fallback.bin", got)
}
