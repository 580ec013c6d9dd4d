package fetcher

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/verdant/internal/models"
	"github.com/ternarybob/verdant/internal/ratelimit"
)

var fakePNG = []byte("\x89PNG\r\n\x1a\nfake image payload for fetch tests")

func newTestFetcher(t *testing.T, maxBody int64) *Fetcher {
	t.Helper()
	limiter := ratelimit.NewLimiter(models.RateLimitConfig{
		Calls:  100,
		Period: models.Duration(time.Second),
	})
	policy := &RetryPolicy{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
	f, err := New(Config{
		BaseDir:     t.TempDir(),
		MaxBodySize: maxBody,
		Timeout:     5 * time.Second,
		UserAgent:   "verdant-test",
	}, limiter, policy, arbor.NewLogger())
	require.NoError(t, err)
	return f
}

func candidateFor(url string) models.CandidateItem {
	return models.CandidateItem{SourceID: "test", RemoteLocator: url}
}

func TestFetchSuccessWritesContentAddressedFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(fakePNG)
	}))
	defer server.Close()

	f := newTestFetcher(t, 1<<20)
	result := f.Fetch(t.Context(), candidateFor(server.URL+"/plant.png"))

	require.Equal(t, models.FetchSuccess, result.Outcome)
	assert.Equal(t, 1, result.AttemptCount)
	assert.Equal(t, int64(len(fakePNG)), result.ByteSize)

	sum := sha256.Sum256(fakePNG)
	wantHash := hex.EncodeToString(sum[:])
	assert.Equal(t, wantHash, result.ContentHash)
	assert.Equal(t, filepath.Join(f.config.BaseDir, wantHash[:2], wantHash+".png"), result.LocalPath)

	data, err := os.ReadFile(result.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, fakePNG, data)
}

func TestFetchRetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(fakePNG)
	}))
	defer server.Close()

	f := newTestFetcher(t, 1<<20)
	result := f.Fetch(t.Context(), candidateFor(server.URL+"/flaky.png"))

	require.Equal(t, models.FetchSuccess, result.Outcome)
	assert.Equal(t, 3, result.AttemptCount)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchPermanentFailureDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	f := newTestFetcher(t, 1<<20)
	result := f.Fetch(t.Context(), candidateFor(server.URL+"/missing.png"))

	require.Equal(t, models.FetchPermanentFailure, result.Outcome)
	assert.Equal(t, 1, result.AttemptCount)
	assert.Equal(t, int32(1), calls.Load())
	assert.Contains(t, result.Err, "404")
}

func TestFetchTransientFailureExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	f := newTestFetcher(t, 1<<20)
	result := f.Fetch(t.Context(), candidateFor(server.URL+"/broken.png"))

	require.Equal(t, models.FetchTransientFailure, result.Outcome)
	assert.Equal(t, 3, result.AttemptCount)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchRejectsNonImagePayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>not an image</html>"))
	}))
	defer server.Close()

	f := newTestFetcher(t, 1<<20)
	result := f.Fetch(t.Context(), candidateFor(server.URL+"/page"))

	require.Equal(t, models.FetchPermanentFailure, result.Outcome)
	assert.Equal(t, 1, result.AttemptCount)
	assert.Contains(t, result.Err, "not an image")
}

func TestFetchRejectsOversizedPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte(strings.Repeat("x", 2048)))
	}))
	defer server.Close()

	f := newTestFetcher(t, 1024)
	result := f.Fetch(t.Context(), candidateFor(server.URL+"/huge.png"))

	require.NotEqual(t, models.FetchSuccess, result.Outcome)
	assert.Contains(t, result.Err, "exceeds")
}

func TestFailedFetchLeavesNoPartialFiles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	f := newTestFetcher(t, 1<<20)
	result := f.Fetch(t.Context(), candidateFor(server.URL+"/fail.png"))
	require.NotEqual(t, models.FetchSuccess, result.Outcome)

	entries, err := os.ReadDir(f.config.BaseDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no file (temp or final) should survive a failed fetch")
}

func TestExtensionFallsBackToURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Generic image content type that maps to no extension.
		w.Header().Set("Content-Type", "image/x-unknown")
		w.Write(fakePNG)
	}))
	defer server.Close()

	f := newTestFetcher(t, 1<<20)
	result := f.Fetch(t.Context(), candidateFor(server.URL+"/leaf.webp"))

	require.Equal(t, models.FetchSuccess, result.Outcome)
	assert.True(t, strings.HasSuffix(result.LocalPath, ".webp"))
}
