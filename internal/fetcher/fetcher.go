// -----------------------------------------------------------------------
// Fetcher
// Rate-limited, retrying download of candidate images with atomic writes
// -----------------------------------------------------------------------

package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/verdant/internal/models"
	"github.com/ternarybob/verdant/internal/ratelimit"
)

// Config holds fetcher configuration.
type Config struct {
	// BaseDir is the directory accepted files are stored under.
	BaseDir string

	// MaxBodySize is the maximum payload size to download.
	MaxBodySize int64

	// Timeout applies per attempt, not per fetch.
	Timeout time.Duration

	// UserAgent for HTTP requests.
	UserAgent string
}

// Fetcher retrieves single candidate items over HTTP. Every attempt passes
// through the per-source rate limiter before touching the network.
type Fetcher struct {
	config  Config
	client  *http.Client
	limiter *ratelimit.Limiter
	policy  *RetryPolicy
	logger  arbor.ILogger
}

// New creates a fetcher. The HTTP client carries no global timeout; each
// attempt gets its own deadline from Config.Timeout.
func New(config Config, limiter *ratelimit.Limiter, policy *RetryPolicy, logger arbor.ILogger) (*Fetcher, error) {
	if err := os.MkdirAll(config.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}
	if policy == nil {
		policy = NewRetryPolicy()
	}
	return &Fetcher{
		config:  config,
		client:  &http.Client{},
		limiter: limiter,
		policy:  policy,
		logger:  logger,
	}, nil
}

// Fetch retrieves one candidate with bounded retries and exponential backoff.
// On success the payload is visible only at its final content-addressed path;
// a partially written file is never observable.
func (f *Fetcher) Fetch(ctx context.Context, candidate models.CandidateItem) models.FetchResult {
	result := models.FetchResult{Candidate: candidate}
	start := time.Now()

	for attempt := 1; ; attempt++ {
		result.AttemptCount = attempt

		statusCode, err := f.attempt(ctx, candidate, &result)
		class := Classify(statusCode, err)

		switch f.policy.Decide(attempt, class) {
		case DecideSuccess:
			result.Outcome = models.FetchSuccess
			result.Duration = time.Since(start)
			f.logger.Debug().
				Str("source", candidate.SourceID).
				Str("url", candidate.RemoteLocator).
				Int("attempts", attempt).
				Int64("bytes", result.ByteSize).
				Str("duration", result.Duration.String()).
				Msg("Fetch succeeded")
			return result

		case DecideRetry:
			backoff := f.policy.Backoff(attempt)
			f.logger.Debug().
				Str("url", candidate.RemoteLocator).
				Int("attempt", attempt).
				Int("status_code", statusCode).
				Err(err).
				Str("backoff", backoff.String()).
				Msg("Retrying after backoff")

			select {
			case <-ctx.Done():
				result.Outcome = models.FetchTransientFailure
				result.Err = ctx.Err().Error()
				result.Duration = time.Since(start)
				return result
			case <-time.After(backoff):
			}

		default:
			if class == ClassTransient {
				result.Outcome = models.FetchTransientFailure
			} else {
				result.Outcome = models.FetchPermanentFailure
			}
			result.Err = attemptError(statusCode, err)
			result.Duration = time.Since(start)
			f.logger.Debug().
				Str("url", candidate.RemoteLocator).
				Int("attempts", attempt).
				Int("status_code", statusCode).
				Str("error", result.Err).
				Msg("Fetch failed")
			return result
		}
	}
}

// attempt performs a single rate-limited HTTP attempt. On success the
// payload has been renamed into place and result carries path, size, hash
// and content type.
func (f *Fetcher) attempt(ctx context.Context, candidate models.CandidateItem, result *models.FetchResult) (int, error) {
	if err := f.limiter.Acquire(ctx, candidate.SourceID); err != nil {
		return 0, err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, candidate.RemoteLocator, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !isImageContentType(contentType) {
		// A non-image payload at an image URL will not become one on retry.
		return http.StatusUnsupportedMediaType, fmt.Errorf("not an image: %s", contentType)
	}

	path, size, hash, err := f.writeAtomic(resp.Body, contentType, candidate.RemoteLocator)
	if err != nil {
		return resp.StatusCode, err
	}

	result.LocalPath = path
	result.ByteSize = size
	result.ContentHash = hash
	result.ContentType = contentType
	return resp.StatusCode, nil
}

// writeAtomic streams the payload into a scoped temporary file, hashing as it
// writes, then renames it to its content-addressed final path. The rename is
// the only visible mutation; any failure removes the temporary file.
func (f *Fetcher) writeAtomic(body io.Reader, contentType, rawURL string) (string, int64, string, error) {
	tmp, err := os.CreateTemp(f.config.BaseDir, ".fetch-*")
	if err != nil {
		return "", 0, "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	hasher := sha256.New()
	limited := io.LimitReader(body, f.config.MaxBodySize+1)
	size, err := io.Copy(io.MultiWriter(tmp, hasher), limited)
	if err != nil {
		cleanup()
		return "", 0, "", fmt.Errorf("read payload: %w", err)
	}
	if size > f.config.MaxBodySize {
		cleanup()
		return "", 0, "", fmt.Errorf("payload exceeds %d bytes", f.config.MaxBodySize)
	}

	if err := tmp.Sync(); err != nil {
		cleanup()
		return "", 0, "", fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", 0, "", fmt.Errorf("close temp file: %w", err)
	}

	hash := hex.EncodeToString(hasher.Sum(nil))

	ext := extensionFromContentType(contentType)
	if ext == "" {
		ext = extensionFromURL(rawURL)
	}
	if ext == "" {
		ext = ".bin"
	}

	// Organize by first 2 chars of hash for directory distribution.
	finalPath := filepath.Join(f.config.BaseDir, hash[:2], hash+ext)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0755); err != nil {
		os.Remove(tmpPath)
		return "", 0, "", fmt.Errorf("create dir: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", 0, "", fmt.Errorf("rename into place: %w", err)
	}

	return finalPath, size, hash, nil
}

func attemptError(statusCode int, err error) string {
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("HTTP %d", statusCode)
}

// isImageContentType checks if content type is an image.
func isImageContentType(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(contentType), "image/")
}

// extensionFromContentType returns file extension for content type.
func extensionFromContentType(contentType string) string {
	contentType = strings.ToLower(contentType)
	contentType = strings.Split(contentType, ";")[0]

	switch strings.TrimSpace(contentType) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/bmp":
		return ".bmp"
	default:
		return ""
	}
}

// extensionFromURL extracts a known image extension from the URL path.
func extensionFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	ext := strings.ToLower(filepath.Ext(parsed.Path))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp":
		return ext
	default:
		return ""
	}
}
