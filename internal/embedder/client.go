package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout is the default HTTP timeout per embedding call.
	DefaultTimeout = 60 * time.Second

	// DefaultRateLimit is the default rate limit (requests per second).
	DefaultRateLimit = 10

	// DefaultMaxAttempts bounds retries for transient service failures.
	DefaultMaxAttempts = 3
)

// Client computes embeddings by calling an external embedding service over
// HTTP. The service accepts raw image bytes and returns a fixed-size vector.
type Client struct {
	endpoint    string
	model       string
	dimension   int
	maxAttempts int
	httpClient  *http.Client
	logger      arbor.ILogger
	limiter     *rate.Limiter
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the per-call HTTP timeout. A non-positive value keeps
// the current timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets a custom rate limit.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithMaxAttempts sets the retry bound for transient failures.
func WithMaxAttempts(n int) ClientOption {
	return func(c *Client) {
		c.maxAttempts = n
	}
}

// NewClient creates an embedding service client.
func NewClient(endpoint, model string, dimension int, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:    endpoint,
		model:       model,
		dimension:   dimension,
		maxAttempts: DefaultMaxAttempts,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// embedResponse is the service's wire format.
type embedResponse struct {
	Embedding []float32 `json:"embedding"`
	Model     string    `json:"model"`
}

// Embed posts the image to the service and returns its feature vector.
// Transient failures (5xx, network) are retried with backoff up to the
// attempt bound; everything that survives retries surfaces as *ServiceError.
func (c *Client) Embed(ctx context.Context, data []byte, contentType string) ([]float32, error) {
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &ServiceError{Model: c.model, Err: err}
		}

		vector, retryable, err := c.embedOnce(ctx, data, contentType)
		if err == nil {
			return vector, nil
		}
		lastErr = err

		if !retryable || attempt == c.maxAttempts {
			break
		}

		backoff := time.Duration(attempt) * time.Second
		if c.logger != nil {
			c.logger.Debug().
				Int("attempt", attempt).
				Err(err).
				Str("backoff", backoff.String()).
				Msg("Embedding call failed, retrying")
		}

		select {
		case <-ctx.Done():
			return nil, &ServiceError{Model: c.model, Err: ctx.Err()}
		case <-time.After(backoff):
		}
	}

	return nil, &ServiceError{Model: c.model, Err: lastErr}
}

func (c *Client) embedOnce(ctx context.Context, data []byte, contentType string) ([]float32, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Embedding-Model", c.model)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, retryable, fmt.Errorf("HTTP %d: %s", resp.StatusCode, body)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, false, fmt.Errorf("decode response: %w", err)
	}

	if len(parsed.Embedding) == 0 {
		return nil, false, fmt.Errorf("service returned empty embedding")
	}
	if c.dimension > 0 && len(parsed.Embedding) != c.dimension {
		return nil, false, fmt.Errorf("embedding dimension mismatch: expected %d, got %d", c.dimension, len(parsed.Embedding))
	}

	return parsed.Embedding, false, nil
}

// ModelVersion identifies the extraction model for provenance records.
func (c *Client) ModelVersion() string {
	return c.model
}
