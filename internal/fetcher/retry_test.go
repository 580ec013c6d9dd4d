package fetcher

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		err        error
		expected   Class
	}{
		{"success 200", 200, nil, ClassOK},
		{"success 204", 204, nil, ClassOK},
		{"not found", 404, nil, ClassPermanent},
		{"forbidden", 403, nil, ClassPermanent},
		{"unsupported media", 415, nil, ClassPermanent},
		{"request timeout", 408, nil, ClassTransient},
		{"too many requests", 429, nil, ClassTransient},
		{"server error", 500, nil, ClassTransient},
		{"bad gateway", 502, nil, ClassTransient},
		{"deadline exceeded", 0, context.DeadlineExceeded, ClassTransient},
		{"truncated body", 0, io.ErrUnexpectedEOF, ClassTransient},
		{"malformed request", 0, errors.New("create request: bad url"), ClassPermanent},
		{"server error with message", 503, errors.New("HTTP 503"), ClassTransient},
		{"throttled with message", 429, errors.New("HTTP 429"), ClassTransient},
		{"not found with message", 404, errors.New("HTTP 404"), ClassPermanent},
		{"oversized payload on 200", 200, errors.New("payload exceeds 1024 bytes"), ClassPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.statusCode, tt.err))
		})
	}
}

func TestDecide(t *testing.T) {
	policy := NewRetryPolicy() // 3 attempts

	assert.Equal(t, DecideSuccess, policy.Decide(1, ClassOK))
	assert.Equal(t, DecideRetry, policy.Decide(1, ClassTransient))
	assert.Equal(t, DecideRetry, policy.Decide(2, ClassTransient))
	assert.Equal(t, DecideFail, policy.Decide(3, ClassTransient))
	assert.Equal(t, DecideFail, policy.Decide(1, ClassPermanent))
}

func TestBackoffGrowsAndStaysBounded(t *testing.T) {
	policy := &RetryPolicy{
		MaxAttempts:       5,
		InitialBackoff:    time.Second,
		MaxBackoff:        4 * time.Second,
		BackoffMultiplier: 2.0,
	}

	for attempt := 1; attempt <= 5; attempt++ {
		backoff := policy.Backoff(attempt)
		assert.Greater(t, backoff, time.Duration(0), "attempt %d", attempt)
		// Cap plus the 25% jitter ceiling.
		assert.LessOrEqual(t, backoff, 5*time.Second, "attempt %d", attempt)
	}

	// First backoff centers on the initial value.
	first := policy.Backoff(1)
	assert.GreaterOrEqual(t, first, 750*time.Millisecond)
	assert.LessOrEqual(t, first, 1250*time.Millisecond)
}
