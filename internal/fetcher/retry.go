package fetcher

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"net"
	"time"
)

// Class is the failure classification for one fetch attempt.
type Class int

const (
	ClassOK Class = iota
	ClassTransient
	ClassPermanent
)

// Decision is the next step after a classified attempt.
type Decision int

const (
	DecideSuccess Decision = iota
	DecideRetry
	DecideFail
)

// RetryPolicy defines retry behavior with exponential backoff.
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// NewRetryPolicy creates a default retry policy.
func NewRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:       3,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Classify maps an attempt's HTTP status code and transport error to a
// failure class. It is a pure function, independent of the transport
// mechanism, so retry behavior can be tested without network calls.
func Classify(statusCode int, err error) Class {
	if err != nil {
		switch {
		case isRetryableError(err):
			return ClassTransient
		case statusCode == 408, statusCode == 429, statusCode >= 500:
			// HTTP-level failures carry both a status and an error message;
			// the status decides whether another attempt can help.
			return ClassTransient
		default:
			// Malformed URLs, oversized payloads and other structural
			// failures never heal.
			return ClassPermanent
		}
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return ClassOK
	case statusCode == 408, statusCode == 429:
		return ClassTransient
	case statusCode >= 400 && statusCode < 500:
		return ClassPermanent
	case statusCode >= 500:
		return ClassTransient
	default:
		return ClassPermanent
	}
}

// Decide is the retry state machine: Attempting(n) -> Success | Retry(n+1) |
// PermanentFailure. attempt is 1-based.
func (p *RetryPolicy) Decide(attempt int, class Class) Decision {
	switch class {
	case ClassOK:
		return DecideSuccess
	case ClassTransient:
		if attempt < p.MaxAttempts {
			return DecideRetry
		}
		return DecideFail
	default:
		return DecideFail
	}
}

// Backoff calculates the wait before the next attempt with exponential
// backoff and ±25% jitter. attempt is 1-based.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	backoff := float64(p.InitialBackoff) * math.Pow(p.BackoffMultiplier, float64(attempt-1))
	if backoff > float64(p.MaxBackoff) {
		backoff = float64(p.MaxBackoff)
	}

	jitter := backoff * 0.25 * (rand.Float64()*2 - 1)
	backoff += jitter

	if backoff < 0 {
		backoff = float64(p.InitialBackoff)
	}

	return time.Duration(backoff)
}

// isRetryableError checks if an error is retryable (timeouts, connection
// errors, context deadline exceeded).
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Truncated bodies (content-length mismatch, dropped connection).
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}
