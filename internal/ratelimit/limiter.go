package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/verdant/internal/models"
)

// Limiter implements per-source rate limiting with a sliding time window:
// at most `calls` acquisitions per rolling `period`. Window state is held in
// memory only; it resets on process restart.
type Limiter struct {
	windows  map[string]*sourceWindow
	mu       sync.RWMutex
	defaults models.RateLimitConfig
	clock    Clock
}

// sourceWindow tracks acquisition timestamps for a single source.
type sourceWindow struct {
	mu     sync.Mutex
	stamps []time.Time
	calls  int
	period time.Duration
}

// NewLimiter creates a limiter with the given default budget for sources
// without an explicit configuration.
func NewLimiter(defaults models.RateLimitConfig) *Limiter {
	return &Limiter{
		windows:  make(map[string]*sourceWindow),
		defaults: defaults,
		clock:    realClock{},
	}
}

// NewLimiterWithClock creates a limiter driven by a custom clock (tests).
func NewLimiterWithClock(defaults models.RateLimitConfig, clock Clock) *Limiter {
	l := NewLimiter(defaults)
	l.clock = clock
	return l
}

// Configure sets a per-source budget. An unchanged budget keeps the existing
// window so acquisitions made shortly before still count against it; only a
// changed budget resets the window state.
func (l *Limiter) Configure(sourceID string, cfg models.RateLimitConfig) {
	if cfg.Calls <= 0 || cfg.Period <= 0 {
		cfg = l.defaults
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if w, exists := l.windows[sourceID]; exists && w.calls == cfg.Calls && w.period == cfg.Period.Std() {
		return
	}
	l.windows[sourceID] = &sourceWindow{calls: cfg.Calls, period: cfg.Period.Std()}
}

// Acquire blocks until issuing a request would not exceed the source's
// budget, then records the acquisition. Safe under concurrent callers:
// acquisitions for one source are serialized so the budget is never exceeded.
func (l *Limiter) Acquire(ctx context.Context, sourceID string) error {
	w := l.window(sourceID)

	w.mu.Lock()
	defer w.mu.Unlock()

	for {
		now := l.clock.Now()
		w.prune(now)

		if len(w.stamps) < w.calls {
			w.stamps = append(w.stamps, now)
			return nil
		}

		// Window is full: wait until the oldest stamp expires.
		wait := w.stamps[0].Add(w.period).Sub(now)
		if wait <= 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.clock.After(wait):
		}
	}
}

// window returns the window for a source, creating one with the default
// budget if the source was never configured.
func (l *Limiter) window(sourceID string) *sourceWindow {
	l.mu.RLock()
	w, exists := l.windows[sourceID]
	l.mu.RUnlock()
	if exists {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w, exists = l.windows[sourceID]; exists {
		return w
	}
	w = &sourceWindow{calls: l.defaults.Calls, period: l.defaults.Period.Std()}
	l.windows[sourceID] = w
	return w
}

// prune drops timestamps older than the rolling period. Caller holds w.mu.
func (w *sourceWindow) prune(now time.Time) {
	cutoff := now.Add(-w.period)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}
