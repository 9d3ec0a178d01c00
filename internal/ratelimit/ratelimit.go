// Package ratelimit provides a flexible, multi-category rate limiter shared
// by every upstream-API caller (search provider, summary provider). Each
// category is configured independently with one of three strategies.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"barwatch/internal/logging"
)

// Strategy selects the admission algorithm used by a category.
type Strategy string

const (
	SlidingWindow Strategy = "sliding_window"
	FixedWindow   Strategy = "fixed_window"
	TokenBucket   Strategy = "token_bucket"
)

// Config describes the budget and strategy for one category.
type Config struct {
	RequestsPerWindow int
	WindowSeconds     int
	Strategy          Strategy
}

// Limiter is a gatekeeper routing each request through a named category.
// It is safe for concurrent use by multiple callers.
type Limiter struct {
	mu         sync.Mutex
	configs    map[string]Config
	sliding    map[string][]time.Time
	fixed      map[string]fixedWindowState
	buckets    map[string]*rate.Limiter
}

type fixedWindowState struct {
	windowStart time.Time
	count       int
}

// New returns an empty Limiter. Categories must be installed with Configure
// before Acquire/Remaining are meaningful; unconfigured categories fail open.
func New() *Limiter {
	return &Limiter{
		configs: make(map[string]Config),
		sliding: make(map[string][]time.Time),
		fixed:   make(map[string]fixedWindowState),
		buckets: make(map[string]*rate.Limiter),
	}
}

// Configure installs or replaces the configuration for category. Idempotent.
func (l *Limiter) Configure(category string, cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.configs[category] = cfg
	if cfg.Strategy == TokenBucket && cfg.WindowSeconds > 0 {
		refill := rate.Limit(float64(cfg.RequestsPerWindow) / float64(cfg.WindowSeconds))
		l.buckets[category] = rate.NewLimiter(refill, cfg.RequestsPerWindow)
	}
	logging.L().Debug().Str("category", category).Int("requests_per_window", cfg.RequestsPerWindow).
		Int("window_seconds", cfg.WindowSeconds).Str("strategy", string(cfg.Strategy)).Msg("ratelimit_configure")
}

// Acquire blocks until one unit of category's budget is available, then
// charges it. Unknown categories fail open (return immediately) with a
// logged warning, and are never charged.
func (l *Limiter) Acquire(ctx context.Context, category string) error {
	l.mu.Lock()
	cfg, ok := l.configs[category]
	l.mu.Unlock()
	if !ok {
		logging.L().Warn().Str("category", category).Msg("ratelimit_unconfigured_category")
		return nil
	}

	switch cfg.Strategy {
	case TokenBucket:
		return l.acquireTokenBucket(ctx, category)
	case FixedWindow:
		return l.acquireFixedWindow(ctx, category, cfg)
	default:
		return l.acquireSlidingWindow(ctx, category, cfg)
	}
}

func (l *Limiter) acquireTokenBucket(ctx context.Context, category string) error {
	l.mu.Lock()
	b := l.buckets[category]
	l.mu.Unlock()
	if b == nil {
		return nil
	}
	return b.Wait(ctx)
}

func (l *Limiter) acquireSlidingWindow(ctx context.Context, category string, cfg Config) error {
	window := time.Duration(cfg.WindowSeconds) * time.Second
	for {
		l.mu.Lock()
		now := time.Now()
		times := pruneSliding(l.sliding[category], now, window)
		if len(times) < cfg.RequestsPerWindow {
			times = append(times, now)
			l.sliding[category] = times
			l.mu.Unlock()
			return nil
		}
		oldest := times[0]
		l.sliding[category] = times
		l.mu.Unlock()
		wait := window - now.Sub(oldest)
		if wait <= 0 {
			continue
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

func pruneSliding(times []time.Time, now time.Time, window time.Duration) []time.Time {
	out := times[:0]
	for _, t := range times {
		if now.Sub(t) < window {
			out = append(out, t)
		}
	}
	return out
}

func (l *Limiter) acquireFixedWindow(ctx context.Context, category string, cfg Config) error {
	window := time.Duration(cfg.WindowSeconds) * time.Second
	for {
		l.mu.Lock()
		now := time.Now()
		windowStart := now.Truncate(window)
		state, ok := l.fixed[category]
		if !ok || !state.windowStart.Equal(windowStart) {
			state = fixedWindowState{windowStart: windowStart, count: 0}
		}
		if state.count < cfg.RequestsPerWindow {
			state.count++
			l.fixed[category] = state
			l.mu.Unlock()
			return nil
		}
		l.fixed[category] = state
		l.mu.Unlock()
		wait := state.windowStart.Add(window).Sub(now)
		if wait <= 0 {
			continue
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Remaining returns a best-effort estimate of current headroom for category.
// It never exceeds the configured limit and returns 0 for unknown categories
// (they fail open, so there is no real budget to report).
func (l *Limiter) Remaining(category string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cfg, ok := l.configs[category]
	if !ok {
		return 0
	}
	switch cfg.Strategy {
	case TokenBucket:
		if b := l.buckets[category]; b != nil {
			return int(b.Tokens())
		}
		return cfg.RequestsPerWindow
	case FixedWindow:
		state := l.fixed[category]
		window := time.Duration(cfg.WindowSeconds) * time.Second
		if !state.windowStart.Equal(time.Now().Truncate(window)) {
			return cfg.RequestsPerWindow
		}
		remaining := cfg.RequestsPerWindow - state.count
		if remaining < 0 {
			return 0
		}
		return remaining
	default:
		window := time.Duration(cfg.WindowSeconds) * time.Second
		times := pruneSliding(l.sliding[category], time.Now(), window)
		remaining := cfg.RequestsPerWindow - len(times)
		if remaining < 0 {
			return 0
		}
		return remaining
	}
}
