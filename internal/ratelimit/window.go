// Package ratelimit implements a fixed-window request counter keyed by
// (api, user). It complements the per-host token buckets inside the HTTP
// provider clients: this limiter enforces the contractual per-API quota.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/nutriflow/nutrition-core/internal/model"
)

// ErrRateLimited is returned when a slot cannot be acquired before the
// caller's deadline.
var ErrRateLimited = eris.New("rate limited")

// WindowConfig sets the quota for one API.
type WindowConfig struct {
	Window      time.Duration `yaml:"window" mapstructure:"window"`
	MaxRequests int           `yaml:"max_requests" mapstructure:"max_requests"`
}

type key struct {
	api    string
	userID string
}

type counter struct {
	windowStart time.Time
	count       int
}

// Limiter tracks fixed-window counters for all configured APIs. The
// check-and-increment is performed under one lock so concurrent callers
// never lose updates.
type Limiter struct {
	mu       sync.Mutex
	configs  map[string]WindowConfig
	fallback WindowConfig
	counters map[key]*counter

	nowFunc func() time.Time
}

// New creates a limiter with per-API configs and a fallback quota for
// unconfigured APIs.
func New(configs map[string]WindowConfig, fallback WindowConfig) *Limiter {
	if fallback.Window <= 0 {
		fallback.Window = time.Minute
	}
	if fallback.MaxRequests <= 0 {
		fallback.MaxRequests = 60
	}
	return &Limiter{
		configs:  configs,
		fallback: fallback,
		counters: make(map[key]*counter),
		nowFunc:  time.Now,
	}
}

// WithNow sets a fixed clock for testing.
func (l *Limiter) WithNow(fn func() time.Time) *Limiter {
	l.nowFunc = fn
	return l
}

func (l *Limiter) configFor(api string) WindowConfig {
	if cfg, ok := l.configs[api]; ok {
		return cfg
	}
	return l.fallback
}

// Acquire claims one request slot for (api, userID). If the window is
// exhausted it waits for the window to reset, but only when the reset falls
// within the caller's deadline; otherwise it fails immediately with
// ErrRateLimited. It never blocks past the deadline.
func (l *Limiter) Acquire(ctx context.Context, api, userID string) error {
	for {
		ok, resetAt := l.tryAcquire(api, userID)
		if ok {
			return nil
		}

		if deadline, has := ctx.Deadline(); has && resetAt.After(deadline) {
			zap.L().Debug("rate limit window exhausted before deadline",
				zap.String("api", api),
				zap.String("user_id", userID),
				zap.Time("reset_at", resetAt),
			)
			return eris.Wrapf(ErrRateLimited, "api %s window resets at %s", api, resetAt.Format(time.RFC3339))
		}

		wait := resetAt.Sub(l.nowFunc())
		if wait < 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return eris.Wrapf(ErrRateLimited, "api %s: %v", api, ctx.Err())
		case <-timer.C:
		}
	}
}

// tryAcquire attempts an atomic check-and-increment. On failure it returns
// when the current window resets.
func (l *Limiter) tryAcquire(api, userID string) (bool, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cfg := l.configFor(api)
	now := l.nowFunc()
	k := key{api: api, userID: userID}

	c, ok := l.counters[k]
	if !ok || now.Sub(c.windowStart) >= cfg.Window {
		if cfg.MaxRequests < 1 {
			return false, now.Add(cfg.Window)
		}
		l.counters[k] = &counter{windowStart: now, count: 1}
		return true, time.Time{}
	}

	if c.count < cfg.MaxRequests {
		c.count++
		return true, time.Time{}
	}

	return false, c.windowStart.Add(cfg.Window)
}

// Snapshot exports the live counters for persistence.
func (l *Limiter) Snapshot() []model.RateLimitState {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]model.RateLimitState, 0, len(l.counters))
	for k, c := range l.counters {
		cfg := l.configFor(k.api)
		out = append(out, model.RateLimitState{
			APIName:           k.api,
			UserID:            k.userID,
			WindowStart:       c.windowStart,
			RequestsCount:     c.count,
			WindowSizeMinutes: int(cfg.Window / time.Minute),
			MaxRequests:       cfg.MaxRequests,
		})
	}
	return out
}

// Restore seeds counters from persisted state, dropping windows that have
// already elapsed.
func (l *Limiter) Restore(states []model.RateLimitState) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	for _, s := range states {
		cfg := l.configFor(s.APIName)
		if now.Sub(s.WindowStart) >= cfg.Window {
			continue
		}
		l.counters[key{api: s.APIName, userID: s.UserID}] = &counter{
			windowStart: s.WindowStart,
			count:       s.RequestsCount,
		}
	}
}
