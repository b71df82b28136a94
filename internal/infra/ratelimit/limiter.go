package ratelimit

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"opsagent/internal/domain"
	"opsagent/internal/infra/telemetry"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Permitted  bool          `json:"permitted"`
	Remaining  int           `json:"remaining"`
	RetryAfter time.Duration `json:"retryAfter"`
}

type entry struct {
	count         int
	windowResetAt time.Time
}

type Options struct {
	Logger  *zap.Logger
	Metrics domain.Metrics
	Clock   func() time.Time
}

// Limiter is a fixed-window counter per key. A key's window starts at its
// first request and lasts Window; at most Max requests are permitted in it.
type Limiter struct {
	name string

	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]*entry

	logger  *zap.Logger
	metrics domain.Metrics
	now     func() time.Time
}

func NewLimiter(name string, cfg domain.RateLimitConfig, opts Options) *Limiter {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	l := &Limiter{
		name:    name,
		entries: make(map[string]*entry),
		logger:  logger.Named("ratelimit").With(zap.String(telemetry.FieldLimiter, name)),
		metrics: telemetry.OrNoop(opts.Metrics),
		now:     clock,
	}
	l.applyConfig(cfg)
	return l
}

func (l *Limiter) Name() string {
	return l.name
}

// Allow counts one request for key and reports whether it is permitted.
func (l *Limiter) Allow(key string) Decision {
	l.mu.Lock()
	now := l.now()
	current, ok := l.entries[key]
	if !ok || !now.Before(current.windowResetAt) {
		current = &entry{windowResetAt: now.Add(l.window)}
		l.entries[key] = current
	}

	var decision Decision
	if current.count >= l.max {
		decision = Decision{RetryAfter: current.windowResetAt.Sub(now)}
	} else {
		current.count++
		decision = Decision{Permitted: true, Remaining: l.max - current.count}
	}
	l.mu.Unlock()

	l.metrics.ObserveRateLimit(l.name, decision.Permitted)
	if !decision.Permitted {
		l.logger.Warn("rate limit exceeded",
			telemetry.EventField(telemetry.EventRateLimited),
			zap.String("key", key),
			zap.Int64("retry_after_ms", decision.RetryAfter.Milliseconds()),
		)
	}
	return decision
}

// Check is Allow returning a RATE_LIMITED error on rejection.
func (l *Limiter) Check(key string) error {
	decision := l.Allow(key)
	if decision.Permitted {
		return nil
	}
	return domain.RateLimitedError(l.name+":"+key, decision.RetryAfter)
}

// Reset clears the window for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	delete(l.entries, key)
	l.mu.Unlock()
}

// Count reports the requests counted in key's current window.
func (l *Limiter) Count(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	current, ok := l.entries[key]
	if !ok || !l.now().Before(current.windowResetAt) {
		return 0
	}
	return current.count
}

// Sweep drops entries whose window has elapsed.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	removed := 0
	for key, current := range l.entries {
		if !now.Before(current.windowResetAt) {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

// Configure replaces the window and budget. Open windows keep their reset time.
func (l *Limiter) Configure(cfg domain.RateLimitConfig) {
	l.mu.Lock()
	l.applyConfig(cfg)
	l.mu.Unlock()
}

func (l *Limiter) applyConfig(cfg domain.RateLimitConfig) {
	l.window = cfg.Window()
	if l.window <= 0 {
		l.window = domain.SecondsToDuration(domain.DefaultRateLimitWindowSeconds)
	}
	l.max = cfg.Max
	if l.max <= 0 {
		l.max = domain.DefaultRateLimitMax
	}
}
