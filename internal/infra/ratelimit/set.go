package ratelimit

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"opsagent/internal/domain"
	"opsagent/internal/infra/telemetry"
)

// DefaultClasses are the operation classes every Set carries.
var DefaultClasses = []string{domain.LimiterSync, domain.LimiterAPI, domain.LimiterChat}

// Set holds one independent limiter per operation class.
type Set struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	opts     Options
	logger   *zap.Logger
	health   *telemetry.HealthTracker

	sweepMu     sync.Mutex
	sweepTicker *time.Ticker
	stopSweep   chan struct{}
	sweepBeat   *telemetry.Heartbeat
}

// NewSet builds limiters for the default classes plus any extra classes in cfg.
func NewSet(cfg map[string]domain.RateLimitConfig, opts Options, health *telemetry.HealthTracker) *Set {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Set{
		limiters: make(map[string]*Limiter),
		opts:     opts,
		logger:   logger.Named("ratelimit"),
		health:   health,
	}
	for _, class := range DefaultClasses {
		s.limiters[class] = NewLimiter(class, configFor(cfg, class), opts)
	}
	for class, classCfg := range cfg {
		if _, ok := s.limiters[class]; !ok {
			s.limiters[class] = NewLimiter(class, classCfg, opts)
		}
	}
	return s
}

func configFor(cfg map[string]domain.RateLimitConfig, class string) domain.RateLimitConfig {
	if c, ok := cfg[class]; ok {
		return c
	}
	return domain.DefaultRateLimitConfig()
}

// Get returns the limiter for class, creating one with defaults when missing.
func (s *Set) Get(class string) *Limiter {
	s.mu.RLock()
	limiter, ok := s.limiters[class]
	s.mu.RUnlock()
	if ok {
		return limiter
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if limiter, ok := s.limiters[class]; ok {
		return limiter
	}
	limiter = NewLimiter(class, domain.DefaultRateLimitConfig(), s.opts)
	s.limiters[class] = limiter
	return limiter
}

func (s *Set) Allow(class, key string) Decision {
	return s.Get(class).Allow(key)
}

func (s *Set) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.limiters))
	for name := range s.limiters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Apply reconfigures existing limiters and adds new classes from cfg.
func (s *Set) Apply(cfg map[string]domain.RateLimitConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for class, limiter := range s.limiters {
		limiter.Configure(configFor(cfg, class))
	}
	for class, classCfg := range cfg {
		if _, ok := s.limiters[class]; !ok {
			s.limiters[class] = NewLimiter(class, classCfg, s.opts)
		}
	}
}

func (s *Set) Sweep() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	removed := 0
	for _, limiter := range s.limiters {
		removed += limiter.Sweep()
	}
	return removed
}

// Start periodically sweeps elapsed windows from every limiter.
func (s *Set) Start(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	s.sweepMu.Lock()
	if s.sweepTicker != nil {
		s.sweepMu.Unlock()
		return
	}
	s.sweepTicker = time.NewTicker(interval)
	s.stopSweep = make(chan struct{})
	ticker := s.sweepTicker
	stop := s.stopSweep
	if s.health != nil {
		s.sweepBeat = s.health.Register("ratelimit_sweep", interval*3)
	}
	beat := s.sweepBeat
	s.sweepMu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				beat.Beat()
				if removed := s.Sweep(); removed > 0 {
					s.logger.Debug("limiter sweep removed elapsed windows",
						telemetry.EventField(telemetry.EventLimiterSweep),
						zap.Int("removed", removed),
					)
				}
			case <-stop:
				return
			}
		}
	}()
}

func (s *Set) Stop() {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()
	if s.sweepTicker == nil {
		return
	}
	s.sweepTicker.Stop()
	s.sweepTicker = nil
	close(s.stopSweep)
	s.stopSweep = nil
	s.sweepBeat.Stop()
	s.sweepBeat = nil
}
