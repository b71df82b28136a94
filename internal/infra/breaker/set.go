package breaker

import (
	"sort"
	"sync"

	"opsagent/internal/domain"
)

// Set holds one breaker per dependency name.
type Set struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	configs  map[string]domain.BreakerConfig
	opts     Options
}

func NewSet(cfg map[string]domain.BreakerConfig, opts Options) *Set {
	s := &Set{
		breakers: make(map[string]*Breaker),
		configs:  make(map[string]domain.BreakerConfig, len(cfg)),
		opts:     opts,
	}
	for name, c := range cfg {
		s.configs[name] = c
		s.breakers[name] = New(name, c, opts)
	}
	return s
}

// Get returns the breaker for dependency, creating it on first use.
func (s *Set) Get(dependency string) *Breaker {
	s.mu.RLock()
	b, ok := s.breakers[dependency]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.breakers[dependency]; ok {
		return b
	}
	cfg, ok := s.configs[dependency]
	if !ok {
		cfg = domain.DefaultBreakerConfig()
	}
	b = New(dependency, cfg, s.opts)
	s.breakers[dependency] = b
	return b
}

// Snapshots lists every breaker sorted by name.
func (s *Set) Snapshots() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Snapshot, 0, len(s.breakers))
	for _, b := range s.breakers {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Reset closes the named breaker. It reports false for unknown names.
func (s *Set) Reset(dependency string) bool {
	s.mu.RLock()
	b, ok := s.breakers[dependency]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	b.Reset()
	return true
}

func (s *Set) Apply(cfg map[string]domain.BreakerConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, c := range cfg {
		s.configs[name] = c
		if b, ok := s.breakers[name]; ok {
			b.Configure(c)
		}
	}
}
