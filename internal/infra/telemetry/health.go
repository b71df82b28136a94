package telemetry

import (
	"sort"
	"sync"
	"time"
)

// HealthTracker records heartbeats from background loops and reports
// unhealthy when any loop misses its deadline.
type HealthTracker struct {
	mu     sync.RWMutex
	checks map[string]*healthCheck
	now    func() time.Time
}

type healthCheck struct {
	name     string
	deadline time.Duration
	lastBeat time.Time
}

type HealthReport struct {
	Status string        `json:"status"`
	Checks []CheckReport `json:"checks,omitempty"`
}

type CheckReport struct {
	Name     string `json:"name"`
	Healthy  bool   `json:"healthy"`
	LastBeat string `json:"lastBeat,omitempty"`
	StaleMs  int64  `json:"staleMs,omitempty"`
}

// Heartbeat is the handle a background loop uses to report liveness.
type Heartbeat struct {
	tracker *HealthTracker
	name    string
}

func NewHealthTracker() *HealthTracker {
	return &HealthTracker{
		checks: make(map[string]*healthCheck),
		now:    time.Now,
	}
}

// Register adds a named loop that must beat at least once per deadline.
func (t *HealthTracker) Register(name string, deadline time.Duration) *Heartbeat {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.checks[name] = &healthCheck{
		name:     name,
		deadline: deadline,
		lastBeat: t.now(),
	}
	return &Heartbeat{tracker: t, name: name}
}

func (t *HealthTracker) Unregister(name string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	delete(t.checks, name)
	t.mu.Unlock()
}

func (t *HealthTracker) Report() HealthReport {
	if t == nil {
		return HealthReport{Status: "ok"}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	report := HealthReport{Status: "ok"}
	names := make([]string, 0, len(t.checks))
	for name := range t.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		check := t.checks[name]
		stale := now.Sub(check.lastBeat)
		healthy := check.deadline <= 0 || stale <= check.deadline
		entry := CheckReport{
			Name:     name,
			Healthy:  healthy,
			LastBeat: check.lastBeat.UTC().Format(time.RFC3339Nano),
		}
		if !healthy {
			entry.StaleMs = stale.Milliseconds()
			report.Status = "degraded"
		}
		report.Checks = append(report.Checks, entry)
	}
	return report
}

func (h *Heartbeat) Beat() {
	if h == nil || h.tracker == nil {
		return
	}
	h.tracker.mu.Lock()
	if check, ok := h.tracker.checks[h.name]; ok {
		check.lastBeat = h.tracker.now()
	}
	h.tracker.mu.Unlock()
}

func (h *Heartbeat) Stop() {
	if h == nil || h.tracker == nil {
		return
	}
	h.tracker.Unregister(h.name)
}
