package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"opsagent/internal/domain"
	"opsagent/internal/infra/toolreg"
)

// Options configures an Aggregator.
type Options struct {
	Logger *zap.Logger
	// Strict rejects a registry whose tool names collide with an
	// already added registry.
	Strict bool
}

type member struct {
	registry *toolreg.Registry
	events   <-chan domain.ToolEvent
}

// Aggregator presents several registries as one tool surface.
type Aggregator struct {
	strict bool
	logger *zap.Logger

	mu      sync.RWMutex
	members []member
	byName  map[string]*toolreg.Registry

	subMu sync.RWMutex
	subs  map[<-chan domain.ToolEvent]chan domain.ToolEvent

	wg     sync.WaitGroup
	closed chan struct{}
	once   sync.Once
}

func New(opts Options) *Aggregator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		strict: opts.Strict,
		logger: logger.Named("aggregator"),
		byName: make(map[string]*toolreg.Registry),
		subs:   make(map[<-chan domain.ToolEvent]chan domain.ToolEvent),
		closed: make(chan struct{}),
	}
}

// Add registers a registry. Registry names must be unique; in strict mode
// tool names must be unique across registries too.
func (a *Aggregator) Add(registry *toolreg.Registry) error {
	if registry == nil {
		return domain.E(domain.CodeInvalidArgument, "add registry", "registry is nil", domain.ErrValidation)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	name := registry.Name()
	if _, exists := a.byName[name]; exists {
		return domain.E(domain.CodeAlreadyExists, "add registry", fmt.Sprintf("registry %q already added", name), domain.ErrDuplicateName)
	}
	if a.strict {
		for _, def := range registry.Tools() {
			for _, m := range a.members {
				if m.registry.HasTool(def.Name) {
					return domain.E(domain.CodeAlreadyExists, "add registry",
						fmt.Sprintf("tool %q of %q collides with registry %q", def.Name, name, m.registry.Name()),
						domain.ErrDuplicateName)
				}
			}
		}
	}

	events := registry.Subscribe(0)
	a.members = append(a.members, member{registry: registry, events: events})
	a.byName[name] = registry

	a.wg.Add(1)
	go a.forward(events)
	return nil
}

func (a *Aggregator) forward(events <-chan domain.ToolEvent) {
	defer a.wg.Done()
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			a.publish(event)
		case <-a.closed:
			return
		}
	}
}

func (a *Aggregator) publish(event domain.ToolEvent) {
	a.subMu.RLock()
	defer a.subMu.RUnlock()
	for _, ch := range a.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Registry returns the named registry.
func (a *Aggregator) Registry(name string) (*toolreg.Registry, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	registry, ok := a.byName[name]
	return registry, ok
}

// Registries lists registries in the order they were added.
func (a *Aggregator) Registries() []*toolreg.Registry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*toolreg.Registry, 0, len(a.members))
	for _, m := range a.members {
		out = append(out, m.registry)
	}
	return out
}

// ExecuteToolOn runs tool on one named registry.
func (a *Aggregator) ExecuteToolOn(ctx context.Context, registryName, tool string, params json.RawMessage, caller domain.CallerContext) (json.RawMessage, error) {
	registry, ok := a.Registry(registryName)
	if !ok {
		return nil, domain.E(domain.CodeNotFound, "execute tool", fmt.Sprintf("registry %q not found", registryName), domain.ErrRegistryNotFound)
	}
	return registry.ExecuteTool(ctx, tool, params, caller)
}

// ExecuteTool runs tool on the first registry, in registration order,
// that declares it.
func (a *Aggregator) ExecuteTool(ctx context.Context, tool string, params json.RawMessage, caller domain.CallerContext) (json.RawMessage, error) {
	for _, registry := range a.Registries() {
		if registry.HasTool(tool) {
			return registry.ExecuteTool(ctx, tool, params, caller)
		}
	}
	return nil, domain.E(domain.CodeNotFound, "execute tool", fmt.Sprintf("tool %q not found", tool), domain.ErrToolNotFound)
}

// Tools lists the merged catalog. Shadowed duplicates are omitted.
func (a *Aggregator) Tools() []domain.ToolDefinition {
	seen := make(map[string]struct{})
	var out []domain.ToolDefinition
	for _, registry := range a.Registries() {
		for _, def := range registry.Tools() {
			if _, ok := seen[def.Name]; ok {
				continue
			}
			seen[def.Name] = struct{}{}
			out = append(out, def)
		}
	}
	return out
}

// AggregatedStats merges every registry's stats. The average duration is
// weighted by each registry's invocation count.
func (a *Aggregator) AggregatedStats(topN int) domain.UsageStats {
	if topN <= 0 {
		topN = domain.DefaultUsageTopN
	}
	merged := domain.UsageStats{
		TopTools:     []domain.ToolCount{},
		RecentErrors: []domain.ToolFailure{},
	}
	var weighted time.Duration
	for _, registry := range a.Registries() {
		stats := registry.UsageStats(topN)
		merged.Total += stats.Total
		merged.Successes += stats.Successes
		merged.Failures += stats.Failures
		weighted += stats.AvgDuration * time.Duration(stats.Total)
		merged.TopTools = append(merged.TopTools, stats.TopTools...)
		merged.RecentErrors = append(merged.RecentErrors, stats.RecentErrors...)
	}
	if merged.Total > 0 {
		merged.SuccessRate = float64(merged.Successes) / float64(merged.Total)
		merged.AvgDuration = weighted / time.Duration(merged.Total)
	}

	toolreg.SortToolCounts(merged.TopTools)
	if len(merged.TopTools) > topN {
		merged.TopTools = merged.TopTools[:topN]
	}
	toolreg.SortFailures(merged.RecentErrors)
	if len(merged.RecentErrors) > topN {
		merged.RecentErrors = merged.RecentErrors[:topN]
	}
	return merged
}

// Subscribe returns a channel receiving events from every registry.
func (a *Aggregator) Subscribe(buffer int) <-chan domain.ToolEvent {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan domain.ToolEvent, buffer)
	a.subMu.Lock()
	a.subs[ch] = ch
	a.subMu.Unlock()
	return ch
}

func (a *Aggregator) Unsubscribe(ch <-chan domain.ToolEvent) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	if writable, ok := a.subs[ch]; ok {
		delete(a.subs, ch)
		close(writable)
	}
}

// Close stops event forwarding and closes every subscriber channel.
func (a *Aggregator) Close() {
	a.once.Do(func() {
		close(a.closed)
		a.wg.Wait()

		a.mu.RLock()
		for _, m := range a.members {
			m.registry.Unsubscribe(m.events)
		}
		a.mu.RUnlock()

		a.subMu.Lock()
		for key, ch := range a.subs {
			delete(a.subs, key)
			close(ch)
		}
		a.subMu.Unlock()
	})
}

var _ domain.ToolExecutor = (*Aggregator)(nil)
