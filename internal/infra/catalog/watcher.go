package catalog

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"opsagent/internal/domain"
)

const defaultReloadDebounce = 200 * time.Millisecond

// Provider serves the loaded config and reloads it when the file changes.
// A reload that fails validation keeps the previous config.
type Provider struct {
	logger   *zap.Logger
	loader   *Loader
	path     string
	debounce time.Duration

	state    atomic.Value
	revision atomic.Uint64

	subsMu sync.Mutex
	subs   map[chan domain.RuntimeConfig]struct{}

	reloadMu  sync.Mutex
	watchOnce sync.Once
	watchCtx  context.Context
}

var _ domain.ConfigProvider = (*Provider)(nil)

// NewProvider loads path once. ctx bounds the file watcher started by Watch.
func NewProvider(ctx context.Context, path string, logger *zap.Logger) (*Provider, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	loader := NewLoader(logger)
	cfg, err := loader.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	p := &Provider{
		logger:   logger.Named("config_provider"),
		loader:   loader,
		path:     path,
		debounce: defaultReloadDebounce,
		subs:     make(map[chan domain.RuntimeConfig]struct{}),
		watchCtx: ctx,
	}
	p.state.Store(cfg)
	p.revision.Store(1)
	return p, nil
}

func (p *Provider) Snapshot() domain.RuntimeConfig {
	return p.state.Load().(domain.RuntimeConfig)
}

// Revision counts applied configs, starting at 1.
func (p *Provider) Revision() uint64 {
	return p.revision.Load()
}

func (p *Provider) Path() string {
	return p.path
}

func (p *Provider) Watch(ctx context.Context) (<-chan domain.RuntimeConfig, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ch := make(chan domain.RuntimeConfig, 1)
	p.subsMu.Lock()
	p.subs[ch] = struct{}{}
	p.subsMu.Unlock()

	p.watchOnce.Do(func() {
		go p.runWatcher(p.watchCtx)
	})

	go func() {
		<-ctx.Done()
		p.subsMu.Lock()
		delete(p.subs, ch)
		p.subsMu.Unlock()
	}()

	return ch, nil
}

// Reload re-reads the file and notifies watchers when the config changed.
// It reports whether a new config was applied.
func (p *Provider) Reload(ctx context.Context) (bool, error) {
	p.reloadMu.Lock()
	defer p.reloadMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	next, err := p.loader.Load(ctx, p.path)
	if err != nil {
		return false, err
	}
	prev := p.Snapshot()
	if cmp.Equal(prev, next) {
		return false, nil
	}
	p.state.Store(next)
	revision := p.revision.Add(1)
	p.logger.Info("config reloaded", zap.Uint64("revision", revision), zap.String("path", p.path))
	p.broadcast(next)
	return true, nil
}

func (p *Provider) broadcast(cfg domain.RuntimeConfig) {
	for _, ch := range p.copySubscribers() {
		select {
		case ch <- cfg:
		default:
			// Drop the stale pending value so the subscriber sees the latest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- cfg:
			default:
			}
		}
	}
}

func (p *Provider) copySubscribers() []chan domain.RuntimeConfig {
	p.subsMu.Lock()
	defer p.subsMu.Unlock()

	out := make([]chan domain.RuntimeConfig, 0, len(p.subs))
	for ch := range p.subs {
		out = append(out, ch)
	}
	return out
}

func (p *Provider) runWatcher(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		p.logger.Warn("config watcher failed", zap.Error(err))
		return
	}
	defer watcher.Close()

	// Editors often replace the file, so watch the directory.
	dir := filepath.Dir(p.path)
	if err := watcher.Add(dir); err != nil {
		p.logger.Warn("config watcher add failed", zap.String("path", dir), zap.Error(err))
		return
	}
	target := filepath.Clean(p.path)

	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				p.logger.Warn("config watcher error", zap.Error(err))
			}
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(p.debounce)
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(p.debounce)
		case <-timerChan(timer):
			timer = nil
			if _, err := p.Reload(ctx); err != nil {
				p.logger.Warn("config reload failed; keeping previous config", zap.Error(err))
			}
		}
	}
}

func timerChan(timer *time.Timer) <-chan time.Time {
	if timer == nil {
		return nil
	}
	return timer.C
}
