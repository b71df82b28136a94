package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"opsagent/internal/domain"
	"opsagent/internal/infra/telemetry"
)

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	Name                string        `json:"name"`
	State               State         `json:"state"`
	ConsecutiveFailures int           `json:"consecutiveFailures"`
	LastFailureAt       time.Time     `json:"lastFailureAt,omitempty"`
	FailureThreshold    int           `json:"failureThreshold"`
	OpenDuration        time.Duration `json:"openDuration"`
}

type Options struct {
	Logger  *zap.Logger
	Metrics domain.Metrics
	Clock   func() time.Time
}

// Breaker guards one dependency. It opens after FailureThreshold consecutive
// failures, rejects calls while open, and lets a single trial call through
// once OpenDuration has elapsed since the last failure.
type Breaker struct {
	name string

	mu               sync.Mutex
	state            State
	failures         int
	lastFailureAt    time.Time
	failureThreshold int
	openDuration     time.Duration
	trialInFlight    bool
	// generation advances on every state change; results of calls admitted
	// under an older generation are discarded.
	generation uint64

	logger  *zap.Logger
	metrics domain.Metrics
	now     func() time.Time
}

func New(name string, cfg domain.BreakerConfig, opts Options) *Breaker {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	b := &Breaker{
		name:    name,
		state:   StateClosed,
		logger:  logger.Named("breaker").With(telemetry.DependencyField(name)),
		metrics: telemetry.OrNoop(opts.Metrics),
		now:     clock,
	}
	b.applyConfig(cfg)
	b.metrics.SetBreakerState(name, string(StateClosed))
	return b
}

func (b *Breaker) Name() string {
	return b.name
}

// Execute runs fn unless the breaker is open. A rejected call returns a
// CIRCUIT_OPEN error without invoking fn. Cancellation of the caller's ctx
// is not counted as a dependency failure.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	t, err := b.acquire()
	if err != nil {
		return err
	}

	callErr := fn(ctx)
	if callErr != nil && ctx.Err() != nil && errors.Is(callErr, ctx.Err()) {
		b.release(t)
		return callErr
	}
	b.record(t, callErr)
	return callErr
}

// ticket identifies an admitted call.
type ticket struct {
	trial      bool
	generation uint64
}

func (b *Breaker) acquire() (ticket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailureAt) < b.openDuration {
			return ticket{}, b.rejectLocked()
		}
		b.transitionLocked(StateHalfOpen)
		b.trialInFlight = true
		return ticket{trial: true, generation: b.generation}, nil
	case StateHalfOpen:
		if b.trialInFlight {
			return ticket{}, b.rejectLocked()
		}
		b.trialInFlight = true
		return ticket{trial: true, generation: b.generation}, nil
	default:
		return ticket{generation: b.generation}, nil
	}
}

func (b *Breaker) rejectLocked() error {
	b.logger.Debug("circuit open, call rejected",
		telemetry.EventField(telemetry.EventBreakerRejected),
		telemetry.StateField(string(b.state)),
	)
	err := domain.E(domain.CodeCircuitOpen, b.name, "", domain.ErrCircuitOpen)
	err.Meta = map[string]string{domain.MetaDependency: b.name}
	return err
}

// release gives up a trial slot without judging the dependency.
func (b *Breaker) release(t ticket) {
	if !t.trial {
		return
	}
	b.mu.Lock()
	if t.generation == b.generation {
		b.trialInFlight = false
	}
	b.mu.Unlock()
}

func (b *Breaker) record(t ticket, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t.generation != b.generation {
		b.logger.Debug("stale call result discarded",
			telemetry.StateField(string(b.state)),
			zap.Bool("failed", err != nil),
		)
		return
	}
	if t.trial {
		b.trialInFlight = false
	}
	if err == nil {
		b.failures = 0
		if b.state != StateClosed {
			b.transitionLocked(StateClosed)
		}
		return
	}

	b.failures++
	b.lastFailureAt = b.now()
	switch b.state {
	case StateHalfOpen:
		b.transitionLocked(StateOpen)
	case StateClosed:
		if b.failures >= b.failureThreshold {
			b.transitionLocked(StateOpen)
		}
	}
}

func (b *Breaker) transitionLocked(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.generation++
	b.metrics.ObserveBreakerTransition(b.name, string(from), string(to))
	b.metrics.SetBreakerState(b.name, string(to))

	fields := []zap.Field{
		telemetry.EventField(telemetry.EventBreakerTransition),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int("consecutive_failures", b.failures),
	}
	if to == StateOpen {
		b.logger.Warn("circuit breaker opened", fields...)
		return
	}
	b.logger.Info("circuit breaker state changed", fields...)
}

// State reports the current state. An open breaker whose timer elapsed
// still reports open until the next call moves it to half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:                b.name,
		State:               b.state,
		ConsecutiveFailures: b.failures,
		LastFailureAt:       b.lastFailureAt,
		FailureThreshold:    b.failureThreshold,
		OpenDuration:        b.openDuration,
	}
}

// Reset forces the breaker closed and clears its failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.trialInFlight = false
	b.lastFailureAt = time.Time{}
	b.transitionLocked(StateClosed)
}

func (b *Breaker) Configure(cfg domain.BreakerConfig) {
	b.mu.Lock()
	b.applyConfig(cfg)
	b.mu.Unlock()
}

func (b *Breaker) applyConfig(cfg domain.BreakerConfig) {
	b.failureThreshold = cfg.FailureThreshold
	if b.failureThreshold <= 0 {
		b.failureThreshold = domain.DefaultBreakerFailureThreshold
	}
	b.openDuration = cfg.OpenDuration()
	if b.openDuration <= 0 {
		b.openDuration = domain.SecondsToDuration(domain.DefaultBreakerOpenSeconds)
	}
}
