package retry

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"opsagent/internal/domain"
	"opsagent/internal/infra/telemetry"
)

// Classifier reports whether an error is worth another attempt.
type Classifier func(error) bool

type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Classifier   Classifier
}

// ConfigFrom converts a file config, filling zero fields with defaults.
func ConfigFrom(cfg domain.RetryConfig) Config {
	defaults := domain.DefaultRetryConfig()
	out := Config{
		MaxAttempts:  cfg.MaxAttempts,
		InitialDelay: cfg.InitialDelay(),
		MaxDelay:     cfg.MaxDelay(),
		Multiplier:   cfg.Multiplier,
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = defaults.MaxAttempts
	}
	if out.InitialDelay <= 0 {
		out.InitialDelay = defaults.InitialDelay()
	}
	if out.MaxDelay <= 0 {
		out.MaxDelay = defaults.MaxDelay()
	}
	if out.Multiplier < 1 {
		out.Multiplier = defaults.Multiplier
	}
	return out
}

// Delay returns the wait before attempt n+1, given n completed attempts.
func (c Config) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	multiplier := c.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(c.InitialDelay) * math.Pow(multiplier, float64(n-1))
	if c.MaxDelay > 0 && delay > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(delay)
}

// Result reports how an operation finished.
type Result struct {
	Attempts  int
	Elapsed   time.Duration
	Exhausted bool
}

type Executor struct {
	logger  *zap.Logger
	metrics domain.Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewExecutor(logger *zap.Logger, metrics domain.Metrics) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		logger:  logger.Named("retry"),
		metrics: telemetry.OrNoop(metrics),
		sleep:   sleepContext,
	}
}

// Do runs op until it succeeds, returns a non-retryable error, or
// MaxAttempts is reached. On exhaustion the last error is returned as is.
func (e *Executor) Do(ctx context.Context, name string, cfg Config, op func(context.Context) error) error {
	_, err := e.DoWithResult(ctx, name, cfg, op)
	return err
}

func (e *Executor) DoWithResult(ctx context.Context, name string, cfg Config, op func(context.Context) error) (Result, error) {
	classify := cfg.Classifier
	if classify == nil {
		classify = domain.IsRetryable
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	logger := telemetry.LoggerWithRequest(ctx, e.logger).With(telemetry.OperationField(name))

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		e.metrics.ObserveRetry(name, domain.RetryEventAttempt, attempt)
		lastErr = op(ctx)
		elapsed := time.Since(start)

		if lastErr == nil {
			e.metrics.ObserveRetry(name, domain.RetryEventSuccess, attempt)
			if attempt > 1 {
				logger.Info("operation succeeded after retry",
					telemetry.EventField(telemetry.EventRetrySuccess),
					telemetry.AttemptField(attempt),
					telemetry.ElapsedField(elapsed),
				)
			}
			return Result{Attempts: attempt, Elapsed: elapsed}, nil
		}

		if !classify(lastErr) {
			logger.Debug("operation failed with non-retryable error",
				telemetry.EventField(telemetry.EventRetryAborted),
				telemetry.AttemptField(attempt),
				telemetry.ElapsedField(elapsed),
				zap.Error(lastErr),
			)
			e.metrics.ObserveRetry(name, domain.RetryEventAborted, attempt)
			return Result{Attempts: attempt, Elapsed: elapsed}, lastErr
		}

		if attempt == maxAttempts {
			break
		}

		delay := cfg.Delay(attempt)
		if hint, ok := domain.RetryAfterFrom(lastErr); ok && hint > delay {
			delay = hint
			if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}
		logger.Warn("operation failed, retrying",
			telemetry.EventField(telemetry.EventRetryAttempt),
			telemetry.AttemptField(attempt),
			telemetry.ElapsedField(elapsed),
			zap.Int64("delay_ms", delay.Milliseconds()),
			zap.Error(lastErr),
		)
		if err := e.sleep(ctx, delay); err != nil {
			e.metrics.ObserveRetry(name, domain.RetryEventAborted, attempt)
			return Result{Attempts: attempt, Elapsed: time.Since(start)}, err
		}
	}

	elapsed := time.Since(start)
	e.metrics.ObserveRetry(name, domain.RetryEventExhausted, maxAttempts)
	logger.Error("operation failed after all attempts",
		telemetry.EventField(telemetry.EventRetryExhausted),
		telemetry.AttemptField(maxAttempts),
		telemetry.ElapsedField(elapsed),
		zap.Error(lastErr),
	)
	return Result{Attempts: maxAttempts, Elapsed: elapsed, Exhausted: true}, lastErr
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, e *Executor, name string, cfg Config, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := e.Do(ctx, name, cfg, func(ctx context.Context) error {
		value, err := op(ctx)
		if err != nil {
			return err
		}
		out = value
		return nil
	})
	return out, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
