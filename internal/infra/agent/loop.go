package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"opsagent/internal/domain"
	"opsagent/internal/infra/telemetry"
)

const (
	maxParallelTools = 8

	CappedMessage  = "I could not finish this request within the allowed number of steps. Please narrow the question and try again."
	TimeoutMessage = "This request took too long to process. Please try again in a moment."
)

// State is the per-query working set of a run. It is never shared.
type State struct {
	History   []domain.Turn
	Pending   []domain.ToolCall
	Iteration int
	StartedAt time.Time
}

type Options struct {
	Logger  *zap.Logger
	Metrics domain.Metrics
	Store   domain.ConversationStore
	Clock   func() time.Time
}

// Loop alternates reasoning and tool execution until the reasoner produces
// a final answer, the iteration cap is reached, or a step times out.
type Loop struct {
	reasoner domain.Reasoner
	tools    domain.ToolExecutor
	store    domain.ConversationStore

	mu  sync.RWMutex
	cfg domain.AgentConfig

	logger  *zap.Logger
	metrics domain.Metrics
	now     func() time.Time
}

func New(reasoner domain.Reasoner, tools domain.ToolExecutor, cfg domain.AgentConfig, opts Options) *Loop {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Loop{
		reasoner: reasoner,
		tools:    tools,
		store:    opts.Store,
		cfg:      normalizeConfig(cfg),
		logger:   logger.Named("agent"),
		metrics:  telemetry.OrNoop(opts.Metrics),
		now:      clock,
	}
}

func normalizeConfig(cfg domain.AgentConfig) domain.AgentConfig {
	defaults := domain.DefaultAgentConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaults.MaxIterations
	}
	if cfg.FirstStepTimeoutSeconds <= 0 {
		cfg.FirstStepTimeoutSeconds = defaults.FirstStepTimeoutSeconds
	}
	if cfg.StepTimeoutSeconds <= 0 {
		cfg.StepTimeoutSeconds = defaults.StepTimeoutSeconds
	}
	if cfg.HistoryTurns < 0 {
		cfg.HistoryTurns = 0
	}
	return cfg
}

// Configure applies new bounds to runs started afterwards.
func (l *Loop) Configure(cfg domain.AgentConfig) {
	l.mu.Lock()
	l.cfg = normalizeConfig(cfg)
	l.mu.Unlock()
}

func (l *Loop) config() domain.AgentConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// stepTimeouts bounds each phase of a run: first covers the first reasoning
// call, rest covers later reasoning calls and every round of tool calls.
type stepTimeouts struct {
	first time.Duration
	rest  time.Duration
}

// Run answers one query. Capped and timed-out runs still return a
// user-facing answer with the outcome set; the error is reserved for hard
// failures of the store, the reasoner or the caller's context.
func (l *Loop) Run(ctx context.Context, query domain.AgentQuery) (domain.AgentResult, error) {
	cfg := l.config()
	return l.run(ctx, query, cfg, stepTimeouts{first: cfg.FirstStepTimeout(), rest: cfg.StepTimeout()})
}

func (l *Loop) run(ctx context.Context, query domain.AgentQuery, cfg domain.AgentConfig, timeouts stepTimeouts) (domain.AgentResult, error) {
	ctx, meta := telemetry.EnsureRequestMeta(ctx, "", query.SessionID)
	logger := telemetry.LoggerWithRequest(ctx, l.logger)

	result := domain.AgentResult{RequestID: meta.RequestID}
	text := strings.TrimSpace(query.Text)
	if text == "" {
		return result, domain.E(domain.CodeInvalidArgument, "agent run", "query text is required", domain.ErrValidation)
	}

	state := State{StartedAt: l.now()}
	if cfg.SystemPrompt != "" {
		state.History = append(state.History, domain.Turn{Role: domain.RoleSystem, Content: cfg.SystemPrompt})
	}
	if l.store != nil && query.SessionID != "" && cfg.HistoryTurns > 0 {
		previous, err := l.store.LoadTurns(ctx, query.SessionID, cfg.HistoryTurns)
		if err != nil {
			return result, fmt.Errorf("load conversation: %w", err)
		}
		state.History = append(state.History, previous...)
	}

	var newTurns []domain.Turn
	addTurn := func(turn domain.Turn) {
		turn.CreatedAt = l.now()
		state.History = append(state.History, turn)
		newTurns = append(newTurns, turn)
	}
	addTurn(domain.Turn{Role: domain.RoleUser, Content: text})

	caller := domain.CallerContext{Caller: query.Caller, SessionID: query.SessionID, RequestID: meta.RequestID}
	if caller.Caller == "" {
		caller.Caller = "agent"
	}
	tools := l.tools.Tools()

	var (
		bestAnswer string
		runErr     error
	)
	for step := 0; ; step++ {
		reasonTimeout := timeouts.rest
		if step == 0 {
			reasonTimeout = timeouts.first
		}

		decision, timedOut, err := l.reason(ctx, reasonTimeout, state.History, tools)
		if err != nil {
			runErr = err
			break
		}
		if timedOut {
			markTimedOut(&result, bestAnswer, fmt.Sprintf("reasoning step %d exceeded %s", step+1, reasonTimeout))
			break
		}
		if decision.Content != "" {
			bestAnswer = decision.Content
		}
		if decision.Final() {
			result.Outcome = domain.AgentOutcomeComplete
			result.Answer = decision.Content
			break
		}
		if state.Iteration >= cfg.MaxIterations {
			result.Outcome = domain.AgentOutcomeCapped
			result.Answer = bestAnswer
			if result.Answer == "" {
				result.Answer = CappedMessage
			}
			result.Err = domain.E(domain.CodeAgentCapped, "agent run", fmt.Sprintf("reached %d iterations", cfg.MaxIterations), domain.ErrAgentCapped)
			break
		}

		state.Pending = assignCallIDs(decision.ToolCalls, state.Iteration)
		toolTurns, timedOut, err := l.actPending(ctx, timeouts.rest, state, caller)
		if err != nil {
			runErr = err
			break
		}
		if timedOut {
			markTimedOut(&result, bestAnswer, fmt.Sprintf("tool calls of step %d exceeded %s", step+1, timeouts.rest))
			break
		}
		addTurn(domain.Turn{Role: domain.RoleAssistant, Content: decision.Content, ToolCalls: state.Pending})
		for _, turn := range toolTurns {
			addTurn(turn)
		}
		result.ToolCalls += len(state.Pending)
		state.Pending = nil
		state.Iteration++
	}

	result.Iterations = state.Iteration
	result.Duration = l.now().Sub(state.StartedAt)
	if runErr != nil {
		logger.Error("agent run failed",
			telemetry.EventField(telemetry.EventAgentTerminated),
			zap.Int(telemetry.FieldIteration, state.Iteration),
			telemetry.DurationField(result.Duration),
			zap.Error(runErr),
		)
		return result, runErr
	}

	addTurn(domain.Turn{Role: domain.RoleAssistant, Content: result.Answer})
	if l.store != nil && query.SessionID != "" {
		if err := l.store.AppendTurns(ctx, query.SessionID, newTurns); err != nil {
			return result, fmt.Errorf("persist conversation: %w", err)
		}
	}

	l.metrics.ObserveAgent(domain.AgentMetric{
		Outcome:    result.Outcome,
		Iterations: result.Iterations,
		Duration:   result.Duration,
	})
	logger.Info("agent run finished",
		telemetry.EventField(telemetry.EventAgentTerminated),
		zap.String("outcome", string(result.Outcome)),
		zap.Int(telemetry.FieldIteration, result.Iterations),
		zap.Int("tool_calls", result.ToolCalls),
		telemetry.DurationField(result.Duration),
	)
	return result, nil
}

func markTimedOut(result *domain.AgentResult, bestAnswer, detail string) {
	result.Outcome = domain.AgentOutcomeTimeout
	result.Answer = bestAnswer
	if result.Answer == "" {
		result.Answer = TimeoutMessage
	}
	result.Err = domain.E(domain.CodeAgentTimeout, "agent run", detail, domain.ErrAgentTimeout)
}

// reason runs one reasoning call under its own deadline.
func (l *Loop) reason(ctx context.Context, timeout time.Duration, history []domain.Turn, tools []domain.ToolDefinition) (domain.Decision, bool, error) {
	history = append([]domain.Turn(nil), history...)
	return withDeadline(ctx, timeout, func(stepCtx context.Context) (domain.Decision, error) {
		return l.reasoner.Reason(stepCtx, history, tools)
	})
}

// actPending executes state.Pending under the step deadline.
func (l *Loop) actPending(ctx context.Context, timeout time.Duration, state State, caller domain.CallerContext) ([]domain.Turn, bool, error) {
	calls := state.Pending
	return withDeadline(ctx, timeout, func(stepCtx context.Context) ([]domain.Turn, error) {
		turns := l.act(stepCtx, calls, caller)
		return turns, stepCtx.Err()
	})
}

// withDeadline runs fn with a timeout. It reports timedOut when the
// deadline, not the caller, ended the call. On timeout the context passed to
// fn is cancelled and its goroutine is abandoned.
func withDeadline[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, bool, error) {
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		value, err := fn(stepCtx)
		done <- outcome{value: value, err: err}
	}()

	var zero T
	select {
	case out := <-done:
		if out.err == nil {
			return out.value, false, nil
		}
		if ctx.Err() == nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
			return zero, true, nil
		}
		return zero, false, out.err
	case <-stepCtx.Done():
		if err := ctx.Err(); err != nil {
			return zero, false, err
		}
		return zero, true, nil
	}
}

// act executes calls concurrently and returns tool turns in request order.
// Tool failures become error payloads the reasoner can read.
func (l *Loop) act(ctx context.Context, calls []domain.ToolCall, caller domain.CallerContext) []domain.Turn {
	turns := make([]domain.Turn, len(calls))
	var group errgroup.Group
	group.SetLimit(maxParallelTools)
	for i, call := range calls {
		group.Go(func() error {
			output, err := l.tools.ExecuteTool(ctx, call.Name, call.Params, caller)
			content := string(output)
			if err != nil {
				content = errorPayload(err)
			}
			turns[i] = domain.Turn{
				Role:       domain.RoleTool,
				Content:    content,
				ToolCallID: call.ID,
				ToolName:   call.Name,
			}
			return nil
		})
	}
	_ = group.Wait()
	return turns
}

func assignCallIDs(calls []domain.ToolCall, iteration int) []domain.ToolCall {
	out := make([]domain.ToolCall, len(calls))
	for i, call := range calls {
		if call.ID == "" {
			call.ID = fmt.Sprintf("call_%d_%d", iteration, i)
		}
		out[i] = call
	}
	return out
}

func errorPayload(err error) string {
	payload := map[string]string{"error": err.Error()}
	if code, ok := domain.CodeFrom(err); ok {
		payload["code"] = string(code)
	}
	raw, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		return err.Error()
	}
	return string(raw)
}
