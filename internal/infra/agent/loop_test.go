package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsagent/internal/domain"
)

type reasonFunc func(ctx context.Context, history []domain.Turn, tools []domain.ToolDefinition) (domain.Decision, error)

type mockReasoner struct {
	mu      sync.Mutex
	calls   int
	history [][]domain.Turn
	fn      reasonFunc
}

func (m *mockReasoner) Reason(ctx context.Context, history []domain.Turn, tools []domain.ToolDefinition) (domain.Decision, error) {
	m.mu.Lock()
	m.calls++
	m.history = append(m.history, history)
	m.mu.Unlock()
	return m.fn(ctx, history, tools)
}

func (m *mockReasoner) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockTools struct {
	mu       sync.Mutex
	executed []string
	delays   map[string]time.Duration
	failures map[string]error
}

func (m *mockTools) Tools() []domain.ToolDefinition {
	return []domain.ToolDefinition{{Name: "list_resources"}, {Name: "get_costs"}}
}

func (m *mockTools) ExecuteTool(ctx context.Context, name string, _ json.RawMessage, _ domain.CallerContext) (json.RawMessage, error) {
	if delay := m.delays[name]; delay > 0 {
		time.Sleep(delay)
	}
	m.mu.Lock()
	m.executed = append(m.executed, name)
	m.mu.Unlock()
	if err := m.failures[name]; err != nil {
		return nil, err
	}
	return json.RawMessage(fmt.Sprintf(`{"tool":%q}`, name)), nil
}

func (m *mockTools) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.executed)
}

type memoryStore struct {
	mu        sync.Mutex
	turns     map[string][]domain.Turn
	lastLimit int
	appendErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{turns: make(map[string][]domain.Turn)}
}

func (s *memoryStore) LoadTurns(_ context.Context, sessionID string, limit int) ([]domain.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastLimit = limit
	turns := s.turns[sessionID]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return append([]domain.Turn(nil), turns...), nil
}

func (s *memoryStore) AppendTurns(_ context.Context, sessionID string, turns []domain.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.turns[sessionID] = append(s.turns[sessionID], turns...)
	return nil
}

func toolCall(name string) domain.ToolCall {
	return domain.ToolCall{Name: name, Params: json.RawMessage(`{}`)}
}

func TestLoop_CompletesAfterToolRound(t *testing.T) {
	reasoner := &mockReasoner{}
	reasoner.fn = func(_ context.Context, history []domain.Turn, _ []domain.ToolDefinition) (domain.Decision, error) {
		if reasoner.callCount() == 1 {
			return domain.Decision{ToolCalls: []domain.ToolCall{toolCall("get_costs")}}, nil
		}
		return domain.Decision{Content: "You spent $42."}, nil
	}
	tools := &mockTools{}
	loop := New(reasoner, tools, domain.AgentConfig{MaxIterations: 5}, Options{})

	result, err := loop.Run(context.Background(), domain.AgentQuery{Text: "what did I spend?"})
	require.NoError(t, err)

	assert.Equal(t, domain.AgentOutcomeComplete, result.Outcome)
	assert.Equal(t, "You spent $42.", result.Answer)
	assert.Equal(t, 1, result.Iterations)
	assert.Equal(t, 1, result.ToolCalls)
	assert.NotEmpty(t, result.RequestID)
	assert.NoError(t, result.Err)

	require.Len(t, reasoner.history, 2)
	second := reasoner.history[1]
	require.Len(t, second, 3)
	assert.Equal(t, domain.RoleUser, second[0].Role)
	assert.Equal(t, domain.RoleAssistant, second[1].Role)
	require.Len(t, second[1].ToolCalls, 1)
	assert.Equal(t, domain.RoleTool, second[2].Role)
	assert.Equal(t, second[1].ToolCalls[0].ID, second[2].ToolCallID)
	assert.JSONEq(t, `{"tool":"get_costs"}`, second[2].Content)
}

func TestLoop_CapIsExact(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		wantAnswer string
	}{
		{name: "canned apology", content: "", wantAnswer: CappedMessage},
		{name: "best available answer", content: "partial: 3 instances so far", wantAnswer: "partial: 3 instances so far"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reasoner := &mockReasoner{fn: func(context.Context, []domain.Turn, []domain.ToolDefinition) (domain.Decision, error) {
				return domain.Decision{Content: tt.content, ToolCalls: []domain.ToolCall{toolCall("list_resources")}}, nil
			}}
			tools := &mockTools{}
			loop := New(reasoner, tools, domain.AgentConfig{MaxIterations: 3}, Options{})

			result, err := loop.Run(context.Background(), domain.AgentQuery{Text: "loop forever"})
			require.NoError(t, err)

			assert.Equal(t, domain.AgentOutcomeCapped, result.Outcome)
			assert.Equal(t, 3, result.Iterations)
			assert.Equal(t, 3, tools.count())
			assert.Equal(t, 4, reasoner.callCount())
			assert.Equal(t, tt.wantAnswer, result.Answer)
			require.ErrorIs(t, result.Err, domain.ErrAgentCapped)
		})
	}
}

func TestLoop_FirstStepTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	reasoner := &mockReasoner{fn: func(context.Context, []domain.Turn, []domain.ToolDefinition) (domain.Decision, error) {
		<-release
		return domain.Decision{Content: "too late"}, nil
	}}
	loop := New(reasoner, &mockTools{}, domain.AgentConfig{}, Options{})

	started := time.Now()
	result, err := loop.run(context.Background(), domain.AgentQuery{Text: "slow"}, loop.config(), stepTimeouts{first: 20 * time.Millisecond, rest: time.Minute})
	require.NoError(t, err)

	assert.Less(t, time.Since(started), 5*time.Second)
	assert.Equal(t, domain.AgentOutcomeTimeout, result.Outcome)
	assert.Equal(t, TimeoutMessage, result.Answer)
	require.ErrorIs(t, result.Err, domain.ErrAgentTimeout)
	code, ok := domain.CodeFrom(result.Err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeAgentTimeout, code)
}

func TestLoop_LaterStepsUseLongerBudget(t *testing.T) {
	reasoner := &mockReasoner{}
	reasoner.fn = func(ctx context.Context, _ []domain.Turn, _ []domain.ToolDefinition) (domain.Decision, error) {
		if reasoner.callCount() == 1 {
			return domain.Decision{ToolCalls: []domain.ToolCall{toolCall("get_costs")}}, nil
		}
		select {
		case <-time.After(60 * time.Millisecond):
			return domain.Decision{Content: "done"}, nil
		case <-ctx.Done():
			return domain.Decision{}, ctx.Err()
		}
	}
	loop := New(reasoner, &mockTools{}, domain.AgentConfig{}, Options{})

	result, err := loop.run(context.Background(), domain.AgentQuery{Text: "q"}, loop.config(), stepTimeouts{first: 30 * time.Millisecond, rest: 5 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, domain.AgentOutcomeComplete, result.Outcome)
	assert.Equal(t, "done", result.Answer)
}

func TestLoop_ToolResultsKeepRequestOrder(t *testing.T) {
	reasoner := &mockReasoner{}
	reasoner.fn = func(context.Context, []domain.Turn, []domain.ToolDefinition) (domain.Decision, error) {
		if reasoner.callCount() == 1 {
			return domain.Decision{ToolCalls: []domain.ToolCall{
				{ID: "slow", Name: "list_resources", Params: json.RawMessage(`{}`)},
				toolCall("get_costs"),
			}}, nil
		}
		return domain.Decision{Content: "ok"}, nil
	}
	tools := &mockTools{delays: map[string]time.Duration{"list_resources": 50 * time.Millisecond}}
	loop := New(reasoner, tools, domain.AgentConfig{}, Options{})

	_, err := loop.Run(context.Background(), domain.AgentQuery{Text: "q"})
	require.NoError(t, err)

	assert.Equal(t, []string{"get_costs", "list_resources"}, tools.executed)

	history := reasoner.history[1]
	require.Len(t, history, 4)
	assert.Equal(t, "slow", history[2].ToolCallID)
	assert.Equal(t, "list_resources", history[2].ToolName)
	assert.Equal(t, "call_0_1", history[3].ToolCallID)
	assert.Equal(t, "get_costs", history[3].ToolName)
}

func TestLoop_ToolErrorsBecomeContent(t *testing.T) {
	reasoner := &mockReasoner{}
	reasoner.fn = func(context.Context, []domain.Turn, []domain.ToolDefinition) (domain.Decision, error) {
		if reasoner.callCount() == 1 {
			return domain.Decision{ToolCalls: []domain.ToolCall{toolCall("get_costs")}}, nil
		}
		return domain.Decision{Content: "costs unavailable"}, nil
	}
	tools := &mockTools{failures: map[string]error{
		"get_costs": domain.E(domain.CodeNotFound, "execute tool", "tool not found", domain.ErrToolNotFound),
	}}
	loop := New(reasoner, tools, domain.AgentConfig{}, Options{})

	result, err := loop.Run(context.Background(), domain.AgentQuery{Text: "q"})
	require.NoError(t, err)
	assert.Equal(t, domain.AgentOutcomeComplete, result.Outcome)

	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(reasoner.history[1][2].Content), &payload))
	assert.Equal(t, "NOT_FOUND", payload["code"])
	assert.NotEmpty(t, payload["error"])
}

func TestLoop_PersistsConversation(t *testing.T) {
	store := newMemoryStore()
	store.turns["s1"] = []domain.Turn{
		{Role: domain.RoleUser, Content: "old question"},
		{Role: domain.RoleAssistant, Content: "old answer"},
	}

	reasoner := &mockReasoner{}
	reasoner.fn = func(context.Context, []domain.Turn, []domain.ToolDefinition) (domain.Decision, error) {
		if reasoner.callCount() == 1 {
			return domain.Decision{ToolCalls: []domain.ToolCall{toolCall("list_resources")}}, nil
		}
		return domain.Decision{Content: "2 buckets"}, nil
	}
	loop := New(reasoner, &mockTools{}, domain.AgentConfig{HistoryTurns: 10, SystemPrompt: "you are an ops assistant"}, Options{Store: store})

	_, err := loop.Run(context.Background(), domain.AgentQuery{SessionID: "s1", Text: "how many buckets?"})
	require.NoError(t, err)

	first := reasoner.history[0]
	require.Len(t, first, 4)
	assert.Equal(t, domain.RoleSystem, first[0].Role)
	assert.Equal(t, "old question", first[1].Content)
	assert.Equal(t, "how many buckets?", first[3].Content)
	assert.Equal(t, 10, store.lastLimit)

	saved := store.turns["s1"]
	require.Len(t, saved, 6)
	roles := make([]domain.Role, 0, len(saved))
	for _, turn := range saved[2:] {
		roles = append(roles, turn.Role)
	}
	assert.Equal(t, []domain.Role{domain.RoleUser, domain.RoleAssistant, domain.RoleTool, domain.RoleAssistant}, roles)
	assert.Equal(t, "2 buckets", saved[5].Content)
	for _, turn := range saved {
		assert.NotEqual(t, domain.RoleSystem, turn.Role)
	}
}

func TestLoop_StoreFailureSurfaces(t *testing.T) {
	store := newMemoryStore()
	store.appendErr = errors.New("disk full")
	reasoner := &mockReasoner{fn: func(context.Context, []domain.Turn, []domain.ToolDefinition) (domain.Decision, error) {
		return domain.Decision{Content: "hi"}, nil
	}}
	loop := New(reasoner, &mockTools{}, domain.AgentConfig{}, Options{Store: store})

	result, err := loop.Run(context.Background(), domain.AgentQuery{SessionID: "s1", Text: "hello"})
	require.ErrorContains(t, err, "disk full")
	assert.Equal(t, "hi", result.Answer)
}

func TestLoop_RejectsEmptyQuery(t *testing.T) {
	loop := New(&mockReasoner{}, &mockTools{}, domain.AgentConfig{}, Options{})
	_, err := loop.Run(context.Background(), domain.AgentQuery{Text: "   "})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestLoop_ReasonerFailureIsReturned(t *testing.T) {
	reasoner := &mockReasoner{fn: func(context.Context, []domain.Turn, []domain.ToolDefinition) (domain.Decision, error) {
		return domain.Decision{}, domain.ErrCircuitOpen
	}}
	loop := New(reasoner, &mockTools{}, domain.AgentConfig{}, Options{})

	_, err := loop.Run(context.Background(), domain.AgentQuery{Text: "q"})
	require.ErrorIs(t, err, domain.ErrCircuitOpen)
}

func TestLoop_ConfigureAppliesToNextRun(t *testing.T) {
	reasoner := &mockReasoner{fn: func(context.Context, []domain.Turn, []domain.ToolDefinition) (domain.Decision, error) {
		return domain.Decision{ToolCalls: []domain.ToolCall{toolCall("get_costs")}}, nil
	}}
	loop := New(reasoner, &mockTools{}, domain.AgentConfig{MaxIterations: 5}, Options{})
	loop.Configure(domain.AgentConfig{MaxIterations: 1})

	result, err := loop.Run(context.Background(), domain.AgentQuery{Text: "q"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Iterations)
	assert.Equal(t, domain.AgentOutcomeCapped, result.Outcome)
}

func TestLoop_FirstBudgetCoversReasoningOnly(t *testing.T) {
	reasoner := &mockReasoner{}
	reasoner.fn = func(context.Context, []domain.Turn, []domain.ToolDefinition) (domain.Decision, error) {
		if reasoner.callCount() == 1 {
			return domain.Decision{ToolCalls: []domain.ToolCall{toolCall("get_costs")}}, nil
		}
		return domain.Decision{Content: "costs are flat"}, nil
	}
	tools := &mockTools{delays: map[string]time.Duration{"get_costs": 80 * time.Millisecond}}
	loop := New(reasoner, tools, domain.AgentConfig{}, Options{})

	result, err := loop.run(context.Background(), domain.AgentQuery{Text: "q"}, loop.config(), stepTimeouts{first: 30 * time.Millisecond, rest: 5 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, domain.AgentOutcomeComplete, result.Outcome)
	assert.Equal(t, "costs are flat", result.Answer)
	assert.Equal(t, 1, tools.count())
}

func TestLoop_TimeoutKeepsBestAnswer(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	reasoner := &mockReasoner{}
	reasoner.fn = func(context.Context, []domain.Turn, []domain.ToolDefinition) (domain.Decision, error) {
		if reasoner.callCount() == 1 {
			return domain.Decision{Content: "2 instances found so far", ToolCalls: []domain.ToolCall{toolCall("list_resources")}}, nil
		}
		<-release
		return domain.Decision{Content: "too late"}, nil
	}
	loop := New(reasoner, &mockTools{}, domain.AgentConfig{}, Options{})

	result, err := loop.run(context.Background(), domain.AgentQuery{Text: "q"}, loop.config(), stepTimeouts{first: time.Second, rest: 30 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, domain.AgentOutcomeTimeout, result.Outcome)
	assert.Equal(t, "2 instances found so far", result.Answer)
	assert.Equal(t, 1, result.Iterations)
	require.ErrorIs(t, result.Err, domain.ErrAgentTimeout)
}

func TestLoop_ToolTimeoutDropsPendingRound(t *testing.T) {
	store := newMemoryStore()
	reasoner := &mockReasoner{fn: func(context.Context, []domain.Turn, []domain.ToolDefinition) (domain.Decision, error) {
		return domain.Decision{ToolCalls: []domain.ToolCall{toolCall("list_resources")}}, nil
	}}
	tools := &mockTools{delays: map[string]time.Duration{"list_resources": 200 * time.Millisecond}}
	loop := New(reasoner, tools, domain.AgentConfig{HistoryTurns: 10}, Options{Store: store})

	result, err := loop.run(context.Background(), domain.AgentQuery{SessionID: "s1", Text: "q"}, loop.config(), stepTimeouts{first: time.Second, rest: 20 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, domain.AgentOutcomeTimeout, result.Outcome)
	assert.Equal(t, TimeoutMessage, result.Answer)
	assert.Zero(t, result.ToolCalls)

	turns, err := store.LoadTurns(context.Background(), "s1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, domain.RoleUser, turns[0].Role)
	assert.Equal(t, domain.RoleAssistant, turns[1].Role)
	assert.Empty(t, turns[1].ToolCalls)
}

func TestLoop_ActPendingRunsStateCalls(t *testing.T) {
	tools := &mockTools{}
	loop := New(&mockReasoner{}, tools, domain.AgentConfig{}, Options{})
	state := State{Pending: assignCallIDs([]domain.ToolCall{toolCall("get_costs"), toolCall("list_resources")}, 0)}

	turns, timedOut, err := loop.actPending(context.Background(), time.Second, state, domain.CallerContext{Caller: "test"})
	require.NoError(t, err)
	assert.False(t, timedOut)
	require.Len(t, turns, 2)
	assert.Equal(t, "call_0_0", turns[0].ToolCallID)
	assert.Equal(t, "get_costs", turns[0].ToolName)
	assert.Equal(t, "call_0_1", turns[1].ToolCallID)
	assert.Equal(t, "list_resources", turns[1].ToolName)
}
