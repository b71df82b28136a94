package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Turn is one entry of a conversation history.
type Turn struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
	// ToolCallID and ToolName link a tool turn to the call it answers.
	ToolCallID string    `json:"toolCallId,omitempty"`
	ToolName   string    `json:"toolName,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Decision is the output of one reasoning step: either a final answer or tool calls.
type Decision struct {
	Content   string
	ToolCalls []ToolCall
	Tokens    int
}

// Final reports whether the decision ends the loop.
func (d Decision) Final() bool {
	return len(d.ToolCalls) == 0
}

// Reasoner is the LLM reasoning service.
type Reasoner interface {
	Reason(ctx context.Context, history []Turn, tools []ToolDefinition) (Decision, error)
}

// ToolExecutor runs tool calls on behalf of the agent loop.
type ToolExecutor interface {
	Tools() []ToolDefinition
	ExecuteTool(ctx context.Context, name string, params json.RawMessage, caller CallerContext) (json.RawMessage, error)
}

// AgentOutcome is the terminal state of an agent loop.
type AgentOutcome string

const (
	AgentOutcomeComplete AgentOutcome = "complete"
	AgentOutcomeCapped   AgentOutcome = "capped"
	AgentOutcomeTimeout  AgentOutcome = "timeout"
)

// AgentQuery is one user question.
type AgentQuery struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
	Caller    string `json:"caller,omitempty"`
}

// AgentResult is the user-facing outcome of a query.
type AgentResult struct {
	RequestID  string        `json:"requestId"`
	Answer     string        `json:"answer"`
	Outcome    AgentOutcome  `json:"outcome"`
	Iterations int           `json:"iterations"`
	ToolCalls  int           `json:"toolCalls"`
	Duration   time.Duration `json:"duration"`
	// Err keeps the AgentCapped/AgentTimeout cause for callers that care.
	Err error `json:"-"`
}
