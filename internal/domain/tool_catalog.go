package domain

import (
	"encoding/json"
	"time"
)

// FieldType is the JSON type accepted by an input field.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldInteger FieldType = "integer"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldArray   FieldType = "array"
	FieldObject  FieldType = "object"
)

// InputField is one named, typed parameter of a tool.
type InputField struct {
	Name        string    `json:"name"`
	Type        FieldType `json:"type"`
	Description string    `json:"description,omitempty"`
	Required    bool      `json:"required,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
	// Items is the element type for array fields.
	Items FieldType `json:"items,omitempty"`
}

// InputShape is the declared parameter contract of a tool.
// Parameters outside the declared fields are rejected.
type InputShape struct {
	Fields []InputField `json:"fields,omitempty"`
}

// ToolDefinition describes an invocable tool.
type ToolDefinition struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Input       InputShape       `json:"input"`
	Annotations *ToolAnnotations `json:"annotations,omitempty"`
}

// CloneToolDefinition returns a copy that does not share slices with def.
func CloneToolDefinition(def ToolDefinition) ToolDefinition {
	out := def
	if len(def.Input.Fields) > 0 {
		out.Input.Fields = make([]InputField, len(def.Input.Fields))
		for i, field := range def.Input.Fields {
			copied := field
			if len(field.Enum) > 0 {
				copied.Enum = append([]string(nil), field.Enum...)
			}
			out.Input.Fields[i] = copied
		}
	}
	if def.Annotations != nil {
		annotations := *def.Annotations
		out.Annotations = &annotations
	}
	return out
}

// CallerContext identifies who triggered an invocation.
type CallerContext struct {
	Caller    string `json:"caller,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// ToolUsageRecord is an immutable log entry for one invocation attempt.
type ToolUsageRecord struct {
	ID        string          `json:"id"`
	Seq       uint64          `json:"seq"`
	Registry  string          `json:"registry"`
	ToolName  string          `json:"toolName"`
	Timestamp time.Time       `json:"timestamp"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Duration  time.Duration   `json:"duration"`
	Success   bool            `json:"success"`
	Caller    CallerContext   `json:"caller"`
}

// ToolCount is a tool name with its invocation count.
type ToolCount struct {
	Registry string `json:"registry,omitempty"`
	Name     string `json:"name"`
	Count    int    `json:"count"`
}

// ToolFailure summarizes one failed invocation.
type ToolFailure struct {
	Registry  string    `json:"registry,omitempty"`
	ToolName  string    `json:"toolName"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// UsageStats aggregates usage records.
type UsageStats struct {
	Total        int           `json:"total"`
	Successes    int           `json:"successes"`
	Failures     int           `json:"failures"`
	SuccessRate  float64       `json:"successRate"`
	AvgDuration  time.Duration `json:"avgDuration"`
	TopTools     []ToolCount   `json:"topTools"`
	RecentErrors []ToolFailure `json:"recentErrors"`
}

// UsageFilter narrows a usage record query.
type UsageFilter struct {
	ToolName string
	// Success filters by outcome when non-nil.
	Success *bool
	Since   time.Time
	// Limit keeps the most recent N records when positive.
	Limit int
}

// ToolEvent is published for every appended usage record.
type ToolEvent struct {
	Registry string
	Record   ToolUsageRecord
}

// ToolCall is a reasoning step's request to run a tool.
type ToolCall struct {
	ID     string          `json:"id,omitempty"`
	Name   string          `json:"name"`
	Params json.RawMessage `json:"params,omitempty"`
}
