package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"opsagent/internal/domain"
	"opsagent/internal/infra/resilience"
	"opsagent/internal/infra/telemetry"
)

// OperationReason names the retry config used for reasoning calls.
const OperationReason = "llm_reason"

// Reasoner turns a conversation into the next decision using a chat model.
type Reasoner struct {
	config  domain.LLMConfig
	model   model.ToolCallingChatModel
	guard   *resilience.Guard
	metrics domain.Metrics
	logger  *zap.Logger
}

// NewReasoner wraps chatModel. A nil guard calls the model directly.
func NewReasoner(config domain.LLMConfig, chatModel model.ToolCallingChatModel, guard *resilience.Guard, metrics domain.Metrics, logger *zap.Logger) *Reasoner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reasoner{
		config:  config,
		model:   chatModel,
		guard:   guard,
		metrics: telemetry.OrNoop(metrics),
		logger:  logger.Named("llm"),
	}
}

func (r *Reasoner) Reason(ctx context.Context, history []domain.Turn, tools []domain.ToolDefinition) (domain.Decision, error) {
	messages, err := toMessages(history)
	if err != nil {
		return domain.Decision{}, err
	}

	chatModel := r.model
	if len(tools) > 0 {
		bound, err := r.model.WithTools(toToolInfos(tools))
		if err != nil {
			return domain.Decision{}, fmt.Errorf("bind tools: %w", err)
		}
		chatModel = bound
	}

	var response *schema.Message
	generate := func(ctx context.Context) error {
		started := time.Now()
		msg, err := chatModel.Generate(ctx, messages)
		r.metrics.ObserveLLMLatency(r.config.Provider, r.config.Model, time.Since(started))
		if err != nil {
			return err
		}
		response = msg
		return nil
	}

	if r.guard != nil {
		sessionID := ""
		if meta, ok := telemetry.RequestMetaFromContext(ctx); ok {
			sessionID = meta.SessionID
		}
		err = r.guard.Run(ctx, resilience.Policy{
			Operation:  OperationReason,
			Dependency: domain.DependencyLLM,
			Limiter:    domain.LimiterChat,
			LimitKey:   sessionID,
		}, generate)
	} else {
		err = generate(ctx)
	}
	if err != nil {
		return domain.Decision{}, fmt.Errorf("llm generate: %w", err)
	}
	if response == nil {
		return domain.Decision{}, fmt.Errorf("llm response is nil")
	}

	decision := domain.Decision{Content: response.Content}
	for _, call := range response.ToolCalls {
		params := json.RawMessage(call.Function.Arguments)
		if len(params) == 0 {
			params = json.RawMessage(`{}`)
		}
		decision.ToolCalls = append(decision.ToolCalls, domain.ToolCall{
			ID:     call.ID,
			Name:   call.Function.Name,
			Params: params,
		})
	}
	if response.ResponseMeta != nil && response.ResponseMeta.Usage != nil {
		decision.Tokens = response.ResponseMeta.Usage.TotalTokens
		if decision.Tokens > 0 {
			r.metrics.ObserveLLMTokens(r.config.Provider, r.config.Model, decision.Tokens)
		}
	}
	return decision, nil
}

func toMessages(history []domain.Turn) ([]*schema.Message, error) {
	messages := make([]*schema.Message, 0, len(history))
	for _, turn := range history {
		switch turn.Role {
		case domain.RoleSystem:
			messages = append(messages, schema.SystemMessage(turn.Content))
		case domain.RoleUser:
			messages = append(messages, schema.UserMessage(turn.Content))
		case domain.RoleAssistant:
			messages = append(messages, schema.AssistantMessage(turn.Content, toSchemaToolCalls(turn.ToolCalls)))
		case domain.RoleTool:
			msg := schema.ToolMessage(turn.Content, turn.ToolCallID)
			msg.ToolName = turn.ToolName
			messages = append(messages, msg)
		default:
			return nil, fmt.Errorf("unsupported role: %s", turn.Role)
		}
	}
	return messages, nil
}

func toSchemaToolCalls(calls []domain.ToolCall) []schema.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]schema.ToolCall, 0, len(calls))
	for _, call := range calls {
		out = append(out, schema.ToolCall{
			ID:   call.ID,
			Type: "function",
			Function: schema.FunctionCall{
				Name:      call.Name,
				Arguments: string(call.Params),
			},
		})
	}
	return out
}

func toToolInfos(tools []domain.ToolDefinition) []*schema.ToolInfo {
	out := make([]*schema.ToolInfo, 0, len(tools))
	for _, def := range tools {
		params := make(map[string]*schema.ParameterInfo, len(def.Input.Fields))
		for _, field := range def.Input.Fields {
			info := &schema.ParameterInfo{
				Type:     dataType(field.Type),
				Desc:     field.Description,
				Required: field.Required,
				Enum:     field.Enum,
			}
			if field.Type == domain.FieldArray && field.Items != "" {
				info.ElemInfo = &schema.ParameterInfo{Type: dataType(field.Items)}
			}
			params[field.Name] = info
		}
		out = append(out, &schema.ToolInfo{
			Name:        def.Name,
			Desc:        def.Description,
			ParamsOneOf: schema.NewParamsOneOfByParams(params),
		})
	}
	return out
}

func dataType(fieldType domain.FieldType) schema.DataType {
	switch fieldType {
	case domain.FieldInteger:
		return schema.Integer
	case domain.FieldNumber:
		return schema.Number
	case domain.FieldBoolean:
		return schema.Boolean
	case domain.FieldArray:
		return schema.Array
	case domain.FieldObject:
		return schema.Object
	default:
		return schema.String
	}
}

var _ domain.Reasoner = (*Reasoner)(nil)
