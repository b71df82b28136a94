package toolreg

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"opsagent/internal/domain"
	"opsagent/internal/infra/telemetry"
)

// Handler executes a tool with already validated params.
type Handler func(ctx context.Context, params json.RawMessage) (json.RawMessage, error)

type Tool struct {
	Definition domain.ToolDefinition
	Invoke     Handler
}

// ResourceReader returns the current content of a resource.
type ResourceReader func(ctx context.Context) (string, error)

type Resource struct {
	Definition domain.ResourceDefinition
	Read       ResourceReader
}

type Prompt struct {
	Definition domain.PromptDefinition
}

type Options struct {
	Logger  *zap.Logger
	Metrics domain.Metrics
	// MaxRecords bounds the usage log; 0 keeps every record.
	MaxRecords int
	Clock      func() time.Time
}

type registeredTool struct {
	tool      Tool
	validator *inputValidator
}

type registeredPrompt struct {
	prompt   Prompt
	template *template.Template
}

// Registry owns a named set of tools, resources and prompts and an
// append-only log of every tool invocation attempt.
type Registry struct {
	name    string
	version string

	mu        sync.RWMutex
	tools     map[string]*registeredTool
	order     []string
	resources map[string]Resource
	prompts   map[string]*registeredPrompt

	usage *usageLog
	subs  *subscribers

	logger  *zap.Logger
	metrics domain.Metrics
	now     func() time.Time
}

func New(name, version string, opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Registry{
		name:      name,
		version:   version,
		tools:     make(map[string]*registeredTool),
		resources: make(map[string]Resource),
		prompts:   make(map[string]*registeredPrompt),
		usage:     newUsageLog(opts.MaxRecords),
		subs:      newSubscribers(),
		logger:    logger.Named("toolreg").With(telemetry.RegistryField(name)),
		metrics:   telemetry.OrNoop(opts.Metrics),
		now:       clock,
	}
}

func (r *Registry) Name() string {
	return r.name
}

func (r *Registry) Version() string {
	return r.version
}

// RegisterTool adds a tool. Names must be unique within the registry.
func (r *Registry) RegisterTool(tool Tool) error {
	entry, err := r.prepareTool(tool)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Definition.Name]; exists {
		return domain.E(domain.CodeAlreadyExists, "register tool", fmt.Sprintf("tool %q already registered in %q", tool.Definition.Name, r.name), domain.ErrDuplicateName)
	}
	r.tools[tool.Definition.Name] = entry
	r.order = append(r.order, tool.Definition.Name)
	return nil
}

// ReplaceTool registers tool, overwriting any existing tool of the same name.
func (r *Registry) ReplaceTool(tool Tool) error {
	entry, err := r.prepareTool(tool)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Definition.Name]; !exists {
		r.order = append(r.order, tool.Definition.Name)
	}
	r.tools[tool.Definition.Name] = entry
	return nil
}

func (r *Registry) prepareTool(tool Tool) (*registeredTool, error) {
	name := strings.TrimSpace(tool.Definition.Name)
	if name == "" {
		return nil, domain.E(domain.CodeInvalidArgument, "register tool", "tool name is required", domain.ErrValidation)
	}
	if tool.Invoke == nil {
		return nil, domain.E(domain.CodeInvalidArgument, "register tool", fmt.Sprintf("tool %q has no handler", name), domain.ErrValidation)
	}
	validator, err := compileShape(tool.Definition.Input)
	if err != nil {
		return nil, domain.E(domain.CodeInvalidArgument, "register tool", fmt.Sprintf("tool %q: %v", name, err), domain.ErrValidation)
	}
	tool.Definition = domain.CloneToolDefinition(tool.Definition)
	tool.Definition.Name = name
	return &registeredTool{tool: tool, validator: validator}, nil
}

func (r *Registry) RegisterResource(resource Resource) error {
	uri := strings.TrimSpace(resource.Definition.URI)
	if uri == "" || resource.Read == nil {
		return domain.E(domain.CodeInvalidArgument, "register resource", "resource uri and reader are required", domain.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.resources[uri]; exists {
		return domain.E(domain.CodeAlreadyExists, "register resource", fmt.Sprintf("resource %q already registered in %q", uri, r.name), domain.ErrDuplicateName)
	}
	r.resources[uri] = resource
	return nil
}

func (r *Registry) RegisterPrompt(prompt Prompt) error {
	name := strings.TrimSpace(prompt.Definition.Name)
	if name == "" {
		return domain.E(domain.CodeInvalidArgument, "register prompt", "prompt name is required", domain.ErrValidation)
	}
	tmpl, err := template.New(name).Option("missingkey=zero").Parse(prompt.Definition.Template)
	if err != nil {
		return domain.E(domain.CodeInvalidArgument, "register prompt", fmt.Sprintf("prompt %q: %v", name, err), domain.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.prompts[name]; exists {
		return domain.E(domain.CodeAlreadyExists, "register prompt", fmt.Sprintf("prompt %q already registered in %q", name, r.name), domain.ErrDuplicateName)
	}
	r.prompts[name] = &registeredPrompt{prompt: prompt, template: tmpl}
	return nil
}

// Tools lists tool definitions in registration order.
func (r *Registry) Tools() []domain.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, domain.CloneToolDefinition(r.tools[name].tool.Definition))
	}
	return out
}

func (r *Registry) HasTool(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

func (r *Registry) Resources() []domain.ResourceDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ResourceDefinition, 0, len(r.resources))
	for _, res := range r.resources {
		out = append(out, res.Definition)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

func (r *Registry) Prompts() []domain.PromptDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.PromptDefinition, 0, len(r.prompts))
	for _, p := range r.prompts {
		out = append(out, p.prompt.Definition)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ExecuteTool validates params, runs the tool and appends exactly one usage
// record. Unknown tools return ErrToolNotFound without a record.
func (r *Registry) ExecuteTool(ctx context.Context, name string, params json.RawMessage, caller domain.CallerContext) (json.RawMessage, error) {
	r.mu.RLock()
	entry, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.E(domain.CodeNotFound, "execute tool", fmt.Sprintf("tool %q not found in %q", name, r.name), domain.ErrToolNotFound)
	}

	if caller.RequestID == "" {
		if requestID, ok := telemetry.RequestIDFromContext(ctx); ok {
			caller.RequestID = requestID
		}
	}

	start := r.now()
	var (
		result json.RawMessage
		err    error
	)
	if err = entry.validator.validate(params); err == nil {
		result, err = entry.tool.Invoke(ctx, params)
	}
	duration := r.now().Sub(start)

	record := domain.ToolUsageRecord{
		ID:        uuid.NewString(),
		Registry:  r.name,
		ToolName:  name,
		Timestamp: start,
		Params:    cloneRaw(params),
		Duration:  duration,
		Success:   err == nil,
		Caller:    caller,
	}
	status := domain.CallStatusSuccess
	if err != nil {
		record.Error = err.Error()
		status = domain.CallStatusError
	} else {
		record.Result = cloneRaw(result)
	}
	record = r.usage.append(record)
	r.subs.publish(domain.ToolEvent{Registry: r.name, Record: record})
	r.metrics.ObserveTool(domain.ToolMetric{
		Registry: r.name,
		Tool:     name,
		Status:   status,
		Duration: duration,
	})

	logger := telemetry.LoggerWithRequest(ctx, r.logger)
	if err != nil {
		logger.Warn("tool invocation failed",
			telemetry.EventField(telemetry.EventToolFailed),
			telemetry.ToolField(name),
			telemetry.DurationField(duration),
			zap.String("caller", caller.Caller),
			zap.Error(err),
		)
		return nil, err
	}
	logger.Debug("tool invoked",
		telemetry.EventField(telemetry.EventToolInvoked),
		telemetry.ToolField(name),
		telemetry.DurationField(duration),
		zap.String("caller", caller.Caller),
	)
	return result, nil
}

func (r *Registry) ReadResource(ctx context.Context, uri string) (string, error) {
	r.mu.RLock()
	resource, ok := r.resources[uri]
	r.mu.RUnlock()
	if !ok {
		return "", domain.E(domain.CodeNotFound, "read resource", fmt.Sprintf("resource %q not found in %q", uri, r.name), domain.ErrResourceNotFound)
	}
	return resource.Read(ctx)
}

// GetPrompt renders the named prompt template with args.
// Missing required arguments are rejected.
func (r *Registry) GetPrompt(name string, args map[string]string) ([]domain.PromptMessage, error) {
	r.mu.RLock()
	entry, ok := r.prompts[name]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.E(domain.CodeNotFound, "get prompt", fmt.Sprintf("prompt %q not found in %q", name, r.name), domain.ErrPromptNotFound)
	}

	for _, arg := range entry.prompt.Definition.Arguments {
		if arg.Required && strings.TrimSpace(args[arg.Name]) == "" {
			return nil, domain.E(domain.CodeInvalidArgument, "get prompt", fmt.Sprintf("prompt %q requires argument %q", name, arg.Name), domain.ErrValidation)
		}
	}

	var out strings.Builder
	if err := entry.template.Execute(&out, args); err != nil {
		return nil, domain.E(domain.CodeInternal, "get prompt", "", err)
	}
	return []domain.PromptMessage{{Role: domain.RoleUser, Content: out.String()}}, nil
}

// UsageStats summarizes the whole usage log, keeping topN tools and recent errors.
func (r *Registry) UsageStats(topN int) domain.UsageStats {
	return summarize(r.usage.snapshot(), topN)
}

// Records returns usage records matching filter, oldest first.
func (r *Registry) Records(filter domain.UsageFilter) []domain.ToolUsageRecord {
	return filterRecords(r.usage.snapshot(), filter)
}

// Subscribe returns a channel receiving an event for every appended record.
// Slow subscribers miss events rather than block invocations.
func (r *Registry) Subscribe(buffer int) <-chan domain.ToolEvent {
	return r.subs.subscribe(buffer)
}

func (r *Registry) Unsubscribe(ch <-chan domain.ToolEvent) {
	r.subs.unsubscribe(ch)
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}
