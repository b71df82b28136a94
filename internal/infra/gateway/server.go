package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"opsagent/internal/domain"
	"opsagent/internal/infra/aggregator"
	"opsagent/internal/infra/telemetry"
)

const (
	ServerName = "opsagent"
	// AskTool runs the agent loop when an agent is configured.
	AskTool = "ask"
	// CallerName tags usage records of calls coming through the gateway.
	CallerName = "mcp"
)

// AgentRunner answers a natural-language query.
type AgentRunner interface {
	Run(ctx context.Context, query domain.AgentQuery) (domain.AgentResult, error)
}

type Options struct {
	Logger  *zap.Logger
	Version string
	// Agent enables the ask tool.
	Agent AgentRunner
}

// Server exposes the aggregated registries over MCP.
type Server struct {
	agg    *aggregator.Aggregator
	agent  AgentRunner
	logger *zap.Logger
	server *mcp.Server

	mu        sync.Mutex
	tools     map[string]struct{}
	resources map[string]struct{}
	prompts   map[string]struct{}
}

func New(agg *aggregator.Aggregator, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	s := &Server{
		agg:       agg,
		agent:     opts.Agent,
		logger:    logger.Named("gateway"),
		tools:     make(map[string]struct{}),
		resources: make(map[string]struct{}),
		prompts:   make(map[string]struct{}),
	}
	s.server = mcp.NewServer(&mcp.Implementation{
		Name:    ServerName,
		Version: version,
	}, &mcp.ServerOptions{
		HasTools:     true,
		HasResources: true,
		HasPrompts:   true,
	})
	s.Sync()
	return s
}

// MCP returns the underlying server, e.g. to connect extra transports.
func (s *Server) MCP() *mcp.Server {
	return s.server
}

// Sync mirrors the aggregator's current tools, resources and prompts,
// removing entries that disappeared since the last call.
func (s *Server) Sync() {
	s.mu.Lock()
	defer s.mu.Unlock()

	nextTools := make(map[string]struct{})
	for _, def := range s.agg.Tools() {
		s.server.AddTool(toolToMCP(def), s.toolHandler(def.Name))
		nextTools[def.Name] = struct{}{}
	}
	if s.agent != nil {
		if _, taken := nextTools[AskTool]; taken {
			s.logger.Warn("ask tool shadowed by a registry tool")
		} else {
			s.server.AddTool(askToolDefinition(), s.askHandler)
			nextTools[AskTool] = struct{}{}
		}
	}

	nextResources := make(map[string]struct{})
	nextPrompts := make(map[string]struct{})
	for _, registry := range s.agg.Registries() {
		for _, def := range registry.Resources() {
			if _, dup := nextResources[def.URI]; dup {
				continue
			}
			s.server.AddResource(resourceToMCP(def), s.resourceHandler(def.URI))
			nextResources[def.URI] = struct{}{}
		}
		for _, def := range registry.Prompts() {
			if _, dup := nextPrompts[def.Name]; dup {
				continue
			}
			s.server.AddPrompt(promptToMCP(def), s.promptHandler(def.Name))
			nextPrompts[def.Name] = struct{}{}
		}
	}

	if removed := missing(s.tools, nextTools); len(removed) > 0 {
		s.server.RemoveTools(removed...)
	}
	if removed := missing(s.resources, nextResources); len(removed) > 0 {
		s.server.RemoveResources(removed...)
	}
	if removed := missing(s.prompts, nextPrompts); len(removed) > 0 {
		s.server.RemovePrompts(removed...)
	}
	s.tools, s.resources, s.prompts = nextTools, nextResources, nextPrompts
	s.logger.Debug("gateway catalog synced",
		zap.Int("tools", len(nextTools)),
		zap.Int("resources", len(nextResources)),
		zap.Int("prompts", len(nextPrompts)),
	)
}

// Run serves MCP over stdio until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.RunTransport(ctx, &mcp.StdioTransport{})
}

func (s *Server) RunTransport(ctx context.Context, transport mcp.Transport) error {
	s.logger.Info("gateway starting")
	err := s.server.Run(ctx, transport)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Server) toolHandler(name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args json.RawMessage
		if req != nil && req.Params != nil {
			args = req.Params.Arguments
		}
		ctx, meta := telemetry.EnsureRequestMeta(ctx, "", "")
		payload, err := s.agg.ExecuteTool(ctx, name, args, domain.CallerContext{
			Caller:    CallerName,
			RequestID: meta.RequestID,
		})
		if err != nil {
			s.logger.Debug("tool call failed", zap.String("tool", name), zap.Error(err))
			return errorResult(err), nil
		}
		return toolResult(payload), nil
	}
}

func (s *Server) resourceHandler(uri string) mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		target := uri
		if req != nil && req.Params != nil && req.Params.URI != "" {
			target = req.Params.URI
		}
		for _, registry := range s.agg.Registries() {
			text, err := registry.ReadResource(ctx, target)
			if errors.Is(err, domain.ErrResourceNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			return &mcp.ReadResourceResult{
				Contents: []*mcp.ResourceContents{{URI: target, MIMEType: "text/plain", Text: text}},
			}, nil
		}
		return nil, mcp.ResourceNotFoundError(target)
	}
}

func (s *Server) promptHandler(name string) mcp.PromptHandler {
	return func(_ context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		var args map[string]string
		if req != nil && req.Params != nil {
			args = req.Params.Arguments
		}
		for _, registry := range s.agg.Registries() {
			messages, err := registry.GetPrompt(name, args)
			if errors.Is(err, domain.ErrPromptNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			return &mcp.GetPromptResult{Messages: promptMessagesToMCP(messages)}, nil
		}
		return nil, domain.E(domain.CodeNotFound, "get prompt", "prompt "+name+" not found", domain.ErrPromptNotFound)
	}
}

type askParams struct {
	Query     string `json:"query"`
	SessionID string `json:"sessionId"`
}

func askToolDefinition() *mcp.Tool {
	return toolToMCP(domain.ToolDefinition{
		Name:        AskTool,
		Description: "Answer an operations question using the available tools.",
		Input: domain.InputShape{Fields: []domain.InputField{
			{Name: "query", Type: domain.FieldString, Required: true, Description: "The question to answer."},
			{Name: "sessionId", Type: domain.FieldString, Description: "Conversation to continue."},
		}},
	})
}

func (s *Server) askHandler(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params askParams
	if req != nil && req.Params != nil && len(req.Params.Arguments) > 0 {
		if err := json.Unmarshal(req.Params.Arguments, &params); err != nil {
			return errorResult(domain.E(domain.CodeInvalidArgument, "ask", err.Error(), domain.ErrValidation)), nil
		}
	}
	result, err := s.agent.Run(ctx, domain.AgentQuery{
		SessionID: params.SessionID,
		Text:      params.Query,
		Caller:    CallerName,
	})
	if err != nil {
		return errorResult(err), nil
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	out := toolResult(payload)
	out.Content = []mcp.Content{&mcp.TextContent{Text: result.Answer}}
	return out, nil
}

func missing(prev, next map[string]struct{}) []string {
	var out []string
	for key := range prev {
		if _, ok := next[key]; !ok {
			out = append(out, key)
		}
	}
	return out
}
