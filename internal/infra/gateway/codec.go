package gateway

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"opsagent/internal/domain"
	"opsagent/internal/infra/toolreg"
)

func toolToMCP(def domain.ToolDefinition) *mcp.Tool {
	return &mcp.Tool{
		Name:        def.Name,
		Description: def.Description,
		InputSchema: toolreg.SchemaFor(def.Input),
		Annotations: toolAnnotationsToMCP(def.Annotations),
	}
}

func toolAnnotationsToMCP(ann *domain.ToolAnnotations) *mcp.ToolAnnotations {
	if ann == nil {
		return nil
	}
	out := mcp.ToolAnnotations{
		IdempotentHint: ann.IdempotentHint,
		ReadOnlyHint:   ann.ReadOnlyHint,
		Title:          ann.Title,
	}
	if ann.DestructiveHint != nil {
		val := *ann.DestructiveHint
		out.DestructiveHint = &val
	}
	if ann.OpenWorldHint != nil {
		val := *ann.OpenWorldHint
		out.OpenWorldHint = &val
	}
	return &out
}

func resourceToMCP(def domain.ResourceDefinition) *mcp.Resource {
	return &mcp.Resource{
		URI:         def.URI,
		Name:        def.Name,
		Description: def.Description,
		MIMEType:    def.MimeType,
	}
}

func promptToMCP(def domain.PromptDefinition) *mcp.Prompt {
	prompt := &mcp.Prompt{
		Name:        def.Name,
		Description: def.Description,
	}
	for _, arg := range def.Arguments {
		prompt.Arguments = append(prompt.Arguments, &mcp.PromptArgument{
			Name:        arg.Name,
			Title:       arg.Title,
			Description: arg.Description,
			Required:    arg.Required,
		})
	}
	return prompt
}

func promptMessagesToMCP(messages []domain.PromptMessage) []*mcp.PromptMessage {
	out := make([]*mcp.PromptMessage, 0, len(messages))
	for _, msg := range messages {
		role := mcp.Role("user")
		if msg.Role == domain.RoleAssistant {
			role = "assistant"
		}
		out = append(out, &mcp.PromptMessage{Role: role, Content: &mcp.TextContent{Text: msg.Content}})
	}
	return out
}

// toolResult wraps a JSON tool payload. Objects are also returned as
// structured content.
func toolResult(payload json.RawMessage) *mcp.CallToolResult {
	result := &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(payload)}},
	}
	var structured map[string]any
	if err := json.Unmarshal(payload, &structured); err == nil && structured != nil {
		result.StructuredContent = structured
	}
	return result
}

// errorResult reports a tool failure in-band so the client model can see it.
func errorResult(err error) *mcp.CallToolResult {
	structured := map[string]any{"message": err.Error()}
	if code, ok := domain.CodeFrom(err); ok {
		structured["code"] = string(code)
	}
	var coded *domain.Error
	if errors.As(err, &coded) && coded.Meta != nil {
		for key, value := range coded.Meta {
			structured[key] = value
		}
	}
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("error: %s", err.Error())},
		},
		StructuredContent: structured,
	}
}
