package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"opsagent/internal/domain"
)

// NewChatModel creates the chat model selected by config.
func NewChatModel(ctx context.Context, config domain.LLMConfig) (model.ToolCallingChatModel, error) {
	apiKey, err := resolveAPIKey(config)
	if err != nil {
		return nil, err
	}

	switch config.Provider {
	case domain.DefaultLLMProvider, "":
		cfg := &openai.ChatModelConfig{
			Model:  config.Model,
			APIKey: apiKey,
		}
		if config.BaseURL != "" {
			cfg.BaseURL = config.BaseURL
		}
		return openai.NewChatModel(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", config.Provider)
	}
}

func resolveAPIKey(config domain.LLMConfig) (string, error) {
	apiKey := strings.TrimSpace(config.APIKey)
	if apiKey != "" {
		return apiKey, nil
	}
	envVar := strings.TrimSpace(config.APIKeyEnvVar)
	if envVar == "" {
		return "", fmt.Errorf("API key is required: set llm.apiKey or llm.apiKeyEnvVar")
	}
	apiKey = os.Getenv(envVar)
	if apiKey == "" {
		return "", fmt.Errorf("API key not found in env var %s", envVar)
	}
	return apiKey, nil
}
