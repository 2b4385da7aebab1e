package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/dohr-michael/sidekick/internal/config"
)

const (
	defaultClaudeModel     = "claude-sonnet-4-0"
	defaultClaudeMaxTokens = 8192
	defaultOpenAIModel     = "gpt-4o"
)

// CreateModel creates a model.ToolCallingChatModel from a provider config.
func CreateModel(ctx context.Context, cfg config.ProviderConfig) (model.ToolCallingChatModel, error) {
	switch strings.ToLower(cfg.Driver) {
	case "anthropic", "claude":
		return newClaude(ctx, cfg)
	case "openai":
		return newOpenAI(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown driver: %s", cfg.Driver)
	}
}

func newClaude(ctx context.Context, cfg config.ProviderConfig) (model.ToolCallingChatModel, error) {
	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultClaudeModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultClaudeMaxTokens
	}
	conf := &claude.Config{
		APIKey:    cfg.APIKey,
		Model:     modelName,
		MaxTokens: maxTokens,
	}
	if cfg.BaseURL != "" {
		conf.BaseURL = &cfg.BaseURL
	}
	cm, err := claude.NewChatModel(ctx, conf)
	if err != nil {
		return nil, fmt.Errorf("create claude model: %w", err)
	}
	return cm, nil
}

func newOpenAI(ctx context.Context, cfg config.ProviderConfig) (model.ToolCallingChatModel, error) {
	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultOpenAIModel
	}
	conf := &openai.ChatModelConfig{
		APIKey:  cfg.APIKey,
		Model:   modelName,
		BaseURL: cfg.BaseURL,
	}
	if cfg.Timeout.Duration() > 0 {
		conf.Timeout = cfg.Timeout.Duration()
	}
	cm, err := openai.NewChatModel(ctx, conf)
	if err != nil {
		return nil, fmt.Errorf("create openai model: %w", err)
	}
	return cm, nil
}
