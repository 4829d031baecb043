package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/config"
)

type providerName string

const (
	providerOpenRouter providerName = "openrouter"
	providerClaude     providerName = "claude"
	providerOpenAI     providerName = "openai"
	providerDeepSeek   providerName = "deepseek"
	providerOllama     providerName = "ollama"
)

// providerFromModel maps a model id prefix (e.g. "anthropic/claude-...")
// to the provider that serves it.
func providerFromModel(modelID string) providerName {
	prefix, _, found := strings.Cut(modelID, "/")
	if !found {
		return ""
	}
	switch strings.ToLower(prefix) {
	case "openai":
		return providerOpenAI
	case "anthropic", "claude":
		return providerClaude
	case "deepseek":
		return providerDeepSeek
	case "ollama":
		return providerOllama
	case "openrouter":
		return providerOpenRouter
	default:
		return ""
	}
}

// resolveProvider picks the provider for the configured model. A provider
// mapped from the model id wins when it has credentials; otherwise the
// first configured provider in fallback order is used.
func resolveProvider(cfg *config.Config) (providerName, config.ProviderConfig, error) {
	p := cfg.Providers

	if mapped := providerFromModel(cfg.Agents.Defaults.Model); mapped != "" {
		switch mapped {
		case providerOpenRouter:
			if p.OpenRouter.APIKey != "" {
				return providerOpenRouter, p.OpenRouter, nil
			}
		case providerClaude:
			if p.Claude.APIKey != "" {
				return providerClaude, p.Claude, nil
			}
		case providerOpenAI:
			if p.OpenAI.APIKey != "" {
				return providerOpenAI, p.OpenAI, nil
			}
		case providerDeepSeek:
			if p.DeepSeek.APIKey != "" {
				return providerDeepSeek, p.DeepSeek, nil
			}
		case providerOllama:
			if p.Ollama.BaseURL == "" {
				return "", config.ProviderConfig{}, fmt.Errorf("ollama provider requires base_url")
			}
			return providerOllama, p.Ollama, nil
		}
	}

	switch {
	case p.OpenRouter.APIKey != "":
		return providerOpenRouter, p.OpenRouter, nil
	case p.Claude.APIKey != "":
		return providerClaude, p.Claude, nil
	case p.OpenAI.APIKey != "":
		return providerOpenAI, p.OpenAI, nil
	case p.DeepSeek.APIKey != "":
		return providerDeepSeek, p.DeepSeek, nil
	case p.Ollama.BaseURL != "":
		return providerOllama, p.Ollama, nil
	default:
		return "", config.ProviderConfig{}, fmt.Errorf("no provider configured: set api_key for at least one provider")
	}
}

// NewChatModel creates a chat model based on configuration.
func NewChatModel(ctx context.Context, cfg *config.Config) (model.ToolCallingChatModel, error) {
	name, pcfg, err := resolveProvider(cfg)
	if err != nil {
		return nil, err
	}

	d := cfg.Agents.Defaults
	switch name {
	case providerOpenRouter:
		// OpenRouter expects the full prefixed id, e.g. "anthropic/claude-sonnet-4-5".
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			Model:       d.Model,
			APIKey:      pcfg.APIKey,
			BaseURL:     "https://openrouter.ai/api/v1",
			Temperature: toFloat32Ptr(d.Temperature),
			MaxTokens:   toIntPtr(d.MaxTokens),
		})
	case providerClaude:
		return newClaudeModel(ctx, pcfg, d)
	case providerOpenAI:
		return newOpenAICompatModel(ctx, pcfg.APIKey, pcfg.BaseURL, d)
	case providerDeepSeek:
		return newOpenAICompatModel(ctx, pcfg.APIKey, "https://api.deepseek.com/v1", d)
	case providerOllama:
		return newOllamaModel(ctx, pcfg, d)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
}

func newOpenAICompatModel(ctx context.Context, apiKey, baseURL string, d config.AgentDefaults) (model.ToolCallingChatModel, error) {
	mcfg := &openai.ChatModelConfig{
		Model:       modelID(d.Model),
		APIKey:      apiKey,
		Temperature: toFloat32Ptr(d.Temperature),
		MaxTokens:   toIntPtr(d.MaxTokens),
	}
	if baseURL != "" {
		mcfg.BaseURL = baseURL
	}
	return openai.NewChatModel(ctx, mcfg)
}

func newClaudeModel(ctx context.Context, p config.ProviderConfig, d config.AgentDefaults) (model.ToolCallingChatModel, error) {
	mcfg := &claude.Config{
		APIKey:      p.APIKey,
		Model:       modelID(d.Model),
		MaxTokens:   d.MaxTokens,
		Temperature: toFloat32Ptr(d.Temperature),
	}
	if p.BaseURL != "" {
		mcfg.BaseURL = &p.BaseURL
	}
	return claude.NewChatModel(ctx, mcfg)
}

func newOllamaModel(ctx context.Context, p config.ProviderConfig, d config.AgentDefaults) (model.ToolCallingChatModel, error) {
	baseURL := p.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
		BaseURL: baseURL,
		Model:   modelID(d.Model),
	})
}

// modelID strips the provider prefix so "anthropic/claude-sonnet-4-5"
// becomes "claude-sonnet-4-5". Direct providers only accept the bare id.
func modelID(m string) string {
	if providerFromModel(m) == "" {
		return m
	}
	_, rest, found := strings.Cut(m, "/")
	if !found {
		return m
	}
	return rest
}

func toFloat32Ptr(f float64) *float32 {
	v := float32(f)
	return &v
}

func toIntPtr(i int) *int {
	return &i
}
