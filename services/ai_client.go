package services

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"
)

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// AIParams tune a single completion request.
type AIParams struct {
	MaxTokens   int
	Temperature float64
}

// AIClient produces a completion for a single prompt. Implementations wrap a
// concrete provider; agents only ever see this interface.
type AIClient interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, params AIParams) (string, error)
	ModelName() string
}

// LLMClient adapts a langchaingo model to AIClient.
type LLMClient struct {
	model llms.Model
	name  string
}

func (c *LLMClient) ModelName() string {
	return c.name
}

func (c *LLMClient) Complete(ctx context.Context, systemPrompt, userPrompt string, params AIParams) (string, error) {
	if params.MaxTokens <= 0 {
		params.MaxTokens = 1024
	}

	prompt := userPrompt
	if systemPrompt != "" {
		prompt = systemPrompt + "\n\n" + userPrompt
	}

	completion, err := llms.GenerateFromSinglePrompt(ctx, c.model, prompt,
		llms.WithMaxTokens(params.MaxTokens),
		llms.WithTemperature(params.Temperature),
	)
	if err != nil {
		return "", fmt.Errorf("completion from %s: %w", c.name, err)
	}
	return completion, nil
}

// NewAIClient builds a client for a "provider/model" spec, e.g.
// "anthropic/claude-sonnet-4" or "openrouter/meta-llama/llama-3-70b".
// A spec without a provider prefix defaults to anthropic.
func NewAIClient(modelSpec string) (AIClient, error) {
	provider := "anthropic"
	model := modelSpec
	if idx := strings.Index(modelSpec, "/"); idx > 0 {
		prefix := modelSpec[:idx]
		switch prefix {
		case "anthropic", "openai", "openrouter":
			provider = prefix
			model = modelSpec[idx+1:]
		}
	}
	if model == "" {
		return nil, fmt.Errorf("empty model in spec %q", modelSpec)
	}

	switch provider {
	case "anthropic":
		llm, err := anthropic.New(
			anthropic.WithModel(model),
			anthropic.WithToken(os.Getenv("ANTHROPIC_API_KEY")),
		)
		if err != nil {
			return nil, fmt.Errorf("anthropic client: %w", err)
		}
		return &LLMClient{model: llm, name: model}, nil

	case "openai":
		llm, err := openai.New(
			openai.WithModel(model),
			openai.WithToken(os.Getenv("OPENAI_API_KEY")),
		)
		if err != nil {
			return nil, fmt.Errorf("openai client: %w", err)
		}
		return &LLMClient{model: llm, name: model}, nil

	case "openrouter":
		// OpenRouter speaks the OpenAI wire protocol.
		llm, err := openai.New(
			openai.WithModel(model),
			openai.WithToken(os.Getenv("OPENROUTER_API_KEY")),
			openai.WithBaseURL(openRouterBaseURL),
		)
		if err != nil {
			return nil, fmt.Errorf("openrouter client: %w", err)
		}
		return &LLMClient{model: llm, name: model}, nil
	}

	return nil, fmt.Errorf("unknown provider %q", provider)
}
