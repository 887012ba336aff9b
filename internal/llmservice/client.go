package llmservice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"tutor-rag/internal/config"
)

// ErrNotConfigured means no usable model endpoint exists for this
// tier. Callers treat it like any other model-call failure: degrade to
// a templated fallback, never crash.
var ErrNotConfigured = errors.New("language model not configured")

// NewModel builds a chat model client for the configured provider.
func NewModel(cfg *config.LLMConfig) (llms.Model, error) {
	switch cfg.Provider {
	case "ollama":
		return ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
	case "openai", "":
		if strings.TrimSpace(cfg.Key) == "" {
			return nil, ErrNotConfigured
		}
		return openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
		)
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", cfg.Provider)
	}
}

// Generate performs one system+user chat completion with a bounded
// wait. A timeout surfaces as an ordinary error so every caller can use
// its normal stage-failure fallback.
func Generate(ctx context.Context, model llms.Model, system, user string, temperature float64, timeout time.Duration) (string, error) {
	if model == nil {
		return "", ErrNotConfigured
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}
	resp, err := model.GenerateContent(ctx, messages, llms.WithTemperature(temperature))
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Content)
	if content == "" {
		return "", errors.New("model returned empty content")
	}
	return content, nil
}
