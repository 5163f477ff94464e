// Package llm adapts hosted chat-completion APIs to the conversation loop.
package llm

import (
	"errors"
	"fmt"

	"github.com/minhyannv/mcp-chat-go/pkg/agent"
	configpkg "github.com/minhyannv/mcp-chat-go/pkg/config"
	loggerpkg "github.com/minhyannv/mcp-chat-go/pkg/logger"
)

// ErrMalformedToolCall is returned when the model emits a tool call whose
// arguments are not a JSON object.
var ErrMalformedToolCall = errors.New("malformed tool call")

// ErrEmptyCompletion is returned when a completion carries no choices.
var ErrEmptyCompletion = errors.New("empty completion")

// New builds the completion provider selected by cfg.Provider.
func New(cfg configpkg.Config, logger loggerpkg.Logger) (agent.CompletionProvider, error) {
	switch cfg.Provider {
	case configpkg.ProviderAnthropic:
		return NewAnthropic(AnthropicOptions{
			APIKey:    cfg.AnthropicAPIKey,
			BaseURL:   cfg.AnthropicBaseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			Logger:    logger,
		}), nil
	case configpkg.ProviderOpenAI:
		return NewOpenAI(OpenAIOptions{
			APIKey:    cfg.OpenAIAPIKey,
			BaseURL:   cfg.OpenAIBaseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			Logger:    logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
