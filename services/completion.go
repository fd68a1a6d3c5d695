package services

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is a provider-neutral chat completion call.
type CompletionRequest struct {
	SystemPrompt string
	Messages     []ChatMessage
	Temperature  float32
	MaxTokens    int32
}

// TextCompleter produces a single text completion.
type TextCompleter interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// NewTextCompleter picks the provider named in cfg. It returns nil when no
// provider is configured; callers fall back to canned text in that case.
func NewTextCompleter(ctx context.Context, cfg AIConfig) (TextCompleter, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, nil
		}
		return NewGeminiService(ctx, cfg.GeminiAPIKey, cfg.Model)
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, nil
		}
		return NewOpenAIService(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q", cfg.Provider)
	}
}

// completeWithTimeout bounds a completion call. An unset completer is
// reported as an error so callers take their fallback path.
func completeWithTimeout(ctx context.Context, c TextCompleter, timeout time.Duration, req CompletionRequest) (string, error) {
	if c == nil {
		return "", fmt.Errorf("no completion provider configured")
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	text, err := c.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
