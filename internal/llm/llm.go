// Package llm provides the completion service used for candidate extraction,
// evidence classification and summarization.
//
// Every engine call site treats completion failure as a recoverable
// condition with a local fallback, so implementations return errors rather
// than retrying internally.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

// ErrEmptyPrompt is returned when a blank prompt is submitted.
var ErrEmptyPrompt = errors.New("prompt cannot be empty")

// Completer generates a text completion for a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// AnthropicConfig configures the Anthropic Messages client.
type AnthropicConfig struct {
	APIKey string
	Model  string
}

// AnthropicCompleter implements Completer over the Anthropic Messages API.
type AnthropicCompleter struct {
	client *anthropic.Client
	model  string
	logger *zap.Logger
}

// NewAnthropicCompleter creates a completer for the configured model.
func NewAnthropicCompleter(cfg AnthropicConfig, logger *zap.Logger) (*AnthropicCompleter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-20250514"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))

	return &AnthropicCompleter{
		client: &client,
		model:  cfg.Model,
		logger: logger,
	}, nil
}

// Complete sends a single-turn prompt and returns the concatenated text blocks.
func (c *AnthropicCompleter) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic completion: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	c.logger.Debug("completion finished",
		zap.String("model", c.model),
		zap.Int("prompt_chars", len(prompt)),
		zap.Int("response_chars", sb.Len()),
	)
	return sb.String(), nil
}

// ScriptedCompleter is a test double that replays queued responses in order.
// When the queue is exhausted it returns Fallback, or an error if FailWhenEmpty
// is set. Safe for concurrent use.
type ScriptedCompleter struct {
	mu sync.Mutex

	// Responses are returned one per call, in order.
	Responses []string

	// Fallback is returned once Responses runs out.
	Fallback string

	// FailWhenEmpty makes calls past the scripted responses return an error.
	FailWhenEmpty bool

	// Prompts records every prompt received, for assertions.
	Prompts []string
}

// Complete pops the next scripted response.
func (s *ScriptedCompleter) Complete(_ context.Context, prompt string, _ int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Prompts = append(s.Prompts, prompt)
	if len(s.Responses) > 0 {
		next := s.Responses[0]
		s.Responses = s.Responses[1:]
		return next, nil
	}
	if s.FailWhenEmpty {
		return "", errors.New("scripted completer exhausted")
	}
	return s.Fallback, nil
}

// FailingCompleter always errors. It exercises the engine's fallback paths.
type FailingCompleter struct{}

// Complete always returns an error.
func (FailingCompleter) Complete(context.Context, string, int) (string, error) {
	return "", errors.New("completion service unavailable")
}
