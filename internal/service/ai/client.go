// Package ai calls the LLM completion service and orchestrates one
// conversation turn end to end.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/skorbantu/advisor/backend/internal/config"
	"github.com/skorbantu/advisor/backend/internal/model/chat"
)

// ErrRateLimited marks an upstream 429; the user-facing message for it
// must differ from the generic failure text.
var ErrRateLimited = errors.New("completion service rate limited")

// Completion is one model reply.
type Completion struct {
	Text       string
	TokenCount int64
}

// Completer abstracts the LLM completion service.
type Completer interface {
	Complete(ctx context.Context, turns []chat.Turn) (Completion, error)
	Model() string
}

// OpenRouterClient talks to OpenRouter's OpenAI-compatible chat
// completions endpoint.
type OpenRouterClient struct {
	client openai.Client
	model  string
}

// NewOpenRouterClient builds a client from the AI configuration. The
// request timeout applies per call, independent of any debounce delay.
func NewOpenRouterClient(cfg config.AIConfig) *OpenRouterClient {
	client := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithRequestTimeout(cfg.Timeout),
	)
	return &OpenRouterClient{client: client, model: cfg.Model}
}

// Model returns the configured model identifier.
func (c *OpenRouterClient) Model() string {
	return c.model
}

// Complete sends the full role-tagged payload and returns the first
// choice. A response with no choices comes back as an empty completion;
// the orchestrator substitutes the fallback text.
func (c *OpenRouterClient) Complete(ctx context.Context, turns []chat.Turn) (Completion, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case chat.RoleSystem:
			messages = append(messages, openai.SystemMessage(turn.Content))
		case chat.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Content))
		default:
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: messages,
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
			return Completion{}, fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		return Completion{}, fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return Completion{}, nil
	}
	return Completion{
		Text:       resp.Choices[0].Message.Content,
		TokenCount: resp.Usage.TotalTokens,
	}, nil
}
