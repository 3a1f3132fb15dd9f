package openai

import (
	"context"
	"fmt"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/thronix/ai-meter/internal/provider"
)

type OpenAIProvider struct {
	client *goopenai.Client
	models []string
}

func New(apiKey string, models []string) provider.Provider {
	return &OpenAIProvider{
		client: goopenai.NewClient(apiKey),
		models: models,
	}
}

// NewWithBaseURL points the client at an alternate endpoint, used by tests.
func NewWithBaseURL(apiKey, baseURL string, models []string) provider.Provider {
	cfg := goopenai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &OpenAIProvider{
		client: goopenai.NewClientWithConfig(cfg),
		models: models,
	}
}

func (p *OpenAIProvider) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	messages := make([]goopenai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = goopenai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		}
	}

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai api returned no choices")
	}

	return &provider.Response{
		ID:           resp.ID,
		Content:      resp.Choices[0].Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Model:        resp.Model,
		Provider:     p.Name(),
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) SupportedModels() []string {
	return p.models
}
