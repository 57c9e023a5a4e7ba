package judge

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultAnthropicModel is used when no model is configured.
const DefaultAnthropicModel = "claude-sonnet-4-5"

// anthropicJudge implements Judge with the Messages API.
type anthropicJudge struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
}

func newAnthropic(cfg Config) (Judge, error) {
	if cfg.AnthropicAPIKey == "" {
		return nil, errors.New("judge: anthropic provider requires an API key")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultAnthropicModel
	}
	return &anthropicJudge{
		client:      anthropic.NewClient(option.WithAPIKey(cfg.AnthropicAPIKey), option.WithMaxRetries(0)),
		model:       model,
		maxTokens:   int64(cfg.MaxTokens),
		temperature: cfg.Temperature,
	}, nil
}

// Judge implements Judge.
func (a *anthropicJudge) Judge(ctx context.Context, req Request) (string, error) {
	prompt, err := RenderPrompt(req)
	if err != nil {
		return "", err
	}
	model := req.Model
	if model == "" {
		model = a.model
	}

	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{{
			Role: anthropic.MessageParamRoleUser,
			Content: []anthropic.ContentBlockParamUnion{
				anthropic.NewTextBlock(prompt),
			},
		}},
		Temperature: anthropic.Float(a.temperature),
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", classifyStatus("anthropic messages", apiErr.StatusCode, err)
		}
		return "", unavailable("anthropic messages", err)
	}

	var text strings.Builder
	for _, content := range message.Content {
		if content.Type == "text" {
			text.WriteString(content.Text)
		}
	}
	return text.String(), nil
}
