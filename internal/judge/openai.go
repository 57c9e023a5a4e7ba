package judge

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o"

const openAISystemPrompt = "You are an expert AI evaluator. Always respond with valid JSON."

// openAIJudge implements Judge with Chat Completions in JSON mode.
type openAIJudge struct {
	client      openai.Client
	model       string
	temperature float64
}

func newOpenAI(cfg Config) (Judge, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, errors.New("judge: openai provider requires an API key")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &openAIJudge{
		client:      openai.NewClient(option.WithAPIKey(cfg.OpenAIAPIKey), option.WithMaxRetries(0)),
		model:       model,
		temperature: cfg.Temperature,
	}, nil
}

// Judge implements Judge.
func (o *openAIJudge) Judge(ctx context.Context, req Request) (string, error) {
	prompt, err := RenderPrompt(req)
	if err != nil {
		return "", err
	}
	model := req.Model
	if model == "" {
		model = o.model
	}

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(openAISystemPrompt),
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(o.temperature),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", classifyStatus("openai chat", apiErr.StatusCode, err)
		}
		return "", unavailable("openai chat", err)
	}
	if len(resp.Choices) == 0 {
		return "", malformed("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
