package judge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// geminiJudge implements Judge with the Gemini API in JSON response mode.
type geminiJudge struct {
	client      *genai.Client
	model       string
	temperature float32
	maxTokens   int32
}

func newGemini(ctx context.Context, cfg Config) (Judge, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, errors.New("judge: gemini provider requires an API key")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("judge: create gemini client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	return &geminiJudge{
		client:      client,
		model:       model,
		temperature: float32(cfg.Temperature),
		maxTokens:   int32(cfg.MaxTokens),
	}, nil
}

// Judge implements Judge.
func (g *geminiJudge) Judge(ctx context.Context, req Request) (string, error) {
	prompt, err := RenderPrompt(req)
	if err != nil {
		return "", err
	}
	model := req.Model
	if model == "" {
		model = g.model
	}

	temperature := g.temperature
	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature:      &temperature,
		MaxOutputTokens:  g.maxTokens,
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		if isPermanentGeminiError(err) {
			return "", permanent("gemini generate", err)
		}
		return "", unavailable("gemini generate", err)
	}
	text := resp.Text()
	if text == "" {
		return "", malformed("gemini returned no text")
	}
	return text, nil
}

// isPermanentGeminiError matches request errors that retrying cannot fix.
func isPermanentGeminiError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "INVALID_ARGUMENT") ||
		strings.Contains(msg, "NOT_FOUND") ||
		strings.Contains(msg, "Error 400") ||
		strings.Contains(msg, "Error 404")
}
