package judge

import (
	"context"
	"fmt"
	"strings"
)

// Provider names accepted by NewJudge.
const (
	ProviderStatic    = "static"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderGRPC      = "grpc"
)

// NewJudge builds the judge named by cfg.Provider.
func NewJudge(ctx context.Context, cfg Config) (Judge, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderStatic:
		return NewStatic(), nil
	case ProviderAnthropic:
		return newAnthropic(cfg)
	case ProviderOpenAI:
		return newOpenAI(cfg)
	case ProviderGemini, "google":
		return newGemini(ctx, cfg)
	case ProviderGRPC:
		if cfg.GRPCAddr == "" {
			return nil, fmt.Errorf("judge: grpc provider requires an address")
		}
		return NewGRPCJudge(cfg.GRPCAddr, cfg.Model)
	}
	return nil, fmt.Errorf("judge: unknown provider %q", cfg.Provider)
}

// DefaultModel is the model a provider falls back to when none is configured.
// The static and gRPC judges have no default of their own.
func DefaultModel(provider string) string {
	switch strings.ToLower(provider) {
	case ProviderAnthropic:
		return DefaultAnthropicModel
	case ProviderOpenAI:
		return DefaultOpenAIModel
	case ProviderGemini, "google":
		return DefaultGeminiModel
	}
	return ""
}
