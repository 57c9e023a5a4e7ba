package judge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danielpatrickdp/trustscore/internal/evaluation"
)

// #region interface

// Judge is the external scoring capability. Implementations return the raw
// response text; parsing and contract checks happen in Evaluator.
type Judge interface {
	Judge(ctx context.Context, req Request) (string, error)
}

// Request is everything a judge needs to score one output.
type Request struct {
	Prompt      string
	Output      string
	GroundTruth string
	Provider    string
	Model       string
}

// #endregion interface

// #region config

// Config selects the judge provider and its failure policy.
type Config struct {
	Provider           string        `yaml:"provider" env:"PROVIDER, default=static"`
	Model              string        `yaml:"model" env:"MODEL"`
	AnthropicAPIKey    string        `yaml:"anthropic_api_key" env:"ANTHROPIC_API_KEY"`
	OpenAIAPIKey       string        `yaml:"openai_api_key" env:"OPENAI_API_KEY"`
	GeminiAPIKey       string        `yaml:"gemini_api_key" env:"GEMINI_API_KEY"`
	GRPCAddr           string        `yaml:"grpc_addr" env:"GRPC_ADDR"`
	Timeout            time.Duration `yaml:"timeout" env:"TIMEOUT, default=60s"`
	MaxRetries         int           `yaml:"max_retries" env:"MAX_RETRIES, default=3"`
	BaseBackoff        time.Duration `yaml:"base_backoff" env:"BASE_BACKOFF, default=1s"`
	MaxBackoff         time.Duration `yaml:"max_backoff" env:"MAX_BACKOFF, default=30s"`
	UncertaintyPenalty float64       `yaml:"uncertainty_penalty" env:"UNCERTAINTY_PENALTY, default=0.10"`
	Temperature        float64       `yaml:"temperature" env:"TEMPERATURE, default=0.3"`
	MaxTokens          int           `yaml:"max_tokens" env:"MAX_TOKENS, default=1024"`
}

// DefaultConfig returns the offline defaults (scripted static judge).
func DefaultConfig() Config {
	return Config{
		Provider:           ProviderStatic,
		Timeout:            60 * time.Second,
		MaxRetries:         3,
		BaseBackoff:        time.Second,
		MaxBackoff:         30 * time.Second,
		UncertaintyPenalty: 0.10,
		Temperature:        0.3,
		MaxTokens:          1024,
	}
}

// Validate checks the retry and scoring policy.
func (c Config) Validate() error {
	switch {
	case c.Timeout <= 0:
		return fmt.Errorf("judge: timeout must be > 0, got %s", c.Timeout)
	case c.MaxRetries < 0:
		return errors.New("judge: max retries cannot be negative")
	case c.BaseBackoff < 0 || c.MaxBackoff < 0:
		return errors.New("judge: backoff cannot be negative")
	case c.UncertaintyPenalty < 0 || c.UncertaintyPenalty >= 1:
		return fmt.Errorf("judge: uncertainty penalty must be in [0,1), got %.2f", c.UncertaintyPenalty)
	}
	return nil
}

// #endregion config

// #region errors

// errPermanent marks provider failures that will not succeed on retry (bad request, unknown model).
var errPermanent = errors.New("permanent")

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, evaluation.ErrJudgeUnavailable, err)
}

func permanent(op string, err error) error {
	return fmt.Errorf("%s: %w: %w: %w", op, evaluation.ErrJudgeUnavailable, errPermanent, err)
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", evaluation.ErrJudgeMalformedResponse, fmt.Sprintf(format, args...))
}

// classifyStatus maps an HTTP status from a provider SDK onto the taxonomy.
func classifyStatus(op string, status int, err error) error {
	switch {
	case status == 400, status == 404, status == 422:
		return permanent(op, err)
	default:
		// 401/403/408/429/5xx and anything transport-level
		return unavailable(op, err)
	}
}

// #endregion errors
