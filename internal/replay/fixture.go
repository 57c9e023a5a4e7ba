package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/danielpatrickdp/trustscore/internal/evaluation"
	"github.com/danielpatrickdp/trustscore/internal/trust"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture: a frozen set
// of stored evaluations, the policy to replay them under and the expected
// outcome per evaluation.
type Fixture struct {
	Description     string                  `json:"description"`
	Config          FixtureConfig           `json:"config"`
	Evaluations     []evaluation.Evaluation `json:"evaluations"`
	ExpectedResults []FixtureExpectedResult `json:"expected_results,omitempty"`
}

// FixtureConfig mirrors Config with JSON tags. Margins fall back to the
// trust defaults.
type FixtureConfig struct {
	Weights     evaluation.Weights `json:"weights"`
	Renormalize bool               `json:"renormalize"`
	Threshold   float64            `json:"threshold"`
}

// FixtureExpectedResult captures the expected outcome per evaluation.
type FixtureExpectedResult struct {
	EvaluationID string  `json:"evaluation_id"`
	Action       Action  `json:"action"`
	NewScore     float64 `json:"new_score"`
	Flipped      bool    `json:"flipped"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// WriteFixture serializes f to path, indented.
func WriteFixture(path string, f *Fixture) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// NewFixture freezes evs and the outcome of replaying them under config.
func NewFixture(description string, evs []evaluation.Evaluation, config Config) *Fixture {
	f := &Fixture{
		Description: description,
		Config: FixtureConfig{
			Weights:     config.Trust.Weights,
			Renormalize: config.Trust.Renormalize,
			Threshold:   config.Threshold,
		},
		Evaluations: evs,
	}
	for _, r := range Replay(evs, config) {
		f.ExpectedResults = append(f.ExpectedResults, FixtureExpectedResult{
			EvaluationID: r.EvaluationID,
			Action:       r.Action,
			NewScore:     r.NewScore,
			Flipped:      r.Flipped,
		})
	}
	return f
}

// ToConfig converts a FixtureConfig to a replay Config.
func (fc FixtureConfig) ToConfig() Config {
	tc := trust.DefaultConfig()
	tc.Weights = fc.Weights
	tc.Renormalize = fc.Renormalize
	return Config{Trust: tc, Threshold: fc.Threshold}
}

// #endregion fixture-loader
