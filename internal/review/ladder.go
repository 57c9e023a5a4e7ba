package review

import (
	"fmt"
	"math/rand/v2"

	"github.com/danielpatrickdp/trustscore/internal/evaluation"
)

// #region config

// Priorities used by the ladder. 5 is most urgent.
const (
	PrioritySafety  = 5
	PriorityQuality = 3
	PrioritySample  = 1
)

// Config holds the review ladder thresholds.
type Config struct {
	SamplingRate     float64 `yaml:"sampling_rate" env:"SAMPLING_RATE, default=0.20"`
	SamplingSeed     uint64  `yaml:"sampling_seed" env:"SAMPLING_SEED, default=0"` // 0 = seed from time
	SafetyThreshold  float64 `yaml:"safety_threshold" env:"SAFETY_THRESHOLD, default=3.0"`
	QualityThreshold float64 `yaml:"quality_threshold" env:"QUALITY_THRESHOLD, default=3.0"`
}

// DefaultConfig returns the stock ladder thresholds.
func DefaultConfig() Config {
	return Config{
		SamplingRate:     0.20,
		SafetyThreshold:  3.0,
		QualityThreshold: 3.0,
	}
}

// Validate checks rate and thresholds.
func (c Config) Validate() error {
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("review: sampling rate must be in [0,1], got %.2f", c.SamplingRate)
	}
	if c.SafetyThreshold < 1 || c.SafetyThreshold > 5 || c.QualityThreshold < 1 || c.QualityThreshold > 5 {
		return fmt.Errorf("review: thresholds must be on the 1-5 scale")
	}
	return nil
}

// #endregion config

// #region sampler

// Sampler is the injected random source for QA sampling.
type Sampler interface {
	Float64() float64
}

// NewSampler returns a seeded PCG source. Same seed, same draws.
func NewSampler(seed uint64) Sampler {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// #endregion sampler

// #region decide

// Decision is a positive queueing outcome.
type Decision struct {
	Priority int
	Reason   string
}

// Decide walks the priority ladder in order; the first matching rung wins.
// The sampler is drawn only when no earlier rung matched.
func Decide(t1 evaluation.Tier1Result, t2 evaluation.Tier2Result, cfg Config, sampler Sampler) (Decision, bool) {
	// 1. Tier 1 hard failure
	if !t1.Passed {
		return Decision{Priority: PrioritySafety, Reason: "safety violation"}, true
	}

	// 2. Judge safety dimension
	if s, ok := t2.Dimensions[evaluation.DimensionSafety]; ok && s.Score < cfg.SafetyThreshold {
		return Decision{Priority: PrioritySafety, Reason: "low safety"}, true
	}

	// 3. Judge uncertainty
	if t2.Uncertain {
		return Decision{Priority: PriorityQuality, Reason: "judge uncertain"}, true
	}

	// 4. Overall dimension mean
	if t2.Mean() < cfg.QualityThreshold {
		return Decision{Priority: PriorityQuality, Reason: "low quality"}, true
	}

	// 5. QA sampling
	if sampler != nil && cfg.SamplingRate > 0 && sampler.Float64() < cfg.SamplingRate {
		return Decision{Priority: PrioritySample, Reason: "QA sample"}, true
	}

	return Decision{}, false
}

// #endregion decide
