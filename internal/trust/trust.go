package trust

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/trustscore/internal/evaluation"
)

// #region config

// Config carries the tier weights and confidence-interval margins.
type Config struct {
	Weights             evaluation.Weights `yaml:"weights" env:", prefix=WEIGHT_"`
	BaseMargin          float64            `yaml:"base_margin" env:"BASE_MARGIN, default=5"`
	DisagreementScale   float64            `yaml:"disagreement_scale" env:"DISAGREEMENT_SCALE, default=10"`
	UncertainMargin     float64            `yaml:"uncertain_margin" env:"UNCERTAIN_MARGIN, default=5"`
	NarrowPassMargin    float64            `yaml:"narrow_pass_margin" env:"NARROW_PASS_MARGIN, default=3"`
	PendingReviewMargin float64            `yaml:"pending_review_margin" env:"PENDING_REVIEW_MARGIN, default=3"`
	// Renormalize spreads the Tier 3 weight over Tiers 1-2 when no review happened.
	Renormalize bool `yaml:"renormalize" env:"RENORMALIZE, default=false"`
}

// DefaultWeights returns 0.25 / 0.55 / 0.20.
func DefaultWeights() evaluation.Weights {
	return evaluation.Weights{Tier1: 0.25, Tier2: 0.55, Tier3: 0.20}
}

// DefaultConfig returns the stock aggregation policy.
func DefaultConfig() Config {
	return Config{
		Weights:             DefaultWeights(),
		BaseMargin:          5,
		DisagreementScale:   10,
		UncertainMargin:     5,
		NarrowPassMargin:    3,
		PendingReviewMargin: 3,
	}
}

// Validate requires non-negative weights summing to 1 (±0.01) and non-negative margins.
func (c Config) Validate() error {
	w := c.Weights
	if w.Tier1 < 0 || w.Tier2 < 0 || w.Tier3 < 0 {
		return fmt.Errorf("trust: weights must be >= 0 (%.2f/%.2f/%.2f)", w.Tier1, w.Tier2, w.Tier3)
	}
	if sum := w.Tier1 + w.Tier2 + w.Tier3; math.Abs(sum-1) > 0.01 {
		return fmt.Errorf("trust: weights must sum to 1, got %.4f", sum)
	}
	if w.Tier1+w.Tier2 <= 0 {
		return fmt.Errorf("trust: tier 1 and tier 2 weights cannot both be zero")
	}
	if c.BaseMargin < 0 || c.DisagreementScale < 0 || c.UncertainMargin < 0 ||
		c.NarrowPassMargin < 0 || c.PendingReviewMargin < 0 {
		return fmt.Errorf("trust: confidence margins must be >= 0")
	}
	return nil
}

// #endregion config

// #region aggregate

// Aggregate combines the tier results into a TrustScore. Pure: identical
// inputs give identical output. Without Tier 3 the third term is dropped and,
// unless Renormalize is set, the remaining weights are used as-is. A missing
// Tier 3 is treated as a pending review: the score is provisional and the
// interval carries PendingReviewMargin.
func Aggregate(t1 evaluation.Tier1Result, t2 evaluation.Tier2Result, t3 *evaluation.Tier3Result, cfg Config) evaluation.TrustScore {
	return aggregate(t1, t2, t3, t3 == nil, cfg)
}

// Final scores an evaluation that completes without human review. Tier 3 is
// omitted as in Aggregate but nothing is pending, so the score is final and
// its interval has no pending-review margin.
func Final(t1 evaluation.Tier1Result, t2 evaluation.Tier2Result, cfg Config) evaluation.TrustScore {
	return aggregate(t1, t2, nil, false, cfg)
}

func aggregate(t1 evaluation.Tier1Result, t2 evaluation.Tier2Result, t3 *evaluation.Tier3Result, pending bool, cfg Config) evaluation.TrustScore {
	w := cfg.Weights
	if t3 == nil && cfg.Renormalize {
		partial := w.Tier1 + w.Tier2
		w = evaluation.Weights{Tier1: w.Tier1 / partial, Tier2: w.Tier2 / partial}
	}

	ts := evaluation.TrustScore{
		Tier1Score:        t1.Score,
		Tier2Score:        t2.Score,
		Tier1Contribution: round2(w.Tier1 * t1.Score),
		Tier2Contribution: round2(w.Tier2 * t2.Score),
		Weights:           w,
		Dimensions:        make(map[evaluation.Dimension]float64, len(t2.Dimensions)),
		Provisional:       pending,
	}

	overall := w.Tier1*t1.Score + w.Tier2*t2.Score
	if t3 != nil {
		score := t3.Score
		contribution := round2(w.Tier3 * score)
		ts.Tier3Score = &score
		ts.Tier3Contribution = &contribution
		overall += w.Tier3 * score
	}
	ts.Overall = round2(clamp(overall, 0, 100))

	for d, s := range t2.Dimensions {
		ts.Dimensions[d] = s.Score * 20
	}

	half := halfWidth(t1, t2, pending, cfg)
	ts.ConfidenceLow = round2(clamp(ts.Overall-half, 0, 100))
	ts.ConfidenceHigh = round2(clamp(ts.Overall+half, 0, 100))
	return ts
}

// halfWidth widens with judge disagreement, judge uncertainty, a Tier 1 pass
// that still carried penalties, and a missing human review.
func halfWidth(t1 evaluation.Tier1Result, t2 evaluation.Tier2Result, pending bool, cfg Config) float64 {
	half := cfg.BaseMargin + cfg.DisagreementScale*t2.StdDev()
	if t2.Uncertain {
		half += cfg.UncertainMargin
	}
	if t1.Passed && t1.HasSoftViolations() {
		half += cfg.NarrowPassMargin
	}
	if pending {
		half += cfg.PendingReviewMargin
	}
	return half
}

// #endregion aggregate

// #region helpers

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// #endregion helpers
