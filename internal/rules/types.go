package rules

import "fmt"

// #region config

// DefaultBlocklist is the built-in profanity list matched on word boundaries.
var DefaultBlocklist = []string{
	"damn", "hell", "crap", "fuck", "shit", "ass", "bitch",
	"bastard", "dick", "piss", "pussy", "cock", "asshole",
}

// Config holds the Tier 1 penalty policy. Penalties are points off a 100 baseline.
type Config struct {
	PIIPenalty       float64  `yaml:"pii_penalty" env:"PII_PENALTY, default=40"`
	ProfanityPenalty float64  `yaml:"profanity_penalty" env:"PROFANITY_PENALTY, default=25"`
	LengthPenalty    float64  `yaml:"length_penalty" env:"LENGTH_PENALTY, default=15"`
	TokenLimit       int      `yaml:"token_limit" env:"TOKEN_LIMIT, default=4096"`
	ReferenceBonus   float64  `yaml:"reference_bonus" env:"REFERENCE_BONUS, default=10"` // scaled by ROUGE-L
	Blocklist        []string `yaml:"blocklist" env:"BLOCKLIST"`
}

// DefaultConfig returns the stock penalty policy.
func DefaultConfig() Config {
	return Config{
		PIIPenalty:       40,
		ProfanityPenalty: 25,
		LengthPenalty:    15,
		TokenLimit:       4096,
		ReferenceBonus:   10,
		Blocklist:        append([]string(nil), DefaultBlocklist...),
	}
}

// Validate checks that penalties are positive and that the reference bonus
// can never cancel out a violation.
func (c Config) Validate() error {
	if c.PIIPenalty <= 0 || c.ProfanityPenalty <= 0 || c.LengthPenalty <= 0 {
		return fmt.Errorf("rules: penalties must be > 0 (pii=%.2f profanity=%.2f length=%.2f)",
			c.PIIPenalty, c.ProfanityPenalty, c.LengthPenalty)
	}
	if c.TokenLimit <= 0 {
		return fmt.Errorf("rules: token limit must be > 0, got %d", c.TokenLimit)
	}
	if c.ReferenceBonus < 0 {
		return fmt.Errorf("rules: reference bonus must be >= 0, got %.2f", c.ReferenceBonus)
	}
	minPenalty := min(c.PIIPenalty, c.ProfanityPenalty, c.LengthPenalty)
	if c.ReferenceBonus >= minPenalty {
		return fmt.Errorf("rules: reference bonus %.2f must be below the smallest penalty %.2f",
			c.ReferenceBonus, minPenalty)
	}
	return nil
}

// #endregion config

// #region similarity-func

// SimilarityFunc scores a candidate against a reference on [0,1].
type SimilarityFunc func(candidate, reference string) float64

// #endregion similarity-func
