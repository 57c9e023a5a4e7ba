package drift

import (
	"fmt"
	"time"
)

// #region metric-names

// Metric names recorded by the pipeline.
const (
	MetricTrustScore = "trust_score"
	MetricTier1Score = "tier1_score"
	MetricTier2Score = "tier2_score"
)

// ModelMetric is the per-model trust score series name.
func ModelMetric(model string) string {
	return MetricTrustScore + ":" + model
}

// #endregion metric-names

// #region thresholds

// Thresholds decide alert severity. Comparisons are strict.
type Thresholds struct {
	WarningAbsolute  float64 `yaml:"warning_absolute" env:"WARNING_ABSOLUTE, default=5"`
	WarningRelative  float64 `yaml:"warning_relative" env:"WARNING_RELATIVE, default=0.10"`
	CriticalAbsolute float64 `yaml:"critical_absolute" env:"CRITICAL_ABSOLUTE, default=10"`
	CriticalRelative float64 `yaml:"critical_relative" env:"CRITICAL_RELATIVE, default=0.20"`
}

// DefaultThresholds returns 5 / 10% warning and 10 / 20% critical.
func DefaultThresholds() Thresholds {
	return Thresholds{
		WarningAbsolute:  5,
		WarningRelative:  0.10,
		CriticalAbsolute: 10,
		CriticalRelative: 0.20,
	}
}

// #endregion thresholds

// #region config

// Config is the monitor's immutable policy.
type Config struct {
	Thresholds `yaml:",inline"`
	Window     time.Duration `yaml:"window" env:"WINDOW, default=168h"`
}

// DefaultConfig returns default thresholds with a 7 day window.
func DefaultConfig() Config {
	return Config{
		Thresholds: DefaultThresholds(),
		Window:     7 * 24 * time.Hour,
	}
}

// Validate requires positive thresholds, critical >= warning, and a positive window.
func (c Config) Validate() error {
	t := c.Thresholds
	if t.WarningAbsolute <= 0 || t.WarningRelative <= 0 || t.CriticalAbsolute <= 0 || t.CriticalRelative <= 0 {
		return fmt.Errorf("drift: thresholds must be > 0")
	}
	if t.CriticalAbsolute < t.WarningAbsolute || t.CriticalRelative < t.WarningRelative {
		return fmt.Errorf("drift: critical thresholds must be >= warning thresholds")
	}
	if c.Window <= 0 {
		return fmt.Errorf("drift: window must be > 0, got %s", c.Window)
	}
	return nil
}

// #endregion config

// #region summary

// Summary is the dashboard view of one metric.
type Summary struct {
	MetricName     string    `json:"metric_name"`
	Points         int       `json:"points"`
	Baseline       float64   `json:"baseline"`
	HasBaseline    bool      `json:"has_baseline"`
	Latest         float64   `json:"latest"`
	LatestAt       time.Time `json:"latest_at"`
	StabilityIndex float64   `json:"stability_index"`
}

// #endregion summary
