package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/trustscore/internal/rules"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trustscore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), "", envconfig.MapLookuper(map[string]string{}))
	require.NoError(t, err)

	assert.Equal(t, "trustscore.db", cfg.DBPath)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 0.25, cfg.Trust.Weights.Tier1)
	assert.Equal(t, 0.55, cfg.Trust.Weights.Tier2)
	assert.Equal(t, 0.20, cfg.Trust.Weights.Tier3)
	assert.False(t, cfg.Trust.Renormalize)
	assert.Equal(t, 40.0, cfg.Rules.PIIPenalty)
	assert.Equal(t, 4096, cfg.Rules.TokenLimit)
	assert.Equal(t, rules.DefaultBlocklist, cfg.Rules.Blocklist)
	assert.Equal(t, 0.20, cfg.Review.SamplingRate)
	assert.Equal(t, "static", cfg.Judge.Provider)
	assert.Equal(t, 3, cfg.Judge.MaxRetries)
	assert.Equal(t, time.Second, cfg.Judge.BaseBackoff)
	assert.Equal(t, 60*time.Second, cfg.Judge.Timeout)
	assert.Equal(t, 5.0, cfg.Drift.WarningAbsolute)
	assert.Equal(t, 0.20, cfg.Drift.CriticalRelative)
	assert.Equal(t, 7*24*time.Hour, cfg.Drift.Window)
	assert.False(t, cfg.Archive.Enabled())
}

func TestLoadEnvOverrides(t *testing.T) {
	env := envconfig.MapLookuper(map[string]string{
		"TRUSTSCORE_DB_PATH":                "/var/lib/ts.db",
		"TRUSTSCORE_JUDGE_PROVIDER":         "anthropic",
		"TRUSTSCORE_JUDGE_MAX_RETRIES":      "5",
		"TRUSTSCORE_REVIEW_SAMPLING_RATE":   "0.5",
		"TRUSTSCORE_DRIFT_WARNING_ABSOLUTE": "3",
		"TRUSTSCORE_DRIFT_WINDOW":           "24h",
		"TRUSTSCORE_RULES_BLOCKLIST":        "heck,darn",
		"TRUSTSCORE_TRUST_RENORMALIZE":      "true",
		"TRUSTSCORE_TRUST_WEIGHT_TIER1":     "0.30",
		"TRUSTSCORE_TRUST_WEIGHT_TIER2":     "0.50",
	})
	cfg, err := Load(context.Background(), "", env)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/ts.db", cfg.DBPath)
	assert.Equal(t, "anthropic", cfg.Judge.Provider)
	assert.Equal(t, 5, cfg.Judge.MaxRetries)
	assert.Equal(t, 0.5, cfg.Review.SamplingRate)
	assert.Equal(t, 3.0, cfg.Drift.WarningAbsolute)
	assert.Equal(t, 24*time.Hour, cfg.Drift.Window)
	assert.Equal(t, []string{"heck", "darn"}, cfg.Rules.Blocklist)
	assert.True(t, cfg.Trust.Renormalize)
	assert.Equal(t, 0.30, cfg.Trust.Weights.Tier1)
}

func TestLoadFileBeatsEnv(t *testing.T) {
	path := writeFile(t, `
db_path: file.db
judge:
  provider: openai
  model: gpt-4o-mini
drift:
  critical_absolute: 15
  window: 72h
trust:
  weights:
    tier1: 0.2
    tier2: 0.6
    tier3: 0.2
`)
	env := envconfig.MapLookuper(map[string]string{
		"TRUSTSCORE_DB_PATH":        "env.db",
		"TRUSTSCORE_JUDGE_PROVIDER": "gemini",
		"TRUSTSCORE_HTTP_ADDR":      ":9090",
	})
	cfg, err := Load(context.Background(), path, env)
	require.NoError(t, err)

	assert.Equal(t, "file.db", cfg.DBPath)
	assert.Equal(t, "openai", cfg.Judge.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.Judge.Model)
	assert.Equal(t, ":9090", cfg.HTTPAddr, "env still applies where the file is silent")
	assert.Equal(t, 15.0, cfg.Drift.CriticalAbsolute)
	assert.Equal(t, 5.0, cfg.Drift.WarningAbsolute)
	assert.Equal(t, 72*time.Hour, cfg.Drift.Window)
	assert.Equal(t, 0.6, cfg.Trust.Weights.Tier2)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"weights":       "trust:\n  weights:\n    tier1: 0.5\n    tier2: 0.5\n    tier3: 0.5\n",
		"thresholds":    "drift:\n  warning_absolute: 12\n",
		"sampling rate": "review:\n  sampling_rate: 1.5\n",
		"unknown field": "judge:\n  provdier: openai\n",
		"log level":     "log_level: loud\n",
		"archive creds": "archive:\n  endpoint: localhost:9000\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(context.Background(), writeFile(t, body), envconfig.MapLookuper(nil))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"), envconfig.MapLookuper(nil))
	require.Error(t, err)
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(context.Background(), writeFile(t, ""), envconfig.MapLookuper(nil))
	require.NoError(t, err)
	assert.Equal(t, "trustscore.db", cfg.DBPath)
}

func TestPipelineConfig(t *testing.T) {
	cfg, err := Load(context.Background(), "", envconfig.MapLookuper(nil))
	require.NoError(t, err)
	pc := cfg.Pipeline()
	assert.Equal(t, cfg.Judge, pc.Judge)
	assert.Equal(t, cfg.Drift, pc.Drift)
	assert.NoError(t, pc.Validate())
}
