package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/trustscore/internal/archive"
	"github.com/danielpatrickdp/trustscore/internal/drift"
	"github.com/danielpatrickdp/trustscore/internal/judge"
	"github.com/danielpatrickdp/trustscore/internal/pipeline"
	"github.com/danielpatrickdp/trustscore/internal/review"
	"github.com/danielpatrickdp/trustscore/internal/rules"
	"github.com/danielpatrickdp/trustscore/internal/trust"
)

// EnvPrefix namespaces every environment variable, e.g. TRUSTSCORE_JUDGE_PROVIDER.
const EnvPrefix = "TRUSTSCORE_"

// #region config

// Config is the complete service configuration.
type Config struct {
	DBPath           string `yaml:"db_path" env:"DB_PATH, default=trustscore.db"`
	HTTPAddr         string `yaml:"http_addr" env:"HTTP_ADDR, default=:8080"`
	LogLevel         string `yaml:"log_level" env:"LOG_LEVEL, default=info"`
	BatchConcurrency int    `yaml:"batch_concurrency" env:"BATCH_CONCURRENCY, default=4"`

	Rules   rules.Config   `yaml:"rules" env:", prefix=RULES_"`
	Judge   judge.Config   `yaml:"judge" env:", prefix=JUDGE_"`
	Review  review.Config  `yaml:"review" env:", prefix=REVIEW_"`
	Trust   trust.Config   `yaml:"trust" env:", prefix=TRUST_"`
	Drift   drift.Config   `yaml:"drift" env:", prefix=DRIFT_"`
	Archive archive.Config `yaml:"archive" env:", prefix=ARCHIVE_"`
}

// Pipeline extracts the per-component policies.
func (c Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		Rules:  c.Rules,
		Judge:  c.Judge,
		Review: c.Review,
		Trust:  c.Trust,
		Drift:  c.Drift,
	}
}

// Validate checks the whole tree.
func (c Config) Validate() error {
	if strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("config: db_path is required")
	}
	if c.BatchConcurrency < 1 {
		return fmt.Errorf("config: batch_concurrency must be >= 1, got %d", c.BatchConcurrency)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}
	if err := c.Pipeline().Validate(); err != nil {
		return err
	}
	return c.Archive.Validate()
}

// #endregion config

// #region load

// Load resolves configuration with file > env > defaults precedence. An
// empty path skips the file. A nil lookuper reads the process environment.
func Load(ctx context.Context, path string, lookuper envconfig.Lookuper) (Config, error) {
	if lookuper == nil {
		lookuper = envconfig.OsLookuper()
	}

	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: envconfig.PrefixLookuper(EnvPrefix, lookuper),
	}); err != nil {
		return Config{}, fmt.Errorf("config env: %w", err)
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config file: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	if len(cfg.Rules.Blocklist) == 0 {
		cfg.Rules.Blocklist = append([]string(nil), rules.DefaultBlocklist...)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// #endregion load
