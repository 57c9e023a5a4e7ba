package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/danielpatrickdp/trustscore/internal/drift"
	"github.com/danielpatrickdp/trustscore/internal/evaluation"
	"github.com/danielpatrickdp/trustscore/internal/judge"
	"github.com/danielpatrickdp/trustscore/internal/review"
	"github.com/danielpatrickdp/trustscore/internal/rules"
	"github.com/danielpatrickdp/trustscore/internal/trust"
)

// #region config

// Config bundles the immutable per-component policies.
type Config struct {
	Rules  rules.Config
	Judge  judge.Config
	Review review.Config
	Trust  trust.Config
	Drift  drift.Config
}

// DefaultConfig returns every component's defaults.
func DefaultConfig() Config {
	return Config{
		Rules:  rules.DefaultConfig(),
		Judge:  judge.DefaultConfig(),
		Review: review.DefaultConfig(),
		Trust:  trust.DefaultConfig(),
		Drift:  drift.DefaultConfig(),
	}
}

// Validate checks each component.
func (c Config) Validate() error {
	for _, v := range []interface{ Validate() error }{c.Rules, c.Judge, c.Review, c.Trust, c.Drift} {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("pipeline config: %w", err)
		}
	}
	return nil
}

// #endregion config

// #region options

// Archiver receives completed evaluations. Errors are logged, never propagated.
type Archiver interface {
	Archive(ctx context.Context, ev evaluation.Evaluation) error
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithArchiver sets the completed-evaluation sink.
func WithArchiver(a Archiver) Option {
	return func(p *Pipeline) { p.archiver = a }
}

// WithClock replaces the time source for the pipeline, queue and drift monitor.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithSampler replaces the seeded QA sampler.
func WithSampler(s review.Sampler) Option {
	return func(p *Pipeline) { p.sampler = &lockedSampler{s: s} }
}

// WithIDs replaces the evaluation id generator.
func WithIDs(next func() string) Option {
	return func(p *Pipeline) { p.newID = next }
}

// #endregion options

// #region sampler

// lockedSampler serializes draws; rand.Rand is not safe for concurrent use.
type lockedSampler struct {
	mu sync.Mutex
	s  review.Sampler
}

func (l *lockedSampler) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.s.Float64()
}

// #endregion sampler
