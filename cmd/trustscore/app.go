package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/trustscore/internal/archive"
	"github.com/danielpatrickdp/trustscore/internal/config"
	"github.com/danielpatrickdp/trustscore/internal/evaluation"
	"github.com/danielpatrickdp/trustscore/internal/judge"
	"github.com/danielpatrickdp/trustscore/internal/pipeline"
	"github.com/danielpatrickdp/trustscore/internal/store"
)

// #region app

// app holds the opened resources for one command invocation.
type app struct {
	cfg      config.Config
	store    *store.Store
	pipeline *pipeline.Pipeline
	out      io.Writer
	jsonOut  bool
	closers  []io.Closer
}

// openStore loads configuration, installs the logger on ctx and opens the
// database. No judge is built.
func openStore(cmd *cobra.Command, flags *globalFlags) (*app, context.Context, error) {
	ctx := cmd.Context()
	cfg, err := config.Load(ctx, flags.configPath, nil)
	if err != nil {
		return nil, ctx, err
	}
	if flags.dbPath != "" {
		cfg.DBPath = flags.dbPath
	}
	ctx = clog.WithLogger(ctx, newLogger(cfg.LogLevel))

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, ctx, fmt.Errorf("open store: %w", err)
	}
	a := &app{cfg: cfg, store: st, out: cmd.OutOrStdout(), jsonOut: flags.jsonOut}
	a.closers = append(a.closers, st)
	return a, ctx, nil
}

// openPipeline opens the store and wires a pipeline. With live set the
// configured judge and archive are built; otherwise the judge refuses every
// call, which suits commands that never reach Tier 2.
func openPipeline(cmd *cobra.Command, flags *globalFlags, live bool) (*app, context.Context, error) {
	a, ctx, err := openStore(cmd, flags)
	if err != nil {
		return nil, ctx, err
	}

	var (
		j    judge.Judge = offlineJudge{}
		opts []pipeline.Option
	)
	if live {
		if j, err = judge.NewJudge(ctx, a.cfg.Judge); err != nil {
			a.Close()
			return nil, ctx, err
		}
		if c, ok := j.(io.Closer); ok {
			a.closers = append(a.closers, c)
		}
		if a.cfg.Archive.Enabled() {
			sink, err := archive.New(ctx, a.cfg.Archive)
			if err != nil {
				a.Close()
				return nil, ctx, err
			}
			opts = append(opts, pipeline.WithArchiver(sink))
		}
	}

	if a.pipeline, err = pipeline.New(a.store, j, a.cfg.Pipeline(), opts...); err != nil {
		a.Close()
		return nil, ctx, err
	}
	return a, ctx, nil
}

// Close releases everything in reverse order of opening.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	return errors.Join(errs...)
}

// #endregion app

// #region helpers

func newLogger(level string) *clog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return clog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// offlineJudge stands in for commands that only read or resolve.
type offlineJudge struct{}

func (offlineJudge) Judge(context.Context, judge.Request) (string, error) {
	return "", fmt.Errorf("%w: no judge configured for this command", evaluation.ErrJudgeUnavailable)
}

// warnOfflineJudge flags a server running on the static judge, whose Tier 2
// scores are constant. It reports whether it warned.
func warnOfflineJudge(ctx context.Context, cfg judge.Config) bool {
	if p := strings.ToLower(cfg.Provider); p != "" && p != judge.ProviderStatic {
		return false
	}
	clog.FromContext(ctx).Warn("Judge provider is static: every Tier 2 dimension scores 4. " +
		"Set TRUSTSCORE_JUDGE_PROVIDER to anthropic, openai, gemini or grpc for real judgements")
	return true
}

// #endregion helpers
