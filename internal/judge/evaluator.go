package judge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/danielpatrickdp/trustscore/internal/evaluation"
)

// #region evaluator

// Evaluator wraps a Judge with the Tier 2 failure policy: bounded per-attempt
// timeout, exponential backoff on unavailability, a single retry on malformed
// responses. Retries live here so callers only see the final outcome.
type Evaluator struct {
	judge  Judge
	config Config
	tracer trace.Tracer
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewEvaluator creates an evaluator around j.
func NewEvaluator(j Judge, config Config) *Evaluator {
	return &Evaluator{
		judge:  j,
		config: config,
		tracer: otel.Tracer("github.com/danielpatrickdp/trustscore/internal/judge"),
		sleep:  sleepCtx,
	}
}

// Config returns the active judge policy.
func (e *Evaluator) Config() Config {
	return e.config
}

// #endregion evaluator

// #region evaluate

// Evaluate scores output with the judge. On failure the returned error wraps
// ErrJudgeUnavailable or ErrJudgeMalformedResponse from the last attempt, and
// the result still reports how many attempts were made.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) (evaluation.Tier2Result, error) {
	if req.Provider == "" {
		req.Provider = e.config.Provider
	}
	if req.Model == "" {
		req.Model = e.config.Model
	}
	if req.Model == "" {
		req.Model = DefaultModel(req.Provider)
	}
	log := clog.FromContext(ctx).With("provider", req.Provider).With("model", req.Model)

	var (
		attempts         int
		unavailableTries int
		malformedTries   int
	)
	for {
		attempts++
		res, err := e.attempt(ctx, req, attempts)
		if err == nil {
			judgeAttempts.WithLabelValues(req.Provider, "ok").Inc()
			res.Attempts = attempts
			return res, nil
		}

		if ctx.Err() != nil {
			judgeAttempts.WithLabelValues(req.Provider, "cancelled").Inc()
			log.With("attempt", attempts).With("error", err.Error()).Warn("Judge attempt failed after cancellation")
			return evaluation.Tier2Result{Attempts: attempts}, unavailable("judge", ctx.Err())
		}

		var wait time.Duration
		switch {
		case errors.Is(err, evaluation.ErrJudgeMalformedResponse):
			judgeAttempts.WithLabelValues(req.Provider, "malformed").Inc()
			if malformedTries >= 1 {
				return evaluation.Tier2Result{Attempts: attempts}, err
			}
			malformedTries++
		case errors.Is(err, errPermanent):
			judgeAttempts.WithLabelValues(req.Provider, "rejected").Inc()
			return evaluation.Tier2Result{Attempts: attempts}, err
		default:
			judgeAttempts.WithLabelValues(req.Provider, "unavailable").Inc()
			if unavailableTries >= e.config.MaxRetries {
				return evaluation.Tier2Result{Attempts: attempts},
					fmt.Errorf("judge failed after %d retries: %w", e.config.MaxRetries, err)
			}
			wait = min(e.config.BaseBackoff<<unavailableTries, e.config.MaxBackoff)
			unavailableTries++
		}

		log.With("attempt", attempts).
			With("backoff", wait).
			With("error", err.Error()).
			Warn("Judge attempt failed, retrying")

		if err := e.sleep(ctx, wait); err != nil {
			return evaluation.Tier2Result{Attempts: attempts}, unavailable("judge", err)
		}
	}
}

// attempt runs one bounded judge call plus parsing.
func (e *Evaluator) attempt(ctx context.Context, req Request, n int) (evaluation.Tier2Result, error) {
	ctx, span := e.tracer.Start(ctx, "judge.attempt", trace.WithAttributes(
		attribute.String("judge.provider", req.Provider),
		attribute.String("judge.model", req.Model),
		attribute.Int("judge.attempt", n),
	))
	defer span.End()

	actx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	raw, err := e.judge.Judge(actx, req)
	if err != nil {
		if !errors.Is(err, evaluation.ErrJudgeUnavailable) && !errors.Is(err, evaluation.ErrJudgeMalformedResponse) {
			err = unavailable("judge call", err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return evaluation.Tier2Result{}, err
	}

	dims, uncertain, err := ParseResponse(raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return evaluation.Tier2Result{}, err
	}

	score := Score(dims, uncertain, e.config.UncertaintyPenalty)
	span.SetAttributes(attribute.Float64("judge.score", score), attribute.Bool("judge.uncertain", uncertain))
	return evaluation.Tier2Result{
		Dimensions:    dims,
		Uncertain:     uncertain,
		JudgeProvider: req.Provider,
		JudgeModel:    req.Model,
		Score:         score,
	}, nil
}

// #endregion evaluate

// #region helpers

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// #endregion helpers
