package judge

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/danielpatrickdp/trustscore/internal/evaluation"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = time.Second
	cfg.BaseBackoff = 10 * time.Millisecond
	cfg.MaxBackoff = 25 * time.Millisecond
	return cfg
}

// newTestEvaluator records backoff waits instead of sleeping.
func newTestEvaluator(j Judge, cfg Config) (*Evaluator, *[]time.Duration) {
	e := NewEvaluator(j, cfg)
	var waits []time.Duration
	e.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return e, &waits
}

func response(scores [5]float64, uncertain bool) string {
	return fmt.Sprintf(`{"dimensions":{"accuracy":{"score":%g,"reasoning":"a"},"safety":{"score":%g,"reasoning":"s"},`+
		`"alignment":{"score":%g,"reasoning":"al"},"tone":{"score":%g,"reasoning":"t"},"conciseness":{"score":%g,"reasoning":"c"}},"uncertain":%t}`,
		scores[0], scores[1], scores[2], scores[3], scores[4], uncertain)
}

func TestEvaluateSuccess(t *testing.T) {
	j := NewStatic(Step{Raw: response([5]float64{5, 5, 3, 3, 4}, false)})
	e, waits := newTestEvaluator(j, testConfig())

	res, err := e.Evaluate(context.Background(), Request{Prompt: "p", Output: "o", Provider: "static", Model: "m"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Score != 80 {
		t.Fatalf("expected 80, got %.2f", res.Score)
	}
	if res.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", res.Attempts)
	}
	if res.JudgeProvider != "static" || res.JudgeModel != "m" {
		t.Fatalf("unexpected provider/model %s/%s", res.JudgeProvider, res.JudgeModel)
	}
	if len(*waits) != 0 {
		t.Fatalf("expected no backoff, got %v", *waits)
	}
	want := evaluation.DimensionScore{Score: 3, Reasoning: "al"}
	if diff := cmp.Diff(want, res.Dimensions[evaluation.DimensionAlignment]); diff != "" {
		t.Fatalf("alignment mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluateUncertaintyPenalty(t *testing.T) {
	j := NewStatic(Step{Raw: response([5]float64{4, 4, 4, 4, 4}, true)})
	e, _ := newTestEvaluator(j, testConfig())

	res, err := e.Evaluate(context.Background(), Request{Prompt: "p", Output: "o"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !res.Uncertain {
		t.Fatal("expected uncertain")
	}
	if res.Score != 72 {
		t.Fatalf("expected 80*0.9=72, got %.2f", res.Score)
	}
}

func TestEvaluateRetriesUnavailableWithBackoff(t *testing.T) {
	j := NewStatic(
		Step{Err: errors.New("connection reset")},
		Step{Err: errors.New("connection reset")},
		Step{Raw: response([5]float64{5, 5, 5, 5, 5}, false)},
	)
	e, waits := newTestEvaluator(j, testConfig())

	res, err := e.Evaluate(context.Background(), Request{Prompt: "p", Output: "o"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", res.Attempts)
	}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
	if diff := cmp.Diff(want, *waits); diff != "" {
		t.Fatalf("backoff mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluateUnavailableExhausted(t *testing.T) {
	steps := make([]Step, 10)
	for i := range steps {
		steps[i] = Step{Err: errors.New("503 overloaded")}
	}
	j := NewStatic(steps...)
	e, waits := newTestEvaluator(j, testConfig())

	res, err := e.Evaluate(context.Background(), Request{Prompt: "p", Output: "o"})
	if !errors.Is(err, evaluation.ErrJudgeUnavailable) {
		t.Fatalf("expected ErrJudgeUnavailable, got %v", err)
	}
	if res.Attempts != 4 || j.Calls() != 4 {
		t.Fatalf("expected 1 call + 3 retries, got attempts=%d calls=%d", res.Attempts, j.Calls())
	}
	// 10ms, 20ms, then capped at 25ms.
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 25 * time.Millisecond}
	if diff := cmp.Diff(want, *waits); diff != "" {
		t.Fatalf("backoff mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluateMalformedRetriedOnce(t *testing.T) {
	j := NewStatic(
		Step{Raw: "not json"},
		Step{Raw: `{"dimensions":{"accuracy":{"score":4,"reasoning":"x"}},"uncertain":false}`},
		Step{Raw: response([5]float64{5, 5, 5, 5, 5}, false)},
	)
	e, _ := newTestEvaluator(j, testConfig())

	res, err := e.Evaluate(context.Background(), Request{Prompt: "p", Output: "o"})
	if !errors.Is(err, evaluation.ErrJudgeMalformedResponse) {
		t.Fatalf("expected ErrJudgeMalformedResponse, got %v", err)
	}
	if res.Attempts != 2 || j.Calls() != 2 {
		t.Fatalf("expected exactly one retry, got attempts=%d calls=%d", res.Attempts, j.Calls())
	}
}

func TestEvaluateMalformedThenValid(t *testing.T) {
	j := NewStatic(
		Step{Raw: response([5]float64{6, 5, 5, 5, 5}, false)},
		Step{Raw: response([5]float64{2, 2, 2, 2, 2}, false)},
	)
	e, _ := newTestEvaluator(j, testConfig())

	res, err := e.Evaluate(context.Background(), Request{Prompt: "p", Output: "o"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Score != 40 || res.Attempts != 2 {
		t.Fatalf("expected score 40 after 2 attempts, got %.2f/%d", res.Score, res.Attempts)
	}
}

func TestEvaluatePermanentNotRetried(t *testing.T) {
	j := NewStatic(Step{Err: permanent("test", errors.New("400 bad request"))})
	e, _ := newTestEvaluator(j, testConfig())

	_, err := e.Evaluate(context.Background(), Request{Prompt: "p", Output: "o"})
	if !errors.Is(err, evaluation.ErrJudgeUnavailable) {
		t.Fatalf("expected ErrJudgeUnavailable, got %v", err)
	}
	if j.Calls() != 1 {
		t.Fatalf("expected no retry, got %d calls", j.Calls())
	}
}

type slowJudge struct{}

func (slowJudge) Judge(ctx context.Context, _ Request) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestEvaluateTimeoutIsUnavailable(t *testing.T) {
	cfg := testConfig()
	cfg.Timeout = 5 * time.Millisecond
	cfg.MaxRetries = 1
	e, waits := newTestEvaluator(slowJudge{}, cfg)

	res, err := e.Evaluate(context.Background(), Request{Prompt: "p", Output: "o"})
	if !errors.Is(err, evaluation.ErrJudgeUnavailable) {
		t.Fatalf("expected ErrJudgeUnavailable, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline cause, got %v", err)
	}
	if res.Attempts != 2 || len(*waits) != 1 {
		t.Fatalf("expected timeout retried once, attempts=%d waits=%d", res.Attempts, len(*waits))
	}
}

func TestEvaluateParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	j := NewStatic()
	e, _ := newTestEvaluator(j, testConfig())

	_, err := e.Evaluate(ctx, Request{Prompt: "p", Output: "o"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if j.Calls() != 1 {
		t.Fatalf("expected a single call, got %d", j.Calls())
	}
}

func TestEvaluateDefaultsProviderFromConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Model = "judge-model"
	e, _ := newTestEvaluator(NewStatic(), cfg)

	res, err := e.Evaluate(context.Background(), Request{Prompt: "p", Output: "o"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.JudgeProvider != ProviderStatic || res.JudgeModel != "judge-model" {
		t.Fatalf("expected config defaults, got %s/%s", res.JudgeProvider, res.JudgeModel)
	}
}

func TestEvaluateFillsProviderDefaultModel(t *testing.T) {
	cfg := testConfig()
	cfg.Provider = ProviderOpenAI
	e, _ := newTestEvaluator(NewStatic(), cfg)

	res, err := e.Evaluate(context.Background(), Request{Prompt: "p", Output: "o"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.JudgeProvider != ProviderOpenAI || res.JudgeModel != DefaultOpenAIModel {
		t.Fatalf("expected %s/%s, got %s/%s", ProviderOpenAI, DefaultOpenAIModel, res.JudgeProvider, res.JudgeModel)
	}
}

// cancellingJudge answers garbage and cancels the caller's context during the call.
type cancellingJudge struct {
	cancel context.CancelFunc
}

func (c cancellingJudge) Judge(context.Context, Request) (string, error) {
	c.cancel()
	return "not json", nil
}

func TestEvaluateCancelledAfterMalformedIsUnavailable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e, _ := newTestEvaluator(cancellingJudge{cancel: cancel}, testConfig())

	res, err := e.Evaluate(ctx, Request{Prompt: "p", Output: "o"})
	if got := evaluation.KindOf(err); got != evaluation.KindJudgeUnavailable {
		t.Fatalf("expected %s, got %s (%v)", evaluation.KindJudgeUnavailable, got, err)
	}
	if errors.Is(err, evaluation.ErrJudgeMalformedResponse) {
		t.Fatalf("cancellation should not report the earlier malformed reply: %v", err)
	}
	if !errors.Is(err, context.Canceled) || res.Attempts != 1 {
		t.Fatalf("expected context.Canceled after 1 attempt, got %v after %d", err, res.Attempts)
	}
}
