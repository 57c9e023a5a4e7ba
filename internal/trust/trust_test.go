package trust

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/danielpatrickdp/trustscore/internal/evaluation"
)

func tier2(score float64, values ...float64) evaluation.Tier2Result {
	dims := map[evaluation.Dimension]evaluation.DimensionScore{}
	for i, d := range evaluation.Dimensions {
		v := 4.0
		if i < len(values) {
			v = values[i]
		}
		dims[d] = evaluation.DimensionScore{Score: v}
	}
	return evaluation.Tier2Result{Dimensions: dims, Score: score}
}

func near(a, b float64) bool {
	return math.Abs(a-b) <= 0.01
}

func TestAggregateWithTier3(t *testing.T) {
	t1 := evaluation.Tier1Result{Passed: true, Score: 90}
	t2 := tier2(70)
	t3 := &evaluation.Tier3Result{Verdict: evaluation.VerdictApproved, Score: 100}

	ts := Aggregate(t1, t2, t3, DefaultConfig())
	want := 0.25*90 + 0.55*70 + 0.20*100
	if !near(ts.Overall, want) {
		t.Fatalf("expected %.2f, got %.2f", want, ts.Overall)
	}
	if ts.Provisional {
		t.Fatal("expected final score with tier 3")
	}
	if ts.Tier3Contribution == nil || *ts.Tier3Contribution != 20 {
		t.Fatalf("expected tier3 contribution 20, got %v", ts.Tier3Contribution)
	}
	if ts.Tier1Contribution != 22.5 || ts.Tier2Contribution != 38.5 {
		t.Fatalf("unexpected contributions %.2f/%.2f", ts.Tier1Contribution, ts.Tier2Contribution)
	}
}

func TestAggregateWithoutTier3NotRenormalized(t *testing.T) {
	t1 := evaluation.Tier1Result{Passed: true, Score: 100}
	t2 := tier2(100, 5, 5, 5, 5, 5)

	ts := Aggregate(t1, t2, nil, DefaultConfig())
	if !near(ts.Overall, 80) {
		t.Fatalf("expected capped 80, got %.2f", ts.Overall)
	}
	if !ts.Provisional || ts.Tier3Score != nil || ts.Tier3Contribution != nil {
		t.Fatalf("expected provisional score without tier 3 fields, got %+v", ts)
	}
}

func TestAggregateRenormalized(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Renormalize = true
	t1 := evaluation.Tier1Result{Passed: true, Score: 100}
	t2 := tier2(100, 5, 5, 5, 5, 5)

	ts := Aggregate(t1, t2, nil, cfg)
	if !near(ts.Overall, 100) {
		t.Fatalf("expected 100 with renormalized weights, got %.2f", ts.Overall)
	}
	if !near(ts.Weights.Tier1+ts.Weights.Tier2, 1) || ts.Weights.Tier3 != 0 {
		t.Fatalf("unexpected renormalized weights %+v", ts.Weights)
	}

	// Renormalize has no effect once a review exists.
	t3 := &evaluation.Tier3Result{Score: 20}
	withReview := Aggregate(t1, t2, t3, cfg)
	plain := Aggregate(t1, t2, t3, DefaultConfig())
	if withReview.Overall != plain.Overall {
		t.Fatalf("expected identical scores with tier 3, got %.2f vs %.2f", withReview.Overall, plain.Overall)
	}
}

func TestAggregateIdempotent(t *testing.T) {
	t1 := evaluation.Tier1Result{Passed: true, Score: 85, Violations: []evaluation.Violation{{Severity: evaluation.SeveritySoft}}}
	t2 := tier2(64, 5, 1, 3, 2, 4)
	t2.Uncertain = true
	t3 := &evaluation.Tier3Result{Verdict: evaluation.VerdictNeedsRevision, Score: 60}

	a := Aggregate(t1, t2, t3, DefaultConfig())
	b := Aggregate(t1, t2, t3, DefaultConfig())
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("aggregate not idempotent (-a +b):\n%s", diff)
	}
}

func TestConfidenceInterval(t *testing.T) {
	cfg := DefaultConfig()
	t1 := evaluation.Tier1Result{Passed: true, Score: 100}
	t3 := &evaluation.Tier3Result{Score: 100}

	// Unanimous judge, reviewed: base margin only.
	ts := Aggregate(t1, tier2(80), t3, cfg)
	if !near(ts.ConfidenceHigh-ts.ConfidenceLow, 10) {
		t.Fatalf("expected width 10, got %.2f", ts.ConfidenceHigh-ts.ConfidenceLow)
	}

	// Disagreeing judge widens the interval.
	split := Aggregate(t1, tier2(60, 5, 1, 5, 1, 3), t3, cfg)
	if split.ConfidenceHigh-split.ConfidenceLow <= ts.ConfidenceHigh-ts.ConfidenceLow {
		t.Fatal("expected wider interval for disagreeing dimensions")
	}

	// Narrow pass (soft violation) and pending review widen it further.
	narrow := evaluation.Tier1Result{Passed: true, Score: 85, Violations: []evaluation.Violation{{Severity: evaluation.SeveritySoft, Penalty: 15}}}
	pending := Aggregate(narrow, tier2(80), nil, cfg)
	wantHalf := cfg.BaseMargin + cfg.NarrowPassMargin + cfg.PendingReviewMargin
	if !near(pending.Overall-pending.ConfidenceLow, wantHalf) {
		t.Fatalf("expected half width %.2f, got %.2f", wantHalf, pending.Overall-pending.ConfidenceLow)
	}

	// Interval stays inside [0,100].
	top := Aggregate(t1, tier2(100, 5, 5, 5, 5, 5), t3, cfg)
	if top.ConfidenceHigh != 100 || top.ConfidenceLow < 0 {
		t.Fatalf("expected clamped interval, got [%.2f, %.2f]", top.ConfidenceLow, top.ConfidenceHigh)
	}
}

func TestFinalWithoutReview(t *testing.T) {
	cfg := DefaultConfig()
	t1 := evaluation.Tier1Result{Passed: true, Score: 100}

	final := Final(t1, tier2(80), cfg)
	pending := Aggregate(t1, tier2(80), nil, cfg)
	if final.Provisional {
		t.Fatal("expected a final score")
	}
	if final.Overall != pending.Overall || final.Tier3Score != nil {
		t.Fatalf("expected the same unreviewed overall, got %.2f vs %.2f", final.Overall, pending.Overall)
	}
	if !near(final.Overall-final.ConfidenceLow, cfg.BaseMargin) {
		t.Fatalf("expected half width %.2f, got %.2f", cfg.BaseMargin, final.Overall-final.ConfidenceLow)
	}
	if !near((pending.Overall-pending.ConfidenceLow)-(final.Overall-final.ConfidenceLow), cfg.PendingReviewMargin) {
		t.Fatal("expected only the pending score to carry the review margin")
	}
}

func TestDimensionBreakdown(t *testing.T) {
	ts := Aggregate(evaluation.Tier1Result{Passed: true, Score: 100}, tier2(80, 5, 4, 3, 2, 1), nil, DefaultConfig())
	want := map[evaluation.Dimension]float64{
		evaluation.DimensionAccuracy:    100,
		evaluation.DimensionSafety:      80,
		evaluation.DimensionAlignment:   60,
		evaluation.DimensionTone:        40,
		evaluation.DimensionConciseness: 20,
	}
	if diff := cmp.Diff(want, ts.Dimensions); diff != "" {
		t.Fatalf("dimension breakdown mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	cfg := DefaultConfig()
	cfg.Weights.Tier3 = 0.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected weights summing to 1.3 to be rejected")
	}
	cfg = DefaultConfig()
	cfg.Weights = evaluation.Weights{Tier1: -0.1, Tier2: 0.9, Tier3: 0.2}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected negative weight to be rejected")
	}
}
