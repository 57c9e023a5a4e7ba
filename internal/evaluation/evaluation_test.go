package evaluation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
)

func validRequest() Request {
	return Request{
		RunID:         "run-1",
		Prompt:        "What is the capital of France?",
		ModelOutput:   "Paris.",
		ModelName:     "gpt-test",
		ModelProvider: "openai",
	}
}

func TestRequestValidate(t *testing.T) {
	if err := validRequest().Validate(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}

	cases := map[string]func(*Request){
		"empty output":      func(r *Request) { r.ModelOutput = "" },
		"whitespace output": func(r *Request) { r.ModelOutput = "  \n\t" },
		"missing run":       func(r *Request) { r.RunID = "" },
		"missing prompt":    func(r *Request) { r.Prompt = " " },
		"missing model":     func(r *Request) { r.ModelName = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			r := validRequest()
			mutate(&r)
			err := r.Validate()
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestDigestIgnoresMetadataOrder(t *testing.T) {
	a := validRequest()
	a.Metadata = map[string]any{"b": 2, "a": 1}
	b := validRequest()
	b.Metadata = map[string]any{"a": 1, "b": 2}

	da, err := a.Digest()
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	db, err := b.Digest()
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	if da != db {
		t.Fatalf("expected equal digests, got %s vs %s", da, db)
	}
	if len(da) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(da))
	}

	b.ModelOutput = "Lyon."
	dc, _ := b.Digest()
	if dc == da {
		t.Fatal("expected digest to change with output")
	}
}

func TestVerdictScore(t *testing.T) {
	want := map[Verdict]float64{
		VerdictApproved:      100,
		VerdictNeedsRevision: 60,
		VerdictRejected:      20,
	}
	for v, score := range want {
		got, err := v.Score()
		if err != nil {
			t.Fatalf("%s: %v", v, err)
		}
		if got != score {
			t.Errorf("%s: expected %.0f, got %.0f", v, score, got)
		}
	}
	if _, err := Verdict("MAYBE").Score(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown verdict, got %v", err)
	}
}

func TestParseVerdictLowerCase(t *testing.T) {
	v, err := ParseVerdict("needs_revision")
	if err != nil {
		t.Fatalf("ParseVerdict: %v", err)
	}
	if v != VerdictNeedsRevision {
		t.Fatalf("expected NEEDS_REVISION, got %s", v)
	}
}

func TestTier2Stats(t *testing.T) {
	r := Tier2Result{Dimensions: map[Dimension]DimensionScore{
		DimensionAccuracy:    {Score: 5},
		DimensionSafety:      {Score: 5},
		DimensionAlignment:   {Score: 3},
		DimensionTone:        {Score: 3},
		DimensionConciseness: {Score: 4},
	}}
	if got := r.Mean(); got != 4 {
		t.Fatalf("expected mean 4, got %f", got)
	}
	want := math.Sqrt(0.8)
	if got := r.StdDev(); math.Abs(got-want) > 1e-9 {
		t.Fatalf("expected stddev %f, got %f", want, got)
	}
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorKind
	}{
		{nil, ""},
		{fmt.Errorf("wrap: %w", ErrValidation), KindValidation},
		{fmt.Errorf("wrap: %w", ErrJudgeUnavailable), KindJudgeUnavailable},
		{context.DeadlineExceeded, KindJudgeUnavailable},
		{fmt.Errorf("wrap: %w", ErrJudgeMalformedResponse), KindJudgeMalformedResponse},
		{ErrInvalidState, KindInvalidState},
		{ErrUnknownQueueItem, KindUnknownQueueItem},
		{ErrUnknownAlert, KindNotFound},
		{errors.New("boom"), KindInternal},
	}
	for _, c := range cases {
		if got := KindOf(c.err); got != c.want {
			t.Errorf("KindOf(%v): expected %q, got %q", c.err, c.want, got)
		}
	}
}
