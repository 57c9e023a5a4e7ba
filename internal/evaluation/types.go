package evaluation

import (
	"math"
	"strings"
	"time"
)

// #region request

// Request is the immutable input to one evaluation. RunID is caller-supplied
// and shared by every evaluation belonging to the same run.
type Request struct {
	RunID         string         `json:"run_id"`
	Prompt        string         `json:"prompt"`
	ModelOutput   string         `json:"model_output"`
	GroundTruth   string         `json:"ground_truth,omitempty"`
	ModelName     string         `json:"model_name"`
	ModelProvider string         `json:"model_provider"`
	DatasetName   string         `json:"dataset_name,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Validate rejects requests that must never reach a tier.
func (r Request) Validate() error {
	switch {
	case strings.TrimSpace(r.RunID) == "":
		return validationf("run_id is required")
	case strings.TrimSpace(r.Prompt) == "":
		return validationf("prompt is required")
	case strings.TrimSpace(r.ModelOutput) == "":
		return validationf("model_output is empty")
	case strings.TrimSpace(r.ModelName) == "":
		return validationf("model_name is required")
	}
	return nil
}

// #endregion request

// #region status

// Status is the lifecycle position of an Evaluation.
type Status string

const (
	StatusCreated        Status = "CREATED"
	StatusTier1Done      Status = "TIER1_DONE"
	StatusTier2Done      Status = "TIER2_DONE"
	StatusAwaitingReview Status = "AWAITING_REVIEW"
	StatusCompleted      Status = "COMPLETED"
	StatusFailed         Status = "FAILED"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// #endregion status

// #region evaluation

// Evaluation is the aggregate root persisted between pipeline calls.
type Evaluation struct {
	ID           string       `json:"id"`
	RunID        string       `json:"run_id"`
	Request      Request      `json:"request"`
	InputDigest  string       `json:"input_digest"`
	Status       Status       `json:"status"`
	Tier1        *Tier1Result `json:"tier1,omitempty"`
	Tier2        *Tier2Result `json:"tier2,omitempty"`
	Tier3        *Tier3Result `json:"tier3,omitempty"`
	TrustScore   *TrustScore  `json:"trust_score,omitempty"`
	ErrorKind    ErrorKind    `json:"error_kind,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
}

// #endregion evaluation

// #region tier1

// ViolationKind names the rule that fired.
type ViolationKind string

const (
	ViolationEmptyOutput ViolationKind = "EMPTY_OUTPUT"
	ViolationPII         ViolationKind = "PII"
	ViolationProfanity   ViolationKind = "PROFANITY"
	ViolationTokenLimit  ViolationKind = "TOKEN_LIMIT"
)

// Severity separates violations that fail Tier 1 from those that only cost score.
type Severity string

const (
	SeverityHard Severity = "hard"
	SeveritySoft Severity = "soft"
)

// Violation is a single Tier 1 finding.
type Violation struct {
	Kind     ViolationKind `json:"kind"`
	Severity Severity      `json:"severity"`
	Detail   string        `json:"detail"`
	Penalty  float64       `json:"penalty"`
}

// Tier1Result is the outcome of the rule checks.
type Tier1Result struct {
	Passed     bool        `json:"passed"`
	Violations []Violation `json:"violations"`
	TokenCount int         `json:"token_count"`
	RougeScore *float64    `json:"rouge_score,omitempty"`
	BleuScore  *float64    `json:"bleu_score,omitempty"`
	Score      float64     `json:"score"`
}

// HasSoftViolations reports whether any non-failing rule fired.
func (r Tier1Result) HasSoftViolations() bool {
	for _, v := range r.Violations {
		if v.Severity == SeveritySoft {
			return true
		}
	}
	return false
}

// #endregion tier1

// #region tier2

// Dimension is one of the fixed judge scoring axes.
type Dimension string

const (
	DimensionAccuracy    Dimension = "accuracy"
	DimensionSafety      Dimension = "safety"
	DimensionAlignment   Dimension = "alignment"
	DimensionTone        Dimension = "tone"
	DimensionConciseness Dimension = "conciseness"
)

// Dimensions is the complete, ordered dimension set every judge response must cover.
var Dimensions = []Dimension{
	DimensionAccuracy,
	DimensionSafety,
	DimensionAlignment,
	DimensionTone,
	DimensionConciseness,
}

// DimensionScore is a single judge score on the 1-5 scale.
type DimensionScore struct {
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning"`
}

// Tier2Result is the parsed judge verdict.
type Tier2Result struct {
	Dimensions    map[Dimension]DimensionScore `json:"dimensions"`
	Uncertain     bool                         `json:"uncertain"`
	JudgeProvider string                       `json:"judge_provider"`
	JudgeModel    string                       `json:"judge_model"`
	Attempts      int                          `json:"attempts"`
	Score         float64                      `json:"score"`
}

// Mean returns the unweighted mean of the dimension scores.
func (r Tier2Result) Mean() float64 {
	if len(r.Dimensions) == 0 {
		return 0
	}
	var sum float64
	for _, d := range r.Dimensions {
		sum += d.Score
	}
	return sum / float64(len(r.Dimensions))
}

// Variance returns the population variance of the dimension scores.
func (r Tier2Result) Variance() float64 {
	if len(r.Dimensions) == 0 {
		return 0
	}
	mean := r.Mean()
	var sq float64
	for _, d := range r.Dimensions {
		sq += (d.Score - mean) * (d.Score - mean)
	}
	return sq / float64(len(r.Dimensions))
}

// StdDev is the square root of Variance.
func (r Tier2Result) StdDev() float64 {
	return math.Sqrt(r.Variance())
}

// #endregion tier2

// #region tier3

// Verdict is a human reviewer's decision.
type Verdict string

const (
	VerdictApproved      Verdict = "APPROVED"
	VerdictNeedsRevision Verdict = "NEEDS_REVISION"
	VerdictRejected      Verdict = "REJECTED"
)

// ParseVerdict accepts the canonical upper-case names and their lower-case forms.
func ParseVerdict(s string) (Verdict, error) {
	v := Verdict(strings.ToUpper(strings.TrimSpace(s)))
	if _, err := v.Score(); err != nil {
		return "", err
	}
	return v, nil
}

// Score maps a verdict onto the 0-100 scale.
func (v Verdict) Score() (float64, error) {
	switch v {
	case VerdictApproved:
		return 100, nil
	case VerdictNeedsRevision:
		return 60, nil
	case VerdictRejected:
		return 20, nil
	}
	return 0, validationf("unknown verdict %q", string(v))
}

// Tier3Result is produced only when a reviewer resolves a queued item.
type Tier3Result struct {
	Verdict         Verdict   `json:"verdict"`
	Notes           string    `json:"notes"`
	ReviewerID      string    `json:"reviewer_id,omitempty"`
	CorrectedOutput string    `json:"corrected_output,omitempty"`
	ReviewedAt      time.Time `json:"reviewed_at"`
	Score           float64   `json:"score"`
}

// #endregion tier3

// #region review-item

// ReviewQueueItem is a pending human-review request.
type ReviewQueueItem struct {
	EvaluationID string     `json:"evaluation_id"`
	Priority     int        `json:"priority"`
	Reason       string     `json:"reason"`
	EnqueuedAt   time.Time  `json:"enqueued_at"`
	ClaimedAt    *time.Time `json:"claimed_at,omitempty"`
}

// #endregion review-item

// #region trust-score

// Weights are the per-tier aggregation weights.
type Weights struct {
	Tier1 float64 `json:"tier1" yaml:"tier1" env:"TIER1, default=0.25"`
	Tier2 float64 `json:"tier2" yaml:"tier2" env:"TIER2, default=0.55"`
	Tier3 float64 `json:"tier3" yaml:"tier3" env:"TIER3, default=0.20"`
}

// TrustScore is the aggregated 0-100 result with its breakdown.
type TrustScore struct {
	Overall           float64               `json:"overall"`
	Tier1Score        float64               `json:"tier1_score"`
	Tier2Score        float64               `json:"tier2_score"`
	Tier3Score        *float64              `json:"tier3_score,omitempty"`
	Tier1Contribution float64               `json:"tier1_contribution"`
	Tier2Contribution float64               `json:"tier2_contribution"`
	Tier3Contribution *float64              `json:"tier3_contribution,omitempty"`
	Weights           Weights               `json:"weights"`
	Dimensions        map[Dimension]float64 `json:"dimensions"`
	ConfidenceLow     float64               `json:"confidence_low"`
	ConfidenceHigh    float64               `json:"confidence_high"`
	Provisional       bool                  `json:"provisional"`
}

// #endregion trust-score

// #region drift

// DriftSeverity grades a drift alert.
type DriftSeverity string

const (
	DriftWarning  DriftSeverity = "WARNING"
	DriftCritical DriftSeverity = "CRITICAL"
)

// DriftPoint is one append-only time-series sample.
type DriftPoint struct {
	MetricName string    `json:"metric_name"`
	Value      float64   `json:"value"`
	Timestamp  time.Time `json:"timestamp"`
}

// DriftAlert is raised when the latest point leaves the baseline band.
type DriftAlert struct {
	ID             string        `json:"id"`
	MetricName     string        `json:"metric_name"`
	Latest         float64       `json:"latest"`
	Baseline       float64       `json:"baseline"`
	AbsoluteDelta  float64       `json:"absolute_delta"`
	RelativeDelta  *float64      `json:"relative_delta,omitempty"`
	Severity       DriftSeverity `json:"severity"`
	Message        string        `json:"message"`
	TriggeredAt    time.Time     `json:"triggered_at"`
	Acknowledged   bool          `json:"acknowledged"`
	AcknowledgedAt *time.Time    `json:"acknowledged_at,omitempty"`
}

// #endregion drift
