package replay

import (
	"math"

	"github.com/danielpatrickdp/trustscore/internal/evaluation"
	"github.com/danielpatrickdp/trustscore/internal/trust"
)

// #region types

// Action is what replay did with one stored evaluation.
type Action string

const (
	ActionRescored Action = "rescored"
	ActionSkipped  Action = "skipped"
)

// Config is the alternative scoring policy to replay under.
type Config struct {
	Trust trust.Config
	// Threshold is the pass line used to count flips.
	Threshold float64
}

// DefaultConfig replays under the default trust policy with a pass line of 70.
func DefaultConfig() Config {
	return Config{Trust: trust.DefaultConfig(), Threshold: 70}
}

// Result captures the outcome of rescoring one evaluation.
type Result struct {
	EvaluationID string            `json:"evaluation_id"`
	RunID        string            `json:"run_id"`
	Status       evaluation.Status `json:"status"`
	Action       Action            `json:"action"`
	Reason       string            `json:"reason,omitempty"`

	OldScore float64 `json:"old_score"`
	NewScore float64 `json:"new_score"`
	Delta    float64 `json:"delta"`

	// Flipped is set when the evaluation crossed Threshold in either direction.
	Flipped bool `json:"flipped"`

	Score *evaluation.TrustScore `json:"trust_score,omitempty"`
}

// Summary provides aggregate stats from a replay run.
type Summary struct {
	Total       int     `json:"total"`
	Rescored    int     `json:"rescored"`
	Skipped     int     `json:"skipped"`
	MeanOld     float64 `json:"mean_old"`
	MeanNew     float64 `json:"mean_new"`
	MeanDelta   float64 `json:"mean_delta"`
	MaxAbsDelta float64 `json:"max_abs_delta"`
	Promoted    int     `json:"promoted"`
	Demoted     int     `json:"demoted"`
}

// #endregion types

// #region replay

// Replay rescores evaluations under config without calling the judge. Only
// the stored tier results are reused, so the run is deterministic. Evaluations
// that never reached Tier 2 are skipped.
func Replay(evs []evaluation.Evaluation, config Config) []Result {
	results := make([]Result, 0, len(evs))

	for _, ev := range evs {
		r := Result{EvaluationID: ev.ID, RunID: ev.RunID, Status: ev.Status}

		switch {
		case ev.Tier1 == nil || ev.Tier2 == nil:
			r.Action = ActionSkipped
			r.Reason = "no tier results"
			results = append(results, r)
			continue
		case ev.TrustScore == nil:
			r.Action = ActionSkipped
			r.Reason = "no stored trust score"
			results = append(results, r)
			continue
		}

		score := trust.Aggregate(*ev.Tier1, *ev.Tier2, ev.Tier3, config.Trust)
		if ev.Tier3 == nil && ev.Status != evaluation.StatusAwaitingReview {
			score = trust.Final(*ev.Tier1, *ev.Tier2, config.Trust)
		}

		r.Action = ActionRescored
		r.OldScore = ev.TrustScore.Overall
		r.NewScore = score.Overall
		r.Delta = round2(score.Overall - ev.TrustScore.Overall)
		r.Flipped = (r.OldScore >= config.Threshold) != (r.NewScore >= config.Threshold)
		r.Score = &score
		results = append(results, r)
	}

	return results
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []Result, config Config) Summary {
	s := Summary{Total: len(results)}
	var oldSum, newSum float64
	for _, r := range results {
		if r.Action != ActionRescored {
			s.Skipped++
			continue
		}
		s.Rescored++
		oldSum += r.OldScore
		newSum += r.NewScore
		if abs := math.Abs(r.Delta); abs > s.MaxAbsDelta {
			s.MaxAbsDelta = abs
		}
		if r.Flipped {
			if r.NewScore >= config.Threshold {
				s.Promoted++
			} else {
				s.Demoted++
			}
		}
	}
	if s.Rescored > 0 {
		n := float64(s.Rescored)
		s.MeanOld = round2(oldSum / n)
		s.MeanNew = round2(newSum / n)
		s.MeanDelta = round2((newSum - oldSum) / n)
	}
	return s
}

// Flips counts evaluations that crossed the pass line.
func (s Summary) Flips() int {
	return s.Promoted + s.Demoted
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// #endregion replay
