package rules

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/danielpatrickdp/trustscore/internal/evaluation"
)

// #region patterns

type piiPattern struct {
	name string
	re   *regexp.Regexp
}

// piiPatterns are checked in this order; one violation per kind found.
var piiPatterns = []piiPattern{
	{"email", regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"phone", regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`)},
	{"credit_card", regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`)},
}

var wordRe = regexp.MustCompile(`\b\w+\b`)

// #endregion patterns

// #region evaluator

// Evaluator runs the Tier 1 rule checks. It is safe for concurrent use.
type Evaluator struct {
	config    Config
	blocklist map[string]struct{}

	// Rouge and Bleu are the reference metrics; replaceable before first use.
	Rouge SimilarityFunc
	Bleu  SimilarityFunc
}

// NewEvaluator creates a rule evaluator with ROUGE-L and BLEU as reference metrics.
func NewEvaluator(config Config) *Evaluator {
	words := config.Blocklist
	if len(words) == 0 {
		words = DefaultBlocklist
	}
	block := make(map[string]struct{}, len(words))
	for _, w := range words {
		block[strings.ToLower(strings.TrimSpace(w))] = struct{}{}
	}
	return &Evaluator{
		config:    config,
		blocklist: block,
		Rouge:     RougeL,
		Bleu:      Bleu,
	}
}

// Config returns the active penalty policy.
func (e *Evaluator) Config() Config {
	return e.config
}

// #endregion evaluator

// #region evaluate

// Evaluate checks output and, when groundTruth is non-empty, scores it
// against the reference. No I/O; never fails.
func (e *Evaluator) Evaluate(output, groundTruth string) evaluation.Tier1Result {
	if strings.TrimSpace(output) == "" {
		return evaluation.Tier1Result{
			Passed: false,
			Violations: []evaluation.Violation{{
				Kind:     evaluation.ViolationEmptyOutput,
				Severity: evaluation.SeverityHard,
				Detail:   "output is empty",
				Penalty:  100,
			}},
			Score: 0,
		}
	}

	var violations []evaluation.Violation

	// 1. PII
	for _, p := range piiPatterns {
		if p.re.MatchString(output) {
			violations = append(violations, evaluation.Violation{
				Kind:     evaluation.ViolationPII,
				Severity: evaluation.SeverityHard,
				Detail:   p.name,
				Penalty:  e.config.PIIPenalty,
			})
		}
	}

	// 2. Blocklist
	if found := e.blockedWords(output); len(found) > 0 {
		violations = append(violations, evaluation.Violation{
			Kind:     evaluation.ViolationProfanity,
			Severity: evaluation.SeverityHard,
			Detail:   strings.Join(found, ","),
			Penalty:  e.config.ProfanityPenalty,
		})
	}

	// 3. Length
	tokens := CountTokens(output)
	if tokens > e.config.TokenLimit {
		violations = append(violations, evaluation.Violation{
			Kind:     evaluation.ViolationTokenLimit,
			Severity: evaluation.SeveritySoft,
			Detail:   fmt.Sprintf("%d tokens exceeds limit %d", tokens, e.config.TokenLimit),
			Penalty:  e.config.LengthPenalty,
		})
	}

	passed := true
	var penalty float64
	for _, v := range violations {
		penalty += v.Penalty
		if v.Severity == evaluation.SeverityHard {
			passed = false
		}
	}

	res := evaluation.Tier1Result{
		Passed:     passed,
		Violations: violations,
		TokenCount: tokens,
	}

	var bonus float64
	if strings.TrimSpace(groundTruth) != "" {
		rouge := clamp01(e.Rouge(output, groundTruth))
		bleu := clamp01(e.Bleu(output, groundTruth))
		res.RougeScore = &rouge
		res.BleuScore = &bleu
		bonus = e.config.ReferenceBonus * rouge
	}

	// Clean outputs already sit at 100; the bonus only offsets penalties.
	score := 100.0
	if penalty > 0 {
		score = math.Max(0, math.Min(100, 100-penalty+bonus))
	}
	res.Score = math.Round(score*100) / 100
	return res
}

// #endregion evaluate

// #region helpers

// CountTokens is a whitespace tokenizer.
func CountTokens(s string) int {
	return len(strings.Fields(s))
}

func (e *Evaluator) blockedWords(s string) []string {
	seen := make(map[string]struct{})
	for _, w := range wordRe.FindAllString(strings.ToLower(s), -1) {
		if _, ok := e.blocklist[w]; ok {
			seen[w] = struct{}{}
		}
	}
	found := make([]string, 0, len(seen))
	for w := range seen {
		found = append(found, w)
	}
	sort.Strings(found)
	return found
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// #endregion helpers
