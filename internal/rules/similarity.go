package rules

import (
	"math"
	"strings"
	"unicode"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// #region tokenize

// tokenize lower-cases s and splits it on anything that is not a letter or digit.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// #endregion tokenize

// #region rouge

// RougeL returns the ROUGE-L F1 between candidate and reference at word level.
func RougeL(candidate, reference string) float64 {
	c := tokenize(candidate)
	r := tokenize(reference)
	if len(c) == 0 || len(r) == 0 {
		return 0
	}
	lcs := lcsLength(c, r)
	if lcs == 0 {
		return 0
	}
	precision := float64(lcs) / float64(len(c))
	recall := float64(lcs) / float64(len(r))
	return 2 * precision * recall / (precision + recall)
}

// lcsLength derives the longest common subsequence from an insert/delete-only
// edit distance: with substitution priced at ins+del, dist = n + m - 2*lcs.
// Words are interned to runes so the rune-level distance works on tokens.
func lcsLength(a, b []string) int {
	vocab := make(map[string]rune, len(a)+len(b))
	intern := func(words []string) []rune {
		out := make([]rune, len(words))
		for i, w := range words {
			r, ok := vocab[w]
			if !ok {
				r = rune(len(vocab))
				vocab[w] = r
			}
			out[i] = r
		}
		return out
	}
	ra, rb := intern(a), intern(b)
	dist := levenshtein.DistanceForStrings(ra, rb, levenshtein.Options{
		InsCost: 1,
		DelCost: 1,
		SubCost: 2,
		Matches: levenshtein.IdenticalRunes,
	})
	return (len(ra) + len(rb) - dist) / 2
}

// #endregion rouge

// #region bleu

const (
	bleuMaxOrder = 4
	bleuEpsilon  = 0.1 // zero-count smoothing numerator
)

// Bleu returns sentence-level BLEU-4 with uniform weights, epsilon smoothing
// for empty n-gram orders, and the standard brevity penalty.
func Bleu(candidate, reference string) float64 {
	c := tokenize(candidate)
	r := tokenize(reference)
	if len(c) == 0 || len(r) == 0 {
		return 0
	}

	var logSum float64
	for n := 1; n <= bleuMaxOrder; n++ {
		matches, total := clippedMatches(c, r, n)
		if n == 1 && matches == 0 {
			return 0
		}
		num := float64(matches)
		if matches == 0 {
			num = bleuEpsilon
		}
		logSum += math.Log(num/float64(max(1, total))) / bleuMaxOrder
	}

	bp := 1.0
	if len(c) < len(r) {
		bp = math.Exp(1 - float64(len(r))/float64(len(c)))
	}
	return bp * math.Exp(logSum)
}

func clippedMatches(candidate, reference []string, n int) (matches, total int) {
	refCounts := ngramCounts(reference, n)
	for gram, count := range ngramCounts(candidate, n) {
		total += count
		matches += min(count, refCounts[gram])
	}
	return matches, total
}

func ngramCounts(tokens []string, n int) map[string]int {
	counts := make(map[string]int)
	for i := 0; i+n <= len(tokens); i++ {
		counts[strings.Join(tokens[i:i+n], "\x00")]++
	}
	return counts
}

// #endregion bleu
