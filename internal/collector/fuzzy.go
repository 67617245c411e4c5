package collector

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// fuzzyCutoff is the minimum similarity for a closest-name match
const fuzzyCutoff = 0.6

// closestMatch returns the index of the name most similar to q, or -1 when
// none reaches cutoff. Comparison is case-insensitive.
func closestMatch(q string, names []string, cutoff float64) int {
	best, bestScore := -1, cutoff
	q = strings.ToLower(q)
	for i, name := range names {
		score := similarity(q, strings.ToLower(name))
		if score > bestScore || (score == bestScore && best < 0) {
			best, bestScore = i, score
		}
	}
	return best
}

// similarity is the sequence matcher ratio 2*M/T over the characters of a and b
func similarity(a, b string) float64 {
	return difflib.NewMatcher(strings.Split(a, ""), strings.Split(b, "")).Ratio()
}
