package search

import (
	"sort"
	"strings"
	"time"

	"github.com/kbengine/kbengine/internal/types"
)

// scoreHit sums weightTitle/Symptom/RootCause/Solution/Environment for
// every term that occurs (case-insensitively) in each field, once per
// field however often the term repeats there.
func scoreHit(p types.Problem, terms []string) int {
	score := 0
	for _, term := range terms {
		score += hitWeight(p.Title, term, weightTitle)
		score += hitWeight(p.Symptom, term, weightSymptom)
		score += hitWeight(p.RootCause, term, weightRootCause)
		score += hitWeight(p.Solution, term, weightSolution)
		score += hitWeight(p.EnvironmentJSON, term, weightEnvironment)
	}
	return score
}

// hitWeight returns w when term occurs in field, else 0.
func hitWeight(field, term string, w int) int {
	if countOccurrences(field, term) > 0 {
		return w
	}
	return 0
}

// matchesAllTerms reports whether every term occurs, case-insensitively,
// as a substring of at least one of the five searchable fields — the
// query engine's actual match predicate (AND over terms, OR over
// fields), independent of whatever SQL candidate filter produced p.
func matchesAllTerms(p types.Problem, terms []string) bool {
	for _, term := range terms {
		hit := countOccurrences(p.Title, term) > 0 ||
			countOccurrences(p.Symptom, term) > 0 ||
			countOccurrences(p.RootCause, term) > 0 ||
			countOccurrences(p.Solution, term) > 0 ||
			countOccurrences(p.EnvironmentJSON, term) > 0
		if !hit {
			return false
		}
	}
	return true
}

func countOccurrences(field, term string) int {
	if term == "" {
		return 0
	}
	return strings.Count(strings.ToLower(field), term)
}

// snippet extracts a 100-character window starting 10 characters before
// the first matched term's first occurrence across symptom, rootCause,
// solution and environmentJson in that priority order. If no term
// matches any of those fields, an empty snippet is returned (the title
// already carries the match in that case).
func snippet(p types.Problem, terms []string) string {
	if len(terms) == 0 {
		return ""
	}
	for _, field := range []string{p.Symptom, p.RootCause, p.Solution, p.EnvironmentJSON} {
		if idx, term := firstMatch(field, terms); idx >= 0 {
			return window(field, idx, len(term))
		}
	}
	return ""
}

func firstMatch(field string, terms []string) (int, string) {
	lower := strings.ToLower(field)
	best := -1
	var bestTerm string
	for _, term := range terms {
		if idx := strings.Index(lower, term); idx >= 0 && (best < 0 || idx < best) {
			best = idx
			bestTerm = term
		}
	}
	return best, bestTerm
}

func window(field string, matchIdx, matchLen int) string {
	const (
		leadIn     = 10
		windowSize = 100
	)
	start := matchIdx - leadIn
	if start < 0 {
		start = 0
	}
	end := start + windowSize
	if end > len(field) {
		end = len(field)
	}
	snip := field[start:end]
	if start > 0 {
		snip = "…" + snip
	}
	if end < len(field) {
		snip = snip + "…"
	}
	return snip
}

// sortByScoreThenRecency orders hits by score desc, tie-broken by
// updatedAtUtc desc — the SQL query already orders by updatedAtUtc, so
// this only needs to be a stable sort on score.
func sortByScoreThenRecency(hits []types.SearchHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
