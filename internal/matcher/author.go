package matcher

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

var nobilityParticles = map[string]bool{
	"von": true, "van": true, "de": true, "du": true,
	"der": true, "la": true, "le": true, "da": true, "dos": true, "del": true,
}

type splitName struct {
	first string // space-joined given names, "" if absent
	last  string
}

// splitAuthorName implements spec.md §4.3's name split: a comma splits
// last,first directly; otherwise nobility particles immediately before the
// final token are folded into the surname and everything else is the given
// names.
func splitAuthorName(name string) splitName {
	name = strings.TrimSpace(name)
	if name == "" {
		return splitName{}
	}
	if idx := strings.Index(name, ","); idx >= 0 {
		return splitName{
			last:  strings.TrimSpace(name[:idx]),
			first: strings.TrimSpace(name[idx+1:]),
		}
	}
	tokens := strings.Fields(name)
	if len(tokens) == 1 {
		return splitName{last: tokens[0]}
	}
	end := len(tokens) - 1
	for end > 0 && nobilityParticles[strings.ToLower(tokens[end-1])] {
		end--
	}
	return splitName{
		last:  strings.Join(tokens[end:], " "),
		first: strings.Join(tokens[:end], " "),
	}
}

// lastNameRatio is a fuzzywuzzy-style 0-100 similarity ratio: the
// Levenshtein edit distance normalized against the longer string's length.
func lastNameRatio(a, b string) float64 {
	a, b = strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	if a == "" && b == "" {
		return 100
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 100
	}
	dist := levenshtein.ComputeDistance(a, b)
	ratio := 100 * (1 - float64(dist)/float64(maxLen))
	if ratio < 0 {
		ratio = 0
	}
	return ratio
}

// partialRatio mirrors rapidfuzz's partial_ratio: slide the shorter string
// as a window across the longer one and take the best Levenshtein ratio
// over any alignment, so "J Smith" scores well against "John Smith".
func partialRatio(a, b string) float64 {
	a, b = strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	shorter, longer := a, b
	if len(a) > len(b) {
		shorter, longer = b, a
	}
	best := 0.0
	for i := 0; i+len(shorter) <= len(longer); i++ {
		window := longer[i : i+len(shorter)]
		dist := levenshtein.ComputeDistance(shorter, window)
		ratio := 100 * (1 - float64(dist)/float64(len(shorter)))
		if ratio > best {
			best = ratio
		}
	}
	return best
}

func leadingInitials(names string) string {
	var b strings.Builder
	for _, tok := range strings.Fields(names) {
		r := []rune(tok)
		if len(r) > 0 {
			b.WriteRune(r[0])
		}
	}
	return strings.ToUpper(b.String())
}

// authorPairScore implements spec.md §4.3's per-pair score: the last-name
// ratio gates the whole pair (must exceed 85 or the pair scores 0); matching
// leading initials short-circuits to a perfect score; otherwise a weighted
// blend of last-name and first-name similarity.
func authorPairScore(ref, candidate string) float64 {
	a, b := splitAuthorName(ref), splitAuthorName(candidate)
	lastRatio := lastNameRatio(a.last, b.last)
	if lastRatio <= 85 {
		return 0
	}
	if a.first != "" && b.first != "" && leadingInitials(a.first) == leadingInitials(b.first) {
		return 1.0
	}
	firstRatio := partialRatio(a.first, b.first)
	score := 0.7*(lastRatio/100) + 0.3*(firstRatio/100)
	if score > 1 {
		score = 1
	}
	return score
}

// authorMatchScore implements spec.md §4.3's aggregate/branch rules: score
// every (reference name, candidate author) pair, keep the top N where N is
// the number of reference names in this branch, average them, and take the
// max across the author and editor branches.
func authorMatchScore(refAuthors, refEditors, candidateAuthors []string) float64 {
	authorBranch := branchScore(refAuthors, candidateAuthors)
	editorBranch := branchScore(refEditors, candidateAuthors)
	if editorBranch > authorBranch {
		return editorBranch
	}
	return authorBranch
}

func branchScore(refNames, candidateAuthors []string) float64 {
	if len(refNames) == 0 || len(candidateAuthors) == 0 {
		return 0
	}
	pairs := make([]float64, 0, len(refNames)*len(candidateAuthors))
	for _, r := range refNames {
		for _, c := range candidateAuthors {
			pairs = append(pairs, authorPairScore(r, c))
		}
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(pairs)))

	n := len(refNames)
	if n > len(pairs) {
		n = len(pairs)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += pairs[i]
	}
	return sum / float64(n)
}
