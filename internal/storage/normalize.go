package storage

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	doiPrefixRe = regexp.MustCompile(`(?i)^https?://(dx\.)?doi\.org/`)
	doiShapeRe  = regexp.MustCompile(`^10\.\d{4,9}/\S+$`)
	openAlexRe  = regexp.MustCompile(`(?i)W\d+`)
	nonAlnumRe  = regexp.MustCompile(`[^a-z0-9]+`)
)

var nobilityParticles = map[string]bool{
	"von": true, "van": true, "de": true, "du": true,
	"der": true, "la": true, "le": true, "da": true, "dos": true, "del": true,
}

// NormalizeDOI implements spec.md §6's normalize_doi: strip whitespace, drop
// a leading "doi:", strip a doi.org URL prefix, lowercase, strip trailing
// punctuation. The result must match ^10\.\d{4,9}/\S+$ or the DOI is treated
// as absent (returns "").
func NormalizeDOI(doi string) string {
	s := strings.TrimSpace(doi)
	if s == "" {
		return ""
	}
	s = stripLeadingDOIPrefix(s)
	s = doiPrefixRe.ReplaceAllString(s, "")
	s = strings.ToLower(s)
	s = strings.TrimRight(s, ".,;")
	if !doiShapeRe.MatchString(s) {
		return ""
	}
	return s
}

func stripLeadingDOIPrefix(s string) string {
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "doi:") {
		return strings.TrimSpace(s[len("doi:"):])
	}
	return s
}

// NormalizeOpenAlexID extracts the first W\d+ match (case-insensitive) and
// uppercases the leading W, per spec.md §6.
func NormalizeOpenAlexID(id string) string {
	m := openAlexRe.FindString(id)
	if m == "" {
		return ""
	}
	return "W" + m[1:]
}

// NormalizeTitle implements spec.md §6's normalize_title: NFKD decompose,
// strip combining marks, lowercase, collapse non-[a-z0-9] runs to a single
// space, trim/collapse, then compact away all remaining non-[a-z0-9] for
// comparison.
func NormalizeTitle(title string) string {
	decomposed, _, err := transform.String(norm.NFKD, title)
	if err != nil {
		decomposed = title
	}
	stripped := stripCombiningMarks(decomposed)
	lower := strings.ToLower(stripped)
	spaced := nonAlnumRe.ReplaceAllString(lower, " ")
	spaced = strings.TrimSpace(spaced)
	fields := strings.Fields(spaced)
	compact := strings.Join(fields, "")
	return compact
}

func stripCombiningMarks(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// NormalizeAuthors implements spec.md §6's normalize_authors: for each
// author string, lowercase, take the surname (token before first comma, or
// else the last whitespace-separated token), strip punctuation, sort
// ascending, join with commas.
func NormalizeAuthors(authors []string) string {
	surnames := make([]string, 0, len(authors))
	for _, a := range authors {
		if s := surnameOf(a); s != "" {
			surnames = append(surnames, s)
		}
	}
	sort.Strings(surnames)
	return strings.Join(surnames, ",")
}

func surnameOf(author string) string {
	a := strings.ToLower(strings.TrimSpace(author))
	if a == "" {
		return ""
	}
	var surname string
	if idx := strings.Index(a, ","); idx >= 0 {
		surname = strings.TrimSpace(a[:idx])
	} else {
		tokens := strings.Fields(a)
		surname = lastNameFromTokens(tokens)
	}
	return stripPunctuation(surname)
}

// lastNameFromTokens treats a run of nobility particles immediately before
// the final token as part of the surname (e.g. "Ludwig von Beethoven" ->
// "von beethoven"), per spec.md §6.
func lastNameFromTokens(tokens []string) string {
	if len(tokens) == 0 {
		return ""
	}
	if len(tokens) == 1 {
		return tokens[0]
	}
	start := len(tokens) - 1
	for start > 0 && nobilityParticles[strings.ToLower(tokens[start-1])] {
		start--
	}
	return strings.Join(tokens[start:], " ")
}

func stripPunctuation(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
