package inventory

import (
	"strings"
	"unicode"

	"github.com/xrash/smetrics"
)

// DefaultMatchThreshold is the minimum Jaro-Winkler similarity, over
// normalized usernames, for a fuzzy candidate to be suggested.
const DefaultMatchThreshold = 0.55

// Jaro-Winkler tuning: the prefix boost applies once the plain Jaro score
// reaches boostThreshold, over at most prefixSize leading characters.
const (
	boostThreshold = 0.7
	prefixSize     = 4
)

// normalize lowercases s and drops all whitespace.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// similarity scores two already-normalized usernames in [0, 1].
func similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	return smetrics.JaroWinkler(a, b, boostThreshold, prefixSize)
}

// bestMatch picks among available items in stored order: an exact
// normalized match wins outright, otherwise the highest similarity at or
// above threshold. Ties keep the earlier item.
func bestMatch(items []Item, desired string, threshold float64) (Item, bool) {
	want := normalize(desired)
	if want == "" {
		return Item{}, false
	}

	for _, it := range items {
		if it.Available() && normalize(it.Username) == want {
			return it, true
		}
	}

	var best Item
	bestScore := -1.0
	for _, it := range items {
		if !it.Available() {
			continue
		}
		score := similarity(want, normalize(it.Username))
		if score >= threshold && score > bestScore {
			best, bestScore = it, score
		}
	}
	return best, bestScore >= 0
}
