// Package places implements the [correct.PlaceMatcher] interface with a
// Levenshtein similarity ratio over the configured place-name set.
//
// The score is the classic normalised edit-distance ratio on a 0–100 scale:
// 100·(1 − distance ⁄ longer length), computed case-insensitively so that a
// lower-cased transcript token still matches a capitalised place name. A
// token is only corrected when its best candidate scores at or above the
// acceptance threshold (default 85); ties go to the earlier-configured name.
package places

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/dispatchscribe/internal/correct"
)

// defaultThreshold is the minimum similarity score for a substitution.
const defaultThreshold = 85.0

// Compile-time interface check.
var _ correct.PlaceMatcher = (*Matcher)(nil)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithThreshold sets the minimum 0–100 similarity score required for a
// match. Default: 85.
func WithThreshold(threshold float64) Option {
	return func(m *Matcher) { m.threshold = threshold }
}

// Matcher scores tokens against a fixed, ordered place-name set.
// Read-only after construction and safe for concurrent use.
type Matcher struct {
	names     []string
	lowered   []string
	threshold float64
}

// New returns a Matcher over names. The order of names decides ties. A nil
// or empty set yields a matcher that never matches; callers normally skip
// constructing one in that case.
func New(names []string, opts ...Option) *Matcher {
	m := &Matcher{
		names:     names,
		lowered:   make([]string, len(names)),
		threshold: defaultThreshold,
	}
	for i, n := range names {
		m.lowered[i] = strings.ToLower(n)
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Best returns the highest-scoring place name for token and whether it meets
// the acceptance threshold.
func (m *Matcher) Best(token string) (string, float64, bool) {
	if token == "" || len(m.names) == 0 {
		return token, 0, false
	}
	lowered := strings.ToLower(token)

	best := -1
	bestScore := 0.0
	for i, name := range m.lowered {
		score := ratio(lowered, name)
		if score > bestScore {
			best = i
			bestScore = score
		}
	}
	if best < 0 || bestScore < m.threshold {
		return token, 0, false
	}
	return m.names[best], bestScore, true
}

// ratio is the normalised Levenshtein similarity of a and b on a 0–100
// scale. Identical strings score 100; strings with no characters in common
// score 0.
func ratio(a, b string) float64 {
	if a == b {
		return 100
	}
	longer := len([]rune(a))
	if l := len([]rune(b)); l > longer {
		longer = l
	}
	if longer == 0 {
		return 100
	}
	dist := matchr.Levenshtein(a, b)
	return 100 * (1 - float64(dist)/float64(longer))
}
