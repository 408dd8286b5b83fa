// Package correct implements the deterministic post-processing pass applied
// to raw engine output before it is persisted or notified.
//
// Raw speech-to-text output of dispatch radio traffic carries predictable
// defects: whole-transcript repetition hallucinated from silence or tone,
// the dispatcher's announcement preamble, long vowel runs transcribed from
// alert tones, and consistently misheard local names. The [Corrector]
// applies fixed stages in a fixed order:
//
//  1. Hallucination guard — runs on the raw, untrimmed text because the
//     token-share ratio it checks is defeated by prior trimming.
//  2. Dispatcher header stripping (optional).
//  3. Tone-artifact removal and whitespace collapse.
//  4. Exact phrase corrections, in configured order.
//  5. Fuzzy place-name correction (only when a matcher is attached).
//
// Exact correction runs before fuzzy matching so that a configured exact
// rule pre-empts a fuzzy near-miss on the same phrase.
//
// Apply is a pure function over the rule set; a Corrector is read-only after
// construction and safe for concurrent use.
package correct

import (
	"regexp"
	"strings"

	"github.com/MrWong99/dispatchscribe/internal/config"
)

// Sentinel is returned in place of a transcript when the hallucination guard
// trips. It is a defined output, not an error; the recording is still
// ledgered and committed.
const Sentinel = "[HALLUCINATION DETECTED - LIKELY SILENCE OR POOR AUDIO]"

const (
	// Guard thresholds: more than minGuardTokens tokens with one token
	// holding more than a maxTokenShare of them reads as looped output.
	minGuardTokens = 10
	maxTokenShare  = 0.4
)

var (
	// headerRe matches a leading dispatcher announcement such as
	// "Marinette County Dispatch to Wausaukee Rescue,".
	headerRe = regexp.MustCompile(`(?i)^.*?(?:county\s+)?dispatch\s+(?:to|with)\s+\w+\s+(?:rescue|fire|ambulance|ems)[.,]?\s*`)

	// residualUnitRe strips a unit-type fragment the header match can leave
	// at the start, e.g. "Rescue." when the announcement names two units.
	residualUnitRe = regexp.MustCompile(`(?i)^(?:rescue|fire|ambulance|ems)[.,\s]+`)

	// leadingPunctRe strips leftover punctuation after header removal.
	leadingPunctRe = regexp.MustCompile(`^[\s,.\-:]+`)

	// toneRe matches vowel runs produced by transcribing alert tones,
	// e.g. "OOOOOOO", "Boooooo".
	toneRe = regexp.MustCompile(`\b[BObo]+[Oo]{4,}\b`)

	multiSpaceRe = regexp.MustCompile(`\s{2,}`)
)

// PlaceMatcher resolves a single token to a known place name by string
// similarity. It is an optional capability: when no matcher is attached the
// fuzzy stage is skipped entirely.
//
// Implementations must be safe for concurrent use.
type PlaceMatcher interface {
	// Best returns the best-matching place name for token, its similarity
	// score on a 0–100 scale, and whether the score met the matcher's
	// acceptance threshold. When ok is false the token passes through
	// unchanged.
	Best(token string) (name string, score float64, ok bool)
}

// Corrector applies the correction stages. Read-only after construction.
type Corrector struct {
	rules        config.CorrectionRules
	stripHeaders bool
	places       PlaceMatcher
}

// Option is a functional option for configuring a Corrector.
type Option func(*Corrector)

// WithPlaceMatcher attaches the fuzzy place-name stage. When nil (the
// default) the stage is skipped.
func WithPlaceMatcher(m PlaceMatcher) Option {
	return func(c *Corrector) { c.places = m }
}

// WithHeaderStripping toggles dispatcher header removal. Default: enabled.
func WithHeaderStripping(enabled bool) Option {
	return func(c *Corrector) { c.stripHeaders = enabled }
}

// New constructs a Corrector over the given exact-correction rules.
func New(rules config.CorrectionRules, opts ...Option) *Corrector {
	c := &Corrector{
		rules:        rules,
		stripHeaders: true,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Apply runs the full correction pipeline over raw engine output and returns
// the corrected text.
func (c *Corrector) Apply(raw string) string {
	if isHallucination(raw) {
		return Sentinel
	}

	text := raw
	if c.stripHeaders {
		text = stripDispatcherHeader(text)
	}

	text = toneRe.ReplaceAllString(text, "")
	text = strings.TrimSpace(multiSpaceRe.ReplaceAllString(text, " "))

	text = c.applyExact(text)

	if c.places != nil {
		text = c.fuzzyCorrectPlaces(text)
	}
	return text
}

// isHallucination reports whether the token distribution of text looks like
// engine repetition rather than speech: more than minGuardTokens tokens with
// the most frequent token's share above maxTokenShare.
func isHallucination(text string) bool {
	tokens := strings.Fields(text)
	if len(tokens) <= minGuardTokens {
		return false
	}
	counts := make(map[string]int, len(tokens))
	top := 0
	for _, t := range tokens {
		counts[t]++
		if counts[t] > top {
			top = counts[t]
		}
	}
	return float64(top) > float64(len(tokens))*maxTokenShare
}

// stripDispatcherHeader removes the leading dispatcher announcement and any
// residual fragments it leaves behind. Applying it to its own output is a
// no-op: one pass removes every recognisable header form.
func stripDispatcherHeader(text string) string {
	loc := headerRe.FindStringIndex(text)
	if loc == nil {
		return text
	}
	cleaned := strings.TrimSpace(text[loc[1]:])
	cleaned = residualUnitRe.ReplaceAllString(cleaned, "")
	cleaned = leadingPunctRe.ReplaceAllString(cleaned, "")
	return cleaned
}

// applyExact replaces each configured phrase left to right, in rule order,
// covering the as-given, lowercase and uppercase variants. Later rules act
// on the output of earlier ones.
func (c *Corrector) applyExact(text string) string {
	for _, rule := range c.rules {
		text = strings.ReplaceAll(text, rule.Wrong, rule.Right)
		text = strings.ReplaceAll(text, strings.ToLower(rule.Wrong), rule.Right)
		text = strings.ReplaceAll(text, strings.ToUpper(rule.Wrong), strings.ToUpper(rule.Right))
	}
	return text
}

// trailingPunct is the punctuation preserved around fuzzy substitutions.
const trailingPunct = ".,!?;:"

// fuzzyCorrectPlaces substitutes tokens that closely match a known place
// name, preserving each token's trailing punctuation.
func (c *Corrector) fuzzyCorrectPlaces(text string) string {
	words := strings.Fields(text)
	for i, word := range words {
		clean := strings.TrimRight(word, trailingPunct)
		if clean == "" {
			continue
		}
		name, _, ok := c.places.Best(clean)
		if !ok {
			continue
		}
		words[i] = name + word[len(clean):]
	}
	return strings.Join(words, " ")
}
