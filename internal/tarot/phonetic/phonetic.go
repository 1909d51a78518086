// Package phonetic maps loosely spelled or mis-heard names onto a fixed
// vocabulary using Double Metaphone phonetic codes combined with Jaro-Winkler
// similarity.
//
// The algorithm proceeds in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     each significant word of the input and of every vocabulary entry. An
//     entry whose codes overlap the input's becomes a phonetic candidate.
//
//  2. Jaro-Winkler ranking: among phonetic candidates the entry with the
//     highest similarity wins, provided it clears the phonetic threshold.
//     When no phonetic candidate exists, pure Jaro-Winkler similarity is
//     tested against every entry using the stricter fuzzy threshold.
//
// Articles and connectives ("the", "of", …) are ignored when tokenising so
// that shared filler words cannot make two different names look alike.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.80
	defaultFuzzyThreshold    = 0.88
)

// defaultStopwords are dropped before phonetic coding and pairwise scoring.
var defaultStopwords = []string{"the", "of", "a", "an"}

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched entry to be accepted. Default: 0.80.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found. Default: 0.88.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// WithStopwords replaces the list of ignored filler words.
func WithStopwords(words ...string) Option {
	return func(m *Matcher) {
		m.stopwords = make(map[string]struct{}, len(words))
		for _, w := range words {
			m.stopwords[strings.ToLower(w)] = struct{}{}
		}
	}
}

// entry is a precomputed vocabulary item.
type entry struct {
	name   string
	full   string
	tokens []string
	codes  map[string]struct{}
}

// Matcher resolves input strings against a fixed vocabulary. It is read-only
// after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	stopwords         map[string]struct{}
	entries           []entry
}

// New builds a [Matcher] over vocabulary. Codes for every entry are computed
// once here.
func New(vocabulary []string, opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	WithStopwords(defaultStopwords...)(m)
	for _, o := range opts {
		o(m)
	}

	for _, name := range vocabulary {
		tokens := m.tokenize(name)
		if len(tokens) == 0 {
			continue
		}
		m.entries = append(m.entries, entry{
			name:   name,
			full:   strings.Join(tokens, " "),
			tokens: tokens,
			codes:  codesForTokens(tokens),
		})
	}
	return m
}

// Match returns the vocabulary entry most similar to input. When matched is
// false, corrected equals input unchanged and confidence is 0.
func (m *Matcher) Match(input string) (corrected string, confidence float64, matched bool) {
	tokens := m.tokenize(input)
	if len(tokens) == 0 || len(m.entries) == 0 {
		return input, 0, false
	}
	full := strings.Join(tokens, " ")
	inputCodes := codesForTokens(tokens)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, e := range m.entries {
		score := bestJWScore(tokens, e.tokens, full, e.full)
		if codesOverlap(inputCodes, e.codes) {
			if score >= m.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = e.name, score, true
			}
		} else if !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore {
			best, bestScore = e.name, score
		}
	}

	if best == "" {
		return input, 0, false
	}
	return best, bestScore, true
}

// tokenize lowercases s, strips punctuation and drops stopwords.
func (m *Matcher) tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '\'')
	})
	out := fields[:0]
	for _, f := range fields {
		if _, skip := m.stopwords[f]; !skip {
			out = append(out, f)
		}
	}
	return out
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens, excluding empty codes.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore returns the highest Jaro-Winkler similarity of the full
// strings, their space-stripped forms, and, when both sides have the same
// number of significant words, the weakest of the aligned word pairs.
func bestJWScore(inputTokens, entryTokens []string, inputFull, entryFull string) float64 {
	score := matchr.JaroWinkler(inputFull, entryFull, false)

	if len(inputTokens) > 1 || len(entryTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(inputTokens, ""), strings.Join(entryTokens, ""), false); s > score {
			score = s
		}
	}

	if len(inputTokens) == len(entryTokens) && len(inputTokens) > 1 {
		worst := 1.0
		for i := range inputTokens {
			worst = min(worst, matchr.JaroWinkler(inputTokens[i], entryTokens[i], false))
		}
		score = max(score, worst)
	}
	return score
}
