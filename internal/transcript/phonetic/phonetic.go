// Package phonetic matches spoken phrases against a small vocabulary of
// product names using Double Metaphone codes and Jaro-Winkler similarity.
//
// A phrase is a candidate for a term when the Double Metaphone code of the
// phrase (tokens concatenated, so "mil vus" and "milvus" encode alike) shares a
// primary or secondary code with the term. Candidates are accepted when their
// Jaro-Winkler score reaches the phonetic threshold. Single-token phrases
// without a shared code can still match on spelling alone when they clear the
// stricter fuzzy threshold.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.75
	defaultFuzzyThreshold    = 0.90
	defaultMinLength         = 4
)

// Vocabulary is a precomputed term list. It is read-only after Prepare and
// safe for concurrent use.
type Vocabulary struct {
	entries  []entry
	maxWords int
}

type entry struct {
	term   string
	joined string
	codes  [2]string
}

// Prepare lowercases, encodes and stores terms. Blank terms are skipped.
func Prepare(terms []string) *Vocabulary {
	v := &Vocabulary{}
	for _, t := range terms {
		tokens := strings.Fields(strings.ToLower(t))
		if len(tokens) == 0 {
			continue
		}
		joined := strings.Join(tokens, "")
		p, s := matchr.DoubleMetaphone(joined)
		v.entries = append(v.entries, entry{term: strings.TrimSpace(t), joined: joined, codes: [2]string{p, s}})
		v.maxWords = max(v.maxWords, len(tokens))
	}
	return v
}

// Terms returns the canonical spellings in the order they were prepared.
func (v *Vocabulary) Terms() []string {
	out := make([]string, len(v.entries))
	for i, e := range v.entries {
		out[i] = e.term
	}
	return out
}

// MaxWords is the largest number of words in any term.
func (v *Vocabulary) MaxWords() int { return v.maxWords }

// Len is the number of terms.
func (v *Vocabulary) Len() int { return len(v.entries) }

// Option configures a Matcher.
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a phrase that
// shares a Double Metaphone code with a term. Default: 0.75.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a single word
// that shares no code with any term. Default: 0.90.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// WithMinLength sets the minimum number of letters a phrase needs before it is
// considered at all. Short words such as "is" or "mill" are never rewritten.
// Default: 4.
func WithMinLength(n int) Option {
	return func(m *Matcher) { m.minLength = n }
}

// Matcher scores phrases against a Vocabulary. It holds no mutable state.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	minLength         int
}

// New returns a Matcher with the default thresholds.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
		minLength:         defaultMinLength,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match returns the vocabulary term that phrase most likely is. When ok is
// false, term equals phrase and score is 0.
func (m *Matcher) Match(phrase string, v *Vocabulary) (term string, score float64, ok bool) {
	tokens := strings.Fields(strings.ToLower(phrase))
	joined := strings.Join(tokens, "")
	if v == nil || len(v.entries) == 0 || len(joined) < m.minLength {
		return phrase, 0, false
	}
	p, s := matchr.DoubleMetaphone(joined)
	codes := [2]string{p, s}

	var (
		best      entry
		bestScore float64
		bestCode  bool
	)
	for _, e := range v.entries {
		shared := sharesCode(codes, e.codes)
		if !shared && len(tokens) > 1 {
			// Multi-word windows only match by sound; spelling alone would let
			// "the milvus" swallow its article.
			continue
		}
		jw := matchr.JaroWinkler(joined, e.joined, false)
		threshold := m.fuzzyThreshold
		if shared {
			threshold = m.phoneticThreshold
		}
		if jw < threshold {
			continue
		}
		// A phonetic candidate always beats a spelling-only one.
		if (shared && !bestCode) || (shared == bestCode && jw > bestScore) {
			best, bestScore, bestCode = e, jw, shared
		}
	}
	if bestScore == 0 {
		return phrase, 0, false
	}
	return best.term, bestScore, true
}

func sharesCode(a, b [2]string) bool {
	for _, x := range a {
		if x == "" {
			continue
		}
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
