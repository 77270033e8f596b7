// Package transcript fixes recogniser mistakes on product vocabulary before a
// final transcript reaches the router.
//
// Hosted recognisers reliably mishear names such as "Milvus" and "Zilliz"
// ("mil vus", "melvis", "zillis"). The Corrector walks the transcript with a
// sliding window and rewrites any phrase that sounds like a vocabulary term to
// the canonical spelling. The same vocabulary is sent to the recogniser as
// keyword hints, so correction is the second line of defence.
//
// A Corrector is read-only after construction and safe for concurrent use.
package transcript

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/stephen37/voice-assistant/internal/transcript/phonetic"
	"github.com/stephen37/voice-assistant/pkg/types"
)

// defaultBoost is the keyword intensity sent to recognisers that take one.
const defaultBoost = 2.0

// DefaultVocabulary returns the product names corrected when none are
// configured.
func DefaultVocabulary() []string { return []string{"Milvus", "Zilliz"} }

// Correction is one phrase rewritten to a vocabulary term.
type Correction struct {
	// Original is the phrase as the recogniser produced it.
	Original string

	// Corrected is the vocabulary term that replaced it.
	Corrected string

	// Confidence is the matcher's similarity score in [0, 1].
	Confidence float64
}

// Result pairs a corrected transcript with the substitutions applied.
type Result struct {
	// Transcript is the input with Text rewritten.
	Transcript types.Transcript

	// Original is the text before correction.
	Original string

	// Corrections lists every substitution, in transcript order.
	Corrections []Correction
}

// Changed reports whether any phrase was rewritten.
func (r Result) Changed() bool { return len(r.Corrections) > 0 }

// Option configures a Corrector.
type Option func(*Corrector)

// WithMatcher replaces the default phonetic matcher.
func WithMatcher(m *phonetic.Matcher) Option {
	return func(c *Corrector) { c.matcher = m }
}

// Corrector rewrites phrases that sound like vocabulary terms.
type Corrector struct {
	matcher *phonetic.Matcher
	vocab   *phonetic.Vocabulary
}

// New builds a Corrector for vocabulary. An empty vocabulary yields a
// Corrector that never changes anything.
func New(vocabulary []string, opts ...Option) *Corrector {
	c := &Corrector{
		matcher: phonetic.New(),
		vocab:   phonetic.Prepare(vocabulary),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Vocabulary returns the canonical terms.
func (c *Corrector) Vocabulary() []string { return c.vocab.Terms() }

// Keywords returns the vocabulary as recogniser keyword hints.
func (c *Corrector) Keywords() []types.KeywordBoost {
	terms := c.vocab.Terms()
	out := make([]types.KeywordBoost, len(terms))
	for i, t := range terms {
		out[i] = types.KeywordBoost{Keyword: t, Boost: defaultBoost}
	}
	return out
}

// Correct rewrites t.Text. Windows are tried longest first at every position
// so a split word ("mil vus") is rejoined before its halves are considered.
// Punctuation around a window is kept.
func (c *Corrector) Correct(t types.Transcript) Result {
	res := Result{Transcript: t, Original: t.Text}
	tokens := strings.Fields(t.Text)
	if len(tokens) == 0 || c.vocab.Len() == 0 {
		return res
	}
	// One extra word so a single-word term spoken as two still matches.
	maxWindow := c.vocab.MaxWords() + 1

	out := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); {
		n, term, score := c.matchAt(tokens[i:], maxWindow)
		if n == 0 {
			out = append(out, tokens[i])
			i++
			continue
		}
		window := tokens[i : i+n]
		lead, _, _ := splitPunct(window[0])
		_, _, trail := splitPunct(window[n-1])
		phrase := bare(window)
		out = append(out, lead+term+trail)
		if phrase != term {
			res.Corrections = append(res.Corrections, Correction{Original: phrase, Corrected: term, Confidence: score})
		}
		i += n
	}
	res.Transcript.Text = strings.Join(out, " ")
	return res
}

// matchAt returns the length of the longest window at the start of tokens
// that matches a term, or 0.
func (c *Corrector) matchAt(tokens []string, maxWindow int) (int, string, float64) {
	for n := min(maxWindow, len(tokens)); n >= 1; n-- {
		if term, score, ok := c.matcher.Match(bare(tokens[:n]), c.vocab); ok {
			return n, term, score
		}
	}
	return 0, "", 0
}

// bare joins tokens with their outer punctuation removed.
func bare(tokens []string) string {
	words := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if _, w, _ := splitPunct(tok); w != "" {
			words = append(words, w)
		}
	}
	return strings.Join(words, " ")
}

// splitPunct splits a token into leading punctuation, word and trailing
// punctuation.
func splitPunct(tok string) (lead, word, trail string) {
	isWord := func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }
	start := strings.IndexFunc(tok, isWord)
	if start < 0 {
		return tok, "", ""
	}
	end := strings.LastIndexFunc(tok, isWord)
	_, size := utf8.DecodeRuneInString(tok[end:])
	end += size
	return tok[:start], tok[start:end], tok[end:]
}
