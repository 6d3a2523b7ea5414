// Package transcript corrects speech-to-text output against a course
// glossary. Speech recognisers reliably mangle course-specific vocabulary
// (product names, foreign terms, instructor names), so recognised words are
// snapped back to the closest glossary term before the text reaches the
// language model.
//
// Matching runs in two stages per candidate window:
//
//  1. Phonetic filtering: Double Metaphone codes are computed for the window
//     and for each glossary term. A shared code makes the term a phonetic
//     candidate.
//  2. Jaro-Winkler ranking: among phonetic candidates the highest-scoring
//     term wins, provided it clears the phonetic threshold. Without any
//     phonetic candidate a stricter pure-similarity threshold applies.
//
// Multi-word terms are handled with n-gram windows over the transcript, the
// longest window winning so that "machine learning ops" beats "machine
// learning".
package transcript

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Correction records one glossary substitution applied to a transcript.
type Correction struct {
	// Original is the transcript window that was replaced.
	Original string `json:"original"`

	// Term is the glossary term it was replaced with.
	Term string `json:"term"`

	// Confidence is the Jaro-Winkler score that justified the substitution.
	Confidence float64 `json:"confidence"`
}

// Option is a functional option for configuring a [Corrector].
type Option func(*Corrector)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched term to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(c *Corrector) { c.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic candidate exists. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(c *Corrector) { c.fuzzyThreshold = threshold }
}

// term is a prepared glossary entry with its phonetic codes precomputed.
type term struct {
	original string
	lower    string
	tokens   []string
	codes    map[string]struct{}
}

// Corrector snaps transcript words to glossary terms. It is read-only after
// construction and therefore safe for concurrent use.
type Corrector struct {
	terms             []term
	maxTermWords      int
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewCorrector prepares a corrector for the given glossary. An empty glossary
// yields a corrector whose Correct is the identity.
func NewCorrector(glossary []string, opts ...Option) *Corrector {
	c := &Corrector{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(c)
	}

	for _, g := range glossary {
		lower := strings.ToLower(strings.TrimSpace(g))
		if lower == "" {
			continue
		}
		tokens := strings.Fields(lower)
		c.terms = append(c.terms, term{
			original: strings.TrimSpace(g),
			lower:    lower,
			tokens:   tokens,
			codes:    codesForTokens(tokens),
		})
		if len(tokens) > c.maxTermWords {
			c.maxTermWords = len(tokens)
		}
	}
	return c
}

// Correct applies glossary matching over the transcript text and returns the
// corrected text plus the substitutions made. Token punctuation at window
// edges is preserved.
//
// At each token position n-gram windows are tried from the widest glossary
// term down to a single word; the longest matching window is consumed so that
// multi-word terms take precedence over partial single-word matches.
func (c *Corrector) Correct(text string) (string, []Correction) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 || len(c.terms) == 0 {
		return text, nil
	}

	var output []string
	var corrections []Correction

	i := 0
	for i < len(tokens) {
		maxN := c.maxTermWords
		if i+maxN > len(tokens) {
			maxN = len(tokens) - i
		}

		matched := false
		for n := maxN; n >= 1; n-- {
			window := strings.Join(tokens[i:i+n], " ")
			core, lead, trail := trimPunct(window)
			if core == "" {
				continue
			}

			best, conf, ok := c.match(core)
			if !ok {
				continue
			}

			output = append(output, strings.Fields(lead+best+trail)...)
			corrections = append(corrections, Correction{
				Original:   core,
				Term:       best,
				Confidence: conf,
			})
			i += n
			matched = true
			break
		}

		if !matched {
			output = append(output, tokens[i])
			i++
		}
	}

	return strings.Join(output, " "), corrections
}

// match ranks the glossary against one candidate window and returns the best
// term above threshold.
func (c *Corrector) match(window string) (string, float64, bool) {
	windowLower := strings.ToLower(window)
	windowTokens := strings.Fields(windowLower)
	windowCodes := codesForTokens(windowTokens)

	var (
		bestTerm     string
		bestScore    float64
		bestPhonetic bool
	)

	for _, t := range c.terms {
		// An exact glossary word needs no correction.
		if windowLower == t.lower {
			return "", 0, false
		}

		phonetic := codesOverlap(windowCodes, t.codes)
		score := bestJWScore(windowTokens, t.tokens, windowLower, t.lower)

		if phonetic {
			if score >= c.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				bestTerm, bestScore, bestPhonetic = t.original, score, true
			}
		} else if !bestPhonetic {
			if score >= c.fuzzyThreshold && score > bestScore {
				bestTerm, bestScore = t.original, score
			}
		}
	}

	if bestTerm == "" {
		return "", 0, false
	}
	return bestTerm, bestScore, true
}

// codesForTokens returns the union of the Double Metaphone codes for the
// given tokens. Empty codes are excluded.
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

// codesOverlap returns true if the two code sets share at least one code.
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

// bestJWScore computes the highest Jaro-Winkler similarity between the window
// and the term: full strings, space-stripped strings, and the best pairwise
// token score.
func bestJWScore(windowTokens, termTokens []string, windowFull, termFull string) float64 {
	score := matchr.JaroWinkler(windowFull, termFull, false)

	if len(windowTokens) > 1 || len(termTokens) > 1 {
		concat1 := strings.Join(windowTokens, "")
		concat2 := strings.Join(termTokens, "")
		if s := matchr.JaroWinkler(concat1, concat2, false); s > score {
			score = s
		}
	}

	for _, wt := range windowTokens {
		for _, tt := range termTokens {
			if s := matchr.JaroWinkler(wt, tt, false); s > score {
				score = s
			}
		}
	}

	return score
}

// trimPunct splits leading and trailing punctuation off a window so that
// "Kubernetes," still matches the bare term.
func trimPunct(s string) (core, lead, trail string) {
	start := 0
	for start < len(s) && isPunct(s[start]) {
		start++
	}
	end := len(s)
	for end > start && isPunct(s[end-1]) {
		end--
	}
	return s[start:end], s[:start], s[end:]
}

func isPunct(b byte) bool {
	switch b {
	case '.', ',', '!', '?', ';', ':', '"', '\'', '(', ')', '[', ']':
		return true
	}
	return false
}
