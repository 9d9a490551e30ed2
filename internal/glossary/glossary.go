// Package glossary corrects misrecognized proper nouns in transcribed text.
//
// Recognizers routinely mangle names that are not in their vocabulary
// ("elder nacks" for "Eldrinax"). A [Glossary] holds the names that are
// expected to occur and rewrites word windows that sound like one of them.
//
// Matching runs in two stages per window:
//
//  1. Phonetic: the Double Metaphone codes of the window and the term (with
//     spaces removed, truncated to four characters) must agree. Candidates
//     are then ranked by Jaro-Winkler similarity and accepted above the
//     phonetic threshold (default 0.70).
//  2. Fuzzy: when no phonetic candidate exists, plain Jaro-Winkler
//     similarity must reach the fuzzy threshold (default 0.85).
//
// Phonetic windows span between one word fewer and one word more than the
// term; fuzzy windows have exactly as many words. The letter count of a
// window must be within a factor of 0.6 of the term's.
package glossary

import (
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	codeLen     = 4
	minRunes    = 3
	lengthRatio = 0.6
)

// Option configures a [Glossary].
type Option func(*Glossary)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a phonetic
// candidate. Default: 0.70.
func WithPhoneticThreshold(v float64) Option {
	return func(g *Glossary) {
		if v > 0 {
			g.phoneticThreshold = v
		}
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score when no phonetic
// candidate exists. Default: 0.85.
func WithFuzzyThreshold(v float64) Option {
	return func(g *Glossary) {
		if v > 0 {
			g.fuzzyThreshold = v
		}
	}
}

// Correction records one substitution.
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
	Phonetic   bool
}

type term struct {
	text  string
	words int
	flat  string
	runes int
	codes []string
}

// Glossary rewrites word windows that match a known term. It is read-only
// after construction and safe for concurrent use.
type Glossary struct {
	terms             []term
	maxWords          int
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New prepares terms for matching. Blank and duplicate terms are skipped.
func New(terms []string, opts ...Option) *Glossary {
	g := &Glossary{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(g)
	}

	seen := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		t = strings.Join(strings.Fields(t), " ")
		key := strings.ToLower(t)
		if t == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		words := strings.Fields(key)
		flat := strings.Join(words, "")
		g.terms = append(g.terms, term{
			text:  t,
			words: len(words),
			flat:  flat,
			runes: utf8.RuneCountInString(flat),
			codes: phoneticCodes(flat),
		})
		g.maxWords = max(g.maxWords, len(words))
	}
	return g
}

// Len returns the number of usable terms.
func (g *Glossary) Len() int {
	if g == nil {
		return 0
	}
	return len(g.terms)
}

// Correct returns text with matching windows replaced by their terms.
func (g *Glossary) Correct(text string) string {
	out, corrections := g.Apply(text)
	for _, c := range corrections {
		slog.Debug("glossary: corrected term",
			"original", c.Original,
			"corrected", c.Corrected,
			"confidence", c.Confidence,
			"phonetic", c.Phonetic,
		)
	}
	return out
}

// Apply is [Glossary.Correct] that also reports every substitution.
// At each position the best scoring window wins; ties go to the longer one.
// Leading punctuation of the first word and trailing punctuation of the last
// word are kept.
func (g *Glossary) Apply(text string) (string, []Correction) {
	if g.Len() == 0 {
		return text, nil
	}
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, nil
	}

	cores := make([]string, len(tokens))
	for i, tok := range tokens {
		cores[i] = core(tok)
	}

	var (
		out         []string
		corrections []Correction
	)
	for i := 0; i < len(tokens); {
		var (
			bestN     int
			best      term
			bestScore float64
			phonetic  bool
		)
		for n := min(g.maxWords+1, len(tokens)-i); n >= 1; n-- {
			window := cores[i : i+n]
			if !usable(window) {
				continue
			}
			t, score, ph, ok := g.match(strings.Join(window, " "), n)
			if ok && score > bestScore {
				bestN, best, bestScore, phonetic = n, t, score, ph
			}
		}
		if bestN == 0 {
			out = append(out, tokens[i])
			i++
			continue
		}

		phrase := strings.Join(cores[i:i+bestN], " ")
		lead, _ := splitPunct(tokens[i])
		_, trail := splitPunct(tokens[i+bestN-1])
		out = append(out, lead+best.text+trail)
		if phrase != best.text {
			corrections = append(corrections, Correction{
				Original:   phrase,
				Corrected:  best.text,
				Confidence: bestScore,
				Phonetic:   phonetic,
			})
		}
		i += bestN
	}
	if len(corrections) == 0 {
		return text, nil
	}
	return strings.Join(out, " "), corrections
}

// match finds the best term for a window of n words.
func (g *Glossary) match(phrase string, n int) (best term, score float64, phonetic, ok bool) {
	lower := strings.ToLower(phrase)
	flat := strings.ReplaceAll(lower, " ", "")
	runes := utf8.RuneCountInString(flat)
	if runes < minRunes {
		return term{}, 0, false, false
	}
	codes := phoneticCodes(flat)

	for _, t := range g.terms {
		if n < t.words-1 || n > t.words+1 {
			continue
		}
		ratio := float64(runes) / float64(t.runes)
		if ratio < lengthRatio || ratio > 1/lengthRatio {
			continue
		}

		s := max(
			matchr.JaroWinkler(lower, strings.ToLower(t.text), false),
			matchr.JaroWinkler(flat, t.flat, false),
		)
		isPhonetic := overlap(codes, t.codes)
		switch {
		case isPhonetic && s >= g.phoneticThreshold:
			if !phonetic || s > score {
				best, score, phonetic, ok = t, s, true, true
			}
		case !isPhonetic && !phonetic && n == t.words && s >= g.fuzzyThreshold && s > score:
			best, score, ok = t, s, true
		}
	}
	return best, score, phonetic, ok
}

// phoneticCodes returns the distinct Double Metaphone codes of s, truncated
// to codeLen. Codes shorter than two characters are ignored.
func phoneticCodes(s string) []string {
	p, sec := matchr.DoubleMetaphone(s)
	var codes []string
	for _, c := range []string{p, sec} {
		if len(c) > codeLen {
			c = c[:codeLen]
		}
		if len(c) < 2 {
			continue
		}
		if len(codes) == 1 && codes[0] == c {
			continue
		}
		codes = append(codes, c)
	}
	return codes
}

func overlap(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// usable reports whether every word of the window has letters or digits.
func usable(window []string) bool {
	for _, w := range window {
		if w == "" {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// core strips surrounding punctuation from tok.
func core(tok string) string {
	return strings.TrimFunc(tok, func(r rune) bool { return !isWordRune(r) })
}

// splitPunct returns the punctuation before and after the core of tok.
func splitPunct(tok string) (lead, trail string) {
	start := strings.IndexFunc(tok, isWordRune)
	if start < 0 {
		return tok, ""
	}
	end := strings.LastIndexFunc(tok, isWordRune)
	_, size := utf8.DecodeRuneInString(tok[end:])
	return tok[:start], tok[end+size:]
}
