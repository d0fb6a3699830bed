// Package cleaner normalizes recognized text and applies the domain
// correction dictionary. Cleaning is idempotent for a given dictionary.
package cleaner

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/unicode/norm"
)

const minFuzzyLen = 5

// Cleaner applies character normalization and dictionary corrections.
type Cleaner struct {
	dict  *Dictionary
	fuzzy bool
}

// Option configures a Cleaner.
type Option func(*Cleaner)

// WithFuzzy toggles edit-distance matching against the vocabulary.
func WithFuzzy(enabled bool) Option {
	return func(c *Cleaner) { c.fuzzy = enabled }
}

// New returns a Cleaner over dict. A nil dict only normalizes characters and whitespace.
func New(dict *Dictionary, opts ...Option) *Cleaner {
	c := &Cleaner{dict: dict, fuzzy: true}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Clean normalizes encoding, strips control and invisible characters,
// corrects known misspellings and collapses whitespace.
func (c *Cleaner) Clean(text string) string {
	text = normalizeChars(text)
	if c.dict != nil {
		text = c.correct(text)
	}
	return collapseWhitespace(text)
}

func (c *Cleaner) correct(text string) string {
	toks := tokenize(text)
	if len(toks) == 0 {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, tok := range toks {
		b.WriteString(text[last:tok.start])
		b.WriteString(c.replacement(tok))
		last = tok.end
	}
	b.WriteString(text[last:])
	return b.String()
}

func (c *Cleaner) replacement(tok token) string {
	lower := strings.ToLower(tok.text)
	if _, ok := c.dict.vocab[lower]; ok {
		return tok.text
	}
	if to, ok := c.dict.corrections[lower]; ok {
		return matchCase(tok.text, to)
	}
	if c.fuzzy && !tok.hasDigit {
		if to, ok := c.nearest(lower); ok {
			return matchCase(tok.text, to)
		}
	}
	return tok.text
}

// nearest finds the unique closest vocabulary word within the edit bound:
// one edit below eight runes, two from eight on.
func (c *Cleaner) nearest(word string) (string, bool) {
	n := utf8.RuneCountInString(word)
	if n < minFuzzyLen {
		return "", false
	}
	bound := 1
	if n >= 8 {
		bound = 2
	}

	best, bestDist, ties := "", bound+1, 0
	for l := n - bound; l <= n+bound; l++ {
		for _, cand := range c.dict.byLen[l] {
			d := levenshtein.ComputeDistance(word, cand)
			switch {
			case d < bestDist:
				best, bestDist, ties = cand, d, 1
			case d == bestDist:
				ties++
			}
		}
	}
	if bestDist > bound || ties != 1 {
		return "", false
	}
	return best, true
}

// matchCase renders target in the case pattern of src: all caps, capitalized, or as given.
func matchCase(src, target string) string {
	letters, upper := 0, 0
	for _, r := range src {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	switch {
	case letters > 1 && upper == letters:
		return strings.ToUpper(target)
	case letters > 0 && unicode.IsUpper(firstLetter(src)):
		r, size := utf8.DecodeRuneInString(target)
		return string(unicode.ToUpper(r)) + target[size:]
	default:
		return target
	}
}

func firstLetter(s string) rune {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return r
		}
	}
	return 0
}

type token struct {
	text       string
	start, end int
	hasDigit   bool
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// tokenize splits s into maximal runs of letters and digits.
func tokenize(s string) []token {
	var toks []token
	start := -1
	digit := false
	for i, r := range s {
		if isWordRune(r) {
			if start < 0 {
				start, digit = i, false
			}
			if unicode.IsDigit(r) {
				digit = true
			}
			continue
		}
		if start >= 0 {
			toks = append(toks, token{text: s[start:i], start: start, end: i, hasDigit: digit})
			start = -1
		}
	}
	if start >= 0 {
		toks = append(toks, token{text: s[start:], start: start, end: len(s), hasDigit: digit})
	}
	return toks
}

var typographic = map[rune]string{
	'ﬁ': "fi", 'ﬂ': "fl", 'ﬀ': "ff", 'ﬃ': "ffi", 'ﬄ': "ffl",
	'‘': "'", '’': "'", '‚': "'", '′': "'",
	'“': "\"", '”': "\"", '„': "\"", '″': "\"",
	'‐': "-", '‑': "-", '‒': "-", '–': "-", '—': "-", '―': "-", '−': "-",
	'…': "...",
}

// normalizeChars composes to NFC and removes characters the recognizer
// emits but a reader never wants: controls, format characters such as
// zero-width spaces and soft hyphens, private-use glyphs, replacement
// characters and orphan combining marks.
func normalizeChars(s string) string {
	s = strings.ToValidUTF8(s, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = norm.NFC.String(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n':
			b.WriteRune(r)
		case r == '\r':
			b.WriteByte('\n')
		case r == '\t' || r == '\v' || r == '\f':
			b.WriteByte(' ')
		case r == utf8.RuneError,
			unicode.IsControl(r),
			unicode.Is(unicode.Cf, r),
			unicode.Is(unicode.Co, r),
			unicode.Is(unicode.Mn, r):
		case unicode.Is(unicode.Zs, r):
			b.WriteByte(' ')
		case r == '\u2028' || r == '\u2029':
			b.WriteByte('\n')
		default:
			if rep, ok := typographic[r]; ok {
				b.WriteString(rep)
			} else {
				b.WriteRune(r)
			}
		}
	}
	// removing separators can bring composable runes together
	return norm.NFC.String(b.String())
}

// collapseWhitespace squeezes runs of spaces, trims every line and keeps at
// most one blank line between paragraphs.
func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if len(out) > 0 {
				blank = true
			}
			continue
		}
		if blank {
			out = append(out, "")
			blank = false
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
