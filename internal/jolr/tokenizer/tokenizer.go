// Package tokenizer turns raw text into search tokens. Each token keeps the
// original chunk, a punctuation-stripped lowercase form and the stemmed root
// that the index is keyed by. Identifiers joined with "_" or "-" are emitted
// both as their parts and as one combined token.
package tokenizer

import (
	"regexp"
	"strings"
)

const (
	trailingPunct = `,.:)!;'"{[`
	leadingPunct  = `('"}]`
)

var (
	wordPattern = regexp.MustCompile(`^[a-z][\w-]*$`)
	compoundSep = regexp.MustCompile(`[_-]`)
)

// Token is a normalized unit of text.
type Token struct {
	Orig     string `json:"orig"`
	Stripped string `json:"stripped"`
	Stemmed  string `json:"stemmed"`
}

// Tokenizer splits text using a configurable stemmer.
type Tokenizer struct {
	stemmer Stemmer
}

// New returns a Tokenizer using s, or the Snowball stemmer when s is nil.
func New(s Stemmer) *Tokenizer {
	if s == nil {
		s = Snowball
	}
	return &Tokenizer{stemmer: s}
}

var defaultTokenizer = New(Snowball)

// Tokenize runs the default Snowball tokenizer.
func Tokenize(text string, stripCommonStopwords, isQuery bool) []Token {
	return defaultTokenizer.Tokenize(text, stripCommonStopwords, isQuery)
}

// Stem applies the tokenizer's stemmer to a single word.
func (t *Tokenizer) Stem(word string) string {
	return t.stemmer.Stem(word)
}

// Tokenize splits text on whitespace and normalizes every chunk.
//
// With stripCommonStopwords the Common stopword set is used, otherwise Core.
// In query mode punctuation-only chunks survive untouched, the word-shape
// check is skipped and the final chunk is kept even when it is a stopword,
// since the user may still be typing it.
func (t *Tokenizer) Tokenize(text string, stripCommonStopwords, isQuery bool) []Token {
	chunks := strings.Fields(text)
	stops := Core
	if stripCommonStopwords {
		stops = Common
	}

	tokens := make([]Token, 0, len(chunks))
	for i, orig := range chunks {
		tok := strings.ToLower(orig)
		last := isQuery && i == len(chunks)-1
		alnum := hasAlnum(tok)
		if !isQuery || alnum {
			tok = strings.TrimLeft(strings.TrimRight(tok, trailingPunct), leadingPunct)
		}

		if tok == "" ||
			isDigit(tok[0]) ||
			(!isQuery && !wordPattern.MatchString(tok)) ||
			(stops.Has(tok) && !last) {
			continue
		}

		if !alnum {
			tokens = append(tokens, Token{Orig: orig, Stripped: tok, Stemmed: t.stemmer.Stem(tok)})
			continue
		}

		parts := splitCompound(tok)
		if len(parts) == 1 {
			tokens = append(tokens, Token{Orig: orig, Stripped: tok, Stemmed: t.stemmer.Stem(parts[0])})
			continue
		}

		stems := make([]string, 0, len(parts))
		for _, part := range parts {
			stem := t.stemmer.Stem(part)
			stems = append(stems, stem)
			tokens = append(tokens, Token{Orig: part, Stripped: part, Stemmed: stem})
		}
		tokens = append(tokens, Token{Orig: orig, Stripped: tok, Stemmed: strings.Join(stems, "_")})
	}
	return tokens
}

// splitCompound splits on "_" and "-". Empty parts are kept, so a chunk
// ending in a separator still takes the compound path and its combined
// token keeps the trailing "_".
func splitCompound(tok string) []string {
	return compoundSep.Split(tok, -1)
}

func hasAlnum(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isDigit(c) || (c >= 'a' && c <= 'z') {
			return true
		}
	}
	return false
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
