// Package textproc provides the text processing pipeline shared by the
// stemmed index and query handling: tokenization, stop word removal,
// and Snowball English stemming.
//
// The same transform runs at index-build time and at query time so that
// stemmed index terms match stemmed query terms ("running" and "run"
// both index and query as "run").
package textproc

import (
	"regexp"
	"strings"

	snowballeng "github.com/kljensen/snowball/english"
)

// StemmerAlgorithm names the stemming backend compiled into the binary.
const StemmerAlgorithm = "snowball/english"

// tokenPattern matches lowercase alphanumeric runs, keeping apostrophe
// contractions ("don't") as single tokens.
var tokenPattern = regexp.MustCompile(`[a-z0-9]+(?:'[a-z]+)?`)

// wordAtStart matches a token at the beginning of a string, either case.
var wordAtStart = regexp.MustCompile(`^[a-zA-Z0-9]+(?:'[a-zA-Z]+)?`)

var multiSpace = regexp.MustCompile(`\s+`)

// StopWords are common English function words that add little search
// value. Removal is optional and off by default for index text.
var StopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "from": {}, "has": {}, "he": {}, "in": {}, "is": {}, "it": {}, "its": {},
	"of": {}, "on": {}, "or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "you": {}, "your": {}, "i": {}, "me": {}, "my": {}, "we": {},
	"our": {}, "they": {}, "them": {}, "their": {}, "this": {}, "these": {}, "those": {},
	"what": {}, "which": {}, "who": {}, "whom": {}, "can": {}, "could": {}, "do": {},
	"does": {}, "did": {}, "have": {}, "had": {}, "having": {}, "would": {}, "should": {},
	"may": {}, "might": {}, "must": {}, "shall": {}, "am": {}, "been": {}, "being": {},
	"so": {}, "but": {}, "if": {}, "then": {}, "than": {}, "just": {}, "very": {},
	"too": {}, "also": {}, "only": {}, "now": {}, "here": {}, "there": {},
}

// ftsOperators are FTS5 query keywords that must pass through a stemmed
// query unchanged; the engine reserves them syntactically.
var ftsOperators = []string{"AND", "OR", "NOT", "NEAR"}

// Tokenize splits text into lowercase word tokens. Splits on
// non-alphanumeric characters; apostrophes inside words are preserved so
// contractions stay whole. Empty input yields an empty slice.
func Tokenize(text string) []string {
	if text == "" {
		return nil
	}
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// RemoveStopWords filters common English stop words from a token list.
func RemoveStopWords(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, skip := StopWords[t]; !skip {
			out = append(out, t)
		}
	}
	return out
}

// Stem reduces a word to its morphological root. The input should
// already be lowercase.
func Stem(word string) string {
	if word == "" {
		return word
	}
	return snowballeng.Stem(word, false)
}

// StemTokens stems every token in a list.
func StemTokens(tokens []string) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = Stem(t)
	}
	return out
}

// NormalizeForIndex processes raw text into the form stored in the
// stemmed index: tokenize, optionally drop stop words, stem, and rejoin
// with single spaces.
func NormalizeForIndex(text string, removeStops bool) string {
	if text == "" {
		return ""
	}
	tokens := Tokenize(text)
	if removeStops {
		tokens = RemoveStopWords(tokens)
	}
	return strings.Join(StemTokens(tokens), " ")
}

// NormalizeQuery rewrites a search query for the stemmed index while
// preserving FTS5 syntax. Quoted phrases have their interior words
// stemmed but keep their quotes; AND/OR/NOT/NEAR operators bounded by
// non-alphanumerics pass through unstemmed; all other characters
// (parentheses, whitespace) pass through unchanged.
func NormalizeQuery(query string) string {
	if query == "" {
		return ""
	}

	var parts []string
	i := 0

	for i < len(query) {
		if query[i] == '"' {
			end := strings.IndexByte(query[i+1:], '"')
			if end != -1 {
				end += i + 1
				parts = append(parts, `"`+NormalizeForIndex(query[i+1:end], false)+`"`)
				i = end + 1
				continue
			}
			// Unclosed quote: treat the remainder as a phrase.
			parts = append(parts, `"`+NormalizeForIndex(query[i+1:], false)+`"`)
			break
		}

		if op, n := operatorAt(query, i); n > 0 {
			parts = append(parts, op)
			i += n
			continue
		}

		if m := wordAtStart.FindString(query[i:]); m != "" {
			parts = append(parts, Stem(strings.ToLower(m)))
			i += len(m)
			continue
		}

		if query[i] == ' ' || query[i] == '\t' || query[i] == '\n' {
			parts = append(parts, " ")
		} else {
			parts = append(parts, string(query[i]))
		}
		i++
	}

	return strings.TrimSpace(multiSpace.ReplaceAllString(strings.Join(parts, ""), " "))
}

// operatorAt reports whether an FTS5 operator starts at position i,
// bounded by string edges or non-alphanumeric characters on both sides.
func operatorAt(s string, i int) (string, int) {
	for _, op := range ftsOperators {
		if len(s)-i < len(op) {
			continue
		}
		if !strings.EqualFold(s[i:i+len(op)], op) {
			continue
		}
		if i > 0 && isAlnum(s[i-1]) {
			continue
		}
		if i+len(op) < len(s) && isAlnum(s[i+len(op)]) {
			continue
		}
		return op, len(op)
	}
	return "", 0
}

func isAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// Info describes the stemmer configuration.
type Info struct {
	Available     bool
	Algorithm     string
	StopWordCount int
}

// StemmerInfo reports the compiled-in stemmer backend. The Snowball
// implementation is linked statically, so it is always available.
func StemmerInfo() Info {
	return Info{
		Available:     true,
		Algorithm:     StemmerAlgorithm,
		StopWordCount: len(StopWords),
	}
}
