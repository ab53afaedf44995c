// Package textnorm normalizes free text before keyword matching.
//
// Text is NFKC-normalized and case-folded, then split into word tokens.
// Keywords go through the same path, so "Wouldn't" in a note and
// "wouldn't" in a keyword table produce identical token runs.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalize returns s in NFKC form with Unicode case folding applied.
func Normalize(s string) string {
	// A Caser carries state; build one per call.
	return cases.Fold().String(norm.NFKC.String(s))
}

// Tokens splits normalized text into runs of letters and digits.
func Tokens(s string) []string {
	return strings.FieldsFunc(Normalize(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Phrase is a keyword pre-split into tokens.
type Phrase []string

// Compile tokenizes every keyword. Empty keywords are dropped.
func Compile(keywords []string) []Phrase {
	out := make([]Phrase, 0, len(keywords))
	for _, k := range keywords {
		if toks := Tokens(k); len(toks) > 0 {
			out = append(out, Phrase(toks))
		}
	}
	return out
}

// Count returns how many times phrase occurs as a contiguous token run.
func Count(tokens []string, phrase Phrase) int {
	if len(phrase) == 0 || len(phrase) > len(tokens) {
		return 0
	}
	n := 0
outer:
	for i := 0; i+len(phrase) <= len(tokens); i++ {
		for j, p := range phrase {
			if tokens[i+j] != p {
				continue outer
			}
		}
		n++
	}
	return n
}

// ContainsAny reports whether any phrase occurs in tokens.
func ContainsAny(tokens []string, phrases []Phrase) bool {
	for _, p := range phrases {
		if Count(tokens, p) > 0 {
			return true
		}
	}
	return false
}
