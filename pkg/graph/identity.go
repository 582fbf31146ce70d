package graph

import (
	"errors"
	"strings"
	"unicode"
)

// ErrEmptyIdentifier is returned when a display text has no letters or
// numbers left after normalization.
var ErrEmptyIdentifier = errors.New("display text has no identifying characters")

// Identify derives the canonical node identifier of a display text: every
// rune that is not a letter or number is dropped and the rest is lower-cased.
//
// Texts that only differ in punctuation, case or whitespace map to the same
// identifier, so "Jane Doe" and "Jane, Doe!" are the same author. Distinct
// entities with the same alphanumeric content merge as well.
func Identify(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

func identifyRequired(text string) (string, error) {
	id := Identify(text)
	if id == "" {
		return "", ErrEmptyIdentifier
	}
	return id, nil
}
