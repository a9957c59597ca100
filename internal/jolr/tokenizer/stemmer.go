package tokenizer

import (
	"github.com/kljensen/snowball/english"
)

// Stemmer maps a lowercased word to its canonical root.
type Stemmer interface {
	Stem(word string) string
}

// StemFunc adapts an ordinary function to the Stemmer interface.
type StemFunc func(word string) string

func (f StemFunc) Stem(word string) string {
	return f(word)
}

// Snowball is the English Snowball (Porter2) stemmer.
var Snowball Stemmer = StemFunc(func(word string) string {
	if word == "" {
		return word
	}
	return english.Stem(word, true)
})

// Identity leaves every word unchanged.
var Identity Stemmer = StemFunc(func(word string) string { return word })
