package orchestrator

import (
	"strings"
	"unicode/utf8"
)

const (
	sentenceTerminals       = ".!?"
	DefaultMinSentenceChars = 10
)

// Accumulator splits a fragment stream into sentences while keeping the
// full reply. The full reply is always the exact concatenation of every
// pushed fragment; pending is the part not yet emitted as a sentence.
type Accumulator struct {
	full     strings.Builder
	pending  strings.Builder
	minChars int
}

func NewAccumulator(minChars int) *Accumulator {
	if minChars <= 0 {
		minChars = DefaultMinSentenceChars
	}
	return &Accumulator{minChars: minChars}
}

// Push appends fragment. When fragment carries a sentence terminal and the
// trimmed pending text is longer than the minimum, that text is returned
// and pending is reset.
func (a *Accumulator) Push(fragment string) (string, bool) {
	a.full.WriteString(fragment)
	a.pending.WriteString(fragment)
	if !strings.ContainsAny(fragment, sentenceTerminals) {
		return "", false
	}
	sentence := strings.TrimSpace(a.pending.String())
	if utf8.RuneCountInString(sentence) <= a.minChars {
		return "", false
	}
	a.pending.Reset()
	return sentence, true
}

// Flush returns whatever is still pending, regardless of length.
func (a *Accumulator) Flush() (string, bool) {
	sentence := strings.TrimSpace(a.pending.String())
	a.pending.Reset()
	return sentence, sentence != ""
}

func (a *Accumulator) Full() string { return a.full.String() }
