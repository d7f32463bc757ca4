package orchestrator

import "strings"

var markupReplacer = strings.NewReplacer("*", "", "`", "", "#", "")

// NormalizeSentence strips markdown emphasis and collapses whitespace so
// the synthesizer does not read symbols aloud. Underscores are removed only
// at word edges, so identifiers like snake_case survive.
func NormalizeSentence(s string) string {
	fields := strings.Fields(markupReplacer.Replace(s))
	words := fields[:0]
	for _, f := range fields {
		if f = strings.Trim(f, "_"); f != "" {
			words = append(words, f)
		}
	}
	return strings.Join(words, " ")
}
