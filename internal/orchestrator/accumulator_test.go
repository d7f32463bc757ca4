package orchestrator

import (
	"strings"
	"testing"
)

func pushAll(acc *Accumulator, fragments []string) []string {
	var out []string
	for _, f := range fragments {
		if s, ok := acc.Push(f); ok {
			out = append(out, s)
		}
	}
	return out
}

func TestShortSentenceKeepsAccumulating(t *testing.T) {
	acc := NewAccumulator(DefaultMinSentenceChars)
	if got := pushAll(acc, []string{"Hi", " there."}); len(got) != 0 {
		t.Fatalf("expected no sentence for 9 trimmed chars, got %q", got)
	}
	got := pushAll(acc, []string{" How are", " you today?"})
	if len(got) != 1 || got[0] != "Hi there. How are you today?" {
		t.Fatalf("expected accumulated sentence, got %q", got)
	}
}

func TestLongSentenceDispatchesImmediately(t *testing.T) {
	acc := NewAccumulator(DefaultMinSentenceChars)
	got, ok := acc.Push("This is a test.")
	if !ok || got != "This is a test." {
		t.Fatalf("expected immediate sentence, got %q %v", got, ok)
	}
	if rest, ok := acc.Flush(); ok {
		t.Fatalf("nothing should remain, got %q", rest)
	}
}

func TestNoTerminalNoSentence(t *testing.T) {
	acc := NewAccumulator(DefaultMinSentenceChars)
	got := pushAll(acc, []string{"a long run of words", " without any", " terminal at all"})
	if len(got) != 0 {
		t.Fatalf("expected no sentence without terminal, got %q", got)
	}
}

func TestFlushIgnoresMinimumLength(t *testing.T) {
	acc := NewAccumulator(DefaultMinSentenceChars)
	acc.Push("Ok")
	got, ok := acc.Flush()
	if !ok || got != "Ok" {
		t.Fatalf("expected trailing Ok, got %q %v", got, ok)
	}
	if _, ok := acc.Flush(); ok {
		t.Fatal("second flush should be empty")
	}
}

func TestFlushSkipsWhitespace(t *testing.T) {
	acc := NewAccumulator(DefaultMinSentenceChars)
	acc.Push("This is a sentence.")
	acc.Push("  \n")
	if got, ok := acc.Flush(); ok {
		t.Fatalf("whitespace should not flush, got %q", got)
	}
}

func TestFullReplyIsExactConcatenation(t *testing.T) {
	fragments := []string{"  Hello", " world!", " This is", " fine.\n", "Ok", " "}
	acc := NewAccumulator(DefaultMinSentenceChars)
	pushAll(acc, fragments)
	acc.Flush()
	if got, want := acc.Full(), strings.Join(fragments, ""); got != want {
		t.Fatalf("full = %q, want %q", got, want)
	}
}

func TestMinimumCountsCharacters(t *testing.T) {
	acc := NewAccumulator(DefaultMinSentenceChars)
	// ten runes, eighteen bytes
	if s, ok := acc.Push("ééééééé é."); ok {
		t.Fatalf("expected rune count to gate dispatch, got %q", s)
	}
}

func TestNormalizeSentence(t *testing.T) {
	cases := map[string]string{
		"**Bold** and `code`\n  with #heading.": "Bold and code with heading.",
		"Use my_var now.":                       "Use my_var now.",
		"This is _really_ good.":                "This is really good.",
		"Spaced __ out.":                        "Spaced out.",
		"**":                                    "",
	}
	for in, want := range cases {
		if got := NormalizeSentence(in); got != want {
			t.Errorf("NormalizeSentence(%q) = %q, want %q", in, got, want)
		}
	}
}
