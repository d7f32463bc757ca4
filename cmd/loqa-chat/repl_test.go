package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

type scriptedSession struct {
	r        *repl
	replies  map[string]string
	fail     error
	messages []string
}

func (s *scriptedSession) Send(_ context.Context, message string) (string, error) {
	s.messages = append(s.messages, message)
	reply := s.replies[message]
	// Simulate fragments arriving.
	for i := 1; i <= len(reply); i++ {
		s.r.progress(reply[:i])
	}
	return reply, s.fail
}

type toggle struct{ muted bool }

func (t *toggle) SetMuted(m bool) { t.muted = m }
func (t *toggle) Muted() bool     { return t.muted }

func TestREPLEchoesRepliesUntilQuit(t *testing.T) {
	var out bytes.Buffer
	r := newREPL(strings.NewReader("hello\n\nsecond\nquit\nignored\n"), &out, &toggle{})
	session := &scriptedSession{r: r, replies: map[string]string{
		"hello":  "Hi there.",
		"second": "Again.",
	}}

	if err := r.run(context.Background(), session); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := strings.Join(session.messages, ","); got != "hello,second" {
		t.Fatalf("unexpected messages %q", got)
	}
	text := out.String()
	if !strings.Contains(text, "Assistant: Hi there.\n") || !strings.Contains(text, "Assistant: Again.\n") {
		t.Fatalf("replies not echoed once:\n%s", text)
	}
}

func TestREPLMuteToggles(t *testing.T) {
	var out bytes.Buffer
	speech := &toggle{}
	r := newREPL(strings.NewReader("mute\n"), &out, speech)

	if err := r.run(context.Background(), &scriptedSession{r: r}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !speech.muted || !strings.Contains(out.String(), "[speech muted]") {
		t.Fatalf("expected muted, output:\n%s", out.String())
	}
}

func TestREPLReportsTurnErrors(t *testing.T) {
	var out bytes.Buffer
	r := newREPL(strings.NewReader("hello\n"), &out, &toggle{})
	session := &scriptedSession{r: r, replies: map[string]string{"hello": "Part"}, fail: errors.New("backend gone")}

	if err := r.run(context.Background(), session); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "[error: backend gone]") {
		t.Fatalf("error not reported:\n%s", out.String())
	}
}

func TestREPLAcceptsLongLines(t *testing.T) {
	long := strings.Repeat("word ", 20000) + "end."
	r := newREPL(strings.NewReader(long+"\nquit\n"), &bytes.Buffer{}, &toggle{})
	session := &scriptedSession{r: r}

	if err := r.run(context.Background(), session); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(session.messages) != 1 || session.messages[0] != strings.TrimSpace(long) {
		t.Fatalf("long line was not delivered intact (%d messages)", len(session.messages))
	}
}

func TestREPLReportsOversizedLine(t *testing.T) {
	huge := strings.Repeat("x", maxLineBytes+1)
	r := newREPL(strings.NewReader(huge+"\n"), &bytes.Buffer{}, &toggle{})
	session := &scriptedSession{r: r}

	err := r.run(context.Background(), session)
	if !errors.Is(err, bufio.ErrTooLong) {
		t.Fatalf("expected bufio.ErrTooLong, got %v", err)
	}
	if len(session.messages) != 0 {
		t.Fatalf("oversized line must not be sent, got %d messages", len(session.messages))
	}
}

func TestREPLStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Input never arrives, so only cancellation can end the loop.
	r := newREPL(blockingReader{}, &bytes.Buffer{}, &toggle{})
	if err := r.run(ctx, &scriptedSession{r: r}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type blockingReader struct{}

func (blockingReader) Read([]byte) (int, error) { select {} }
