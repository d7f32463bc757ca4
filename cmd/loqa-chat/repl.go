package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

const maxLineBytes = 1 << 20

type sender interface {
	Send(ctx context.Context, message string) (string, error)
}

type muter interface {
	SetMuted(muted bool)
	Muted() bool
}

// repl drives a conversation from line-oriented input. Replies are echoed
// as they stream in.
type repl struct {
	in      io.Reader
	out     io.Writer
	speech  muter
	printed int
}

func newREPL(in io.Reader, out io.Writer, speech muter) *repl {
	return &repl{in: in, out: out, speech: speech}
}

// progress prints the part of the reply not yet shown.
func (r *repl) progress(full string) {
	if len(full) <= r.printed {
		return
	}
	fmt.Fprint(r.out, full[r.printed:])
	r.printed = len(full)
}

// run returns nil on quit or end of input, ctx.Err() on cancellation, and
// the read error when input fails, for example on a line over maxLineBytes.
func (r *repl) run(ctx context.Context, session sender) error {
	lines := make(chan string)
	var scanErr error
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r.in)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr = scanner.Err()
	}()

	fmt.Fprintln(r.out, `Type a message. "mute" toggles speech, "quit" exits.`)
	for {
		fmt.Fprint(r.out, "You: ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(r.out)
			return ctx.Err()
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(r.out)
				if scanErr != nil {
					return fmt.Errorf("read input: %w", scanErr)
				}
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch strings.ToLower(line) {
		case "":
			continue
		case "quit", "exit":
			return nil
		case "mute":
			r.speech.SetMuted(!r.speech.Muted())
			if r.speech.Muted() {
				fmt.Fprintln(r.out, "[speech muted]")
			} else {
				fmt.Fprintln(r.out, "[speech unmuted]")
			}
			continue
		}

		r.printed = 0
		fmt.Fprint(r.out, "Assistant: ")
		_, err := session.Send(ctx, line)
		fmt.Fprintln(r.out)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(r.out, "[error: %v]\n", err)
		}
	}
}
