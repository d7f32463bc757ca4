package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/loqalabs/loqa-voice/internal/chat"
	"github.com/loqalabs/loqa-voice/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBackend struct {
	fragments []string
	openErr   error
	recvErr   error
	requests  []chat.Request
}

func (b *fakeBackend) Stream(_ context.Context, req chat.Request) (chat.Stream, error) {
	b.requests = append(b.requests, req)
	if b.openErr != nil {
		return nil, b.openErr
	}
	return &fakeStream{fragments: append([]string(nil), b.fragments...), err: b.recvErr}, nil
}

type fakeStream struct {
	fragments []string
	err       error
	closed    bool
}

func (s *fakeStream) Recv() (string, error) {
	if len(s.fragments) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	f := s.fragments[0]
	s.fragments = s.fragments[1:]
	return f, nil
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

type recordingSink struct {
	sentences []string
}

func (r *recordingSink) Dispatch(sentence string) {
	r.sentences = append(r.sentences, sentence)
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads []any
}

func (p *recordingPublisher) PublishJSON(subject string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, v)
	return nil
}

func (p *recordingPublisher) count(subject string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.subjects {
		if s == subject {
			n++
		}
	}
	return n
}

func history(n int) []chat.Message {
	out := make([]chat.Message, 0, n)
	for i := range n {
		role := chat.RoleUser
		if i%2 == 1 {
			role = chat.RoleAssistant
		}
		out = append(out, chat.Message{Role: role, Content: fmt.Sprintf("turn %d", i)})
	}
	return out
}

func TestBuildMessagesCapsHistory(t *testing.T) {
	for _, n := range []int{0, 3, 10, 11, 40} {
		msgs := BuildMessages("sys", history(n), "hello", DefaultHistoryTurns)
		kept := min(n, 10)
		if len(msgs) != kept+2 {
			t.Fatalf("history %d: got %d messages, want %d", n, len(msgs), kept+2)
		}
		if msgs[0].Role != chat.RoleSystem || msgs[0].Content != "sys" {
			t.Fatalf("first message should be system, got %+v", msgs[0])
		}
		last := msgs[len(msgs)-1]
		if last.Role != chat.RoleUser || last.Content != "hello" {
			t.Fatalf("last message should be the user turn, got %+v", last)
		}
		if n > 0 && msgs[len(msgs)-2].Content != fmt.Sprintf("turn %d", n-1) {
			t.Fatalf("expected most recent turns to be kept, got %+v", msgs[len(msgs)-2])
		}
	}
}

func TestHandleTurnDispatchesAndRecordsHistory(t *testing.T) {
	backend := &fakeBackend{fragments: []string{"Hi", " there.", " This is a test.", " Ok"}}
	sink := &recordingSink{}
	var progress []string
	orch := New(backend, sink, Options{
		Model:        "m",
		SystemPrompt: "sys",
		Temperature:  0.7,
		TopP:         0.9,
		Progress:     func(full string) { progress = append(progress, full) },
	}, testLogger())

	prior := history(14)
	reply, next, err := orch.HandleTurn(context.Background(), "hello", prior)
	if err != nil {
		t.Fatalf("handle turn: %v", err)
	}
	if reply != "Hi there. This is a test. Ok" {
		t.Fatalf("unexpected reply %q", reply)
	}
	want := []string{"Hi there. This is a test.", "Ok"}
	if strings.Join(sink.sentences, "|") != strings.Join(want, "|") {
		t.Fatalf("sentences = %q, want %q", sink.sentences, want)
	}
	if len(progress) != 4 || progress[3] != reply {
		t.Fatalf("unexpected progress %q", progress)
	}

	if len(backend.requests) != 1 {
		t.Fatal("expected one backend request")
	}
	sent := backend.requests[0]
	if len(sent.Messages) != 12 || sent.Model != "m" || sent.TopP != 0.9 {
		t.Fatalf("unexpected request: %d messages %+v", len(sent.Messages), sent)
	}

	if len(next) != len(prior)+2 {
		t.Fatalf("expected history to grow by 2, got %d", len(next))
	}
	if next[len(next)-1].Role != chat.RoleAssistant || next[len(next)-1].Content != reply {
		t.Fatalf("unexpected assistant turn %+v", next[len(next)-1])
	}
	if len(prior) != 14 {
		t.Fatal("caller history must not be modified")
	}
}

func TestHandleTurnOpenFailureLeavesHistory(t *testing.T) {
	backend := &fakeBackend{openErr: &chat.TransportError{StatusCode: 503, Status: "503 Service Unavailable"}}
	sink := &recordingSink{}
	orch := New(backend, sink, Options{}, testLogger())

	prior := history(2)
	_, next, err := orch.HandleTurn(context.Background(), "hello", prior)
	var terr *chat.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if len(next) != 2 || len(sink.sentences) != 0 {
		t.Fatalf("history or dispatches changed: %d %q", len(next), sink.sentences)
	}
}

func TestHandleTurnReadFailureKeepsDispatchedSentences(t *testing.T) {
	backend := &fakeBackend{
		fragments: []string{"This is a test.", " And then"},
		recvErr:   errors.New("connection reset"),
	}
	sink := &recordingSink{}
	orch := New(backend, sink, Options{}, testLogger())

	reply, next, err := orch.HandleTurn(context.Background(), "hello", nil)
	if err == nil {
		t.Fatal("expected read error")
	}
	if reply != "This is a test. And then" {
		t.Fatalf("expected partial reply, got %q", reply)
	}
	if len(sink.sentences) != 1 {
		t.Fatalf("expected the completed sentence to be dispatched, got %q", sink.sentences)
	}
	if len(next) != 0 {
		t.Fatal("history should be unchanged on failure")
	}
}

func TestSessionSendAccumulatesHistory(t *testing.T) {
	backend := &fakeBackend{fragments: []string{"Sure thing, here you go."}}
	sink := &recordingSink{}
	pub := &recordingPublisher{}
	sess := NewSession("s-1", New(backend, sink, Options{SystemPrompt: "sys"}, testLogger()), pub, testLogger())

	for i := range 8 {
		if _, err := sess.Send(context.Background(), fmt.Sprintf("question %d", i)); err != nil {
			t.Fatal(err)
		}
	}
	if got := len(sess.History()); got != 16 {
		t.Fatalf("expected 16 recorded turns, got %d", got)
	}
	last := backend.requests[len(backend.requests)-1]
	if len(last.Messages) != 12 {
		t.Fatalf("request should carry system + 10 turns + user, got %d", len(last.Messages))
	}
	if pub.count(protocol.SubjectTurnCompleted) != 8 {
		t.Fatalf("expected 8 turn events, got %d", pub.count(protocol.SubjectTurnCompleted))
	}
	evt := pub.payloads[0].(protocol.TurnEvent)
	if evt.SessionID != "s-1" || evt.Sentences != 1 || evt.ReplyChars != len("Sure thing, here you go.") {
		t.Fatalf("unexpected turn event %+v", evt)
	}
}
