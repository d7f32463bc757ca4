package chat

import (
	"context"
	"io"
	"strings"
	"time"
)

type mockBackend struct {
	reply string
}

// NewMockBackend replays reply word by word. An empty reply echoes the last
// user message.
func NewMockBackend(reply string) Backend { return &mockBackend{reply: reply} }

func (m *mockBackend) Stream(ctx context.Context, req Request) (Stream, error) {
	reply := m.reply
	if reply == "" {
		reply = "You said: " + lastUserMessage(req.Messages) + ". This is a mock reply."
	}
	return &mockStream{ctx: ctx, fragments: strings.SplitAfter(reply, " ")}, nil
}

func lastUserMessage(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return strings.TrimRight(strings.TrimSpace(messages[i].Content), ".!?")
		}
	}
	return ""
}

type mockStream struct {
	ctx       context.Context
	fragments []string
}

func (s *mockStream) Recv() (string, error) {
	if len(s.fragments) == 0 {
		return "", io.EOF
	}
	select {
	case <-s.ctx.Done():
		return "", s.ctx.Err()
	case <-time.After(time.Millisecond):
	}
	next := s.fragments[0]
	s.fragments = s.fragments[1:]
	return next, nil
}

func (s *mockStream) Close() error { return nil }
