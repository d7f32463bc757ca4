package orchestrator

import (
	"context"
	"log/slog"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/loqalabs/loqa-voice/internal/chat"
	"github.com/loqalabs/loqa-voice/internal/protocol"
)

// Session owns the history of one conversation. It is not safe for
// concurrent Send calls.
type Session struct {
	ID      string
	orch    *Orchestrator
	history []chat.Message
	events  EventPublisher
	logger  *slog.Logger
}

func NewSession(id string, orch *Orchestrator, events EventPublisher, logger *slog.Logger) *Session {
	return &Session{
		ID:     id,
		orch:   orch,
		events: events,
		logger: logger.With(slog.String("component", "session"), slog.String("session_id", id)),
	}
}

// Send runs one turn and records it in the session history.
func (s *Session) Send(ctx context.Context, message string) (string, error) {
	res, err := s.orch.handleTurn(ctx, message, s.history)
	if err != nil {
		return res.reply, err
	}
	s.history = res.history
	if s.events != nil {
		evt := protocol.TurnEvent{
			SessionID:  s.ID,
			ReplyChars: utf8.RuneCountInString(res.reply),
			Sentences:  res.sentences,
			Timestamp:  time.Now().UTC(),
		}
		if perr := s.events.PublishJSON(protocol.SubjectTurnCompleted, evt); perr != nil {
			s.logger.Warn("failed to publish turn event", slogError(perr))
		}
	}
	return res.reply, nil
}

// History returns a copy of the recorded turns.
func (s *Session) History() []chat.Message {
	return slices.Clone(s.history)
}
