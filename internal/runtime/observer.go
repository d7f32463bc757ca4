package runtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-voice/internal/eventstore"
	"github.com/loqalabs/loqa-voice/internal/protocol"
	"github.com/loqalabs/loqa-voice/internal/synthesis"
)

type publisher interface {
	PublishJSON(subject string, v any) error
}

// outcomeRecorder journals every synthesis request and mirrors it on the bus.
type outcomeRecorder struct {
	store  *eventstore.Store
	events publisher
	logger *slog.Logger
}

func (o *outcomeRecorder) Observe(ctx context.Context, out synthesis.Outcome) {
	var errText string
	if out.Err != nil {
		errText = out.Err.Error()
	}
	now := time.Now().UTC()

	if err := o.store.Record(ctx, eventstore.Entry{
		RequestID: out.RequestID,
		Format:    string(out.Format),
		Stream:    out.Stream,
		Chars:     out.Chars,
		Bytes:     out.Bytes,
		Fallback:  out.Fallback,
		Latency:   out.Latency,
		Error:     errText,
		CreatedAt: now,
	}); err != nil {
		o.logger.Warn("failed to journal synthesis request", slogError(err))
	}

	if o.events == nil {
		return
	}
	subject := protocol.SubjectSynthesisCompleted
	if out.Err != nil {
		subject = protocol.SubjectSynthesisFailed
	}
	evt := protocol.SynthesisEvent{
		RequestID: out.RequestID,
		Format:    string(out.Format),
		Stream:    out.Stream,
		Chars:     out.Chars,
		Bytes:     out.Bytes,
		Fallback:  out.Fallback,
		LatencyMS: out.Latency.Milliseconds(),
		Error:     errText,
		Timestamp: now,
	}
	if err := o.events.PublishJSON(subject, evt); err != nil {
		o.logger.Warn("failed to publish synthesis event", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
