package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-voice/internal/chat"
	"github.com/loqalabs/loqa-voice/internal/config"
)

// Sink receives completed sentences. Dispatch must not block.
type Sink interface {
	Dispatch(sentence string)
}

type Options struct {
	Model            string
	SystemPrompt     string
	HistoryTurns     int
	Temperature      float64
	TopP             float64
	MinSentenceChars int
	// Progress, when set, is called with the reply so far after every
	// fragment. It runs on the reader goroutine.
	Progress func(full string)
}

func OptionsFromConfig(chatCfg config.ChatConfig, speechCfg config.SpeechConfig) Options {
	return Options{
		Model:            chatCfg.Model,
		SystemPrompt:     chatCfg.SystemPrompt,
		HistoryTurns:     chatCfg.HistoryTurns,
		Temperature:      chatCfg.Temperature,
		TopP:             chatCfg.TopP,
		MinSentenceChars: speechCfg.MinSentenceLen,
	}
}

// Orchestrator reads one reply stream per turn and hands each completed
// sentence to its sink while the stream is still arriving.
type Orchestrator struct {
	backend chat.Backend
	sink    Sink
	opts    Options
	logger  *slog.Logger
}

func New(backend chat.Backend, sink Sink, opts Options, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		backend: backend,
		sink:    sink,
		opts:    opts,
		logger:  logger.With(slog.String("component", "orchestrator")),
	}
}

type turnResult struct {
	reply     string
	history   []chat.Message
	sentences int
}

// HandleTurn streams a reply to userMessage. On success the returned
// history has the user turn and the full reply appended. On a stream
// failure the partial reply is returned with the error and history is
// unchanged; sentences already dispatched keep playing.
func (o *Orchestrator) HandleTurn(ctx context.Context, userMessage string, history []chat.Message) (string, []chat.Message, error) {
	res, err := o.handleTurn(ctx, userMessage, history)
	return res.reply, res.history, err
}

func (o *Orchestrator) handleTurn(ctx context.Context, userMessage string, history []chat.Message) (turnResult, error) {
	started := time.Now()
	messages := BuildMessages(o.opts.SystemPrompt, history, userMessage, o.opts.HistoryTurns)
	req := chat.Request{
		Model:       o.opts.Model,
		Messages:    messages,
		Temperature: o.opts.Temperature,
		TopP:        o.opts.TopP,
	}

	stream, err := o.backend.Stream(ctx, req)
	if err != nil {
		return turnResult{history: history}, fmt.Errorf("open reply stream: %w", err)
	}
	defer stream.Close()

	acc := NewAccumulator(o.opts.MinSentenceChars)
	sentences := 0
	for {
		fragment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return turnResult{reply: acc.Full(), history: history, sentences: sentences},
				fmt.Errorf("read reply stream: %w", err)
		}
		if sentence, ok := acc.Push(fragment); ok {
			o.sink.Dispatch(sentence)
			sentences++
		}
		if o.opts.Progress != nil {
			o.opts.Progress(acc.Full())
		}
	}
	if sentence, ok := acc.Flush(); ok {
		o.sink.Dispatch(sentence)
		sentences++
	}

	reply := acc.Full()
	o.logger.Debug("turn completed",
		slog.Int("history_turns", len(messages)-1),
		slog.Int("sentences", sentences),
		slog.Duration("elapsed", time.Since(started)))

	return turnResult{
		reply:     reply,
		history:   appendTurn(history, userMessage, reply),
		sentences: sentences,
	}, nil
}
