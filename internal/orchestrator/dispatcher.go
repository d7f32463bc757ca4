package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/loqa-voice/internal/playback"
	"github.com/loqalabs/loqa-voice/internal/protocol"
	"github.com/loqalabs/loqa-voice/internal/speech"
)

const (
	defaultDispatchTimeout = 60 * time.Second
	defaultCleanupDelay    = 10 * time.Second
)

// Synthesizer turns one sentence into an encoded clip.
type Synthesizer interface {
	Synthesize(ctx context.Context, req speech.Request) ([]byte, error)
}

// EventPublisher receives dispatch lifecycle events. *bus.Client satisfies it.
type EventPublisher interface {
	PublishJSON(subject string, v any) error
}

type DispatcherOptions struct {
	SessionID    string
	Timeout      time.Duration
	CleanupDelay time.Duration
	TempDir      string
	Normalize    bool
	Events       EventPublisher
}

// Dispatcher runs every sentence as an independent synthesis and playback
// task. Tasks never wait on each other, so clips may play out of order.
type Dispatcher struct {
	synth  Synthesizer
	player playback.Player
	opts   DispatcherOptions
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	seq    atomic.Int64
	muted  atomic.Bool

	dispatches metric.Int64Counter
}

func NewDispatcher(parent context.Context, synth Synthesizer, player playback.Player, opts DispatcherOptions, logger *slog.Logger) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultDispatchTimeout
	}
	if opts.CleanupDelay <= 0 {
		opts.CleanupDelay = defaultCleanupDelay
	}
	ctx, cancel := context.WithCancel(parent)
	d := &Dispatcher{
		synth:  synth,
		player: player,
		opts:   opts,
		logger: logger.With(slog.String("component", "dispatcher")),
		ctx:    ctx,
		cancel: cancel,
	}
	counter, err := otel.Meter("github.com/loqalabs/loqa-voice/orchestrator").Int64Counter(
		"loqa.speech.dispatches",
		metric.WithDescription("Sentence dispatches by outcome"))
	if err != nil {
		d.logger.Warn("failed to initialize metrics", slogError(err))
	}
	d.dispatches = counter
	return d
}

// SetMuted toggles synthesis for sentences dispatched after the call.
func (d *Dispatcher) SetMuted(muted bool) { d.muted.Store(muted) }

func (d *Dispatcher) Muted() bool { return d.muted.Load() }

// Dispatch starts a task for sentence and returns immediately.
func (d *Dispatcher) Dispatch(sentence string) {
	seq := d.seq.Add(1)
	if d.muted.Load() {
		d.logger.Debug("muted, skipping sentence", slog.Int64("sequence", seq))
		d.count(outcomeSkipped)
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(seq, sentence)
	}()
}

// Wait blocks until every started task has finished.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// Close abandons in-flight tasks and waits for them to exit.
func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
}

const (
	outcomePlayed  = "played"
	outcomeFailed  = "failed"
	outcomeSkipped = "skipped"
)

func (d *Dispatcher) run(seq int64, sentence string) {
	text := strings.TrimSpace(sentence)
	if d.opts.Normalize {
		// Markup-only text is still spoken as-is.
		if n := NormalizeSentence(sentence); n != "" {
			text = n
		}
	}
	if text == "" {
		d.count(outcomeSkipped)
		return
	}
	log := d.logger.With(slog.Int64("sequence", seq))
	d.publish(protocol.SubjectSentenceDispatched, seq, text, nil)

	ctx, cancel := context.WithTimeout(d.ctx, d.opts.Timeout)
	clip, err := d.synth.Synthesize(ctx, speech.Request{Input: text, ResponseFormat: "wav"})
	cancel()
	if err != nil {
		d.fail(log, seq, text, fmt.Errorf("synthesize: %w", err))
		return
	}

	path, err := d.materialize(clip)
	if err != nil {
		d.fail(log, seq, text, err)
		return
	}

	done, err := d.player.Play(d.ctx, path)
	if err != nil {
		release(path)
		d.fail(log, seq, text, err)
		return
	}

	timer := time.NewTimer(d.opts.CleanupDelay)
	defer timer.Stop()
	select {
	case err, ok := <-done:
		release(path)
		d.finish(log, seq, text, ok, err)
		return
	case <-timer.C:
	case <-d.ctx.Done():
	}
	// Playback may still be reading the file; removal is best-effort.
	release(path)
	if done == nil {
		d.finish(log, seq, text, false, nil)
		return
	}
	select {
	case err, ok := <-done:
		d.finish(log, seq, text, ok, err)
	case <-d.ctx.Done():
	}
}

func (d *Dispatcher) finish(log *slog.Logger, seq int64, text string, observed bool, err error) {
	if err != nil {
		d.fail(log, seq, text, fmt.Errorf("playback: %w", err))
		return
	}
	log.Debug("sentence played", slog.Bool("observed", observed))
	d.count(outcomePlayed)
	d.publish(protocol.SubjectSentencePlayed, seq, text, nil)
}

func (d *Dispatcher) fail(log *slog.Logger, seq int64, text string, err error) {
	log.Warn("sentence dropped", slogError(err))
	d.count(outcomeFailed)
	d.publish(protocol.SubjectSentenceFailed, seq, text, err)
}

func (d *Dispatcher) materialize(clip []byte) (string, error) {
	f, err := os.CreateTemp(d.opts.TempDir, "loqa-speech-*.wav")
	if err != nil {
		return "", fmt.Errorf("create clip file: %w", err)
	}
	if _, err := f.Write(clip); err != nil {
		f.Close()
		release(f.Name())
		return "", fmt.Errorf("write clip file: %w", err)
	}
	if err := f.Close(); err != nil {
		release(f.Name())
		return "", fmt.Errorf("close clip file: %w", err)
	}
	return f.Name(), nil
}

func release(path string) {
	_ = os.Remove(path)
}

func (d *Dispatcher) count(outcome string) {
	if d.dispatches == nil {
		return
	}
	d.dispatches.Add(d.ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (d *Dispatcher) publish(subject string, seq int64, text string, err error) {
	if d.opts.Events == nil {
		return
	}
	evt := protocol.SentenceEvent{
		SessionID: d.opts.SessionID,
		Sequence:  seq,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		evt.Error = err.Error()
	}
	if perr := d.opts.Events.PublishJSON(subject, evt); perr != nil {
		d.logger.Warn("failed to publish dispatch event", slogError(perr))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
