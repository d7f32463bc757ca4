package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/inference"
)

const (
	minAudioSamples = 100
	warmupText      = "Hello, this is a warmup test."
	warmupSeconds   = 5
)

// Request is a validated-on-entry synthesis job.
type Request struct {
	Text   string
	Format audio.Format
	Stream bool
}

// Result is the encoded payload ready for delivery.
type Result struct {
	Audio      []byte
	MIMEType   string
	SampleRate int
	Fallback   bool
}

// Encoder writes a channels x samples buffer into a container.
type Encoder interface {
	Encode(ctx context.Context, t *inference.Tensor, sampleRate int, format audio.Format) ([]byte, error)
}

type Options struct {
	MaxInputChars int
	Primary       inference.Params
}

func DefaultOptions() Options {
	return Options{
		MaxInputChars: 4096,
		Primary:       inference.Params{MaxSeconds: 30, Temperature: 0.7, TopK: 100},
	}
}

// Service owns the process-wide engine handle. It keeps no per-request state.
type Service struct {
	engine  inference.Engine
	encoder Encoder
	opts    Options
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *metrics
}

func NewService(engine inference.Engine, encoder Encoder, opts Options, logger *slog.Logger) *Service {
	if opts.MaxInputChars <= 0 {
		opts.MaxInputChars = DefaultOptions().MaxInputChars
	}
	s := &Service{
		engine:  engine,
		encoder: encoder,
		opts:    opts,
		logger:  logger.With(slog.String("component", "synthesis")),
		tracer:  otel.Tracer("github.com/loqalabs/loqa-voice/synthesis"),
	}
	m, err := newMetrics()
	if err != nil {
		s.logger.Warn("failed to initialize metrics", slogError(err))
	}
	s.metrics = m
	return s
}

// Validate checks the input length in characters.
func (s *Service) Validate(req Request) error {
	n := utf8.RuneCountInString(req.Text)
	if n < 1 || n > s.opts.MaxInputChars {
		return &ValidationError{Message: fmt.Sprintf("input must be 1-%d characters", s.opts.MaxInputChars)}
	}
	return nil
}

// Synthesize runs the primary attempt and, if it fails, exactly one fallback
// attempt with engine defaults.
func (s *Service) Synthesize(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	if err := s.Validate(req); err != nil {
		s.metrics.record(ctx, req.Format, outcomeInvalid, time.Since(start))
		return Result{}, err
	}

	s.logger.Debug("synthesis started",
		slog.Int("chars", utf8.RuneCountInString(req.Text)),
		slog.String("format", string(req.Format)))

	data, primaryErr := s.attempt(ctx, req, s.opts.Primary, "primary")
	if primaryErr == nil {
		s.metrics.record(ctx, req.Format, outcomeOK, time.Since(start))
		return s.result(data, req.Format, false), nil
	}
	s.logger.Warn("primary render failed, retrying with engine defaults", slogError(primaryErr))
	s.metrics.fallback(ctx, req.Format)

	data, fallbackErr := s.attempt(ctx, req, inference.Params{}, "fallback")
	if fallbackErr != nil {
		s.logger.Error("fallback render failed", slogError(fallbackErr))
		s.metrics.record(ctx, req.Format, outcomeFailed, time.Since(start))
		return Result{}, &SynthesisError{Primary: primaryErr, Fallback: fallbackErr}
	}
	s.metrics.record(ctx, req.Format, outcomeFallback, time.Since(start))
	return s.result(data, req.Format, true), nil
}

func (s *Service) result(data []byte, format audio.Format, fallback bool) Result {
	return Result{
		Audio:      data,
		MIMEType:   audio.MIMEType(format),
		SampleRate: s.engine.SampleRate(),
		Fallback:   fallback,
	}
}

func (s *Service) attempt(ctx context.Context, req Request, params inference.Params, name string) (data []byte, err error) {
	ctx, span := s.tracer.Start(ctx, "synthesis.attempt", trace.WithAttributes(
		attribute.String("attempt", name),
		attribute.String("format", string(req.Format)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	res, err := s.engine.Render(ctx, req.Text, params)
	if err != nil {
		return nil, &InferenceError{Err: err}
	}
	wav, err := ExtractAudio(res)
	if err != nil {
		return nil, &InferenceError{Err: err}
	}
	wav, err = Normalize(wav)
	if err != nil {
		return nil, &InferenceError{Err: err}
	}
	data, err = s.encoder.Encode(ctx, wav, s.engine.SampleRate(), req.Format)
	if err != nil {
		return nil, &EncodingError{Format: req.Format, Err: err}
	}
	return data, nil
}

// Warmup renders a short phrase once. Failure is reported, not fatal.
func (s *Service) Warmup(ctx context.Context) error {
	res, err := s.engine.Render(ctx, warmupText, inference.Params{MaxSeconds: warmupSeconds})
	if err != nil {
		return err
	}
	wav, err := ExtractAudio(res)
	if err != nil {
		return err
	}
	s.logger.Info("warmup complete", slog.Any("shape", wav.Shape))
	return nil
}

// ExtractAudio picks the audio buffer out of a render result. Composite
// results yield their first tensor with more than 100 samples.
func ExtractAudio(res inference.Result) (*inference.Tensor, error) {
	if !res.Composite() {
		if res.Tensor == nil {
			return nil, errNoAudio
		}
		return res.Tensor, nil
	}
	for _, part := range res.Parts {
		if t, ok := part.(*inference.Tensor); ok && t != nil && t.Len() > minAudioSamples {
			return t, nil
		}
	}
	return nil, errNoAudio
}

// Normalize moves the buffer to host memory and reshapes it to channels x samples.
func Normalize(t *inference.Tensor) (*inference.Tensor, error) {
	t = t.ToHost()
	switch t.Rank() {
	case 3:
		if err := t.Squeeze(0); err != nil {
			return nil, fmt.Errorf("drop batch dimension: %w", err)
		}
	case 2:
	case 1:
		if err := t.Unsqueeze(0); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported audio rank %d (shape %v)", t.Rank(), t.Shape)
	}
	return t, nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
