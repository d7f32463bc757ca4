package synthesis

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/loqa-voice/internal/audio"
)

const (
	outcomeOK       = "ok"
	outcomeFallback = "fallback"
	outcomeFailed   = "failed"
	outcomeInvalid  = "invalid"
)

type metrics struct {
	requests  metric.Int64Counter
	fallbacks metric.Int64Counter
	duration  metric.Float64Histogram
}

func newMetrics() (*metrics, error) {
	meter := otel.Meter("github.com/loqalabs/loqa-voice/synthesis")
	requests, err := meter.Int64Counter("loqa.synthesis.requests",
		metric.WithDescription("Synthesis requests by format and outcome"))
	if err != nil {
		return nil, err
	}
	fallbacks, err := meter.Int64Counter("loqa.synthesis.fallbacks",
		metric.WithDescription("Fallback render attempts"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("loqa.synthesis.duration",
		metric.WithDescription("End-to-end synthesis latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &metrics{requests: requests, fallbacks: fallbacks, duration: duration}, nil
}

func (m *metrics) record(ctx context.Context, format audio.Format, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("format", string(format)),
		attribute.String("outcome", outcome),
	)
	m.requests.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}

func (m *metrics) fallback(ctx context.Context, format audio.Format) {
	if m == nil {
		return
	}
	m.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("format", string(format))))
}
