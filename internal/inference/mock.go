package inference

import (
	"context"
	"math"
	"time"
	"unicode/utf8"
)

const (
	mockSecondsPerChar = 0.06
	mockDefaultMaxSecs = 60
	mockToneHz         = 220
)

type mockEngine struct {
	sampleRate int
}

// NewMockEngine renders a mono sine tone whose length scales with the text.
func NewMockEngine(sampleRate int) Engine {
	return &mockEngine{sampleRate: sampleRate}
}

func (m *mockEngine) SampleRate() int { return m.sampleRate }

func (m *mockEngine) Render(ctx context.Context, text string, params Params) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-time.After(10 * time.Millisecond):
	}

	seconds := float64(utf8.RuneCountInString(text)) * mockSecondsPerChar
	limit := params.MaxSeconds
	if limit <= 0 {
		limit = mockDefaultMaxSecs
	}
	seconds = math.Min(seconds, limit)
	n := int(seconds * float64(m.sampleRate))
	if n == 0 {
		n = 1
	}

	amp := 0.3
	if params.Temperature > 0 {
		amp = math.Min(0.9, 0.3+params.Temperature/10)
	}
	data := make([]float32, n)
	for i := range data {
		data[i] = float32(amp * math.Sin(2*math.Pi*mockToneHz*float64(i)/float64(m.sampleRate)))
	}
	// batch x channel x samples, mirroring what most decoder heads emit
	return Result{Tensor: &Tensor{Shape: []int{1, 1, n}, Data: data, Device: DeviceCPU}}, nil
}
