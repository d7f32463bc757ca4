package inference

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-voice/internal/config"
)

// Params tunes a render call. The zero value asks the engine for its defaults.
type Params struct {
	MaxSeconds  float64
	Temperature float64
	TopK        int
}

// Result is what a render call returns: either a single buffer or a
// composite whose elements may or may not be audio buffers.
type Result struct {
	Tensor *Tensor
	Parts  []any
}

// Composite reports whether the result carries several parts.
func (r Result) Composite() bool {
	return r.Tensor == nil && r.Parts != nil
}

// Engine is the speech model. Implementations must tolerate concurrent Render calls.
type Engine interface {
	Render(ctx context.Context, text string, params Params) (Result, error)
	SampleRate() int
}

// NewEngine builds the engine named by cfg.Mode.
func NewEngine(cfg config.InferenceConfig) (Engine, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockEngine(cfg.SampleRate), nil
	case "exec":
		return NewExecEngine(cfg.Command, cfg.Device, cfg.SampleRate)
	default:
		return nil, fmt.Errorf("unsupported inference mode %q", cfg.Mode)
	}
}
