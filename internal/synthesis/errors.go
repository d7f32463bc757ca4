package synthesis

import (
	"errors"
	"fmt"

	"github.com/loqalabs/loqa-voice/internal/audio"
)

// ValidationError rejects a request before any inference work.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// InferenceError covers a failed model call or an unusable result shape.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string { return fmt.Sprintf("inference: %v", e.Err) }
func (e *InferenceError) Unwrap() error { return e.Err }

// EncodingError means a normalized buffer could not be written as Format.
type EncodingError struct {
	Format audio.Format
	Err    error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode %s: %v", e.Format, e.Err)
}
func (e *EncodingError) Unwrap() error { return e.Err }

// SynthesisError is returned after both the primary and fallback attempts fail.
type SynthesisError struct {
	Primary  error
	Fallback error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("render failed: %v. Fallback failed: %v", e.Primary, e.Fallback)
}

func (e *SynthesisError) Unwrap() []error { return []error{e.Primary, e.Fallback} }

var errNoAudio = errors.New("no audio buffer found in composite result")

// IsClientError reports whether err should surface as a 4xx.
func IsClientError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
