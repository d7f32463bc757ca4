package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-voice/internal/config"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a chat transcript.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes a streamed completion.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	TopP        float64
}

// Stream yields reply fragments in order. Recv returns io.EOF once the reply
// is complete. A stream cannot be restarted.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Backend is a pluggable text-generation service.
type Backend interface {
	Stream(ctx context.Context, req Request) (Stream, error)
}

// TransportError reports a non-success HTTP status from a backend.
type TransportError struct {
	StatusCode int
	Status     string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("chat backend returned status %s", e.Status)
}

// NewBackend builds the backend named by cfg.Mode.
func NewBackend(cfg config.ChatConfig, logger *slog.Logger) (Backend, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockBackend(""), nil
	case "ollama":
		return NewOllamaBackend(cfg.Endpoint, nil, logger), nil
	case "openai":
		return NewOpenAIBackend(cfg.Endpoint, cfg.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported chat mode %q", cfg.Mode)
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
