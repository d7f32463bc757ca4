package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

const maxLineBytes = 1 << 20

type ollamaBackend struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewOllamaBackend streams from Ollama's /api/chat. A nil client uses
// http.DefaultClient; no overall timeout is applied to the reply.
func NewOllamaBackend(endpoint string, client *http.Client, logger *slog.Logger) Backend {
	if client == nil {
		client = http.DefaultClient
	}
	return &ollamaBackend{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   client,
		logger:   logger.With(slog.String("component", "chat-ollama")),
	}
}

type ollamaRequest struct {
	Model    string        `json:"model"`
	Messages []Message     `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

type ollamaStreamResponse struct {
	Message *Message `json:"message,omitempty"`
	Done    bool     `json:"done"`
	Error   string   `json:"error,omitempty"`
}

func (b *ollamaBackend) Stream(ctx context.Context, req Request) (Stream, error) {
	payload := ollamaRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   true,
		Options: ollamaOptions{
			Temperature: req.Temperature,
			TopP:        req.TopP,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, &TransportError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &ollamaStream{ctx: ctx, body: resp.Body, scanner: scanner, logger: b.logger}, nil
}

type ollamaStream struct {
	ctx     context.Context
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
	logger  *slog.Logger
}

func (s *ollamaStream) Recv() (string, error) {
	for !s.done {
		if err := s.ctx.Err(); err != nil {
			return "", err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return "", err
			}
			s.done = true
			break
		}
		line := s.scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var chunk ollamaStreamResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			s.logger.Debug("skipping malformed stream line", slogError(err))
			continue
		}
		if chunk.Error != "" {
			return "", errors.New(chunk.Error)
		}
		if chunk.Done {
			s.done = true
		}
		if chunk.Message != nil && chunk.Message.Content != "" {
			return chunk.Message.Content, nil
		}
	}
	return "", io.EOF
}

func (s *ollamaStream) Close() error {
	return s.body.Close()
}
