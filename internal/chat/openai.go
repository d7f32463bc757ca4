package chat

import (
	"context"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

type openAIBackend struct {
	client *openai.Client
}

// NewOpenAIBackend talks to any OpenAI-compatible chat completions API.
// An empty baseURL targets api.openai.com.
func NewOpenAIBackend(baseURL, apiKey string) Backend {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &openAIBackend{client: openai.NewClientWithConfig(cfg)}
}

func (b *openAIBackend) Stream(ctx context.Context, req Request) (Stream, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	stream, err := b.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		TopP:        float32(req.TopP),
		Stream:      true,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
			return nil, &TransportError{StatusCode: apiErr.HTTPStatusCode, Status: apiErr.HTTPStatus}
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) {
			return nil, &TransportError{StatusCode: reqErr.HTTPStatusCode, Status: reqErr.HTTPStatus}
		}
		return nil, err
	}
	return &openAIStream{stream: stream}, nil
}

type openAIStream struct {
	stream *openai.ChatCompletionStream
}

func (s *openAIStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if content := resp.Choices[0].Delta.Content; content != "" {
			return content, nil
		}
	}
}

func (s *openAIStream) Close() error {
	return s.stream.Close()
}
