package synthesis

import (
	"context"
	_ "embed"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/loqalabs/loqa-voice/internal/audio"
)

const (
	SpeechPath  = "/v1/audio/speech"
	OpenAPIPath = "/v1/openapi.json"

	defaultChunkSize = 16384
	maxBodyBytes     = 1 << 20
)

//go:embed openapi.json
var openAPIDocument []byte

// Outcome describes a finished request for journaling and event publishing.
type Outcome struct {
	RequestID string
	Format    audio.Format
	Stream    bool
	Chars     int
	Bytes     int
	Fallback  bool
	Latency   time.Duration
	Err       error
}

// Observer is notified once per request after the response is decided.
type Observer interface {
	Observe(ctx context.Context, outcome Outcome)
}

type ObserverFunc func(ctx context.Context, outcome Outcome)

func (f ObserverFunc) Observe(ctx context.Context, outcome Outcome) { f(ctx, outcome) }

type HandlerOptions struct {
	ChunkSize int
	Timeout   time.Duration
	Observer  Observer
}

// Handler serves the speech endpoint and its OpenAPI description.
type Handler struct {
	svc    *Service
	opts   HandlerOptions
	logger *slog.Logger
}

func NewHandler(svc *Service, opts HandlerOptions, logger *slog.Logger) *Handler {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	return &Handler{
		svc:    svc,
		opts:   opts,
		logger: logger.With(slog.String("component", "speech-handler")),
	}
}

// Register mounts the routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST "+SpeechPath, h.serveSpeech)
	mux.HandleFunc("GET "+OpenAPIPath, h.serveOpenAPI)
}

type speechRequest struct {
	Model          string   `json:"model"`
	Input          string   `json:"input"`
	Voice          *string  `json:"voice,omitempty"`
	ResponseFormat string   `json:"response_format"`
	Speed          *float64 `json:"speed,omitempty"`
	Stream         bool     `json:"stream"`
}

type errorBody struct {
	Detail string `json:"detail"`
}

func (h *Handler) serveSpeech(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	requestID := uuid.NewString()
	w.Header().Set("X-Request-ID", requestID)

	var body speechRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	req := Request{
		Text:   body.Input,
		Format: audio.ParseFormat(body.ResponseFormat),
		Stream: body.Stream,
	}
	outcome := Outcome{
		RequestID: requestID,
		Format:    req.Format,
		Stream:    req.Stream,
		Chars:     len([]rune(req.Text)),
	}
	ctx := r.Context()

	if h.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opts.Timeout)
		defer cancel()
	}

	res, err := h.svc.Synthesize(ctx, req)
	if err != nil {
		outcome.Err = err
		h.observe(ctx, &outcome, started)
		if IsClientError(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("synthesis failed",
			slog.String("request_id", requestID),
			slogError(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	outcome.Bytes = len(res.Audio)
	outcome.Fallback = res.Fallback
	h.observe(ctx, &outcome, started)

	w.Header().Set("Content-Type", res.MIMEType)
	if req.Stream {
		h.streamAudio(w, res.Audio)
		return
	}
	h.writeAudio(w, res.Audio)
}

// observe runs before the response is written so observers see every
// request the client has seen.
func (h *Handler) observe(ctx context.Context, outcome *Outcome, started time.Time) {
	if h.opts.Observer == nil {
		return
	}
	outcome.Latency = time.Since(started)
	h.opts.Observer.Observe(context.WithoutCancel(ctx), *outcome)
}

func (h *Handler) writeAudio(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Warn("write response failed", slogError(err))
	}
}

// streamAudio delivers data in fixed-size chunks. Concatenated, the chunks
// are identical to the buffered body.
func (h *Handler) streamAudio(w http.ResponseWriter, data []byte) {
	flusher, _ := w.(http.Flusher)
	w.WriteHeader(http.StatusOK)
	for _, chunk := range Chunks(data, h.opts.ChunkSize) {
		if _, err := w.Write(chunk); err != nil {
			h.logger.Warn("stream aborted", slogError(err))
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (h *Handler) serveOpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openAPIDocument)
}

// Chunks splits data into consecutive slices of at most size bytes.
func Chunks(data []byte, size int) [][]byte {
	if size <= 0 {
		size = defaultChunkSize
	}
	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for len(data) > 0 {
		n := min(size, len(data))
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return chunks
}

func writeError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Detail: detail})
}
