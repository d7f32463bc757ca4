package protocol

import "time"

// SynthesisEvent is published once per /v1/audio/speech request.
type SynthesisEvent struct {
	RequestID string    `json:"request_id"`
	Format    string    `json:"format"`
	Stream    bool      `json:"stream"`
	Chars     int       `json:"chars"`
	Bytes     int       `json:"bytes"`
	Fallback  bool      `json:"fallback"`
	LatencyMS int64     `json:"latency_ms"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SentenceEvent tracks one dispatched sentence through synthesis and playback.
type SentenceEvent struct {
	SessionID string    `json:"session_id"`
	Sequence  int64     `json:"sequence"`
	Text      string    `json:"text"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TurnEvent summarizes a completed conversation turn. It carries no content.
type TurnEvent struct {
	SessionID  string    `json:"session_id"`
	ReplyChars int       `json:"reply_chars"`
	Sentences  int       `json:"sentences"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	SubjectSynthesisCompleted = "tts.synthesis.completed"
	SubjectSynthesisFailed    = "tts.synthesis.failed"

	SubjectSentenceDispatched = "speech.sentence.dispatched"
	SubjectSentencePlayed     = "speech.sentence.played"
	SubjectSentenceFailed     = "speech.sentence.failed"
	SubjectTurnCompleted      = "speech.turn.completed"
)
