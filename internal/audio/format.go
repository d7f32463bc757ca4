package audio

import (
	"errors"
	"strings"
)

// Format names a container/codec accepted on the speech endpoint.
type Format string

const (
	FormatWAV  Format = "wav"
	FormatMP3  Format = "mp3"
	FormatOpus Format = "opus"
	FormatFLAC Format = "flac"
	FormatAAC  Format = "aac"
	FormatPCM  Format = "pcm"
)

const fallbackMIME = "application/octet-stream"

var mimeTypes = map[Format]string{
	FormatWAV:  "audio/wav",
	FormatMP3:  "audio/mpeg",
	FormatOpus: "audio/ogg",
	FormatFLAC: "audio/flac",
	FormatAAC:  "audio/aac",
	FormatPCM:  "audio/L16",
}

// ErrUnsupportedFormat is returned when no encoder exists for a format.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// ParseFormat normalizes a format string. Empty input means wav.
func ParseFormat(s string) Format {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return FormatWAV
	}
	return Format(s)
}

// MIMEType maps a format to its content type, falling back to a generic binary type.
func MIMEType(f Format) string {
	if mime, ok := mimeTypes[f]; ok {
		return mime
	}
	return fallbackMIME
}

// Known reports whether f is one of the supported formats.
func Known(f Format) bool {
	_, ok := mimeTypes[f]
	return ok
}
