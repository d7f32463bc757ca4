package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os/exec"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-voice/internal/inference"
)

const (
	bitDepth      = 16
	wavFormatPCM  = 1
	maxSampleInt  = 32767
	transcodeSink = "pipe:1"
)

// transcodeArgs are appended to the external encoder command per format.
var transcodeArgs = map[Format][]string{
	FormatMP3:  {"-f", "mp3"},
	FormatOpus: {"-c:a", "libopus", "-f", "ogg"},
	FormatFLAC: {"-f", "flac"},
	FormatAAC:  {"-c:a", "aac", "-f", "adts"},
}

// Encoder turns a channels x samples buffer into container bytes. WAV and PCM
// are produced in-process; compressed formats are transcoded from WAV by an
// external command that reads stdin and writes stdout.
type Encoder struct {
	transcoder []string
}

func NewEncoder(command string) (*Encoder, error) {
	enc := &Encoder{}
	if command == "" {
		return enc, nil
	}
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse encoder command: %w", err)
	}
	enc.transcoder = args
	return enc, nil
}

func (e *Encoder) Encode(ctx context.Context, t *inference.Tensor, sampleRate int, format Format) ([]byte, error) {
	if !Known(format) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if t.Rank() != 2 {
		return nil, fmt.Errorf("encode expects channels x samples, got shape %v", t.Shape)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	switch format {
	case FormatWAV:
		return encodeWAV(t, sampleRate)
	case FormatPCM:
		return encodePCM(t), nil
	}
	extra := transcodeArgs[format]
	if len(e.transcoder) == 0 {
		return nil, fmt.Errorf("no encoder command configured for %s", format)
	}
	wavBytes, err := encodeWAV(t, sampleRate)
	if err != nil {
		return nil, err
	}
	return e.transcode(ctx, wavBytes, extra)
}

func (e *Encoder) transcode(ctx context.Context, wavBytes []byte, extra []string) ([]byte, error) {
	args := append([]string{}, e.transcoder[1:]...)
	args = append(args, extra...)
	args = append(args, transcodeSink)
	cmd := exec.CommandContext(ctx, e.transcoder[0], args...)
	cmd.Stdin = bytes.NewReader(wavBytes)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("encoder command failed: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("encoder command produced no output")
	}
	return stdout.Bytes(), nil
}

// interleave converts planar float samples to interleaved 16-bit integers.
func interleave(t *inference.Tensor) []int {
	channels, samples := t.Shape[0], t.Shape[1]
	out := make([]int, channels*samples)
	for c := 0; c < channels; c++ {
		row := t.Channel(c)
		for i, v := range row {
			out[i*channels+c] = toInt16(v)
		}
	}
	return out
}

// toInt16 scales a [-1, 1] sample to 16 bits. Out-of-range values clip and
// NaN is silence.
func toInt16(v float32) int {
	switch {
	case math.IsNaN(float64(v)):
		return 0
	case v >= 1:
		return maxSampleInt
	case v <= -1:
		return -maxSampleInt
	}
	return int(v * maxSampleInt)
}

func encodeWAV(t *inference.Tensor, sampleRate int) ([]byte, error) {
	channels := t.Shape[0]
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           interleave(t),
		SourceBitDepth: bitDepth,
	}
	out := &seekBuffer{}
	enc := wav.NewEncoder(out, sampleRate, bitDepth, channels, wavFormatPCM)
	if err := enc.Write(buffer); err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close wav encoder: %w", err)
	}
	return out.Bytes(), nil
}

func encodePCM(t *inference.Tensor) []byte {
	samples := interleave(t)
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s)))
	}
	return out
}
