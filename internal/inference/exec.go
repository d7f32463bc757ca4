package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"

	"github.com/mattn/go-shellwords"
)

// execEngine runs an external renderer once per call: a JSON request on
// stdin, a JSON result on stdout. Calls do not share state, so no lock.
type execEngine struct {
	cmd        []string
	device     string
	sampleRate int
}

type execRequest struct {
	Text        string  `json:"text"`
	Device      string  `json:"device,omitempty"`
	MaxSecs     float64 `json:"max_secs,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	TopK        int     `json:"top_k,omitempty"`
}

type execTensor struct {
	Shape         []int  `json:"shape"`
	SamplesBase64 string `json:"samples_base64"`
	Device        string `json:"device,omitempty"`
}

type execPart struct {
	Tensor *execTensor `json:"tensor,omitempty"`
	Value  any         `json:"value,omitempty"`
}

type execResponse struct {
	execTensor
	Parts []execPart `json:"parts,omitempty"`
	Error string     `json:"error,omitempty"`
}

func NewExecEngine(command, device string, sampleRate int) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse inference command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("inference command empty")
	}
	return &execEngine{cmd: args, device: device, sampleRate: sampleRate}, nil
}

func (e *execEngine) SampleRate() int { return e.sampleRate }

func (e *execEngine) Render(ctx context.Context, text string, params Params) (Result, error) {
	payload := execRequest{
		Text:        text,
		Device:      e.device,
		MaxSecs:     params.MaxSeconds,
		Temperature: params.Temperature,
		TopK:        params.TopK,
	}
	input, err := json.Marshal(payload)
	if err != nil {
		return Result{}, err
	}

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return Result{}, fmt.Errorf("inference command failed: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}

	var resp execResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return Result{}, fmt.Errorf("decode inference response: %w", err)
	}
	if resp.Error != "" {
		return Result{}, fmt.Errorf("inference backend: %s", resp.Error)
	}

	if len(resp.Parts) > 0 {
		parts := make([]any, 0, len(resp.Parts))
		for i, p := range resp.Parts {
			if p.Tensor == nil {
				parts = append(parts, p.Value)
				continue
			}
			t, err := p.Tensor.decode()
			if err != nil {
				return Result{}, fmt.Errorf("decode part %d: %w", i, err)
			}
			parts = append(parts, t)
		}
		return Result{Parts: parts}, nil
	}

	t, err := resp.execTensor.decode()
	if err != nil {
		return Result{}, err
	}
	return Result{Tensor: t}, nil
}

func (et execTensor) decode() (*Tensor, error) {
	raw, err := base64.StdEncoding.DecodeString(et.SamplesBase64)
	if err != nil {
		return nil, fmt.Errorf("decode samples: %w", err)
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("sample payload not aligned to float32")
	}
	data := make([]float32, len(raw)/4)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	t, err := NewTensor(data, et.Shape...)
	if err != nil {
		return nil, err
	}
	if et.Device != "" {
		t.Device = et.Device
	}
	return t, nil
}

// EncodeSamples is the inverse of the wire decoding used by exec renderers.
func EncodeSamples(data []float32) string {
	raw := make([]byte, len(data)*4)
	for i, v := range data {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	return base64.StdEncoding.EncodeToString(raw)
}
