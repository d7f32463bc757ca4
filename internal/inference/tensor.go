package inference

import (
	"fmt"
	"strings"
)

const DeviceCPU = "cpu"

// Tensor is a dense float32 sample buffer in row-major order.
type Tensor struct {
	Shape  []int
	Data   []float32
	Device string
}

// NewTensor validates that data fills shape exactly.
func NewTensor(data []float32, shape ...int) (*Tensor, error) {
	if len(shape) == 0 {
		return nil, fmt.Errorf("tensor shape must not be empty")
	}
	n := 1
	for _, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("tensor dimension %d is negative", d)
		}
		n *= d
	}
	if n != len(data) {
		return nil, fmt.Errorf("tensor shape %v needs %d values, got %d", shape, n, len(data))
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: data, Device: DeviceCPU}, nil
}

func (t *Tensor) Rank() int { return len(t.Shape) }

// Len is the total number of elements.
func (t *Tensor) Len() int { return len(t.Data) }

// OnAccelerator reports whether the buffer lives outside host memory.
func (t *Tensor) OnAccelerator() bool {
	return t.Device != "" && !strings.EqualFold(t.Device, DeviceCPU)
}

// ToHost returns a host-resident copy, or t itself when already on the host.
func (t *Tensor) ToHost() *Tensor {
	if !t.OnAccelerator() {
		return t
	}
	return &Tensor{
		Shape:  append([]int(nil), t.Shape...),
		Data:   append([]float32(nil), t.Data...),
		Device: DeviceCPU,
	}
}

// Squeeze removes dimension dim, which must have size 1.
func (t *Tensor) Squeeze(dim int) error {
	if dim < 0 || dim >= len(t.Shape) {
		return fmt.Errorf("squeeze dim %d out of range for shape %v", dim, t.Shape)
	}
	if t.Shape[dim] != 1 {
		return fmt.Errorf("cannot squeeze dim %d of size %d", dim, t.Shape[dim])
	}
	t.Shape = append(t.Shape[:dim:dim], t.Shape[dim+1:]...)
	return nil
}

// Unsqueeze inserts a dimension of size 1 at dim.
func (t *Tensor) Unsqueeze(dim int) error {
	if dim < 0 || dim > len(t.Shape) {
		return fmt.Errorf("unsqueeze dim %d out of range for shape %v", dim, t.Shape)
	}
	shape := make([]int, 0, len(t.Shape)+1)
	shape = append(shape, t.Shape[:dim]...)
	shape = append(shape, 1)
	shape = append(shape, t.Shape[dim:]...)
	t.Shape = shape
	return nil
}

// Channel returns row c of a 2-D buffer.
func (t *Tensor) Channel(c int) []float32 {
	samples := t.Shape[1]
	return t.Data[c*samples : (c+1)*samples]
}
