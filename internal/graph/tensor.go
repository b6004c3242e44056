package graph

import "fmt"

// Tensor is a dense float32 buffer with a shape. The zero shape is treated
// as a scalar of length 1.
type Tensor struct {
	Shape []int
	Data  []float32
}

// NewTensor allocates a zero-filled tensor with the given shape.
func NewTensor(shape ...int) *Tensor {
	size := 1
	for _, d := range shape {
		size *= d
	}
	return &Tensor{
		Shape: shape,
		Data:  make([]float32, size),
	}
}

// Len returns the number of elements in the tensor.
func (t *Tensor) Len() int {
	return len(t.Data)
}

// SetData copies values into the tensor's buffer. The value count must match
// the tensor's length exactly.
func (t *Tensor) SetData(values ...float32) error {
	if len(values) != len(t.Data) {
		return fmt.Errorf("tensor holds %d elements, got %d values", len(t.Data), len(values))
	}
	copy(t.Data, values)
	return nil
}
