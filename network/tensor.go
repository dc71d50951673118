package network

import "fmt"

// Tensor is a dense float32 activation of shape (1, C, H, W) in row-major CHW order.
// The batch axis is always 1 and is implicit.
type Tensor struct {
	C, H, W int
	Data    []float32
}

// NewTensor allocates a zeroed tensor.
func NewTensor(c, h, w int) Tensor {
	return Tensor{C: c, H: h, W: w, Data: make([]float32, c*h*w)}
}

// Shape returns the full (1, C, H, W) shape.
func (t Tensor) Shape() []int64 {
	return []int64{1, int64(t.C), int64(t.H), int64(t.W)}
}

// Channel returns a view of channel c.
func (t Tensor) Channel(c int) []float32 {
	n := t.H * t.W
	return t.Data[c*n : (c+1)*n]
}

func (t Tensor) validate() error {
	if t.C <= 0 || t.H <= 0 || t.W <= 0 {
		return fmt.Errorf("tensor has empty shape (1,%d,%d,%d)", t.C, t.H, t.W)
	}
	if len(t.Data) != t.C*t.H*t.W {
		return fmt.Errorf("tensor data length %d does not match shape (1,%d,%d,%d)", len(t.Data), t.C, t.H, t.W)
	}
	return nil
}

// ProbabilityMap is the per-pixel change probability produced by the network, values in [0,1].
type ProbabilityMap struct {
	H, W int
	Data []float32
}

// Len is the number of cells.
func (p ProbabilityMap) Len() int {
	return p.H * p.W
}

// NewProbabilityMap wraps data after checking its size.
func NewProbabilityMap(h, w int, data []float32) (ProbabilityMap, error) {
	if h <= 0 || w <= 0 || len(data) != h*w {
		return ProbabilityMap{}, fmt.Errorf("probability map %dx%d cannot hold %d values", h, w, len(data))
	}
	return ProbabilityMap{H: h, W: w, Data: data}, nil
}
