package network

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// colBudget caps the im2col scratch buffer per worker, in floats.
const colBudget = 1 << 22

// Conv2D is a stride-1 convolution with square kernel and symmetric zero padding.
// Weight layout is (out, in, k, k), matching PyTorch's Conv2d.
type Conv2D struct {
	InC, OutC int
	K, Pad    int
	Weight    []float32
	Bias      []float32
}

func newConv2D(in, out, k int) *Conv2D {
	return &Conv2D{
		InC:    in,
		OutC:   out,
		K:      k,
		Pad:    k / 2,
		Weight: make([]float32, out*in*k*k),
		Bias:   make([]float32, out),
	}
}

// Forward applies the convolution. Output rows are computed in tiles spread over workers goroutines.
func (c *Conv2D) Forward(x Tensor, workers int) (Tensor, error) {
	if x.C != c.InC {
		return Tensor{}, fmt.Errorf("conv2d expects %d input channels, got %d", c.InC, x.C)
	}
	outH := x.H + 2*c.Pad - c.K + 1
	outW := x.W + 2*c.Pad - c.K + 1
	if outH <= 0 || outW <= 0 {
		return Tensor{}, fmt.Errorf("conv2d kernel %d larger than input %dx%d", c.K, x.H, x.W)
	}
	out := NewTensor(c.OutC, outH, outW)

	patch := c.InC * c.K * c.K
	tileRows := colBudget / (patch * outW)
	if tileRows < 1 {
		tileRows = 1
	}
	if tileRows > outH {
		tileRows = outH
	}
	if workers < 1 {
		workers = 1
	}

	weights := blas32.General{Rows: c.OutC, Cols: patch, Stride: patch, Data: c.Weight}

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, workers)
	for r0 := 0; r0 < outH; r0 += tileRows {
		r1 := r0 + tileRows
		if r1 > outH {
			r1 = outH
		}
		wg.Add(1)
		semaphore <- struct{}{}
		go func(r0, r1 int) {
			defer wg.Done()
			defer func() { <-semaphore }()

			cols := (r1 - r0) * outW
			buf := make([]float32, patch*cols)
			c.im2col(x, r0, r1, outW, buf)

			col := blas32.General{Rows: patch, Cols: cols, Stride: cols, Data: buf}
			dst := blas32.General{Rows: c.OutC, Cols: cols, Stride: outH * outW, Data: out.Data[r0*outW:]}
			blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, weights, col, 0, dst)

			for co := 0; co < c.OutC; co++ {
				b := c.Bias[co]
				row := out.Data[co*outH*outW+r0*outW : co*outH*outW+r1*outW]
				for i := range row {
					row[i] += b
				}
			}
		}(r0, r1)
	}
	wg.Wait()

	return out, nil
}

// im2col lays out the receptive fields of output rows [r0,r1) as columns of buf.
func (c *Conv2D) im2col(x Tensor, r0, r1, outW int, buf []float32) {
	cols := (r1 - r0) * outW
	for ci := 0; ci < c.InC; ci++ {
		plane := x.Channel(ci)
		for ky := 0; ky < c.K; ky++ {
			for kx := 0; kx < c.K; kx++ {
				row := buf[((ci*c.K+ky)*c.K+kx)*cols:][:cols]
				i := 0
				for y := r0; y < r1; y++ {
					iy := y + ky - c.Pad
					if iy < 0 || iy >= x.H {
						for xx := 0; xx < outW; xx++ {
							row[i] = 0
							i++
						}
						continue
					}
					src := plane[iy*x.W : (iy+1)*x.W]
					for xx := 0; xx < outW; xx++ {
						ix := xx + kx - c.Pad
						if ix < 0 || ix >= x.W {
							row[i] = 0
						} else {
							row[i] = src[ix]
						}
						i++
					}
				}
			}
		}
	}
}

// ConvTranspose2D is a kernel-2 stride-2 transposed convolution that doubles spatial size.
// Weight layout is (in, out, 2, 2), matching PyTorch's ConvTranspose2d.
type ConvTranspose2D struct {
	InC, OutC int
	Weight    []float32
	Bias      []float32
}

func newConvTranspose2D(in, out int) *ConvTranspose2D {
	return &ConvTranspose2D{
		InC:    in,
		OutC:   out,
		Weight: make([]float32, in*out*4),
		Bias:   make([]float32, out),
	}
}

// Forward upsamples x by two in each spatial dimension.
func (c *ConvTranspose2D) Forward(x Tensor) (Tensor, error) {
	if x.C != c.InC {
		return Tensor{}, fmt.Errorf("conv_transpose2d expects %d input channels, got %d", c.InC, x.C)
	}
	hw := x.H * x.W
	taps := c.OutC * 4

	weights := blas32.General{Rows: c.InC, Cols: taps, Stride: taps, Data: c.Weight}
	input := blas32.General{Rows: c.InC, Cols: hw, Stride: hw, Data: x.Data}
	scratch := blas32.General{Rows: taps, Cols: hw, Stride: hw, Data: make([]float32, taps*hw)}
	blas32.Gemm(blas.Trans, blas.NoTrans, 1, weights, input, 0, scratch)

	out := NewTensor(c.OutC, x.H*2, x.W*2)
	for co := 0; co < c.OutC; co++ {
		plane := out.Channel(co)
		b := c.Bias[co]
		for dy := 0; dy < 2; dy++ {
			for dx := 0; dx < 2; dx++ {
				tap := scratch.Data[(co*4+dy*2+dx)*hw:][:hw]
				for i := 0; i < x.H; i++ {
					for j := 0; j < x.W; j++ {
						plane[(2*i+dy)*out.W+2*j+dx] = tap[i*x.W+j] + b
					}
				}
			}
		}
	}
	return out, nil
}

// maxPool2 is a 2x2 stride-2 max pool; odd trailing rows/cols are dropped.
func maxPool2(x Tensor) Tensor {
	out := NewTensor(x.C, x.H/2, x.W/2)
	for c := 0; c < x.C; c++ {
		src := x.Channel(c)
		dst := out.Channel(c)
		for i := 0; i < out.H; i++ {
			for j := 0; j < out.W; j++ {
				a := src[(2*i)*x.W+2*j]
				b := src[(2*i)*x.W+2*j+1]
				cc := src[(2*i+1)*x.W+2*j]
				d := src[(2*i+1)*x.W+2*j+1]
				m := a
				if b > m {
					m = b
				}
				if cc > m {
					m = cc
				}
				if d > m {
					m = d
				}
				dst[i*out.W+j] = m
			}
		}
	}
	return out
}

func reluInPlace(x Tensor) Tensor {
	for i, v := range x.Data {
		if v < 0 {
			x.Data[i] = 0
		}
	}
	return x
}

func sigmoid(v float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(v))))
}

// concatChannels stacks a then b along the channel axis.
func concatChannels(a, b Tensor) (Tensor, error) {
	if a.H != b.H || a.W != b.W {
		return Tensor{}, fmt.Errorf("cannot concatenate %dx%d with %dx%d", a.H, a.W, b.H, b.W)
	}
	out := Tensor{C: a.C + b.C, H: a.H, W: a.W, Data: make([]float32, 0, len(a.Data)+len(b.Data))}
	out.Data = append(out.Data, a.Data...)
	out.Data = append(out.Data, b.Data...)
	return out, nil
}
