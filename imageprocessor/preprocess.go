package imageprocessor

import (
	"fmt"
	"image"

	"ecoscope/network"

	"gocv.io/x/gocv"
)

// DefaultInputSize is the square spatial size the network is trained on.
const DefaultInputSize = 256

// Preprocess resizes img to size×size with bilinear interpolation and returns a
// (1, 3, size, size) tensor with RGB channels scaled to [0,1].
func Preprocess(img RasterImage, size int) (network.Tensor, error) {
	if img.Empty() {
		return network.Tensor{}, invalidImage("zero-area raster", nil)
	}
	if size <= 0 {
		return network.Tensor{}, fmt.Errorf("invalid input size %d", size)
	}

	pix := img.pix
	if img.height != size || img.width != size {
		src, err := img.rgbMat()
		if err != nil {
			return network.Tensor{}, err
		}
		defer src.Close()

		resized := gocv.NewMat()
		defer resized.Close()
		gocv.Resize(src, &resized, image.Pt(size, size), 0, 0, gocv.InterpolationLinear)
		if resized.Rows() != size || resized.Cols() != size {
			return network.Tensor{}, fmt.Errorf("resize produced %dx%d, want %dx%d", resized.Cols(), resized.Rows(), size, size)
		}
		pix = resized.ToBytes()
	}

	t := network.NewTensor(3, size, size)
	plane := size * size
	for i := 0; i < plane; i++ {
		t.Data[i] = float32(pix[3*i]) / 255
		t.Data[plane+i] = float32(pix[3*i+1]) / 255
		t.Data[2*plane+i] = float32(pix[3*i+2]) / 255
	}
	return t, nil
}

// PreprocessPair stacks the preprocessed before and after images into a (1, 6, size, size) tensor,
// before first.
func PreprocessPair(before, after RasterImage, size int) (network.Tensor, error) {
	b, err := Preprocess(before, size)
	if err != nil {
		return network.Tensor{}, fmt.Errorf("before image: %w", err)
	}
	a, err := Preprocess(after, size)
	if err != nil {
		return network.Tensor{}, fmt.Errorf("after image: %w", err)
	}

	out := network.Tensor{C: 6, H: size, W: size, Data: make([]float32, 0, len(b.Data)+len(a.Data))}
	out.Data = append(out.Data, b.Data...)
	out.Data = append(out.Data, a.Data...)
	return out, nil
}
