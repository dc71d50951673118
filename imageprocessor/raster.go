package imageprocessor

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// InvalidImageError reports input that cannot be turned into a usable raster.
type InvalidImageError struct {
	Reason string
	Err    error
}

func (e *InvalidImageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid image: %s: %v", e.Reason, e.Err)
	}
	return "invalid image: " + e.Reason
}

func (e *InvalidImageError) Unwrap() error {
	return e.Err
}

func invalidImage(reason string, err error) error {
	return &InvalidImageError{Reason: reason, Err: err}
}

// RasterImage is an immutable 8-bit RGB image. Alpha is dropped on construction.
type RasterImage struct {
	height, width int
	pix           []uint8 // interleaved RGB, row-major
}

// NewRasterImage copies pix, an interleaved (h, w, c) buffer with c of 3 (RGB) or 4 (RGBA).
func NewRasterImage(h, w, c int, pix []uint8) (RasterImage, error) {
	if h <= 0 || w <= 0 {
		return RasterImage{}, invalidImage(fmt.Sprintf("zero-area raster %dx%d", w, h), nil)
	}
	if c != 3 && c != 4 {
		return RasterImage{}, invalidImage(fmt.Sprintf("unsupported channel count %d", c), nil)
	}
	if len(pix) != h*w*c {
		return RasterImage{}, invalidImage(fmt.Sprintf("buffer holds %d bytes, want %d", len(pix), h*w*c), nil)
	}

	out := make([]uint8, h*w*3)
	if c == 3 {
		copy(out, pix)
	} else {
		for i, j := 0, 0; i < len(pix); i, j = i+4, j+3 {
			out[j], out[j+1], out[j+2] = pix[i], pix[i+1], pix[i+2]
		}
	}
	return RasterImage{height: h, width: w, pix: out}, nil
}

// Height in pixels.
func (r RasterImage) Height() int { return r.height }

// Width in pixels.
func (r RasterImage) Width() int { return r.width }

// Channels is always 3 after ingestion.
func (r RasterImage) Channels() int { return 3 }

// Empty reports a zero-value raster.
func (r RasterImage) Empty() bool {
	return r.height <= 0 || r.width <= 0 || len(r.pix) == 0
}

// RGB returns the red, green and blue values at row y, column x.
func (r RasterImage) RGB(y, x int) (uint8, uint8, uint8) {
	i := (y*r.width + x) * 3
	return r.pix[i], r.pix[i+1], r.pix[i+2]
}

// Image converts the raster to a Go image.
func (r RasterImage) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, r.width, r.height))
	for i, j := 0, 0; i < len(r.pix); i, j = i+3, j+4 {
		img.Pix[j], img.Pix[j+1], img.Pix[j+2], img.Pix[j+3] = r.pix[i], r.pix[i+1], r.pix[i+2], 255
	}
	return img
}

// BGRMat returns a new 8UC3 Mat in OpenCV channel order. The caller must Close it.
func (r RasterImage) BGRMat() (gocv.Mat, error) {
	if r.Empty() {
		return gocv.NewMat(), invalidImage("empty raster", nil)
	}
	buf := make([]uint8, len(r.pix))
	for i := 0; i < len(r.pix); i += 3 {
		buf[i], buf[i+1], buf[i+2] = r.pix[i+2], r.pix[i+1], r.pix[i]
	}
	return matFromBytes(r.height, r.width, gocv.MatTypeCV8UC3, buf)
}

// rgbMat returns a new 8UC3 Mat holding the raster in RGB order.
func (r RasterImage) rgbMat() (gocv.Mat, error) {
	if r.Empty() {
		return gocv.NewMat(), invalidImage("empty raster", nil)
	}
	return matFromBytes(r.height, r.width, gocv.MatTypeCV8UC3, r.pix)
}

// FromMat converts an 8-bit gray, BGR or BGRA Mat into a raster.
func FromMat(m gocv.Mat) (RasterImage, error) {
	if m.Empty() || m.Rows() == 0 || m.Cols() == 0 {
		return RasterImage{}, invalidImage("decoded image is empty", nil)
	}

	var bgr gocv.Mat
	switch m.Channels() {
	case 1:
		bgr = gocv.NewMat()
		defer bgr.Close()
		gocv.CvtColor(m, &bgr, gocv.ColorGrayToBGR)
	case 3:
		bgr = m
	case 4:
		bgr = gocv.NewMat()
		defer bgr.Close()
		gocv.CvtColor(m, &bgr, gocv.ColorBGRAToBGR)
	default:
		return RasterImage{}, invalidImage(fmt.Sprintf("unsupported channel count %d", m.Channels()), nil)
	}
	if bgr.Type() != gocv.MatTypeCV8UC3 {
		return RasterImage{}, invalidImage(fmt.Sprintf("unsupported pixel depth (mat type %v)", bgr.Type()), nil)
	}

	data := bgr.ToBytes()
	pix := make([]uint8, len(data))
	for i := 0; i+2 < len(data); i += 3 {
		pix[i], pix[i+1], pix[i+2] = data[i+2], data[i+1], data[i]
	}
	return RasterImage{height: bgr.Rows(), width: bgr.Cols(), pix: pix}, nil
}

// MatFromBytes wraps data in a Mat that owns its own copy of the pixels.
func MatFromBytes(rows, cols int, mt gocv.MatType, data []byte) (gocv.Mat, error) {
	return matFromBytes(rows, cols, mt, data)
}

func matFromBytes(rows, cols int, mt gocv.MatType, data []byte) (gocv.Mat, error) {
	view, err := gocv.NewMatFromBytes(rows, cols, mt, data)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("cannot wrap %dx%d buffer: %w", cols, rows, err)
	}
	defer view.Close()
	// NewMatFromBytes aliases the Go slice; clone so the Mat owns its memory.
	return view.Clone(), nil
}
