package analysis

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"ecoscope/imageprocessor"

	"github.com/nfnt/resize"
	"gocv.io/x/gocv"
)

const (
	panelHeight = 256
	panelGap    = 8
)

var maskColor = color.RGBA{R: 230, G: 40, B: 20, A: 255}

// renderComparison draws before | after | change mask side by side and returns a PNG data URI.
func renderComparison(img1, img2 gocv.Mat, mask []byte, width, height int) (string, error) {
	before, err := imageprocessor.FromMat(img1)
	if err != nil {
		return "", err
	}
	after, err := imageprocessor.FromMat(img2)
	if err != nil {
		return "", err
	}

	maskImg := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(maskImg, maskImg.Bounds(), &image.Uniform{C: color.Black}, image.Point{}, draw.Src)
	for i, v := range mask {
		if v != 0 {
			maskImg.SetRGBA(i%width, i/width, maskColor)
		}
	}

	panels := []image.Image{before.Image(), after.Image(), maskImg}
	for i, p := range panels {
		panels[i] = resize.Resize(0, panelHeight, p, resize.Bilinear)
	}

	total := panelGap * (len(panels) + 1)
	for _, p := range panels {
		total += p.Bounds().Dx()
	}
	canvas := image.NewRGBA(image.Rect(0, 0, total, panelHeight+2*panelGap))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	x := panelGap
	for _, p := range panels {
		r := image.Rect(x, panelGap, x+p.Bounds().Dx(), panelGap+p.Bounds().Dy())
		draw.Draw(canvas, r, p, p.Bounds().Min, draw.Src)
		x += p.Bounds().Dx() + panelGap
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
