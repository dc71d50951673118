package imageprocessor

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// decodeWithGoPackages decodes formats registered with the image package.
func decodeWithGoPackages(data []byte) (RasterImage, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return RasterImage{}, err
	}
	return rasterFromGoImage(img)
}

func rasterFromGoImage(img image.Image) (RasterImage, error) {
	bounds := img.Bounds()
	if bounds.Empty() {
		return RasterImage{}, invalidImage("decoded image is empty", nil)
	}

	// non-premultiplied, so dropping alpha keeps the stored colour
	nrgba, ok := img.(*image.NRGBA)
	if !ok || nrgba.Rect.Min != (image.Point{}) || nrgba.Stride != 4*bounds.Dx() {
		nrgba = image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(nrgba, nrgba.Bounds(), img, bounds.Min, draw.Src)
	}
	return NewRasterImage(bounds.Dy(), bounds.Dx(), 4, nrgba.Pix)
}

// fileExists checks if a file exists and is accessible
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// fileHasContent checks if a file exists and has a non-zero size
func fileHasContent(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}
