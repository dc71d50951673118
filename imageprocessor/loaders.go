package imageprocessor

import (
	"fmt"
	"os"

	"ecoscope/logging"

	"gocv.io/x/gocv"
)

// ImageLoader interface defines methods for image loading
type ImageLoader interface {
	// CanLoad determines if this loader can handle the given file
	CanLoad(path string) bool

	// LoadImage loads an image and returns its raster
	LoadImage(path string) (RasterImage, error)
}

// BaseImageLoader provides common functionality for all image loaders
type BaseImageLoader struct {
	SupportedFormats []FormatType
}

// CanLoad checks if this loader supports the file's format
func (l *BaseImageLoader) CanLoad(path string) bool {
	format := GetFileFormat(path)
	for _, supported := range l.SupportedFormats {
		if format == supported {
			return fileExists(path)
		}
	}
	return false
}

// StandardImageLoader reads common formats through OpenCV, then the Go decoders.
type StandardImageLoader struct {
	BaseImageLoader
}

// NewStandardImageLoader creates a loader for the common raster formats
func NewStandardImageLoader() *StandardImageLoader {
	return &StandardImageLoader{
		BaseImageLoader: BaseImageLoader{
			SupportedFormats: []FormatType{FormatJPEG, FormatPNG, FormatBMP, FormatGIF, FormatWEBP, FormatJP2},
		},
	}
}

// LoadImage loads the file at path
func (l *StandardImageLoader) LoadImage(path string) (RasterImage, error) {
	if !fileHasContent(path) {
		return RasterImage{}, invalidImage("file is missing or empty", fmt.Errorf("%s", path))
	}

	img := gocv.IMRead(path, gocv.IMReadColor)
	if !img.Empty() {
		defer img.Close()
		return FromMat(img)
	}
	img.Close()

	logging.DebugLog("OpenCV could not read %s, trying Go image packages", path)
	data, err := os.ReadFile(path)
	if err != nil {
		return RasterImage{}, fmt.Errorf("read %s: %w", path, err)
	}
	raster, err := decodeWithGoPackages(data)
	if err != nil {
		return RasterImage{}, invalidImage("unsupported or corrupt image "+path, err)
	}
	return raster, nil
}

// Decode turns an encoded image buffer into a raster.
func Decode(data []byte) (RasterImage, error) {
	if len(data) == 0 {
		return RasterImage{}, invalidImage("empty upload", nil)
	}

	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err == nil && !img.Empty() {
		defer img.Close()
		return FromMat(img)
	}
	img.Close()

	raster, goErr := decodeWithGoPackages(data)
	if goErr != nil {
		return RasterImage{}, invalidImage(fmt.Sprintf("cannot decode %s data", SniffFormat(data)), goErr)
	}
	return raster, nil
}
