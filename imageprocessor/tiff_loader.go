package imageprocessor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"ecoscope/logging"

	"gocv.io/x/gocv"
)

// TiffImageLoader handles TIFF and GeoTIFF scenes.
type TiffImageLoader struct {
	BaseImageLoader
	TempDir string
}

// NewTiffImageLoader creates a new loader for TIFF files
func NewTiffImageLoader() *TiffImageLoader {
	return &TiffImageLoader{
		BaseImageLoader: BaseImageLoader{SupportedFormats: []FormatType{FormatTIFF}},
		TempDir:         os.TempDir(),
	}
}

// LoadImage loads a TIFF image
func (l *TiffImageLoader) LoadImage(path string) (RasterImage, error) {
	if !fileHasContent(path) {
		return RasterImage{}, invalidImage("file is missing or empty", fmt.Errorf("%s", path))
	}

	// OpenCV handles ordinary 8/16-bit RGB TIFFs
	img := gocv.IMRead(path, gocv.IMReadColor)
	if !img.Empty() {
		defer img.Close()
		return FromMat(img)
	}
	img.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		return RasterImage{}, fmt.Errorf("read %s: %w", path, err)
	}
	if raster, err := decodeWithGoPackages(data); err == nil {
		logging.DebugLog("Loaded TIFF with Go decoder: %s", path)
		return raster, nil
	}

	// Multi-band or floating point scenes: let an external tool render an 8-bit RGB preview
	tempFilename := filepath.Join(l.TempDir, fmt.Sprintf("tiff_conv_%d.png", time.Now().UnixNano()))
	defer os.Remove(tempFilename)

	methods := []func(string, string) error{
		l.convertTiffWithGdal,
		l.convertTiffWithImageMagick,
	}
	for _, method := range methods {
		if err := method(path, tempFilename); err != nil {
			continue
		}
		if !fileHasContent(tempFilename) {
			continue
		}
		converted := gocv.IMRead(tempFilename, gocv.IMReadColor)
		if converted.Empty() {
			converted.Close()
			continue
		}
		defer converted.Close()
		logging.LogInfo("Loaded TIFF through external conversion: %s", path)
		return FromMat(converted)
	}

	return RasterImage{}, invalidImage("failed to load TIFF image (all methods failed) "+path, nil)
}

// convertTiffWithGdal renders the first three bands, scaled to 8 bits, as PNG
func (l *TiffImageLoader) convertTiffWithGdal(path, outputPath string) error {
	if _, err := exec.LookPath("gdal_translate"); err != nil {
		return os.ErrNotExist
	}
	cmd := exec.Command("gdal_translate", "-of", "PNG", "-ot", "Byte", "-scale",
		"-b", "1", "-b", "2", "-b", "3", path, outputPath)
	if err := cmd.Run(); err != nil {
		// single-band scenes have no band 2/3
		cmd = exec.Command("gdal_translate", "-of", "PNG", "-ot", "Byte", "-scale", path, outputPath)
		return cmd.Run()
	}
	return nil
}

// convertTiffWithImageMagick converts a TIFF file to PNG using ImageMagick
func (l *TiffImageLoader) convertTiffWithImageMagick(path, outputPath string) error {
	if _, err := exec.LookPath("convert"); err != nil {
		return os.ErrNotExist
	}
	return exec.Command("convert", path+"[0]", "-depth", "8", outputPath).Run()
}
