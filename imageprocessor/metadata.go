package imageprocessor

import (
	"fmt"
	"strings"

	"ecoscope/types"

	"github.com/barasher/go-exiftool"
)

// ReadCaptureMetadata extracts GPS position and capture time with exiftool.
// Missing tags are left empty; only a missing exiftool binary or unreadable file is an error.
func ReadCaptureMetadata(path string) (types.CaptureMetadata, error) {
	var meta types.CaptureMetadata

	et, err := exiftool.NewExiftool(exiftool.NoPrintConversion())
	if err != nil {
		return meta, fmt.Errorf("exiftool unavailable: %w", err)
	}
	defer et.Close()

	infos := et.ExtractMetadata(path)
	if len(infos) == 0 {
		return meta, fmt.Errorf("no metadata returned for %s", path)
	}
	info := infos[0]
	if info.Err != nil {
		return meta, fmt.Errorf("read metadata for %s: %w", path, info.Err)
	}

	if lat, err := info.GetFloat("GPSLatitude"); err == nil {
		if ref, _ := info.GetString("GPSLatitudeRef"); strings.HasPrefix(strings.ToUpper(ref), "S") && lat > 0 {
			lat = -lat
		}
		meta.Latitude = &lat
	}
	if lon, err := info.GetFloat("GPSLongitude"); err == nil {
		if ref, _ := info.GetString("GPSLongitudeRef"); strings.HasPrefix(strings.ToUpper(ref), "W") && lon > 0 {
			lon = -lon
		}
		meta.Longitude = &lon
	}
	for _, key := range []string{"DateTimeOriginal", "CreateDate", "DateCreated"} {
		if v, err := info.GetString(key); err == nil && v != "" {
			meta.CapturedAt = v
			break
		}
	}
	if v, err := info.GetString("Make"); err == nil {
		meta.Make = v
	}
	return meta, nil
}
