package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"ecoscope/imageprocessor"
)

// parseForm reads a multipart body of at most maxBytes.
func parseForm(w http.ResponseWriter, r *http.Request, maxBytes int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: upload exceeds %d bytes", errBadRequest, maxBytes)
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// formImage decodes the uploaded file in field.
func formImage(r *http.Request, field string) (imageprocessor.RasterImage, error) {
	file, _, err := r.FormFile(field)
	if err != nil {
		return imageprocessor.RasterImage{}, fmt.Errorf("%w: missing file field %q", errBadRequest, field)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return imageprocessor.RasterImage{}, fmt.Errorf("%w: cannot read %q: %v", errBadRequest, field, err)
	}
	img, err := imageprocessor.Decode(data)
	if err != nil {
		return imageprocessor.RasterImage{}, fmt.Errorf("%s: %w", field, err)
	}
	return img, nil
}

// formCoordinates returns the optional latitude/longitude pair; ok is false when neither is sent.
func formCoordinates(r *http.Request) (lat, lon float64, ok bool, err error) {
	latStr := strings.TrimSpace(r.FormValue("latitude"))
	lonStr := strings.TrimSpace(r.FormValue("longitude"))
	if latStr == "" && lonStr == "" {
		return 0, 0, false, nil
	}
	if lat, err = strconv.ParseFloat(latStr, 64); err != nil || lat < -90 || lat > 90 {
		return 0, 0, false, fmt.Errorf("%w: latitude must be a number in [-90, 90]", errBadRequest)
	}
	if lon, err = strconv.ParseFloat(lonStr, 64); err != nil || lon < -180 || lon > 180 {
		return 0, 0, false, fmt.Errorf("%w: longitude must be a number in [-180, 180]", errBadRequest)
	}
	return lat, lon, true, nil
}

func formBool(r *http.Request, field string, def bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(r.FormValue(field)))
	if err != nil {
		return def
	}
	return v
}
