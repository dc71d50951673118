package analysis

import (
	"errors"
	"strings"
	"testing"
	"time"

	"ecoscope/imageprocessor"
	"ecoscope/types"
)

var fixedNow = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

func solidRaster(t *testing.T, w, h int, r, g, b uint8) imageprocessor.RasterImage {
	t.Helper()
	pix := make([]uint8, w*h*3)
	for i := 0; i < len(pix); i += 3 {
		pix[i], pix[i+1], pix[i+2] = r, g, b
	}
	img, err := imageprocessor.NewRasterImage(h, w, 3, pix)
	if err != nil {
		t.Fatalf("NewRasterImage() error = %v", err)
	}
	return img
}

// squareRaster is black with a white size x size square at (x0, y0).
func squareRaster(t *testing.T, w, h, x0, y0, size int) imageprocessor.RasterImage {
	t.Helper()
	pix := make([]uint8, w*h*3)
	for y := y0; y < y0+size; y++ {
		for x := x0; x < x0+size; x++ {
			i := (y*w + x) * 3
			pix[i], pix[i+1], pix[i+2] = 255, 255, 255
		}
	}
	img, err := imageprocessor.NewRasterImage(h, w, 3, pix)
	if err != nil {
		t.Fatalf("NewRasterImage() error = %v", err)
	}
	return img
}

// gradientRaster varies every channel across the scene.
func gradientRaster(t *testing.T, w, h int) imageprocessor.RasterImage {
	t.Helper()
	pix := make([]uint8, w*h*3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * 3
			pix[i], pix[i+1], pix[i+2] = uint8(x*2), uint8(y*2), uint8((x*y)%256)
		}
	}
	img, err := imageprocessor.NewRasterImage(h, w, 3, pix)
	if err != nil {
		t.Fatalf("NewRasterImage() error = %v", err)
	}
	return img
}

func TestCompareIdentical(t *testing.T) {
	// two separately built but equal 100x100x3 scenes
	before := gradientRaster(t, 100, 100)
	after := gradientRaster(t, 100, 100)
	res, err := Compare(before, after, CompareOptions{Now: fixedNow})
	if err != nil {
		t.Fatalf("Compare() error = %v", err)
	}
	if !res.Success || res.ChangePercentage != 0.0 || res.ChangedPixels != 0 || res.ContoursCount != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.TotalPixels != 10000 {
		t.Fatalf("total pixels = %d, want 10000", res.TotalPixels)
	}
	ca := res.ChangeAnalysis
	if ca.VegetationChange != 0 || ca.WaterChange != 0 || ca.UrbanChange != 0 {
		t.Fatalf("empty mask must give zero statistics, got %+v", ca)
	}
	if len(ca.ChangeTypes) != 1 || ca.ChangeTypes[0] != "minor_environmental_changes" {
		t.Fatalf("change types = %v", ca.ChangeTypes)
	}
	if !res.Timestamp.Equal(fixedNow()) {
		t.Fatalf("timestamp = %v", res.Timestamp)
	}
}

func TestCompareBlackAndWhite(t *testing.T) {
	black := solidRaster(t, 32, 32, 0, 0, 0)
	white := solidRaster(t, 32, 32, 255, 255, 255)
	res, err := Compare(black, white, CompareOptions{})
	if err != nil {
		t.Fatalf("Compare() error = %v", err)
	}
	if res.ChangePercentage != 100 || res.ChangedPixels != res.TotalPixels {
		t.Fatalf("expected every pixel to change, got %+v", res)
	}
	if res.ContoursCount != 1 {
		t.Fatalf("contours = %d, want 1", res.ContoursCount)
	}
}

func TestCompareWhiteSquare(t *testing.T) {
	before := solidRaster(t, 40, 40, 0, 0, 0)
	after := squareRaster(t, 40, 40, 10, 10, 10)
	res, err := Compare(before, after, CompareOptions{})
	if err != nil {
		t.Fatalf("Compare() error = %v", err)
	}
	if res.ChangedPixels != 100 || res.ChangePercentage != 6.25 || res.ContoursCount != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	ca := res.ChangeAnalysis
	// black and white are both unsaturated
	if ca.VegetationChange != 0 || ca.WaterChange != 255 || ca.UrbanChange != 255 {
		t.Fatalf("unexpected statistics %+v", ca)
	}
	want := []string{"water_body_reduction", "urbanization"}
	if strings.Join(ca.ChangeTypes, ",") != strings.Join(want, ",") {
		t.Fatalf("change types = %v, want %v", ca.ChangeTypes, want)
	}
}

func TestCompareSaturationChange(t *testing.T) {
	before := solidRaster(t, 16, 16, 128, 128, 128)
	after := solidRaster(t, 16, 16, 255, 0, 0)
	res, err := Compare(before, after, CompareOptions{})
	if err != nil {
		t.Fatalf("Compare() error = %v", err)
	}
	if res.ChangedPixels != 256 {
		t.Fatalf("changed pixels = %d, want 256", res.ChangedPixels)
	}
	ca := res.ChangeAnalysis
	if ca.VegetationChange != 255 || ca.WaterChange != 128 {
		t.Fatalf("unexpected statistics %+v", ca)
	}
	want := "deforestation,water_body_reduction"
	if got := strings.Join(ca.ChangeTypes, ","); got != want {
		t.Fatalf("change types = %s, want %s", got, want)
	}
}

func TestCompareUsesSmallerDimensions(t *testing.T) {
	a := solidRaster(t, 30, 20, 10, 10, 10)
	b := solidRaster(t, 20, 40, 10, 10, 10)
	res, err := Compare(a, b, CompareOptions{})
	if err != nil {
		t.Fatalf("Compare() error = %v", err)
	}
	if res.TotalPixels != 400 {
		t.Fatalf("total pixels = %d, want 20x20", res.TotalPixels)
	}
}

func TestCompareEmptyImage(t *testing.T) {
	img := solidRaster(t, 8, 8, 0, 0, 0)
	_, err := Compare(imageprocessor.RasterImage{}, img, CompareOptions{})
	var dm *DimensionMismatchError
	if !errors.As(err, &dm) {
		t.Fatalf("expected DimensionMismatchError, got %v", err)
	}
	if dm.AfterWidth != 8 || dm.BeforeWidth != 0 {
		t.Fatalf("unexpected error fields %+v", dm)
	}
}

func TestCompareVisualization(t *testing.T) {
	before := solidRaster(t, 40, 40, 0, 0, 0)
	after := squareRaster(t, 40, 40, 10, 10, 10)
	res, err := Compare(before, after, CompareOptions{Visualize: true})
	if err != nil {
		t.Fatalf("Compare() error = %v", err)
	}
	if !strings.HasPrefix(res.ComparisonImage, "data:image/png;base64,") {
		t.Fatalf("unexpected image %q", res.ComparisonImage)
	}

	plain, _ := Compare(before, after, CompareOptions{})
	if plain.ComparisonImage != "" {
		t.Fatal("image attached without Visualize")
	}
}

func TestClassifyChanges(t *testing.T) {
	cases := []struct {
		veg, water, urban float64
		want              string
	}{
		{0, 0, 0, "minor_environmental_changes"},
		{50, 40, 60, "minor_environmental_changes"},
		{51, 0, 0, "deforestation"},
		{-31, -41, -51, "vegetation_growth,water_body_expansion,urban_degradation"},
		{51, 41, 61, "deforestation,water_body_reduction,urbanization"},
	}
	for _, tc := range cases {
		if got := strings.Join(classifyChanges(tc.veg, tc.water, tc.urban), ","); got != tc.want {
			t.Fatalf("classifyChanges(%v, %v, %v) = %s, want %s", tc.veg, tc.water, tc.urban, got, tc.want)
		}
	}
}

func TestMaskedMean(t *testing.T) {
	if got := maskedMean([]byte{10, 20, 30}, []byte{0, 255, 255}); got != 25 {
		t.Fatalf("maskedMean() = %v, want 25", got)
	}
	if got := maskedMean([]byte{10}, []byte{0}); got != 0 {
		t.Fatalf("maskedMean() of empty mask = %v, want 0", got)
	}
}

func TestForecast(t *testing.T) {
	cases := []struct {
		pct  float64
		want types.ImpactLevel
	}{
		{0, types.ImpactLow},
		{10, types.ImpactLow},
		{10.5, types.ImpactModerate},
		{20, types.ImpactModerate},
		{20.01, types.ImpactHigh},
	}
	for _, tc := range cases {
		f := Forecast(types.ComparisonResult{ChangePercentage: tc.pct}, "")
		if f.RiskLevel != string(tc.want) {
			t.Fatalf("Forecast(%v).RiskLevel = %s, want %s", tc.pct, f.RiskLevel, tc.want)
		}
		if f.TimePeriod != DefaultForecastPeriod {
			t.Fatalf("time period = %s", f.TimePeriod)
		}
	}

	cmp := types.ComparisonResult{
		ChangePercentage: 25,
		ChangeAnalysis: types.ChangeAnalysis{
			ChangeTypes: []string{"urbanization", "minor_environmental_changes", "deforestation"},
		},
	}
	f := Forecast(cmp, "10_years")
	if f.TimePeriod != "10_years" || len(f.Predictions) != 2 || len(f.Recommendations) != 2 {
		t.Fatalf("unexpected forecast %+v", f)
	}
	if f.Recommendations[0] != "Plan sustainable urban development with green infrastructure" {
		t.Fatalf("outlooks out of order: %v", f.Recommendations)
	}
}
