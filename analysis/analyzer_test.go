package analysis

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"ecoscope/imageprocessor"
	"ecoscope/network"
	"ecoscope/types"
)

// fakeSegmenter returns a constant map sized like its input.
type fakeSegmenter struct {
	channels int
	value    float32
	calls    int
}

func (f *fakeSegmenter) InChannels() int { return f.channels }

func (f *fakeSegmenter) Infer(x network.Tensor) (network.ProbabilityMap, error) {
	f.calls++
	if x.C != f.channels {
		return network.ProbabilityMap{}, errors.New("wrong channel count")
	}
	data := make([]float32, x.H*x.W)
	for i := range data {
		data[i] = f.value
	}
	return network.NewProbabilityMap(x.H, x.W, data)
}

func (f *fakeSegmenter) Info() types.ModelInfo {
	return types.ModelInfo{Backend: "fake", InChannels: f.channels}
}

func (f *fakeSegmenter) Close() error { return nil }

func TestAnalyzeImage(t *testing.T) {
	seg := &fakeSegmenter{channels: 3, value: 1}
	a := NewAnalyzer(seg, network.LoadStatus{}, Options{InputSize: 32, Now: fixedNow})

	res, err := a.AnalyzeImage(solidRaster(t, 50, 40, 20, 120, 30))
	if err != nil {
		t.Fatalf("AnalyzeImage() error = %v", err)
	}
	if res.Mode != ModeSingleImage || res.ImpactLevel != types.ImpactCritical {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.AreaReference != "resampled_grid_32x32" {
		t.Fatalf("area reference = %s", res.AreaReference)
	}
	if res.AffectedAreaKm2 != nil || res.AreaChange != nil {
		t.Fatal("km² reported without a ground sample distance")
	}
	if res.DegradedMode {
		t.Fatal("degraded flag set for a healthy load")
	}
	if !res.Timestamp.Equal(fixedNow()) {
		t.Fatalf("timestamp = %v", res.Timestamp)
	}
}

func TestAnalyzeImageAreaKm2(t *testing.T) {
	seg := &fakeSegmenter{channels: 3, value: 1}
	a := NewAnalyzer(seg, network.LoadStatus{}, Options{InputSize: 16, GroundSampleDistanceM: 10})

	res, err := a.AnalyzeImage(solidRaster(t, 100, 100, 0, 0, 0))
	if err != nil {
		t.Fatalf("AnalyzeImage() error = %v", err)
	}
	// 100x100 pixels at 10 m each
	if res.AffectedAreaKm2 == nil || *res.AffectedAreaKm2 != 1 {
		t.Fatalf("affected km² = %v, want 1", res.AffectedAreaKm2)
	}
	if res.AreaChange == nil || res.AreaChange.ChangeType != "Urban Drainage Shift" {
		t.Fatalf("area change = %+v", res.AreaChange)
	}

	// 300x300 at 10 m is 9 km²
	res, err = a.AnalyzeImage(solidRaster(t, 300, 300, 0, 0, 0))
	if err != nil {
		t.Fatalf("AnalyzeImage() error = %v", err)
	}
	if res.AreaChange == nil || res.AreaChange.ChangeType != "Glacial Lake Expansion" {
		t.Fatalf("area change = %+v", res.AreaChange)
	}
}

func TestClassifyAreaChange(t *testing.T) {
	cases := []struct {
		km2        float64
		changeType string
		impact     string
		measures   []string
	}{
		{0, "Road Network Extension", "Construction impact", []string{"Review construction permits", "Check water flow"}},
		{0.5, "Road Network Extension", "Construction impact", []string{"Review construction permits", "Check water flow"}},
		{0.51, "Urban Drainage Shift", "Urban flood risk", []string{"Unblock drainage", "Increase monitoring"}},
		{2, "Urban Drainage Shift", "Urban flood risk", []string{"Unblock drainage", "Increase monitoring"}},
		{2.01, "Glacial Lake Expansion", "Risk of flooding", []string{"Evacuate nearby zones", "Monitor water levels"}},
	}
	for _, tc := range cases {
		got := ClassifyAreaChange(tc.km2)
		if got.ChangeType != tc.changeType || got.Impact != tc.impact || strings.Join(got.Measures, "|") != strings.Join(tc.measures, "|") {
			t.Fatalf("ClassifyAreaChange(%v) = %+v", tc.km2, got)
		}
	}
}

func TestAnalyzeChannelMismatch(t *testing.T) {
	img := solidRaster(t, 8, 8, 1, 2, 3)

	three := NewAnalyzer(&fakeSegmenter{channels: 3}, network.LoadStatus{}, Options{InputSize: 8})
	if _, err := three.AnalyzeChange(img, img); !errors.Is(err, ErrChannelMismatch) {
		t.Fatalf("AnalyzeChange() on 3-channel net error = %v", err)
	}

	six := &fakeSegmenter{channels: 6}
	a := NewAnalyzer(six, network.LoadStatus{}, Options{InputSize: 8})
	if _, err := a.AnalyzeImage(img); !errors.Is(err, ErrChannelMismatch) {
		t.Fatalf("AnalyzeImage() on 6-channel net error = %v", err)
	}
	if six.calls != 0 {
		t.Fatal("network invoked despite a channel mismatch")
	}
}

func TestAnalyzeChangePair(t *testing.T) {
	seg := &fakeSegmenter{channels: 6, value: 0}
	a := NewAnalyzer(seg, network.LoadStatus{}, Options{InputSize: 16})
	res, err := a.AnalyzeChange(solidRaster(t, 20, 20, 0, 0, 0), solidRaster(t, 30, 10, 9, 9, 9))
	if err != nil {
		t.Fatalf("AnalyzeChange() error = %v", err)
	}
	if res.Mode != ModeChangePair || res.ImpactLevel != types.ImpactLow || len(res.Recommendations) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestAnalyzeInvalidImage(t *testing.T) {
	a := NewAnalyzer(&fakeSegmenter{channels: 3}, network.LoadStatus{}, Options{InputSize: 8})
	_, err := a.AnalyzeImage(imageprocessor.RasterImage{})
	var invalid *imageprocessor.InvalidImageError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidImageError, got %v", err)
	}
}

func TestDegradedModePropagates(t *testing.T) {
	status := network.LoadStatus{
		Degraded: true,
		Err:      &network.ModelUnavailableError{Path: "missing.safetensors", Reason: "not found"},
		Source:   "random-init",
	}
	a := NewAnalyzer(&fakeSegmenter{channels: 3, value: 0.2}, status, Options{InputSize: 8})
	if !a.Degraded() {
		t.Fatal("Degraded() = false")
	}
	res, err := a.AnalyzeImage(solidRaster(t, 8, 8, 0, 0, 0))
	if err != nil {
		t.Fatalf("AnalyzeImage() error = %v", err)
	}
	if !res.DegradedMode {
		t.Fatal("result not marked degraded")
	}

	info := a.ModelInfo()
	if !info.Degraded || info.InputSize != 8 || !strings.Contains(info.LoadError, "missing.safetensors") {
		t.Fatalf("unexpected model info %+v", info)
	}
	if info.Source != "random-init" {
		t.Fatalf("source = %s", info.Source)
	}
}

func TestRunDispatch(t *testing.T) {
	a := NewAnalyzer(&fakeSegmenter{channels: 3, value: 1}, network.LoadStatus{}, Options{InputSize: 8, Now: fixedNow})
	img := solidRaster(t, 12, 12, 40, 40, 40)

	out, err := a.Run(SingleImageRequest{Image: img})
	if err != nil || out.Analysis == nil || out.Comparison != nil {
		t.Fatalf("Run(single) = %+v, %v", out, err)
	}

	out, err = a.Run(ComparisonRequest{Before: img, After: img})
	if err != nil || out.Comparison == nil || out.Analysis != nil {
		t.Fatalf("Run(comparison) = %+v, %v", out, err)
	}
	if !out.Comparison.Timestamp.Equal(fixedNow()) {
		t.Fatal("comparison did not inherit the analyzer clock")
	}

	if _, err := a.Run(ChangePairRequest{Before: img, After: img}); !errors.Is(err, ErrChannelMismatch) {
		t.Fatalf("Run(pair) on 3-channel net error = %v", err)
	}
}

func TestAnalyzeWithRealNetwork(t *testing.T) {
	net, err := network.NewUNet(network.Config{InChannels: 3, BaseChannels: 4, Seed: 7})
	if err != nil {
		t.Fatalf("NewUNet() error = %v", err)
	}
	a := NewAnalyzer(net, network.LoadStatus{}, Options{InputSize: 16})
	res, err := a.AnalyzeImage(solidRaster(t, 24, 24, 100, 150, 200))
	if err != nil {
		t.Fatalf("AnalyzeImage() error = %v", err)
	}
	if res.AffectedAreaPercentage < 0 || res.AffectedAreaPercentage > 100 {
		t.Fatalf("affected area out of range: %v", res.AffectedAreaPercentage)
	}
	if res.ImpactIntensityPercentage < 0 || res.ImpactIntensityPercentage > 100 {
		t.Fatalf("intensity out of range: %v", res.ImpactIntensityPercentage)
	}
}

func TestFeatureReports(t *testing.T) {
	res := types.AnalysisResult{
		ImpactLevel: types.ImpactCritical,
		Recommendations: []string{
			"Immediate environmental assessment required",
			"Monitor glacier melting patterns",
			"Assess impact on water resources",
			"Check for flooding risks",
			"Monitor habitat fragmentation",
		},
		DegradedMode: true,
	}
	res.FeaturesDetected.Glaciers = types.GlacierFeature{Detected: true, Count: 2, TotalArea: 900}
	res.FeaturesDetected.RoadNetworks = types.RoadFeature{Detected: true, EdgePixels: 700, NetworkType: "dense"}

	g := GlacierReport(res)
	if g.GlacierDetection == nil || g.GlacierDetection.TotalArea != 900 || len(g.Recommendations) != 2 || !g.DegradedMode {
		t.Fatalf("unexpected glacier report %+v", g)
	}
	if g.DrainageDetection != nil || g.RoadDetection != nil {
		t.Fatalf("glacier report carries other features: %+v", g)
	}
	d := DrainageReport(res)
	if d.DrainageDetection == nil || len(d.Recommendations) != 1 || d.Recommendations[0] != "Check for flooding risks" {
		t.Fatalf("unexpected drainage report %+v", d)
	}
	r := RoadReport(res)
	if r.RoadDetection == nil || r.RoadDetection.NetworkType != "dense" || len(r.Recommendations) != 1 ||
		r.Recommendations[0] != "Monitor habitat fragmentation" {
		t.Fatalf("unexpected road report %+v", r)
	}

	body, err := json.Marshal(g)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), `"glacier_detection":{"detected":true`) || strings.Contains(string(body), "road_detection") {
		t.Fatalf("glacier report JSON = %s", body)
	}

	empty := RoadReport(types.AnalysisResult{})
	if empty.Recommendations == nil {
		t.Fatal("recommendations should be an empty slice, not nil")
	}
}
