package analysis

import (
	"math"
	"reflect"
	"testing"

	"ecoscope/network"
	"ecoscope/types"
)

const side = 256

func filledMap(v float32) network.ProbabilityMap {
	data := make([]float32, side*side)
	for i := range data {
		data[i] = v
	}
	return network.ProbabilityMap{H: side, W: side, Data: data}
}

func withBlock(pm network.ProbabilityMap, y0, x0, size int, v float32) network.ProbabilityMap {
	for y := y0; y < y0+size; y++ {
		for x := x0; x < x0+size; x++ {
			pm.Data[y*pm.W+x] = v
		}
	}
	return pm
}

func TestExtractAllZeros(t *testing.T) {
	fs, sum, err := Extract(filledMap(0))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if sum.AffectedArea != 0 || sum.Intensity != 0 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if fs.Glaciers.Detected || fs.DrainageSystems.Detected || fs.RoadNetworks.Detected {
		t.Fatalf("expected no detected features, got %+v", fs)
	}
	if fs.EnvironmentalChanges.WaterBodies != 100 {
		t.Fatalf("water_bodies = %v, want 100", fs.EnvironmentalChanges.WaterBodies)
	}
	level := Classify(sum.AffectedArea, sum.Intensity)
	if level != types.ImpactLow {
		t.Fatalf("level = %s, want LOW", level)
	}
	if recs := Recommendations(fs, level); len(recs) != 0 {
		t.Fatalf("expected no recommendations, got %v", recs)
	}
}

func TestExtractAllOnes(t *testing.T) {
	fs, sum, err := Extract(filledMap(1))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if sum.AffectedArea != 100 || sum.Intensity != 100 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	g := fs.Glaciers
	if !g.Detected || g.Count != 1 || g.TotalArea != side*side || !g.MeltingIndicators {
		t.Fatalf("unexpected glacier record %+v", g)
	}
	if fs.DrainageSystems.LinearFeatures != 0 || fs.DrainageSystems.Detected {
		t.Fatalf("unexpected drainage record %+v", fs.DrainageSystems)
	}
	if fs.RoadNetworks.EdgePixels != 0 || fs.RoadNetworks.Detected {
		t.Fatalf("uniform map should have no edges, got %+v", fs.RoadNetworks)
	}
	env := fs.EnvironmentalChanges
	if !env.Deforestation || !env.Urbanization || !env.VegetationLoss || env.WaterBodies != 0 {
		t.Fatalf("unexpected change flags %+v", env)
	}

	level := Classify(sum.AffectedArea, sum.Intensity)
	if level != types.ImpactCritical {
		t.Fatalf("level = %s, want CRITICAL", level)
	}
	want := []string{
		"Immediate environmental assessment required",
		"Consider implementing conservation measures",
		"Monitor glacier melting patterns",
		"Assess impact on water resources",
	}
	got := Recommendations(fs, level)
	if len(got) != len(want) {
		t.Fatalf("recommendations = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("recommendations = %v, want %v", got, want)
		}
	}
}

func TestExtractCornerBlock(t *testing.T) {
	pm := withBlock(filledMap(0), 0, 0, 20, 0.9)
	fs, sum, err := Extract(pm)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if want := 400.0 / (side * side) * 100; math.Abs(sum.AffectedArea-want) > 1e-9 {
		t.Fatalf("affected area = %v, want %v", sum.AffectedArea, want)
	}
	if g := fs.Glaciers; !g.Detected || g.Count != 1 || g.TotalArea != 400 || g.MeltingIndicators {
		t.Fatalf("unexpected glacier record %+v", g)
	}
	// dilation grows the block by one row and one column only, the image border clips the rest
	d := fs.DrainageSystems
	if d.LinearFeatures != 41 || d.Detected || d.NetworkComplexity != "low" {
		t.Fatalf("unexpected drainage record %+v", d)
	}
	r := fs.RoadNetworks
	if r.Detected != (r.EdgePixels > 100) {
		t.Fatalf("road detected flag inconsistent with %d edge pixels", r.EdgePixels)
	}
	if want := float64(r.EdgePixels) / (side * side) * 100; math.Abs(r.RoadDensity-want) > 1e-9 {
		t.Fatalf("road density = %v, want %v", r.RoadDensity, want)
	}
	if r.EdgePixels == 0 {
		t.Fatal("expected edges along the block boundary")
	}
	if level := Classify(sum.AffectedArea, sum.Intensity); level != types.ImpactLow {
		t.Fatalf("level = %s, want LOW", level)
	}
}

func TestExtractInteriorBlockDrainage(t *testing.T) {
	fs, _, err := Extract(withBlock(filledMap(0), 100, 100, 20, 0.9))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	d := fs.DrainageSystems
	// 22x22 dilated minus 20x20 original
	if d.LinearFeatures != 84 || !d.Detected || d.NetworkComplexity != "medium" {
		t.Fatalf("unexpected drainage record %+v", d)
	}
}

func TestExtractSmallBlobIsNotGlacier(t *testing.T) {
	fs, _, err := Extract(withBlock(filledMap(0), 50, 50, 10, 0.95))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if fs.Glaciers.Detected || fs.Glaciers.Count != 0 {
		t.Fatalf("a 100-cell blob must not count as a glacier: %+v", fs.Glaciers)
	}
}

func TestExtractCheckerboard(t *testing.T) {
	pm := filledMap(0)
	const cell = 8
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			if (y/cell+x/cell)%2 == 0 {
				pm.Data[y*side+x] = 1
			}
		}
	}
	fs, sum, err := Extract(pm)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if sum.AffectedArea != 50 {
		t.Fatalf("affected area = %v, want 50", sum.AffectedArea)
	}
	r := fs.RoadNetworks
	if !r.Detected || r.NetworkType != "dense" {
		t.Fatalf("expected a dense road network, got %+v", r)
	}
	// squares only touch diagonally, so 4-connected components stay at 64 cells
	if fs.Glaciers.Detected {
		t.Fatalf("diagonal neighbours must not merge: %+v", fs.Glaciers)
	}
	if d := fs.DrainageSystems; !d.Detected || d.NetworkComplexity != "high" {
		t.Fatalf("unexpected drainage record %+v", d)
	}
}

func TestExtractHalves(t *testing.T) {
	pm := filledMap(0)
	for i := 0; i < side*side/2; i++ {
		pm.Data[i] = 0.7
	}
	fs, _, err := Extract(pm)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	env := fs.EnvironmentalChanges
	if !env.Deforestation || env.Urbanization || env.VegetationLoss {
		t.Fatalf("unexpected change flags %+v", env)
	}
	if env.WaterBodies != 50 {
		t.Fatalf("water_bodies = %v, want 50", env.WaterBodies)
	}
}

func TestExtractEmptyMap(t *testing.T) {
	if _, _, err := Extract(network.ProbabilityMap{}); err == nil {
		t.Fatal("expected error for an empty map")
	}
}

func TestClassifyBoundaries(t *testing.T) {
	cases := []struct {
		area, intensity float64
		want            types.ImpactLevel
	}{
		{0, 0, types.ImpactLow},
		{15, 30, types.ImpactLow},
		{15.01, 0, types.ImpactModerate},
		{0, 30.01, types.ImpactModerate},
		{30, 50, types.ImpactModerate},
		{30.01, 0, types.ImpactHigh},
		{50, 70, types.ImpactHigh},
		{50.01, 0, types.ImpactCritical},
		{0, 70.01, types.ImpactCritical},
		{100, 100, types.ImpactCritical},
	}
	for _, tc := range cases {
		if got := Classify(tc.area, tc.intensity); got != tc.want {
			t.Fatalf("Classify(%v, %v) = %s, want %s", tc.area, tc.intensity, got, tc.want)
		}
	}
}

func TestClassifyIsMonotonic(t *testing.T) {
	prev := 0
	for a := 0.0; a <= 100; a += 0.5 {
		rank := Classify(a, 0).Rank()
		if rank < prev {
			t.Fatalf("level decreased at area %v", a)
		}
		prev = rank
	}
}

func TestRecommendationsOrder(t *testing.T) {
	fs := types.FeatureSet{
		DrainageSystems: types.DrainageFeature{Detected: true},
		RoadNetworks:    types.RoadFeature{Detected: true},
	}
	got := Recommendations(fs, types.ImpactModerate)
	want := []string{
		"Review urban drainage infrastructure",
		"Check for flooding risks",
		"Assess infrastructure development impact",
		"Monitor habitat fragmentation",
	}
	if len(got) != len(want) {
		t.Fatalf("Recommendations() = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Recommendations() = %v, want %v", got, want)
		}
	}
}

func TestRound2(t *testing.T) {
	if round2(12.345678) != 12.35 || round2(0.004) != 0 || round2(math.NaN()) != 0 {
		t.Fatal("unexpected rounding")
	}
}

func TestExtractIsIdempotent(t *testing.T) {
	textured := filledMap(0)
	for i := range textured.Data {
		textured.Data[i] = float32((i*7919)%1000) / 1000
	}
	maps := map[string]network.ProbabilityMap{
		"block":    withBlock(filledMap(0), 100, 100, 20, 0.9),
		"textured": textured,
		"ones":     filledMap(1),
	}
	for name, pm := range maps {
		fs1, sum1, err := Extract(pm)
		if err != nil {
			t.Fatalf("%s: Extract() error = %v", name, err)
		}
		fs2, sum2, err := Extract(pm)
		if err != nil {
			t.Fatalf("%s: second Extract() error = %v", name, err)
		}
		if !reflect.DeepEqual(fs1, fs2) || !reflect.DeepEqual(sum1, sum2) {
			t.Fatalf("%s: results differ:\n%+v %+v\n%+v %+v", name, fs1, sum1, fs2, sum2)
		}
	}
}
