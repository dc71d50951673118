package analysis

import (
	"errors"
	"fmt"
	"image"

	"ecoscope/imageprocessor"
	"ecoscope/network"
	"ecoscope/types"

	"gocv.io/x/gocv"
)

// Thresholds applied to the probability map.
const (
	affectedThreshold = 0.5
	glacierThreshold  = 0.6
	glacierMinArea    = 100
	meltingMean       = 0.7

	drainageThreshold   = 0.5
	drainageDetected    = 50
	drainageHighDensity = 100

	cannyLow          = 50
	cannyHigh         = 150
	roadDetected      = 100
	roadDenseNetwork  = 200
	deforestationMean = 0.6
	urbanizationMean  = 0.5
	waterBelow        = 0.2
	vegetationMean    = 0.6
)

// Summary holds the unrounded whole-map statistics used for impact classification.
type Summary struct {
	AffectedArea float64 // % of cells above 0.5
	Intensity    float64 // mean probability × 100
}

var errEmptyMap = errors.New("probability map is empty")

// Extract derives the feature set and summary statistics from a probability map.
// OpenCV failures are returned, never replaced by zero statistics.
func Extract(pm network.ProbabilityMap) (types.FeatureSet, Summary, error) {
	var fs types.FeatureSet
	n := pm.Len()
	if n == 0 || len(pm.Data) != n {
		return fs, Summary{}, errEmptyMap
	}

	var sum float64
	affected := 0
	for _, v := range pm.Data {
		sum += float64(v)
		if v > affectedThreshold {
			affected++
		}
	}
	mean := sum / float64(n)
	summary := Summary{
		AffectedArea: float64(affected) / float64(n) * 100,
		Intensity:    mean * 100,
	}

	var err error
	if fs.Glaciers, err = detectGlaciers(pm, mean); err != nil {
		return fs, summary, fmt.Errorf("glacier detection: %w", err)
	}
	if fs.DrainageSystems, err = detectDrainage(pm); err != nil {
		return fs, summary, fmt.Errorf("drainage detection: %w", err)
	}
	if fs.RoadNetworks, err = detectRoads(pm); err != nil {
		return fs, summary, fmt.Errorf("road detection: %w", err)
	}
	fs.EnvironmentalChanges = detectEnvironmentalChanges(pm, mean)
	return fs, summary, nil
}

// thresholdMask returns a 0/255 single-channel mask of cells strictly above t.
func thresholdMask(pm network.ProbabilityMap, t float32) (gocv.Mat, error) {
	mask := make([]byte, pm.Len())
	for i, v := range pm.Data {
		if v > t {
			mask[i] = 255
		}
	}
	return imageprocessor.MatFromBytes(pm.H, pm.W, gocv.MatTypeCV8UC1, mask)
}

// detectGlaciers counts 4-connected regions above 0.6 larger than 100 cells.
func detectGlaciers(pm network.ProbabilityMap, mean float64) (types.GlacierFeature, error) {
	mask, err := thresholdMask(pm, glacierThreshold)
	if err != nil {
		return types.GlacierFeature{}, err
	}
	defer mask.Close()

	labels := gocv.NewMat()
	defer labels.Close()
	stats := gocv.NewMat()
	defer stats.Close()
	centroids := gocv.NewMat()
	defer centroids.Close()

	num := gocv.ConnectedComponentsWithStatsWithParams(mask, &labels, &stats, &centroids,
		4, gocv.MatTypeCV32S, gocv.CCL_DEFAULT)

	g := types.GlacierFeature{MeltingIndicators: mean > meltingMean}
	// label 0 is the background
	for i := 1; i < num; i++ {
		area := int(stats.GetIntAt(i, int(gocv.CC_STAT_AREA)))
		if area > glacierMinArea {
			g.Count++
			g.TotalArea += area
		}
	}
	g.Detected = g.Count > 0
	return g, nil
}

// detectDrainage counts the cells added by one 3×3 dilation of the >0.5 mask.
func detectDrainage(pm network.ProbabilityMap) (types.DrainageFeature, error) {
	mask, err := thresholdMask(pm, drainageThreshold)
	if err != nil {
		return types.DrainageFeature{}, err
	}
	defer mask.Close()

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3))
	defer kernel.Close()
	dilated := gocv.NewMat()
	defer dilated.Close()
	gocv.Dilate(mask, &dilated, kernel)
	if dilated.Empty() {
		return types.DrainageFeature{}, errors.New("dilation produced no output")
	}

	linear := gocv.CountNonZero(dilated) - gocv.CountNonZero(mask)
	d := types.DrainageFeature{
		Detected:        linear > drainageDetected,
		LinearFeatures:  linear,
		DrainageDensity: float64(linear) / float64(pm.Len()) * 100,
	}
	switch {
	case linear > drainageHighDensity:
		d.NetworkComplexity = "high"
	case linear > drainageDetected:
		d.NetworkComplexity = "medium"
	default:
		d.NetworkComplexity = "low"
	}
	return d, nil
}

// detectRoads counts Canny edge pixels of the map scaled to 8 bits.
func detectRoads(pm network.ProbabilityMap) (types.RoadFeature, error) {
	scaled := make([]byte, pm.Len())
	for i, v := range pm.Data {
		// truncation, not rounding
		scaled[i] = uint8(clamp01(v) * 255)
	}
	src, err := imageprocessor.MatFromBytes(pm.H, pm.W, gocv.MatTypeCV8UC1, scaled)
	if err != nil {
		return types.RoadFeature{}, err
	}
	defer src.Close()

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(src, &edges, cannyLow, cannyHigh)
	if edges.Empty() {
		return types.RoadFeature{}, errors.New("edge detection produced no output")
	}

	count := gocv.CountNonZero(edges)
	r := types.RoadFeature{
		Detected:    count > roadDetected,
		EdgePixels:  count,
		RoadDensity: float64(count) / float64(pm.Len()) * 100,
		NetworkType: "sparse",
	}
	if count > roadDenseNetwork {
		r.NetworkType = "dense"
	}
	return r, nil
}

// detectEnvironmentalChanges compares the mean of the top and bottom halves of the map.
func detectEnvironmentalChanges(pm network.ProbabilityMap, mean float64) types.ChangeFlags {
	half := pm.H / 2
	split := half * pm.W

	var top, bottom float64
	low := 0
	for i, v := range pm.Data {
		if i < split {
			top += float64(v)
		} else {
			bottom += float64(v)
		}
		if v < waterBelow {
			low++
		}
	}

	flags := types.ChangeFlags{
		WaterBodies:    float64(low) / float64(pm.Len()) * 100,
		VegetationLoss: mean > vegetationMean,
	}
	// a single-row map has an empty top half, whose mean is undefined
	if split > 0 {
		flags.Deforestation = top/float64(split) > deforestationMean
	}
	flags.Urbanization = bottom/float64(pm.Len()-split) > urbanizationMean
	return flags
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
