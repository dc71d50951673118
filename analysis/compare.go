package analysis

import (
	"fmt"
	"image"
	"time"

	"ecoscope/imageprocessor"
	"ecoscope/logging"
	"ecoscope/types"

	"gocv.io/x/gocv"
)

const (
	// grayscale difference above which a pixel counts as changed
	changeThreshold = 30

	vegetationLossDiff = 50
	vegetationGrowth   = -30
	waterReductionDiff = 40
	waterExpansionDiff = -40
	urbanizationDiff   = 60
	urbanDegradeDiff   = -50

	minorChanges = "minor_environmental_changes"
)

// DimensionMismatchError is returned when either image of a pair has zero area.
type DimensionMismatchError struct {
	BeforeWidth, BeforeHeight int
	AfterWidth, AfterHeight   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("cannot compare %dx%d with %dx%d: both images need a non-zero area",
		e.BeforeWidth, e.BeforeHeight, e.AfterWidth, e.AfterHeight)
}

// CompareOptions tunes Compare.
type CompareOptions struct {
	// Visualize attaches a before | after | mask PNG to the result.
	Visualize bool
	Now       func() time.Time
}

// Compare detects changed pixels between two scenes without the network.
// Both images are resized to the element-wise minimum of their sizes, so neither is upsampled.
func Compare(before, after imageprocessor.RasterImage, opts CompareOptions) (types.ComparisonResult, error) {
	if before.Empty() || after.Empty() {
		return types.ComparisonResult{}, &DimensionMismatchError{
			BeforeWidth: before.Width(), BeforeHeight: before.Height(),
			AfterWidth: after.Width(), AfterHeight: after.Height(),
		}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	height := min(before.Height(), after.Height())
	width := min(before.Width(), after.Width())

	img1, err := resizedBGR(before, width, height)
	if err != nil {
		return types.ComparisonResult{}, fmt.Errorf("before image: %w", err)
	}
	defer img1.Close()
	img2, err := resizedBGR(after, width, height)
	if err != nil {
		return types.ComparisonResult{}, fmt.Errorf("after image: %w", err)
	}
	defer img2.Close()

	gray1 := gocv.NewMat()
	defer gray1.Close()
	gray2 := gocv.NewMat()
	defer gray2.Close()
	gocv.CvtColor(img1, &gray1, gocv.ColorBGRToGray)
	gocv.CvtColor(img2, &gray2, gocv.ColorBGRToGray)

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(gray1, gray2, &diff)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(diff, &thresh, changeThreshold, 255, gocv.ThresholdBinary)

	contours := gocv.FindContours(thresh, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	contoursCount := contours.Size()
	contours.Close()

	totalPixels := width * height
	changedPixels := gocv.CountNonZero(thresh)
	mask := thresh.ToBytes()

	changes, err := analyzeChannels(img1, img2, diff, mask)
	if err != nil {
		return types.ComparisonResult{}, err
	}

	result := types.ComparisonResult{
		Timestamp:        opts.Now().UTC(),
		Success:          true,
		ChangePercentage: round2(float64(changedPixels) / float64(totalPixels) * 100),
		ChangedPixels:    changedPixels,
		TotalPixels:      totalPixels,
		ChangeAnalysis:   changes,
		ContoursCount:    contoursCount,
	}

	if opts.Visualize {
		uri, err := renderComparison(img1, img2, mask, width, height)
		if err != nil {
			// the comparison itself is still valid
			logging.LogWarning("comparison visualisation failed: %v", err)
		} else {
			result.ComparisonImage = uri
		}
	}
	return result, nil
}

func resizedBGR(img imageprocessor.RasterImage, width, height int) (gocv.Mat, error) {
	src, err := img.BGRMat()
	if err != nil {
		return gocv.NewMat(), err
	}
	if img.Width() == width && img.Height() == height {
		return src, nil
	}
	defer src.Close()

	dst := gocv.NewMat()
	gocv.Resize(src, &dst, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)
	if dst.Rows() != height || dst.Cols() != width {
		dst.Close()
		return gocv.NewMat(), fmt.Errorf("resize produced %dx%d, want %dx%d", dst.Cols(), dst.Rows(), width, height)
	}
	return dst, nil
}

// analyzeChannels averages saturation, blue and brightness differences over the changed pixels.
func analyzeChannels(img1, img2, grayDiff gocv.Mat, mask []byte) (types.ChangeAnalysis, error) {
	hsv1 := gocv.NewMat()
	defer hsv1.Close()
	hsv2 := gocv.NewMat()
	defer hsv2.Close()
	gocv.CvtColor(img1, &hsv1, gocv.ColorBGRToHSV)
	gocv.CvtColor(img2, &hsv2, gocv.ColorBGRToHSV)

	saturation, err := channelAbsDiff(hsv1, hsv2, 1)
	if err != nil {
		return types.ChangeAnalysis{}, fmt.Errorf("saturation difference: %w", err)
	}
	blue, err := channelAbsDiff(img1, img2, 0)
	if err != nil {
		return types.ChangeAnalysis{}, fmt.Errorf("blue difference: %w", err)
	}

	vegetation := maskedMean(saturation, mask)
	water := maskedMean(blue, mask)
	urban := maskedMean(grayDiff.ToBytes(), mask)

	return types.ChangeAnalysis{
		VegetationChange: round2(vegetation),
		WaterChange:      round2(water),
		UrbanChange:      round2(urban),
		ChangeTypes:      classifyChanges(vegetation, water, urban),
	}, nil
}

// channelAbsDiff returns |a[c] - b[c]| for one channel as raw bytes.
func channelAbsDiff(a, b gocv.Mat, channel int) ([]byte, error) {
	as := gocv.Split(a)
	defer closeAll(as)
	bs := gocv.Split(b)
	defer closeAll(bs)
	if channel >= len(as) || channel >= len(bs) {
		return nil, fmt.Errorf("channel %d out of range", channel)
	}

	d := gocv.NewMat()
	defer d.Close()
	gocv.AbsDiff(as[channel], bs[channel], &d)
	return d.ToBytes(), nil
}

func closeAll(ms []gocv.Mat) {
	for _, m := range ms {
		m.Close()
	}
}

// maskedMean averages values where mask is non-zero; an empty mask yields 0.
func maskedMean(values, mask []byte) float64 {
	var sum, n int
	for i, m := range mask {
		if m != 0 && i < len(values) {
			sum += int(values[i])
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}

// classifyChanges maps the masked statistics to change labels.
// The statistics are magnitudes, so the negative branches never fire; they are kept for parity.
func classifyChanges(vegetation, water, urban float64) []string {
	var changes []string

	if vegetation > vegetationLossDiff {
		changes = append(changes, "deforestation")
	} else if vegetation < vegetationGrowth {
		changes = append(changes, "vegetation_growth")
	}

	if water > waterReductionDiff {
		changes = append(changes, "water_body_reduction")
	} else if water < waterExpansionDiff {
		changes = append(changes, "water_body_expansion")
	}

	if urban > urbanizationDiff {
		changes = append(changes, "urbanization")
	} else if urban < urbanDegradeDiff {
		changes = append(changes, "urban_degradation")
	}

	if len(changes) == 0 {
		changes = append(changes, minorChanges)
	}
	return changes
}
