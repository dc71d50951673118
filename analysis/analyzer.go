package analysis

import (
	"errors"
	"fmt"
	"time"

	"ecoscope/imageprocessor"
	"ecoscope/network"
	"ecoscope/types"
)

// ErrChannelMismatch is returned when a request mode does not fit the network's input width.
var ErrChannelMismatch = errors.New("request mode does not match network input channels")

// Analysis modes.
const (
	ModeSingleImage = "single_image"
	ModeChangePair  = "change_pair"
)

// Options tunes an Analyzer.
type Options struct {
	// InputSize is the square size images are resampled to; defaults to 256.
	InputSize int
	// GroundSampleDistanceM, when positive, enables km² reporting of the affected area.
	GroundSampleDistanceM float64
	Now                   func() time.Time
}

// Analyzer runs preprocess, network inference, feature extraction and impact classification.
// It holds no mutable state and may be shared across goroutines.
type Analyzer struct {
	seg    network.Segmenter
	status network.LoadStatus
	opts   Options
}

// NewAnalyzer wraps a loaded segmenter and the status of its load.
func NewAnalyzer(seg network.Segmenter, status network.LoadStatus, opts Options) *Analyzer {
	if opts.InputSize <= 0 {
		opts.InputSize = imageprocessor.DefaultInputSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Analyzer{seg: seg, status: status, opts: opts}
}

// Degraded reports whether results come from an untrained network.
func (a *Analyzer) Degraded() bool {
	return a.status.Degraded
}

// ModelInfo describes the active network, including degraded-mode details.
func (a *Analyzer) ModelInfo() types.ModelInfo {
	info := a.seg.Info()
	info.InputSize = a.opts.InputSize
	info.Degraded = a.status.Degraded
	if a.status.Err != nil {
		info.LoadError = a.status.Err.Error()
	}
	if info.Source == "" {
		info.Source = a.status.Source
	}
	return info
}

// AnalyzeImage analyses a single scene with a 3-channel network.
func (a *Analyzer) AnalyzeImage(img imageprocessor.RasterImage) (types.AnalysisResult, error) {
	if a.seg.InChannels() != 3 {
		return types.AnalysisResult{}, fmt.Errorf("%w: single-image analysis needs 3 channels, network has %d",
			ErrChannelMismatch, a.seg.InChannels())
	}
	x, err := imageprocessor.Preprocess(img, a.opts.InputSize)
	if err != nil {
		return types.AnalysisResult{}, err
	}
	return a.analyzeTensor(x, ModeSingleImage, img.Width()*img.Height())
}

// AnalyzeChange analyses a before/after pair with a 6-channel network.
func (a *Analyzer) AnalyzeChange(before, after imageprocessor.RasterImage) (types.AnalysisResult, error) {
	if a.seg.InChannels() != 6 {
		return types.AnalysisResult{}, fmt.Errorf("%w: pair analysis needs 6 channels, network has %d",
			ErrChannelMismatch, a.seg.InChannels())
	}
	x, err := imageprocessor.PreprocessPair(before, after, a.opts.InputSize)
	if err != nil {
		return types.AnalysisResult{}, err
	}
	return a.analyzeTensor(x, ModeChangePair, after.Width()*after.Height())
}

func (a *Analyzer) analyzeTensor(x network.Tensor, mode string, footprintPixels int) (types.AnalysisResult, error) {
	pm, err := a.seg.Infer(x)
	if err != nil {
		return types.AnalysisResult{}, fmt.Errorf("inference: %w", err)
	}
	result, err := a.BuildResult(pm, mode)
	if err != nil {
		return types.AnalysisResult{}, err
	}
	if a.opts.GroundSampleDistanceM > 0 {
		km2 := round2(result.AffectedAreaPercentage / 100 * float64(footprintPixels) *
			a.opts.GroundSampleDistanceM * a.opts.GroundSampleDistanceM / 1e6)
		result.AffectedAreaKm2 = &km2
		change := ClassifyAreaChange(km2)
		result.AreaChange = &change
	}
	return result, nil
}

// BuildResult turns a probability map into a serialisable AnalysisResult.
func (a *Analyzer) BuildResult(pm network.ProbabilityMap, mode string) (types.AnalysisResult, error) {
	features, summary, err := Extract(pm)
	if err != nil {
		return types.AnalysisResult{}, err
	}
	level := Classify(summary.AffectedArea, summary.Intensity)

	return types.AnalysisResult{
		Timestamp:                 a.opts.Now().UTC(),
		Mode:                      mode,
		AffectedAreaPercentage:    round2(summary.AffectedArea),
		ImpactIntensityPercentage: round2(summary.Intensity),
		ImpactLevel:               level,
		FeaturesDetected:          features,
		Recommendations:           Recommendations(features, level),
		AreaReference:             fmt.Sprintf("resampled_grid_%dx%d", pm.W, pm.H),
		DegradedMode:              a.status.Degraded,
	}, nil
}
