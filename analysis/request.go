package analysis

import (
	"fmt"

	"ecoscope/imageprocessor"
	"ecoscope/types"
)

// Request is one of SingleImageRequest, ChangePairRequest or ComparisonRequest.
type Request interface {
	isRequest()
}

// SingleImageRequest runs the 3-channel network on one scene.
type SingleImageRequest struct {
	Image imageprocessor.RasterImage
}

// ChangePairRequest runs the 6-channel network on a before/after pair.
type ChangePairRequest struct {
	Before, After imageprocessor.RasterImage
}

// ComparisonRequest runs the heuristic pixel comparison, which needs no network.
type ComparisonRequest struct {
	Before, After imageprocessor.RasterImage
	Options       CompareOptions
}

func (SingleImageRequest) isRequest() {}
func (ChangePairRequest) isRequest()  {}
func (ComparisonRequest) isRequest()  {}

// Outcome carries exactly one of Analysis or Comparison.
type Outcome struct {
	Analysis   *types.AnalysisResult
	Comparison *types.ComparisonResult
}

// Run dispatches a request to the matching pipeline.
func (a *Analyzer) Run(req Request) (Outcome, error) {
	switch r := req.(type) {
	case SingleImageRequest:
		res, err := a.AnalyzeImage(r.Image)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Analysis: &res}, nil
	case ChangePairRequest:
		res, err := a.AnalyzeChange(r.Before, r.After)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Analysis: &res}, nil
	case ComparisonRequest:
		opts := r.Options
		if opts.Now == nil {
			opts.Now = a.opts.Now
		}
		res, err := Compare(r.Before, r.After, opts)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Comparison: &res}, nil
	default:
		return Outcome{}, fmt.Errorf("unsupported request type %T", req)
	}
}
