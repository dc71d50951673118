package network

import (
	"fmt"

	"ecoscope/logging"
	"ecoscope/types"
)

// Segmenter produces a change probability map from a preprocessed input tensor.
// Implementations are safe for concurrent use.
type Segmenter interface {
	InChannels() int
	Infer(x Tensor) (ProbabilityMap, error)
	Info() types.ModelInfo
	Close() error
}

// LoadStatus records how the active parameters were obtained.
type LoadStatus struct {
	Degraded bool
	// Err is a *ModelUnavailableError when Degraded is set.
	Err    error
	Source string
}

// Options selects and configures the segmentation backend.
type Options struct {
	Backend         string // "native" or "onnx"
	CheckpointPath  string
	ONNXPath        string
	ONNXLibraryPath string
	InputSize       int
	Net             Config
}

// Load builds the configured backend. Missing or unusable trained parameters do not fail the load;
// the returned status is marked degraded instead. Only an invalid architecture is fatal.
func Load(opts Options) (Segmenter, LoadStatus, error) {
	if opts.Backend == "onnx" {
		seg, err := NewONNXSegmenter(ONNXOptions{
			ModelPath:   opts.ONNXPath,
			LibraryPath: opts.ONNXLibraryPath,
			InChannels:  opts.Net.InChannels,
			InputSize:   opts.InputSize,
		})
		if err == nil {
			logging.LogInfo("Loaded ONNX model from %s", opts.ONNXPath)
			return seg, LoadStatus{Source: opts.ONNXPath}, nil
		}
		logging.LogWarning("ONNX backend unavailable, falling back to native network: %v", err)
		net, netErr := NewUNet(opts.Net)
		if netErr != nil {
			return nil, LoadStatus{}, netErr
		}
		return net, LoadStatus{Degraded: true, Err: &ModelUnavailableError{Path: opts.ONNXPath, Reason: "onnx backend failed", Err: err}}, nil
	}

	net, err := NewUNet(opts.Net)
	if err != nil {
		return nil, LoadStatus{}, err
	}

	if opts.CheckpointPath == "" {
		status := LoadStatus{Degraded: true, Err: &ModelUnavailableError{Reason: "no checkpoint configured"}}
		logging.LogWarning("%v; running with untrained parameters", status.Err)
		return net, status, nil
	}
	if err := LoadCheckpoint(opts.CheckpointPath, net); err != nil {
		logging.LogWarning("%v; running with untrained parameters", err)
		return net, LoadStatus{Degraded: true, Err: err}, nil
	}

	logging.LogInfo("Loaded %d parameters from %s", net.ParameterCount(), opts.CheckpointPath)
	return net, LoadStatus{Source: opts.CheckpointPath}, nil
}

// Info implements Segmenter.
func (n *UNet) Info() types.ModelInfo {
	return types.ModelInfo{
		Backend:      "native",
		Architecture: fmt.Sprintf("unet(in=%d, base=%d)", n.cfg.InChannels, n.cfg.BaseChannels),
		InChannels:   n.cfg.InChannels,
		BaseChannels: n.cfg.BaseChannels,
		Parameters:   n.ParameterCount(),
	}
}

// Close implements Segmenter; the native network holds no external resources.
func (n *UNet) Close() error {
	return nil
}
