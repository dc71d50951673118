package network

import (
	"fmt"
	"sync"

	"ecoscope/types"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXOptions configures an exported model served through ONNX Runtime.
type ONNXOptions struct {
	ModelPath   string
	LibraryPath string
	InChannels  int
	InputSize   int
	InputName   string
	OutputName  string
}

// ONNXSegmenter runs an exported U-Net through ONNX Runtime.
// The session owns fixed input/output tensors, so Infer calls are serialised.
type ONNXSegmenter struct {
	mu           sync.Mutex
	opts         ONNXOptions
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// NewONNXSegmenter initialises the runtime and creates a session for opts.ModelPath.
func NewONNXSegmenter(opts ONNXOptions) (*ONNXSegmenter, error) {
	if opts.ModelPath == "" {
		return nil, fmt.Errorf("no onnx model path configured")
	}
	if opts.InputName == "" {
		opts.InputName = "input"
	}
	if opts.OutputName == "" {
		opts.OutputName = "output"
	}

	if !ort.IsInitialized() {
		if opts.LibraryPath != "" {
			ort.SetSharedLibraryPath(opts.LibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}

	in := Tensor{C: opts.InChannels, H: opts.InputSize, W: opts.InputSize}
	inputShape := ort.NewShape(in.Shape()...)
	outputShape := ort.NewShape(Tensor{C: 1, H: opts.InputSize, W: opts.InputSize}.Shape()...)

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(opts.ModelPath,
		[]string{opts.InputName}, []string{opts.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXSegmenter{
		opts:         opts,
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// InChannels implements Segmenter.
func (s *ONNXSegmenter) InChannels() int {
	return s.opts.InChannels
}

// Infer implements Segmenter.
func (s *ONNXSegmenter) Infer(x Tensor) (ProbabilityMap, error) {
	if err := x.validate(); err != nil {
		return ProbabilityMap{}, err
	}
	if x.C != s.opts.InChannels || x.H != s.opts.InputSize || x.W != s.opts.InputSize {
		return ProbabilityMap{}, fmt.Errorf("onnx model expects (1,%d,%d,%d), got (1,%d,%d,%d)",
			s.opts.InChannels, s.opts.InputSize, s.opts.InputSize, x.C, x.H, x.W)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy(s.inputTensor.GetData(), x.Data)
	if err := s.session.Run(); err != nil {
		return ProbabilityMap{}, fmt.Errorf("inference failed: %w", err)
	}

	out := make([]float32, x.H*x.W)
	copy(out, s.outputTensor.GetData())
	return NewProbabilityMap(x.H, x.W, out)
}

// Info implements Segmenter.
func (s *ONNXSegmenter) Info() types.ModelInfo {
	return types.ModelInfo{
		Backend:      "onnx",
		Architecture: "unet (exported)",
		InChannels:   s.opts.InChannels,
		InputSize:    s.opts.InputSize,
		Source:       s.opts.ModelPath,
	}
}

// Close releases the session, its tensors and the runtime environment.
func (s *ONNXSegmenter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inputTensor != nil {
		s.inputTensor.Destroy()
		s.inputTensor = nil
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
		s.outputTensor = nil
	}
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
	return ort.DestroyEnvironment()
}
