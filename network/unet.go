package network

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
)

// ErrInvalidArchitecture is returned when a network cannot be constructed.
var ErrInvalidArchitecture = errors.New("invalid network architecture")

// Config describes a U-Net instance.
type Config struct {
	// InChannels is 3 for single-image analysis or 6 for a before/after pair.
	InChannels int
	// BaseChannels is the width of the first encoder stage; the reference network uses 64.
	BaseChannels int
	// Workers bounds the goroutines used per convolution; 0 means GOMAXPROCS.
	Workers int
	// Seed drives the initial parameter values used when no checkpoint is loaded.
	Seed uint64
}

// UNet is a two-level encoder/decoder with skip connections and a sigmoid head.
// It is immutable after loading and safe for concurrent Infer calls.
type UNet struct {
	cfg Config

	enc1a, enc1b *Conv2D
	enc2a, enc2b *Conv2D
	botA, botB   *Conv2D
	up2          *ConvTranspose2D
	dec2a, dec2b *Conv2D
	up1          *ConvTranspose2D
	dec1a, dec1b *Conv2D
	final        *Conv2D
}

// NewUNet builds a network with randomly initialised parameters.
func NewUNet(cfg Config) (*UNet, error) {
	if cfg.InChannels != 3 && cfg.InChannels != 6 {
		return nil, fmt.Errorf("%w: in_channels must be 3 or 6, got %d", ErrInvalidArchitecture, cfg.InChannels)
	}
	if cfg.BaseChannels < 1 {
		return nil, fmt.Errorf("%w: base_channels must be positive, got %d", ErrInvalidArchitecture, cfg.BaseChannels)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}

	b := cfg.BaseChannels
	n := &UNet{
		cfg:   cfg,
		enc1a: newConv2D(cfg.InChannels, b, 3),
		enc1b: newConv2D(b, b, 3),
		enc2a: newConv2D(b, 2*b, 3),
		enc2b: newConv2D(2*b, 2*b, 3),
		botA:  newConv2D(2*b, 4*b, 3),
		botB:  newConv2D(4*b, 4*b, 3),
		up2:   newConvTranspose2D(4*b, 2*b),
		dec2a: newConv2D(4*b, 2*b, 3),
		dec2b: newConv2D(2*b, 2*b, 3),
		up1:   newConvTranspose2D(2*b, b),
		dec1a: newConv2D(2*b, b, 3),
		dec1b: newConv2D(b, b, 3),
		final: newConv2D(b, 1, 1),
	}
	n.initParameters(rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)))
	return n, nil
}

// InChannels implements Segmenter.
func (n *UNet) InChannels() int {
	return n.cfg.InChannels
}

// namedParam is one tensor of the network addressed by its PyTorch state_dict key.
type namedParam struct {
	name  string
	shape []int
	data  []float32
	fanIn int
}

// parameters lists every tensor in state_dict order.
func (n *UNet) parameters() []namedParam {
	var ps []namedParam
	conv := func(prefix string, c *Conv2D) {
		fan := c.InC * c.K * c.K
		ps = append(ps,
			namedParam{prefix + ".weight", []int{c.OutC, c.InC, c.K, c.K}, c.Weight, fan},
			namedParam{prefix + ".bias", []int{c.OutC}, c.Bias, fan},
		)
	}
	deconv := func(prefix string, c *ConvTranspose2D) {
		fan := c.OutC * 4
		ps = append(ps,
			namedParam{prefix + ".weight", []int{c.InC, c.OutC, 2, 2}, c.Weight, fan},
			namedParam{prefix + ".bias", []int{c.OutC}, c.Bias, fan},
		)
	}

	conv("encoder1.0", n.enc1a)
	conv("encoder1.2", n.enc1b)
	conv("encoder2.0", n.enc2a)
	conv("encoder2.2", n.enc2b)
	conv("bottleneck.0", n.botA)
	conv("bottleneck.2", n.botB)
	deconv("up2", n.up2)
	conv("decoder2.0", n.dec2a)
	conv("decoder2.2", n.dec2b)
	deconv("up1", n.up1)
	conv("decoder1.0", n.dec1a)
	conv("decoder1.2", n.dec1b)
	conv("final", n.final)
	return ps
}

// ParameterCount is the total number of scalar parameters.
func (n *UNet) ParameterCount() int {
	total := 0
	for _, p := range n.parameters() {
		total += len(p.data)
	}
	return total
}

// initParameters draws U(-1/sqrt(fan_in), 1/sqrt(fan_in)) for every tensor.
func (n *UNet) initParameters(rng *rand.Rand) {
	for _, p := range n.parameters() {
		bound := 1 / math.Sqrt(float64(p.fanIn))
		for i := range p.data {
			p.data[i] = float32((rng.Float64()*2 - 1) * bound)
		}
	}
}

// Infer runs the forward pass on a (1, InChannels, H, W) tensor. H and W must be multiples of 4.
func (n *UNet) Infer(x Tensor) (ProbabilityMap, error) {
	if err := x.validate(); err != nil {
		return ProbabilityMap{}, err
	}
	if x.C != n.cfg.InChannels {
		return ProbabilityMap{}, fmt.Errorf("network expects %d input channels, got %d", n.cfg.InChannels, x.C)
	}
	if x.H%4 != 0 || x.W%4 != 0 {
		return ProbabilityMap{}, fmt.Errorf("input spatial size %dx%d must be a multiple of 4", x.H, x.W)
	}

	w := n.cfg.Workers
	block := func(x Tensor, a, b *Conv2D) (Tensor, error) {
		h, err := a.Forward(x, w)
		if err != nil {
			return Tensor{}, err
		}
		h, err = b.Forward(reluInPlace(h), w)
		if err != nil {
			return Tensor{}, err
		}
		return reluInPlace(h), nil
	}

	enc1, err := block(x, n.enc1a, n.enc1b)
	if err != nil {
		return ProbabilityMap{}, fmt.Errorf("encoder1: %w", err)
	}
	enc2, err := block(maxPool2(enc1), n.enc2a, n.enc2b)
	if err != nil {
		return ProbabilityMap{}, fmt.Errorf("encoder2: %w", err)
	}
	bottom, err := block(maxPool2(enc2), n.botA, n.botB)
	if err != nil {
		return ProbabilityMap{}, fmt.Errorf("bottleneck: %w", err)
	}

	up2, err := n.up2.Forward(bottom)
	if err != nil {
		return ProbabilityMap{}, fmt.Errorf("up2: %w", err)
	}
	cat2, err := concatChannels(up2, enc2)
	if err != nil {
		return ProbabilityMap{}, fmt.Errorf("skip2: %w", err)
	}
	dec2, err := block(cat2, n.dec2a, n.dec2b)
	if err != nil {
		return ProbabilityMap{}, fmt.Errorf("decoder2: %w", err)
	}

	up1, err := n.up1.Forward(dec2)
	if err != nil {
		return ProbabilityMap{}, fmt.Errorf("up1: %w", err)
	}
	cat1, err := concatChannels(up1, enc1)
	if err != nil {
		return ProbabilityMap{}, fmt.Errorf("skip1: %w", err)
	}
	dec1, err := block(cat1, n.dec1a, n.dec1b)
	if err != nil {
		return ProbabilityMap{}, fmt.Errorf("decoder1: %w", err)
	}

	logits, err := n.final.Forward(dec1, w)
	if err != nil {
		return ProbabilityMap{}, fmt.Errorf("final: %w", err)
	}
	for i, v := range logits.Data {
		logits.Data[i] = sigmoid(v)
	}
	return NewProbabilityMap(logits.H, logits.W, logits.Data)
}
