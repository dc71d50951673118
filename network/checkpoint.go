package network

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
)

// maxHeaderSize guards against reading an absurd header from a corrupt file.
const maxHeaderSize = 100 << 20

// ModelUnavailableError reports that trained parameters could not be applied.
// The network keeps running on its initial parameters and results are flagged as degraded.
type ModelUnavailableError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ModelUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("model unavailable (%s): %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("model unavailable (%s): %s", e.Path, e.Reason)
}

func (e *ModelUnavailableError) Unwrap() error {
	return e.Err
}

type tensorHeader struct {
	Dtype       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// LoadCheckpoint reads a safetensors file keyed by PyTorch state_dict names into n.
// Nothing in n is modified unless every parameter is present with the right shape.
func LoadCheckpoint(path string, n *UNet) error {
	unavailable := func(reason string, err error) error {
		return &ModelUnavailableError{Path: path, Reason: reason, Err: err}
	}

	f, err := os.Open(path)
	if err != nil {
		return unavailable("cannot open checkpoint", err)
	}
	defer f.Close()

	var headerLen uint64
	if err := binary.Read(f, binary.LittleEndian, &headerLen); err != nil {
		return unavailable("cannot read header length", err)
	}
	if headerLen == 0 || headerLen > maxHeaderSize {
		return unavailable(fmt.Sprintf("implausible header length %d", headerLen), nil)
	}
	rawHeader := make([]byte, headerLen)
	if _, err := io.ReadFull(f, rawHeader); err != nil {
		return unavailable("truncated header", err)
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(rawHeader, &entries); err != nil {
		return unavailable("malformed header", err)
	}
	payload, err := io.ReadAll(f)
	if err != nil {
		return unavailable("cannot read tensor data", err)
	}

	params := n.parameters()
	staged := make([][]float32, len(params))
	for i, p := range params {
		raw, ok := entries[p.name]
		if !ok {
			return unavailable("architecture mismatch", fmt.Errorf("missing tensor %q", p.name))
		}
		var th tensorHeader
		if err := json.Unmarshal(raw, &th); err != nil {
			return unavailable("malformed tensor entry", fmt.Errorf("%s: %w", p.name, err))
		}
		if th.Dtype != "F32" {
			return unavailable("unsupported dtype", fmt.Errorf("%s has dtype %s, want F32", p.name, th.Dtype))
		}
		if !slices.Equal(th.Shape, p.shape) {
			return unavailable("architecture mismatch", fmt.Errorf("%s has shape %v, want %v", p.name, th.Shape, p.shape))
		}
		begin, end := th.DataOffsets[0], th.DataOffsets[1]
		if begin < 0 || end < begin || end > int64(len(payload)) || end-begin != int64(4*len(p.data)) {
			return unavailable("corrupt tensor offsets", fmt.Errorf("%s: [%d,%d)", p.name, begin, end))
		}
		values := make([]float32, len(p.data))
		for j := range values {
			values[j] = math.Float32frombits(binary.LittleEndian.Uint32(payload[begin+int64(4*j):]))
		}
		staged[i] = values
	}

	for i, p := range params {
		copy(p.data, staged[i])
	}
	return nil
}

// SaveCheckpoint writes the parameters of n as a safetensors file.
func SaveCheckpoint(path string, n *UNet) error {
	params := n.parameters()

	header := make(map[string]interface{}, len(params)+1)
	header["__metadata__"] = map[string]string{
		"format":        "pt",
		"architecture":  "unet",
		"in_channels":   fmt.Sprint(n.cfg.InChannels),
		"base_channels": fmt.Sprint(n.cfg.BaseChannels),
	}
	var offset int64
	for _, p := range params {
		size := int64(4 * len(p.data))
		header[p.name] = tensorHeader{Dtype: "F32", Shape: p.shape, DataOffsets: [2]int64{offset, offset + size}}
		offset += size
	}
	rawHeader, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("encode checkpoint header: %w", err)
	}
	// the data section must start 8-byte aligned
	for len(rawHeader)%8 != 0 {
		rawHeader = append(rawHeader, ' ')
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, uint64(len(rawHeader))); err != nil {
		f.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if _, err := w.Write(rawHeader); err != nil {
		f.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	var word [4]byte
	for _, p := range params {
		for _, v := range p.data {
			binary.LittleEndian.PutUint32(word[:], math.Float32bits(v))
			if _, err := w.Write(word[:]); err != nil {
				f.Close()
				return fmt.Errorf("write checkpoint: %w", err)
			}
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return f.Close()
}

// IsModelUnavailable reports whether err carries a ModelUnavailableError.
func IsModelUnavailable(err error) bool {
	var mu *ModelUnavailableError
	return errors.As(err, &mu)
}
