// Package embedding turns text into unit-normalized vectors with a resident model.
//
// A Handle owns the loaded artifact (an Encoder bound to a device). An Engine sits in front of
// it: it applies the query/document instruction prefix, serves single texts through an LRU
// ResultCache, and sends batches straight to the model.
package embedding

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/embedserver/internal/device"
)

// Encoder is a loaded model artifact. Encode returns one vector per text, in order; vectors
// need not be normalized. Implementations must be safe for concurrent use.
type Encoder interface {
	Encode(ctx context.Context, texts []string, truncate bool) ([][]float32, error)
	Dimension() int
	MaxInputLength() int
	Close() error
}

// deviceReporter is implemented by encoders that may run somewhere other than the device
// they were asked for (for example a pure-Go backend that always runs on the CPU).
type deviceReporter interface {
	Device() device.Device
}

// LoadOptions describe the artifact an OpenFunc should open.
type LoadOptions struct {
	ModelID         string
	Dir             string
	Device          device.Device
	Pooling         string
	Tokenizer       string
	MaxInputLength  int
	Dimension       int
	Download        bool
	ONNXLibraryPath string
	Logger          *zap.Logger
}

// OpenFunc opens an Encoder.
type OpenFunc func(ctx context.Context, opts LoadOptions) (Encoder, error)

var backends = map[string]OpenFunc{
	"onnx":  openONNX,
	"hugot": openHugot,
	"hash":  openHash,
}

// Backend returns the opener registered under name.
func Backend(name string) (OpenFunc, error) {
	open, ok := backends[name]
	if !ok {
		names := make([]string, 0, len(backends))
		for n := range backends {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unknown backend %q (want %s)", name, strings.Join(names, ", "))
	}
	return open, nil
}

// errInputTooLong is returned by encoders when truncation is disabled.
func errInputTooLong(index, tokens, max int) error {
	return fmt.Errorf("input %d has %d tokens, exceeds max_input_length %d and truncate is false", index, tokens, max)
}
