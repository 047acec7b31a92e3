// Package engine defines the inference engines checkpoints are loaded into.
package engine

import (
	"context"
	"errors"
)

// Error definitions for the engine package.
var (
	ErrUnsupportedFormat = errors.New("unsupported checkpoint format")
	ErrEmptyBatch        = errors.New("empty feature batch")
	ErrFeatureSize       = errors.New("feature row has wrong size")
	ErrClosed            = errors.New("engine is closed")
)

// Engine runs a loaded checkpoint on a batch of feature rows and returns one
// output row per input row.
type Engine interface {
	// Run executes inference on rows.
	Run(ctx context.Context, rows [][]float32) ([][]float32, error)

	// Close releases any resources held by the engine.
	Close() error
}

// Options carries checkpoint-specific settings read from model metadata.
type Options struct {
	// InputName is the graph input tensor name, for formats that need one.
	InputName string

	// OutputName is the graph output tensor name, for formats that need one.
	OutputName string

	// OutputDim is the length of each output row, for formats that cannot
	// infer it.
	OutputDim int
}

// LoaderFunc opens the checkpoint at path.
type LoaderFunc func(path string, opts Options) (Engine, error)

// CloseAll closes every engine and returns the first error.
func CloseAll(engines []Engine) error {
	var first error
	for _, e := range engines {
		if err := e.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
