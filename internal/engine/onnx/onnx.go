// Package onnx runs ONNX checkpoints through onnxruntime.
package onnx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/ekisa-team/beamline/internal/engine"
	"github.com/ekisa-team/beamline/internal/envvar"
)

// Ext is the checkpoint extension handled by this package.
const Ext = ".onnx"

const (
	defaultInputName  = "features"
	defaultOutputName = "spectrum"
)

// ErrOutputDim is returned when the metadata does not declare output_dim.
var ErrOutputDim = errors.New("onnx checkpoints require output_dim in metadata")

var envMu sync.Mutex

// initEnvironment initializes the process-wide onnxruntime environment once.
func initEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}

	if lib := os.Getenv(envvar.BeamlineOnnxRuntimeLib); lib != "" {
		ort.SetSharedLibraryPath(lib)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	return nil
}

// Shutdown destroys the onnxruntime environment. Call it after every
// session is closed.
func Shutdown() error {
	envMu.Lock()
	defer envMu.Unlock()

	if !ort.IsInitialized() {
		return nil
	}

	return ort.DestroyEnvironment()
}

// Engine wraps an ONNX runtime session for thread-safe inference.
type Engine struct {
	mu        sync.Mutex
	session   *ort.DynamicAdvancedSession
	outputDim int64
}

// Load creates a session for the model at path. The graph must take a
// [batch, features] float32 input and produce [batch, output_dim].
func Load(path string, opts engine.Options) (engine.Engine, error) {
	if opts.OutputDim <= 0 {
		return nil, ErrOutputDim
	}

	if err := initEnvironment(); err != nil {
		return nil, err
	}

	inputName, outputName := opts.InputName, opts.OutputName
	if inputName == "" {
		inputName = defaultInputName
	}
	if outputName == "" {
		outputName = defaultOutputName
	}

	// Dynamic session supports variable batch sizes
	session, err := ort.NewDynamicAdvancedSession(
		path,
		[]string{inputName},
		[]string{outputName},
		nil, // Use default session options
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Engine{
		session:   session,
		outputDim: int64(opts.OutputDim),
	}, nil
}

// Run packs rows into a single [batch, features] tensor and runs the session.
func (e *Engine) Run(ctx context.Context, rows [][]float32) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return nil, engine.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch := int64(len(rows))
	if batch == 0 {
		return nil, engine.ErrEmptyBatch
	}

	width := int64(len(rows[0]))
	data := make([]float32, 0, batch*width)
	for i, row := range rows {
		if int64(len(row)) != width {
			return nil, fmt.Errorf("%w: row %d has %d features, want %d", engine.ErrFeatureSize, i, len(row), width)
		}
		data = append(data, row...)
	}

	input, err := ort.NewTensor(ort.NewShape(batch, width), data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(batch, e.outputDim))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer output.Destroy()

	if err := e.session.Run([]ort.Value{input}, []ort.Value{output}); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	flat := output.GetData()
	out := make([][]float32, batch)
	for i := range out {
		out[i] = append([]float32(nil), flat[int64(i)*e.outputDim:int64(i+1)*e.outputDim]...)
	}

	return out, nil
}

// Close releases the ONNX session resources.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return nil
	}

	err := e.session.Destroy()
	e.session = nil
	if err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}

	return nil
}

// Register installs the ONNX loader into l.
func Register(l *engine.Loaders) {
	l.Register(Ext, Load)
}

// Ensure Engine implements engine.Engine at compile time
var _ engine.Engine = (*Engine)(nil)
