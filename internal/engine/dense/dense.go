// Package dense runs fully connected networks stored as JSON checkpoints.
package dense

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/ekisa-team/beamline/internal/engine"
)

// Ext is the checkpoint extension handled by this package.
const Ext = ".json"

// ErrInvalidCheckpoint is returned for malformed or inconsistent networks.
var ErrInvalidCheckpoint = errors.New("invalid dense checkpoint")

// Activation names a layer nonlinearity.
type Activation string

const (
	Linear   Activation = "linear"
	ReLU     Activation = "relu"
	Sigmoid  Activation = "sigmoid"
	Tanh     Activation = "tanh"
	Softplus Activation = "softplus"
)

func (a Activation) apply(x float64) (float64, error) {
	switch a {
	case Linear, "":
		return x, nil
	case ReLU:
		return math.Max(0, x), nil
	case Sigmoid:
		return 1 / (1 + math.Exp(-x)), nil
	case Tanh:
		return math.Tanh(x), nil
	case Softplus:
		// log(1+e^x) = x + log(1+e^-x) keeps large x finite.
		if x > 0 {
			return x + math.Log1p(math.Exp(-x)), nil
		}
		return math.Log1p(math.Exp(x)), nil
	default:
		return 0, fmt.Errorf("%w: unknown activation %q", ErrInvalidCheckpoint, a)
	}
}

// Layer is y = activation(W x + b) with W stored row-major as [out][in].
type Layer struct {
	Weights    [][]float64 `json:"weights"`
	Bias       []float64   `json:"bias"`
	Activation Activation  `json:"activation,omitempty"`
}

// Network is the on-disk checkpoint.
type Network struct {
	InputDim int     `json:"input_dim"`
	Layers   []Layer `json:"layers"`
}

// Validate checks that every layer connects to the next.
func (n *Network) Validate() error {
	if len(n.Layers) == 0 {
		return fmt.Errorf("%w: no layers", ErrInvalidCheckpoint)
	}

	in := n.InputDim
	for i, l := range n.Layers {
		if len(l.Weights) == 0 {
			return fmt.Errorf("%w: layer %d has no weights", ErrInvalidCheckpoint, i)
		}
		if len(l.Bias) != len(l.Weights) {
			return fmt.Errorf("%w: layer %d has %d biases for %d outputs", ErrInvalidCheckpoint, i, len(l.Bias), len(l.Weights))
		}
		if in == 0 {
			in = len(l.Weights[0])
		}
		for r, row := range l.Weights {
			if len(row) != in {
				return fmt.Errorf("%w: layer %d row %d has %d inputs, want %d", ErrInvalidCheckpoint, i, r, len(row), in)
			}
		}
		if _, err := l.Activation.apply(0); err != nil {
			return fmt.Errorf("layer %d: %w", i, err)
		}
		in = len(l.Weights)
	}

	if n.InputDim == 0 {
		n.InputDim = len(n.Layers[0].Weights[0])
	}

	return nil
}

// OutputDim is the length of each output row.
func (n *Network) OutputDim() int {
	return len(n.Layers[len(n.Layers)-1].Weights)
}

// Forward evaluates the network on a single input row.
func (n *Network) Forward(x []float32) ([]float32, error) {
	if len(x) != n.InputDim {
		return nil, fmt.Errorf("%w: got %d, want %d", engine.ErrFeatureSize, len(x), n.InputDim)
	}

	cur := make([]float64, len(x))
	for i, v := range x {
		cur[i] = float64(v)
	}

	for _, l := range n.Layers {
		next := make([]float64, len(l.Weights))
		for o, row := range l.Weights {
			sum := l.Bias[o]
			for i, w := range row {
				sum += w * cur[i]
			}
			// Activations were checked in Validate.
			next[o], _ = l.Activation.apply(sum)
		}
		cur = next
	}

	out := make([]float32, len(cur))
	for i, v := range cur {
		out[i] = float32(v)
	}
	return out, nil
}

// Engine evaluates a Network. It holds no mutable state, so Run is safe for
// concurrent use.
type Engine struct {
	net *Network
}

// New wraps a validated network.
func New(net *Network) (*Engine, error) {
	if err := net.Validate(); err != nil {
		return nil, err
	}
	return &Engine{net: net}, nil
}

// Load reads a checkpoint from path.
func Load(path string, opts engine.Options) (engine.Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var net Network
	if err := json.Unmarshal(data, &net); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCheckpoint, err)
	}

	e, err := New(&net)
	if err != nil {
		return nil, err
	}

	if opts.OutputDim > 0 && opts.OutputDim != net.OutputDim() {
		return nil, fmt.Errorf("%w: network outputs %d values, metadata expects %d", ErrInvalidCheckpoint, net.OutputDim(), opts.OutputDim)
	}

	return e, nil
}

// Save writes net to path as a checkpoint.
func Save(path string, net *Network) error {
	if err := net.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(net)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

// Network returns the wrapped network.
func (e *Engine) Network() *Network {
	return e.net
}

// Run evaluates every row.
func (e *Engine) Run(ctx context.Context, rows [][]float32) ([][]float32, error) {
	if len(rows) == 0 {
		return nil, engine.ErrEmptyBatch
	}

	out := make([][]float32, len(rows))
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		y, err := e.net.Forward(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = y
	}

	return out, nil
}

// Close is a no-op; the network lives on the heap.
func (e *Engine) Close() error {
	return nil
}

// Register installs the dense loader into l.
func Register(l *engine.Loaders) {
	l.Register(Ext, Load)
}

// Ensure Engine implements engine.Engine at compile time
var _ engine.Engine = (*Engine)(nil)
