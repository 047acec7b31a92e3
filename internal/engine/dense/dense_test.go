package dense

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/beamline/internal/engine"
)

func twoLayer() *Network {
	return &Network{
		Layers: []Layer{
			{
				Weights:    [][]float64{{1, -1}, {0.5, 0.5}},
				Bias:       []float64{0, 1},
				Activation: ReLU,
			},
			{
				Weights: [][]float64{{2, 0}, {0, 1}, {1, 1}},
				Bias:    []float64{0, 0, -1},
			},
		},
	}
}

func TestEngine_Run(t *testing.T) {
	e, err := New(twoLayer())
	require.NoError(t, err)
	assert.Equal(t, 2, e.Network().InputDim)
	assert.Equal(t, 3, e.Network().OutputDim())

	out, err := e.Run(context.Background(), [][]float32{{3, 1}, {1, 3}})
	require.NoError(t, err)

	// hidden(3,1) = relu(2, 3) = (2, 3); out = (4, 3, 4)
	assert.InDeltaSlice(t, []float32{4, 3, 4}, out[0], 1e-6)
	// hidden(1,3) = relu(-2, 3) = (0, 3); out = (0, 3, 2)
	assert.InDeltaSlice(t, []float32{0, 3, 2}, out[1], 1e-6)
}

func TestEngine_RunErrors(t *testing.T) {
	e, err := New(twoLayer())
	require.NoError(t, err)

	_, err = e.Run(context.Background(), nil)
	assert.ErrorIs(t, err, engine.ErrEmptyBatch)

	_, err = e.Run(context.Background(), [][]float32{{1, 2, 3}})
	assert.ErrorIs(t, err, engine.ErrFeatureSize)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Run(ctx, [][]float32{{1, 2}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNetwork_Validate(t *testing.T) {
	tests := map[string]*Network{
		"no layers":      {},
		"empty weights":  {Layers: []Layer{{}}},
		"bias mismatch":  {Layers: []Layer{{Weights: [][]float64{{1}}, Bias: []float64{1, 2}}}},
		"ragged":         {Layers: []Layer{{Weights: [][]float64{{1, 2}, {1}}, Bias: []float64{0, 0}}}},
		"input mismatch": {InputDim: 3, Layers: []Layer{{Weights: [][]float64{{1, 2}}, Bias: []float64{0}}}},
		"bad activation": {Layers: []Layer{{Weights: [][]float64{{1}}, Bias: []float64{0}, Activation: "gelu"}}},
		"disconnected":   {Layers: []Layer{{Weights: [][]float64{{1}}, Bias: []float64{0}}, {Weights: [][]float64{{1, 1}}, Bias: []float64{0}}}},
	}

	for name, net := range tests {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, net.Validate(), ErrInvalidCheckpoint)
		})
	}
}

func TestActivations(t *testing.T) {
	for _, tc := range []struct {
		act  Activation
		x    float64
		want float64
	}{
		{Linear, -2, -2},
		{ReLU, -2, 0},
		{Sigmoid, 0, 0.5},
		{Tanh, 0, 0},
		{Softplus, 0, 0.6931471805599453},
		{Softplus, 800, 800},
		{Softplus, -800, 0},
		{Softplus, 2, 2.1269280110429727},
	} {
		got, err := tc.act.apply(tc.x)
		require.NoError(t, err)
		assert.InDelta(t, tc.want, got, 1e-12, "activation=%s", tc.act)
	}
}

func TestEngine_SoftplusStaysFinite(t *testing.T) {
	e, err := New(&Network{Layers: []Layer{{
		Weights:    [][]float64{{1}},
		Bias:       []float64{0},
		Activation: Softplus,
	}}})
	require.NoError(t, err)

	out, err := e.Run(context.Background(), [][]float32{{1000}})
	require.NoError(t, err)
	assert.InDelta(t, 1000, out[0][0], 1e-3)
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "FEFF-XANES-v1.json")
	require.NoError(t, Save(path, twoLayer()))

	loaders := engine.NewLoaders()
	Register(loaders)

	e, err := loaders.Load(path, engine.Options{OutputDim: 3})
	require.NoError(t, err)
	out, err := e.Run(context.Background(), [][]float32{{3, 1}})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{4, 3, 4}, out[0], 1e-6)
	require.NoError(t, e.Close())

	_, err = Load(path, engine.Options{OutputDim: 200})
	assert.ErrorIs(t, err, ErrInvalidCheckpoint)

	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err = Load(path, engine.Options{})
	assert.ErrorIs(t, err, ErrInvalidCheckpoint)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"), engine.Options{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}
