package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMock_Run(t *testing.T) {
	m := NewMock(0.1, 0.2, 0.3)

	out, err := m.Run(context.Background(), [][]float32{{1, 2}, {3, 4}})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.1, 0.2, 0.3}, {0.1, 0.2, 0.3}}, out)
	assert.Equal(t, 1, m.CallCount())

	out[0][0] = 9
	again, err := m.Run(context.Background(), [][]float32{{1, 2}})
	require.NoError(t, err)
	assert.Equal(t, float32(0.1), again[0][0])
}

func TestMock_Errors(t *testing.T) {
	m := NewMock(1)

	_, err := m.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyBatch)

	m.InputDim = 3
	_, err = m.Run(context.Background(), [][]float32{{1, 2}})
	assert.ErrorIs(t, err, ErrFeatureSize)

	m.ErrorMessage = "device lost"
	_, err = m.Run(context.Background(), [][]float32{{1, 2, 3}})
	assert.EqualError(t, err, "device lost")

	require.NoError(t, m.Close())
	assert.True(t, m.Closed())
	_, err = m.Run(context.Background(), [][]float32{{1, 2, 3}})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestLoaders(t *testing.T) {
	l := NewLoaders()
	var gotPath string
	l.Register("JSON", func(path string, opts Options) (Engine, error) {
		gotPath = path
		return NewMock(float32(opts.OutputDim)), nil
	})
	l.Register(".onnx", func(string, Options) (Engine, error) {
		return nil, errors.New("no runtime")
	})

	assert.Equal(t, []string{".json", ".onnx"}, l.Extensions())
	assert.True(t, l.Supports("zoo/Ti-O/FEFF-XANES-v1.json"))
	assert.False(t, l.Supports("zoo/Ti-O/FEFF-XANES-v1.pt"))

	e, err := l.Load("zoo/Ti-O/FEFF-XANES-v1.JSON", Options{OutputDim: 7})
	require.NoError(t, err)
	assert.Equal(t, "zoo/Ti-O/FEFF-XANES-v1.JSON", gotPath)
	out, err := e.Run(context.Background(), [][]float32{{0}})
	require.NoError(t, err)
	assert.Equal(t, float32(7), out[0][0])

	_, err = l.Load("model.onnx", Options{})
	assert.ErrorContains(t, err, "no runtime")

	_, err = l.Load("model.pt", Options{})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestCloseAll(t *testing.T) {
	a, b := NewMock(1), NewMock(2)
	require.NoError(t, CloseAll([]Engine{a, b}))
	assert.True(t, a.Closed())
	assert.True(t, b.Closed())
}
