package onnx

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/beamline/internal/engine"
)

func TestLoad_RequiresOutputDim(t *testing.T) {
	_, err := Load("testdata/dummy.onnx", engine.Options{})
	assert.ErrorIs(t, err, ErrOutputDim)
}

func TestRegister(t *testing.T) {
	l := engine.NewLoaders()
	Register(l)
	assert.True(t, l.Supports("zoo/Ti-O/FEFF-XANES-v230925.onnx"))
}

func TestEngine_ClosedSession(t *testing.T) {
	e := &Engine{outputDim: 2}
	_, err := e.Run(context.Background(), [][]float32{{1}})
	assert.ErrorIs(t, err, engine.ErrClosed)
	assert.NoError(t, e.Close())
}

func TestShutdown_WithoutEnvironment(t *testing.T) {
	assert.NoError(t, Shutdown())
	assert.NoError(t, Shutdown())
}

func TestRealInference_WithModel(t *testing.T) {
	// Skip if ONNX model or library is not available
	modelPath := "testdata/dummy.onnx"
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		t.Skip("Skipping real inference test: testdata/dummy.onnx not found")
	}

	e, err := Load(modelPath, engine.Options{OutputDim: 2})
	if err != nil {
		t.Skipf("Skipping real inference test: %v", err)
	}
	defer func() {
		require.NoError(t, e.Close())
		require.NoError(t, Shutdown())
	}()

	out, err := e.Run(context.Background(), [][]float32{{0.1, 0.2, 0.3, 0.4}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Len(t, out[0], 2)
}
