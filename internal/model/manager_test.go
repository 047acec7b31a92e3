package model

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/beamline/internal/config"
	"github.com/ekisa-team/beamline/internal/envvar"
	"github.com/ekisa-team/beamline/internal/predictor"
	"github.com/ekisa-team/beamline/internal/predictor/predictortest"
)

func newTestConfig(t *testing.T, zooDir string, models map[string]config.ModelConfig) *config.Config {
	t.Helper()
	t.Setenv(envvar.BeamlineHome, "")
	t.Setenv(envvar.BeamlineZooPath, "")

	return &config.Config{
		Version: "1",
		Storage: config.StorageConfig{
			HomeDir: t.TempDir(),
			ZooDir:  zooDir,
		},
		Models: models,
	}
}

func TestManager_LoadModelsFromConfig(t *testing.T) {
	zoo := predictortest.NewZoo(t)
	zoo.AddDefault(t, 1, 2, 3)

	cfg := newTestConfig(t, zoo.Root, map[string]config.ModelConfig{
		"ti-o":    {Tags: []string{"default"}},
		"missing": {Version: "999999"},
		"exafs":   {XASType: "EXAFS"},
	})

	m := NewManager()
	t.Cleanup(func() { _ = m.Close() })

	err := m.LoadModelsFromConfig(context.Background(), cfg)
	require.Error(t, err)
	assert.ErrorContains(t, err, "missing")
	assert.ErrorContains(t, err, "exafs")

	instances := m.Registry().List()
	require.Len(t, instances, 3)
	assert.Equal(t, []string{"exafs", "missing", "ti-o"}, []string{instances[0].ID, instances[1].ID, instances[2].ID})

	ti, err := m.Registry().Resolve("ti-o")
	require.NoError(t, err)
	assert.Equal(t, StatusLoaded, ti.Status)
	assert.Equal(t, "Ti", ti.Absorber)
	assert.NotNil(t, ti.LoadedAt)
	assert.Equal(t, []string{"default"}, ti.Tags)

	_, err = m.Registry().Resolve("missing")
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = m.Registry().Resolve("nope")
	assert.ErrorIs(t, err, ErrNotFound)

	found, err := m.Registry().Find("FEFF", "Ti", "")
	require.NoError(t, err)
	assert.Equal(t, "ti-o", found.ID)

	_, err = m.Registry().Find("FEFF", "Ti", "111111")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Registry().Find("FEFF", "Cu", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_ReloadKeepsUnchangedAndClosesDropped(t *testing.T) {
	zoo := predictortest.NewZoo(t)
	sel := zoo.AddDefault(t, 1)
	zoo.AddCheckpoint(t, sel.Directory, "FEFF-XANES-v2.json", predictortest.RadialNetwork(2))

	cfg := newTestConfig(t, zoo.Root, map[string]config.ModelConfig{
		"a": {},
		"b": {Version: "2"},
	})

	m := NewManager()
	require.NoError(t, m.LoadModelsFromConfig(context.Background(), cfg))

	a, _ := m.Registry().Get("a")
	b, _ := m.Registry().Get("b")
	require.True(t, b.Ready())

	delete(cfg.Models, "b")
	require.NoError(t, m.LoadModelsFromConfig(context.Background(), cfg))

	a2, ok := m.Registry().Get("a")
	require.True(t, ok)
	assert.Same(t, a, a2)

	_, ok = m.Registry().Get("b")
	assert.False(t, ok)
	assert.False(t, b.Predictor.Loaded())

	require.NoError(t, m.Close())
	assert.Empty(t, m.Registry().List())
}

func TestManager_ReloadWaitsForInFlightCalls(t *testing.T) {
	zoo := predictortest.NewZoo(t)
	zoo.AddDefault(t, 5)

	cfg := newTestConfig(t, zoo.Root, map[string]config.ModelConfig{"a": {}})

	m := NewManager()
	t.Cleanup(func() { _ = m.Close() })
	require.NoError(t, m.LoadModelsFromConfig(context.Background(), cfg))

	old, err := m.Registry().Resolve("a")
	require.NoError(t, err)
	release, err := old.Acquire()
	require.NoError(t, err)

	cfg.Models["a"] = config.ModelConfig{Tags: []string{"changed"}}
	require.NoError(t, m.LoadModelsFromConfig(context.Background(), cfg))

	current, err := m.Registry().Resolve("a")
	require.NoError(t, err)
	assert.NotSame(t, old, current)

	// The call that started before the reload still completes.
	require.True(t, old.Predictor.Loaded())
	out, err := Call(context.Background(), old.Predictor, predictortest.Rutile())
	require.NoError(t, err)
	assert.Len(t, out.(predictor.Result), 2)

	_, err = old.Acquire()
	assert.ErrorIs(t, err, ErrUnloaded)
	assert.ErrorIs(t, err, ErrNotReady)

	release()
	assert.Eventually(t, func() bool { return !old.Predictor.Loaded() }, time.Second, 5*time.Millisecond)
	assert.True(t, current.Predictor.Loaded())
}

func TestManager_FetchesMissingCheckpoint(t *testing.T) {
	scratch := predictortest.NewZoo(t)
	sel := scratch.AddDefault(t, 4)
	served := filepath.Join(scratch.Root, sel.Directory)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		data, err := os.ReadFile(filepath.Join(served, filepath.Base(r.URL.Path)))
		if err != nil {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	mc := config.ModelConfig{}
	mc.SetPermalinkSource(config.PermalinkSource{URL: srv.URL + "/files"})
	cfg := newTestConfig(t, "", map[string]config.ModelConfig{"remote": mc})

	m := NewManager()
	t.Cleanup(func() { _ = m.Close() })
	require.NoError(t, m.LoadModelsFromConfig(context.Background(), cfg))
	assert.Equal(t, int32(2), hits.Load())

	instance, err := m.Registry().Resolve("remote")
	require.NoError(t, err)

	out, err := Call(context.Background(), instance.Predictor, predictortest.Rutile())
	require.NoError(t, err)
	result := out.(predictor.Result)
	v, ok := result[1].Scalar()
	require.True(t, ok)
	assert.InDelta(t, 4.0, v, 1e-6)

	assert.FileExists(t, filepath.Join(cfg.Storage.HomeDir, "zoo", sel.Directory, sel.Signature()+".json"))
}

func TestManager_FetchesConfiguredFormat(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		http.NotFound(w, r)
	}))
	defer srv.Close()

	mc := config.ModelConfig{Format: "onnx"}
	mc.SetPermalinkSource(config.PermalinkSource{URL: srv.URL + "/files"})
	cfg := newTestConfig(t, "", map[string]config.ModelConfig{"remote": mc})

	m := NewManager()
	t.Cleanup(func() { _ = m.Close() })
	require.Error(t, m.LoadModelsFromConfig(context.Background(), cfg))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, paths)
	assert.Equal(t, "/files/FEFF-XANES-v230925.onnx", paths[0])
}
