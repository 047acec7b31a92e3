package home

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/beamline/internal/config"
	"github.com/ekisa-team/beamline/internal/envvar"
)

func TestEnsure_Idempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b", ".beamline")

	require.NoError(t, Ensure(dir))
	first, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, first.IsDir())

	marker := filepath.Join(dir, "keep")
	require.NoError(t, os.WriteFile(marker, []byte("x"), 0o644))

	require.NoError(t, Ensure(dir))
	second, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, first.ModTime(), second.ModTime())
	assert.FileExists(t, marker)
}

func TestEnsure_FileInTheWay(t *testing.T) {
	file := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	assert.Error(t, Ensure(filepath.Join(file, "child")))
}

func TestDir_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(envvar.BeamlineHome, dir)

	assert.Equal(t, dir, Dir())

	got, err := EnsureDefault()
	require.NoError(t, err)
	assert.Equal(t, dir, got)
}

func TestResolve_Precedence(t *testing.T) {
	t.Setenv(envvar.BeamlineHome, "")
	cfg := &config.Config{Storage: config.StorageConfig{HomeDir: "/srv/beamline"}}
	assert.Equal(t, "/srv/beamline", Resolve(cfg))
	assert.Equal(t, config.DefaultHomePath(), Resolve(nil))

	t.Setenv(envvar.BeamlineHome, "/env/beamline")
	assert.Equal(t, "/env/beamline", Resolve(cfg))
}

func TestZooDir(t *testing.T) {
	assert.Equal(t, filepath.Join("/srv/beamline", "zoo"), ZooDir("/srv/beamline"))
}
