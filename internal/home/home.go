// Package home manages the per-user directory fetched model artifacts are
// cached in.
package home

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ekisa-team/beamline/internal/config"
	"github.com/ekisa-team/beamline/internal/envvar"
	"github.com/ekisa-team/beamline/internal/xfs"
)

// Dir returns the storage directory: BEAMLINE_HOME when set, otherwise the
// per-OS default.
func Dir() string {
	if p := os.Getenv(envvar.BeamlineHome); p != "" {
		return xfs.ExpandTilde(p)
	}

	return config.DefaultHomePath()
}

// Resolve returns the storage directory for cfg.
// Precedence:
// 1. BEAMLINE_HOME environment variable.
// 2. HomeDir field in the config.
// 3. Default home path.
func Resolve(cfg *config.Config) string {
	if p := os.Getenv(envvar.BeamlineHome); p != "" {
		return xfs.ExpandTilde(p)
	}
	if cfg != nil && cfg.Storage.HomeDir != "" {
		return xfs.ExpandTilde(cfg.Storage.HomeDir)
	}

	return config.DefaultHomePath()
}

// Ensure creates dir and any missing parents. It is a no-op when dir exists.
func Ensure(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("home: failed to create %s: %w", dir, err)
	}

	return nil
}

// EnsureDefault creates the default storage directory and returns it.
func EnsureDefault() (string, error) {
	dir := Dir()
	return dir, Ensure(dir)
}

// ZooDir is where fetched checkpoints are laid out under dir, mirroring the
// packaged zoo.
func ZooDir(dir string) string {
	return filepath.Join(dir, "zoo")
}
