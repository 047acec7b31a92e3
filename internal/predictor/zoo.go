package predictor

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ekisa-team/beamline/internal/engine"
	"github.com/ekisa-team/beamline/internal/envvar"
	"github.com/ekisa-team/beamline/internal/home"
	"github.com/ekisa-team/beamline/internal/xfs"
)

// MetadataFile is the sidecar document co-located with the checkpoints of
// a zoo directory.
const MetadataFile = "metadata.yaml"

// Zoo is an ordered list of root directories laid out as
// <root>/<directory>/<theory>-<xas_type>-v<version><ext>.
type Zoo struct {
	Roots []string
}

// DefaultZoo searches BEAMLINE_ZOO_PATH (when set) and then the fetch cache
// under the home directory.
func DefaultZoo() Zoo {
	var roots []string
	if p := os.Getenv(envvar.BeamlineZooPath); p != "" {
		roots = append(roots, xfs.ExpandTilde(p))
	}
	roots = append(roots, home.ZooDir(home.Dir()))

	return Zoo{Roots: roots}
}

// Resolved is the outcome of looking a selector up in the zoo.
type Resolved struct {
	// Dir is the zoo directory the checkpoints were found in.
	Dir string

	// Checkpoints are the matching files, sorted.
	Checkpoints []string
}

// MetadataPath returns the metadata sidecar for the resolved directory.
func (r Resolved) MetadataPath() string {
	return filepath.Join(r.Dir, MetadataFile)
}

// Resolve finds the checkpoints for sel in the first root that has any. An
// exact version must match exactly one file; a glob version matches an
// ensemble.
func (z Zoo) Resolve(sel Selector, loaders *engine.Loaders) (Resolved, error) {
	for _, root := range z.Roots {
		dir := filepath.Join(root, sel.Directory)

		matches, err := filepath.Glob(filepath.Join(dir, sel.Signature()+".*"))
		if err != nil {
			return Resolved{}, fmt.Errorf("%w: %v", ErrInvalidSelector, err)
		}

		var checkpoints []string
		for _, m := range matches {
			if !loaders.Supports(m) || !xfs.IsFile(m) {
				continue
			}
			// "v1.*" must not match "v1.5.json" when the version is exact.
			if !sel.IsEnsemble() && strings.TrimSuffix(filepath.Base(m), filepath.Ext(m)) != sel.Signature() {
				continue
			}
			checkpoints = append(checkpoints, m)
		}
		if len(checkpoints) == 0 {
			slog.Debug("No checkpoint in zoo root", "root", root, "selector", sel.Key())
			continue
		}

		slices.Sort(checkpoints)
		if !sel.IsEnsemble() && len(checkpoints) > 1 {
			return Resolved{}, fmt.Errorf("%w: %s has checkpoints in several formats: %v", ErrInvalidSelector, sel.Key(), checkpoints)
		}

		return Resolved{Dir: dir, Checkpoints: checkpoints}, nil
	}

	return Resolved{}, fmt.Errorf("%w: %s (searched %v, formats %v)", ErrCheckpointNotFound, sel.Key(), z.Roots, loaders.Extensions())
}
