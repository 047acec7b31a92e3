// Package predictortest builds throwaway model zoos for tests.
package predictortest

import (
	"os"
	"path/filepath"
	"testing"

	"go.yaml.in/yaml/v3"

	"github.com/ekisa-team/beamline/internal/engine/dense"
	"github.com/ekisa-team/beamline/internal/featurizer"
	"github.com/ekisa-team/beamline/internal/predictor"
	"github.com/ekisa-team/beamline/internal/structure"
)

// Zoo is a zoo rooted in a test temp directory.
type Zoo struct {
	Root string
}

// NewZoo creates an empty zoo removed when t finishes.
func NewZoo(t testing.TB) *Zoo {
	t.Helper()
	return &Zoo{Root: t.TempDir()}
}

// Zoo returns the predictor view of z.
func (z *Zoo) Zoo() predictor.Zoo {
	return predictor.Zoo{Roots: []string{z.Root}}
}

// AddCheckpoint saves net as dir/name and returns its path.
func (z *Zoo) AddCheckpoint(t testing.TB, dir, name string, net *dense.Network) string {
	t.Helper()

	path := filepath.Join(z.Root, dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := dense.Save(path, net); err != nil {
		t.Fatal(err)
	}
	return path
}

// AddMetadata writes meta as dir/metadata.yaml.
func (z *Zoo) AddMetadata(t testing.TB, dir string, meta predictor.Metadata) {
	t.Helper()

	data, err := yaml.Marshal(meta)
	if err != nil {
		t.Fatal(err)
	}
	z.AddFile(t, dir, predictor.MetadataFile, data)
}

// AddFile writes raw content as dir/name.
func (z *Zoo) AddFile(t testing.TB, dir, name string, data []byte) {
	t.Helper()

	path := filepath.Join(z.Root, dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

// AddDefault installs the default selector's checkpoint for a Ti absorber,
// predicting out for every site.
func (z *Zoo) AddDefault(t testing.TB, out ...float64) predictor.Selector {
	t.Helper()

	sel := predictor.DefaultSelector()
	z.AddCheckpoint(t, sel.Directory, sel.Signature()+dense.Ext, RadialNetwork(out...))
	z.AddMetadata(t, sel.Directory, predictor.Metadata{
		Absorber:    "Ti",
		Description: "test model",
	})
	return sel
}

// ConstantNetwork returns a single-layer network of width inputDim whose
// output is out regardless of input.
func ConstantNetwork(inputDim int, out ...float64) *dense.Network {
	weights := make([][]float64, len(out))
	for i := range weights {
		weights[i] = make([]float64, inputDim)
	}
	return &dense.Network{
		InputDim: inputDim,
		Layers: []dense.Layer{{
			Weights: weights,
			Bias:    append([]float64(nil), out...),
		}},
	}
}

// RadialNetwork is a ConstantNetwork sized for the default radial
// featurizer.
func RadialNetwork(out ...float64) *dense.Network {
	return ConstantNetwork(featurizer.NewRadial().Dim(), out...)
}

// ShellNetwork returns a linear network sized for the default radial
// featurizer with two outputs per site: scale times the summed shell
// occupation, and scale times the Z/100 column.
func ShellNetwork(scale float64) *dense.Network {
	dim := featurizer.NewRadial().Dim()

	shells := make([]float64, dim)
	for k := 1; k < dim; k++ {
		shells[k] = scale
	}
	z := make([]float64, dim)
	z[0] = scale

	return &dense.Network{
		InputDim: dim,
		Layers: []dense.Layer{{
			Weights: [][]float64{shells, z},
			Bias:    []float64{0, 0},
		}},
	}
}

// TitaniumEnvironments returns a cluster ordered O, Ti, Cu, Ti in which the
// Ti at index 1 is bonded to the oxygen and the Ti at index 3 is isolated.
func TitaniumEnvironments() *structure.Structure {
	return &structure.Structure{
		Sites: []structure.Site{
			{Species: "O", XYZ: [3]float64{0, 0, 0}},
			{Species: "Ti", XYZ: [3]float64{1.8, 0, 0}},
			{Species: "Cu", XYZ: [3]float64{30, 0, 0}},
			{Species: "Ti", XYZ: [3]float64{50, 0, 0}},
		},
	}
}

// Rutile returns a TiO2 rutile cell ordered O, Ti, O, O, Ti, O so the
// titanium sites sit at indexes 1 and 4.
func Rutile() *structure.Structure {
	abc := func(a, b, c float64) *[3]float64 {
		return &[3]float64{a, b, c}
	}
	return &structure.Structure{
		Lattice: &structure.Lattice{
			{4.594, 0, 0},
			{0, 4.594, 0},
			{0, 0, 2.959},
		},
		Sites: []structure.Site{
			{Species: "O", ABC: abc(0.305, 0.305, 0)},
			{Species: "Ti", ABC: abc(0, 0, 0)},
			{Species: "O", ABC: abc(0.695, 0.695, 0)},
			{Species: "O", ABC: abc(0.805, 0.195, 0.5)},
			{Species: "Ti", ABC: abc(0.5, 0.5, 0.5)},
			{Species: "O", ABC: abc(0.195, 0.805, 0.5)},
		},
	}
}

// Periclase returns a rock-salt MgO cell with no titanium.
func Periclase() *structure.Structure {
	return &structure.Structure{
		Lattice: &structure.Lattice{
			{4.21, 0, 0},
			{0, 4.21, 0},
			{0, 0, 4.21},
		},
		Sites: []structure.Site{
			{Species: "Mg", XYZ: [3]float64{0, 0, 0}},
			{Species: "O", XYZ: [3]float64{2.105, 0, 0}},
		},
	}
}
