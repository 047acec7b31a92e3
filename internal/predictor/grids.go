package predictor

import (
	"fmt"
)

// GridSpec is an evenly spaced energy axis in eV, endpoints included.
type GridSpec struct {
	Start  float64
	Stop   float64
	Points int
}

// Energies expands g into its grid points.
func (g GridSpec) Energies() []float64 {
	return Linspace(g.Start, g.Stop, g.Points)
}

// Grids maps theory and absorbing element to the energy axis the
// corresponding models predict on.
var Grids = map[string]map[string]GridSpec{
	TheoryFEFF: {
		"Ti": {Start: 4965, Stop: 5075, Points: 200},
		"Cu": {Start: 8983, Stop: 9124, Points: 200},
	},
	TheoryVASP: {
		// Provisional until VASP models are trained.
		"Ti": {Start: 4715, Stop: 4765, Points: 200},
	},
}

// Grid returns the energy axis for theory and element.
func Grid(theory, element string) ([]float64, error) {
	g, ok := Grids[theory][element]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrGridNotFound, theory, element)
	}

	return g.Energies(), nil
}

// Linspace returns n evenly spaced values over [start, stop].
func Linspace(start, stop float64, n int) []float64 {
	switch {
	case n <= 0:
		return []float64{}
	case n == 1:
		return []float64{start}
	}

	out := make([]float64, n)
	step := (stop - start) / float64(n-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	out[n-1] = stop

	return out
}
