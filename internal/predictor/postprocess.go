package predictor

import (
	"math"
	"slices"

	"github.com/ekisa-team/beamline/internal/featurizer"
	"github.com/ekisa-team/beamline/internal/signature"
)

// PostprocessModule is the signature module postprocessors are registered under.
const PostprocessModule = "postprocess"

// PostprocessFunc transforms one site's squeezed prediction.
type PostprocessFunc func(Array) (Array, error)

// Identity returns its input unchanged.
func Identity(a Array) (Array, error) {
	return a, nil
}

// Normalize scales every spectrum (the last axis) so its maximum absolute
// value is one. All-zero spectra and scalars are left as they are.
func Normalize(a Array) (Array, error) {
	if a.Rank() == 0 {
		return a, nil
	}

	width := a.Shape[a.Rank()-1]
	out := Array{Shape: slices.Clone(a.Shape), Data: slices.Clone(a.Data)}
	for start := 0; start+width <= len(out.Data) && width > 0; start += width {
		row := out.Data[start : start+width]

		peak := 0.0
		for _, v := range row {
			peak = math.Max(peak, math.Abs(v))
		}
		if peak == 0 {
			continue
		}
		for i := range row {
			row[i] /= peak
		}
	}

	return out, nil
}

// Register installs the built-in postprocessors into reg.
func Register(reg *signature.Registry) error {
	if err := reg.Register(PostprocessModule, "identity", PostprocessFunc(Identity)); err != nil {
		return err
	}
	return reg.Register(PostprocessModule, "normalize", PostprocessFunc(Normalize))
}

// DefaultRegistry returns a signature registry holding every built-in
// featurizer and postprocessor.
func DefaultRegistry() *signature.Registry {
	reg := signature.NewRegistry()
	// A fresh registry cannot hold duplicates.
	_ = featurizer.Register(reg)
	_ = Register(reg)
	return reg
}
