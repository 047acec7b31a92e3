// Package featurizer turns atomic structures into per-site feature rows.
package featurizer

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/ekisa-team/beamline/internal/signature"
	"github.com/ekisa-team/beamline/internal/structure"
)

// Module is the signature module featurizers are registered under.
const Module = "featurizer"

// ErrInvalidParameters is returned for non-positive descriptor settings.
var ErrInvalidParameters = errors.New("invalid featurizer parameters")

// Featurizer produces one feature row per site, in site order.
type Featurizer interface {
	Featurize(ctx context.Context, s *structure.Structure) ([][]float32, error)
}

// Func adapts a plain function to a Featurizer.
type Func func(ctx context.Context, s *structure.Structure) ([][]float32, error)

// Featurize calls f.
func (f Func) Featurize(ctx context.Context, s *structure.Structure) ([][]float32, error) {
	return f(ctx, s)
}

// Radial is a smeared, species-weighted radial distribution descriptor. Row
// i holds Z_i/100 followed by Bins Gaussian-smeared shells between 0 and
// Cutoff, each neighbor contributing Z_j/100.
type Radial struct {
	Cutoff float64
	Bins   int
	Width  float64
}

// NewRadial returns the descriptor with its default settings.
func NewRadial() *Radial {
	return &Radial{
		Cutoff: 6.0,
		Bins:   64,
		Width:  0.2,
	}
}

// Dim is the length of every feature row.
func (r *Radial) Dim() int {
	return r.Bins + 1
}

// Featurize computes the descriptor for every site of s.
func (r *Radial) Featurize(ctx context.Context, s *structure.Structure) ([][]float32, error) {
	if r.Cutoff <= 0 || r.Bins <= 0 || r.Width <= 0 {
		return nil, fmt.Errorf("%w: cutoff=%g bins=%d width=%g", ErrInvalidParameters, r.Cutoff, r.Bins, r.Width)
	}

	centers := make([]float64, r.Bins)
	step := r.Cutoff / float64(r.Bins)
	for k := range centers {
		centers[k] = (float64(k) + 0.5) * step
	}
	inv := 1 / (2 * r.Width * r.Width)

	rows := make([][]float32, s.Len())
	for i, site := range s.Sites {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		z, _ := structure.AtomicNumber(site.Species)
		row := make([]float32, r.Dim())
		row[0] = float32(z) / 100

		neighbors, err := s.Neighbors(i, r.Cutoff)
		if err != nil {
			return nil, fmt.Errorf("featurizer: site %d: %w", i, err)
		}

		shells := make([]float64, r.Bins)
		for _, n := range neighbors {
			zj, _ := structure.AtomicNumber(s.Sites[n.Index].Species)
			weight := float64(zj) / 100
			for k, c := range centers {
				d := n.Distance - c
				shells[k] += weight * math.Exp(-d*d*inv)
			}
		}
		for k, v := range shells {
			row[k+1] = float32(v)
		}

		rows[i] = row
	}

	return rows, nil
}

// Register installs the built-in featurizers into reg.
func Register(reg *signature.Registry) error {
	return reg.Register(Module, "radial", Featurizer(NewRadial()))
}
