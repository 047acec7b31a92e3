package featurizer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/beamline/internal/signature"
	"github.com/ekisa-team/beamline/internal/structure"
)

func rutileLike() *structure.Structure {
	return &structure.Structure{
		Lattice: &structure.Lattice{{4.6, 0, 0}, {0, 4.6, 0}, {0, 0, 2.96}},
		Sites: []structure.Site{
			{Species: "Ti", XYZ: [3]float64{0, 0, 0}},
			{Species: "Ti", XYZ: [3]float64{2.3, 2.3, 1.48}},
			{Species: "O", XYZ: [3]float64{1.39, 1.39, 0}},
			{Species: "O", XYZ: [3]float64{3.21, 3.21, 0}},
			{Species: "O", XYZ: [3]float64{3.69, 0.91, 1.48}},
			{Species: "O", XYZ: [3]float64{0.91, 3.69, 1.48}},
		},
	}
}

func TestRadial_Shape(t *testing.T) {
	r := NewRadial()
	rows, err := r.Featurize(context.Background(), rutileLike())
	require.NoError(t, err)

	require.Len(t, rows, 6)
	for _, row := range rows {
		assert.Len(t, row, r.Dim())
	}
	assert.InDelta(t, 0.22, rows[0][0], 1e-6)
	assert.InDelta(t, 0.08, rows[2][0], 1e-6)
}

func TestRadial_EquivalentSitesMatch(t *testing.T) {
	rows, err := NewRadial().Featurize(context.Background(), rutileLike())
	require.NoError(t, err)

	assert.InDeltaSlice(t, toFloat64(rows[0]), toFloat64(rows[1]), 1e-4)
}

func TestRadial_LatticeTranslationInvariant(t *testing.T) {
	r := NewRadial()
	want, err := r.Featurize(context.Background(), rutileLike())
	require.NoError(t, err)

	shifted := rutileLike()
	shifted.Sites[1].XYZ = [3]float64{2.3 + 3*4.6, 2.3 - 4.6, 1.48 + 5*2.96}
	shifted.Sites[4].XYZ[0] += 10 * 4.6
	got, err := r.Featurize(context.Background(), shifted)
	require.NoError(t, err)

	require.Len(t, got, len(want))
	for i := range want {
		assert.InDeltaSlice(t, want[i], got[i], 1e-4, "site %d", i)
	}
}

func TestRadial_Deterministic(t *testing.T) {
	r := NewRadial()
	a, err := r.Featurize(context.Background(), rutileLike())
	require.NoError(t, err)
	b, err := r.Featurize(context.Background(), rutileLike())
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestRadial_InvalidParameters(t *testing.T) {
	r := &Radial{Cutoff: 0, Bins: 8, Width: 0.1}
	_, err := r.Featurize(context.Background(), rutileLike())
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestRadial_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRadial().Featurize(ctx, rutileLike())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegister(t *testing.T) {
	reg := signature.NewRegistry()
	require.NoError(t, Register(reg))

	f, err := signature.ResolveAs[Featurizer](reg, "featurizer:radial")
	require.NoError(t, err)
	assert.IsType(t, &Radial{}, f)
}

func TestFunc(t *testing.T) {
	f := Func(func(_ context.Context, s *structure.Structure) ([][]float32, error) {
		return make([][]float32, s.Len()), nil
	})

	rows, err := f.Featurize(context.Background(), rutileLike())
	require.NoError(t, err)
	assert.Len(t, rows, 6)
}

func toFloat64(row []float32) []float64 {
	out := make([]float64, len(row))
	for i, v := range row {
		out[i] = float64(v)
	}
	return out
}
