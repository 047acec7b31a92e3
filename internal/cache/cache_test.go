package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/beamline/internal/predictor"
)

func TestPredictions(t *testing.T) {
	c, err := New(2)
	require.NoError(t, err)

	r := predictor.Result{0: predictor.NewArray([]int{1}, []float64{1})}
	c.Add(Key("a", "x"), r)
	c.Add(Key("a", "y"), r)
	c.Add(Key("a", "z"), r)

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get(Key("a", "x"))
	assert.False(t, ok, "oldest entry is evicted")

	got, ok := c.Get(Key("a", "z"))
	require.True(t, ok)
	assert.Equal(t, r, got)

	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestPredictions_Disabled(t *testing.T) {
	c, err := New(0)
	require.NoError(t, err)
	assert.Nil(t, c)

	c.Add("k", predictor.Result{})
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
	c.Purge()
}
