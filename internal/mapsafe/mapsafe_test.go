package mapsafe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	m := map[string]any{
		"name":    "ti-o",
		"average": true,
		"count":   float64(3),
		"ratio":   0.5,
		"n":       7,
		"nil":     nil,
	}

	assert.Equal(t, "ti-o", Get(m, "name", ""))
	assert.True(t, Get(m, "average", false))
	assert.Equal(t, 3, Get(m, "count", 0))
	assert.Equal(t, 7.0, Get(m, "n", 0.0))
	assert.Equal(t, 0.5, Get(m, "ratio", 0.0))

	assert.Equal(t, -1, Get(m, "ratio", -1), "non-integral floats are not ints")
	assert.Equal(t, "fallback", Get(m, "count", "fallback"))
	assert.Equal(t, "fallback", Get(m, "missing", "fallback"))
	assert.Equal(t, "fallback", Get(m, "nil", "fallback"))
}

func TestFloats(t *testing.T) {
	m := map[string]any{
		"xyz":   []any{1.0, 2.0, 3.5},
		"mixed": []any{1.0, "x"},
	}

	xyz, ok := Floats(m, "xyz")
	assert.True(t, ok)
	assert.Equal(t, []float64{1, 2, 3.5}, xyz)

	_, ok = Floats(m, "mixed")
	assert.False(t, ok)
	_, ok = Floats(m, "missing")
	assert.False(t, ok)
}
