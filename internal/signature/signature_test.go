package signature

import (
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	module, attr, err := Parse("featurizer.m3gnet:site_embedding")
	require.NoError(t, err)
	assert.Equal(t, "featurizer.m3gnet", module)
	assert.Equal(t, "site_embedding", attr)

	for _, sig := range []string{"", "featurizer", "a:b:c", ":attr", "module:", " : "} {
		_, _, err := Parse(sig)
		assert.ErrorIs(t, err, ErrMalformed, "sig=%q", sig)
	}
}

func TestRegistry_ResolveReturnsRegisteredValue(t *testing.T) {
	reg := NewRegistry()
	fn := strings.ToUpper
	require.NoError(t, reg.Register("pkg.mod", "fn", fn))

	got, err := reg.Resolve("pkg.mod:fn")
	require.NoError(t, err)
	assert.Equal(t, reflect.ValueOf(fn).Pointer(), reflect.ValueOf(got).Pointer())

	typed, err := ResolveAs[func(string) string](reg, "pkg.mod:fn")
	require.NoError(t, err)
	assert.Equal(t, "XANES", typed("xanes"))
}

func TestRegistry_Errors(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("pkg.mod", "fn", 42))

	_, err := reg.Resolve("pkg.missing:fn")
	assert.ErrorIs(t, err, ErrModuleNotFound)
	assert.Contains(t, err.Error(), "pkg.missing")

	_, err = reg.Resolve("pkg.mod:other")
	assert.ErrorIs(t, err, ErrAttributeNotFound)
	assert.Contains(t, err.Error(), "other")

	_, err = reg.Resolve("pkg.mod.fn")
	assert.ErrorIs(t, err, ErrMalformed)

	assert.ErrorIs(t, reg.Register("pkg.mod", "fn", 43), ErrAlreadyRegistered)
	assert.ErrorIs(t, reg.Register("", "fn", 1), ErrMalformed)

	_, err = ResolveAs[string](reg, "pkg.mod:fn")
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestRegistry_Listing(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("postprocess", "normalize", 1))
	require.NoError(t, reg.Register("postprocess", "identity", 2))
	require.NoError(t, reg.Register("featurizer", "radial", 3))

	assert.Equal(t, []string{"featurizer", "postprocess"}, reg.Modules())
	assert.Equal(t, []string{"identity", "normalize"}, reg.Attributes("postprocess"))
	assert.Empty(t, reg.Attributes("missing"))
	assert.Equal(t, "featurizer:radial", Join("featurizer", "radial"))
}
