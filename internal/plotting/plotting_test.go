package plotting

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults_RC(t *testing.T) {
	rc := Defaults().RC()

	assert.Equal(t, map[string]string{
		"axes.labelsize":   "12",
		"figure.dpi":       "300",
		"font.family":      "STIXGeneral",
		"mathtext.fontset": "stix",
		"text.usetex":      "False",
		"xtick.labelsize":  "12",
		"ytick.labelsize":  "12",
	}, rc)
}

func TestStyle_WriteRC(t *testing.T) {
	s := Defaults()
	s.UseTeX = true
	s.FigureDPI = 150

	var buf bytes.Buffer
	require.NoError(t, s.WriteRC(&buf))

	assert.Equal(t, "axes.labelsize: 12\n"+
		"figure.dpi: 150\n"+
		"font.family: STIXGeneral\n"+
		"mathtext.fontset: stix\n"+
		"text.usetex: True\n"+
		"xtick.labelsize: 12\n"+
		"ytick.labelsize: 12\n", buf.String())

	// Defaults are a fresh value every call.
	assert.Equal(t, 300, Defaults().FigureDPI)
}
