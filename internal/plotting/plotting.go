// Package plotting holds the figure style spectra are published with, as a
// value that renders to a matplotlibrc fragment.
package plotting

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
)

// Style is a set of matplotlib rc settings.
type Style struct {
	MathTextFontset string `yaml:"mathtext_fontset"`
	FontFamily      string `yaml:"font_family"`
	UseTeX          bool   `yaml:"usetex"`
	XTickLabelSize  int    `yaml:"xtick_labelsize"`
	YTickLabelSize  int    `yaml:"ytick_labelsize"`
	AxesLabelSize   int    `yaml:"axes_labelsize"`
	FigureDPI       int    `yaml:"figure_dpi"`
}

// Defaults returns the publication style: STIX fonts, 12 pt labels, 300 dpi.
func Defaults() Style {
	return Style{
		MathTextFontset: "stix",
		FontFamily:      "STIXGeneral",
		UseTeX:          false,
		XTickLabelSize:  12,
		YTickLabelSize:  12,
		AxesLabelSize:   12,
		FigureDPI:       300,
	}
}

// RC returns the style keyed by matplotlib rc parameter.
func (s Style) RC() map[string]string {
	return map[string]string{
		"mathtext.fontset": s.MathTextFontset,
		"font.family":      s.FontFamily,
		"text.usetex":      pyBool(s.UseTeX),
		"xtick.labelsize":  strconv.Itoa(s.XTickLabelSize),
		"ytick.labelsize":  strconv.Itoa(s.YTickLabelSize),
		"axes.labelsize":   strconv.Itoa(s.AxesLabelSize),
		"figure.dpi":       strconv.Itoa(s.FigureDPI),
	}
}

// WriteRC writes the style as matplotlibrc lines, sorted by key.
func (s Style) WriteRC(w io.Writer) error {
	rc := s.RC()
	for _, k := range slices.Sorted(maps.Keys(rc)) {
		if _, err := fmt.Fprintf(w, "%s: %s\n", k, rc[k]); err != nil {
			return err
		}
	}
	return nil
}

func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
