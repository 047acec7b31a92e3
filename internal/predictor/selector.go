package predictor

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

const (
	// TheoryFEFF is the FEFF real-space multiple scattering code.
	TheoryFEFF = "FEFF"

	// TheoryVASP is the VASP plane-wave code. Grids exist for it but no
	// predictor is published yet.
	TheoryVASP = "VASP"

	// XASTypeXANES is the near-edge region of the spectrum.
	XASTypeXANES = "XANES"

	// XASTypeEXAFS is the extended region of the spectrum.
	XASTypeEXAFS = "EXAFS"
)

var (
	// AllowedTheories lists the theories predictors can be built for.
	AllowedTheories = []string{TheoryFEFF}

	// AllowedXASTypes lists the spectrum types predictors can be built for.
	AllowedXASTypes = []string{XASTypeXANES}

	// AllowedAbsorbers lists the absorbers published models cover. Models
	// declare their own absorber in metadata; this list is informational.
	AllowedAbsorbers = []string{"Ti"}
)

// Selector identifies a packaged model in the zoo.
type Selector struct {
	// Theory is the level of theory the training spectra were computed at.
	Theory string `json:"theory"    yaml:"theory"`

	// XASType is XANES or EXAFS.
	XASType string `json:"xas_type"  yaml:"xas_type"`

	// Version is matched against the checkpoint file name. A glob pattern
	// selects every matching checkpoint as an ensemble.
	Version string `json:"version"   yaml:"version"`

	// Directory is the zoo subdirectory, naming the training chemistry
	// (e.g. "Ti-O" vs "Ti").
	Directory string `json:"directory" yaml:"directory"`
}

// DefaultSelector returns the default FEFF XANES model for Ti-O.
func DefaultSelector() Selector {
	return Selector{
		Theory:    TheoryFEFF,
		XASType:   XASTypeXANES,
		Version:   "230925",
		Directory: "Ti-O",
	}
}

// WithDefaults fills empty fields from DefaultSelector.
func (s Selector) WithDefaults() Selector {
	d := DefaultSelector()
	if s.Theory == "" {
		s.Theory = d.Theory
	}
	if s.XASType == "" {
		s.XASType = d.XASType
	}
	if s.Version == "" {
		s.Version = d.Version
	}
	if s.Directory == "" {
		s.Directory = d.Directory
	}
	return s
}

// Validate checks the selector against the allow-lists. It does no I/O.
func (s Selector) Validate() error {
	if !slices.Contains(AllowedXASTypes, s.XASType) {
		return fmt.Errorf("%w: xas_type %q, choose from %v", ErrNotSupported, s.XASType, AllowedXASTypes)
	}
	if !slices.Contains(AllowedTheories, s.Theory) {
		return fmt.Errorf("%w: theory %q, choose from %v", ErrNotSupported, s.Theory, AllowedTheories)
	}

	if s.Version == "" || strings.ContainsAny(s.Version, `/\`) {
		return fmt.Errorf("%w: version %q", ErrInvalidSelector, s.Version)
	}
	if _, err := filepath.Match(s.Version, ""); err != nil {
		return fmt.Errorf("%w: version %q: %v", ErrInvalidSelector, s.Version, err)
	}
	if s.Directory == "" || filepath.IsAbs(s.Directory) || strings.Contains(s.Directory, "..") {
		return fmt.Errorf("%w: directory %q must be a relative zoo subdirectory", ErrInvalidSelector, s.Directory)
	}
	if strings.ContainsAny(s.Directory, `*?[\`) {
		return fmt.Errorf("%w: directory %q must not contain glob characters", ErrInvalidSelector, s.Directory)
	}

	return nil
}

// Signature is the checkpoint file name without extension.
func (s Selector) Signature() string {
	return fmt.Sprintf("%s-%s-v%s", s.Theory, s.XASType, s.Version)
}

// Key uniquely identifies the selector within a zoo.
func (s Selector) Key() string {
	return s.Directory + "/" + s.Signature()
}

// IsEnsemble reports whether the version is a glob selecting several
// checkpoints.
func (s Selector) IsEnsemble() bool {
	return strings.ContainsAny(s.Version, "*?[")
}

// String implements fmt.Stringer.
func (s Selector) String() string {
	return s.Key()
}
