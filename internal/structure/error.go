package structure

import "errors"

// Error definitions for the structure package.
var (
	ErrEmpty             = errors.New("structure has no sites")
	ErrUnknownSpecies    = errors.New("unknown species")
	ErrNoLattice         = errors.New("fractional coordinates require a lattice")
	ErrSingularLattice   = errors.New("lattice vectors are linearly dependent")
	ErrUnsupportedFormat = errors.New("unsupported structure format")
	ErrSiteOutOfRange    = errors.New("site index out of range")
)
