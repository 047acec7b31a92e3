// Package structure models the atomic structures predictions are made for.
package structure

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"slices"
)

// Lattice holds the three lattice vectors as rows, in angstrom.
type Lattice [3][3]float64

// Volume returns the cell volume.
func (l *Lattice) Volume() float64 {
	return math.Abs(dot(l[0], cross(l[1], l[2])))
}

// Heights returns the perpendicular distance between opposite faces of the
// cell along each lattice vector.
func (l *Lattice) Heights() ([3]float64, error) {
	vol := l.Volume()
	if vol < 1e-12 {
		return [3]float64{}, ErrSingularLattice
	}

	return [3]float64{
		vol / norm(cross(l[1], l[2])),
		vol / norm(cross(l[2], l[0])),
		vol / norm(cross(l[0], l[1])),
	}, nil
}

// Cartesian converts fractional coordinates to cartesian ones.
func (l *Lattice) Cartesian(abc [3]float64) [3]float64 {
	var xyz [3]float64
	for i := range 3 {
		for j := range 3 {
			xyz[j] += abc[i] * l[i][j]
		}
	}
	return xyz
}

// Fractional converts cartesian coordinates to fractional ones.
func (l *Lattice) Fractional(xyz [3]float64) [3]float64 {
	vol := dot(l[0], cross(l[1], l[2]))
	return [3]float64{
		dot(xyz, cross(l[1], l[2])) / vol,
		dot(xyz, cross(l[2], l[0])) / vol,
		dot(xyz, cross(l[0], l[1])) / vol,
	}
}

// Site is a single atom.
type Site struct {
	Species string      `json:"species"       yaml:"species"`
	XYZ     [3]float64  `json:"xyz"           yaml:"xyz"`
	ABC     *[3]float64 `json:"abc,omitempty" yaml:"abc,omitempty"`
}

// Structure is an ordered list of sites with an optional periodic lattice.
// Site order is significant: predictions are keyed by index into Sites.
type Structure struct {
	Lattice *Lattice `json:"lattice,omitempty" yaml:"lattice,omitempty"`
	Sites   []Site   `json:"sites"             yaml:"sites"`
}

// Neighbor is a site within some cutoff of another site.
type Neighbor struct {
	Index    int
	Distance float64
}

// Len returns the number of sites.
func (s *Structure) Len() int {
	return len(s.Sites)
}

// IsPeriodic reports whether the structure has a lattice.
func (s *Structure) IsPeriodic() bool {
	return s.Lattice != nil
}

// Validate checks species and fills cartesian coordinates from fractional
// ones where given.
func (s *Structure) Validate() error {
	if len(s.Sites) == 0 {
		return ErrEmpty
	}

	if s.Lattice != nil {
		if _, err := s.Lattice.Heights(); err != nil {
			return err
		}
	}

	for i := range s.Sites {
		site := &s.Sites[i]
		if !IsElement(site.Species) {
			return fmt.Errorf("%w: site %d has species %q", ErrUnknownSpecies, i, site.Species)
		}

		if site.ABC != nil {
			if s.Lattice == nil {
				return fmt.Errorf("%w: site %d", ErrNoLattice, i)
			}
			site.XYZ = s.Lattice.Cartesian(*site.ABC)
		}
	}

	return nil
}

// Species returns the species of every site in order.
func (s *Structure) Species() []string {
	species := make([]string, len(s.Sites))
	for i, site := range s.Sites {
		species[i] = site.Species
	}
	return species
}

// Composition counts sites per species.
func (s *Structure) Composition() map[string]int {
	comp := map[string]int{}
	for _, site := range s.Sites {
		comp[site.Species]++
	}
	return comp
}

// IndexesOf returns the indexes of the sites whose species is symbol.
func (s *Structure) IndexesOf(symbol string) []int {
	var indexes []int
	for i, site := range s.Sites {
		if site.Species == symbol {
			indexes = append(indexes, i)
		}
	}
	return indexes
}

// Neighbors returns every site (including periodic images) within cutoff of
// site i, sorted by distance. The site itself is excluded but its periodic
// images are not.
func (s *Structure) Neighbors(i int, cutoff float64) ([]Neighbor, error) {
	if i < 0 || i >= len(s.Sites) {
		return nil, fmt.Errorf("%w: %d", ErrSiteOutOfRange, i)
	}

	images, err := s.images(cutoff)
	if err != nil {
		return nil, err
	}

	center := s.Sites[i].XYZ
	var neighbors []Neighbor
	for j, site := range s.Sites {
		delta := s.displacement(center, site.XYZ)
		for _, shift := range images {
			if j == i && shift == ([3]float64{}) {
				continue
			}

			d := norm(add(delta, shift))
			if d <= cutoff {
				neighbors = append(neighbors, Neighbor{Index: j, Distance: d})
			}
		}
	}

	slices.SortStableFunc(neighbors, func(a, b Neighbor) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		default:
			return a.Index - b.Index
		}
	})

	return neighbors, nil
}

// displacement returns the vector from a to b. In a periodic structure it is
// taken between the images closest in fractional space, so sites given
// outside the cell see the same neighbors as their wrapped equivalents.
func (s *Structure) displacement(a, b [3]float64) [3]float64 {
	delta := [3]float64{b[0] - a[0], b[1] - a[1], b[2] - a[2]}
	if s.Lattice == nil {
		return delta
	}

	f := s.Lattice.Fractional(delta)
	for k := range f {
		f[k] -= math.Round(f[k])
	}
	return s.Lattice.Cartesian(f)
}

// images returns the cartesian translations of every periodic image that may
// hold a neighbor within cutoff of a minimum-image displacement.
func (s *Structure) images(cutoff float64) ([][3]float64, error) {
	if s.Lattice == nil {
		return [][3]float64{{}}, nil
	}

	heights, err := s.Lattice.Heights()
	if err != nil {
		return nil, err
	}

	var n [3]int
	for k := range 3 {
		n[k] = int(math.Ceil(cutoff/heights[k] + 0.5))
	}

	var shifts [][3]float64
	for a := -n[0]; a <= n[0]; a++ {
		for b := -n[1]; b <= n[1]; b++ {
			for c := -n[2]; c <= n[2]; c++ {
				shifts = append(shifts, s.Lattice.Cartesian([3]float64{float64(a), float64(b), float64(c)}))
			}
		}
	}

	return shifts, nil
}

// Fingerprint returns a stable digest of the structure, used as a cache key.
func (s *Structure) Fingerprint() string {
	// Marshalling plain arrays and strings cannot fail.
	data, _ := json.Marshal(struct {
		Lattice *Lattice     `json:"lattice"`
		Species []string     `json:"species"`
		XYZ     [][3]float64 `json:"xyz"`
	}{
		Lattice: s.Lattice,
		Species: s.Species(),
		XYZ:     s.coords(),
	})

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (s *Structure) coords() [][3]float64 {
	xyz := make([][3]float64, len(s.Sites))
	for i, site := range s.Sites {
		xyz[i] = site.XYZ
	}
	return xyz
}

func dot(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func norm(a [3]float64) float64 {
	return math.Sqrt(dot(a, a))
}

func add(a, b [3]float64) [3]float64 {
	return [3]float64{a[0] + b[0], a[1] + b[1], a[2] + b[2]}
}

