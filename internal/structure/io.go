package structure

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.yaml.in/yaml/v3"
)

// Format is an on-disk structure encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatXYZ  Format = "xyz"
)

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".xyz", ".extxyz":
		return FormatXYZ, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// Load reads and validates a structure file.
func Load(path string) (*Structure, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("structure: failed to open %s: %w", path, err)
	}
	defer f.Close()

	return Decode(f, format)
}

// Decode reads and validates a structure from r.
func Decode(r io.Reader, format Format) (*Structure, error) {
	var (
		s   *Structure
		err error
	)

	switch format {
	case FormatJSON:
		s = &Structure{}
		err = json.NewDecoder(r).Decode(s)
	case FormatYAML:
		s = &Structure{}
		err = yaml.NewDecoder(r).Decode(s)
	case FormatXYZ:
		s, err = decodeXYZ(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("structure: failed to decode %s: %w", format, err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return s, nil
}

// decodeXYZ parses plain and extended XYZ. A Lattice="..." key on the
// comment line makes the structure periodic.
func decodeXYZ(r io.Reader) (*Structure, error) {
	scanner := bufio.NewScanner(r)

	if !scanner.Scan() {
		return nil, fmt.Errorf("missing atom count")
	}
	n, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil || n < 0 {
		return nil, fmt.Errorf("invalid atom count %q", scanner.Text())
	}

	if !scanner.Scan() {
		return nil, fmt.Errorf("missing comment line")
	}
	s := &Structure{Sites: make([]Site, 0, n)}
	if lattice, ok, err := parseExtendedLattice(scanner.Text()); err != nil {
		return nil, err
	} else if ok {
		s.Lattice = lattice
	}

	for len(s.Sites) < n && scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 4 {
			return nil, fmt.Errorf("atom line %d: want species and 3 coordinates, got %q", len(s.Sites)+1, scanner.Text())
		}

		site := Site{Species: fields[0]}
		for k := range 3 {
			v, err := strconv.ParseFloat(fields[k+1], 64)
			if err != nil {
				return nil, fmt.Errorf("atom line %d: %w", len(s.Sites)+1, err)
			}
			site.XYZ[k] = v
		}
		s.Sites = append(s.Sites, site)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(s.Sites) != n {
		return nil, fmt.Errorf("expected %d atoms, found %d", n, len(s.Sites))
	}

	return s, nil
}

func parseExtendedLattice(comment string) (*Lattice, bool, error) {
	const key = `Lattice="`

	start := strings.Index(comment, key)
	if start < 0 {
		return nil, false, nil
	}
	rest := comment[start+len(key):]
	end := strings.Index(rest, `"`)
	if end < 0 {
		return nil, false, fmt.Errorf("unterminated Lattice value")
	}

	fields := strings.Fields(rest[:end])
	if len(fields) != 9 {
		return nil, false, fmt.Errorf("lattice needs 9 components, got %d", len(fields))
	}

	var l Lattice
	for k, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, false, fmt.Errorf("lattice component %d: %w", k, err)
		}
		l[k/3][k%3] = v
	}

	return &l, true, nil
}

// Encode writes s in the given format.
func Encode(w io.Writer, s *Structure, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(s)
	case FormatXYZ:
		return encodeXYZ(w, s)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func encodeXYZ(w io.Writer, s *Structure) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%d\n", len(s.Sites))
	if s.Lattice != nil {
		l := s.Lattice
		fmt.Fprintf(bw, "Lattice=\"%g %g %g %g %g %g %g %g %g\" Properties=species:S:1:pos:R:3\n",
			l[0][0], l[0][1], l[0][2], l[1][0], l[1][1], l[1][2], l[2][0], l[2][1], l[2][2])
	} else {
		fmt.Fprintln(bw)
	}
	for _, site := range s.Sites {
		fmt.Fprintf(bw, "%s %.8f %.8f %.8f\n", site.Species, site.XYZ[0], site.XYZ[1], site.XYZ[2])
	}
	return bw.Flush()
}
