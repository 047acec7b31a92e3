package engine

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// Loaders maps checkpoint file extensions to the loader that opens them.
type Loaders struct {
	loaders map[string]LoaderFunc
	mu      sync.RWMutex
}

// NewLoaders creates an empty loader registry.
func NewLoaders() *Loaders {
	return &Loaders{
		loaders: map[string]LoaderFunc{},
	}
}

// Register associates ext (with its leading dot) with fn, replacing any
// previous loader.
func (l *Loaders) Register(ext string, fn LoaderFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.loaders[normalizeExt(ext)] = fn
}

// Extensions lists the registered extensions in order.
func (l *Loaders) Extensions() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	exts := make([]string, 0, len(l.loaders))
	for ext := range l.loaders {
		exts = append(exts, ext)
	}
	slices.Sort(exts)

	return exts
}

// Supports reports whether path has a registered extension.
func (l *Loaders) Supports(path string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, ok := l.loaders[normalizeExt(filepath.Ext(path))]
	return ok
}

// Load opens path with the loader registered for its extension.
func (l *Loaders) Load(path string, opts Options) (Engine, error) {
	ext := normalizeExt(filepath.Ext(path))

	l.mu.RLock()
	fn, ok := l.loaders[ext]
	l.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q (%s)", ErrUnsupportedFormat, ext, path)
	}

	e, err := fn(path, opts)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to load %s: %w", path, err)
	}

	return e, nil
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
