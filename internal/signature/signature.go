// Package signature resolves "module:attribute" strings to values that were
// registered at startup.
package signature

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Separator splits the module path from the attribute name.
const Separator = ":"

// Parse splits sig into its module path and attribute name.
func Parse(sig string) (module, attr string, err error) {
	if strings.Count(sig, Separator) != 1 {
		return "", "", fmt.Errorf("%w: %q must contain exactly one %q", ErrMalformed, sig, Separator)
	}

	module, attr, _ = strings.Cut(sig, Separator)
	module, attr = strings.TrimSpace(module), strings.TrimSpace(attr)
	if module == "" || attr == "" {
		return "", "", fmt.Errorf("%w: %q has an empty module or attribute", ErrMalformed, sig)
	}

	return module, attr, nil
}

// Join builds a signature from its parts.
func Join(module, attr string) string {
	return module + Separator + attr
}

// Registry maps module paths to named values.
type Registry struct {
	modules map[string]map[string]any
	mu      sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		modules: map[string]map[string]any{},
	}
}

// Register adds v under module:attr.
func (r *Registry) Register(module, attr string, v any) error {
	if _, _, err := Parse(Join(module, attr)); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	attrs, ok := r.modules[module]
	if !ok {
		attrs = map[string]any{}
		r.modules[module] = attrs
	}

	if _, exists := attrs[attr]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, Join(module, attr))
	}
	attrs[attr] = v

	return nil
}

// Resolve returns the value registered under sig.
func (r *Registry) Resolve(sig string) (any, error) {
	module, attr, err := Parse(sig)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	attrs, ok := r.modules[module]
	if !ok {
		return nil, fmt.Errorf("%w: no module named %q", ErrModuleNotFound, module)
	}

	v, ok := attrs[attr]
	if !ok {
		return nil, fmt.Errorf("%w: module %q has no attribute %q", ErrAttributeNotFound, module, attr)
	}

	return v, nil
}

// Modules lists the registered module paths in order.
func (r *Registry) Modules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	modules := make([]string, 0, len(r.modules))
	for m := range r.modules {
		modules = append(modules, m)
	}
	slices.Sort(modules)

	return modules
}

// Attributes lists the attributes registered under module in order.
func (r *Registry) Attributes(module string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	attrs := make([]string, 0, len(r.modules[module]))
	for a := range r.modules[module] {
		attrs = append(attrs, a)
	}
	slices.Sort(attrs)

	return attrs
}

// ResolveAs resolves sig and asserts the value is a T.
func ResolveAs[T any](r *Registry, sig string) (T, error) {
	var zero T

	v, err := r.Resolve(sig)
	if err != nil {
		return zero, err
	}

	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s is %T, want %T", ErrTypeMismatch, sig, v, zero)
	}

	return typed, nil
}
