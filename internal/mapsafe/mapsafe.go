// Package mapsafe reads typed values out of decoded JSON-like maps, where
// every number arrives as float64.
package mapsafe

import "math"

// Lookup retrieves a typed value from a map[string]any. Integral float64
// values convert to int; ints convert to float64.
func Lookup[T any](m map[string]any, key string) (T, bool) {
	var zero T

	val, ok := m[key]
	if !ok || val == nil {
		return zero, false
	}

	switch any(zero).(type) {
	case int:
		switch x := val.(type) {
		case int:
			return any(x).(T), true
		case float64:
			if x != math.Trunc(x) {
				return zero, false
			}
			return any(int(x)).(T), true
		}
	case float64:
		switch x := val.(type) {
		case float64:
			return any(x).(T), true
		case int:
			return any(float64(x)).(T), true
		}
	default:
		// fallback: if type matches exactly
		if v, ok := val.(T); ok {
			return v, true
		}
	}

	return zero, false
}

// Get retrieves a typed value from a map[string]any.
// If the key is missing or the type cannot be converted, it returns the default value.
func Get[T any](m map[string]any, key string, defaultValue T) T {
	if v, ok := Lookup[T](m, key); ok {
		return v
	}
	return defaultValue
}

// Floats retrieves a list of numbers.
func Floats(m map[string]any, key string) ([]float64, bool) {
	list, ok := Lookup[[]any](m, key)
	if !ok {
		return nil, false
	}

	out := make([]float64, len(list))
	for i, v := range list {
		f, ok := v.(float64)
		if !ok {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}
