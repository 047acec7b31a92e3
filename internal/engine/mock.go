package engine

import (
	"context"
	"fmt"
	"sync"
)

// Mock is an Engine returning a fixed output row for every input row.
type Mock struct {
	// Output is returned for each input row.
	Output []float32
	// InputDim, when non-zero, is enforced on every input row.
	InputDim int
	// ErrorMessage, when set, makes Run fail with it.
	ErrorMessage string

	mu        sync.Mutex
	callCount int
	closed    bool
}

// NewMock creates a Mock returning output for every row.
func NewMock(output ...float32) *Mock {
	return &Mock{Output: output}
}

// Run returns a copy of Output per row.
func (m *Mock) Run(ctx context.Context, rows [][]float32) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.callCount++

	if m.closed {
		return nil, ErrClosed
	}
	if m.ErrorMessage != "" {
		return nil, fmt.Errorf("%s", m.ErrorMessage)
	}
	if len(rows) == 0 {
		return nil, ErrEmptyBatch
	}

	out := make([][]float32, len(rows))
	for i, row := range rows {
		if m.InputDim > 0 && len(row) != m.InputDim {
			return nil, fmt.Errorf("%w: row %d has %d features, want %d", ErrFeatureSize, i, len(row), m.InputDim)
		}
		out[i] = append([]float32(nil), m.Output...)
	}

	return out, nil
}

// Close marks the mock closed.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// CallCount returns the number of Run calls.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.callCount
}

// Closed reports whether Close was called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closed
}

// Ensure Mock implements Engine at compile time
var _ Engine = (*Mock)(nil)
