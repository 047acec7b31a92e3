package predictor

import (
	"fmt"
	"slices"
)

// Array is a dense row-major float64 tensor. A rank-0 Array is a scalar.
type Array struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// NewArray wraps data with shape. It panics when they disagree, which is
// always a programming error.
func NewArray(shape []int, data []float64) Array {
	if size(shape) != len(data) {
		panic(fmt.Sprintf("predictor: shape %v does not hold %d values", shape, len(data)))
	}
	return Array{Shape: slices.Clone(shape), Data: data}
}

// Rank is the number of axes.
func (a Array) Rank() int {
	return len(a.Shape)
}

// Size is the number of elements.
func (a Array) Size() int {
	return len(a.Data)
}

// Squeeze drops every axis of length one.
func (a Array) Squeeze() Array {
	shape := make([]int, 0, len(a.Shape))
	for _, d := range a.Shape {
		if d != 1 {
			shape = append(shape, d)
		}
	}
	return Array{Shape: shape, Data: a.Data}
}

// Scalar returns the value of a single-element array.
func (a Array) Scalar() (float64, bool) {
	if len(a.Data) != 1 {
		return 0, false
	}
	return a.Data[0], true
}

// Row returns the i-th slice along the first axis of a rank-2 array.
func (a Array) Row(i int) ([]float64, error) {
	if a.Rank() != 2 {
		return nil, fmt.Errorf("%w: Row needs rank 2, have shape %v", ErrShapeMismatch, a.Shape)
	}
	if i < 0 || i >= a.Shape[0] {
		return nil, fmt.Errorf("row %d out of range [0, %d)", i, a.Shape[0])
	}

	width := a.Shape[1]
	return a.Data[i*width : (i+1)*width], nil
}

// Mean averages over the first axis. The mean of a vector is a scalar.
func (a Array) Mean() (Array, error) {
	if a.Rank() == 0 {
		return a, nil
	}

	n := a.Shape[0]
	if n == 0 {
		return Array{}, fmt.Errorf("%w: mean over empty axis", ErrShapeMismatch)
	}
	width := a.Size() / n

	out := make([]float64, width)
	for i := range n {
		for j := range width {
			out[j] += a.Data[i*width+j]
		}
	}
	for j := range out {
		out[j] /= float64(n)
	}

	return Array{Shape: slices.Clone(a.Shape[1:]), Data: out}, nil
}

// Equal reports whether a and b have the same shape and values.
func (a Array) Equal(b Array) bool {
	return slices.Equal(a.Shape, b.Shape) && slices.Equal(a.Data, b.Data)
}

// Result maps a site index in the input structure to its prediction.
type Result map[int]Array

// Indexes returns the predicted site indexes in ascending order.
func (r Result) Indexes() []int {
	indexes := make([]int, 0, len(r))
	for i := range r {
		indexes = append(indexes, i)
	}
	slices.Sort(indexes)
	return indexes
}

// Average is the element-wise mean prediction over all sites, the quantity
// measured on a bulk sample.
func (r Result) Average() (Array, error) {
	if len(r) == 0 {
		return Array{}, ErrEmptyResult
	}

	indexes := r.Indexes()
	first := r[indexes[0]]
	sum := make([]float64, first.Size())
	for _, i := range indexes {
		a := r[i]
		if !slices.Equal(a.Shape, first.Shape) {
			return Array{}, fmt.Errorf("%w: site %d has shape %v, site %d has %v", ErrShapeMismatch, i, a.Shape, indexes[0], first.Shape)
		}
		for j, v := range a.Data {
			sum[j] += v
		}
	}
	for j := range sum {
		sum[j] /= float64(len(r))
	}

	return Array{Shape: slices.Clone(first.Shape), Data: sum}, nil
}

func size(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
