package tensor

import (
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// MaxAxes is the largest number of axes a tensor may have.
const MaxAxes = 32

// Shape represents the dimensions of a tensor.
type Shape []int

// Count returns the total number of elements.
// A 0-axis shape describes a scalar and has count 1.
func (s Shape) Count() int {
	n := 1
	for _, dim := range s {
		n *= dim
	}
	return n
}

// Validate checks that the shape can back a tensor: at most MaxAxes axes,
// no negative dimension, and a product that fits in an int (and in bytes
// once multiplied by the element size).
func (s Shape) Validate() error {
	if len(s) > MaxAxes {
		return errors.Errorf("tensor: %d axes exceed the maximum of %d", len(s), MaxAxes)
	}
	n := 1
	for i, dim := range s {
		if dim < 0 {
			return errors.Errorf("tensor: invalid dimension at axis %d: %d (must be >= 0)", i, dim)
		}
		if dim != 0 && n > math.MaxInt/dim {
			return errors.Errorf("tensor: shape %v overflows the element count", []int(s))
		}
		n *= dim
	}
	if n > math.MaxInt/elemSize {
		return errors.Errorf("tensor: shape %v overflows the byte size", []int(s))
	}
	return nil
}

// Equal checks if two shapes are equal.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	clone := make(Shape, len(s))
	copy(clone, s)
	return clone
}

// ComputeStrides calculates row-major strides for the shape.
// stride[i] is the product of all dimensions after i.
func (s Shape) ComputeStrides() []int {
	strides := make([]int, len(s))
	if len(s) == 0 {
		return strides
	}

	strides[len(s)-1] = 1
	for i := len(s) - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * s[i+1]
	}
	return strides
}

// String renders the shape as space-separated dimensions followed by the
// element count, e.g. "2 3 4 (24)".
func (s Shape) String() string {
	var sb strings.Builder
	for _, dim := range s {
		sb.WriteString(strconv.Itoa(dim))
		sb.WriteByte(' ')
	}
	sb.WriteByte('(')
	sb.WriteString(strconv.Itoa(s.Count()))
	sb.WriteByte(')')
	return sb.String()
}
