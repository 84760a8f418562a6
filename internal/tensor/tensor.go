// Package tensor implements the N-dimensional float64 container that flows
// between layers.
//
// A Tensor carries two equally sized buffers:
//   - data: the values computed by forward passes
//   - diff: the gradients computed by backward passes
//
// Both are memory.SyncedMemory, so each can be read and written from the
// host or from an accelerator and is kept coherent lazily.
//
// Reshape never shrinks storage: capacity only grows, and growing discards
// the old contents of both buffers.
package tensor

import (
	"unsafe"

	"github.com/born-ml/brew/internal/backend/cpu"
	"github.com/born-ml/brew/internal/memory"
	"github.com/pkg/errors"
)

const elemSize = int(unsafe.Sizeof(float64(0)))

// Tensor is a reshapeable pair of value and gradient buffers.
type Tensor struct {
	shape    Shape
	strides  []int
	count    int
	capacity int
	data     *memory.SyncedMemory
	diff     *memory.SyncedMemory
	dev      memory.Device
}

// New creates a tensor of the given shape whose buffers may be mirrored on
// dev. dev may be nil for a host-only tensor.
func New(dev memory.Device, shape ...int) *Tensor {
	t := &Tensor{
		dev:  dev,
		data: memory.New(0, dev),
		diff: memory.New(0, dev),
	}
	t.Reshape(shape...)
	return t
}

// FromSlice creates a host-only tensor holding a copy of values.
func FromSlice(values []float64, shape ...int) *Tensor {
	t := New(nil, shape...)
	if len(values) != t.count {
		panic(errors.Errorf("tensor: shape %v requires %d values, got %d", t.shape, t.count, len(values)))
	}
	copy(t.MutableHostData(), values)
	return t
}

// Reshape changes the shape. Storage is reallocated, and its contents lost,
// only when the new count exceeds the current capacity.
func (t *Tensor) Reshape(shape ...int) {
	s := Shape(shape)
	if err := s.Validate(); err != nil {
		panic(err)
	}
	t.shape = s.Clone()
	t.strides = t.shape.ComputeStrides()
	t.count = t.shape.Count()
	if t.count > t.capacity {
		t.capacity = t.count
		t.data.Release()
		t.diff.Release()
		t.data = memory.New(t.capacity*elemSize, t.dev)
		t.diff = memory.New(t.capacity*elemSize, t.dev)
	}
}

// ReshapeLike reshapes t to other's shape.
func (t *Tensor) ReshapeLike(other *Tensor) {
	t.Reshape(other.shape...)
}

// Shape returns a copy of the shape.
func (t *Tensor) Shape() Shape {
	return t.shape.Clone()
}

// ShapeEqual reports whether t and other have the same shape.
func (t *Tensor) ShapeEqual(other *Tensor) bool {
	return t.shape.Equal(other.shape)
}

// NumAxes returns the number of axes.
func (t *Tensor) NumAxes() int {
	return len(t.shape)
}

// Count returns the number of elements.
func (t *Tensor) Count() int {
	return t.count
}

// Capacity returns the number of elements the buffers can hold.
func (t *Tensor) Capacity() int {
	return t.capacity
}

// CountRange returns the product of dimensions in [start, end).
func (t *Tensor) CountRange(start, end int) int {
	if start < 0 || end > len(t.shape) || start > end {
		panic(errors.Errorf("tensor: invalid axis range [%d, %d) for %d axes", start, end, len(t.shape)))
	}
	n := 1
	for _, dim := range t.shape[start:end] {
		n *= dim
	}
	return n
}

// CountFrom returns the product of dimensions from start to the last axis.
func (t *Tensor) CountFrom(start int) int {
	return t.CountRange(start, len(t.shape))
}

// CanonicalAxisIndex maps axis in [-NumAxes, NumAxes) onto [0, NumAxes).
// Negative values count from the end.
func (t *Tensor) CanonicalAxisIndex(axis int) int {
	n := len(t.shape)
	if axis < -n || axis >= n {
		panic(errors.Errorf("tensor: axis %d out of range for %d-D tensor with shape %v", axis, n, t.shape))
	}
	if axis < 0 {
		return axis + n
	}
	return axis
}

// ShapeAt returns the dimension of axis, which may be negative.
func (t *Tensor) ShapeAt(axis int) int {
	return t.shape[t.CanonicalAxisIndex(axis)]
}

// Num returns axis 0 of a tensor with at most 4 axes, or 1 if absent.
func (t *Tensor) Num() int { return t.legacyShape(0) }

// Channels returns axis 1 of a tensor with at most 4 axes, or 1 if absent.
func (t *Tensor) Channels() int { return t.legacyShape(1) }

// Height returns axis 2 of a tensor with at most 4 axes, or 1 if absent.
func (t *Tensor) Height() int { return t.legacyShape(2) }

// Width returns axis 3 of a tensor with at most 4 axes, or 1 if absent.
func (t *Tensor) Width() int { return t.legacyShape(3) }

func (t *Tensor) legacyShape(axis int) int {
	if len(t.shape) > 4 {
		panic(errors.Errorf("tensor: legacy accessors require at most 4 axes, shape is %v", t.shape))
	}
	if axis >= len(t.shape) {
		return 1
	}
	return t.shape[axis]
}

// Offset returns the flat element offset of indices. Fewer indices than
// axes are allowed; the missing trailing indices are zero.
func (t *Tensor) Offset(indices ...int) int {
	if len(indices) > len(t.shape) {
		panic(errors.Errorf("tensor: %d indices for %d axes", len(indices), len(t.shape)))
	}
	offset := 0
	for i, idx := range indices {
		if idx < 0 || idx >= t.shape[i] {
			panic(errors.Errorf("tensor: index %d out of range [0, %d) on axis %d", idx, t.shape[i], i))
		}
		offset += idx * t.strides[i]
	}
	return offset
}

// At returns the value at indices.
func (t *Tensor) At(indices ...int) float64 {
	return t.HostData()[t.Offset(indices...)]
}

// Set writes the value at indices.
func (t *Tensor) Set(v float64, indices ...int) {
	t.MutableHostData()[t.Offset(indices...)] = v
}

// DiffAt returns the gradient at indices.
func (t *Tensor) DiffAt(indices ...int) float64 {
	return t.HostDiff()[t.Offset(indices...)]
}

// SetDiff writes the gradient at indices.
func (t *Tensor) SetDiff(v float64, indices ...int) {
	t.MutableHostDiff()[t.Offset(indices...)] = v
}

// Device returns the device the buffers are mirrored on, or nil.
func (t *Tensor) Device() memory.Device {
	return t.dev
}

// Data returns the synchronized value buffer.
func (t *Tensor) Data() *memory.SyncedMemory {
	return t.data
}

// Diff returns the synchronized gradient buffer.
func (t *Tensor) Diff() *memory.SyncedMemory {
	return t.diff
}

// HostData returns the values for reading.
func (t *Tensor) HostData() []float64 {
	return t.floats(t.data.HostData())
}

// MutableHostData returns the values for writing.
func (t *Tensor) MutableHostData() []float64 {
	return t.floats(t.data.MutableHostData())
}

// HostDiff returns the gradients for reading.
func (t *Tensor) HostDiff() []float64 {
	return t.floats(t.diff.HostData())
}

// MutableHostDiff returns the gradients for writing.
func (t *Tensor) MutableHostDiff() []float64 {
	return t.floats(t.diff.MutableHostData())
}

// DeviceData returns the device value buffer, or nil without a device.
func (t *Tensor) DeviceData() memory.Buffer {
	return t.data.DeviceData()
}

// MutableDeviceData returns the device value buffer for writing.
func (t *Tensor) MutableDeviceData() memory.Buffer {
	return t.data.MutableDeviceData()
}

// DeviceDiff returns the device gradient buffer, or nil without a device.
func (t *Tensor) DeviceDiff() memory.Buffer {
	return t.diff.DeviceData()
}

// MutableDeviceDiff returns the device gradient buffer for writing.
func (t *Tensor) MutableDeviceDiff() memory.Buffer {
	return t.diff.MutableDeviceData()
}

// floats views the first count elements of a byte buffer as float64.
func (t *Tensor) floats(b []byte) []float64 {
	if t.count == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, bounds checked by capacity
	return unsafe.Slice((*float64)(unsafe.Pointer(&b[0])), t.count)
}

// CopyFrom copies src's values, or its gradients when copyDiff is set, into
// the same buffer of t. Counts must match; t is reshaped to src's shape when
// only the shapes differ. In Accelerator mode the copy stays on the device
// when both tensors have one.
func (t *Tensor) CopyFrom(src *Tensor, copyDiff bool, mode memory.Mode) {
	if src.count != t.count {
		panic(errors.Errorf("tensor: copy from %v into %v: count mismatch", src.shape, t.shape))
	}
	if !src.shape.Equal(t.shape) {
		t.ReshapeLike(src)
	}
	if mode == memory.Accelerator && t.dev != nil && src.dev == t.dev {
		var dst, from memory.Buffer
		if copyDiff {
			dst, from = t.MutableDeviceDiff(), src.DeviceDiff()
		} else {
			dst, from = t.MutableDeviceData(), src.DeviceData()
		}
		if err := dst.CopyFrom(from); err != nil {
			panic(errors.Wrap(err, "tensor: device copy"))
		}
		return
	}
	if copyDiff {
		copy(t.MutableHostDiff(), src.HostDiff())
		return
	}
	copy(t.MutableHostData(), src.HostData())
}

// AsumData returns the sum of absolute values.
func (t *Tensor) AsumData() float64 {
	return cpu.Asum(t.HostData())
}

// AsumDiff returns the sum of absolute gradients.
func (t *Tensor) AsumDiff() float64 {
	return cpu.Asum(t.HostDiff())
}

// SumsqData returns the sum of squared values.
func (t *Tensor) SumsqData() float64 {
	return cpu.Sumsq(t.HostData())
}

// SumsqDiff returns the sum of squared gradients.
func (t *Tensor) SumsqDiff() float64 {
	return cpu.Sumsq(t.HostDiff())
}

// ScaleData multiplies every value by s.
func (t *Tensor) ScaleData(s float64) {
	cpu.Scal(s, t.MutableHostData())
}

// ScaleDiff multiplies every gradient by s.
func (t *Tensor) ScaleDiff(s float64) {
	cpu.Scal(s, t.MutableHostDiff())
}

// SetDiffZero clears the gradients.
func (t *Tensor) SetDiffZero() {
	cpu.Set(0, t.MutableHostDiff())
}

// Clone returns a host-only tensor with a copy of t's shape, values and
// gradients.
func (t *Tensor) Clone() *Tensor {
	c := New(nil, t.shape...)
	copy(c.MutableHostData(), t.HostData())
	copy(c.MutableHostDiff(), t.HostDiff())
	return c
}

// Release frees both buffers. The shape is kept; the next access
// reallocates zeroed storage.
func (t *Tensor) Release() {
	t.data.Release()
	t.diff.Release()
}

// String returns the shape description, e.g. "2 3 4 (24)".
func (t *Tensor) String() string {
	return t.shape.String()
}
