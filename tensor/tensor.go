// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the public tensor (blob) type of brew.
//
// A Tensor holds two equally sized float64 buffers, data and diff, each
// mirrored between host memory and an optional accelerator device. The
// mirrors are synchronized lazily: reading one side copies from the other
// only when the other side was written last.
//
// Example:
//
//	x := tensor.FromSlice([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
//	x.Reshape(3, 2)           // keeps the data, count is unchanged
//	fmt.Println(x.At(2, 1))   // 6
package tensor

import (
	"github.com/born-ml/brew/internal/memory"
	"github.com/born-ml/brew/internal/tensor"
)

// Tensor is an N-dimensional float64 array with a gradient of the same
// shape.
type Tensor = tensor.Tensor

// Shape represents the dimensions of a tensor.
// Example: Shape{2, 3, 4} represents a 3D tensor with dimensions 2×3×4.
type Shape = tensor.Shape

// MaxAxes is the largest supported number of axes.
const MaxAxes = tensor.MaxAxes

// Device allocates accelerator-resident buffers.
type Device = memory.Device

// Mode selects which mirror compute paths read and write.
type Mode = memory.Mode

// Compute modes.
const (
	Host        Mode = memory.Host
	Accelerator Mode = memory.Accelerator
)

// New creates a tensor with the given shape. dev may be nil for a
// host-only tensor.
func New(dev Device, shape ...int) *Tensor {
	return tensor.New(dev, shape...)
}

// FromSlice creates a host tensor holding a copy of values.
func FromSlice(values []float64, shape ...int) *Tensor {
	return tensor.FromSlice(values, shape...)
}
