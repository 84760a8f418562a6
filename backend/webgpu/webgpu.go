// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package webgpu provides the WebGPU device that mirrors tensor buffers in
// GPU memory.
//
// The device is available on Windows with the wgpu native library
// installed. Elsewhere New returns ErrUnavailable and tensors stay on the
// host.
//
// Example:
//
//	ctx := layer.NewContext(1701)
//	if dev, err := webgpu.New(); err == nil {
//	    defer dev.Release()
//	    ctx.Device, ctx.Mode = dev, tensor.Accelerator
//	}
package webgpu

import (
	internalwebgpu "github.com/born-ml/brew/internal/backend/webgpu"
	"github.com/born-ml/brew/internal/memory"
)

// Device is a WebGPU buffer allocator.
type Device = internalwebgpu.Device

// Compile-time check that Device implements memory.Device.
var _ memory.Device = (*Device)(nil)

// ErrUnavailable is returned when no WebGPU adapter can be opened.
var ErrUnavailable = internalwebgpu.ErrUnavailable

// New opens the default adapter and device. Call Release when done.
func New() (*Device, error) {
	return internalwebgpu.New()
}

// IsAvailable reports whether a WebGPU device can be opened.
func IsAvailable() bool {
	return internalwebgpu.IsAvailable()
}
