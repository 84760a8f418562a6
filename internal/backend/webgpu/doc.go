// Package webgpu provides a memory.Device backed by WebGPU storage buffers,
// using go-webgpu (github.com/go-webgpu/webgpu) for zero-CGO bindings.
//
// The device is available on windows only. Elsewhere New returns
// ErrUnavailable and callers fall back to the host.
package webgpu

import "errors"

// ErrUnavailable is returned by New when no WebGPU adapter can be used.
var ErrUnavailable = errors.New("webgpu: not available")
