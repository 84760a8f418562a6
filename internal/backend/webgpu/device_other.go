//go:build !windows

package webgpu

import "github.com/born-ml/brew/internal/memory"

// Device is unavailable on this platform.
type Device struct{}

// New always returns ErrUnavailable.
func New() (*Device, error) {
	return nil, ErrUnavailable
}

// IsAvailable reports whether a WebGPU device can be created.
func IsAvailable() bool { return false }

// Name returns the device name.
func (d *Device) Name() string { return "webgpu (unavailable)" }

// Alloc always fails.
func (d *Device) Alloc(int) (memory.Buffer, error) { return nil, ErrUnavailable }

// Release does nothing.
func (d *Device) Release() {}
