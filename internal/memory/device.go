// Package memory implements a byte buffer mirrored between host memory and
// an accelerator device, with lazy head-tracked synchronization.
//
// A SyncedMemory owns at most two physical copies of one logical buffer:
//   - host: a Go byte slice
//   - device: a Buffer allocated from a Device
//
// The Head records which copy is authoritative. Reading a copy that is
// behind transfers the data first; writing a copy moves the head to it and
// invalidates the other one.
//
// A nil Device means no accelerator is present. Device accessors then
// return nil and the buffer keeps working on the host alone.
package memory

import "fmt"

// Mode selects which mirror compute paths read and write.
type Mode int

// Supported compute modes.
const (
	Host Mode = iota
	Accelerator
)

// String returns a human-readable mode name.
func (m Mode) String() string {
	switch m {
	case Host:
		return "host"
	case Accelerator:
		return "accelerator"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Device allocates accelerator-resident buffers.
//
// Implementations:
//   - sim: separate host allocation that counts transfers (tests, -device=sim)
//   - webgpu: WebGPU storage buffers (windows)
type Device interface {
	// Name returns a human-readable device name.
	Name() string

	// Alloc allocates a zero-filled buffer of size bytes.
	Alloc(size int) (Buffer, error)
}

// Buffer is one allocation on a Device.
//
// Every call blocks until the transfer has completed.
type Buffer interface {
	// Size returns the buffer capacity in bytes.
	Size() int

	// Write uploads src (host) into the buffer, starting at offset 0.
	Write(src []byte) error

	// Read downloads the buffer into dst (host), starting at offset 0.
	Read(dst []byte) error

	// CopyFrom copies min(Size, src.Size) bytes from another buffer of the
	// same device without a host round trip.
	CopyFrom(src Buffer) error

	// Release frees the device allocation.
	Release()
}
