// Package sim implements a simulated accelerator.
//
// Buffers live in their own host allocation, separate from the host mirror
// of a memory.SyncedMemory, so every host/device transfer is a real copy and
// stale reads are observable. The device counts transfers, which makes the
// lazy synchronization protocol testable on machines without a GPU.
package sim

import (
	"github.com/born-ml/brew/internal/memory"
	"github.com/pkg/errors"
)

// Stats counts the transfers performed through a Device.
type Stats struct {
	Allocs       int
	Uploads      int // host -> device
	Downloads    int // device -> host
	DeviceCopies int
	BytesMoved   int
}

// Device is a simulated accelerator.
type Device struct {
	name  string
	stats Stats
}

// New returns a simulated device.
func New() *Device {
	return &Device{name: "sim"}
}

// Name returns the device name.
func (d *Device) Name() string {
	return d.name
}

// Stats returns a snapshot of the transfer counters.
func (d *Device) Stats() Stats {
	return d.stats
}

// Alloc allocates a zero-filled buffer.
func (d *Device) Alloc(size int) (memory.Buffer, error) {
	if size < 0 {
		return nil, errors.Errorf("sim: invalid allocation size %d", size)
	}
	d.stats.Allocs++
	return &buffer{dev: d, data: make([]byte, size)}, nil
}

type buffer struct {
	dev  *Device
	data []byte
}

func (b *buffer) Size() int {
	return len(b.data)
}

func (b *buffer) Write(src []byte) error {
	if b.data == nil && len(src) > 0 {
		return errors.New("sim: write to released buffer")
	}
	n := copy(b.data, src)
	b.dev.stats.Uploads++
	b.dev.stats.BytesMoved += n
	return nil
}

func (b *buffer) Read(dst []byte) error {
	if b.data == nil && len(dst) > 0 {
		return errors.New("sim: read from released buffer")
	}
	n := copy(dst, b.data)
	b.dev.stats.Downloads++
	b.dev.stats.BytesMoved += n
	return nil
}

func (b *buffer) CopyFrom(src memory.Buffer) error {
	other, ok := src.(*buffer)
	if !ok {
		return errors.Errorf("sim: cannot copy from foreign buffer %T", src)
	}
	if other.dev != b.dev {
		return errors.New("sim: cannot copy across devices")
	}
	n := copy(b.data, other.data)
	b.dev.stats.DeviceCopies++
	b.dev.stats.BytesMoved += n
	return nil
}

func (b *buffer) Release() {
	b.data = nil
}

// Bytes exposes the device-resident bytes of a buffer allocated by this
// package. Tests use it to inspect or corrupt the device mirror directly.
func Bytes(buf memory.Buffer) []byte {
	b, ok := buf.(*buffer)
	if !ok {
		return nil
	}
	return b.data
}
