package memory

import (
	"fmt"

	"github.com/pkg/errors"
)

// Head identifies which mirror of a SyncedMemory holds the authoritative data.
type Head int

// Head states.
const (
	// Uninitialized: no mirror has been allocated yet.
	Uninitialized Head = iota
	// HeadAtHost: the host mirror is ahead of the device mirror.
	HeadAtHost
	// HeadAtDevice: the device mirror is ahead of the host mirror.
	HeadAtDevice
	// Synced: both mirrors hold the same bytes.
	Synced
)

// String returns a human-readable head name.
func (h Head) String() string {
	switch h {
	case Uninitialized:
		return "UNINITIALIZED"
	case HeadAtHost:
		return "HEAD_AT_HOST"
	case HeadAtDevice:
		return "HEAD_AT_DEVICE"
	case Synced:
		return "SYNCED"
	default:
		return fmt.Sprintf("Head(%d)", int(h))
	}
}

// SyncedMemory is a logical byte buffer mirrored on host and device.
//
// It is not safe for concurrent use; the engine is single-threaded.
type SyncedMemory struct {
	size   int
	host   []byte
	device Buffer
	dev    Device
	head   Head
}

// New returns a SyncedMemory of size bytes. Nothing is allocated until the
// first accessor call. dev may be nil for host-only operation.
func New(size int, dev Device) *SyncedMemory {
	if size < 0 {
		panic(fmt.Sprintf("memory: negative size %d", size))
	}
	return &SyncedMemory{
		size: size,
		dev:  dev,
		head: Uninitialized,
	}
}

// Size returns the buffer capacity in bytes.
func (m *SyncedMemory) Size() int {
	return m.size
}

// Head returns the current head state.
func (m *SyncedMemory) Head() Head {
	return m.head
}

// HasDevice reports whether a device backs this buffer.
func (m *SyncedMemory) HasDevice() bool {
	return m.dev != nil
}

// HostData returns the host mirror for reading.
// If the device mirror was ahead it is copied in and the head becomes Synced.
func (m *SyncedMemory) HostData() []byte {
	m.toHost()
	return m.host
}

// MutableHostData returns the host mirror for writing and moves the head to it.
func (m *SyncedMemory) MutableHostData() []byte {
	m.toHost()
	m.head = HeadAtHost
	return m.host
}

// DeviceData returns the device mirror for reading.
// Returns nil when no device is present.
func (m *SyncedMemory) DeviceData() Buffer {
	if m.dev == nil {
		return nil
	}
	m.toDevice()
	return m.device
}

// MutableDeviceData returns the device mirror for writing and moves the head
// to it. Returns nil, leaving the head untouched, when no device is present.
func (m *SyncedMemory) MutableDeviceData() Buffer {
	if m.dev == nil {
		return nil
	}
	m.toDevice()
	m.head = HeadAtDevice
	return m.device
}

// Release frees both mirrors. The buffer returns to Uninitialized.
func (m *SyncedMemory) Release() {
	if m.device != nil {
		m.device.Release()
		m.device = nil
	}
	m.host = nil
	m.head = Uninitialized
}

func (m *SyncedMemory) toHost() {
	switch m.head {
	case Uninitialized:
		m.host = make([]byte, m.size)
		m.head = HeadAtHost
	case HeadAtDevice:
		if m.host == nil {
			m.host = make([]byte, m.size)
		}
		if err := m.device.Read(m.host); err != nil {
			panic(errors.Wrapf(err, "memory: device to host copy of %d bytes", m.size))
		}
		m.head = Synced
	case HeadAtHost, Synced:
	}
}

func (m *SyncedMemory) toDevice() {
	switch m.head {
	case Uninitialized:
		m.allocDevice()
		m.head = HeadAtDevice
	case HeadAtHost:
		if m.device == nil {
			m.allocDevice()
		}
		if err := m.device.Write(m.host); err != nil {
			panic(errors.Wrapf(err, "memory: host to device copy of %d bytes", m.size))
		}
		m.head = Synced
	case HeadAtDevice, Synced:
	}
}

func (m *SyncedMemory) allocDevice() {
	buf, err := m.dev.Alloc(m.size)
	if err != nil {
		panic(errors.Wrapf(err, "memory: %s allocation of %d bytes", m.dev.Name(), m.size))
	}
	m.device = buf
}
