//go:build windows

package webgpu

import (
	"fmt"
	"unsafe"

	"github.com/born-ml/brew/internal/memory"
	"github.com/go-webgpu/webgpu/wgpu"
	"github.com/pkg/errors"
)

// Device allocates storage buffers on the default high-performance adapter.
type Device struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	info     wgpu.AdapterInfo
	staging  *stagingPool
}

// New opens the default adapter. It returns an error wrapping
// ErrUnavailable when the native library or an adapter is missing.
func New() (dev *Device, err error) {
	// The bindings panic when wgpu_native cannot be loaded.
	defer func() {
		if r := recover(); r != nil {
			dev = nil
			err = errors.Wrapf(ErrUnavailable, "native library: %v", r)
		}
	}()

	instance := wgpu.CreateInstance(nil)
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		instance.Release()
		return nil, errors.Wrapf(ErrUnavailable, "request adapter: %v", err)
	}
	device, err := adapter.RequestDevice(nil)
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, errors.Wrapf(ErrUnavailable, "request device: %v", err)
	}
	queue := device.GetQueue()
	if queue == nil {
		device.Release()
		adapter.Release()
		instance.Release()
		return nil, errors.Wrap(ErrUnavailable, "no queue")
	}

	return &Device{
		instance: instance,
		adapter:  adapter,
		device:   device,
		queue:    queue,
		info:     adapter.GetInfo(),
		staging:  newStagingPool(device),
	}, nil
}

// IsAvailable reports whether a WebGPU device can be created.
func IsAvailable() bool {
	d, err := New()
	if err != nil {
		return false
	}
	d.Release()
	return true
}

// Name returns the adapter name.
func (d *Device) Name() string {
	return fmt.Sprintf("webgpu (%s %s)", d.info.Name, d.info.VendorName)
}

// Alloc allocates a zero-filled storage buffer of size bytes.
func (d *Device) Alloc(size int) (memory.Buffer, error) {
	if size < 0 {
		return nil, errors.Errorf("webgpu: invalid allocation size %d", size)
	}
	alloc := align(size)
	buf := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:  alloc,
	})
	if buf == nil {
		return nil, errors.Errorf("webgpu: failed to allocate %d bytes", size)
	}
	return &buffer{dev: d, buf: buf, size: size, alloc: alloc}, nil
}

// Release frees the device and every pooled staging buffer.
func (d *Device) Release() {
	d.staging.clear()
	d.queue.Release()
	d.device.Release()
	d.adapter.Release()
	d.instance.Release()
}

// align rounds size up to the 4-byte copy granularity, with a minimum of
// one word.
func align(size int) uint64 {
	if size == 0 {
		return 4
	}
	return uint64(size+3) &^ 3 //nolint:gosec // size is non-negative
}

type buffer struct {
	dev   *Device
	buf   *wgpu.Buffer
	size  int
	alloc uint64
}

func (b *buffer) Size() int { return b.size }

// Write uploads src through a staging buffer mapped at creation.
func (b *buffer) Write(src []byte) error {
	if len(src) > b.size {
		return errors.Errorf("webgpu: write of %d bytes into %d-byte buffer", len(src), b.size)
	}
	if len(src) == 0 {
		return nil
	}
	n := align(len(src))
	staging := b.dev.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageMapWrite | wgpu.BufferUsageCopySrc,
		Size:             n,
		MappedAtCreation: wgpu.True,
	})
	defer staging.Release()

	mapped := unsafe.Slice((*byte)(staging.GetMappedRange(0, n)), n) //nolint:gosec // mapped GPU memory
	copy(mapped, src)
	staging.Unmap()

	b.copy(staging, b.buf, n)
	return nil
}

// Read downloads the buffer into dst through a pooled map-read staging
// buffer.
func (b *buffer) Read(dst []byte) error {
	if len(dst) > b.size {
		return errors.Errorf("webgpu: read of %d bytes from %d-byte buffer", len(dst), b.size)
	}
	if len(dst) == 0 {
		return nil
	}
	n := align(len(dst))
	staging := b.dev.staging.acquire(n)
	defer b.dev.staging.release(staging, n)

	b.copy(b.buf, staging, n)
	if err := staging.MapAsync(b.dev.device, wgpu.MapModeRead, 0, n); err != nil {
		return errors.Wrap(err, "webgpu: map staging buffer")
	}
	mapped := unsafe.Slice((*byte)(staging.GetMappedRange(0, n)), n) //nolint:gosec // mapped GPU memory
	copy(dst, mapped)
	staging.Unmap()
	return nil
}

// CopyFrom copies between two buffers of the same device on the GPU.
func (b *buffer) CopyFrom(src memory.Buffer) error {
	s, ok := src.(*buffer)
	if !ok || s.dev != b.dev {
		return errors.New("webgpu: copy source belongs to another device")
	}
	n := min(b.alloc, s.alloc)
	b.copy(s.buf, b.buf, n)
	return nil
}

func (b *buffer) Release() {
	if b.buf != nil {
		b.buf.Release()
		b.buf = nil
	}
}

func (b *buffer) copy(src, dst *wgpu.Buffer, n uint64) {
	encoder := b.dev.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(src, 0, dst, 0, n)
	cmd := encoder.Finish(nil)
	b.dev.queue.Submit(cmd)
}
