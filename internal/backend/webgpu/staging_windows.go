//go:build windows

package webgpu

import (
	"sync"

	"github.com/go-webgpu/webgpu/wgpu"
)

// maxPooled bounds the number of idle staging buffers kept per device.
const maxPooled = 32

type pooledBuffer struct {
	buffer *wgpu.Buffer
	size   uint64
}

// stagingPool reuses map-read staging buffers across reads.
type stagingPool struct {
	device *wgpu.Device
	mu     sync.Mutex
	idle   []pooledBuffer

	hits, misses uint64
}

func newStagingPool(device *wgpu.Device) *stagingPool {
	return &stagingPool{device: device, idle: make([]pooledBuffer, 0, maxPooled)}
}

// acquire returns an idle buffer of at least size bytes, or a new one.
func (p *stagingPool) acquire(size uint64) *wgpu.Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, pb := range p.idle {
		if pb.size >= size {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			p.hits++
			return pb.buffer
		}
	}
	p.misses++
	return p.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
}

// release returns buf to the pool, or frees it when the pool is full.
func (p *stagingPool) release(buf *wgpu.Buffer, size uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.idle) >= maxPooled {
		buf.Release()
		return
	}
	p.idle = append(p.idle, pooledBuffer{buffer: buf, size: size})
}

func (p *stagingPool) clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pb := range p.idle {
		pb.buffer.Release()
	}
	p.idle = p.idle[:0]
}
