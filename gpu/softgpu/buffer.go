// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package softgpu

import (
	"fmt"

	"github.com/lumen3d/lumen/gpu"
)

type buffer struct {
	data    []byte
	usage   gpu.BufferUsage
	alloc   gpu.AllocationType
	address gpu.DeviceAddress
	mapped  bool

	// sub is set for buffers sub-allocated from a shared block
	sub *gpu.Suballocation[[]byte]
}

// bufferAlign is the alignment of sub-allocations and device addresses.
const bufferAlign = 256

func (b *Backend) BufferCreate(size uint64, usage gpu.BufferUsage, alloc gpu.AllocationType) gpu.Buffer {
	gpu.Assert(size > 0, "buffer of zero size")
	b.mu.Lock()
	defer b.mu.Unlock()
	buf := &buffer{usage: usage, alloc: alloc}
	if alloc == gpu.AllocationGPU && b.small.Fits(size) {
		sub, err := b.small.Allocate(size, bufferAlign)
		gpu.IfPanic(err)
		buf.sub = &sub
		buf.data = sub.Memory[sub.Offset : sub.Offset+size : sub.Offset+size]
		clear(buf.data)
	} else {
		gpu.IfPanic(b.reserve(size))
		buf.data = make([]byte, size)
	}
	h := gpu.Buffer(b.newID())
	buf.address = gpu.DeviceAddress(b.nextAddress)
	b.nextAddress += gpu.AlignUp(size, bufferAlign)
	b.buffers[h] = buf
	b.addresses[buf.address] = h
	return h
}

func (b *Backend) buffer(h gpu.Buffer) *buffer {
	buf, ok := b.buffers[h]
	gpu.Assert(ok, "unknown buffer %d", h)
	return buf
}

func (b *Backend) BufferFree(h gpu.Buffer) {
	if !h.IsValid() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	buf := b.buffer(h)
	if buf.sub != nil {
		b.small.Free(*buf.sub)
	} else {
		b.unreserve(uint64(len(buf.data)))
	}
	delete(b.addresses, buf.address)
	delete(b.buffers, h)
}

func (b *Backend) BufferMap(h gpu.Buffer) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf := b.buffer(h)
	gpu.Assert(buf.alloc == gpu.AllocationCPU, "map of device local buffer %d", h)
	gpu.Assert(!buf.mapped, "buffer %d is already mapped", h)
	buf.mapped = true
	return buf.data
}

func (b *Backend) BufferUnmap(h gpu.Buffer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf := b.buffer(h)
	gpu.Assert(buf.mapped, "unmap of buffer %d that is not mapped", h)
	buf.mapped = false
}

func (b *Backend) BufferSize(h gpu.Buffer) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return uint64(len(b.buffer(h).data))
}

func (b *Backend) BufferDeviceAddress(h gpu.Buffer) gpu.DeviceAddress {
	b.mu.RLock()
	defer b.mu.RUnlock()
	buf := b.buffer(h)
	gpu.Assert(buf.usage.Has(gpu.BufferUsageDeviceAddress), "buffer %d lacks device address usage", h)
	return buf.address
}

// ReadBuffer returns a copy of the contents of any buffer,
// including device local ones, for inspection in tests.
func (b *Backend) ReadBuffer(h gpu.Buffer) []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]byte(nil), b.buffer(h).data...)
}

// lookupBuffer resolves a buffer during command execution.
func (b *Backend) lookupBuffer(h gpu.Buffer) (*buffer, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	buf, ok := b.buffers[h]
	if !ok {
		return nil, fmt.Errorf("%w: buffer %d used after free", gpu.ErrInvalidHandle, h)
	}
	return buf, nil
}

// lookupAddress resolves a device address to its buffer during execution.
func (b *Backend) lookupAddress(addr gpu.DeviceAddress) (gpu.Buffer, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.addresses[addr]
	if !ok {
		return 0, fmt.Errorf("%w: device address %#x does not name a live buffer", gpu.ErrInvalidHandle, addr)
	}
	return h, nil
}
