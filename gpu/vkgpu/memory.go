// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vkgpu

import (
	"fmt"
	"log/slog"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/lumen3d/lumen/gpu"
)

// memBlock is a device memory block shared by small buffers.
type memBlock struct {
	mem  vk.DeviceMemory
	size uint64
}

type buffer struct {
	buf     vk.Buffer
	size    uint64
	usage   gpu.BufferUsage
	alloc   gpu.AllocationType
	address gpu.DeviceAddress

	// mem is the dedicated memory of the buffer, nil if sub-allocated.
	mem vk.DeviceMemory
	sub *gpu.Suballocation[*memBlock]

	// host is the persistent mapping of a CPU buffer.
	host   unsafe.Pointer
	mapped bool
}

// findMemoryType returns the first memory type allowed by typeBits
// that has all the required property flags.
func (b *Backend) findMemoryType(typeBits uint32, required vk.MemoryPropertyFlagBits) (uint32, bool) {
	for i := range b.memoryProps.MemoryTypeCount {
		if typeBits&(1<<i) == 0 {
			continue
		}
		mt := b.memoryProps.MemoryTypes[i]
		mt.Deref()
		if mt.PropertyFlags&vk.MemoryPropertyFlags(required) == vk.MemoryPropertyFlags(required) {
			return i, true
		}
	}
	return 0, false
}

func (b *Backend) allocateMemory(size vk.DeviceSize, typeIndex uint32) (vk.DeviceMemory, error) {
	var mem vk.DeviceMemory
	ret := vk.AllocateMemory(b.device, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  size,
		MemoryTypeIndex: typeIndex,
	}, nil, &mem)
	if err := NewError(ret); err != nil {
		return nil, fmt.Errorf("%w: %d bytes: %w", gpu.ErrAllocation, size, err)
	}
	return mem, nil
}

// initSmallPool finds the device local memory type used by typical
// buffers and sets up the block pool over it.
func (b *Backend) initSmallPool() {
	probe := b.newVkBuffer(256, bufferUsage(gpu.BufferUsageUniform|gpu.BufferUsageStorage|gpu.BufferUsageIndex|gpu.BufferUsageDeviceAddress|gpu.BufferUsageTransferDst))
	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(b.device, probe, &reqs)
	reqs.Deref()
	vk.DestroyBuffer(b.device, probe, nil)
	mt, ok := b.findMemoryType(reqs.MemoryTypeBits, vk.MemoryPropertyDeviceLocalBit)
	if !ok {
		slog.Warn("vkgpu: no device local memory type for small buffers")
	}
	b.smallType = mt
	threshold := b.opts.Memory.SmallAllocThreshold
	if !ok {
		threshold = 0
	}
	b.small = &gpu.BlockPool[*memBlock]{
		BlockSize: b.opts.Memory.BlockSize,
		Threshold: threshold,
		NewBlock: func(size uint64) (*memBlock, error) {
			mem, err := b.allocateMemory(vk.DeviceSize(size), b.smallType)
			if err != nil {
				return nil, err
			}
			return &memBlock{mem: mem, size: size}, nil
		},
		FreeBlock: func(blk *memBlock) {
			vk.FreeMemory(b.device, blk.mem, nil)
		},
	}
}

func (b *Backend) newVkBuffer(size uint64, usage vk.BufferUsageFlags) vk.Buffer {
	var buf vk.Buffer
	ret := vk.CreateBuffer(b.device, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Usage:       usage,
		Size:        vk.DeviceSize(size),
		SharingMode: vk.SharingModeExclusive,
	}, nil, &buf)
	if err := NewError(ret); err != nil {
		gpu.IfPanic(fmt.Errorf("%w: buffer: %w", gpu.ErrAllocation, err))
	}
	return buf
}

func (b *Backend) BufferCreate(size uint64, usage gpu.BufferUsage, alloc gpu.AllocationType) gpu.Buffer {
	gpu.Assert(size > 0, "buffer of zero size")
	b.mu.Lock()
	defer b.mu.Unlock()
	buf := &buffer{size: size, usage: usage, alloc: alloc}
	buf.buf = b.newVkBuffer(size, bufferUsage(usage))
	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(b.device, buf.buf, &reqs)
	reqs.Deref()

	destroy := func() { vk.DestroyBuffer(b.device, buf.buf, nil) }
	if alloc == gpu.AllocationGPU && b.small.Fits(uint64(reqs.Size)) && reqs.MemoryTypeBits&(1<<b.smallType) != 0 {
		sub, err := b.small.Allocate(uint64(reqs.Size), uint64(reqs.Alignment))
		gpu.IfPanic(err, destroy)
		buf.sub = &sub
		gpu.IfPanic(NewError(vk.BindBufferMemory(b.device, buf.buf, sub.Memory.mem, vk.DeviceSize(sub.Offset))), destroy)
	} else {
		props := vk.MemoryPropertyDeviceLocalBit
		if alloc == gpu.AllocationCPU {
			props = vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit
		}
		mt, ok := b.findMemoryType(reqs.MemoryTypeBits, props)
		if !ok {
			destroy()
			gpu.IfPanic(fmt.Errorf("%w: no memory type for %v buffer", gpu.ErrAllocation, alloc))
		}
		mem, err := b.allocateMemory(reqs.Size, mt)
		gpu.IfPanic(err, destroy)
		buf.mem = mem
		gpu.IfPanic(NewError(vk.BindBufferMemory(b.device, buf.buf, mem, 0)), destroy)
		if alloc == gpu.AllocationCPU {
			var ptr unsafe.Pointer
			gpu.IfPanic(NewError(vk.MapMemory(b.device, mem, 0, vk.DeviceSize(size), 0, &ptr)), destroy)
			buf.host = ptr
		}
	}
	h := gpu.Buffer(b.newID())
	buf.address = gpu.DeviceAddress(b.nextAddress)
	b.nextAddress += gpu.AlignUp(size, 256)
	b.buffers[h] = buf
	b.addresses[buf.address] = h
	return h
}

func (b *Backend) buffer(h gpu.Buffer) *buffer {
	buf, ok := b.buffers[h]
	gpu.Assert(ok, "unknown buffer %d", h)
	return buf
}

// bufferLocked returns the buffer, taking the read lock.
func (b *Backend) bufferLocked(h gpu.Buffer) *buffer {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.buffer(h)
}

func (b *Backend) BufferFree(h gpu.Buffer) {
	if !h.IsValid() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	buf := b.buffer(h)
	vk.DestroyBuffer(b.device, buf.buf, nil)
	if buf.sub != nil {
		b.small.Free(*buf.sub)
	} else {
		if buf.host != nil {
			vk.UnmapMemory(b.device, buf.mem)
		}
		vk.FreeMemory(b.device, buf.mem, nil)
	}
	delete(b.addresses, buf.address)
	delete(b.buffers, h)
}

func (b *Backend) BufferMap(h gpu.Buffer) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf := b.buffer(h)
	gpu.Assert(buf.host != nil, "map of device local buffer %d", h)
	gpu.Assert(!buf.mapped, "buffer %d is already mapped", h)
	buf.mapped = true
	return unsafe.Slice((*byte)(buf.host), buf.size)
}

func (b *Backend) BufferUnmap(h gpu.Buffer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf := b.buffer(h)
	gpu.Assert(buf.mapped, "unmap of buffer %d that is not mapped", h)
	buf.mapped = false
}

func (b *Backend) BufferSize(h gpu.Buffer) uint64 {
	return b.bufferLocked(h).size
}

func (b *Backend) BufferDeviceAddress(h gpu.Buffer) gpu.DeviceAddress {
	buf := b.bufferLocked(h)
	gpu.Assert(buf.usage.Has(gpu.BufferUsageDeviceAddress), "buffer %d lacks device address usage", h)
	return buf.address
}

type image struct {
	img  vk.Image
	view vk.ImageView
	mem  vk.DeviceMemory
	info gpu.ImageCreateInfo

	// swapchain is set for images owned by a swapchain
	swapchain bool
}

func (b *Backend) newImageView(img vk.Image, info gpu.ImageCreateInfo) (vk.ImageView, error) {
	var view vk.ImageView
	ret := vk.CreateImageView(b.device, &vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    img,
		ViewType: vk.ImageViewType2d,
		Format:   vkFormat(info.Format),
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: aspect(info.Format),
			LevelCount: info.MipLevels,
			LayerCount: 1,
		},
	}, nil, &view)
	return view, NewError(ret)
}

func (b *Backend) newImage(info gpu.ImageCreateInfo) (*image, error) {
	if info.MipLevels == 0 {
		info.MipLevels = 1
	}
	if info.Samples == 0 {
		info.Samples = 1
	}
	im := &image{info: info}
	ret := vk.CreateImage(b.device, &vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    vkFormat(info.Format),
		Extent: vk.Extent3D{
			Width:  info.Extent.Width,
			Height: info.Extent.Height,
			Depth:  1,
		},
		MipLevels:     info.MipLevels,
		ArrayLayers:   1,
		Samples:       sampleCount(info.Samples),
		Tiling:        vk.ImageTilingOptimal,
		Usage:         imageUsage(info.Usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}, nil, &im.img)
	if err := NewError(ret); err != nil {
		return nil, fmt.Errorf("%w: image: %w", gpu.ErrAllocation, err)
	}
	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(b.device, im.img, &reqs)
	reqs.Deref()
	mt, ok := b.findMemoryType(reqs.MemoryTypeBits, vk.MemoryPropertyDeviceLocalBit)
	if !ok {
		vk.DestroyImage(b.device, im.img, nil)
		return nil, fmt.Errorf("%w: no device local memory type for image", gpu.ErrAllocation)
	}
	mem, err := b.allocateMemory(reqs.Size, mt)
	if err != nil {
		vk.DestroyImage(b.device, im.img, nil)
		return nil, err
	}
	im.mem = mem
	if err := NewError(vk.BindImageMemory(b.device, im.img, mem, 0)); err != nil {
		b.destroyImage(im)
		return nil, err
	}
	im.view, err = b.newImageView(im.img, info)
	if err != nil {
		b.destroyImage(im)
		return nil, err
	}
	return im, nil
}

func (b *Backend) destroyImage(im *image) {
	b.dropFramebuffers(im.view)
	if im.view != nil {
		vk.DestroyImageView(b.device, im.view, nil)
	}
	if im.swapchain && im.mem == nil {
		return
	}
	vk.DestroyImage(b.device, im.img, nil)
	vk.FreeMemory(b.device, im.mem, nil)
}

func (b *Backend) ImageCreate(info gpu.ImageCreateInfo) gpu.Image {
	gpu.Assert(!info.Extent.IsZero(), "image of zero extent")
	b.mu.Lock()
	defer b.mu.Unlock()
	im, err := b.newImage(info)
	gpu.IfPanic(err)
	h := gpu.Image(b.newID())
	b.images[h] = im
	return h
}

func (b *Backend) image(h gpu.Image) *image {
	im, ok := b.images[h]
	gpu.Assert(ok, "unknown image %d", h)
	return im
}

func (b *Backend) imageLocked(h gpu.Image) *image {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.image(h)
}

func (b *Backend) ImageFree(h gpu.Image) {
	if !h.IsValid() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	im := b.image(h)
	gpu.Assert(!im.swapchain, "image %d is owned by a swapchain", h)
	b.destroyImage(im)
	delete(b.images, h)
}

func (b *Backend) ImageExtent(h gpu.Image) gpu.Extent2D {
	return b.imageLocked(h).info.Extent
}

func (b *Backend) ImageFormat(h gpu.Image) gpu.DataFormat {
	return b.imageLocked(h).info.Format
}

func (b *Backend) SamplerCreate(info gpu.SamplerCreateInfo) gpu.Sampler {
	mode := addressMode(info.AddressMode)
	var smp vk.Sampler
	ret := vk.CreateSampler(b.device, &vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               filter(info.MagFilter),
		MinFilter:               filter(info.MinFilter),
		AddressModeU:            mode,
		AddressModeV:            mode,
		AddressModeW:            mode,
		AnisotropyEnable:        vk.True,
		MaxAnisotropy:           b.props.Limits.MaxSamplerAnisotropy,
		BorderColor:             vk.BorderColorIntTransparentBlack,
		UnnormalizedCoordinates: vk.False,
		CompareEnable:           vk.False,
		MipmapMode:              vk.SamplerMipmapModeLinear,
		MaxLod:                  info.MaxLOD,
	}, nil, &smp)
	if err := NewError(ret); err != nil {
		gpu.IfPanic(fmt.Errorf("%w: sampler: %w", gpu.ErrAllocation, err))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	h := gpu.Sampler(b.newID())
	b.samplers[h] = smp
	return h
}

func (b *Backend) SamplerFree(h gpu.Sampler) {
	if !h.IsValid() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	smp, ok := b.samplers[h]
	gpu.Assert(ok, "unknown sampler %d", h)
	vk.DestroySampler(b.device, smp, nil)
	delete(b.samplers, h)
}
