// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package softgpu

import (
	"fmt"

	"github.com/lumen3d/lumen/gpu"
)

type image struct {
	info   gpu.ImageCreateInfo
	layout gpu.ImageLayout

	// mips holds the texels of each mip level, tightly packed
	mips [][]byte

	// swapchain is set for images owned by a swapchain
	swapchain bool
}

func mipExtent(e gpu.Extent2D, level uint32) gpu.Extent2D {
	return gpu.Extent2D{Width: max(e.Width>>level, 1), Height: max(e.Height>>level, 1)}
}

func (b *Backend) newImage(info gpu.ImageCreateInfo) (*image, error) {
	if info.MipLevels == 0 {
		info.MipLevels = 1
	}
	if info.Samples == 0 {
		info.Samples = 1
	}
	im := &image{info: info, mips: make([][]byte, info.MipLevels)}
	var total uint64
	for l := range info.MipLevels {
		e := mipExtent(info.Extent, l)
		n := uint64(e.Width) * uint64(e.Height) * uint64(info.Format.Bytes()) * uint64(info.Samples)
		total += n
		im.mips[l] = make([]byte, n)
	}
	if err := b.reserve(total); err != nil {
		return nil, err
	}
	return im, nil
}

func (im *image) size() uint64 {
	var n uint64
	for _, m := range im.mips {
		n += uint64(len(m))
	}
	return n
}

func (b *Backend) ImageCreate(info gpu.ImageCreateInfo) gpu.Image {
	gpu.Assert(!info.Extent.IsZero(), "image of zero extent")
	gpu.Assert(info.Format != gpu.FormatUndefined, "image of undefined format")
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

func (b *Backend) ImageFree(h gpu.Image) {
	if !h.IsValid() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	im := b.image(h)
	gpu.Assert(!im.swapchain, "image %d is owned by a swapchain", h)
	b.unreserve(im.size())
	delete(b.images, h)
}

func (b *Backend) ImageExtent(h gpu.Image) gpu.Extent2D {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.image(h).info.Extent
}

func (b *Backend) ImageFormat(h gpu.Image) gpu.DataFormat {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.image(h).info.Format
}

// ImageLayout returns the layout the image was last transitioned to.
func (b *Backend) ImageLayout(h gpu.Image) gpu.ImageLayout {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.image(h).layout
}

// ReadImage returns a copy of the texels of the given mip level.
func (b *Backend) ReadImage(h gpu.Image, level uint32) []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	im := b.image(h)
	gpu.Assert(int(level) < len(im.mips), "image %d has no mip level %d", h, level)
	return append([]byte(nil), im.mips[level]...)
}

func (b *Backend) lookupImage(h gpu.Image) (*image, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	im, ok := b.images[h]
	if !ok {
		return nil, fmt.Errorf("%w: image %d used after free", gpu.ErrInvalidHandle, h)
	}
	return im, nil
}

func (b *Backend) SamplerCreate(info gpu.SamplerCreateInfo) gpu.Sampler {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := gpu.Sampler(b.newID())
	b.samplers[h] = info
	return h
}

func (b *Backend) SamplerFree(h gpu.Sampler) {
	if !h.IsValid() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.samplers[h]
	gpu.Assert(ok, "unknown sampler %d", h)
	delete(b.samplers, h)
}
