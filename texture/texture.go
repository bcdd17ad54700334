// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package texture decodes images and uploads them into sampled
// GPU images with an optional mip chain.
package texture

import (
	"fmt"
	"image"
	"image/color"
	"sync/atomic"

	"github.com/lumen3d/lumen/gpu"
)

// Options are the parameters of a new texture.
type Options struct {

	// Mipmaps generates and uploads a full mip chain.
	Mipmaps bool

	// Format is the image format, an 8 bit RGBA format.
	Format gpu.DataFormat

	Filter      gpu.Filter
	AddressMode gpu.AddressMode
}

// Defaults sets mipmapped sRGB linear filtered repeating textures.
func (o *Options) Defaults() {
	o.Mipmaps = true
	o.Format = gpu.FormatR8G8B8A8Srgb
	o.Filter = gpu.FilterLinear
	o.AddressMode = gpu.AddressRepeat
}

// Texture is a sampled GPU image with its sampler. Textures are shared
// between materials by reference counting.
type Texture struct {
	Image     gpu.Image
	Sampler   gpu.Sampler
	Extent    gpu.Extent2D
	MipLevels uint32

	backend gpu.Backend
	refs    atomic.Int32
}

// New uploads the image into a new texture. Options may be nil for defaults.
func New(b gpu.Backend, img image.Image, opts *Options) *Texture {
	if opts == nil {
		opts = &Options{}
		opts.Defaults()
	}
	gpu.Assert(opts.Format.Bytes() == 4, "texture format %v is not 8 bit RGBA", opts.Format)
	rgba := ToRGBA(img)
	levels := []*image.RGBA{rgba}
	if opts.Mipmaps {
		levels = MipChain(rgba)
	}
	tx := &Texture{
		backend:   b,
		Extent:    gpu.Extent2D{Width: uint32(rgba.Rect.Dx()), Height: uint32(rgba.Rect.Dy())},
		MipLevels: uint32(len(levels)),
	}
	tx.refs.Store(1)
	tx.Image = b.ImageCreate(gpu.ImageCreateInfo{
		Format:    opts.Format,
		Extent:    tx.Extent,
		Usage:     gpu.ImageUsageSampled | gpu.ImageUsageTransferDst,
		MipLevels: tx.MipLevels,
	})

	var size uint64
	for _, l := range levels {
		size += uint64(len(l.Pix))
	}
	staging := b.BufferCreate(size, gpu.BufferUsageTransferSrc, gpu.AllocationCPU)
	mem := b.BufferMap(staging)
	regions := make([]gpu.BufferImageCopy, len(levels))
	var off uint64
	for i, l := range levels {
		copy(mem[off:], l.Pix)
		regions[i] = gpu.BufferImageCopy{
			BufferOffset: off,
			MipLevel:     uint32(i),
			Extent:       gpu.Extent2D{Width: uint32(l.Rect.Dx()), Height: uint32(l.Rect.Dy())},
		}
		off += uint64(len(l.Pix))
	}
	b.BufferUnmap(staging)

	b.CommandImmediateSubmit(func(cmd gpu.CommandBuffer) {
		b.CommandTransitionImage(cmd, tx.Image, gpu.LayoutUndefined, gpu.LayoutTransferDst)
		b.CommandCopyBufferToImage(cmd, staging, tx.Image, regions...)
		b.CommandTransitionImage(cmd, tx.Image, gpu.LayoutTransferDst, gpu.LayoutShaderReadOnly)
	})
	b.BufferFree(staging)

	tx.Sampler = b.SamplerCreate(gpu.SamplerCreateInfo{
		MinFilter:   opts.Filter,
		MagFilter:   opts.Filter,
		AddressMode: opts.AddressMode,
		MaxLOD:      float32(tx.MipLevels),
	})
	return tx
}

// White returns a 1x1 opaque white texture, bound for material
// textures that have no value.
func White(b gpu.Backend) *Texture {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.White)
	return New(b, img, &Options{Format: gpu.FormatR8G8B8A8Unorm, Filter: gpu.FilterNearest})
}

// Uniform returns the combined image sampler binding of the texture.
func (tx *Texture) Uniform(binding uint32) gpu.Uniform {
	return gpu.TextureUniform(binding, tx.Image, tx.Sampler)
}

// Ref adds a reference and returns the texture.
func (tx *Texture) Ref() *Texture {
	tx.refs.Add(1)
	return tx
}

// Release drops a reference. The last release waits for the device
// to be idle and frees the image and sampler.
func (tx *Texture) Release() {
	switch n := tx.refs.Add(-1); {
	case n == 0:
		tx.backend.DeviceWait()
		tx.backend.SamplerFree(tx.Sampler)
		tx.backend.ImageFree(tx.Image)
		tx.Image, tx.Sampler = 0, 0
	case n < 0:
		panic(fmt.Errorf("texture %v released too many times", tx.Image))
	}
}
