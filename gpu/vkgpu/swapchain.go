// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vkgpu

import (
	"errors"
	"log/slog"

	vk "github.com/goki/vulkan"
	"github.com/lumen3d/lumen/gpu"
)

// swapchain presents to the window surface, or is a ring of offscreen
// images when handle is nil.
type swapchain struct {
	handle vk.Swapchain
	info   gpu.SwapchainCreateInfo
	images []gpu.Image

	// current is the index of the last acquired image
	current   uint32
	outOfDate bool
}

func (b *Backend) SwapchainCreate(info gpu.SwapchainCreateInfo) gpu.Swapchain {
	if info.ImageCount == 0 {
		info.ImageCount = 2
	}
	if info.Format == gpu.FormatUndefined {
		info.Format = gpu.FormatB8G8R8A8Srgb
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	sc := &swapchain{info: info}
	gpu.IfPanic(b.buildSwapchain(sc))
	h := gpu.Swapchain(b.newID())
	b.swapchains[h] = sc
	return h
}

// releaseSwapchainImages drops the image handles of sc.
// It must be called with b.mu held.
func (b *Backend) releaseSwapchainImages(sc *swapchain) {
	for _, h := range sc.images {
		b.destroyImage(b.images[h])
		delete(b.images, h)
	}
	sc.images = sc.images[:0]
}

// buildSwapchain creates or recreates the images of sc at its
// current extent. It must be called with b.mu held.
func (b *Backend) buildSwapchain(sc *swapchain) error {
	b.releaseSwapchainImages(sc)
	sc.outOfDate = false
	if b.opts.Surface == nil {
		for range sc.info.ImageCount {
			im, err := b.newImage(gpu.ImageCreateInfo{
				Format: sc.info.Format,
				Extent: sc.info.Extent,
				Usage:  gpu.ImageUsageColorAttachment | gpu.ImageUsageTransferDst | gpu.ImageUsageTransferSrc,
			})
			if err != nil {
				return err
			}
			im.swapchain = true
			h := gpu.Image(b.newID())
			b.images[h] = im
			sc.images = append(sc.images, h)
		}
		return nil
	}

	var caps vk.SurfaceCapabilities
	if err := NewError(vk.GetPhysicalDeviceSurfaceCapabilities(b.physical, b.opts.Surface, &caps)); err != nil {
		return err
	}
	caps.Deref()
	caps.CurrentExtent.Deref()
	extent := extent2D(sc.info.Extent)
	if caps.CurrentExtent.Width != vk.MaxUint32 {
		extent = caps.CurrentExtent
		sc.info.Extent = gpu.Extent2D{Width: extent.Width, Height: extent.Height}
	}
	count := max(sc.info.ImageCount, caps.MinImageCount)
	if caps.MaxImageCount > 0 {
		count = min(count, caps.MaxImageCount)
	}
	mode := vk.PresentModeMailbox
	if sc.info.VSync {
		mode = vk.PresentModeFifo
	}
	if !b.presentModeSupported(mode) {
		mode = vk.PresentModeFifo
	}
	preTransform := caps.CurrentTransform
	if vk.SurfaceTransformFlagBits(caps.SupportedTransforms)&vk.SurfaceTransformIdentityBit != 0 {
		preTransform = vk.SurfaceTransformIdentityBit
	}
	alpha := vk.CompositeAlphaOpaqueBit
	for _, a := range []vk.CompositeAlphaFlagBits{vk.CompositeAlphaOpaqueBit, vk.CompositeAlphaPreMultipliedBit, vk.CompositeAlphaPostMultipliedBit, vk.CompositeAlphaInheritBit} {
		if caps.SupportedCompositeAlpha&vk.CompositeAlphaFlags(a) != 0 {
			alpha = a
			break
		}
	}

	old := sc.handle
	var handle vk.Swapchain
	ret := vk.CreateSwapchain(b.device, &vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          b.opts.Surface,
		MinImageCount:    count,
		ImageFormat:      vkFormat(sc.info.Format),
		ImageColorSpace:  vk.ColorSpaceSrgbNonlinear,
		ImageExtent:      extent,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit),
		PreTransform:     preTransform,
		CompositeAlpha:   alpha,
		ImageArrayLayers: 1,
		ImageSharingMode: vk.SharingModeExclusive,
		PresentMode:      mode,
		OldSwapchain:     old,
		Clipped:          vk.True,
	}, nil, &handle)
	if err := NewError(ret); err != nil {
		return err
	}
	if old != vk.NullSwapchain {
		vk.DestroySwapchain(b.device, old, nil)
	}
	sc.handle = handle

	var n uint32
	if err := NewError(vk.GetSwapchainImages(b.device, handle, &n, nil)); err != nil {
		return err
	}
	imgs := make([]vk.Image, n)
	if err := NewError(vk.GetSwapchainImages(b.device, handle, &n, imgs)); err != nil {
		return err
	}
	info := gpu.ImageCreateInfo{Format: sc.info.Format, Extent: sc.info.Extent, Usage: gpu.ImageUsageColorAttachment | gpu.ImageUsageTransferDst, MipLevels: 1, Samples: 1}
	for _, img := range imgs {
		view, err := b.newImageView(img, info)
		if err != nil {
			return err
		}
		h := gpu.Image(b.newID())
		b.images[h] = &image{img: img, view: view, info: info, swapchain: true}
		sc.images = append(sc.images, h)
	}
	slog.Debug("vkgpu: swapchain built", "images", n, "extent", sc.info.Extent, "mode", mode)
	return nil
}

func (b *Backend) presentModeSupported(mode vk.PresentMode) bool {
	var n uint32
	vk.GetPhysicalDeviceSurfacePresentModes(b.physical, b.opts.Surface, &n, nil)
	modes := make([]vk.PresentMode, n)
	vk.GetPhysicalDeviceSurfacePresentModes(b.physical, b.opts.Surface, &n, modes)
	for _, m := range modes {
		if m == mode {
			return true
		}
	}
	return false
}

func (b *Backend) swapchain(h gpu.Swapchain) *swapchain {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sc, ok := b.swapchains[h]
	gpu.Assert(ok, "unknown swapchain %d", h)
	return sc
}

func (b *Backend) SwapchainResize(queue gpu.CommandQueue, h gpu.Swapchain, extent gpu.Extent2D) {
	b.DeviceWait()
	sc := b.swapchain(h)
	b.mu.Lock()
	defer b.mu.Unlock()
	sc.info.Extent = extent
	gpu.IfPanic(b.buildSwapchain(sc))
}

func (b *Backend) SwapchainAcquireImage(h gpu.Swapchain, sem gpu.Semaphore) (gpu.Image, error) {
	sc := b.swapchain(h)
	s := b.semaphore(sem)
	if sc.outOfDate || len(sc.images) == 0 {
		return 0, gpu.ErrOutOfDate
	}
	if sc.handle == nil {
		sc.current = (sc.current + 1) % uint32(len(sc.images))
		if s != nil {
			b.queueMu.Lock()
			defer b.queueMu.Unlock()
			q := b.queues[gpu.QueueGraphics].queue
			err := NewError(vk.QueueSubmit(q, 1, []vk.SubmitInfo{{
				SType:                vk.StructureTypeSubmitInfo,
				SignalSemaphoreCount: 1,
				PSignalSemaphores:    []vk.Semaphore{s},
			}}, nil))
			if err != nil {
				return 0, err
			}
		}
		return sc.images[sc.current], nil
	}
	var idx uint32
	switch ret := vk.AcquireNextImage(b.device, sc.handle, vk.MaxUint64, s, nil, &idx); ret {
	case vk.Success, vk.Suboptimal:
	case vk.ErrorOutOfDate:
		sc.outOfDate = true
		return 0, gpu.ErrOutOfDate
	default:
		return 0, NewError(ret)
	}
	sc.current = idx
	return sc.images[idx], nil
}

func (b *Backend) SwapchainExtent(h gpu.Swapchain) gpu.Extent2D {
	return b.swapchain(h).info.Extent
}

func (b *Backend) SwapchainFormat(h gpu.Swapchain) gpu.DataFormat {
	return b.swapchain(h).info.Format
}

func (b *Backend) SwapchainFree(h gpu.Swapchain) {
	if !h.IsValid() {
		return
	}
	sc := b.swapchain(h)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.releaseSwapchainImages(sc)
	if sc.handle != nil {
		vk.DestroySwapchain(b.device, sc.handle, nil)
	}
	delete(b.swapchains, h)
}

var errHasSurface = errors.New("vkgpu: swapchain presents to a surface")

// MarkOutOfDate forces the next acquire of an offscreen swapchain to
// fail until it is resized, as a window resize does for a real one.
func (b *Backend) MarkOutOfDate(h gpu.Swapchain) error {
	sc := b.swapchain(h)
	if sc.handle != nil {
		return errHasSurface
	}
	b.mu.Lock()
	sc.outOfDate = true
	b.mu.Unlock()
	return nil
}
