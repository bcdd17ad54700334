// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package softgpu

import (
	"log/slog"
	"sync"

	"github.com/lumen3d/lumen/gpu"
)

// swapchain is a ring of presentable images.
type swapchain struct {
	info   gpu.SwapchainCreateInfo
	images []gpu.Image

	mu        sync.Mutex
	next      int
	outOfDate bool
	presents  int
}

func (sc *swapchain) present() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return !sc.outOfDate
}

func (sc *swapchain) presented() {
	sc.mu.Lock()
	sc.presents++
	sc.mu.Unlock()
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
	gpu.IfPanic(b.buildSwapchainImages(sc))
	h := gpu.Swapchain(b.newID())
	b.swapchains[h] = sc
	return h
}

// buildSwapchainImages replaces the images of sc at its current extent.
// It must be called with b.mu held.
func (b *Backend) buildSwapchainImages(sc *swapchain) error {
	for _, h := range sc.images {
		b.unreserve(b.images[h].size())
		delete(b.images, h)
	}
	sc.images = sc.images[:0]
	sc.next = 0
	if sc.info.Extent.IsZero() {
		return nil
	}
	for range sc.info.ImageCount {
		im, err := b.newImage(gpu.ImageCreateInfo{Format: sc.info.Format, Extent: sc.info.Extent, Usage: gpu.ImageUsageColorAttachment | gpu.ImageUsageTransferDst})
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
	sc.mu.Lock()
	sc.info.Extent = extent
	sc.outOfDate = false
	sc.mu.Unlock()
	gpu.IfPanic(b.buildSwapchainImages(sc))
	slog.Debug("softgpu: swapchain resized", "width", extent.Width, "height", extent.Height)
}

// MarkOutOfDate makes the swapchain report [gpu.ErrOutOfDate] until it
// is resized, as a window system does when the surface changes size.
func (b *Backend) MarkOutOfDate(h gpu.Swapchain) {
	sc := b.swapchain(h)
	sc.mu.Lock()
	sc.outOfDate = true
	sc.mu.Unlock()
}

// Presents returns the number of images presented by the swapchain.
func (b *Backend) Presents(h gpu.Swapchain) int {
	sc := b.swapchain(h)
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.presents
}

func (b *Backend) SwapchainAcquireImage(h gpu.Swapchain, sem gpu.Semaphore) (gpu.Image, error) {
	sc := b.swapchain(h)
	s := b.semaphore(sem)
	b.mu.RLock()
	defer b.mu.RUnlock()
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.outOfDate || len(sc.images) == 0 {
		return 0, gpu.ErrOutOfDate
	}
	img := sc.images[sc.next]
	sc.next = (sc.next + 1) % len(sc.images)
	if s != nil {
		s.signal()
	}
	return img, nil
}

func (b *Backend) SwapchainExtent(h gpu.Swapchain) gpu.Extent2D {
	sc := b.swapchain(h)
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.info.Extent
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
	sc.info.Extent = gpu.Extent2D{}
	gpu.IfPanic(b.buildSwapchainImages(sc))
	delete(b.swapchains, h)
}
