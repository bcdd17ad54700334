// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vkgpu

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/lumen3d/lumen/gpu"
)

func (b *Backend) FenceCreate() gpu.Fence {
	var f vk.Fence
	ret := vk.CreateFence(b.device, &vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
		Flags: vk.FenceCreateFlags(vk.FenceCreateSignaledBit),
	}, nil, &f)
	if err := NewError(ret); err != nil {
		gpu.IfPanic(fmt.Errorf("%w: fence: %w", gpu.ErrAllocation, err))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	h := gpu.Fence(b.newID())
	b.fences[h] = f
	return h
}

func (b *Backend) fence(h gpu.Fence) vk.Fence {
	b.mu.RLock()
	defer b.mu.RUnlock()
	f, ok := b.fences[h]
	gpu.Assert(ok, "unknown fence %d", h)
	return f
}

func (b *Backend) FenceFree(h gpu.Fence) {
	if !h.IsValid() {
		return
	}
	f := b.fence(h)
	b.mu.Lock()
	defer b.mu.Unlock()
	vk.DestroyFence(b.device, f, nil)
	delete(b.fences, h)
}

func (b *Backend) FenceWait(h gpu.Fence) {
	f := b.fence(h)
	gpu.IfPanic(NewError(vk.WaitForFences(b.device, 1, []vk.Fence{f}, vk.True, vk.MaxUint64)))
}

func (b *Backend) FenceReset(h gpu.Fence) {
	f := b.fence(h)
	gpu.IfPanic(NewError(vk.ResetFences(b.device, 1, []vk.Fence{f})))
}

// FenceSignaled returns whether the fence is signaled, without blocking.
func (b *Backend) FenceSignaled(h gpu.Fence) bool {
	return vk.GetFenceStatus(b.device, b.fence(h)) == vk.Success
}

func (b *Backend) SemaphoreCreate() gpu.Semaphore {
	var s vk.Semaphore
	ret := vk.CreateSemaphore(b.device, &vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}, nil, &s)
	if err := NewError(ret); err != nil {
		gpu.IfPanic(fmt.Errorf("%w: semaphore: %w", gpu.ErrAllocation, err))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	h := gpu.Semaphore(b.newID())
	b.semaphores[h] = s
	return h
}

// semaphore returns the semaphore, or nil for the null handle.
func (b *Backend) semaphore(h gpu.Semaphore) vk.Semaphore {
	if !h.IsValid() {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.semaphores[h]
	gpu.Assert(ok, "unknown semaphore %d", h)
	return s
}

func (b *Backend) SemaphoreFree(h gpu.Semaphore) {
	if !h.IsValid() {
		return
	}
	s := b.semaphore(h)
	b.mu.Lock()
	defer b.mu.Unlock()
	vk.DestroySemaphore(b.device, s, nil)
	delete(b.semaphores, h)
}

// queue is a logical queue. All of them share the one device queue.
type queue struct {
	qt     gpu.QueueType
	handle gpu.CommandQueue
	queue  vk.Queue
}

func (b *Backend) QueueGet(qt gpu.QueueType) gpu.CommandQueue {
	gpu.Assert(qt >= 0 && qt < gpu.QueueTypesN, "invalid queue type %v", qt)
	return b.queues[qt].handle
}

func (b *Backend) queue(h gpu.CommandQueue) *queue {
	for _, q := range b.queues {
		if q.handle == h {
			return q
		}
	}
	panic(fmt.Errorf("%w: queue %d", gpu.ErrInvalidHandle, h))
}

func (b *Backend) QueueSubmit(queue gpu.CommandQueue, cmd gpu.CommandBuffer, fence gpu.Fence, wait, signal gpu.Semaphore) {
	q := b.queue(queue)
	info := vk.SubmitInfo{SType: vk.StructureTypeSubmitInfo}
	if cmd.IsValid() {
		cb := b.commandBuffer(cmd)
		gpu.Assert(!cb.recording, "submit of command buffer %d while recording", cmd)
		info.CommandBufferCount = 1
		info.PCommandBuffers = []vk.CommandBuffer{cb.cmd}
	}
	if s := b.semaphore(wait); s != nil {
		info.WaitSemaphoreCount = 1
		info.PWaitSemaphores = []vk.Semaphore{s}
		info.PWaitDstStageMask = []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageTransferBit)}
	}
	if s := b.semaphore(signal); s != nil {
		info.SignalSemaphoreCount = 1
		info.PSignalSemaphores = []vk.Semaphore{s}
	}
	var f vk.Fence
	if fence.IsValid() {
		f = b.fence(fence)
	}
	b.queueMu.Lock()
	defer b.queueMu.Unlock()
	gpu.IfPanic(NewError(vk.QueueSubmit(q.queue, 1, []vk.SubmitInfo{info}, f)))
}

func (b *Backend) QueuePresent(queue gpu.CommandQueue, sc gpu.Swapchain, wait gpu.Semaphore) bool {
	q := b.queue(queue)
	swc := b.swapchain(sc)
	sem := b.semaphore(wait)
	b.queueMu.Lock()
	defer b.queueMu.Unlock()
	if swc.handle == nil {
		// offscreen ring: consume the semaphore so it can be signaled again
		info := vk.SubmitInfo{SType: vk.StructureTypeSubmitInfo}
		if sem != nil {
			info.WaitSemaphoreCount = 1
			info.PWaitSemaphores = []vk.Semaphore{sem}
			info.PWaitDstStageMask = []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit)}
		}
		gpu.IfPanic(NewError(vk.QueueSubmit(q.queue, 1, []vk.SubmitInfo{info}, nil)))
		return !swc.outOfDate
	}
	pi := &vk.PresentInfo{
		SType:          vk.StructureTypePresentInfo,
		SwapchainCount: 1,
		PSwapchains:    []vk.Swapchain{swc.handle},
		PImageIndices:  []uint32{swc.current},
	}
	if sem != nil {
		pi.WaitSemaphoreCount = 1
		pi.PWaitSemaphores = []vk.Semaphore{sem}
	}
	switch ret := vk.QueuePresent(q.queue, pi); ret {
	case vk.Success:
		return true
	case vk.Suboptimal, vk.ErrorOutOfDate:
		swc.outOfDate = true
		return false
	default:
		gpu.IfPanic(NewError(ret))
	}
	return false
}

func (b *Backend) CommandImmediateSubmit(fn func(cmd gpu.CommandBuffer)) {
	b.immMu.Lock()
	defer b.immMu.Unlock()
	b.FenceReset(b.immFence)
	b.CommandReset(b.immCmd)
	b.CommandBegin(b.immCmd)
	fn(b.immCmd)
	b.CommandEnd(b.immCmd)
	b.QueueSubmit(b.queues[gpu.QueueGraphics].handle, b.immCmd, b.immFence, 0, 0)
	b.FenceWait(b.immFence)
}
