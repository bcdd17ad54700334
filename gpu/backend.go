// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package gpu defines the render backend contract: opaque resource handles
and the [Backend] interface through which all GPU resources are created,
commands are recorded and work is submitted and presented.

It also provides the infrastructure shared by backend implementations:
the growable [DescriptorAllocator], the [BlockPool] sub-allocator for
small device-local buffers, and the [DeletionQueue].

# Lifetime and synchronization

Every handle is owned by exactly one structure and must be released
explicitly with the matching Free call. A resource must not be freed while
a submitted command buffer that references it may still execute: callers
either call [Backend.DeviceWait] first or defer the free through a
[DeletionQueue] flushed after the frame fence has signaled.

Creation failures are not recoverable mid frame, so creation calls panic
with an error wrapping [ErrAllocation] or the backend error; see [IfPanic].
*/
package gpu

// Backend is a graphics API backend. One implementation is selected at
// startup and all other components only use this interface.
//
// Except for queue submission, which is serialized per queue, backends
// are not safe for concurrent use and are driven from the render thread.
type Backend interface {

	// DeviceWait blocks until all submitted work on all queues has completed.
	DeviceWait()

	// Shutdown releases the device. All resources must be freed first.
	Shutdown()

	// BufferCreate creates a buffer. CPU buffers are host visible and
	// coherent; GPU buffers are device local and small ones may be
	// sub-allocated from shared blocks.
	BufferCreate(size uint64, usage BufferUsage, alloc AllocationType) Buffer

	// BufferFree releases the buffer.
	BufferFree(buf Buffer)

	// BufferMap returns the contents of a CPU buffer. The slice must not
	// be used after [Backend.BufferUnmap], which must always follow.
	BufferMap(buf Buffer) []byte

	// BufferUnmap ends access to the mapped contents.
	BufferUnmap(buf Buffer)

	// BufferSize returns the size of the buffer in bytes.
	BufferSize(buf Buffer) uint64

	// BufferDeviceAddress returns the GPU address of the buffer.
	BufferDeviceAddress(buf Buffer) DeviceAddress

	ImageCreate(info ImageCreateInfo) Image
	ImageFree(img Image)
	ImageExtent(img Image) Extent2D
	ImageFormat(img Image) DataFormat

	SamplerCreate(info SamplerCreateInfo) Sampler
	SamplerFree(smp Sampler)

	// ShaderCreateFromBytecode creates a shader module from compiled
	// bytecode with the given resource layout.
	ShaderCreateFromBytecode(code []byte, layout ShaderLayout) Shader
	ShaderFree(sh Shader)

	PipelineCreate(info PipelineCreateInfo) Pipeline
	PipelineFree(pl Pipeline)

	// UniformSetCreate allocates a uniform set for the given set index of
	// the shader layout, binding the given resources.
	UniformSetCreate(uniforms []Uniform, shader Shader, setIndex uint32) UniformSet
	UniformSetFree(set UniformSet)

	// FenceCreate returns a new fence in the signaled state.
	FenceCreate() Fence
	FenceFree(f Fence)

	// FenceWait blocks until the fence is signaled. There is no timeout.
	FenceWait(f Fence)

	// FenceReset returns the fence to the unsignaled state.
	FenceReset(f Fence)

	// SemaphoreCreate returns a semaphore for ordering GPU work
	// between submissions. Semaphores are never waited on by the host.
	SemaphoreCreate() Semaphore
	SemaphoreFree(s Semaphore)

	SwapchainCreate(info SwapchainCreateInfo) Swapchain

	// SwapchainResize rebuilds the swapchain images at the given extent.
	// It waits for the device to be idle first.
	SwapchainResize(queue CommandQueue, sc Swapchain, extent Extent2D)

	// SwapchainAcquireImage returns the next image to render to, signaling
	// sem when it is ready. It returns [ErrOutOfDate] when the swapchain
	// must be resized before rendering can continue.
	SwapchainAcquireImage(sc Swapchain, sem Semaphore) (Image, error)

	SwapchainExtent(sc Swapchain) Extent2D
	SwapchainFormat(sc Swapchain) DataFormat
	SwapchainFree(sc Swapchain)

	// QueueGet returns the queue of the given type.
	QueueGet(qt QueueType) CommandQueue

	// QueueSubmit submits the command buffer. Execution waits on wait,
	// and signals signal and then fence on completion. Null handles are
	// ignored. Submissions to one queue are serialized.
	QueueSubmit(queue CommandQueue, cmd CommandBuffer, fence Fence, wait, signal Semaphore)

	// QueuePresent presents the last acquired image after wait is
	// signaled. It returns false if the swapchain is out of date.
	QueuePresent(queue CommandQueue, sc Swapchain, wait Semaphore) bool

	CommandPoolCreate(queue CommandQueue) CommandPool
	CommandPoolFree(pool CommandPool)
	CommandPoolReset(pool CommandPool)
	CommandPoolAllocate(pool CommandPool) CommandBuffer

	CommandBegin(cmd CommandBuffer)
	CommandEnd(cmd CommandBuffer)
	CommandReset(cmd CommandBuffer)

	// CommandImmediateSubmit records commands with fn into a dedicated
	// command buffer, submits it and blocks until it has completed.
	// It is for one-shot uploads, not for the per-frame path.
	CommandImmediateSubmit(fn func(cmd CommandBuffer))

	CommandBeginRendering(cmd CommandBuffer, info RenderingInfo)
	CommandEndRendering(cmd CommandBuffer)
	CommandSetViewport(cmd CommandBuffer, extent Extent2D)
	CommandBindGraphicsPipeline(cmd CommandBuffer, pl Pipeline)
	CommandBindUniformSets(cmd CommandBuffer, pl Pipeline, firstSet uint32, sets ...UniformSet)
	CommandPushConstants(cmd CommandBuffer, pl Pipeline, offset uint32, data []byte)
	CommandBindIndexBuffer(cmd CommandBuffer, buf Buffer, offset uint64, it IndexType)
	CommandDrawIndexed(cmd CommandBuffer, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)
	CommandCopyBuffer(cmd CommandBuffer, src, dst Buffer, regions ...BufferCopy)
	CommandCopyBufferToImage(cmd CommandBuffer, src Buffer, dst Image, regions ...BufferImageCopy)
	CommandTransitionImage(cmd CommandBuffer, img Image, from, to ImageLayout)
}

// Upload copies data into a new device-local buffer through a CPU staging
// buffer and an immediate submit, returning the new buffer.
func Upload(b Backend, data []byte, usage BufferUsage) Buffer {
	size := uint64(len(data))
	buf := b.BufferCreate(size, usage|BufferUsageTransferDst, AllocationGPU)
	staging := b.BufferCreate(size, BufferUsageTransferSrc, AllocationCPU)
	copy(b.BufferMap(staging), data)
	b.BufferUnmap(staging)
	b.CommandImmediateSubmit(func(cmd CommandBuffer) {
		b.CommandCopyBuffer(cmd, staging, buf, BufferCopy{Size: size})
	})
	b.BufferFree(staging)
	return buf
}

// WriteBuffer copies data into a CPU buffer at the given offset.
func WriteBuffer(b Backend, buf Buffer, offset uint64, data []byte) {
	mem := b.BufferMap(buf)
	defer b.BufferUnmap(buf)
	Assert(offset+uint64(len(data)) <= uint64(len(mem)), "write of %d bytes at %d overflows buffer of %d", len(data), offset, len(mem))
	copy(mem[offset:], data)
}
