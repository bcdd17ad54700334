// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vkgpu

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/lumen3d/lumen/gpu"
)

type commandPool struct {
	pool vk.CommandPool
	cmds []gpu.CommandBuffer
}

// commandBuffer holds the recording state that draws resolve against.
type commandBuffer struct {
	cmd       vk.CommandBuffer
	recording bool
	rendering bool
	pipeline  *pipeline
	push      [gpu.PushConstantsSize]byte
}

func (b *Backend) CommandPoolCreate(queue gpu.CommandQueue) gpu.CommandPool {
	b.queue(queue)
	var pool vk.CommandPool
	ret := vk.CreateCommandPool(b.device, &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
		QueueFamilyIndex: b.queueFamily,
	}, nil, &pool)
	if err := NewError(ret); err != nil {
		gpu.IfPanic(fmt.Errorf("%w: command pool: %w", gpu.ErrAllocation, err))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	h := gpu.CommandPool(b.newID())
	b.pools[h] = &commandPool{pool: pool}
	return h
}

func (b *Backend) commandPool(h gpu.CommandPool) *commandPool {
	p, ok := b.pools[h]
	gpu.Assert(ok, "unknown command pool %d", h)
	return p
}

// CommandPoolFree frees the pool and its command buffers,
// none of which may be pending.
func (b *Backend) CommandPoolFree(h gpu.CommandPool) {
	if !h.IsValid() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.commandPool(h)
	for _, c := range p.cmds {
		delete(b.cmds, c)
	}
	vk.DestroyCommandPool(b.device, p.pool, nil)
	delete(b.pools, h)
}

func (b *Backend) CommandPoolReset(h gpu.CommandPool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.commandPool(h)
	gpu.IfPanic(NewError(vk.ResetCommandPool(b.device, p.pool, 0)))
	for _, c := range p.cmds {
		*b.cmds[c] = commandBuffer{cmd: b.cmds[c].cmd}
	}
}

func (b *Backend) CommandPoolAllocate(h gpu.CommandPool) gpu.CommandBuffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.commandPool(h)
	cmds := make([]vk.CommandBuffer, 1)
	ret := vk.AllocateCommandBuffers(b.device, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        p.pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}, cmds)
	if err := NewError(ret); err != nil {
		gpu.IfPanic(fmt.Errorf("%w: command buffer: %w", gpu.ErrAllocation, err))
	}
	c := gpu.CommandBuffer(b.newID())
	b.cmds[c] = &commandBuffer{cmd: cmds[0]}
	p.cmds = append(p.cmds, c)
	return c
}

func (b *Backend) commandBuffer(h gpu.CommandBuffer) *commandBuffer {
	b.mu.RLock()
	defer b.mu.RUnlock()
	cb, ok := b.cmds[h]
	gpu.Assert(ok, "unknown command buffer %d", h)
	return cb
}

// recording returns the command buffer, which must be recording.
func (b *Backend) recording(h gpu.CommandBuffer) *commandBuffer {
	cb := b.commandBuffer(h)
	gpu.Assert(cb.recording, "command buffer %d is not recording", h)
	return cb
}

func (b *Backend) CommandBegin(h gpu.CommandBuffer) {
	cb := b.commandBuffer(h)
	gpu.Assert(!cb.recording, "command buffer %d is already recording", h)
	ret := vk.BeginCommandBuffer(cb.cmd, &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	})
	gpu.IfPanic(NewError(ret))
	cb.recording = true
}

func (b *Backend) CommandEnd(h gpu.CommandBuffer) {
	cb := b.recording(h)
	gpu.Assert(!cb.rendering, "command buffer %d ended inside a rendering scope", h)
	gpu.IfPanic(NewError(vk.EndCommandBuffer(cb.cmd)))
	cb.recording = false
	cb.pipeline = nil
}

func (b *Backend) CommandReset(h gpu.CommandBuffer) {
	cb := b.commandBuffer(h)
	gpu.IfPanic(NewError(vk.ResetCommandBuffer(cb.cmd, 0)))
	*cb = commandBuffer{cmd: cb.cmd}
}

func (b *Backend) CommandBeginRendering(h gpu.CommandBuffer, info gpu.RenderingInfo) {
	cb := b.recording(h)
	gpu.Assert(!cb.rendering, "nested rendering scope in command buffer %d", h)
	b.mu.Lock()
	color := b.image(info.Color)
	key := renderPassKey{color: vkFormat(color.info.Format), depth: vk.FormatUndefined, samples: max(color.info.Samples, 1)}
	fbKey := framebufferKey{color: color.view, extent: info.Extent}
	if info.Depth.IsValid() {
		depth := b.image(info.Depth)
		key.depth = vkFormat(depth.info.Format)
		fbKey.depth = depth.view
	}
	fbKey.pass = b.renderPass(key)
	fb := b.framebuffer(fbKey)
	b.mu.Unlock()

	clears := []vk.ClearValue{vk.NewClearValue(info.ClearColor[:])}
	if info.Depth.IsValid() {
		var dc vk.ClearValue
		dc.SetDepthStencil(info.ClearDepth, 0)
		clears = append(clears, dc)
	}
	vk.CmdBeginRenderPass(cb.cmd, &vk.RenderPassBeginInfo{
		SType:           vk.StructureTypeRenderPassBeginInfo,
		RenderPass:      fbKey.pass,
		Framebuffer:     fb,
		RenderArea:      vk.Rect2D{Extent: extent2D(info.Extent)},
		ClearValueCount: uint32(len(clears)),
		PClearValues:    clears,
	}, vk.SubpassContentsInline)
	cb.rendering = true
}

func (b *Backend) CommandEndRendering(h gpu.CommandBuffer) {
	cb := b.recording(h)
	gpu.Assert(cb.rendering, "end of rendering outside a rendering scope in command buffer %d", h)
	vk.CmdEndRenderPass(cb.cmd)
	cb.rendering = false
}

func (b *Backend) CommandSetViewport(h gpu.CommandBuffer, extent gpu.Extent2D) {
	cb := b.recording(h)
	vk.CmdSetViewport(cb.cmd, 0, 1, []vk.Viewport{{
		Width:    float32(extent.Width),
		Height:   float32(extent.Height),
		MaxDepth: 1,
	}})
	vk.CmdSetScissor(cb.cmd, 0, 1, []vk.Rect2D{{Extent: extent2D(extent)}})
}

func (b *Backend) CommandBindGraphicsPipeline(h gpu.CommandBuffer, pl gpu.Pipeline) {
	cb := b.recording(h)
	p := b.pipeline(pl)
	vk.CmdBindPipeline(cb.cmd, vk.PipelineBindPointGraphics, p.pl)
	cb.pipeline = p
}

func (b *Backend) CommandBindUniformSets(h gpu.CommandBuffer, pl gpu.Pipeline, firstSet uint32, sets ...gpu.UniformSet) {
	cb := b.recording(h)
	p := b.pipeline(pl)
	vsets := make([]vk.DescriptorSet, len(sets))
	b.mu.RLock()
	for i, s := range sets {
		us, ok := b.sets[s]
		if !ok {
			b.mu.RUnlock()
			panic(fmt.Errorf("%w: uniform set %d", gpu.ErrInvalidHandle, s))
		}
		vsets[i] = us.set
	}
	b.mu.RUnlock()
	vk.CmdBindDescriptorSets(cb.cmd, vk.PipelineBindPointGraphics, p.layout, firstSet, uint32(len(vsets)), vsets, 0, nil)
}

func (b *Backend) CommandPushConstants(h gpu.CommandBuffer, pl gpu.Pipeline, offset uint32, data []byte) {
	cb := b.recording(h)
	p := b.pipeline(pl)
	if len(data) == 0 {
		return
	}
	if int(offset) < len(cb.push) {
		copy(cb.push[offset:], data)
	}
	vk.CmdPushConstants(cb.cmd, p.layout, p.stages, offset, uint32(len(data)), unsafe.Pointer(&data[0]))
}

func (b *Backend) CommandBindIndexBuffer(h gpu.CommandBuffer, buf gpu.Buffer, offset uint64, it gpu.IndexType) {
	cb := b.recording(h)
	ib := b.bufferLocked(buf)
	gpu.Assert(ib.usage.Has(gpu.BufferUsageIndex), "buffer %d lacks index usage", buf)
	vk.CmdBindIndexBuffer(cb.cmd, ib.buf, vk.DeviceSize(offset), indexType(it))
}

// CommandDrawIndexed draws with the vertex buffer whose device address
// is in the last pushed constants.
func (b *Backend) CommandDrawIndexed(h gpu.CommandBuffer, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	cb := b.recording(h)
	gpu.Assert(cb.rendering, "draw outside a rendering scope in command buffer %d", h)
	gpu.Assert(cb.pipeline != nil, "draw without a bound pipeline in command buffer %d", h)
	pc, _ := gpu.DecodePushConstants(cb.push[:])
	b.mu.RLock()
	vh, ok := b.addresses[pc.VertexBuffer]
	var vb *buffer
	if ok {
		vb = b.buffers[vh]
	}
	b.mu.RUnlock()
	gpu.Assert(ok, "draw with unknown vertex buffer address %#x", pc.VertexBuffer)
	vk.CmdBindVertexBuffers(cb.cmd, 0, 1, []vk.Buffer{vb.buf}, []vk.DeviceSize{0})
	vk.CmdDrawIndexed(cb.cmd, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}

func (b *Backend) CommandCopyBuffer(h gpu.CommandBuffer, src, dst gpu.Buffer, regions ...gpu.BufferCopy) {
	cb := b.recording(h)
	gpu.Assert(!cb.rendering, "copy inside a rendering scope in command buffer %d", h)
	sb := b.bufferLocked(src)
	db := b.bufferLocked(dst)
	rs := make([]vk.BufferCopy, len(regions))
	for i, r := range regions {
		gpu.Assert(r.SrcOffset+r.Size <= sb.size && r.DstOffset+r.Size <= db.size, "copy region %d out of bounds", i)
		rs[i] = vk.BufferCopy{SrcOffset: vk.DeviceSize(r.SrcOffset), DstOffset: vk.DeviceSize(r.DstOffset), Size: vk.DeviceSize(r.Size)}
	}
	vk.CmdCopyBuffer(cb.cmd, sb.buf, db.buf, uint32(len(rs)), rs)
}

func (b *Backend) CommandCopyBufferToImage(h gpu.CommandBuffer, src gpu.Buffer, dst gpu.Image, regions ...gpu.BufferImageCopy) {
	cb := b.recording(h)
	gpu.Assert(!cb.rendering, "copy inside a rendering scope in command buffer %d", h)
	sb := b.bufferLocked(src)
	im := b.imageLocked(dst)
	rs := make([]vk.BufferImageCopy, len(regions))
	for i, r := range regions {
		gpu.Assert(r.MipLevel < im.info.MipLevels, "copy to mip level %d of image %d with %d levels", r.MipLevel, dst, im.info.MipLevels)
		rs[i] = vk.BufferImageCopy{
			BufferOffset: vk.DeviceSize(r.BufferOffset),
			ImageSubresource: vk.ImageSubresourceLayers{
				AspectMask: aspect(im.info.Format),
				MipLevel:   r.MipLevel,
				LayerCount: 1,
			},
			ImageExtent: vk.Extent3D{Width: r.Extent.Width, Height: r.Extent.Height, Depth: 1},
		}
	}
	vk.CmdCopyBufferToImage(cb.cmd, sb.buf, im.img, vk.ImageLayoutTransferDstOptimal, uint32(len(rs)), rs)
}

// access returns the access mask and pipeline stage of a layout.
func access(l gpu.ImageLayout) (vk.AccessFlagBits, vk.PipelineStageFlagBits) {
	switch l {
	case gpu.LayoutTransferDst:
		return vk.AccessTransferWriteBit, vk.PipelineStageTransferBit
	case gpu.LayoutTransferSrc:
		return vk.AccessTransferReadBit, vk.PipelineStageTransferBit
	case gpu.LayoutColorAttachment:
		return vk.AccessColorAttachmentWriteBit | vk.AccessColorAttachmentReadBit, vk.PipelineStageColorAttachmentOutputBit
	case gpu.LayoutDepthAttachment:
		return vk.AccessDepthStencilAttachmentWriteBit | vk.AccessDepthStencilAttachmentReadBit, vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit
	case gpu.LayoutShaderReadOnly:
		return vk.AccessShaderReadBit, vk.PipelineStageFragmentShaderBit
	case gpu.LayoutPresent:
		return 0, vk.PipelineStageBottomOfPipeBit
	case gpu.LayoutGeneral:
		return vk.AccessShaderReadBit | vk.AccessShaderWriteBit, vk.PipelineStageAllCommandsBit
	}
	return 0, vk.PipelineStageTopOfPipeBit
}

func (b *Backend) CommandTransitionImage(h gpu.CommandBuffer, img gpu.Image, from, to gpu.ImageLayout) {
	cb := b.recording(h)
	gpu.Assert(!cb.rendering, "image transition inside a rendering scope in command buffer %d", h)
	im := b.imageLocked(img)
	srcAccess, srcStage := access(from)
	dstAccess, dstStage := access(to)
	vk.CmdPipelineBarrier(cb.cmd, vk.PipelineStageFlags(srcStage), vk.PipelineStageFlags(dstStage), 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       vk.AccessFlags(srcAccess),
		DstAccessMask:       vk.AccessFlags(dstAccess),
		OldLayout:           layouts[from],
		NewLayout:           layouts[to],
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               im.img,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: aspect(im.info.Format),
			LevelCount: im.info.MipLevels,
			LayerCount: 1,
		},
	}})
}
