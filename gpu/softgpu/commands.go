// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package softgpu

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/lumen3d/lumen/gpu"
)

func errorf(format string, args ...any) error {
	return fmt.Errorf("softgpu: "+format, args...)
}

type cmdState int32

const (
	cmdInitial cmdState = iota
	cmdRecording
	cmdExecutable
	cmdPending
)

func (s cmdState) String() string {
	switch s {
	case cmdInitial:
		return "initial"
	case cmdRecording:
		return "recording"
	case cmdExecutable:
		return "executable"
	case cmdPending:
		return "pending"
	}
	return fmt.Sprintf("cmdState(%d)", int32(s))
}

type commandPool struct {
	queue *queue
	cmds  []gpu.CommandBuffer
}

type commandBuffer struct {
	handle gpu.CommandBuffer
	pool   gpu.CommandPool

	mu       sync.Mutex
	state    cmdState
	commands []func(ex *exec) error
}

func (cb *commandBuffer) getState() cmdState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *commandBuffer) setState(s cmdState) {
	cb.mu.Lock()
	cb.state = s
	cb.mu.Unlock()
}

// exec is the state of one command buffer execution.
type exec struct {
	b         *Backend
	rendering bool
	extent    gpu.Extent2D
	pipeline  gpu.Pipeline
	sets      map[uint32]gpu.UniformSet
	push      []byte
	index     gpu.Buffer
	indexOff  uint64
	indexType gpu.IndexType
}

func (b *Backend) CommandPoolCreate(queue gpu.CommandQueue) gpu.CommandPool {
	q := b.queue(queue)
	b.mu.Lock()
	defer b.mu.Unlock()
	h := gpu.CommandPool(b.newID())
	b.pools[h] = &commandPool{queue: q}
	return h
}

func (b *Backend) commandPool(h gpu.CommandPool) *commandPool {
	p, ok := b.pools[h]
	gpu.Assert(ok, "unknown command pool %d", h)
	return p
}

func (b *Backend) CommandPoolFree(h gpu.CommandPool) {
	if !h.IsValid() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.commandPool(h)
	for _, c := range p.cmds {
		cb := b.cmds[c]
		gpu.Assert(cb.getState() != cmdPending, "free of pool %d with pending command buffer %d", h, c)
		delete(b.cmds, c)
	}
	delete(b.pools, h)
}

func (b *Backend) CommandPoolReset(h gpu.CommandPool) {
	b.mu.RLock()
	p := b.commandPool(h)
	cmds := append([]gpu.CommandBuffer(nil), p.cmds...)
	b.mu.RUnlock()
	for _, c := range cmds {
		b.CommandReset(c)
	}
}

func (b *Backend) CommandPoolAllocate(h gpu.CommandPool) gpu.CommandBuffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.commandPool(h)
	c := gpu.CommandBuffer(b.newID())
	b.cmds[c] = &commandBuffer{handle: c, pool: h}
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

func (b *Backend) CommandBegin(h gpu.CommandBuffer) {
	cb := b.commandBuffer(h)
	cb.mu.Lock()
	defer cb.mu.Unlock()
	gpu.Assert(cb.state == cmdInitial || cb.state == cmdExecutable, "begin of command buffer %d in state %v", h, cb.state)
	cb.state = cmdRecording
	cb.commands = cb.commands[:0]
}

func (b *Backend) CommandEnd(h gpu.CommandBuffer) {
	cb := b.commandBuffer(h)
	cb.mu.Lock()
	defer cb.mu.Unlock()
	gpu.Assert(cb.state == cmdRecording, "end of command buffer %d in state %v", h, cb.state)
	cb.state = cmdExecutable
}

func (b *Backend) CommandReset(h gpu.CommandBuffer) {
	cb := b.commandBuffer(h)
	cb.mu.Lock()
	defer cb.mu.Unlock()
	gpu.Assert(cb.state != cmdPending, "reset of pending command buffer %d", h)
	cb.state = cmdInitial
	cb.commands = nil
}

// record appends a command to a command buffer in the recording state.
func (b *Backend) record(h gpu.CommandBuffer, fn func(ex *exec) error) {
	cb := b.commandBuffer(h)
	cb.mu.Lock()
	defer cb.mu.Unlock()
	gpu.Assert(cb.state == cmdRecording, "command recorded into command buffer %d in state %v", h, cb.state)
	cb.commands = append(cb.commands, fn)
}

// live asserts at record time that all the given checks pass.
func (b *Backend) live(checks ...func() bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, c := range checks {
		gpu.Assert(c(), "command uses a freed or unknown handle")
	}
}

func has[K comparable, V any](m map[K]V, k K) func() bool {
	return func() bool {
		_, ok := m[k]
		return ok
	}
}

func (b *Backend) CommandBeginRendering(h gpu.CommandBuffer, info gpu.RenderingInfo) {
	b.live(has(b.images, info.Color))
	if info.Depth.IsValid() {
		b.live(has(b.images, info.Depth))
	}
	b.record(h, func(ex *exec) error {
		if ex.rendering {
			return errorf("nested rendering scope")
		}
		col, err := ex.b.lookupImage(info.Color)
		if err != nil {
			return err
		}
		clearImage(col, info.ClearColor)
		if info.Depth.IsValid() {
			dep, err := ex.b.lookupImage(info.Depth)
			if err != nil {
				return err
			}
			clearImage(dep, [4]float32{info.ClearDepth})
		}
		ex.rendering = true
		ex.extent = info.Extent
		return nil
	})
}

// clearImage fills the first mip level of im with the clear value.
func clearImage(im *image, c [4]float32) {
	var px []byte
	unorm := func(v float32) byte { return byte(math.Round(float64(min(max(v, 0), 1)) * 255)) }
	switch im.info.Format {
	case gpu.FormatR8G8B8A8Unorm, gpu.FormatR8G8B8A8Srgb:
		px = []byte{unorm(c[0]), unorm(c[1]), unorm(c[2]), unorm(c[3])}
	case gpu.FormatB8G8R8A8Unorm, gpu.FormatB8G8R8A8Srgb:
		px = []byte{unorm(c[2]), unorm(c[1]), unorm(c[0]), unorm(c[3])}
	case gpu.FormatD32Sfloat:
		px = binary.LittleEndian.AppendUint32(nil, math.Float32bits(c[0]))
	default:
		return
	}
	m := im.mips[0]
	for i := 0; i+len(px) <= len(m); i += len(px) {
		copy(m[i:], px)
	}
}

func (b *Backend) CommandEndRendering(h gpu.CommandBuffer) {
	b.record(h, func(ex *exec) error {
		if !ex.rendering {
			return errorf("end of rendering outside a rendering scope")
		}
		ex.rendering = false
		return nil
	})
}

func (b *Backend) CommandSetViewport(h gpu.CommandBuffer, extent gpu.Extent2D) {
	b.record(h, func(ex *exec) error {
		ex.extent = extent
		return nil
	})
}

func (b *Backend) CommandBindGraphicsPipeline(h gpu.CommandBuffer, pl gpu.Pipeline) {
	b.live(has(b.pipelines, pl))
	b.record(h, func(ex *exec) error {
		if _, err := ex.b.lookupPipeline(pl); err != nil {
			return err
		}
		ex.pipeline = pl
		clear(ex.sets)
		ex.b.stats.binds.Add(1)
		return nil
	})
}

func (b *Backend) CommandBindUniformSets(h gpu.CommandBuffer, pl gpu.Pipeline, firstSet uint32, sets ...gpu.UniformSet) {
	checks := []func() bool{has(b.pipelines, pl)}
	for _, s := range sets {
		checks = append(checks, has(b.sets, s))
	}
	b.live(checks...)
	sets = append([]gpu.UniformSet(nil), sets...)
	b.record(h, func(ex *exec) error {
		if ex.pipeline != pl {
			return errorf("uniform sets bound for pipeline %d while %d is bound", pl, ex.pipeline)
		}
		for i, s := range sets {
			us, err := ex.b.lookupSet(s)
			if err != nil {
				return err
			}
			if us.index != firstSet+uint32(i) {
				return errorf("uniform set %d for set index %d bound at %d", s, us.index, firstSet+uint32(i))
			}
			ex.sets[firstSet+uint32(i)] = s
		}
		return nil
	})
}

func (b *Backend) CommandPushConstants(h gpu.CommandBuffer, pl gpu.Pipeline, offset uint32, data []byte) {
	b.live(has(b.pipelines, pl))
	data = append([]byte(nil), data...)
	b.record(h, func(ex *exec) error {
		p, err := ex.b.lookupPipeline(pl)
		if err != nil {
			return err
		}
		end := offset + uint32(len(data))
		if end > p.layout.PushConstantSize {
			return errorf("push constants [%d, %d) exceed the %d bytes of pipeline %d", offset, end, p.layout.PushConstantSize, pl)
		}
		if len(ex.push) < int(end) {
			ex.push = append(ex.push, make([]byte, int(end)-len(ex.push))...)
		}
		copy(ex.push[offset:], data)
		return nil
	})
}

func (b *Backend) CommandBindIndexBuffer(h gpu.CommandBuffer, buf gpu.Buffer, offset uint64, it gpu.IndexType) {
	b.live(has(b.buffers, buf))
	b.record(h, func(ex *exec) error {
		ib, err := ex.b.lookupBuffer(buf)
		if err != nil {
			return err
		}
		if !ib.usage.Has(gpu.BufferUsageIndex) {
			return errorf("buffer %d bound as index buffer without index usage", buf)
		}
		ex.index, ex.indexOff, ex.indexType = buf, offset, it
		return nil
	})
}

func (b *Backend) CommandDrawIndexed(h gpu.CommandBuffer, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	b.record(h, func(ex *exec) error {
		return ex.drawIndexed(indexCount, instanceCount, firstIndex)
	})
}

func (ex *exec) drawIndexed(indexCount, instanceCount, firstIndex uint32) error {
	if !ex.rendering {
		return errorf("draw outside a rendering scope")
	}
	if !ex.pipeline.IsValid() {
		return errorf("draw without a bound pipeline")
	}
	pl, err := ex.b.lookupPipeline(ex.pipeline)
	if err != nil {
		return err
	}
	for si := range pl.layout.Sets {
		s, ok := ex.sets[uint32(si)]
		if !ok {
			if len(pl.layout.Sets[si]) > 0 {
				return errorf("draw without uniform set %d bound", si)
			}
			continue
		}
		if _, err := ex.b.lookupSet(s); err != nil {
			return err
		}
	}
	if !ex.index.IsValid() {
		return errorf("draw without a bound index buffer")
	}
	ib, err := ex.b.lookupBuffer(ex.index)
	if err != nil {
		return err
	}
	end := ex.indexOff + uint64(firstIndex+indexCount)*uint64(ex.indexType.Bytes())
	if end > uint64(len(ib.data)) {
		return errorf("draw of %d indices from %d overruns index buffer %d", indexCount, firstIndex, ex.index)
	}
	rec := DrawRecord{Pipeline: ex.pipeline, IndexBuffer: ex.index, IndexCount: indexCount}
	if pl.layout.PushConstantSize >= gpu.PushConstantsSize {
		pc, ok := gpu.DecodePushConstants(ex.push)
		if !ok {
			return errorf("draw without push constants")
		}
		vb, err := ex.b.lookupAddress(pc.VertexBuffer)
		if err != nil {
			return err
		}
		rec.Transform, rec.VertexBuffer = pc.Transform, vb
	}
	ex.b.stats.draws.Add(1)
	ex.b.stats.indices.Add(int64(indexCount) * int64(max(instanceCount, 1)))
	if ex.b.opts.RecordDraws {
		for i := range uint32(len(pl.layout.Sets)) {
			if s, ok := ex.sets[i]; ok {
				rec.Sets = append(rec.Sets, s)
			}
		}
		ex.b.drawMu.Lock()
		ex.b.draws = append(ex.b.draws, rec)
		ex.b.drawMu.Unlock()
	}
	return nil
}

func (b *Backend) CommandCopyBuffer(h gpu.CommandBuffer, src, dst gpu.Buffer, regions ...gpu.BufferCopy) {
	b.live(has(b.buffers, src), has(b.buffers, dst))
	regions = append([]gpu.BufferCopy(nil), regions...)
	b.record(h, func(ex *exec) error {
		sb, err := ex.b.lookupBuffer(src)
		if err != nil {
			return err
		}
		db, err := ex.b.lookupBuffer(dst)
		if err != nil {
			return err
		}
		for _, r := range regions {
			if r.SrcOffset+r.Size > uint64(len(sb.data)) || r.DstOffset+r.Size > uint64(len(db.data)) {
				return errorf("copy of %d bytes from buffer %d to %d out of range", r.Size, src, dst)
			}
			copy(db.data[r.DstOffset:r.DstOffset+r.Size], sb.data[r.SrcOffset:])
		}
		ex.b.stats.copies.Add(1)
		return nil
	})
}

func (b *Backend) CommandCopyBufferToImage(h gpu.CommandBuffer, src gpu.Buffer, dst gpu.Image, regions ...gpu.BufferImageCopy) {
	b.live(has(b.buffers, src), has(b.images, dst))
	regions = append([]gpu.BufferImageCopy(nil), regions...)
	b.record(h, func(ex *exec) error {
		sb, err := ex.b.lookupBuffer(src)
		if err != nil {
			return err
		}
		im, err := ex.b.lookupImage(dst)
		if err != nil {
			return err
		}
		if im.layout != gpu.LayoutTransferDst {
			return errorf("copy to image %d in layout %v", dst, im.layout)
		}
		for _, r := range regions {
			if int(r.MipLevel) >= len(im.mips) {
				return errorf("copy to missing mip level %d of image %d", r.MipLevel, dst)
			}
			if mipExtent(im.info.Extent, r.MipLevel) != r.Extent {
				return errorf("copy extent %v does not match mip level %d of image %d", r.Extent, r.MipLevel, dst)
			}
			m := im.mips[r.MipLevel]
			if r.BufferOffset+uint64(len(m)) > uint64(len(sb.data)) {
				return errorf("copy of mip level %d from buffer %d out of range", r.MipLevel, src)
			}
			copy(m, sb.data[r.BufferOffset:])
		}
		ex.b.stats.copies.Add(1)
		return nil
	})
}

func (b *Backend) CommandTransitionImage(h gpu.CommandBuffer, img gpu.Image, from, to gpu.ImageLayout) {
	b.live(has(b.images, img))
	b.record(h, func(ex *exec) error {
		im, err := ex.b.lookupImage(img)
		if err != nil {
			return err
		}
		ex.b.mu.Lock()
		defer ex.b.mu.Unlock()
		if from != gpu.LayoutUndefined && im.layout != from {
			return errorf("transition of image %d from %v while in %v", img, from, im.layout)
		}
		im.layout = to
		return nil
	})
}
