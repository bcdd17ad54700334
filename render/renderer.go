// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package render drives frames: the [Renderer] cycles the per frame
// command buffers and synchronization objects of the frames in flight
// and presents to the swapchain, and the [MeshPass] records the draws
// of a scene graph.
package render

import (
	"log/slog"

	"github.com/lumen3d/lumen/base/errors"
	"github.com/lumen3d/lumen/config"
	"github.com/lumen3d/lumen/gpu"
	"github.com/lumen3d/lumen/scene"
)

// ErrMinimized is returned by [Renderer.BeginFrame] while the surface
// has a zero extent, as when the window is minimized.
var ErrMinimized = errors.New("render: surface minimized")

// Options configure a [Renderer].
type Options struct {
	FramesInFlight int
	Extent         gpu.Extent2D
	VSync          bool
	ClearColor     [4]float32
	ColorFormat    gpu.DataFormat

	// DepthFormat is the format of the depth attachment,
	// or undefined for none.
	DepthFormat gpu.DataFormat
}

// Defaults sets the options from the default engine [config.Config].
func (o *Options) Defaults() {
	o.FromConfig(config.New())
}

// FromConfig sets the options from the engine configuration.
func (o *Options) FromConfig(cfg *config.Config) {
	o.FramesInFlight = cfg.FramesInFlight
	o.Extent = gpu.Extent2D{Width: uint32(cfg.Width), Height: uint32(cfg.Height)}
	o.VSync = cfg.VSync
	o.ClearColor = cfg.ClearColor
	o.ColorFormat = gpu.FormatB8G8R8A8Srgb
	o.DepthFormat = gpu.FormatD32Sfloat
}

// FrameData is the state of one frame in flight. It is reused once
// RenderFence signals that the GPU has finished the frame.
type FrameData struct {
	CommandPool gpu.CommandPool
	Cmd         gpu.CommandBuffer

	// RenderFence signals when the frame commands have executed.
	RenderFence gpu.Fence

	// ImageAvailable is signaled by swapchain acquisition.
	ImageAvailable gpu.Semaphore

	// RenderFinished is signaled by the frame submission and
	// waited on by presentation.
	RenderFinished gpu.Semaphore

	// Deletion holds destructors run when the frame is next begun.
	Deletion gpu.DeletionQueue
}

// Frame is a frame being recorded, between [Renderer.BeginFrame]
// and [Renderer.EndFrame].
type Frame struct {

	// Index is the frame in flight slot.
	Index int

	// Number counts frames begun since the renderer was created.
	Number uint64

	Cmd    gpu.CommandBuffer
	Image  gpu.Image
	Extent gpu.Extent2D
}

// Aspect returns the aspect ratio of the frame.
func (f *Frame) Aspect() float32 { return f.Extent.Aspect() }

// Renderer owns the swapchain and the frames in flight. It is used
// from the render thread only.
type Renderer struct {
	backend   gpu.Backend
	opts      Options
	queue     gpu.CommandQueue
	swapchain gpu.Swapchain
	depth     gpu.Image
	extent    gpu.Extent2D

	frames   []FrameData
	frameNum uint64
	current  *Frame
	deletion gpu.DeletionQueue
	stats    Stats
}

// New creates the swapchain and the frames in flight.
func New(b gpu.Backend, opts *Options) *Renderer {
	r := &Renderer{backend: b, opts: *opts, extent: opts.Extent}
	if r.opts.FramesInFlight < 1 {
		r.opts.FramesInFlight = 1
	}
	r.queue = b.QueueGet(gpu.QueueGraphics)
	r.swapchain = b.SwapchainCreate(gpu.SwapchainCreateInfo{
		Extent:     opts.Extent,
		Format:     opts.ColorFormat,
		ImageCount: uint32(r.opts.FramesInFlight + 1),
		VSync:      opts.VSync,
	})
	r.createDepth()
	r.frames = make([]FrameData, r.opts.FramesInFlight)
	for i := range r.frames {
		fd := &r.frames[i]
		fd.CommandPool = b.CommandPoolCreate(r.queue)
		fd.Cmd = b.CommandPoolAllocate(fd.CommandPool)
		fd.RenderFence = b.FenceCreate()
		fd.ImageAvailable = b.SemaphoreCreate()
		fd.RenderFinished = b.SemaphoreCreate()
	}
	slog.Debug("render: renderer created", "frames", len(r.frames), "width", r.extent.Width, "height", r.extent.Height)
	return r
}

func (r *Renderer) createDepth() {
	if r.opts.DepthFormat == gpu.FormatUndefined || r.extent.IsZero() {
		return
	}
	r.depth = r.backend.ImageCreate(gpu.ImageCreateInfo{
		Format: r.opts.DepthFormat,
		Extent: r.extent,
		Usage:  gpu.ImageUsageDepthAttachment,
	})
}

// Backend returns the backend rendered with.
func (r *Renderer) Backend() gpu.Backend { return r.backend }

// Swapchain returns the swapchain presented to.
func (r *Renderer) Swapchain() gpu.Swapchain { return r.swapchain }

// Extent returns the current surface extent.
func (r *Renderer) Extent() gpu.Extent2D { return r.extent }

// FramesInFlight returns the number of frames in flight.
func (r *Renderer) FramesInFlight() int { return len(r.frames) }

// FrameData returns the state of the given frame in flight slot.
func (r *Renderer) FrameData(i int) *FrameData { return &r.frames[i] }

// Stats returns the statistics accumulated by [Renderer.Render].
func (r *Renderer) Stats() Stats { return r.stats }

// SetClearColor sets the color frames are cleared to.
func (r *Renderer) SetClearColor(c [4]float32) { r.opts.ClearColor = c }

// BeginFrame waits for the GPU to finish the previous use of the next
// frame slot, runs its deferred destructors, acquires a swapchain image
// and begins recording inside a rendering scope cleared to the clear
// color. If the swapchain is out of date it is rebuilt and
// [gpu.ErrOutOfDate] is returned; the caller skips the frame.
func (r *Renderer) BeginFrame() (*Frame, error) {
	gpu.Assert(r.current == nil, "BeginFrame called twice without EndFrame")
	if r.extent.IsZero() {
		return nil, ErrMinimized
	}
	b := r.backend
	idx := int(r.frameNum % uint64(len(r.frames)))
	fd := &r.frames[idx]
	b.FenceWait(fd.RenderFence)
	fd.Deletion.Flush()

	img, err := b.SwapchainAcquireImage(r.swapchain, fd.ImageAvailable)
	if err != nil {
		if errors.Is(err, gpu.ErrOutOfDate) {
			slog.Info("render: swapchain out of date, rebuilding")
			r.rebuild()
		}
		return nil, err
	}
	// only reset once work that signals the fence is certain to be submitted
	b.FenceReset(fd.RenderFence)
	b.CommandPoolReset(fd.CommandPool)

	cmd := fd.Cmd
	b.CommandBegin(cmd)
	b.CommandTransitionImage(cmd, img, gpu.LayoutUndefined, gpu.LayoutColorAttachment)
	if r.depth.IsValid() {
		b.CommandTransitionImage(cmd, r.depth, gpu.LayoutUndefined, gpu.LayoutDepthAttachment)
	}
	b.CommandBeginRendering(cmd, gpu.RenderingInfo{
		Color:      img,
		Depth:      r.depth,
		Extent:     r.extent,
		ClearColor: r.opts.ClearColor,
		ClearDepth: 1,
	})
	b.CommandSetViewport(cmd, r.extent)

	r.current = &Frame{Index: idx, Number: r.frameNum, Cmd: cmd, Image: img, Extent: r.extent}
	r.frameNum++
	return r.current, nil
}

// EndFrame ends recording, submits the frame and presents it. If
// presentation finds the swapchain out of date it is rebuilt and
// [gpu.ErrOutOfDate] is returned; the frame was still executed.
func (r *Renderer) EndFrame() error {
	f := r.current
	gpu.Assert(f != nil, "EndFrame called without BeginFrame")
	r.current = nil
	b := r.backend
	fd := &r.frames[f.Index]

	b.CommandEndRendering(f.Cmd)
	b.CommandTransitionImage(f.Cmd, f.Image, gpu.LayoutColorAttachment, gpu.LayoutPresent)
	b.CommandEnd(f.Cmd)
	b.QueueSubmit(r.queue, f.Cmd, fd.RenderFence, fd.ImageAvailable, fd.RenderFinished)
	if !b.QueuePresent(r.queue, r.swapchain, fd.RenderFinished) {
		slog.Info("render: present found swapchain out of date, rebuilding")
		r.rebuild()
		return gpu.ErrOutOfDate
	}
	return nil
}

// Render draws one frame of the pass. Skipped frames return the error
// of [Renderer.BeginFrame] or [MeshPass.Execute].
func (r *Renderer) Render(pass *MeshPass) (Stats, error) {
	f, err := r.BeginFrame()
	if err != nil {
		return Stats{}, err
	}
	st, err := pass.Execute(f.Cmd, f.Aspect())
	if err != nil && !errors.Is(err, scene.ErrNoGraph) {
		errors.Log(err)
	}
	if err == nil {
		st.Frames = 1
	}
	// the frame is submitted even when nothing was drawn,
	// so the acquired image and semaphores are consumed
	if eerr := r.EndFrame(); eerr != nil && err == nil {
		err = eerr
	}
	r.stats.Add(st)
	return st, err
}

// Resize sets the surface extent, as notified by the window, and
// rebuilds the swapchain and depth image. A zero extent suspends
// rendering until the next nonzero resize.
func (r *Renderer) Resize(width, height int) {
	e := gpu.Extent2D{Width: uint32(max(width, 0)), Height: uint32(max(height, 0))}
	if e == r.extent {
		return
	}
	r.extent = e
	if e.IsZero() {
		return
	}
	r.rebuild()
}

// rebuild recreates the swapchain images and the depth image at the
// current extent, under a device idle barrier.
func (r *Renderer) rebuild() {
	b := r.backend
	b.SwapchainResize(r.queue, r.swapchain, r.extent)
	b.ImageFree(r.depth)
	r.depth = 0
	r.createDepth()
}

// Defer runs fn when the GPU has finished the frame being recorded, or
// at shutdown if no frame is being recorded. It is used to free
// resources that recorded commands may still reference.
func (r *Renderer) Defer(fn func()) {
	if r.current == nil {
		r.deletion.Push(fn)
		return
	}
	r.frames[r.current.Index].Deletion.Push(fn)
}

// Shutdown waits for the device to be idle, runs all deferred destructors
// and frees the frames, depth image and swapchain.
func (r *Renderer) Shutdown() {
	b := r.backend
	b.DeviceWait()
	for i := range r.frames {
		fd := &r.frames[i]
		fd.Deletion.Flush()
		b.CommandPoolFree(fd.CommandPool)
		b.FenceFree(fd.RenderFence)
		b.SemaphoreFree(fd.ImageAvailable)
		b.SemaphoreFree(fd.RenderFinished)
	}
	r.frames = nil
	r.deletion.Flush()
	b.ImageFree(r.depth)
	b.SwapchainFree(r.swapchain)
	r.depth, r.swapchain = 0, 0
}
