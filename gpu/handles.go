// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gpu

// Handles are opaque identifiers for resources owned by a [Backend].
// The zero value of every handle type is the null handle.
// A handle is only meaningful to the backend that created it.
type (
	Buffer        uint64
	Image         uint64
	Sampler       uint64
	Shader        uint64
	Pipeline      uint64
	UniformSet    uint64
	CommandBuffer uint64
	CommandPool   uint64
	CommandQueue  uint64
	Fence         uint64
	Semaphore     uint64
	Swapchain     uint64
	RenderPass    uint64
	FrameBuffer   uint64
)

// DeviceAddress is a GPU virtual address of a buffer, as read by
// shaders that pull vertex data through push constants.
type DeviceAddress uint64

func (h Buffer) IsValid() bool        { return h != 0 }
func (h Image) IsValid() bool         { return h != 0 }
func (h Sampler) IsValid() bool       { return h != 0 }
func (h Shader) IsValid() bool        { return h != 0 }
func (h Pipeline) IsValid() bool      { return h != 0 }
func (h UniformSet) IsValid() bool    { return h != 0 }
func (h CommandBuffer) IsValid() bool { return h != 0 }
func (h CommandPool) IsValid() bool   { return h != 0 }
func (h CommandQueue) IsValid() bool  { return h != 0 }
func (h Fence) IsValid() bool         { return h != 0 }
func (h Semaphore) IsValid() bool     { return h != 0 }
func (h Swapchain) IsValid() bool     { return h != 0 }
