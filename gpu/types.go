// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gpu

import (
	"encoding/binary"
	"math"
)

// Extent2D is a size in pixels.
type Extent2D struct {
	Width  uint32
	Height uint32
}

// Aspect returns width / height, or 1 for an empty extent.
func (e Extent2D) Aspect() float32 {
	if e.Width == 0 || e.Height == 0 {
		return 1
	}
	return float32(e.Width) / float32(e.Height)
}

// IsZero returns whether either dimension is zero,
// as happens for a minimized window.
func (e Extent2D) IsZero() bool {
	return e.Width == 0 || e.Height == 0
}

// BufferCopy is one region of a buffer to buffer copy.
type BufferCopy struct {
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

// BufferImageCopy is one region of a buffer to image copy,
// where the buffer holds tightly packed texels for the mip level.
type BufferImageCopy struct {
	BufferOffset uint64
	MipLevel     uint32
	Extent       Extent2D
}

// ImageCreateInfo describes an image to create.
type ImageCreateInfo struct {
	Format    DataFormat
	Extent    Extent2D
	Usage     ImageUsage
	MipLevels uint32
	Samples   uint32
}

// SamplerCreateInfo describes a texture sampler.
type SamplerCreateInfo struct {
	MinFilter   Filter
	MagFilter   Filter
	AddressMode AddressMode
	MaxLOD      float32
}

// UniformBinding declares one binding of a uniform set layout.
type UniformBinding struct {
	Binding uint32
	Type    UniformType
	Stages  ShaderStage
}

// ShaderLayout declares the resource interface of a shader module:
// the bindings of each uniform set by set index, and the size
// of the push constant block.
type ShaderLayout struct {
	Sets             [][]UniformBinding
	PushConstantSize uint32
}

// Binding returns the declared binding in the given set, if any.
func (sl *ShaderLayout) Binding(set, binding uint32) (UniformBinding, bool) {
	if int(set) >= len(sl.Sets) {
		return UniformBinding{}, false
	}
	for _, b := range sl.Sets[set] {
		if b.Binding == binding {
			return b, true
		}
	}
	return UniformBinding{}, false
}

// Uniform is one resource bound into a uniform set.
// Buffer is used for buffer types; Image and Sampler for texture types.
type Uniform struct {
	Type    UniformType
	Binding uint32
	Buffer  Buffer
	Image   Image
	Sampler Sampler
}

// BufferUniform returns a uniform buffer binding.
func BufferUniform(binding uint32, buf Buffer) Uniform {
	return Uniform{Type: UniformBuffer, Binding: binding, Buffer: buf}
}

// TextureUniform returns a combined image sampler binding.
func TextureUniform(binding uint32, img Image, smp Sampler) Uniform {
	return Uniform{Type: UniformSamplerWithTexture, Binding: binding, Image: img, Sampler: smp}
}

// PipelineOptions are the fixed function states of a graphics pipeline.
type PipelineOptions struct {
	DepthTest    bool      `yaml:"depth_test"`
	DepthWrite   bool      `yaml:"depth_write"`
	DepthCompare CompareOp `yaml:"depth_compare"`
	Blend        bool      `yaml:"blend"`
	Topology     Topology  `yaml:"topology"`
	Cull         CullMode  `yaml:"cull"`
}

// Defaults sets opaque depth-tested triangle rendering.
func (po *PipelineOptions) Defaults() {
	po.DepthTest = true
	po.DepthWrite = true
	po.DepthCompare = CompareLessOrEqual
	po.Blend = false
	po.Topology = TopologyTriangleList
	po.Cull = CullBack
}

// PipelineCreateInfo describes a graphics pipeline.
type PipelineCreateInfo struct {
	Shader        Shader
	VertexEntry   string
	FragmentEntry string
	ColorFormat   DataFormat
	DepthFormat   DataFormat
	Samples       uint32
	Options       PipelineOptions
}

// SwapchainCreateInfo describes a swapchain.
type SwapchainCreateInfo struct {
	Extent     Extent2D
	Format     DataFormat
	ImageCount uint32
	VSync      bool
}

// RenderingInfo describes the attachments of a rendering scope.
type RenderingInfo struct {
	Color      Image
	Depth      Image
	Extent     Extent2D
	ClearColor [4]float32
	ClearDepth float32
}

// PushConstants is the per draw block pushed to mesh shaders.
type PushConstants struct {

	// Transform is the world matrix of the object, column major.
	Transform [16]float32

	// VertexBuffer is the device address of the vertex buffer.
	VertexBuffer DeviceAddress
}

// PushConstantsSize is the size of [PushConstants] in bytes.
const PushConstantsSize = 16*4 + 8

// Bytes returns the little endian encoding of the push constants.
func (pc *PushConstants) Bytes() []byte {
	b := make([]byte, PushConstantsSize)
	for i, v := range pc.Transform {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	binary.LittleEndian.PutUint64(b[64:], uint64(pc.VertexBuffer))
	return b
}

// DecodePushConstants decodes the encoding made by [PushConstants.Bytes].
func DecodePushConstants(b []byte) (PushConstants, bool) {
	var pc PushConstants
	if len(b) < PushConstantsSize {
		return pc, false
	}
	for i := range pc.Transform {
		pc.Transform[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	pc.VertexBuffer = DeviceAddress(binary.LittleEndian.Uint64(b[64:]))
	return pc, true
}
