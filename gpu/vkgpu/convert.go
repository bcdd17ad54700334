// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vkgpu

import (
	vk "github.com/goki/vulkan"
	"github.com/lumen3d/lumen/gpu"
)

var formats = map[gpu.DataFormat]vk.Format{
	gpu.FormatUndefined:          vk.FormatUndefined,
	gpu.FormatR8Unorm:            vk.FormatR8Unorm,
	gpu.FormatR8G8B8A8Unorm:      vk.FormatR8g8b8a8Unorm,
	gpu.FormatR8G8B8A8Srgb:       vk.FormatR8g8b8a8Srgb,
	gpu.FormatB8G8R8A8Unorm:      vk.FormatB8g8r8a8Unorm,
	gpu.FormatB8G8R8A8Srgb:       vk.FormatB8g8r8a8Srgb,
	gpu.FormatR16G16B16A16Sfloat: vk.FormatR16g16b16a16Sfloat,
	gpu.FormatR32G32B32A32Sfloat: vk.FormatR32g32b32a32Sfloat,
	gpu.FormatD32Sfloat:          vk.FormatD32Sfloat,
	gpu.FormatD24UnormS8Uint:     vk.FormatD24UnormS8Uint,
}

// vkFormat returns the Vulkan format for f.
func vkFormat(f gpu.DataFormat) vk.Format {
	vf, ok := formats[f]
	gpu.Assert(ok, "unsupported format %d", f)
	return vf
}

// dataFormat returns the format for a Vulkan format, or
// [gpu.FormatUndefined] if it has none.
func dataFormat(vf vk.Format) gpu.DataFormat {
	for f, v := range formats {
		if v == vf {
			return f
		}
	}
	return gpu.FormatUndefined
}

func bufferUsage(u gpu.BufferUsage) vk.BufferUsageFlags {
	var f vk.BufferUsageFlagBits
	if u.Has(gpu.BufferUsageTransferSrc) {
		f |= vk.BufferUsageTransferSrcBit
	}
	if u.Has(gpu.BufferUsageTransferDst) {
		f |= vk.BufferUsageTransferDstBit
	}
	if u.Has(gpu.BufferUsageUniform) {
		f |= vk.BufferUsageUniformBufferBit
	}
	if u.Has(gpu.BufferUsageStorage) {
		f |= vk.BufferUsageStorageBufferBit
	}
	if u.Has(gpu.BufferUsageIndex) {
		f |= vk.BufferUsageIndexBufferBit
	}
	if u.Has(gpu.BufferUsageVertex) {
		f |= vk.BufferUsageVertexBufferBit
	}
	if u.Has(gpu.BufferUsageIndirect) {
		f |= vk.BufferUsageIndirectBufferBit
	}
	// addressed buffers are bound as vertex buffers at draw time
	if u.Has(gpu.BufferUsageDeviceAddress) {
		f |= vk.BufferUsageVertexBufferBit | vk.BufferUsageStorageBufferBit
	}
	return vk.BufferUsageFlags(f)
}

func imageUsage(u gpu.ImageUsage) vk.ImageUsageFlags {
	var f vk.ImageUsageFlagBits
	if u&gpu.ImageUsageTransferSrc != 0 {
		f |= vk.ImageUsageTransferSrcBit
	}
	if u&gpu.ImageUsageTransferDst != 0 {
		f |= vk.ImageUsageTransferDstBit
	}
	if u&gpu.ImageUsageSampled != 0 {
		f |= vk.ImageUsageSampledBit
	}
	if u&gpu.ImageUsageStorage != 0 {
		f |= vk.ImageUsageStorageBit
	}
	if u&gpu.ImageUsageColorAttachment != 0 {
		f |= vk.ImageUsageColorAttachmentBit
	}
	if u&gpu.ImageUsageDepthAttachment != 0 {
		f |= vk.ImageUsageDepthStencilAttachmentBit
	}
	return vk.ImageUsageFlags(f)
}

var layouts = map[gpu.ImageLayout]vk.ImageLayout{
	gpu.LayoutUndefined:       vk.ImageLayoutUndefined,
	gpu.LayoutGeneral:         vk.ImageLayoutGeneral,
	gpu.LayoutColorAttachment: vk.ImageLayoutColorAttachmentOptimal,
	gpu.LayoutDepthAttachment: vk.ImageLayoutDepthStencilAttachmentOptimal,
	gpu.LayoutShaderReadOnly:  vk.ImageLayoutShaderReadOnlyOptimal,
	gpu.LayoutTransferSrc:     vk.ImageLayoutTransferSrcOptimal,
	gpu.LayoutTransferDst:     vk.ImageLayoutTransferDstOptimal,
	gpu.LayoutPresent:         vk.ImageLayoutPresentSrc,
}

func aspect(f gpu.DataFormat) vk.ImageAspectFlags {
	switch f {
	case gpu.FormatD32Sfloat:
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	case gpu.FormatD24UnormS8Uint:
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit | vk.ImageAspectStencilBit)
	}
	return vk.ImageAspectFlags(vk.ImageAspectColorBit)
}

func shaderStages(s gpu.ShaderStage) vk.ShaderStageFlags {
	var f vk.ShaderStageFlagBits
	if s&gpu.StageVertex != 0 {
		f |= vk.ShaderStageVertexBit
	}
	if s&gpu.StageFragment != 0 {
		f |= vk.ShaderStageFragmentBit
	}
	if s&gpu.StageCompute != 0 {
		f |= vk.ShaderStageComputeBit
	}
	return vk.ShaderStageFlags(f)
}

var descriptorTypes = [gpu.UniformTypesN]vk.DescriptorType{
	gpu.UniformBuffer:             vk.DescriptorTypeUniformBuffer,
	gpu.UniformStorageBuffer:      vk.DescriptorTypeStorageBuffer,
	gpu.UniformSampler:            vk.DescriptorTypeSampler,
	gpu.UniformTexture:            vk.DescriptorTypeSampledImage,
	gpu.UniformSamplerWithTexture: vk.DescriptorTypeCombinedImageSampler,
	gpu.UniformImage:              vk.DescriptorTypeStorageImage,
}

var topologies = map[gpu.Topology]vk.PrimitiveTopology{
	gpu.TopologyTriangleList:  vk.PrimitiveTopologyTriangleList,
	gpu.TopologyTriangleStrip: vk.PrimitiveTopologyTriangleStrip,
	gpu.TopologyLineList:      vk.PrimitiveTopologyLineList,
	gpu.TopologyPointList:     vk.PrimitiveTopologyPointList,
}

var cullModes = map[gpu.CullMode]vk.CullModeFlagBits{
	gpu.CullNone:  vk.CullModeNone,
	gpu.CullFront: vk.CullModeFrontBit,
	gpu.CullBack:  vk.CullModeBackBit,
}

// compareOp relies on [gpu.CompareOp] having the Vulkan order.
func compareOp(c gpu.CompareOp) vk.CompareOp {
	return vk.CompareOp(c)
}

func filter(f gpu.Filter) vk.Filter {
	if f == gpu.FilterNearest {
		return vk.FilterNearest
	}
	return vk.FilterLinear
}

func addressMode(m gpu.AddressMode) vk.SamplerAddressMode {
	switch m {
	case gpu.AddressMirroredRepeat:
		return vk.SamplerAddressModeMirroredRepeat
	case gpu.AddressClampToEdge:
		return vk.SamplerAddressModeClampToEdge
	}
	return vk.SamplerAddressModeRepeat
}

func indexType(it gpu.IndexType) vk.IndexType {
	if it == gpu.IndexUint16 {
		return vk.IndexTypeUint16
	}
	return vk.IndexTypeUint32
}

func sampleCount(n uint32) vk.SampleCountFlagBits {
	switch n {
	case 2:
		return vk.SampleCount2Bit
	case 4:
		return vk.SampleCount4Bit
	case 8:
		return vk.SampleCount8Bit
	}
	return vk.SampleCount1Bit
}

func extent2D(e gpu.Extent2D) vk.Extent2D {
	return vk.Extent2D{Width: e.Width, Height: e.Height}
}
