// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vkgpu

import (
	"encoding/binary"
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/lumen3d/lumen/gpu"
)

// VertexStride is the size of one vertex as read by the vertex input
// stage: a position and u coordinate, then a normal and v coordinate.
const VertexStride = 32

type shader struct {
	module     vk.ShaderModule
	layout     gpu.ShaderLayout
	setLayouts []vk.DescriptorSetLayout
	plLayout   vk.PipelineLayout
}

type pipeline struct {
	pl     vk.Pipeline
	layout vk.PipelineLayout
	stages vk.ShaderStageFlags
	pass   vk.RenderPass
	info   gpu.PipelineCreateInfo
}

type uniformSet struct {
	set  vk.DescriptorSet
	pool vk.DescriptorPool
}

// poolDriver implements [gpu.PoolDriver] over Vulkan descriptor pools.
type poolDriver struct {
	b *Backend
}

func (d poolDriver) CreatePool(maxSets int) vk.DescriptorPool {
	n := uint32(maxSets)
	sizes := []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeUniformBuffer, DescriptorCount: 2 * n},
		{Type: vk.DescriptorTypeStorageBuffer, DescriptorCount: n},
		{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: 4 * n},
		{Type: vk.DescriptorTypeSampledImage, DescriptorCount: n},
		{Type: vk.DescriptorTypeSampler, DescriptorCount: n},
		{Type: vk.DescriptorTypeStorageImage, DescriptorCount: n},
	}
	var pool vk.DescriptorPool
	ret := vk.CreateDescriptorPool(d.b.device, &vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
		MaxSets:       n,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}, nil, &pool)
	if err := NewError(ret); err != nil {
		gpu.IfPanic(fmt.Errorf("%w: descriptor pool of %d sets: %w", gpu.ErrAllocation, maxSets, err))
	}
	return pool
}

func (d poolDriver) ResetPool(pool vk.DescriptorPool) {
	vk.ResetDescriptorPool(d.b.device, pool, 0)
}

func (d poolDriver) DestroyPool(pool vk.DescriptorPool) {
	vk.DestroyDescriptorPool(d.b.device, pool, nil)
}

// spirvWords decodes little endian SPIR-V bytecode into words.
func spirvWords(code []byte) []uint32 {
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	return words
}

func (b *Backend) ShaderCreateFromBytecode(code []byte, layout gpu.ShaderLayout) gpu.Shader {
	gpu.Assert(len(code) > 0 && len(code)%4 == 0, "shader bytecode of %d bytes is not SPIR-V", len(code))
	sh := &shader{layout: layout}
	ret := vk.CreateShaderModule(b.device, &vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(code)),
		PCode:    spirvWords(code),
	}, nil, &sh.module)
	gpu.IfPanic(NewError(ret))

	for _, set := range layout.Sets {
		binds := make([]vk.DescriptorSetLayoutBinding, len(set))
		for i, ub := range set {
			binds[i] = vk.DescriptorSetLayoutBinding{
				Binding:         ub.Binding,
				DescriptorType:  descriptorTypes[ub.Type],
				DescriptorCount: 1,
				StageFlags:      shaderStages(ub.Stages),
			}
		}
		var dsl vk.DescriptorSetLayout
		ret := vk.CreateDescriptorSetLayout(b.device, &vk.DescriptorSetLayoutCreateInfo{
			SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
			BindingCount: uint32(len(binds)),
			PBindings:    binds,
		}, nil, &dsl)
		gpu.IfPanic(NewError(ret), func() { b.destroyShader(sh) })
		sh.setLayouts = append(sh.setLayouts, dsl)
	}

	var ranges []vk.PushConstantRange
	if layout.PushConstantSize > 0 {
		ranges = append(ranges, vk.PushConstantRange{
			StageFlags: shaderStages(gpu.StageAllGraphics),
			Size:       layout.PushConstantSize,
		})
	}
	ret = vk.CreatePipelineLayout(b.device, &vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         uint32(len(sh.setLayouts)),
		PSetLayouts:            sh.setLayouts,
		PushConstantRangeCount: uint32(len(ranges)),
		PPushConstantRanges:    ranges,
	}, nil, &sh.plLayout)
	gpu.IfPanic(NewError(ret), func() { b.destroyShader(sh) })

	b.mu.Lock()
	defer b.mu.Unlock()
	h := gpu.Shader(b.newID())
	b.shaders[h] = sh
	return h
}

func (b *Backend) destroyShader(sh *shader) {
	if sh.plLayout != nil {
		vk.DestroyPipelineLayout(b.device, sh.plLayout, nil)
	}
	for _, dsl := range sh.setLayouts {
		vk.DestroyDescriptorSetLayout(b.device, dsl, nil)
	}
	vk.DestroyShaderModule(b.device, sh.module, nil)
}

func (b *Backend) shader(h gpu.Shader) *shader {
	sh, ok := b.shaders[h]
	gpu.Assert(ok, "unknown shader %d", h)
	return sh
}

// ShaderFree frees the shader. Pipelines and uniform sets made from it
// must be freed first.
func (b *Backend) ShaderFree(h gpu.Shader) {
	if !h.IsValid() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.destroyShader(b.shader(h))
	delete(b.shaders, h)
}

func (b *Backend) PipelineCreate(info gpu.PipelineCreateInfo) gpu.Pipeline {
	b.mu.Lock()
	defer b.mu.Unlock()
	sh := b.shader(info.Shader)
	if info.VertexEntry == "" {
		info.VertexEntry = "main"
	}
	if info.FragmentEntry == "" {
		info.FragmentEntry = "main"
	}
	if info.Samples == 0 {
		info.Samples = 1
	}
	pass := b.renderPass(renderPassKey{
		color:   vkFormat(info.ColorFormat),
		depth:   vkFormat(info.DepthFormat),
		samples: info.Samples,
	})
	opts := info.Options
	stages := []vk.PipelineShaderStageCreateInfo{
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageVertexBit,
			Module: sh.module,
			PName:  safeString(info.VertexEntry),
		},
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageFragmentBit,
			Module: sh.module,
			PName:  safeString(info.FragmentEntry),
		},
	}
	dynamic := []vk.DynamicState{vk.DynamicStateViewport, vk.DynamicStateScissor}
	blend := vk.PipelineColorBlendAttachmentState{
		BlendEnable:         vk.False,
		SrcColorBlendFactor: vk.BlendFactorOne,
		DstColorBlendFactor: vk.BlendFactorZero,
		ColorBlendOp:        vk.BlendOpAdd,
		SrcAlphaBlendFactor: vk.BlendFactorOne,
		DstAlphaBlendFactor: vk.BlendFactorZero,
		AlphaBlendOp:        vk.BlendOpAdd,
		ColorWriteMask:      vk.ColorComponentFlags(vk.ColorComponentRBit | vk.ColorComponentGBit | vk.ColorComponentBBit | vk.ColorComponentABit),
	}
	if opts.Blend {
		blend.BlendEnable = vk.True
		blend.SrcColorBlendFactor = vk.BlendFactorSrcAlpha
		blend.DstColorBlendFactor = vk.BlendFactorOneMinusSrcAlpha
		blend.DstAlphaBlendFactor = vk.BlendFactorOneMinusSrcAlpha
	}
	ci := vk.GraphicsPipelineCreateInfo{
		SType:      vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount: uint32(len(stages)),
		PStages:    stages,
		PVertexInputState: &vk.PipelineVertexInputStateCreateInfo{
			SType:                         vk.StructureTypePipelineVertexInputStateCreateInfo,
			VertexBindingDescriptionCount: 1,
			PVertexBindingDescriptions: []vk.VertexInputBindingDescription{{
				Binding:   0,
				Stride:    VertexStride,
				InputRate: vk.VertexInputRateVertex,
			}},
			VertexAttributeDescriptionCount: 2,
			PVertexAttributeDescriptions: []vk.VertexInputAttributeDescription{
				{Location: 0, Binding: 0, Format: vk.FormatR32g32b32a32Sfloat, Offset: 0},
				{Location: 1, Binding: 0, Format: vk.FormatR32g32b32a32Sfloat, Offset: 16},
			},
		},
		PInputAssemblyState: &vk.PipelineInputAssemblyStateCreateInfo{
			SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
			Topology: topologies[opts.Topology],
		},
		PViewportState: &vk.PipelineViewportStateCreateInfo{
			SType:         vk.StructureTypePipelineViewportStateCreateInfo,
			ViewportCount: 1,
			ScissorCount:  1,
		},
		PRasterizationState: &vk.PipelineRasterizationStateCreateInfo{
			SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
			PolygonMode: vk.PolygonModeFill,
			CullMode:    vk.CullModeFlags(cullModes[opts.Cull]),
			FrontFace:   vk.FrontFaceCounterClockwise,
			LineWidth:   1.0,
		},
		PMultisampleState: &vk.PipelineMultisampleStateCreateInfo{
			SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
			RasterizationSamples: sampleCount(info.Samples),
			MinSampleShading:     1.0,
		},
		PColorBlendState: &vk.PipelineColorBlendStateCreateInfo{
			SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
			LogicOp:         vk.LogicOpCopy,
			AttachmentCount: 1,
			PAttachments:    []vk.PipelineColorBlendAttachmentState{blend},
		},
		PDynamicState: &vk.PipelineDynamicStateCreateInfo{
			SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
			DynamicStateCount: uint32(len(dynamic)),
			PDynamicStates:    dynamic,
		},
		Layout:            sh.plLayout,
		RenderPass:        pass,
		BasePipelineIndex: -1,
	}
	if info.DepthFormat != gpu.FormatUndefined {
		ci.PDepthStencilState = &vk.PipelineDepthStencilStateCreateInfo{
			SType:            vk.StructureTypePipelineDepthStencilStateCreateInfo,
			DepthTestEnable:  vkBool(opts.DepthTest),
			DepthWriteEnable: vkBool(opts.DepthWrite),
			DepthCompareOp:   compareOp(opts.DepthCompare),
			MaxDepthBounds:   1,
		}
	}
	pls := make([]vk.Pipeline, 1)
	ret := vk.CreateGraphicsPipelines(b.device, nil, 1, []vk.GraphicsPipelineCreateInfo{ci}, nil, pls)
	if err := NewError(ret); err != nil {
		gpu.IfPanic(fmt.Errorf("%w: pipeline: %w", gpu.ErrAllocation, err))
	}
	h := gpu.Pipeline(b.newID())
	b.pipelines[h] = &pipeline{pl: pls[0], layout: sh.plLayout, stages: shaderStages(gpu.StageAllGraphics), pass: pass, info: info}
	return h
}

func vkBool(v bool) vk.Bool32 {
	if v {
		return vk.True
	}
	return vk.False
}

func (b *Backend) pipeline(h gpu.Pipeline) *pipeline {
	b.mu.RLock()
	defer b.mu.RUnlock()
	pl, ok := b.pipelines[h]
	gpu.Assert(ok, "unknown pipeline %d", h)
	return pl
}

func (b *Backend) PipelineFree(h gpu.Pipeline) {
	if !h.IsValid() {
		return
	}
	pl := b.pipeline(h)
	b.mu.Lock()
	defer b.mu.Unlock()
	vk.DestroyPipeline(b.device, pl.pl, nil)
	delete(b.pipelines, h)
}

func (b *Backend) UniformSetCreate(uniforms []gpu.Uniform, shader gpu.Shader, setIndex uint32) gpu.UniformSet {
	b.mu.Lock()
	defer b.mu.Unlock()
	sh := b.shader(shader)
	gpu.Assert(int(setIndex) < len(sh.setLayouts), "shader %d has no uniform set %d", shader, setIndex)

	us := &uniformSet{}
	pool, err := b.descriptors.Allocate(func(pool vk.DescriptorPool) error {
		ret := vk.AllocateDescriptorSets(b.device, &vk.DescriptorSetAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetAllocateInfo,
			DescriptorPool:     pool,
			DescriptorSetCount: 1,
			PSetLayouts:        []vk.DescriptorSetLayout{sh.setLayouts[setIndex]},
		}, &us.set)
		switch ret {
		case vk.ErrorOutOfPoolMemory, vk.ErrorFragmentedPool:
			return gpu.ErrPoolExhausted
		}
		return NewError(ret)
	})
	if err != nil {
		gpu.IfPanic(fmt.Errorf("%w: uniform set: %w", gpu.ErrAllocation, err))
	}
	us.pool = pool

	writes := make([]vk.WriteDescriptorSet, 0, len(uniforms))
	for _, u := range uniforms {
		decl, ok := sh.layout.Binding(setIndex, u.Binding)
		gpu.Assert(ok && decl.Type == u.Type, "binding %d of set %d does not match %v", u.Binding, setIndex, u.Type)
		wd := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          us.set,
			DstBinding:      u.Binding,
			DescriptorCount: 1,
			DescriptorType:  descriptorTypes[u.Type],
		}
		switch u.Type {
		case gpu.UniformBuffer, gpu.UniformStorageBuffer:
			buf := b.buffer(u.Buffer)
			wd.PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: buf.buf,
				Range:  vk.DeviceSize(buf.size),
			}}
		default:
			ii := vk.DescriptorImageInfo{ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal}
			if u.Type != gpu.UniformSampler {
				ii.ImageView = b.image(u.Image).view
			}
			if u.Type == gpu.UniformSampler || u.Type == gpu.UniformSamplerWithTexture {
				smp, ok := b.samplers[u.Sampler]
				gpu.Assert(ok, "unknown sampler %d", u.Sampler)
				ii.Sampler = smp
			}
			if u.Type == gpu.UniformImage {
				ii.ImageLayout = vk.ImageLayoutGeneral
			}
			wd.PImageInfo = []vk.DescriptorImageInfo{ii}
		}
		writes = append(writes, wd)
	}
	if len(writes) > 0 {
		vk.UpdateDescriptorSets(b.device, uint32(len(writes)), writes, 0, nil)
	}
	h := gpu.UniformSet(b.newID())
	b.sets[h] = us
	return h
}

func (b *Backend) UniformSetFree(h gpu.UniformSet) {
	if !h.IsValid() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	us, ok := b.sets[h]
	gpu.Assert(ok, "unknown uniform set %d", h)
	vk.FreeDescriptorSets(b.device, us.pool, 1, &us.set)
	b.descriptors.Released(us.pool)
	delete(b.sets, h)
}

// DescriptorPools returns the state of the uniform set pools.
func (b *Backend) DescriptorPools() []gpu.PoolInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.descriptors.Pools()
}

type renderPassKey struct {
	color   vk.Format
	depth   vk.Format
	samples uint32
}

// renderPass returns the cached render pass for the attachment formats.
// It must be called with b.mu held.
func (b *Backend) renderPass(key renderPassKey) vk.RenderPass {
	if rp, ok := b.renderPasses[key]; ok {
		return rp
	}
	samples := sampleCount(key.samples)
	atts := []vk.AttachmentDescription{{
		Format:         key.color,
		Samples:        samples,
		LoadOp:         vk.AttachmentLoadOpClear,
		StoreOp:        vk.AttachmentStoreOpStore,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutColorAttachmentOptimal,
		FinalLayout:    vk.ImageLayoutColorAttachmentOptimal,
	}}
	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: 1,
		PColorAttachments: []vk.AttachmentReference{{
			Attachment: 0,
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		}},
	}
	if key.depth != vk.FormatUndefined {
		atts = append(atts, vk.AttachmentDescription{
			Format:         key.depth,
			Samples:        samples,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpDontCare,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutDepthStencilAttachmentOptimal,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		})
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: 1,
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
	}
	dep := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageEarlyFragmentTestsBit),
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageEarlyFragmentTestsBit),
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentWriteBit | vk.AccessDepthStencilAttachmentWriteBit),
	}
	var rp vk.RenderPass
	ret := vk.CreateRenderPass(b.device, &vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(atts)),
		PAttachments:    atts,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dep},
	}, nil, &rp)
	gpu.IfPanic(NewError(ret))
	b.renderPasses[key] = rp
	return rp
}

type framebufferKey struct {
	pass         vk.RenderPass
	color, depth vk.ImageView
	extent       gpu.Extent2D
}

// framebuffer returns the cached framebuffer for the attachments.
// It must be called with b.mu held.
func (b *Backend) framebuffer(key framebufferKey) vk.Framebuffer {
	if fb, ok := b.framebuffers[key]; ok {
		return fb
	}
	views := []vk.ImageView{key.color}
	if key.depth != nil {
		views = append(views, key.depth)
	}
	var fb vk.Framebuffer
	ret := vk.CreateFramebuffer(b.device, &vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      key.pass,
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           key.extent.Width,
		Height:          key.extent.Height,
		Layers:          1,
	}, nil, &fb)
	gpu.IfPanic(NewError(ret))
	b.framebuffers[key] = fb
	return fb
}

// dropFramebuffers destroys the cached framebuffers using the view.
// It must be called with b.mu held.
func (b *Backend) dropFramebuffers(view vk.ImageView) {
	if view == nil {
		return
	}
	for k, fb := range b.framebuffers {
		if k.color == view || k.depth == view {
			vk.DestroyFramebuffer(b.device, fb, nil)
			delete(b.framebuffers, k)
		}
	}
}
