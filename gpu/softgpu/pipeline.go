// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package softgpu

import (
	"fmt"

	"github.com/lumen3d/lumen/gpu"
)

type shader struct {
	code   []byte
	layout gpu.ShaderLayout
}

type pipeline struct {
	info   gpu.PipelineCreateInfo
	layout gpu.ShaderLayout
}

type uniformSet struct {
	shader   gpu.Shader
	index    uint32
	uniforms []gpu.Uniform
	pool     *descriptorPool
}

// descriptorPool is a fixed capacity pool of uniform sets.
type descriptorPool struct {
	capacity int
	used     int
}

// poolDriver implements [gpu.PoolDriver] over [descriptorPool].
type poolDriver struct {
	b *Backend
}

func (d poolDriver) CreatePool(maxSets int) *descriptorPool {
	return &descriptorPool{capacity: maxSets}
}

func (d poolDriver) ResetPool(p *descriptorPool) {
	p.used = 0
}

func (d poolDriver) DestroyPool(p *descriptorPool) {
	p.capacity = 0
	p.used = 0
}

func (b *Backend) ShaderCreateFromBytecode(code []byte, layout gpu.ShaderLayout) gpu.Shader {
	gpu.Assert(len(code) > 0, "empty shader bytecode")
	gpu.Assert(layout.PushConstantSize%4 == 0, "push constant size %d is not a multiple of 4", layout.PushConstantSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	h := gpu.Shader(b.newID())
	b.shaders[h] = &shader{code: append([]byte(nil), code...), layout: layout}
	return h
}

func (b *Backend) shader(h gpu.Shader) *shader {
	sh, ok := b.shaders[h]
	gpu.Assert(ok, "unknown shader %d", h)
	return sh
}

func (b *Backend) ShaderFree(h gpu.Shader) {
	if !h.IsValid() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.shader(h)
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
	gpu.Assert(info.ColorFormat != gpu.FormatUndefined, "pipeline without a color format")
	gpu.Assert(info.DepthFormat == gpu.FormatUndefined || info.DepthFormat.IsDepth(), "pipeline depth format %v is not a depth format", info.DepthFormat)
	h := gpu.Pipeline(b.newID())
	b.pipelines[h] = &pipeline{info: info, layout: sh.layout}
	return h
}

func (b *Backend) pipeline(h gpu.Pipeline) *pipeline {
	pl, ok := b.pipelines[h]
	gpu.Assert(ok, "unknown pipeline %d", h)
	return pl
}

func (b *Backend) PipelineFree(h gpu.Pipeline) {
	if !h.IsValid() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pipeline(h)
	delete(b.pipelines, h)
}

// checkUniform validates a resource against its declared binding.
func (b *Backend) checkUniform(sh *shader, set uint32, u gpu.Uniform) error {
	decl, ok := sh.layout.Binding(set, u.Binding)
	if !ok {
		return fmt.Errorf("binding %d is not declared in set %d", u.Binding, set)
	}
	if decl.Type != u.Type {
		return fmt.Errorf("binding %d of set %d is %v, not %v", u.Binding, set, decl.Type, u.Type)
	}
	switch u.Type {
	case gpu.UniformBuffer, gpu.UniformStorageBuffer:
		if _, ok := b.buffers[u.Buffer]; !ok {
			return fmt.Errorf("%w: buffer %d", gpu.ErrInvalidHandle, u.Buffer)
		}
	case gpu.UniformSampler:
		if _, ok := b.samplers[u.Sampler]; !ok {
			return fmt.Errorf("%w: sampler %d", gpu.ErrInvalidHandle, u.Sampler)
		}
	case gpu.UniformSamplerWithTexture:
		if _, ok := b.samplers[u.Sampler]; !ok {
			return fmt.Errorf("%w: sampler %d", gpu.ErrInvalidHandle, u.Sampler)
		}
		fallthrough
	default:
		if _, ok := b.images[u.Image]; !ok {
			return fmt.Errorf("%w: image %d", gpu.ErrInvalidHandle, u.Image)
		}
	}
	return nil
}

func (b *Backend) UniformSetCreate(uniforms []gpu.Uniform, shader gpu.Shader, setIndex uint32) gpu.UniformSet {
	b.mu.Lock()
	defer b.mu.Unlock()
	sh := b.shader(shader)
	gpu.Assert(int(setIndex) < len(sh.layout.Sets), "shader %d has no uniform set %d", shader, setIndex)
	for _, u := range uniforms {
		gpu.IfPanic(b.checkUniform(sh, setIndex, u))
	}
	pool, err := b.descriptors.Allocate(func(p *descriptorPool) error {
		if p.used >= p.capacity {
			return gpu.ErrPoolExhausted
		}
		p.used++
		return nil
	})
	if err != nil {
		gpu.IfPanic(fmt.Errorf("%w: uniform set: %w", gpu.ErrAllocation, err))
	}
	h := gpu.UniformSet(b.newID())
	b.sets[h] = &uniformSet{shader: shader, index: setIndex, uniforms: append([]gpu.Uniform(nil), uniforms...), pool: pool}
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
	if us.pool.used > 0 {
		us.pool.used--
	}
	b.descriptors.Released(us.pool)
	delete(b.sets, h)
}

// lookupSet resolves a uniform set and its resources during execution.
func (b *Backend) lookupSet(h gpu.UniformSet) (*uniformSet, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	us, ok := b.sets[h]
	if !ok {
		return nil, fmt.Errorf("%w: uniform set %d used after free", gpu.ErrInvalidHandle, h)
	}
	sh, ok := b.shaders[us.shader]
	if !ok {
		return nil, fmt.Errorf("%w: shader %d of uniform set %d used after free", gpu.ErrInvalidHandle, us.shader, h)
	}
	for _, u := range us.uniforms {
		if err := b.checkUniform(sh, us.index, u); err != nil {
			return nil, fmt.Errorf("uniform set %d: %w", h, err)
		}
	}
	return us, nil
}

func (b *Backend) lookupPipeline(h gpu.Pipeline) (*pipeline, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	pl, ok := b.pipelines[h]
	if !ok {
		return nil, fmt.Errorf("%w: pipeline %d used after free", gpu.ErrInvalidHandle, h)
	}
	return pl, nil
}
