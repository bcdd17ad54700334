// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package material

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/lumen3d/lumen/base/errors"
	"github.com/lumen3d/lumen/gpu"
)

// ErrReleased is returned when using an instance after its last release.
var ErrReleased = errors.New("material: instance released")

// Instance is one use of a material definition with its own parameter
// values, material data buffer and uniform set. Instances are shared
// between primitives by reference counting.
//
// Parameters are only written to the GPU by [Instance.Upload], which
// must be called after any change before the instance is drawn.
// An Instance is used from the render thread only.
type Instance struct {
	registry *Registry
	def      *Definition

	params map[string]Value
	dirty  bool
	refs   atomic.Int32

	buffer  gpu.Buffer
	set     gpu.UniformSet
	packed  []byte
	offsets map[string]uint32
}

func newInstance(r *Registry, def *Definition) *Instance {
	mi := &Instance{registry: r, def: def, params: map[string]Value{}, dirty: true}
	mi.refs.Store(1)
	return mi
}

// Definition returns the definition of the instance.
func (mi *Instance) Definition() *Definition { return mi.def }

// Pipeline returns the pipeline of the definition.
func (mi *Instance) Pipeline() gpu.Pipeline { return mi.def.Pipeline }

// UniformSet returns the uniform set of the last upload.
func (mi *Instance) UniformSet() gpu.UniformSet { return mi.set }

// SetParam sets the named parameter and marks the instance dirty.
// The name is only checked against the definition by [Instance.Upload].
func (mi *Instance) SetParam(name string, v Value) {
	mi.params[name] = v
	mi.dirty = true
}

// Param returns the named parameter, if set.
func (mi *Instance) Param(name string) (Value, bool) {
	v, ok := mi.params[name]
	return v, ok
}

// IsDirty returns whether parameters changed since the last upload.
func (mi *Instance) IsDirty() bool { return mi.dirty }

// PackedData returns the material data of the last upload.
func (mi *Instance) PackedData() []byte { return mi.packed }

// Offset returns the byte offset of the named parameter in the
// material data of the last upload.
func (mi *Instance) Offset(name string) (uint32, bool) {
	off, ok := mi.offsets[name]
	return off, ok
}

// pack lays out the set values in definition order with std140 alignment,
// and returns the data, the offset of each packed value and the textures
// to bind by binding.
func (mi *Instance) pack() ([]byte, map[string]uint32, map[uint32]TextureBinder) {
	var data []byte
	offsets := map[string]uint32{}
	textures := map[uint32]TextureBinder{}
	for _, u := range mi.def.Uniforms {
		v, ok := mi.params[u.Name]
		if u.Type.IsTexture() {
			tex, isTex := v.Texture()
			switch {
			case ok && isTex && tex != nil:
				textures[u.Binding] = tex
			case mi.registry.DefaultTexture != nil:
				textures[u.Binding] = mi.registry.DefaultTexture
			}
			continue
		}
		if !ok {
			continue
		}
		if v.Type != u.Type {
			slog.Debug("material: parameter type mismatch", "material", mi.def.Name, "param", u.Name, "type", v.Type, "want", u.Type)
			continue
		}
		off := alignUp(uint32(len(data)), u.Type.Align())
		end := off + u.Type.Size()
		data = append(data, make([]byte, int(end)-len(data))...)
		v.put(data[off:end])
		offsets[u.Name] = off
	}
	for name := range mi.params {
		if _, ok := mi.def.Uniform(name); !ok {
			slog.Debug("material: unknown parameter", "material", mi.def.Name, "param", name)
		}
	}
	return data, offsets, textures
}

// Upload packs the parameters into the material data buffer and
// allocates a new uniform set binding it and the textures. The data
// buffer is created once and reused while the data fits. The previous
// uniform set is freed after waiting for the device to be idle.
func (mi *Instance) Upload() error {
	if mi.refs.Load() <= 0 {
		return ErrReleased
	}
	b := mi.registry.backend
	data, offsets, textures := mi.pack()
	size := max(alignUp(uint32(len(data)), 16), 16)

	if mi.buffer.IsValid() && b.BufferSize(mi.buffer) < uint64(size) {
		b.DeviceWait()
		b.BufferFree(mi.buffer)
		mi.buffer = 0
	}
	if !mi.buffer.IsValid() {
		mi.buffer = b.BufferCreate(uint64(size), gpu.BufferUsageUniform|gpu.BufferUsageTransferSrc, gpu.AllocationCPU)
	}
	mapped := b.BufferMap(mi.buffer)
	n := copy(mapped, data)
	clear(mapped[n:])
	b.BufferUnmap(mi.buffer)

	uniforms := []gpu.Uniform{gpu.BufferUniform(DataBinding, mi.buffer)}
	for binding, tex := range textures {
		uniforms = append(uniforms, tex.Uniform(binding))
	}
	if mi.set.IsValid() {
		b.DeviceWait()
		b.UniformSetFree(mi.set)
	}
	mi.set = b.UniformSetCreate(uniforms, mi.def.Shader, MaterialSet)
	mi.packed = data
	mi.offsets = offsets
	mi.dirty = false
	return nil
}

// Bind binds the uniform set of the instance at the material set slot.
// The instance must have been uploaded since its last change.
func (mi *Instance) Bind(cmd gpu.CommandBuffer) {
	gpu.Assert(!mi.dirty, "material %q drawn without upload", mi.def.Name)
	mi.registry.backend.CommandBindUniformSets(cmd, mi.def.Pipeline, MaterialSet, mi.set)
}

// Ref adds a reference to the instance and returns it.
func (mi *Instance) Ref() *Instance {
	mi.refs.Add(1)
	return mi
}

// Release drops a reference. The last release waits for the device
// to be idle and frees the uniform set and data buffer.
func (mi *Instance) Release() {
	switch n := mi.refs.Add(-1); {
	case n == 0:
		mi.destroy()
	case n < 0:
		panic(fmt.Errorf("material %q released too many times", mi.def.Name))
	}
}

func (mi *Instance) destroy() {
	b := mi.registry.backend
	if !mi.set.IsValid() && !mi.buffer.IsValid() {
		return
	}
	b.DeviceWait()
	b.UniformSetFree(mi.set)
	b.BufferFree(mi.buffer)
	mi.set, mi.buffer = 0, 0
}
