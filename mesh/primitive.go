// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mesh

import (
	"fmt"

	"github.com/lumen3d/lumen/base/errors"
	"github.com/lumen3d/lumen/geom"
	"github.com/lumen3d/lumen/gpu"
	"github.com/lumen3d/lumen/material"
)

// ErrEmptyGeometry is returned when creating a primitive without
// vertices or indices.
var ErrEmptyGeometry = errors.New("mesh: empty geometry")

// Primitive is one drawable part of a mesh with a single material.
// It owns its device local vertex and index buffers and is immutable
// after creation.
type Primitive struct {

	// VertexBuffer holds the encoded vertices.
	VertexBuffer gpu.Buffer

	// IndexBuffer holds uint32 indices.
	IndexBuffer gpu.Buffer

	// VertexAddress is the device address of VertexBuffer,
	// pushed to shaders with every draw.
	VertexAddress gpu.DeviceAddress

	// IndexCount is the number of indices.
	IndexCount uint32

	// Material is the material drawn with, shared with other primitives.
	Material *material.Instance

	// Bounds is the local space bounding box of the vertex positions.
	Bounds geom.AABB
}

// NewPrimitive uploads the geometry into new device local buffers
// through a single staging buffer and an immediate submit. The primitive
// takes over the reference to mat, which may be nil.
func NewPrimitive(b gpu.Backend, vertices []Vertex, indices []uint32, mat *material.Instance) (*Primitive, error) {
	if len(vertices) == 0 || len(indices) == 0 {
		return nil, ErrEmptyGeometry
	}
	for i, x := range indices {
		if int(x) >= len(vertices) {
			return nil, fmt.Errorf("mesh: index %d at %d out of range of %d vertices", x, i, len(vertices))
		}
	}
	vsize := uint64(len(vertices) * VertexSize)
	isize := uint64(len(indices) * 4)

	pr := &Primitive{IndexCount: uint32(len(indices)), Material: mat, Bounds: geom.EmptyAABB()}
	for i := range vertices {
		pr.Bounds.ExpandByPoint(vertices[i].Position)
	}
	pr.VertexBuffer = b.BufferCreate(vsize, gpu.BufferUsageVertex|gpu.BufferUsageStorage|gpu.BufferUsageDeviceAddress|gpu.BufferUsageTransferDst, gpu.AllocationGPU)
	pr.IndexBuffer = b.BufferCreate(isize, gpu.BufferUsageIndex|gpu.BufferUsageTransferDst, gpu.AllocationGPU)
	pr.VertexAddress = b.BufferDeviceAddress(pr.VertexBuffer)

	staging := b.BufferCreate(vsize+isize, gpu.BufferUsageTransferSrc, gpu.AllocationCPU)
	mem := b.BufferMap(staging)
	copy(mem, VertexBytes(vertices))
	copy(mem[vsize:], IndexBytes(indices))
	b.BufferUnmap(staging)

	b.CommandImmediateSubmit(func(cmd gpu.CommandBuffer) {
		b.CommandCopyBuffer(cmd, staging, pr.VertexBuffer, gpu.BufferCopy{Size: vsize})
		b.CommandCopyBuffer(cmd, staging, pr.IndexBuffer, gpu.BufferCopy{SrcOffset: vsize, Size: isize})
	})
	b.BufferFree(staging)
	return pr, nil
}

// free releases the buffers and the material reference.
// The device must be idle.
func (pr *Primitive) free(b gpu.Backend) {
	b.BufferFree(pr.VertexBuffer)
	b.BufferFree(pr.IndexBuffer)
	pr.VertexBuffer, pr.IndexBuffer, pr.VertexAddress = 0, 0, 0
	if pr.Material != nil {
		pr.Material.Release()
		pr.Material = nil
	}
}
