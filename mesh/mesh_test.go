// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mesh

import (
	"encoding/binary"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/lumen3d/lumen/gpu"
	"github.com/lumen3d/lumen/gpu/softgpu"
	"github.com/lumen3d/lumen/material"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T) *softgpu.Backend {
	opts := &softgpu.Options{}
	opts.Defaults()
	b := softgpu.New(opts)
	t.Cleanup(b.Shutdown)
	return b
}

func triangle() ([]Vertex, []uint32) {
	vs := []Vertex{
		{Position: mgl32.Vec3{-1, 0, 2}, Normal: mgl32.Vec3{0, 0, 1}},
		{Position: mgl32.Vec3{1, -3, 0}, UVX: 1, Normal: mgl32.Vec3{0, 0, 1}},
		{Position: mgl32.Vec3{0, 1, -1}, UVY: 1, Normal: mgl32.Vec3{0, 0, 1}},
	}
	return vs, []uint32{0, 1, 2}
}

func TestNewPrimitiveUploads(t *testing.T) {
	b := newTestBackend(t)
	vs, is := triangle()
	pr, err := NewPrimitive(b, vs, is, nil)
	require.NoError(t, err)
	m := New(b, "tri", pr)

	assert.Equal(t, uint32(3), pr.IndexCount)
	assert.NotZero(t, pr.VertexAddress)
	assert.Equal(t, b.BufferDeviceAddress(pr.VertexBuffer), pr.VertexAddress)
	assert.Equal(t, vs, DecodeVertices(b.ReadBuffer(pr.VertexBuffer)))

	ib := b.ReadBuffer(pr.IndexBuffer)
	require.Len(t, ib, 12)
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(ib[8:]))

	assert.Equal(t, mgl32.Vec3{-1, -3, -1}, pr.Bounds.Min)
	assert.Equal(t, mgl32.Vec3{1, 1, 2}, pr.Bounds.Max)
	assert.Equal(t, pr.Bounds, m.Bounds())

	// the staging buffer is gone
	assert.Equal(t, 2, b.Live()["buffers"])
	m.Release()
	assert.Equal(t, 0, b.Live()["buffers"])
	assert.NoError(t, b.Err())
}

func TestNewPrimitiveEmpty(t *testing.T) {
	b := newTestBackend(t)
	vs, is := triangle()
	_, err := NewPrimitive(b, nil, is, nil)
	assert.ErrorIs(t, err, ErrEmptyGeometry)
	_, err = NewPrimitive(b, vs, nil, nil)
	assert.ErrorIs(t, err, ErrEmptyGeometry)
	_, err = NewPrimitive(b, vs, []uint32{0, 1, 3}, nil)
	assert.Error(t, err)
	assert.Equal(t, 0, b.Live()["buffers"])
}

func TestMeshRefCounting(t *testing.T) {
	b := newTestBackend(t)
	reg := material.NewRegistry(b, material.Targets{Color: gpu.FormatB8G8R8A8Srgb})
	t.Cleanup(reg.Clear)
	info := &material.DefinitionInfo{Name: "flat", Uniforms: []material.UniformMetadata{{Name: "color", Type: material.Vec4}}}
	info.Pipeline.Defaults()
	reg.MustRegister(material.NewDefinition(b, info, []byte{1, 2, 3, 4}, material.Targets{Color: gpu.FormatB8G8R8A8Srgb}))
	mat, err := reg.CreateInstance("flat")
	require.NoError(t, err)
	require.NoError(t, mat.Upload())

	pr, err := NewShapePrimitive(b, NewBox(1, 1, 1), mat)
	require.NoError(t, err)
	m := New(b, "box", pr)
	m.Ref()
	assert.Equal(t, 2, m.Refs())

	m.Release()
	assert.Len(t, m.Primitives, 1)
	assert.Equal(t, 3, b.Live()["buffers"])

	m.Release()
	assert.Empty(t, m.Primitives)
	assert.Equal(t, 0, b.Live()["buffers"])
	assert.Equal(t, 0, b.Live()["uniformSets"])
	assert.Panics(t, m.Release)
}

func TestBoxShape(t *testing.T) {
	bx := NewBox(2, 4, 6)
	bx.Segs = [3]int{1, 2, 3}
	vs, is := Build(bx)
	nv, ni := bx.N()
	assert.Len(t, vs, nv)
	assert.Len(t, is, ni)
	// two faces each of 1x2, 1x3 and 3x2 segments
	assert.Equal(t, 2*(2*3+2*4+4*3), nv)
	assert.Equal(t, 2*6*(2+3+6), ni)

	bb := bx.Set(vs, is, 0, 0)
	assert.Equal(t, mgl32.Vec3{-1, -2, -3}, bb.Min)
	assert.Equal(t, mgl32.Vec3{1, 2, 3}, bb.Max)
	for _, x := range is {
		assert.Less(t, int(x), len(vs))
	}

	// every triangle winds counter clockwise around its outward normal
	for i := 0; i < len(is); i += 3 {
		a, b, c := vs[is[i]], vs[is[i+1]], vs[is[i+2]]
		n := b.Position.Sub(a.Position).Cross(c.Position.Sub(a.Position))
		assert.Greater(t, n.Dot(a.Normal), float32(0))
		assert.Greater(t, a.Normal.Dot(a.Position), float32(0))
	}
}

func TestPlaneShape(t *testing.T) {
	pl := NewPlane(4, 2)
	pl.Pos = mgl32.Vec3{0, 1, 0}
	vs, is := Build(pl)
	assert.Len(t, vs, 4)
	assert.Len(t, is, 6)
	for _, v := range vs {
		assert.Equal(t, mgl32.Vec3{0, 1, 0}, v.Normal)
		assert.Equal(t, float32(1), v.Position.Y())
	}
	bb := pl.Set(vs, is, 0, 0)
	assert.Equal(t, mgl32.Vec3{-2, 1, -1}, bb.Min)
	assert.Equal(t, mgl32.Vec3{2, 1, 1}, bb.Max)
}

func TestBuildOffsetsIndices(t *testing.T) {
	a, b := NewPlane(1, 1), NewTorus(1, 0.25, 8)
	vs, is := Build(a, b)
	nv, _ := a.N()
	tv, ti := b.N()
	assert.Len(t, vs, nv+tv)
	for _, x := range is[6:] {
		assert.GreaterOrEqual(t, int(x), nv)
	}
	assert.Len(t, is, 6+ti)
	for _, v := range vs[nv:] {
		assert.InDelta(t, 1, v.Normal.Len(), 1e-5)
	}
}
