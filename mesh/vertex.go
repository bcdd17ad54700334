// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mesh

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// VertexSize is the size of an encoded [Vertex] in bytes.
const VertexSize = 32

// Vertex is one mesh vertex as read by shaders through the vertex buffer
// device address. The texture coordinates are split into the padding of
// the two vec3 fields so the struct packs into two vec4s.
type Vertex struct {
	Position mgl32.Vec3
	UVX      float32
	Normal   mgl32.Vec3
	UVY      float32
}

// UV returns the texture coordinates.
func (v *Vertex) UV() mgl32.Vec2 {
	return mgl32.Vec2{v.UVX, v.UVY}
}

// SetUV sets the texture coordinates.
func (v *Vertex) SetUV(uv mgl32.Vec2) {
	v.UVX, v.UVY = uv[0], uv[1]
}

func (v *Vertex) put(b []byte) {
	f := [8]float32{v.Position[0], v.Position[1], v.Position[2], v.UVX, v.Normal[0], v.Normal[1], v.Normal[2], v.UVY}
	for i, x := range f {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(x))
	}
}

// VertexBytes returns the little endian encoding of the vertices.
func VertexBytes(vertices []Vertex) []byte {
	b := make([]byte, len(vertices)*VertexSize)
	for i := range vertices {
		vertices[i].put(b[i*VertexSize:])
	}
	return b
}

// DecodeVertices decodes the encoding made by [VertexBytes].
func DecodeVertices(b []byte) []Vertex {
	vs := make([]Vertex, len(b)/VertexSize)
	for i := range vs {
		var f [8]float32
		for j := range f {
			f[j] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*VertexSize+j*4:]))
		}
		vs[i] = Vertex{Position: mgl32.Vec3{f[0], f[1], f[2]}, UVX: f[3], Normal: mgl32.Vec3{f[4], f[5], f[6]}, UVY: f[7]}
	}
	return vs
}

// IndexBytes returns the little endian encoding of uint32 indices.
func IndexBytes(indices []uint32) []byte {
	b := make([]byte, len(indices)*4)
	for i, x := range indices {
		binary.LittleEndian.PutUint32(b[i*4:], x)
	}
	return b
}
