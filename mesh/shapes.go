// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mesh

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/lumen3d/lumen/geom"
	"github.com/lumen3d/lumen/gpu"
	"github.com/lumen3d/lumen/material"
)

// Shape generates vertex and index data for a simple solid.
type Shape interface {

	// N returns the number of vertices and indices the shape sets.
	N() (numVertex, numIndex int)

	// Set writes the shape into the arrays starting at the given vertex
	// and index offsets, with indices relative to the start of vertices,
	// and returns the bounding box.
	Set(vertices []Vertex, indices []uint32, vtxOff, idxOff int) geom.AABB
}

// Build allocates and sets the data of the shapes, one after another.
func Build(shapes ...Shape) ([]Vertex, []uint32) {
	nv, ni := 0, 0
	for _, sh := range shapes {
		v, i := sh.N()
		nv += v
		ni += i
	}
	vertices := make([]Vertex, nv)
	indices := make([]uint32, ni)
	nv, ni = 0, 0
	for _, sh := range shapes {
		sh.Set(vertices, indices, nv, ni)
		v, i := sh.N()
		nv += v
		ni += i
	}
	return vertices, indices
}

// NewShapePrimitive builds the shape and uploads it as a primitive.
func NewShapePrimitive(b gpu.Backend, sh Shape, mat *material.Instance) (*Primitive, error) {
	vertices, indices := Build(sh)
	return NewPrimitive(b, vertices, indices, mat)
}

// PlaneN returns the number of vertices and indices of a plane
// with the given number of segments along each side.
func PlaneN(segsU, segsV int) (numVertex, numIndex int) {
	segsU, segsV = max(segsU, 1), max(segsV, 1)
	return (segsU + 1) * (segsV + 1), segsU * segsV * 6
}

// SetPlane sets a plane spanning origin to origin+u+v, divided into the
// given number of segments. Triangles wind counter clockwise seen from
// the side of the normal u x v.
func SetPlane(vertices []Vertex, indices []uint32, vtxOff, idxOff int, origin, u, v mgl32.Vec3, segsU, segsV int) geom.AABB {
	segsU, segsV = max(segsU, 1), max(segsV, 1)
	norm := u.Cross(v).Normalize()
	bb := geom.EmptyAABB()
	vi := vtxOff
	for j := 0; j <= segsV; j++ {
		fv := float32(j) / float32(segsV)
		for i := 0; i <= segsU; i++ {
			fu := float32(i) / float32(segsU)
			pt := origin.Add(u.Mul(fu)).Add(v.Mul(fv))
			vertices[vi] = Vertex{Position: pt, UVX: fu, Normal: norm, UVY: 1 - fv}
			bb.ExpandByPoint(pt)
			vi++
		}
	}
	row := segsU + 1
	ii := idxOff
	for j := range segsV {
		for i := range segsU {
			a := uint32(vtxOff + j*row + i)
			b := a + 1
			c := a + uint32(row) + 1
			d := a + uint32(row)
			copy(indices[ii:], []uint32{a, b, c, a, c, d})
			ii += 6
		}
	}
	return bb
}

// Plane is a flat rectangle in the XZ plane facing +Y.
type Plane struct {
	Size mgl32.Vec2
	Segs [2]int
	Pos  mgl32.Vec3
}

// NewPlane returns a plane of the given width (X) and depth (Z).
func NewPlane(width, depth float32) *Plane {
	return &Plane{Size: mgl32.Vec2{width, depth}, Segs: [2]int{1, 1}}
}

func (pl *Plane) N() (numVertex, numIndex int) {
	return PlaneN(pl.Segs[0], pl.Segs[1])
}

func (pl *Plane) Set(vertices []Vertex, indices []uint32, vtxOff, idxOff int) geom.AABB {
	hw, hd := pl.Size[0]/2, pl.Size[1]/2
	origin := pl.Pos.Add(mgl32.Vec3{-hw, 0, hd})
	return SetPlane(vertices, indices, vtxOff, idxOff, origin, mgl32.Vec3{pl.Size[0], 0, 0}, mgl32.Vec3{0, 0, -pl.Size[1]}, pl.Segs[0], pl.Segs[1])
}

// Box is a cuboid centered on Pos.
type Box struct {
	Size mgl32.Vec3

	// Segs is the number of segments each face is divided into along
	// each axis, at least 1.
	Segs [3]int

	Pos mgl32.Vec3
}

// NewBox returns a box of the given size.
func NewBox(width, height, depth float32) *Box {
	return &Box{Size: mgl32.Vec3{width, height, depth}, Segs: [3]int{1, 1, 1}}
}

// faces returns the origin, u and v of each face, and the segments along u and v.
func (bx *Box) faces() [6]struct {
	o, u, v    mgl32.Vec3
	segU, segV int
} {
	h := bx.Size.Mul(0.5)
	sx, sy, sz := bx.Size[0], bx.Size[1], bx.Size[2]
	nx, ny, nz := bx.Segs[0], bx.Segs[1], bx.Segs[2]
	type face = struct {
		o, u, v    mgl32.Vec3
		segU, segV int
	}
	return [6]face{
		{mgl32.Vec3{h[0], -h[1], -h[2]}, mgl32.Vec3{-sx, 0, 0}, mgl32.Vec3{0, sy, 0}, nx, ny}, // -z
		{mgl32.Vec3{-h[0], -h[1], -h[2]}, mgl32.Vec3{sx, 0, 0}, mgl32.Vec3{0, 0, sz}, nx, nz}, // -y
		{mgl32.Vec3{h[0], -h[1], h[2]}, mgl32.Vec3{0, 0, -sz}, mgl32.Vec3{0, sy, 0}, nz, ny},  // +x
		{mgl32.Vec3{-h[0], -h[1], -h[2]}, mgl32.Vec3{0, 0, sz}, mgl32.Vec3{0, sy, 0}, nz, ny}, // -x
		{mgl32.Vec3{-h[0], h[1], h[2]}, mgl32.Vec3{sx, 0, 0}, mgl32.Vec3{0, 0, -sz}, nx, nz},  // +y
		{mgl32.Vec3{-h[0], -h[1], h[2]}, mgl32.Vec3{sx, 0, 0}, mgl32.Vec3{0, sy, 0}, nx, ny},  // +z
	}
}

func (bx *Box) N() (numVertex, numIndex int) {
	for _, f := range bx.faces() {
		nv, ni := PlaneN(f.segU, f.segV)
		numVertex += nv
		numIndex += ni
	}
	return
}

func (bx *Box) Set(vertices []Vertex, indices []uint32, vtxOff, idxOff int) geom.AABB {
	bb := geom.EmptyAABB()
	for _, f := range bx.faces() {
		bb.ExpandByBox(SetPlane(vertices, indices, vtxOff, idxOff, bx.Pos.Add(f.o), f.u, f.v, f.segU, f.segV))
		nv, ni := PlaneN(f.segU, f.segV)
		vtxOff += nv
		idxOff += ni
	}
	return bb
}

// Torus is a ring with a round tube around the Z axis.
type Torus struct {

	// Radius is the radius of the ring.
	Radius float32

	// TubeRadius is the radius of the tube.
	TubeRadius float32

	RadialSegs int
	TubeSegs   int
	Pos        mgl32.Vec3
}

// NewTorus returns a torus with segs segments around both the ring and the tube.
func NewTorus(radius, tubeRadius float32, segs int) *Torus {
	return &Torus{Radius: radius, TubeRadius: tubeRadius, RadialSegs: segs, TubeSegs: segs}
}

func (tr *Torus) N() (numVertex, numIndex int) {
	rs, ts := max(tr.RadialSegs, 1), max(tr.TubeSegs, 1)
	return (rs + 1) * (ts + 1), rs * ts * 6
}

func (tr *Torus) Set(vertices []Vertex, indices []uint32, vtxOff, idxOff int) geom.AABB {
	rs, ts := max(tr.RadialSegs, 1), max(tr.TubeSegs, 1)
	bb := geom.EmptyAABB()
	vi := vtxOff
	for j := 0; j <= rs; j++ {
		v := float32(j) / float32(rs) * 2 * math32.Pi
		for i := 0; i <= ts; i++ {
			u := float32(i) / float32(ts) * 2 * math32.Pi
			center := mgl32.Vec3{tr.Radius * math32.Cos(u), tr.Radius * math32.Sin(u), 0}
			ring := tr.Radius + tr.TubeRadius*math32.Cos(v)
			pt := mgl32.Vec3{ring * math32.Cos(u), ring * math32.Sin(u), tr.TubeRadius * math32.Sin(v)}
			vertices[vi] = Vertex{
				Position: pt.Add(tr.Pos),
				UVX:      float32(i) / float32(ts),
				Normal:   pt.Sub(center).Normalize(),
				UVY:      float32(j) / float32(rs),
			}
			bb.ExpandByPoint(pt.Add(tr.Pos))
			vi++
		}
	}
	ii := idxOff
	off := uint32(vtxOff)
	for j := 1; j <= rs; j++ {
		for i := 1; i <= ts; i++ {
			a := off + uint32((ts+1)*j+i-1)
			b := off + uint32((ts+1)*(j-1)+i-1)
			c := off + uint32((ts+1)*(j-1)+i)
			d := off + uint32((ts+1)*j+i)
			copy(indices[ii:], []uint32{a, b, d, b, c, d})
			ii += 6
		}
	}
	return bb
}
