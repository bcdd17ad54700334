// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package geom

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// Plane is the half-space Normal . p + D >= 0.
type Plane struct {
	Normal mgl32.Vec3
	D      float32
}

// NewPlane returns a plane from the coefficients a, b, c, d,
// normalized so that Normal has unit length.
func NewPlane(v mgl32.Vec4) Plane {
	n := v.Vec3()
	l := math32.Sqrt(n.Dot(n))
	if l == 0 {
		return Plane{Normal: n, D: v.W()}
	}
	return Plane{Normal: n.Mul(1 / l), D: v.W() / l}
}

// Distance returns the signed distance of the point from the plane.
func (p Plane) Distance(pt mgl32.Vec3) float32 {
	return p.Normal.Dot(pt) + p.D
}

// Frustum planes, in the order stored in [Frustum.Planes].
const (
	PlaneLeft = iota
	PlaneRight
	PlaneBottom
	PlaneTop
	PlaneNear
	PlaneFar
	PlanesN
)

// Frustum is the convex region of space visible to a camera,
// bounded by six inward-facing normalized planes.
type Frustum struct {
	Planes [PlanesN]Plane
}

// NewFrustum extracts the frustum planes from a combined
// projection * view matrix using OpenGL clip conventions.
func NewFrustum(viewProj mgl32.Mat4) Frustum {
	r0, r1, r2, r3 := viewProj.Row(0), viewProj.Row(1), viewProj.Row(2), viewProj.Row(3)
	var f Frustum
	f.Planes[PlaneLeft] = NewPlane(r3.Add(r0))
	f.Planes[PlaneRight] = NewPlane(r3.Sub(r0))
	f.Planes[PlaneBottom] = NewPlane(r3.Add(r1))
	f.Planes[PlaneTop] = NewPlane(r3.Sub(r1))
	f.Planes[PlaneNear] = NewPlane(r3.Add(r2))
	f.Planes[PlaneFar] = NewPlane(r3.Sub(r2))
	return f
}

// ContainsPoint returns whether the point is on the non-negative side of all planes.
func (f *Frustum) ContainsPoint(p mgl32.Vec3) bool {
	for _, pl := range f.Planes {
		if pl.Distance(p) < 0 {
			return false
		}
	}
	return true
}
