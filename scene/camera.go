// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scene

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/lumen3d/lumen/geom"
)

// Projection is the kind of camera projection.
type Projection int32

const (
	Perspective Projection = iota
	Orthographic
)

// Camera is a viewpoint with a projection. With the identity rotation
// it looks down -Z with +Y up.
type Camera struct {
	Position mgl32.Vec3
	Rotation mgl32.Quat

	Projection Projection

	// FOV is the vertical field of view in degrees of a perspective camera.
	FOV float32

	// Height is the half height of the view volume of an orthographic camera.
	Height float32

	Near float32
	Far  float32
}

// NewPerspectiveCamera returns a perspective camera at the origin.
func NewPerspectiveCamera(fov, near, far float32) *Camera {
	return &Camera{Rotation: mgl32.QuatIdent(), Projection: Perspective, FOV: fov, Near: near, Far: far}
}

// NewOrthographicCamera returns an orthographic camera at the origin.
func NewOrthographicCamera(height, near, far float32) *Camera {
	return &Camera{Rotation: mgl32.QuatIdent(), Projection: Orthographic, Height: height, Near: near, Far: far}
}

// LookAt moves the camera to eye and turns it toward target.
func (c *Camera) LookAt(eye, target, up mgl32.Vec3) {
	c.Position = eye
	view := mgl32.LookAtV(eye, target, up)
	c.Rotation = mgl32.Mat4ToQuat(view.Mat3().Transpose().Mat4()).Normalize()
}

// Forward returns the view direction.
func (c *Camera) Forward() mgl32.Vec3 {
	return c.Rotation.Rotate(mgl32.Vec3{0, 0, -1})
}

// View returns the world to view matrix.
func (c *Camera) View() mgl32.Mat4 {
	m := mgl32.Translate3D(c.Position[0], c.Position[1], c.Position[2]).Mul4(c.Rotation.Mat4())
	return m.Inv()
}

// ProjectionMatrix returns the view to clip matrix for the given aspect
// ratio, with OpenGL conventions.
func (c *Camera) ProjectionMatrix(aspect float32) mgl32.Mat4 {
	if c.Projection == Orthographic {
		w := c.Height * aspect
		return mgl32.Ortho(-w, w, -c.Height, c.Height, c.Near, c.Far)
	}
	return mgl32.Perspective(mgl32.DegToRad(c.FOV), aspect, c.Near, c.Far)
}

// ViewProj returns projection * view, as used for frustum extraction.
func (c *Camera) ViewProj(aspect float32) mgl32.Mat4 {
	return c.ProjectionMatrix(aspect).Mul4(c.View())
}

// GPUViewProj returns [Camera.ViewProj] with Y flipped for clip spaces
// whose Y axis points down.
func (c *Camera) GPUViewProj(aspect float32) mgl32.Mat4 {
	p := c.ProjectionMatrix(aspect)
	for col := range 4 {
		p[col*4+1] = -p[col*4+1]
	}
	return p.Mul4(c.View())
}

// Frustum returns the world space view frustum.
func (c *Camera) Frustum(aspect float32) geom.Frustum {
	return geom.NewFrustum(c.ViewProj(aspect))
}
