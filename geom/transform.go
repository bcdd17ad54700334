// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package geom provides the spatial types used by the scene:
// local transforms, axis-aligned bounding boxes and view frustums.
package geom

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// Transform is a local transform relative to a parent,
// composed as translation * rotation * scale.
type Transform struct {

	// Position is the translation.
	Position mgl32.Vec3

	// Rotation is the rotation as euler angles in degrees,
	// applied in X, Y, Z order.
	Rotation mgl32.Vec3

	// Scale is the per-axis scale factor.
	Scale mgl32.Vec3
}

// NewTransform returns an identity transform.
func NewTransform() Transform {
	return Transform{Scale: mgl32.Vec3{1, 1, 1}}
}

// Defaults resets the transform to identity.
func (t *Transform) Defaults() {
	*t = NewTransform()
}

// Quat returns the rotation as a quaternion.
func (t *Transform) Quat() mgl32.Quat {
	return mgl32.AnglesToQuat(mgl32.DegToRad(t.Rotation.X()), mgl32.DegToRad(t.Rotation.Y()), mgl32.DegToRad(t.Rotation.Z()), mgl32.XYZ)
}

// Matrix returns the local-to-parent matrix T * R * S.
func (t *Transform) Matrix() mgl32.Mat4 {
	tr := mgl32.Translate3D(t.Position.X(), t.Position.Y(), t.Position.Z())
	sc := mgl32.Scale3D(t.Scale.X(), t.Scale.Y(), t.Scale.Z())
	return tr.Mul4(t.Quat().Mat4()).Mul4(sc)
}

// Forward returns the direction the transform faces, which is -Z rotated.
func (t *Transform) Forward() mgl32.Vec3 {
	return t.Quat().Rotate(mgl32.Vec3{0, 0, -1})
}

// Right returns the +X axis rotated.
func (t *Transform) Right() mgl32.Vec3 {
	return t.Quat().Rotate(mgl32.Vec3{1, 0, 0})
}

// Up returns the +Y axis rotated.
func (t *Transform) Up() mgl32.Vec3 {
	return t.Quat().Rotate(mgl32.Vec3{0, 1, 0})
}

// Translate moves the position by the given offset.
func (t *Transform) Translate(d mgl32.Vec3) {
	t.Position = t.Position.Add(d)
}

// Rotate adds the given euler angles in degrees.
func (t *Transform) Rotate(deg mgl32.Vec3) {
	t.Rotation = t.Rotation.Add(deg)
}

// Translation returns the translation column of a matrix.
func Translation(m mgl32.Mat4) mgl32.Vec3 {
	return m.Col(3).Vec3()
}

// SetQuat sets the rotation from a quaternion.
func (t *Transform) SetQuat(q mgl32.Quat) {
	t.Rotation = QuatToEuler(q)
}

// QuatToEuler returns the euler angles in degrees, in the X, Y, Z order
// of [Transform.Rotation], of the rotation q.
func QuatToEuler(q mgl32.Quat) mgl32.Vec3 {
	m := q.Normalize().Mat4().Mat3()
	r02 := mgl32.Clamp(m.At(0, 2), -1, 1)
	y := math32.Asin(r02)
	var x, z float32
	if math32.Abs(r02) < 0.99999 {
		x = math32.Atan2(-m.At(1, 2), m.At(2, 2))
		z = math32.Atan2(-m.At(0, 1), m.At(0, 0))
	} else {
		// gimbal lock: all of the remaining rotation is put in x
		x = math32.Atan2(m.At(2, 1), m.At(1, 1))
	}
	return mgl32.Vec3{mgl32.RadToDeg(x), mgl32.RadToDeg(y), mgl32.RadToDeg(z)}
}

// Decompose returns the transform of an affine matrix without shear.
func Decompose(m mgl32.Mat4) Transform {
	t := Transform{Position: Translation(m)}
	var rot mgl32.Mat3
	for c := range 3 {
		col := m.Col(c).Vec3()
		s := col.Len()
		t.Scale[c] = s
		if s != 0 {
			col = col.Mul(1 / s)
		}
		rot.SetCol(c, col)
	}
	t.SetQuat(mgl32.Mat4ToQuat(rot.Mat4()))
	return t
}
