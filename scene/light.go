// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scene

import "github.com/go-gl/mathgl/mgl32"

// DirectionalLight lights the scene from one direction with no
// attenuation, like the sun.
type DirectionalLight struct {

	// Direction is the direction the light travels, in the space of
	// its node.
	Direction mgl32.Vec3

	// Color is the linear RGBA color at full intensity.
	Color mgl32.Vec4

	// Intensity multiplies the color.
	Intensity float32
}

// NewDirectionalLight returns a white light pointing down and away from
// the default camera.
func NewDirectionalLight() *DirectionalLight {
	return &DirectionalLight{Direction: mgl32.Vec3{0, -1, -1}.Normalize(), Color: mgl32.Vec4{1, 1, 1, 1}, Intensity: 1}
}

// PointLight is an omnidirectional light at a position, whose intensity
// is divided by linear and quadratic functions of distance.
type PointLight struct {

	// Position is the position in the space of its node.
	Position mgl32.Vec3

	Color mgl32.Vec4

	// Linear is the distance linear decay factor.
	Linear float32

	// Quadratic is the distance quadratic decay factor,
	// which dominates at longer distances.
	Quadratic float32
}

// NewPointLight returns a white light with default decay factors.
func NewPointLight() *PointLight {
	return &PointLight{Color: mgl32.Vec4{1, 1, 1, 1}, Linear: 0.1, Quadratic: 0.01}
}
