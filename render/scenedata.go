// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package render

import (
	"encoding/binary"
	"hash/fnv"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/lumen3d/lumen/scene"
)

// MaxPointLights is the number of point lights in the scene data.
// Further lights in the queue are ignored.
const MaxPointLights = 16

// SceneDataSize is the size of encoded [SceneData] in bytes.
const SceneDataSize = sceneLightsOffset + MaxPointLights*pointLightSize

const (
	sceneLightsOffset = 128
	pointLightSize    = 48
)

// SceneData is the per frame uniform data bound at set 1:
// the camera and the lights.
type SceneData struct {
	ViewProj       mgl32.Mat4
	CameraPosition mgl32.Vec3
	Directional    scene.DirectionalLight
	PointLights    []scene.PointLight
}

// Bytes returns the std140 encoding of the scene data:
//
//	mat4 view_proj
//	vec4 camera_position
//	vec4 sun_direction (w = intensity)
//	vec4 sun_color
//	int  num_point_lights
//	PointLight point_lights[16] (vec4 position, vec4 color, float linear, float quadratic)
func (sd *SceneData) Bytes() []byte {
	b := make([]byte, SceneDataSize)
	putFloats(b, sd.ViewProj[:]...)
	putFloats(b[64:], sd.CameraPosition[0], sd.CameraPosition[1], sd.CameraPosition[2], 1)
	d := sd.Directional
	putFloats(b[80:], d.Direction[0], d.Direction[1], d.Direction[2], d.Intensity)
	putFloats(b[96:], d.Color[:]...)
	n := min(len(sd.PointLights), MaxPointLights)
	binary.LittleEndian.PutUint32(b[112:], uint32(n))
	for i, pl := range sd.PointLights[:n] {
		o := b[sceneLightsOffset+i*pointLightSize:]
		putFloats(o, pl.Position[0], pl.Position[1], pl.Position[2], 1)
		putFloats(o[16:], pl.Color[:]...)
		putFloats(o[32:], pl.Linear, pl.Quadratic)
	}
	return b
}

func putFloats(b []byte, fs ...float32) {
	for i, f := range fs {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
}

// hashBytes returns the 64 bit FNV-1a hash of b.
func hashBytes(b []byte) uint64 {
	h := fnv.New64a()
	h.Write(b)
	return h.Sum64()
}
