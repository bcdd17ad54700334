// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scene

import (
	"cmp"
	"slices"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/lumen3d/lumen/geom"
	"github.com/lumen3d/lumen/gpu"
	"github.com/lumen3d/lumen/mesh"
)

// RenderObject is one primitive to draw with its world transform.
type RenderObject struct {
	Transform mgl32.Mat4
	Primitive *mesh.Primitive
}

// Pipeline returns the pipeline of the primitive material, or the null
// pipeline for a primitive without a material.
func (ro *RenderObject) Pipeline() gpu.Pipeline {
	if ro.Primitive == nil || ro.Primitive.Material == nil {
		return 0
	}
	return ro.Primitive.Material.Pipeline()
}

// SortOrder is the depth order of objects drawn with the same pipeline.
type SortOrder int32

const (
	// FrontToBack draws the nearest objects first, to reject hidden
	// fragments early with the depth test.
	FrontToBack SortOrder = iota

	// BackToFront draws the farthest objects first, as needed for blending.
	BackToFront
)

// RenderQueue is the transient per frame list of objects to draw and
// the lights affecting them. It is rebuilt every frame.
type RenderQueue struct {

	// Order is the depth order used by [RenderQueue.Sort].
	Order SortOrder

	// Culled is the number of primitives rejected by frustum culling
	// when the queue was constructed.
	Culled int

	objects     []RenderObject
	directional DirectionalLight
	hasDir      bool
	points      []PointLight
}

// Add appends an object.
func (rq *RenderQueue) Add(ro RenderObject) {
	rq.objects = append(rq.objects, ro)
}

// Len returns the number of objects.
func (rq *RenderQueue) Len() int { return len(rq.objects) }

// Objects returns the objects in draw order. The slice must not be modified.
func (rq *RenderQueue) Objects() []RenderObject { return rq.objects }

// Clear removes all objects and lights, keeping the allocated storage.
func (rq *RenderQueue) Clear() {
	clear(rq.objects)
	rq.objects = rq.objects[:0]
	rq.points = rq.points[:0]
	rq.directional, rq.hasDir = DirectionalLight{}, false
	rq.Culled = 0
}

// Sort orders objects by pipeline and then by squared distance from eye
// in the [RenderQueue.Order] direction. The sort is stable, so objects
// with equal keys keep their insertion order across frames.
func (rq *RenderQueue) Sort(eye mgl32.Vec3) {
	depth := func(ro *RenderObject) float32 {
		d := geom.Translation(ro.Transform).Sub(eye)
		return d.Dot(d)
	}
	slices.SortStableFunc(rq.objects, func(a, b RenderObject) int {
		if c := cmp.Compare(a.Pipeline(), b.Pipeline()); c != 0 {
			return c
		}
		if rq.Order == BackToFront {
			return cmp.Compare(depth(&b), depth(&a))
		}
		return cmp.Compare(depth(&a), depth(&b))
	})
}

// SetDirectionalLight sets the single directional light of the queue.
func (rq *RenderQueue) SetDirectionalLight(l DirectionalLight) {
	rq.directional, rq.hasDir = l, true
}

// DirectionalLight returns the directional light, if one was set.
func (rq *RenderQueue) DirectionalLight() (DirectionalLight, bool) {
	return rq.directional, rq.hasDir
}

// AddPointLight appends a point light.
func (rq *RenderQueue) AddPointLight(l PointLight) {
	rq.points = append(rq.points, l)
}

// PointLights returns the point lights in insertion order.
func (rq *RenderQueue) PointLights() []PointLight { return rq.points }
