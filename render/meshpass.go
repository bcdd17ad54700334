// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package render

import (
	"log/slog"

	"github.com/lumen3d/lumen/gpu"
	"github.com/lumen3d/lumen/material"
	"github.com/lumen3d/lumen/scene"
)

// MeshPass draws the meshes of a scene graph seen by a camera.
// Each execution updates the world transforms, builds the frustum culled
// render queue, sorts it and records the draws into a command buffer
// inside the current rendering scope.
type MeshPass struct {

	// Order is the depth order of objects sharing a pipeline.
	Order scene.SortOrder

	backend gpu.Backend
	graph   *scene.Graph
	camera  *scene.Camera
	queue   scene.RenderQueue

	sceneBuffer gpu.Buffer
	sceneHash   uint64
	sceneValid  bool

	// sceneSets holds the scene data uniform set allocated with the
	// layout of each shader drawn with.
	sceneSets map[gpu.Shader]gpu.UniformSet
}

// NewMeshPass returns a pass with a default perspective camera and no graph.
func NewMeshPass(b gpu.Backend) *MeshPass {
	return &MeshPass{
		backend:   b,
		camera:    scene.NewPerspectiveCamera(45, 0.01, 1000),
		sceneSets: map[gpu.Shader]gpu.UniformSet{},
	}
}

// SetGraph sets the scene graph to draw.
func (mp *MeshPass) SetGraph(g *scene.Graph) { mp.graph = g }

// Graph returns the scene graph drawn, if any.
func (mp *MeshPass) Graph() *scene.Graph { return mp.graph }

// SetCamera sets the camera to draw from.
func (mp *MeshPass) SetCamera(c *scene.Camera) { mp.camera = c }

// Camera returns the camera drawn from.
func (mp *MeshPass) Camera() *scene.Camera { return mp.camera }

// Queue returns the render queue of the last execution.
func (mp *MeshPass) Queue() *scene.RenderQueue { return &mp.queue }

// Execute records the draws of the scene into cmd, which must be inside
// a rendering scope. Without a graph it returns [scene.ErrNoGraph] and
// records nothing, so the caller skips the frame.
func (mp *MeshPass) Execute(cmd gpu.CommandBuffer, aspect float32) (Stats, error) {
	var st Stats
	if mp.graph == nil {
		slog.Error("render: mesh pass executed without a scene graph")
		return st, scene.ErrNoGraph
	}
	b := mp.backend
	mp.graph.UpdateTransforms()
	f := mp.camera.Frustum(aspect)
	mp.graph.CollectRenderQueue(&f, &mp.queue)
	mp.queue.Order = mp.Order
	mp.queue.Sort(mp.camera.Position)
	st.Culled = mp.queue.Culled

	if mp.uploadSceneData(aspect) {
		st.SceneUploads++
	}

	var bound gpu.Pipeline
	for _, ro := range mp.queue.Objects() {
		pr := ro.Primitive
		mat := pr.Material
		if mat == nil {
			slog.Debug("render: primitive without material skipped")
			continue
		}
		if pl := mat.Pipeline(); pl != bound {
			b.CommandBindGraphicsPipeline(cmd, pl)
			b.CommandBindUniformSets(cmd, pl, material.SceneSet, mp.sceneSet(mat.Definition().Shader))
			bound = pl
			st.PipelineBinds++
		}
		mat.Bind(cmd)

		pc := gpu.PushConstants{Transform: ro.Transform, VertexBuffer: pr.VertexAddress}
		b.CommandPushConstants(cmd, bound, 0, pc.Bytes())
		b.CommandBindIndexBuffer(cmd, pr.IndexBuffer, 0, gpu.IndexUint32)
		b.CommandDrawIndexed(cmd, pr.IndexCount, 1, 0, 0, 0)
		st.DrawCalls++
		st.IndexCount += int(pr.IndexCount)
	}
	return st, nil
}

// uploadSceneData writes the scene data to its buffer if it changed
// since the last write, and returns whether it did.
func (mp *MeshPass) uploadSceneData(aspect float32) bool {
	sd := SceneData{
		ViewProj:       mp.camera.GPUViewProj(aspect),
		CameraPosition: mp.camera.Position,
		PointLights:    mp.queue.PointLights(),
	}
	if dl, ok := mp.queue.DirectionalLight(); ok {
		sd.Directional = dl
	}
	data := sd.Bytes()
	h := hashBytes(data)
	if mp.sceneValid && h == mp.sceneHash {
		return false
	}
	if !mp.sceneBuffer.IsValid() {
		mp.sceneBuffer = mp.backend.BufferCreate(SceneDataSize, gpu.BufferUsageUniform, gpu.AllocationCPU)
	}
	gpu.WriteBuffer(mp.backend, mp.sceneBuffer, 0, data)
	mp.sceneHash, mp.sceneValid = h, true
	return true
}

func (mp *MeshPass) sceneSet(sh gpu.Shader) gpu.UniformSet {
	if s, ok := mp.sceneSets[sh]; ok {
		return s
	}
	s := mp.backend.UniformSetCreate([]gpu.Uniform{gpu.BufferUniform(0, mp.sceneBuffer)}, sh, material.SceneSet)
	mp.sceneSets[sh] = s
	return s
}

// Free waits for the device to be idle and frees the scene data
// buffer and uniform sets.
func (mp *MeshPass) Free() {
	mp.backend.DeviceWait()
	for sh, s := range mp.sceneSets {
		mp.backend.UniformSetFree(s)
		delete(mp.sceneSets, sh)
	}
	mp.backend.BufferFree(mp.sceneBuffer)
	mp.sceneBuffer = 0
	mp.sceneValid = false
	mp.queue.Clear()
}
