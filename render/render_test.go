// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package render

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/lumen3d/lumen/geom"
	"github.com/lumen3d/lumen/gpu"
	"github.com/lumen3d/lumen/gpu/softgpu"
	"github.com/lumen3d/lumen/material"
	"github.com/lumen3d/lumen/mesh"
	"github.com/lumen3d/lumen/scene"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTargets = material.Targets{Color: gpu.FormatB8G8R8A8Srgb, Depth: gpu.FormatD32Sfloat}

func newTestBackend(t *testing.T) *softgpu.Backend {
	opts := &softgpu.Options{}
	opts.Defaults()
	opts.RecordDraws = true
	b := softgpu.New(opts)
	t.Cleanup(func() {
		assert.NoError(t, b.Err())
		b.Shutdown()
	})
	return b
}

func newTestRenderer(t *testing.T, b gpu.Backend, frames int) *Renderer {
	opts := &Options{}
	opts.Defaults()
	opts.FramesInFlight = frames
	opts.Extent = gpu.Extent2D{Width: 64, Height: 48}
	r := New(b, opts)
	t.Cleanup(r.Shutdown)
	return r
}

// newMaterials registers one definition per name and returns an instance of each.
func newMaterials(t *testing.T, b gpu.Backend, names ...string) []*material.Instance {
	reg := material.NewRegistry(b, testTargets)
	t.Cleanup(reg.Clear)
	var mats []*material.Instance
	for _, name := range names {
		info := &material.DefinitionInfo{Name: name, Uniforms: []material.UniformMetadata{{Name: "color", Type: material.Vec4}}}
		info.Pipeline.Defaults()
		reg.MustRegister(material.NewDefinition(b, info, []byte{3, 2, 0x23, 7}, testTargets))
		mi, err := reg.CreateInstance(name)
		require.NoError(t, err)
		mats = append(mats, mi)
	}
	return mats
}

func addCube(t *testing.T, b gpu.Backend, g *scene.Graph, name string, pos mgl32.Vec3, mat *material.Instance) *scene.Node {
	pr, err := mesh.NewShapePrimitive(b, mesh.NewBox(1, 1, 1), mat)
	require.NoError(t, err)
	m := mesh.New(b, name, pr)
	n := g.NewNode(nil, name)
	n.Transform.Position = pos
	n.SetMesh(m)
	m.Release()
	return n
}

func newTestGraph(t *testing.T) *scene.Graph {
	g := scene.NewGraph()
	t.Cleanup(g.Root().ReleaseResources)
	return g
}

func newTestPass(t *testing.T, b gpu.Backend) *MeshPass {
	mp := NewMeshPass(b)
	t.Cleanup(mp.Free)
	return mp
}

func TestExecuteWithoutGraph(t *testing.T) {
	b := newTestBackend(t)
	r := newTestRenderer(t, b, 2)
	mp := newTestPass(t, b)

	st, err := r.Render(mp)
	assert.ErrorIs(t, err, scene.ErrNoGraph)
	assert.Zero(t, st.DrawCalls)
	assert.Zero(t, st.Frames, "skipped frame")
	assert.Zero(t, r.Stats().Frames)
	b.DeviceWait()
	assert.Empty(t, b.Draws())
	assert.Equal(t, 1, b.Presents(r.Swapchain()), "frame still presented")
}

func TestRenderDrawsScene(t *testing.T) {
	b := newTestBackend(t)
	r := newTestRenderer(t, b, 2)
	mp := newTestPass(t, b)
	mats := newMaterials(t, b, "red", "blue")
	g := newTestGraph(t)
	red, blue := mats[0], mats[1]

	near := addCube(t, b, g, "near", mgl32.Vec3{0, 0, -3}, red.Ref())
	far := addCube(t, b, g, "far", mgl32.Vec3{0, 0, -8}, red)
	other := addCube(t, b, g, "other", mgl32.Vec3{1, 0, -5}, blue)
	addCube(t, b, g, "behind", mgl32.Vec3{0, 0, 10}, nil)
	mp.SetGraph(g)

	st, err := r.Render(mp)
	require.NoError(t, err)
	assert.Equal(t, 3, st.DrawCalls)
	assert.Equal(t, 2, st.PipelineBinds)
	assert.Equal(t, 1, st.Culled)
	assert.Equal(t, 1, st.SceneUploads)
	assert.Equal(t, 3*36, st.IndexCount)

	b.DeviceWait()
	draws := b.Draws()
	require.Len(t, draws, 3)
	byVertex := map[gpu.Buffer]softgpu.DrawRecord{}
	for _, d := range draws {
		byVertex[d.VertexBuffer] = d
		require.Len(t, d.Sets, 2)
		assert.Equal(t, uint32(36), d.IndexCount)
	}
	for _, n := range []*scene.Node{near, far, other} {
		pr := n.Mesh().Primitives[0]
		d, ok := byVertex[pr.VertexBuffer]
		require.True(t, ok, n.Name)
		assert.Equal(t, pr.Material.Pipeline(), d.Pipeline)
		assert.Equal(t, pr.IndexBuffer, d.IndexBuffer)
		assert.Equal(t, pr.Material.UniformSet(), d.Sets[0])
		got := geom.Translation(mgl32.Mat4(d.Transform))
		assert.True(t, n.WorldPosition().ApproxEqual(got), n.Name)
	}

	// same pipeline draws are adjacent and front to back
	var redDraws []softgpu.DrawRecord
	for _, d := range draws {
		if d.Pipeline == red.Pipeline() {
			redDraws = append(redDraws, d)
		}
	}
	require.Len(t, redDraws, 2)
	assert.Equal(t, near.Mesh().Primitives[0].VertexBuffer, redDraws[0].VertexBuffer)
	assert.Equal(t, redDraws[0].Sets[1], redDraws[1].Sets[1], "scene set shared per shader")
	assert.NotEqual(t, redDraws[0].Sets[1], byVertex[other.Mesh().Primitives[0].VertexBuffer].Sets[1])

	mp.Order = scene.BackToFront
	b.ResetDraws()
	_, err = r.Render(mp)
	require.NoError(t, err)
	b.DeviceWait()
	redDraws = redDraws[:0]
	for _, d := range b.Draws() {
		if d.Pipeline == red.Pipeline() {
			redDraws = append(redDraws, d)
		}
	}
	require.Len(t, redDraws, 2)
	assert.Equal(t, far.Mesh().Primitives[0].VertexBuffer, redDraws[0].VertexBuffer)
}

func float32At(b []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[off:]))
}

func TestSceneDataUploadedOnChange(t *testing.T) {
	b := newTestBackend(t)
	r := newTestRenderer(t, b, 2)
	mp := newTestPass(t, b)
	mats := newMaterials(t, b, "flat")
	g := newTestGraph(t)
	addCube(t, b, g, "cube", mgl32.Vec3{0, 0, -4}, mats[0])
	sun := g.NewNode(nil, "sun")
	sun.DirectionalLight = scene.NewDirectionalLight()
	mp.SetGraph(g)

	uploads := func() int {
		st, err := r.Render(mp)
		require.NoError(t, err)
		return st.SceneUploads
	}
	assert.Equal(t, 1, uploads())
	assert.Equal(t, 0, uploads())
	assert.Equal(t, 0, uploads())

	mp.Camera().Position = mgl32.Vec3{0, 1, 0}
	assert.Equal(t, 1, uploads())
	assert.Equal(t, 0, uploads())

	lamp := g.NewNode(nil, "lamp")
	lamp.Transform.Position = mgl32.Vec3{2, 3, 4}
	lamp.PointLight = scene.NewPointLight()
	assert.Equal(t, 1, uploads())

	b.DeviceWait()
	data := b.ReadBuffer(mp.sceneBuffer)
	require.Len(t, data, SceneDataSize)
	vp := mp.Camera().GPUViewProj(r.Extent().Aspect())
	assert.Equal(t, vp[0], float32At(data, 0))
	assert.Equal(t, vp[15], float32At(data, 60))
	assert.Equal(t, float32(1), float32At(data, 68), "camera y")
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(data[112:]))
	assert.InDelta(t, 2, float32At(data, 128), 1e-5)
	assert.InDelta(t, 3, float32At(data, 132), 1e-5)
	assert.InDelta(t, 4, float32At(data, 136), 1e-5)
	assert.InDelta(t, 0.1, float32At(data, 160), 1e-6)
	assert.InDelta(t, 0.01, float32At(data, 164), 1e-6)
	assert.Equal(t, sun.DirectionalLight.Intensity, float32At(data, 92))
}

func TestSceneDataBytes(t *testing.T) {
	sd := SceneData{ViewProj: mgl32.Ident4()}
	for i := range MaxPointLights + 4 {
		pl := scene.NewPointLight()
		pl.Position = mgl32.Vec3{float32(i), 0, 0}
		sd.PointLights = append(sd.PointLights, *pl)
	}
	data := sd.Bytes()
	require.Len(t, data, SceneDataSize)
	assert.Equal(t, uint32(MaxPointLights), binary.LittleEndian.Uint32(data[112:]))
	last := sceneLightsOffset + (MaxPointLights-1)*pointLightSize
	assert.Equal(t, float32(MaxPointLights-1), float32At(data, last))
	assert.Equal(t, float32(1), float32At(data, last+12))
	assert.Equal(t, float32(1), float32At(data, 0))
	assert.Equal(t, float32(0), float32At(data, 4))
}

func TestFramesInFlight(t *testing.T) {
	b := newTestBackend(t)
	r := newTestRenderer(t, b, 3)
	require.Equal(t, 3, r.FramesInFlight())

	live := b.Live()
	assert.Equal(t, 3, live["fences"])
	assert.Equal(t, 6, live["semaphores"])
	assert.Equal(t, 3, live["pools"])
	assert.Equal(t, 1, live["swapchains"])

	var last gpu.Image
	for i := range 7 {
		f, err := r.BeginFrame()
		require.NoError(t, err)
		assert.Equal(t, i%3, f.Index)
		assert.Equal(t, uint64(i), f.Number)
		assert.Equal(t, r.FrameData(f.Index).Cmd, f.Cmd)
		last = f.Image
		require.NoError(t, r.EndFrame())
	}
	b.DeviceWait()
	assert.Equal(t, 7, b.Presents(r.Swapchain()))
	assert.Equal(t, gpu.LayoutPresent, b.ImageLayout(last))
	assert.Panics(t, func() { r.EndFrame() }, "end without begin")
}

func TestOutOfDate(t *testing.T) {
	b := newTestBackend(t)
	r := newTestRenderer(t, b, 2)

	b.MarkOutOfDate(r.Swapchain())
	_, err := r.BeginFrame()
	assert.ErrorIs(t, err, gpu.ErrOutOfDate)

	// rebuilt: the next frame proceeds
	_, err = r.BeginFrame()
	require.NoError(t, err)
	b.MarkOutOfDate(r.Swapchain())
	assert.ErrorIs(t, r.EndFrame(), gpu.ErrOutOfDate)

	for range 4 {
		_, err = r.BeginFrame()
		require.NoError(t, err)
		require.NoError(t, r.EndFrame())
	}
	b.DeviceWait()
	// the out of date present is not counted
	assert.Equal(t, 4, b.Presents(r.Swapchain()))
}

func TestResize(t *testing.T) {
	b := newTestBackend(t)
	r := newTestRenderer(t, b, 2)

	r.Resize(0, 0)
	_, err := r.BeginFrame()
	assert.ErrorIs(t, err, ErrMinimized)

	r.Resize(320, 200)
	want := gpu.Extent2D{Width: 320, Height: 200}
	assert.Equal(t, want, r.Extent())
	assert.Equal(t, want, b.SwapchainExtent(r.Swapchain()))
	assert.Equal(t, want, b.ImageExtent(r.depth))

	f, err := r.BeginFrame()
	require.NoError(t, err)
	assert.Equal(t, want, f.Extent)
	assert.Equal(t, want, b.ImageExtent(f.Image))
	assert.InDelta(t, 1.6, f.Aspect(), 1e-6)
	require.NoError(t, r.EndFrame())
}

func TestDeferRunsWhenFrameSlotReused(t *testing.T) {
	b := newTestBackend(t)
	r := newTestRenderer(t, b, 2)
	buf := b.BufferCreate(64, gpu.BufferUsageStorage, gpu.AllocationCPU)

	freed := false
	_, err := r.BeginFrame()
	require.NoError(t, err)
	r.Defer(func() {
		b.BufferFree(buf)
		freed = true
	})
	require.NoError(t, r.EndFrame())

	_, err = r.BeginFrame()
	require.NoError(t, err)
	assert.False(t, freed, "other frame slot")
	require.NoError(t, r.EndFrame())

	_, err = r.BeginFrame()
	require.NoError(t, err)
	assert.True(t, freed, "slot reused after its fence signaled")
	require.NoError(t, r.EndFrame())

	atShutdown := false
	r.Defer(func() { atShutdown = true })
	r.Shutdown()
	assert.True(t, atShutdown)
	for _, kind := range []string{"fences", "semaphores", "pools", "swapchains", "images"} {
		assert.Zero(t, b.Live()[kind], kind)
	}
}
