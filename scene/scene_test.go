// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scene

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/lumen3d/lumen/base/uid"
	"github.com/lumen3d/lumen/geom"
	"github.com/lumen3d/lumen/gpu"
	"github.com/lumen3d/lumen/gpu/softgpu"
	"github.com/lumen3d/lumen/material"
	"github.com/lumen3d/lumen/mesh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T) *softgpu.Backend {
	opts := &softgpu.Options{}
	opts.Defaults()
	b := softgpu.New(opts)
	t.Cleanup(b.Shutdown)
	return b
}

// unitCube returns a mesh whose bounds are [-1,-1,-1]..[1,1,1].
func unitCube(t *testing.T, b gpu.Backend, mat *material.Instance) *mesh.Mesh {
	pr, err := mesh.NewShapePrimitive(b, mesh.NewBox(2, 2, 2), mat)
	require.NoError(t, err)
	m := mesh.New(b, "cube", pr)
	return m
}

func matApprox(t *testing.T, want, got mgl32.Mat4) {
	t.Helper()
	assert.True(t, want.ApproxEqualThreshold(got, 1e-5), "want %v\ngot %v", want, got)
}

func TestAddChildRejectsInvalid(t *testing.T) {
	g := NewGraph()
	a := g.NewNode(nil, "a")
	b := g.NewNode(a, "b")

	assert.Panics(t, func() { g.Root().AddChild(b) }, "double add")
	assert.Panics(t, func() { b.AddChild(g.Root()) }, "root")
	assert.Panics(t, func() { a.AddChild(nil) })

	loose := NewNode("loose")
	child := loose.NewChild("child")
	assert.Panics(t, func() { child.AddChild(loose) }, "cycle")
	assert.Panics(t, func() { loose.AddChild(loose) }, "self")

	require.True(t, g.RemoveNode(b.ID))
	assert.Equal(t, Removed, b.State())
	assert.Panics(t, func() { a.AddChild(b) }, "removed")

	assert.Equal(t, Attached, a.State())
	assert.Equal(t, Unattached, loose.State())
	assert.Equal(t, g.Root(), a.Parent())
}

func TestUpdateTransforms(t *testing.T) {
	g := NewGraph()
	a := g.NewNode(nil, "a")
	a.Transform.Position = mgl32.Vec3{1, 2, 3}
	a.Transform.Rotation = mgl32.Vec3{0, 90, 0}
	b := g.NewNode(a, "b")
	b.Transform.Position = mgl32.Vec3{0, 0, -2}
	b.Transform.Scale = mgl32.Vec3{2, 2, 2}
	c := g.NewNode(b, "c")
	c.Transform.Rotation = mgl32.Vec3{30, 0, 45}

	g.Root().Transform.Position = mgl32.Vec3{0, -1, 0}
	g.UpdateTransforms()

	want := g.Root().Transform.Matrix()
	for _, n := range []*Node{a, b, c} {
		want = want.Mul4(n.Transform.Matrix())
		matApprox(t, want, n.World())
	}
	// b is 2 along -Z of a, which is rotated to face -X
	assert.InDelta(t, -1, b.WorldPosition().X(), 1e-5)
	assert.InDelta(t, 1, b.WorldPosition().Y(), 1e-5)
	assert.InDelta(t, 3, b.WorldPosition().Z(), 1e-5)

	before := c.World()
	g.UpdateTransforms()
	assert.Equal(t, before, c.World())
}

func TestFindAndRemove(t *testing.T) {
	g := NewGraph()
	a := g.NewNode(nil, "a")
	b := g.NewNode(a, "b")
	leaf := g.NewNode(b, "leaf")
	other := g.NewNode(nil, "other")
	assert.Equal(t, 5, g.Len())

	assert.Same(t, leaf, g.FindByID(leaf.ID))
	assert.Same(t, other, g.FindByID(other.ID))
	assert.Nil(t, g.FindByID(uid.UID(12345)))

	assert.False(t, g.RemoveNode(g.Root().ID))
	assert.Equal(t, 5, g.Len())
	assert.False(t, g.RemoveNode(uid.UID(12345)))

	require.True(t, g.RemoveNode(leaf.ID))
	assert.Nil(t, g.FindByID(leaf.ID))
	assert.Nil(t, leaf.Parent())
	assert.Empty(t, b.Children())

	// removing an inner node takes its subtree
	deep := g.NewNode(b, "deep")
	require.True(t, g.RemoveNode(a.ID))
	assert.Nil(t, g.FindByID(deep.ID))
	assert.Equal(t, []*Node{other}, g.Root().Children())
	assert.Equal(t, 2, g.Len())
	assert.Equal(t, []*Node{deep}, b.Children())
}

func TestConstructRenderQueueSingleObject(t *testing.T) {
	b := newTestBackend(t)
	g := NewGraph()
	child := g.NewNode(nil, "child")
	child.Transform.Position = mgl32.Vec3{0, 0, -5}
	cube := unitCube(t, b, nil)
	child.SetMesh(cube)
	cube.Release()
	defer g.Root().ReleaseResources()

	g.UpdateTransforms()
	cam := NewPerspectiveCamera(45, 0.1, 100)
	f := cam.Frustum(16.0 / 9)
	rq := g.ConstructRenderQueue(&f)

	require.Equal(t, 1, rq.Len())
	ro := rq.Objects()[0]
	assert.Same(t, child.Mesh().Primitives[0], ro.Primitive)
	pos := geom.Translation(ro.Transform)
	assert.InDelta(t, 0, pos.X(), 1e-5)
	assert.InDelta(t, 0, pos.Y(), 1e-5)
	assert.InDelta(t, -5, pos.Z(), 1e-5)
	assert.Zero(t, rq.Culled)

	// behind the camera
	child.Transform.Position = mgl32.Vec3{0, 0, 5}
	g.UpdateTransforms()
	rq = g.ConstructRenderQueue(&f)
	assert.Zero(t, rq.Len())
	assert.Equal(t, 1, rq.Culled)
}

func TestCullingOrtho(t *testing.T) {
	b := newTestBackend(t)
	g := NewGraph()
	cube := unitCube(t, b, nil)
	defer cube.Release()

	cam := NewOrthographicCamera(10, 0, 50)
	cam.Position = mgl32.Vec3{0, 0, 20}
	f := cam.Frustum(1)

	offsets := []mgl32.Vec3{
		{0, 0, 0},
		{100, 0, 0}, {-100, 0, 0},
		{0, 100, 0}, {0, -100, 0},
		{0, 0, 100}, {0, 0, -100},
		{10.5, 0, 0}, // straddles the right plane
	}
	for _, off := range offsets {
		n := g.NewNode(nil, "cube")
		n.Transform.Position = off
		n.SetMesh(cube)
	}
	defer g.Root().ReleaseResources()
	g.UpdateTransforms()
	rq := g.ConstructRenderQueue(&f)
	assert.Equal(t, 2, rq.Len())
	assert.Equal(t, 6, rq.Culled)
	for _, ro := range rq.Objects() {
		assert.Less(t, geom.Translation(ro.Transform).X(), float32(11))
	}
}

func TestLightsCollectedInWorldSpace(t *testing.T) {
	g := NewGraph()
	a := g.NewNode(nil, "a")
	a.Transform.Position = mgl32.Vec3{0, 10, 0}
	a.Transform.Rotation = mgl32.Vec3{0, 0, 90}
	pl := NewPointLight()
	pl.Position = mgl32.Vec3{1, 0, 0}
	a.PointLight = pl
	sun := g.NewNode(a, "sun")
	sun.DirectionalLight = &DirectionalLight{Direction: mgl32.Vec3{2, 0, 0}, Color: mgl32.Vec4{1, 1, 1, 1}, Intensity: 1}
	g.NewNode(nil, "p2").PointLight = NewPointLight()

	g.UpdateTransforms()
	f := geom.NewFrustum(mgl32.Ortho(-1, 1, -1, 1, -1, 1))
	rq := g.ConstructRenderQueue(&f)

	pls := rq.PointLights()
	require.Len(t, pls, 2)
	assert.InDelta(t, 0, pls[0].Position.X(), 1e-5)
	assert.InDelta(t, 11, pls[0].Position.Y(), 1e-5)
	assert.Equal(t, float32(0.1), pls[0].Linear)
	// the node light is not modified
	assert.Equal(t, mgl32.Vec3{1, 0, 0}, pl.Position)

	dl, ok := rq.DirectionalLight()
	require.True(t, ok)
	assert.InDelta(t, 0, dl.Direction.X(), 1e-5)
	assert.InDelta(t, 1, dl.Direction.Y(), 1e-5)

	rq.Clear()
	_, ok = rq.DirectionalLight()
	assert.False(t, ok)
	assert.Empty(t, rq.PointLights())
}

func TestSortStable(t *testing.T) {
	b := newTestBackend(t)
	targets := material.Targets{Color: gpu.FormatB8G8R8A8Srgb}
	reg := material.NewRegistry(b, targets)
	t.Cleanup(reg.Clear)
	var mats []*material.Instance
	for _, name := range []string{"first", "second"} {
		info := &material.DefinitionInfo{Name: name}
		info.Pipeline.Defaults()
		reg.MustRegister(material.NewDefinition(b, info, []byte{1, 2, 3, 4}, targets))
		mi, err := reg.CreateInstance(name)
		require.NoError(t, err)
		mats = append(mats, mi)
	}
	hi, lo := mats[0], mats[1]
	if hi.Pipeline() < lo.Pipeline() {
		hi, lo = lo, hi
	}
	prim := func(m *material.Instance) *mesh.Primitive { return &mesh.Primitive{Material: m} }
	at := func(z float32) mgl32.Mat4 { return mgl32.Translate3D(0, 0, z) }

	// equal pipeline and depth for all of same
	same := make([]*mesh.Primitive, 6)
	rq := &RenderQueue{}
	for i := range same {
		same[i] = prim(hi)
		rq.Add(RenderObject{Transform: at(-3), Primitive: same[i]})
		rq.Add(RenderObject{Transform: at(-float32(i)), Primitive: prim(lo)})
	}
	rq.Sort(mgl32.Vec3{})
	objs := rq.Objects()
	require.Len(t, objs, 12)
	for i, ro := range objs[:6] {
		assert.Equal(t, lo.Pipeline(), ro.Pipeline())
		assert.InDelta(t, -float32(i), geom.Translation(ro.Transform).Z(), 1e-6, "front to back")
	}
	for i, ro := range objs[6:] {
		assert.Same(t, same[i], ro.Primitive, "insertion order kept")
	}

	rq.Order = BackToFront
	rq.Sort(mgl32.Vec3{})
	for i, ro := range rq.Objects()[:6] {
		assert.InDelta(t, -float32(5-i), geom.Translation(ro.Transform).Z(), 1e-6)
	}
	for i, ro := range rq.Objects()[6:] {
		assert.Same(t, same[i], ro.Primitive)
	}
	for _, m := range mats {
		m.Release()
	}
}

func TestConstructRenderQueueUploadsMaterials(t *testing.T) {
	b := newTestBackend(t)
	targets := material.Targets{Color: gpu.FormatB8G8R8A8Srgb}
	reg := material.NewRegistry(b, targets)
	t.Cleanup(reg.Clear)
	info := &material.DefinitionInfo{Name: "flat", Uniforms: []material.UniformMetadata{{Name: "color", Type: material.Vec4}}}
	info.Pipeline.Defaults()
	reg.MustRegister(material.NewDefinition(b, info, []byte{1, 2, 3, 4}, targets))
	mi, err := reg.CreateInstance("flat")
	require.NoError(t, err)
	mi.SetParam("color", material.Vec4Value(mgl32.Vec4{1, 0, 0, 1}))

	g := NewGraph()
	n := g.NewNode(nil, "n")
	n.Transform.Position = mgl32.Vec3{0, 0, -5}
	cube := unitCube(t, b, mi)
	n.SetMesh(cube)
	cube.Release()
	defer g.Root().ReleaseResources()

	require.True(t, mi.IsDirty())
	g.UpdateTransforms()
	f := NewPerspectiveCamera(60, 0.1, 100).Frustum(1)
	rq := g.ConstructRenderQueue(&f)
	assert.Equal(t, 1, rq.Len())
	assert.False(t, mi.IsDirty())
	assert.True(t, mi.UniformSet().IsValid())
}

func TestSetMeshRefs(t *testing.T) {
	b := newTestBackend(t)
	cube := unitCube(t, b, nil)
	n1, n2 := NewNode("1"), NewNode("2")
	n1.SetMesh(cube)
	n2.SetMesh(cube)
	assert.Equal(t, 3, cube.Refs())
	cube.Release()
	n1.SetMesh(nil)
	assert.Equal(t, 1, cube.Refs())
	n2.ReleaseResources()
	assert.Equal(t, 0, cube.Refs())
	assert.Equal(t, 0, b.Live()["buffers"])
}

func TestCamera(t *testing.T) {
	cam := NewPerspectiveCamera(60, 0.1, 100)
	cam.LookAt(mgl32.Vec3{0, 0, 5}, mgl32.Vec3{}, mgl32.Vec3{0, 1, 0})
	assert.True(t, cam.Forward().ApproxEqualThreshold(mgl32.Vec3{0, 0, -1}, 1e-5))
	matApprox(t, mgl32.LookAtV(mgl32.Vec3{0, 0, 5}, mgl32.Vec3{}, mgl32.Vec3{0, 1, 0}), cam.View())

	cam.LookAt(mgl32.Vec3{3, 4, 0}, mgl32.Vec3{3, 4, -10}, mgl32.Vec3{0, 1, 0})
	f := cam.Frustum(1)
	assert.True(t, f.ContainsPoint(mgl32.Vec3{3, 4, -5}))
	assert.False(t, f.ContainsPoint(mgl32.Vec3{3, 4, 5}))

	vp, gvp := cam.ViewProj(1.5), cam.GPUViewProj(1.5)
	p := mgl32.Vec4{3, 5, -5, 1}
	a, b := vp.Mul4x1(p), gvp.Mul4x1(p)
	assert.InDelta(t, a.Y(), -b.Y(), 1e-5)
	assert.InDelta(t, a.X(), b.X(), 1e-5)
	assert.InDelta(t, a.Z(), b.Z(), 1e-5)
}
