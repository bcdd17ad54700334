// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package loader

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/lumen3d/lumen/geom"
	"github.com/lumen3d/lumen/gpu"
	"github.com/lumen3d/lumen/gpu/softgpu"
	"github.com/lumen3d/lumen/material"
	"github.com/lumen3d/lumen/mesh"
	"github.com/lumen3d/lumen/scene"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTargets = material.Targets{Color: gpu.FormatB8G8R8A8Srgb, Depth: gpu.FormatD32Sfloat}

func newTestBackend(t *testing.T) *softgpu.Backend {
	opts := &softgpu.Options{}
	opts.Defaults()
	b := softgpu.New(opts)
	t.Cleanup(b.Shutdown)
	return b
}

func newTestRegistry(t *testing.T, b gpu.Backend, withPBR bool) *material.Registry {
	reg := material.NewRegistry(b, testTargets)
	t.Cleanup(reg.Clear)
	if withPBR {
		info := &material.DefinitionInfo{Name: "pbr", Uniforms: []material.UniformMetadata{
			{Name: BaseColorParam, Type: material.Vec4},
			{Name: MetallicParam, Type: material.Float},
			{Name: RoughnessParam, Type: material.Float},
			{Name: AlbedoParam, Type: material.Texture, Binding: 1},
		}}
		info.Pipeline.Defaults()
		reg.MustRegister(material.NewDefinition(b, info, []byte{3, 2, 0x23, 7}, testTargets))
	}
	return reg
}

func pngBytes(t *testing.T, w, h int, c color.RGBA) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// writeScene writes a binary glTF file with a parent node translated
// and rotated, a child triangle drawn with a textured red material,
// a matrix node with a quad drawn with a material whose texture is an
// external file, and a camera node.
func writeScene(t *testing.T) string {
	dir := t.TempDir()
	doc := gltf.NewDocument()

	tri := map[string]uint32{
		"POSITION":   modeler.WritePosition(doc, [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}),
		"TEXCOORD_0": modeler.WriteTextureCoord(doc, [][2]float32{{0, 1}, {1, 1}, {0, 0}}),
	}
	triIdx := modeler.WriteIndices(doc, []uint32{0, 1, 2})
	quad := map[string]uint32{
		"POSITION": modeler.WritePosition(doc, [][3]float32{{-1, 0, -1}, {-1, 0, 1}, {1, 0, 1}, {1, 0, -1}}),
		"NORMAL":   modeler.WriteNormal(doc, [][3]float32{{0, 1, 0}, {0, 1, 0}, {0, 1, 0}, {0, 1, 0}}),
	}
	quadIdx := modeler.WriteIndices(doc, []uint32{0, 1, 2, 0, 2, 3})

	embedded, err := modeler.WriteImage(doc, "embedded", "image/png", bytes.NewReader(pngBytes(t, 4, 2, color.RGBA{255, 0, 0, 255})))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blue tile.png"), pngBytes(t, 2, 2, color.RGBA{0, 0, 255, 255}), 0o644))
	doc.Images = append(doc.Images, &gltf.Image{Name: "file", URI: "blue%20tile.png"})
	doc.Samplers = append(doc.Samplers, &gltf.Sampler{MagFilter: gltf.MagNearest, WrapS: gltf.WrapClampToEdge, WrapT: gltf.WrapClampToEdge})
	doc.Textures = append(doc.Textures,
		&gltf.Texture{Source: gltf.Index(embedded), Sampler: gltf.Index(0)},
		&gltf.Texture{Source: gltf.Index(uint32(len(doc.Images) - 1))},
	)

	metallic, roughness := float32(0.25), float32(0.75)
	doc.Materials = append(doc.Materials,
		&gltf.Material{Name: "red", PBRMetallicRoughness: &gltf.PBRMetallicRoughness{
			BaseColorFactor:  &[4]float32{1, 0, 0, 1},
			MetallicFactor:   &metallic,
			RoughnessFactor:  &roughness,
			BaseColorTexture: &gltf.TextureInfo{Index: 0},
		}},
		&gltf.Material{Name: "blue", PBRMetallicRoughness: &gltf.PBRMetallicRoughness{
			BaseColorTexture: &gltf.TextureInfo{Index: 1},
		}},
	)
	doc.Meshes = append(doc.Meshes,
		&gltf.Mesh{Name: "tri", Primitives: []*gltf.Primitive{{Indices: gltf.Index(triIdx), Attributes: tri, Material: gltf.Index(0)}}},
		&gltf.Mesh{Name: "quad", Primitives: []*gltf.Primitive{{Indices: gltf.Index(quadIdx), Attributes: quad, Material: gltf.Index(1)}}},
	)
	far := float32(50)
	doc.Cameras = append(doc.Cameras, &gltf.Camera{Perspective: &gltf.Perspective{Yfov: mgl32.DegToRad(60), Znear: 0.5, Zfar: &far}})

	quadXform := geom.Transform{Position: mgl32.Vec3{0, -1, -4}, Rotation: mgl32.Vec3{0, 30, 0}, Scale: mgl32.Vec3{2, 2, 2}}
	doc.Nodes = append(doc.Nodes,
		&gltf.Node{
			Name:        "parent",
			Children:    []uint32{1},
			Translation: [3]float32{0, 0, -5},
			Rotation:    [4]float32{0, 0.70710677, 0, 0.70710677},
			Scale:       [3]float32{1, 1, 1},
		},
		&gltf.Node{Name: "child", Mesh: gltf.Index(0), Translation: [3]float32{1, 0, 0}, Rotation: [4]float32{0, 0, 0, 1}, Scale: [3]float32{1, 1, 1}},
		&gltf.Node{Name: "quad", Mesh: gltf.Index(1), Matrix: [16]float32(quadXform.Matrix())},
		&gltf.Node{Name: "camera", Camera: gltf.Index(0), Translation: [3]float32{0, 2, 3}, Rotation: [4]float32{0, 0, 0, 1}, Scale: [3]float32{1, 1, 1}},
	)
	doc.Scenes[0].Nodes = []uint32{0, 2, 3}

	path := filepath.Join(dir, "scene.glb")
	require.NoError(t, gltf.SaveBinary(doc, path))
	return path
}

func childNamed(n *scene.Node, name string) *scene.Node {
	var found *scene.Node
	n.Walk(func(c *scene.Node) bool {
		if c.Name == name {
			found = c
		}
		return found == nil
	})
	return found
}

func TestLoadGLTF(t *testing.T) {
	b := newTestBackend(t)
	reg := newTestRegistry(t, b, true)
	path := writeScene(t)

	model, err := LoadGLTF(context.Background(), b, reg, path)
	require.NoError(t, err)
	root := model.Root
	assert.Equal(t, "scene.glb", root.Name)
	assert.Equal(t, scene.Unattached, root.State())
	require.Len(t, root.Children(), 3)

	g := scene.NewGraph()
	g.Root().AddChild(root)
	g.UpdateTransforms()

	child := childNamed(root, "child")
	require.NotNil(t, child)
	// parent turned 90 degrees about Y moves the child's +X offset to -Z
	assert.True(t, child.WorldPosition().ApproxEqualThreshold(mgl32.Vec3{0, 0, -6}, 1e-5), child.WorldPosition())

	m := child.Mesh()
	require.NotNil(t, m)
	require.Len(t, m.Primitives, 1)
	pr := m.Primitives[0]
	assert.Equal(t, uint32(3), pr.IndexCount)
	verts := mesh.DecodeVertices(b.ReadBuffer(pr.VertexBuffer))
	require.Len(t, verts, 3)
	assert.Equal(t, mgl32.Vec3{1, 0, 0}, verts[1].Position)
	assert.Equal(t, mgl32.Vec2{0, 0}, verts[2].UV())
	for _, v := range verts {
		assert.True(t, v.Normal.ApproxEqual(mgl32.Vec3{0, 0, 1}), "computed normal %v", v.Normal)
	}

	mi := pr.Material
	require.NotNil(t, mi)
	c, ok := mi.Param(BaseColorParam)
	require.True(t, ok)
	col, _ := c.Vec4()
	assert.Equal(t, mgl32.Vec4{1, 0, 0, 1}, col)
	met, _ := mi.Param(MetallicParam)
	mv, _ := met.Float()
	assert.Equal(t, float32(0.25), mv)
	alb, ok := mi.Param(AlbedoParam)
	require.True(t, ok)
	tex, _ := alb.Texture()
	require.Len(t, model.Textures, 2)
	assert.Same(t, model.Textures[0], tex, "texture index 0 is bound")
	assert.Equal(t, gpu.Extent2D{Width: 4, Height: 2}, model.Textures[0].Extent)
	assert.Equal(t, uint32(3), model.Textures[0].MipLevels)

	quad := childNamed(root, "quad")
	require.NotNil(t, quad)
	assert.True(t, quad.Transform.Position.ApproxEqual(mgl32.Vec3{0, -1, -4}))
	assert.True(t, quad.Transform.Scale.ApproxEqualThreshold(mgl32.Vec3{2, 2, 2}, 1e-5))
	qm := quad.Mesh().Primitives[0]
	assert.Equal(t, uint32(6), qm.IndexCount)
	blue, _ := qm.Material.Param(AlbedoParam)
	btex, _ := blue.Texture()
	assert.Same(t, model.Textures[1], btex)
	assert.Equal(t, gpu.Extent2D{Width: 2, Height: 2}, model.Textures[1].Extent)
	rough, _ := qm.Material.Param(RoughnessParam)
	rv, _ := rough.Float()
	assert.Equal(t, float32(1), rv, "glTF default")

	cam := childNamed(root, "camera")
	require.NotNil(t, cam)
	require.NotNil(t, cam.Camera)
	assert.InDelta(t, 60, cam.Camera.FOV, 1e-4)
	assert.Equal(t, float32(0.5), cam.Camera.Near)
	assert.Equal(t, float32(50), cam.Camera.Far)

	f := scene.NewPerspectiveCamera(60, 0.1, 100).Frustum(1)
	rq := g.ConstructRenderQueue(&f)
	assert.Equal(t, 2, rq.Len())

	require.True(t, g.RemoveNode(root.ID))
	model.Release()
	reg.Clear()
	b.DeviceWait()
	for _, kind := range []string{"buffers", "images", "samplers", "uniformSets"} {
		assert.Zero(t, b.Live()[kind], kind)
	}
}

func TestLoadWithoutDefinition(t *testing.T) {
	b := newTestBackend(t)
	reg := newTestRegistry(t, b, false)
	model, err := LoadGLTF(context.Background(), b, reg, writeScene(t))
	require.NoError(t, err)
	defer model.Release()

	child := childNamed(model.Root, "child")
	require.NotNil(t, child)
	assert.Nil(t, child.Mesh().Primitives[0].Material, "not drawn")
}

func TestLoadCanceled(t *testing.T) {
	b := newTestBackend(t)
	reg := newTestRegistry(t, b, true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := LoadGLTF(ctx, b, reg, writeScene(t))
	assert.ErrorIs(t, err, context.Canceled)
	reg.Clear()
	for _, kind := range []string{"buffers", "images", "samplers"} {
		assert.Zero(t, b.Live()[kind], kind)
	}
}

func TestLoadInvalid(t *testing.T) {
	b := newTestBackend(t)
	reg := newTestRegistry(t, b, true)

	_, err := LoadGLTF(context.Background(), b, reg, filepath.Join(t.TempDir(), "missing.gltf"))
	assert.Error(t, err)

	// a node shared by two parents
	doc := gltf.NewDocument()
	doc.Nodes = append(doc.Nodes,
		&gltf.Node{Name: "a", Children: []uint32{2}},
		&gltf.Node{Name: "b", Children: []uint32{2}},
		&gltf.Node{Name: "shared"},
	)
	doc.Scenes[0].Nodes = []uint32{0, 1}
	path := filepath.Join(t.TempDir(), "shared.gltf")
	require.NoError(t, gltf.Save(doc, path))
	_, err = LoadGLTF(context.Background(), b, reg, path)
	assert.ErrorContains(t, err, "more than one parent")
}

func TestComputeNormals(t *testing.T) {
	vs := []mesh.Vertex{
		{Position: mgl32.Vec3{0, 0, 0}},
		{Position: mgl32.Vec3{0, 0, 1}},
		{Position: mgl32.Vec3{1, 0, 1}},
		{Position: mgl32.Vec3{1, 0, 0}},
	}
	computeNormals(vs, []uint32{0, 1, 2, 0, 2, 3, 0, 9, 1})
	for _, v := range vs {
		assert.True(t, v.Normal.ApproxEqual(mgl32.Vec3{0, 1, 0}), v.Normal)
	}
}
