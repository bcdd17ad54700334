// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package loader builds scene subtrees from glTF 2.0 files.
//
// Node transforms, triangle meshes, perspective and orthographic cameras
// and the base color parameters of metallic roughness materials are
// loaded; animations, skins and extensions are ignored.
package loader

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"runtime"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/lumen3d/lumen/base/errors"
	"github.com/lumen3d/lumen/geom"
	"github.com/lumen3d/lumen/gpu"
	"github.com/lumen3d/lumen/material"
	"github.com/lumen3d/lumen/mesh"
	"github.com/lumen3d/lumen/scene"
	"github.com/lumen3d/lumen/texture"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"golang.org/x/sync/errgroup"
)

// Material parameter names set on the instances of loaded materials.
const (
	BaseColorParam = "base_color"
	MetallicParam  = "metallic"
	RoughnessParam = "roughness"
	AlbedoParam    = "albedo"
)

// Options configure loading.
type Options struct {

	// Definition is the material definition instanced for every material.
	Definition string

	// Decoders is the number of images decoded concurrently.
	Decoders int

	// Mipmaps generates mip chains for textures.
	Mipmaps bool
}

// Defaults sets the pbr definition, mipmaps and one decoder per CPU.
func (o *Options) Defaults() {
	o.Definition = "pbr"
	o.Decoders = runtime.GOMAXPROCS(0)
	o.Mipmaps = true
}

// Model is a loaded glTF scene: a subtree to add to a scene graph and
// the textures its materials sample.
type Model struct {

	// Root is the unattached root of the subtree, with one child
	// per root node of the glTF scene.
	Root *scene.Node

	// Textures are owned by the model, indexed as the glTF textures.
	// Unused textures are nil.
	Textures []*texture.Texture

	backend gpu.Backend
}

// Release releases the meshes of the subtree and then the textures.
// The subtree must have been removed from any graph being drawn.
func (m *Model) Release() {
	m.Root.ReleaseResources()
	if len(m.Textures) > 0 {
		m.backend.DeviceWait()
	}
	for i, tx := range m.Textures {
		if tx != nil {
			tx.Release()
			m.Textures[i] = nil
		}
	}
}

// LoadGLTF loads the default scene of a .gltf or .glb file with the
// default [Options].
func LoadGLTF(ctx context.Context, b gpu.Backend, reg *material.Registry, path string) (*Model, error) {
	opts := &Options{}
	opts.Defaults()
	return Load(ctx, b, reg, path, opts)
}

// Load loads the default scene of a .gltf or .glb file. Images are
// decoded concurrently; all GPU uploads happen on the calling goroutine.
func Load(ctx context.Context, b gpu.Backend, reg *material.Registry, path string, opts *Options) (*Model, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("loader: %w", err)
	}
	ld := &loading{
		ctx:     ctx,
		backend: b,
		reg:     reg,
		opts:    opts,
		doc:     doc,
		dir:     filepath.Dir(path),
		model:   &Model{backend: b},
	}
	if err := ld.load(filepath.Base(path)); err != nil {
		ld.abort()
		return nil, err
	}
	return ld.model, nil
}

// loading is the state of one load.
type loading struct {
	ctx     context.Context
	backend gpu.Backend
	reg     *material.Registry
	opts    *Options
	doc     *gltf.Document
	dir     string

	model     *Model
	materials []*material.Instance
	meshes    []*mesh.Mesh
	fallback  *material.Instance
	attached  []bool
}

func (ld *loading) load(name string) error {
	if err := ld.loadTextures(); err != nil {
		return err
	}
	ld.loadMaterials()
	if err := ld.ctx.Err(); err != nil {
		return err
	}
	if err := ld.loadMeshes(); err != nil {
		return err
	}
	root := scene.NewNode(name)
	ld.attached = make([]bool, len(ld.doc.Nodes))
	for _, ni := range ld.sceneNodes() {
		n, err := ld.node(ni)
		if err != nil {
			root.ReleaseResources()
			return err
		}
		root.AddChild(n)
	}
	ld.model.Root = root
	ld.releaseLoadRefs()
	slog.Info("loader: loaded glTF", "file", name, "nodes", len(ld.doc.Nodes), "meshes", len(ld.meshes), "materials", len(ld.materials), "textures", len(ld.doc.Textures))
	return nil
}

// sceneNodes returns the root nodes of the default scene, or of the
// first scene, or all nodes that are nobody's child.
func (ld *loading) sceneNodes() []uint32 {
	doc := ld.doc
	if len(doc.Scenes) > 0 {
		si := uint32(0)
		if doc.Scene != nil && int(*doc.Scene) < len(doc.Scenes) {
			si = *doc.Scene
		}
		return doc.Scenes[si].Nodes
	}
	child := make([]bool, len(doc.Nodes))
	for _, n := range doc.Nodes {
		for _, c := range n.Children {
			if int(c) < len(child) {
				child[c] = true
			}
		}
	}
	var roots []uint32
	for i, isChild := range child {
		if !isChild {
			roots = append(roots, uint32(i))
		}
	}
	return roots
}

// node converts the glTF node and its descendants.
func (ld *loading) node(i uint32) (*scene.Node, error) {
	doc := ld.doc
	if int(i) >= len(doc.Nodes) {
		return nil, fmt.Errorf("loader: node index %d out of range", i)
	}
	if ld.attached[i] {
		return nil, fmt.Errorf("loader: node %d has more than one parent", i)
	}
	ld.attached[i] = true
	gn := doc.Nodes[i]
	name := gn.Name
	if name == "" {
		name = fmt.Sprintf("node%d", i)
	}
	n := scene.NewNode(name)
	n.Transform = nodeTransform(gn)
	if gn.Mesh != nil {
		if int(*gn.Mesh) >= len(ld.meshes) {
			return nil, fmt.Errorf("loader: node %q mesh index %d out of range", name, *gn.Mesh)
		}
		if m := ld.meshes[*gn.Mesh]; m != nil {
			n.SetMesh(m)
		}
	}
	if gn.Camera != nil && int(*gn.Camera) < len(doc.Cameras) {
		n.Camera = camera(doc.Cameras[*gn.Camera])
	}
	for _, ci := range gn.Children {
		c, err := ld.node(ci)
		if err != nil {
			n.ReleaseResources()
			return nil, err
		}
		n.AddChild(c)
	}
	return n, nil
}

// nodeTransform returns the local transform of a node given either
// as a matrix or as translation, rotation and scale.
func nodeTransform(gn *gltf.Node) geom.Transform {
	if m := gn.MatrixOrDefault(); m != gltf.DefaultMatrix {
		return geom.Decompose(mgl32.Mat4(m))
	}
	t := geom.NewTransform()
	t.Position = gn.TranslationOrDefault()
	r := gn.RotationOrDefault()
	t.SetQuat(mgl32.Quat{W: r[3], V: mgl32.Vec3{r[0], r[1], r[2]}})
	t.Scale = gn.ScaleOrDefault()
	return t
}

// camera converts a glTF camera. Aspect ratios are ignored:
// the aspect ratio of the frame is used.
func camera(gc *gltf.Camera) *scene.Camera {
	switch {
	case gc.Perspective != nil:
		p := gc.Perspective
		far := float32(1000)
		if p.Zfar != nil {
			far = *p.Zfar
		}
		return scene.NewPerspectiveCamera(mgl32.RadToDeg(p.Yfov), p.Znear, far)
	case gc.Orthographic != nil:
		o := gc.Orthographic
		return scene.NewOrthographicCamera(o.Ymag, o.Znear, o.Zfar)
	}
	return nil
}

// releaseLoadRefs drops the references held while loading;
// the nodes and primitives hold their own.
func (ld *loading) releaseLoadRefs() {
	for i, m := range ld.meshes {
		if m != nil {
			m.Release()
			ld.meshes[i] = nil
		}
	}
	for i, mi := range ld.materials {
		if mi != nil {
			mi.Release()
			ld.materials[i] = nil
		}
	}
	if ld.fallback != nil {
		ld.fallback.Release()
		ld.fallback = nil
	}
}

// abort frees everything created by a failed load.
func (ld *loading) abort() {
	ld.releaseLoadRefs()
	if ld.model.Root == nil {
		ld.model.Root = scene.NewNode("")
	}
	ld.model.Release()
}

// loadTextures decodes the images of the textures referenced by
// materials concurrently and uploads them.
func (ld *loading) loadTextures() error {
	doc := ld.doc
	used := map[uint32]bool{}
	for _, m := range doc.Materials {
		if pbr := m.PBRMetallicRoughness; pbr != nil && pbr.BaseColorTexture != nil {
			ti := pbr.BaseColorTexture.Index
			if int(ti) >= len(doc.Textures) {
				return fmt.Errorf("loader: material %q texture index %d out of range", m.Name, ti)
			}
			used[ti] = true
		}
	}
	ld.model.Textures = make([]*texture.Texture, len(doc.Textures))
	if len(used) == 0 {
		return nil
	}

	images := make([]image.Image, len(doc.Images))
	need := map[uint32]bool{}
	for ti := range used {
		if src := doc.Textures[ti].Source; src != nil {
			if int(*src) >= len(doc.Images) {
				return fmt.Errorf("loader: texture %d image index %d out of range", ti, *src)
			}
			need[*src] = true
		}
	}
	eg, ctx := errgroup.WithContext(ld.ctx)
	eg.SetLimit(max(ld.opts.Decoders, 1))
	for ii := range need {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			img := doc.Images[ii]
			data, err := ld.imageData(img)
			if err != nil {
				return fmt.Errorf("loader: image %d %q: %w", ii, img.Name, err)
			}
			im, _, err := texture.Read(bytes.NewReader(data))
			if err != nil {
				return fmt.Errorf("loader: image %d %q: %w", ii, img.Name, err)
			}
			images[ii] = im
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	for ti := range used {
		gt := doc.Textures[ti]
		if gt.Source == nil {
			slog.Warn("loader: texture without image", "texture", ti)
			continue
		}
		topts := &texture.Options{}
		topts.Defaults()
		topts.Mipmaps = ld.opts.Mipmaps
		if gt.Sampler != nil && int(*gt.Sampler) < len(doc.Samplers) {
			samplerOptions(doc.Samplers[*gt.Sampler], topts)
		}
		ld.model.Textures[ti] = texture.New(ld.backend, images[*gt.Source], topts)
	}
	return nil
}

func samplerOptions(s *gltf.Sampler, opts *texture.Options) {
	if s.MagFilter == gltf.MagNearest {
		opts.Filter = gpu.FilterNearest
	}
	switch s.WrapS {
	case gltf.WrapClampToEdge:
		opts.AddressMode = gpu.AddressClampToEdge
	case gltf.WrapMirroredRepeat:
		opts.AddressMode = gpu.AddressMirroredRepeat
	}
}

// imageData returns the encoded bytes of an image stored in a buffer
// view, a data URI or a file relative to the glTF file.
func (ld *loading) imageData(img *gltf.Image) ([]byte, error) {
	doc := ld.doc
	switch {
	case img.BufferView != nil:
		if int(*img.BufferView) >= len(doc.BufferViews) {
			return nil, fmt.Errorf("buffer view index %d out of range", *img.BufferView)
		}
		bv := doc.BufferViews[*img.BufferView]
		if int(bv.Buffer) >= len(doc.Buffers) {
			return nil, fmt.Errorf("buffer index %d out of range", bv.Buffer)
		}
		data := doc.Buffers[bv.Buffer].Data
		end := uint64(bv.ByteOffset) + uint64(bv.ByteLength)
		if end > uint64(len(data)) {
			return nil, fmt.Errorf("buffer view %d overruns buffer %d", *img.BufferView, bv.Buffer)
		}
		return data[bv.ByteOffset:end], nil
	case img.IsEmbeddedResource():
		return img.MarshalData()
	case img.URI != "":
		p, err := url.PathUnescape(img.URI)
		if err != nil {
			return nil, err
		}
		return os.ReadFile(filepath.Join(ld.dir, filepath.FromSlash(p)))
	}
	return nil, errors.New("image has no data")
}

// loadMaterials creates an instance of the definition for each material.
// A missing definition is logged and leaves the materials nil, so their
// primitives are not drawn.
func (ld *loading) loadMaterials() {
	ld.materials = make([]*material.Instance, len(ld.doc.Materials))
	for i, m := range ld.doc.Materials {
		mi, err := ld.reg.CreateInstance(ld.opts.Definition)
		if err != nil {
			errors.Log(fmt.Errorf("loader: material %q: %w", m.Name, err))
			return
		}
		ld.setParams(mi, m.PBRMetallicRoughness)
		ld.materials[i] = mi
	}
}

// setParams sets the instance parameters from the glTF material
// parameters, using the glTF defaults for those not given.
func (ld *loading) setParams(mi *material.Instance, pbr *gltf.PBRMetallicRoughness) {
	color := mgl32.Vec4{1, 1, 1, 1}
	metallic, roughness := float32(1), float32(1)
	albedo := -1
	if pbr != nil {
		if pbr.BaseColorFactor != nil {
			color = mgl32.Vec4(*pbr.BaseColorFactor)
		}
		if pbr.MetallicFactor != nil {
			metallic = *pbr.MetallicFactor
		}
		if pbr.RoughnessFactor != nil {
			roughness = *pbr.RoughnessFactor
		}
		if pbr.BaseColorTexture != nil {
			albedo = int(pbr.BaseColorTexture.Index)
		}
	}
	mi.SetParam(BaseColorParam, material.Vec4Value(color))
	mi.SetParam(MetallicParam, material.FloatValue(metallic))
	mi.SetParam(RoughnessParam, material.FloatValue(roughness))
	if albedo >= 0 {
		if tx := ld.model.Textures[albedo]; tx != nil {
			mi.SetParam(AlbedoParam, material.TextureValue(tx))
		}
	}
}

// fallbackMaterial returns the instance used by primitives without a
// material, with the default glTF material parameters.
func (ld *loading) fallbackMaterial() *material.Instance {
	if ld.fallback == nil {
		mi, err := ld.reg.CreateInstance(ld.opts.Definition)
		if err != nil {
			return nil
		}
		ld.setParams(mi, nil)
		ld.fallback = mi
	}
	return ld.fallback
}

// loadMeshes uploads the triangle primitives of each mesh. A mesh
// without any triangle primitive is nil.
func (ld *loading) loadMeshes() error {
	doc := ld.doc
	ld.meshes = make([]*mesh.Mesh, len(doc.Meshes))
	for i, gm := range doc.Meshes {
		var prims []*mesh.Primitive
		for pi, gp := range gm.Primitives {
			if gp.Mode != gltf.PrimitiveTriangles {
				slog.Warn("loader: skipping non triangle primitive", "mesh", gm.Name, "primitive", pi, "mode", gp.Mode)
				continue
			}
			vertices, indices, err := ld.geometry(gp)
			if err != nil {
				if len(prims) > 0 {
					mesh.New(ld.backend, gm.Name, prims...).Release()
				}
				return fmt.Errorf("loader: mesh %q primitive %d: %w", gm.Name, pi, err)
			}
			var mi *material.Instance
			if gp.Material != nil && int(*gp.Material) < len(ld.materials) {
				mi = ld.materials[*gp.Material]
			} else {
				mi = ld.fallbackMaterial()
			}
			if mi != nil {
				mi.Ref()
			}
			pr, err := mesh.NewPrimitive(ld.backend, vertices, indices, mi)
			if err != nil {
				if mi != nil {
					mi.Release()
				}
				slog.Warn("loader: skipping primitive", "mesh", gm.Name, "primitive", pi, "err", err)
				continue
			}
			prims = append(prims, pr)
		}
		if len(prims) > 0 {
			ld.meshes[i] = mesh.New(ld.backend, gm.Name, prims...)
		}
	}
	return nil
}

// geometry reads the vertices and indices of a triangle primitive.
// Missing normals are computed from the triangles; missing indices
// draw the vertices in order.
func (ld *loading) geometry(gp *gltf.Primitive) ([]mesh.Vertex, []uint32, error) {
	doc := ld.doc
	accessor := func(name string) (*gltf.Accessor, bool, error) {
		ai, ok := gp.Attributes[name]
		if !ok {
			return nil, false, nil
		}
		if int(ai) >= len(doc.Accessors) {
			return nil, false, fmt.Errorf("%s accessor index %d out of range", name, ai)
		}
		return doc.Accessors[ai], true, nil
	}
	pa, ok, err := accessor("POSITION")
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, errors.New("no POSITION attribute")
	}
	positions, err := modeler.ReadPosition(doc, pa, nil)
	if err != nil {
		return nil, nil, err
	}
	vertices := make([]mesh.Vertex, len(positions))
	for i, p := range positions {
		vertices[i].Position = p
	}

	var indices []uint32
	if gp.Indices != nil {
		if int(*gp.Indices) >= len(doc.Accessors) {
			return nil, nil, fmt.Errorf("indices accessor index %d out of range", *gp.Indices)
		}
		indices, err = modeler.ReadIndices(doc, doc.Accessors[*gp.Indices], nil)
		if err != nil {
			return nil, nil, err
		}
	} else {
		indices = make([]uint32, len(vertices))
		for i := range indices {
			indices[i] = uint32(i)
		}
	}

	na, ok, err := accessor("NORMAL")
	if err != nil {
		return nil, nil, err
	}
	if ok {
		normals, err := modeler.ReadNormal(doc, na, nil)
		if err != nil {
			return nil, nil, err
		}
		for i := range min(len(normals), len(vertices)) {
			vertices[i].Normal = normals[i]
		}
	} else {
		computeNormals(vertices, indices)
	}

	ua, ok, err := accessor("TEXCOORD_0")
	if err != nil {
		return nil, nil, err
	}
	if ok {
		uvs, err := modeler.ReadTextureCoord(doc, ua, nil)
		if err != nil {
			return nil, nil, err
		}
		for i := range min(len(uvs), len(vertices)) {
			vertices[i].SetUV(uvs[i])
		}
	}
	return vertices, indices, nil
}

// computeNormals sets each vertex normal to the normalized sum of the
// normals of the triangles using it, weighted by their area.
func computeNormals(vertices []mesh.Vertex, indices []uint32) {
	for t := 0; t+2 < len(indices); t += 3 {
		a, b, c := indices[t], indices[t+1], indices[t+2]
		if int(max(a, b, c)) >= len(vertices) {
			continue
		}
		pa, pb, pc := vertices[a].Position, vertices[b].Position, vertices[c].Position
		n := pb.Sub(pa).Cross(pc.Sub(pa))
		for _, i := range [3]uint32{a, b, c} {
			vertices[i].Normal = vertices[i].Normal.Add(n)
		}
	}
	for i := range vertices {
		if vertices[i].Normal.Len() > 0 {
			vertices[i].Normal = vertices[i].Normal.Normalize()
		}
	}
}
