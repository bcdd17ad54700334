// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package material

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
	"testing/fstest"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/lumen3d/lumen/gpu"
	"github.com/lumen3d/lumen/gpu/softgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTargets = Targets{Color: gpu.FormatB8G8R8A8Srgb, Depth: gpu.FormatD32Sfloat}

var spirv = []byte{0x03, 0x02, 0x23, 0x07}

func newTestRegistry(t *testing.T) (*softgpu.Backend, *Registry) {
	opts := &softgpu.Options{}
	opts.Defaults()
	b := softgpu.New(opts)
	t.Cleanup(b.Shutdown)
	r := NewRegistry(b, testTargets)
	t.Cleanup(r.Clear)
	return b, r
}

func register(t *testing.T, r *Registry, name string, uniforms ...UniformMetadata) *Definition {
	info := &DefinitionInfo{Name: name, Uniforms: uniforms}
	info.Pipeline.Defaults()
	require.NoError(t, info.Validate())
	def := NewDefinition(r.Backend(), info, spirv, testTargets)
	require.NoError(t, r.Register(def))
	return def
}

func float32At(b []byte, off uint32) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[off:]))
}

func TestStd140Offsets(t *testing.T) {
	_, r := newTestRegistry(t)
	register(t, r, "layout",
		UniformMetadata{Name: "f", Type: Float},
		UniformMetadata{Name: "v3", Type: Vec3},
		UniformMetadata{Name: "v2", Type: Vec2},
		UniformMetadata{Name: "i", Type: Int},
		UniformMetadata{Name: "v4", Type: Vec4},
	)
	mi, err := r.CreateInstance("layout")
	require.NoError(t, err)
	defer mi.Release()
	mi.SetParam("f", FloatValue(1))
	mi.SetParam("v3", Vec3Value(mgl32.Vec3{2, 3, 4}))
	mi.SetParam("v2", Vec2Value(mgl32.Vec2{5, 6}))
	mi.SetParam("i", IntValue(-7))
	mi.SetParam("v4", Vec4Value(mgl32.Vec4{8, 9, 10, 11}))
	require.NoError(t, mi.Upload())

	want := map[string]uint32{"f": 0, "v3": 16, "v2": 32, "i": 40, "v4": 48}
	for name, off := range want {
		got, ok := mi.Offset(name)
		assert.True(t, ok, name)
		assert.Equal(t, off, got, name)
	}
	data := mi.PackedData()
	assert.Len(t, data, 64)
	assert.Equal(t, float32(4), float32At(data, 24))
	assert.Equal(t, int32(-7), int32(binary.LittleEndian.Uint32(data[40:])))
	assert.Equal(t, float32(11), float32At(data, 60))
}

func TestMissingAndMismatchedParamsAreOmitted(t *testing.T) {
	_, r := newTestRegistry(t)
	register(t, r, "partial",
		UniformMetadata{Name: "a", Type: Float},
		UniformMetadata{Name: "b", Type: Vec4},
		UniformMetadata{Name: "c", Type: Float},
	)
	mi, err := r.CreateInstance("partial")
	require.NoError(t, err)
	defer mi.Release()
	mi.SetParam("b", FloatValue(3))
	mi.SetParam("c", FloatValue(2))
	mi.SetParam("unknown", FloatValue(9))
	require.NoError(t, mi.Upload())

	_, ok := mi.Offset("a")
	assert.False(t, ok)
	_, ok = mi.Offset("b")
	assert.False(t, ok)
	off, ok := mi.Offset("c")
	assert.True(t, ok)
	assert.Equal(t, uint32(0), off)
	assert.Len(t, mi.PackedData(), 4)
}

func TestMetallicRoundTrip(t *testing.T) {
	b, r := newTestRegistry(t)
	register(t, r, "pbr",
		UniformMetadata{Name: "base_color", Type: Vec4},
		UniformMetadata{Name: "metallic", Type: Float},
		UniformMetadata{Name: "roughness", Type: Float},
	)
	mi, err := r.CreateInstance("pbr")
	require.NoError(t, err)
	defer mi.Release()
	mi.SetParam("base_color", Vec4Value(mgl32.Vec4{1, 1, 1, 1}))
	mi.SetParam("metallic", FloatValue(0.7))
	assert.True(t, mi.IsDirty())
	require.NoError(t, mi.Upload())
	assert.False(t, mi.IsDirty())

	off, ok := mi.Offset("metallic")
	require.True(t, ok)
	assert.Equal(t, uint32(16), off)
	first := append([]byte(nil), b.BufferMap(mi.buffer)...)
	b.BufferUnmap(mi.buffer)
	assert.Equal(t, float32(0.7), float32At(first, off))

	buf, set := mi.buffer, mi.set
	require.NoError(t, mi.Upload())
	second := append([]byte(nil), b.BufferMap(mi.buffer)...)
	b.BufferUnmap(mi.buffer)
	assert.True(t, bytes.Equal(first, second))
	assert.Equal(t, buf, mi.buffer)
	assert.NotEqual(t, set, mi.set)
	assert.Equal(t, 1, b.Live()["uniformSets"])
}

func TestBufferGrowsWithData(t *testing.T) {
	b, r := newTestRegistry(t)
	register(t, r, "grow",
		UniformMetadata{Name: "a", Type: Float},
		UniformMetadata{Name: "b", Type: Vec4},
		UniformMetadata{Name: "c", Type: Vec4},
	)
	mi, err := r.CreateInstance("grow")
	require.NoError(t, err)
	defer mi.Release()
	mi.SetParam("a", FloatValue(1))
	require.NoError(t, mi.Upload())
	assert.Equal(t, uint64(16), b.BufferSize(mi.buffer))

	mi.SetParam("c", Vec4Value(mgl32.Vec4{1, 2, 3, 4}))
	require.NoError(t, mi.Upload())
	assert.Equal(t, uint64(32), b.BufferSize(mi.buffer))
	assert.Equal(t, 1, b.Live()["buffers"])
}

type testTexture struct {
	img gpu.Image
	smp gpu.Sampler
}

func (tt *testTexture) Uniform(binding uint32) gpu.Uniform {
	return gpu.TextureUniform(binding, tt.img, tt.smp)
}

func TestTexturesAndDefault(t *testing.T) {
	b, r := newTestRegistry(t)
	newTex := func() *testTexture {
		tt := &testTexture{
			img: b.ImageCreate(gpu.ImageCreateInfo{Format: gpu.FormatR8G8B8A8Unorm, Extent: gpu.Extent2D{Width: 1, Height: 1}, Usage: gpu.ImageUsageSampled}),
			smp: b.SamplerCreate(gpu.SamplerCreateInfo{}),
		}
		t.Cleanup(func() {
			b.SamplerFree(tt.smp)
			b.ImageFree(tt.img)
		})
		return tt
	}
	register(t, r, "textured",
		UniformMetadata{Name: "tint", Type: Vec4},
		UniformMetadata{Name: "albedo", Binding: 1, Type: Texture},
	)
	_, err := r.CreateInstance("missing")
	assert.ErrorIs(t, err, ErrUnknownDefinition)

	r.DefaultTexture = newTex()
	mi, err := r.CreateInstance("textured")
	require.NoError(t, err)
	defer mi.Release()
	require.NoError(t, mi.Upload())
	_, ok := mi.Offset("albedo")
	assert.False(t, ok)

	mi.SetParam("albedo", TextureValue(newTex()))
	require.NoError(t, mi.Upload())
	assert.NoError(t, b.Err())
}

func TestTextureAtDataBindingIsInvalid(t *testing.T) {
	info := &DefinitionInfo{Name: "bad", Uniforms: []UniformMetadata{{Name: "albedo", Binding: DataBinding, Type: Texture}}}
	assert.Error(t, info.Validate())
}

func TestBindRequiresUpload(t *testing.T) {
	b, r := newTestRegistry(t)
	register(t, r, "plain", UniformMetadata{Name: "a", Type: Float})
	mi, err := r.CreateInstance("plain")
	require.NoError(t, err)
	defer mi.Release()
	pool := b.CommandPoolCreate(b.QueueGet(gpu.QueueGraphics))
	defer b.CommandPoolFree(pool)
	cmd := b.CommandPoolAllocate(pool)
	b.CommandBegin(cmd)
	assert.Panics(t, func() { mi.Bind(cmd) })
	require.NoError(t, mi.Upload())
	assert.NotPanics(t, func() { mi.Bind(cmd) })
	b.CommandEnd(cmd)
}

func TestReleaseFreesResources(t *testing.T) {
	b, r := newTestRegistry(t)
	register(t, r, "plain", UniformMetadata{Name: "a", Type: Float})
	mi, err := r.CreateInstance("plain")
	require.NoError(t, err)
	mi.SetParam("a", FloatValue(1))
	require.NoError(t, mi.Upload())

	shared := mi.Ref()
	mi.Release()
	assert.Equal(t, 1, b.Live()["uniformSets"])
	shared.Release()
	assert.Equal(t, 0, b.Live()["uniformSets"])
	assert.Equal(t, 0, b.Live()["buffers"])
	assert.ErrorIs(t, mi.Upload(), ErrReleased)
	assert.Panics(t, mi.Release)
}

func TestReuploadWithGrownPools(t *testing.T) {
	opts := &softgpu.Options{}
	opts.Defaults()
	opts.Descriptors.InitialSets = 2
	b := softgpu.New(opts)
	t.Cleanup(b.Shutdown)
	r := NewRegistry(b, testTargets)
	t.Cleanup(r.Clear)
	register(t, r, "plain", UniformMetadata{Name: "a", Type: Float})

	upload := func() *Instance {
		mi, err := r.CreateInstance("plain")
		require.NoError(t, err)
		t.Cleanup(mi.Release)
		mi.SetParam("a", FloatValue(1))
		require.NoError(t, mi.Upload())
		return mi
	}
	var mis []*Instance
	for range 5 {
		mis = append(mis, upload())
	}
	mis[0].SetParam("a", FloatValue(2))
	require.NoError(t, mis[0].Upload())
	assert.NotPanics(t, func() { upload() })
	assert.NoError(t, b.Err())
	assert.Equal(t, 6, b.Live()["uniformSets"])
}

func TestRegistry(t *testing.T) {
	b, r := newTestRegistry(t)
	register(t, r, "a")
	def := NewDefinition(b, &DefinitionInfo{Name: "a"}, spirv, testTargets)
	assert.ErrorIs(t, r.Register(def), ErrDuplicateDefinition)
	assert.Panics(t, func() { r.MustRegister(def) })
	def.free(b)

	register(t, r, "b")
	assert.Equal(t, []string{"a", "b"}, r.Names())
	r.Clear()
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0, b.Live()["pipelines"])
	assert.Equal(t, 0, b.Live()["shaders"])
}

func TestLoadDefinitions(t *testing.T) {
	b, r := newTestRegistry(t)
	infos, err := OpenDefinitions("testdata/materials.yaml")
	require.NoError(t, err)
	require.Len(t, infos, 2)

	pbr := infos[0]
	assert.Equal(t, "pbr", pbr.Name)
	assert.True(t, pbr.Pipeline.DepthTest)
	assert.True(t, pbr.Pipeline.DepthWrite)
	assert.Equal(t, gpu.CompareLess, pbr.Pipeline.DepthCompare)
	assert.Equal(t, gpu.CullNone, pbr.Pipeline.Cull)
	assert.Equal(t, UniformMetadata{Name: "albedo", Binding: 1, Type: Texture}, pbr.Uniforms[3])
	unlit := infos[1]
	assert.True(t, unlit.Pipeline.Blend)
	assert.False(t, unlit.Pipeline.DepthWrite)
	assert.Equal(t, gpu.TopologyTriangleStrip, unlit.Pipeline.Topology)

	shaders := fstest.MapFS{
		"shaders/pbr.spv":   {Data: spirv},
		"shaders/unlit.spv": {Data: spirv},
	}
	require.NoError(t, r.Load(infos, shaders))
	assert.Equal(t, []string{"pbr", "unlit"}, r.Names())
	assert.Equal(t, 2, b.Live()["pipelines"])

	var buf bytes.Buffer
	require.NoError(t, WriteDefinitions(&buf, infos))
	again, err := ReadDefinitions(&buf)
	require.NoError(t, err)
	assert.Equal(t, infos, again)

	assert.Error(t, r.Load([]DefinitionInfo{{Name: "lost", Shader: "shaders/lost.spv"}}, shaders))
}
