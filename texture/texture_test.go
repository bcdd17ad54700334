// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package texture

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
	"testing/fstest"

	"github.com/lumen3d/lumen/gpu"
	"github.com/lumen3d/lumen/gpu/softgpu"
	"github.com/lumen3d/lumen/material"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

var _ material.TextureBinder = (*Texture)(nil)

func newTestBackend(t *testing.T) *softgpu.Backend {
	opts := &softgpu.Options{}
	opts.Defaults()
	b := softgpu.New(opts)
	t.Cleanup(b.Shutdown)
	return b
}

func checker(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			if (x+y)%2 == 0 {
				img.Set(x, y, color.NRGBA{255, 0, 0, 255})
			} else {
				img.Set(x, y, color.NRGBA{0, 0, 255, 255})
			}
		}
	}
	return img
}

func TestExtToFormat(t *testing.T) {
	for ext, want := range map[string]Formats{".PNG": PNG, "jpg": JPEG, "image/jpeg": JPEG, "tif": TIFF, ".bmp": BMP, "webp": WebP} {
		f, err := ExtToFormat(ext)
		assert.NoError(t, err, ext)
		assert.Equal(t, want, f, ext)
	}
	_, err := ExtToFormat("")
	assert.Error(t, err)
	_, err = ExtToFormat("ktx2")
	assert.Error(t, err)
	assert.Equal(t, "png", PNG.String())
}

func TestReadFormats(t *testing.T) {
	src := checker(3, 2)
	var pb, bb bytes.Buffer
	require.NoError(t, png.Encode(&pb, src))
	require.NoError(t, bmp.Encode(&bb, src))

	fsys := fstest.MapFS{
		"a.png": {Data: pb.Bytes()},
		"b.bmp": {Data: bb.Bytes()},
		"c.txt": {Data: []byte("not an image")},
		"d.pdf": {Data: []byte("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")},
	}
	img, f, err := OpenFS(fsys, "a.png")
	require.NoError(t, err)
	assert.Equal(t, PNG, f)
	assert.Equal(t, image.Rect(0, 0, 3, 2), img.Bounds())

	img, f, err = OpenFS(fsys, "b.bmp")
	require.NoError(t, err)
	assert.Equal(t, BMP, f)
	r, g, b, _ := img.At(1, 0).RGBA()
	assert.Equal(t, [3]uint32{0, 0, 0xffff}, [3]uint32{r, g, b})

	_, _, err = OpenFS(fsys, "c.txt")
	assert.ErrorContains(t, err, "unknown image format")
	_, _, err = OpenFS(fsys, "d.pdf")
	assert.ErrorIs(t, err, ErrNotImage)
	_, _, err = OpenFS(fsys, "missing.png")
	assert.Error(t, err)
}

func TestToRGBA(t *testing.T) {
	src := checker(2, 2)
	rgba := ToRGBA(src)
	assert.Equal(t, []byte{255, 0, 0, 255, 0, 0, 255, 255}, rgba.Pix[:8])
	assert.Same(t, rgba, ToRGBA(rgba))

	sub := rgba.SubImage(image.Rect(1, 1, 2, 2))
	out := ToRGBA(sub)
	assert.Equal(t, image.Rect(0, 0, 1, 1), out.Rect)
	assert.Equal(t, []byte{255, 0, 0, 255}, out.Pix)
}

func TestMipChain(t *testing.T) {
	assert.Equal(t, 1, MipLevels(1, 1))
	assert.Equal(t, 3, MipLevels(4, 2))
	assert.Equal(t, 4, MipLevels(5, 8))

	chain := MipChain(ToRGBA(checker(8, 2)))
	require.Len(t, chain, 4)
	sizes := []image.Point{{8, 2}, {4, 1}, {2, 1}, {1, 1}}
	for i, m := range chain {
		assert.Equal(t, sizes[i], m.Rect.Size(), "level %d", i)
	}
}

func TestNewUploadsMips(t *testing.T) {
	b := newTestBackend(t)
	src := ToRGBA(checker(4, 4))
	tx := New(b, src, nil)

	assert.Equal(t, gpu.Extent2D{Width: 4, Height: 4}, tx.Extent)
	assert.Equal(t, uint32(3), tx.MipLevels)
	assert.Equal(t, gpu.LayoutShaderReadOnly, b.ImageLayout(tx.Image))
	assert.Equal(t, src.Pix, b.ReadImage(tx.Image, 0))
	assert.Len(t, b.ReadImage(tx.Image, 2), 4)

	u := tx.Uniform(3)
	assert.Equal(t, gpu.UniformSamplerWithTexture, u.Type)
	assert.Equal(t, uint32(3), u.Binding)
	assert.Equal(t, tx.Image, u.Image)
	assert.Equal(t, tx.Sampler, u.Sampler)

	// the staging buffer is freed
	assert.Equal(t, 0, b.Live()["buffers"])
	tx.Ref()
	tx.Release()
	assert.Equal(t, 1, b.Live()["images"])
	tx.Release()
	assert.Equal(t, 0, b.Live()["images"])
	assert.Equal(t, 0, b.Live()["samplers"])
	assert.Panics(t, tx.Release)
	assert.NoError(t, b.Err())
}

func TestWhite(t *testing.T) {
	b := newTestBackend(t)
	tx := White(b)
	defer tx.Release()
	assert.Equal(t, uint32(1), tx.MipLevels)
	assert.Equal(t, gpu.FormatR8G8B8A8Unorm, b.ImageFormat(tx.Image))
	assert.Equal(t, []byte{255, 255, 255, 255}, b.ReadImage(tx.Image, 0))
}
