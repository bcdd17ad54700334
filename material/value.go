// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package material

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/lumen3d/lumen/gpu"
)

// TextureBinder is a texture that can be bound into a uniform set.
type TextureBinder interface {

	// Uniform returns the combined image sampler uniform at the binding.
	Uniform(binding uint32) gpu.Uniform
}

// Value is a material parameter value: exactly one of an int, up to four
// floats or a texture, discriminated by Type.
type Value struct {
	Type UniformType

	i   int32
	f   [4]float32
	tex TextureBinder
}

func IntValue(v int32) Value            { return Value{Type: Int, i: v} }
func FloatValue(v float32) Value        { return Value{Type: Float, f: [4]float32{v}} }
func Vec2Value(v mgl32.Vec2) Value      { return Value{Type: Vec2, f: [4]float32{v[0], v[1]}} }
func Vec3Value(v mgl32.Vec3) Value      { return Value{Type: Vec3, f: [4]float32{v[0], v[1], v[2]}} }
func Vec4Value(v mgl32.Vec4) Value      { return Value{Type: Vec4, f: v} }
func TextureValue(t TextureBinder) Value { return Value{Type: Texture, tex: t} }

// Int returns the value if it is an int.
func (v Value) Int() (int32, bool) { return v.i, v.Type == Int }

// Float returns the value if it is a float.
func (v Value) Float() (float32, bool) { return v.f[0], v.Type == Float }

// Vec4 returns the components of a float or vector value,
// with unused components zero.
func (v Value) Vec4() (mgl32.Vec4, bool) {
	switch v.Type {
	case Float, Vec2, Vec3, Vec4:
		return v.f, true
	}
	return mgl32.Vec4{}, false
}

// Texture returns the value if it is a texture.
func (v Value) Texture() (TextureBinder, bool) { return v.tex, v.Type == Texture }

// put writes the little endian std140 encoding of v to b,
// which must have room for v.Type.Size() bytes.
func (v Value) put(b []byte) {
	if v.Type == Int {
		binary.LittleEndian.PutUint32(b, uint32(v.i))
		return
	}
	for i := range v.Type.Size() / 4 {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v.f[i]))
	}
}

func (v Value) String() string {
	switch v.Type {
	case Int:
		return fmt.Sprint(v.i)
	case Float:
		return fmt.Sprint(v.f[0])
	case Vec2:
		return fmt.Sprint(v.f[:2])
	case Vec3:
		return fmt.Sprint(v.f[:3])
	case Vec4:
		return fmt.Sprint(v.f)
	case Texture:
		return fmt.Sprintf("texture(%v)", v.tex)
	}
	return "invalid"
}
