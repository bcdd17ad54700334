// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package material

import (
	"fmt"
	"strconv"
	"strings"
)

// UniformType is the type of a material parameter as declared by its shader.
type UniformType int32

const (
	Int UniformType = iota
	Float
	Vec2
	Vec3
	Vec4
	Texture
	UniformTypesN
)

var uniformTypeNames = [UniformTypesN]string{"int", "float", "vec2", "vec3", "vec4", "texture"}

func (t UniformType) String() string {
	if t >= 0 && t < UniformTypesN {
		return uniformTypeNames[t]
	}
	return "UniformType(" + strconv.Itoa(int(t)) + ")"
}

func (t UniformType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *UniformType) UnmarshalText(b []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(b)))
	for i, nm := range uniformTypeNames {
		if nm == s {
			*t = UniformType(i)
			return nil
		}
	}
	return fmt.Errorf("%q is not a valid material uniform type", s)
}

// std140 alignment and size in bytes by type. Textures are not packed.
var (
	std140Align = [UniformTypesN]uint32{4, 4, 8, 16, 16, 0}
	std140Size  = [UniformTypesN]uint32{4, 4, 8, 12, 16, 0}
)

// Align returns the std140 base alignment of the type in bytes.
func (t UniformType) Align() uint32 { return std140Align[t] }

// Size returns the std140 size of the type in bytes.
func (t UniformType) Size() uint32 { return std140Size[t] }

// IsTexture returns whether the type is bound as a texture
// rather than packed into the material data buffer.
func (t UniformType) IsTexture() bool { return t == Texture }

// UniformMetadata declares one material parameter.
// All non texture parameters share the material data buffer at binding 0;
// textures are bound at their own binding.
type UniformMetadata struct {
	Name    string      `yaml:"name"`
	Binding uint32      `yaml:"binding"`
	Type    UniformType `yaml:"type"`
}

// alignUp rounds off up to a multiple of align, which must be a power of two.
func alignUp(off, align uint32) uint32 {
	return (off + align - 1) &^ (align - 1)
}
