// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gpu

import (
	"strconv"
	"strings"
)

// BufferUsage is a bit flag set of the ways a buffer may be used.
type BufferUsage uint32

const (
	BufferUsageTransferSrc BufferUsage = 1 << iota
	BufferUsageTransferDst
	BufferUsageUniform
	BufferUsageStorage
	BufferUsageIndex
	BufferUsageVertex
	BufferUsageIndirect
	BufferUsageDeviceAddress
)

var bufferUsageNames = []string{"TransferSrc", "TransferDst", "Uniform", "Storage", "Index", "Vertex", "Indirect", "DeviceAddress"}

// Has returns whether all the bits in f are set.
func (u BufferUsage) Has(f BufferUsage) bool {
	return u&f == f
}

func (u BufferUsage) String() string {
	return flagString(uint32(u), bufferUsageNames)
}

// AllocationType selects where buffer memory lives.
type AllocationType int32

const (
	// AllocationCPU is host-visible coherent memory that can be mapped.
	AllocationCPU AllocationType = iota

	// AllocationGPU is device-local memory, written through staging copies.
	AllocationGPU
)

func (a AllocationType) String() string {
	if a == AllocationCPU {
		return "CPU"
	}
	return "GPU"
}

// QueueType is the kind of work a logical queue accepts.
type QueueType int32

const (
	QueueGraphics QueueType = iota
	QueuePresent
	QueueTransfer
	QueueTypesN
)

func (q QueueType) String() string {
	switch q {
	case QueueGraphics:
		return "Graphics"
	case QueuePresent:
		return "Present"
	case QueueTransfer:
		return "Transfer"
	}
	return "QueueType(" + strconv.Itoa(int(q)) + ")"
}

// IndexType is the element type of an index buffer.
type IndexType int32

const (
	IndexUint16 IndexType = iota
	IndexUint32
)

// Bytes returns the size of one index.
func (it IndexType) Bytes() int {
	if it == IndexUint16 {
		return 2
	}
	return 4
}

// DataFormat is the pixel format of an image.
type DataFormat int32

const (
	FormatUndefined DataFormat = iota
	FormatR8Unorm
	FormatR8G8B8A8Unorm
	FormatR8G8B8A8Srgb
	FormatB8G8R8A8Unorm
	FormatB8G8R8A8Srgb
	FormatR16G16B16A16Sfloat
	FormatR32G32B32A32Sfloat
	FormatD32Sfloat
	FormatD24UnormS8Uint
)

var formatSizes = map[DataFormat]int{
	FormatR8Unorm:            1,
	FormatR8G8B8A8Unorm:      4,
	FormatR8G8B8A8Srgb:       4,
	FormatB8G8R8A8Unorm:      4,
	FormatB8G8R8A8Srgb:       4,
	FormatR16G16B16A16Sfloat: 8,
	FormatR32G32B32A32Sfloat: 16,
	FormatD32Sfloat:          4,
	FormatD24UnormS8Uint:     4,
}

// Bytes returns the size of one texel, or 0 if undefined.
func (f DataFormat) Bytes() int {
	return formatSizes[f]
}

// IsDepth returns whether the format is a depth format.
func (f DataFormat) IsDepth() bool {
	return f == FormatD32Sfloat || f == FormatD24UnormS8Uint
}

// ImageUsage is a bit flag set of the ways an image may be used.
type ImageUsage uint32

const (
	ImageUsageTransferSrc ImageUsage = 1 << iota
	ImageUsageTransferDst
	ImageUsageSampled
	ImageUsageStorage
	ImageUsageColorAttachment
	ImageUsageDepthAttachment
)

// ImageLayout is the memory layout an image is in for a given use.
type ImageLayout int32

const (
	LayoutUndefined ImageLayout = iota
	LayoutGeneral
	LayoutColorAttachment
	LayoutDepthAttachment
	LayoutShaderReadOnly
	LayoutTransferSrc
	LayoutTransferDst
	LayoutPresent
)

// ShaderStage is a bit flag set of programmable pipeline stages.
type ShaderStage uint32

const (
	StageVertex ShaderStage = 1 << iota
	StageFragment
	StageCompute

	StageAllGraphics = StageVertex | StageFragment
)

var shaderStageNames = []string{"Vertex", "Fragment", "Compute"}

func (s ShaderStage) String() string {
	return flagString(uint32(s), shaderStageNames)
}

// UniformType is the kind of resource bound at a uniform set binding.
type UniformType int32

const (
	UniformBuffer UniformType = iota
	UniformStorageBuffer
	UniformSampler
	UniformTexture
	UniformSamplerWithTexture
	UniformImage
	UniformTypesN
)

func (u UniformType) String() string {
	switch u {
	case UniformBuffer:
		return "UniformBuffer"
	case UniformStorageBuffer:
		return "StorageBuffer"
	case UniformSampler:
		return "Sampler"
	case UniformTexture:
		return "Texture"
	case UniformSamplerWithTexture:
		return "SamplerWithTexture"
	case UniformImage:
		return "Image"
	}
	return "UniformType(" + strconv.Itoa(int(u)) + ")"
}

// CompareOp is a depth comparison function.
type CompareOp int32

const (
	CompareNever CompareOp = iota
	CompareLess
	CompareEqual
	CompareLessOrEqual
	CompareGreater
	CompareNotEqual
	CompareGreaterOrEqual
	CompareAlways
)

// Topology is how vertices are assembled into primitives.
type Topology int32

const (
	TopologyTriangleList Topology = iota
	TopologyTriangleStrip
	TopologyLineList
	TopologyPointList
)

// CullMode selects which faces are discarded.
type CullMode int32

const (
	CullNone CullMode = iota
	CullFront
	CullBack
)

// Filter is a texture sampling filter.
type Filter int32

const (
	FilterLinear Filter = iota
	FilterNearest
)

// AddressMode selects how out of range texture coordinates are handled.
type AddressMode int32

const (
	AddressRepeat AddressMode = iota
	AddressMirroredRepeat
	AddressClampToEdge
)

func flagString(v uint32, names []string) string {
	if v == 0 {
		return "0"
	}
	var s []string
	for i, nm := range names {
		if v&(1<<i) != 0 {
			s = append(s, nm)
		}
	}
	if rest := v &^ (1<<len(names) - 1); rest != 0 {
		s = append(s, "0x"+strconv.FormatUint(uint64(rest), 16))
	}
	return strings.Join(s, "|")
}
