// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mesh provides GPU resident geometry: primitives with device
// local vertex and index buffers, meshes grouping them, and generators
// for simple shapes.
package mesh

import (
	"fmt"
	"sync/atomic"

	"github.com/lumen3d/lumen/geom"
	"github.com/lumen3d/lumen/gpu"
)

// Mesh is a named group of primitives shared between scene nodes
// by reference counting. The last [Mesh.Release] frees the GPU buffers
// of every primitive after waiting for the device to be idle.
type Mesh struct {
	Name       string
	Primitives []*Primitive

	backend gpu.Backend
	refs    atomic.Int32
}

// New returns a mesh of the primitives with one reference.
func New(b gpu.Backend, name string, prims ...*Primitive) *Mesh {
	m := &Mesh{Name: name, Primitives: prims, backend: b}
	m.refs.Store(1)
	return m
}

// Bounds returns the local space box enclosing all primitives.
func (m *Mesh) Bounds() geom.AABB {
	bb := geom.EmptyAABB()
	for _, pr := range m.Primitives {
		bb.ExpandByBox(pr.Bounds)
	}
	return bb
}

// IndexCount returns the total number of indices of all primitives.
func (m *Mesh) IndexCount() int {
	n := 0
	for _, pr := range m.Primitives {
		n += int(pr.IndexCount)
	}
	return n
}

// Ref adds a reference and returns the mesh.
func (m *Mesh) Ref() *Mesh {
	m.refs.Add(1)
	return m
}

// Refs returns the current number of references.
func (m *Mesh) Refs() int {
	return int(m.refs.Load())
}

// Release drops a reference, destroying the mesh on the last one.
func (m *Mesh) Release() {
	switch n := m.refs.Add(-1); {
	case n == 0:
		m.destroy()
	case n < 0:
		panic(fmt.Errorf("mesh %q released too many times", m.Name))
	}
}

func (m *Mesh) destroy() {
	if len(m.Primitives) == 0 {
		return
	}
	m.backend.DeviceWait()
	for _, pr := range m.Primitives {
		pr.free(m.backend)
	}
	m.Primitives = nil
}
