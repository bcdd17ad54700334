// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scene

import (
	"fmt"
	"strconv"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/lumen3d/lumen/base/uid"
	"github.com/lumen3d/lumen/geom"
	"github.com/lumen3d/lumen/mesh"
)

// NodeState is the lifecycle state of a [Node]. Nodes only move forward:
// a removed node is never attached again.
type NodeState int32

const (
	// Unattached is a node that has not been added to a parent.
	Unattached NodeState = iota

	// Attached is a node in a tree.
	Attached

	// Removed is a node detached from its tree by [Graph.RemoveNode].
	Removed
)

func (s NodeState) String() string {
	switch s {
	case Unattached:
		return "Unattached"
	case Attached:
		return "Attached"
	case Removed:
		return "Removed"
	}
	return "NodeState(" + strconv.Itoa(int(s)) + ")"
}

// Node is an element of the scene tree. A node owns its children
// exclusively; the parent pointer is only for queries.
//
// Attachments are optional. The mesh is shared with other nodes through
// its reference count, which the node holds one of.
type Node struct {

	// ID identifies the node independent of its memory address.
	ID uid.UID

	// Name is for debugging and lookup by tools.
	Name string

	// Transform is the local transform relative to the parent.
	Transform geom.Transform

	DirectionalLight *DirectionalLight
	PointLight       *PointLight
	Camera           *Camera

	mesh     *mesh.Mesh
	world    mgl32.Mat4
	children []*Node
	parent   *Node
	state    NodeState
}

// NewNode returns an unattached node with an identity transform
// and a new random ID.
func NewNode(name string) *Node {
	return &Node{ID: uid.New(), Name: name, Transform: geom.NewTransform(), world: mgl32.Ident4()}
}

func (n *Node) String() string {
	return fmt.Sprintf("%s(%v)", n.Name, n.ID)
}

// State returns the lifecycle state.
func (n *Node) State() NodeState { return n.state }

// Parent returns the parent, or nil for a root or unattached node.
func (n *Node) Parent() *Node { return n.parent }

// Children returns the children in insertion order.
// The slice must not be modified.
func (n *Node) Children() []*Node { return n.children }

// World returns the world matrix computed by the last
// [Graph.UpdateTransforms]. It is stale once any local transform on
// the path from the root changes.
func (n *Node) World() mgl32.Mat4 { return n.world }

// WorldPosition returns the translation of the world matrix.
func (n *Node) WorldPosition() mgl32.Vec3 { return geom.Translation(n.world) }

// Mesh returns the attached mesh, if any.
func (n *Node) Mesh() *mesh.Mesh { return n.mesh }

// SetMesh attaches the mesh, adding a reference to it and releasing the
// previously attached one. A nil mesh detaches.
func (n *Node) SetMesh(m *mesh.Mesh) {
	if m != nil {
		m.Ref()
	}
	if n.mesh != nil {
		n.mesh.Release()
	}
	n.mesh = m
}

// AddChild appends the child. It panics if the child is already in a
// tree, was removed, or is an ancestor of n.
func (n *Node) AddChild(child *Node) {
	switch {
	case child == nil:
		panic("scene: AddChild of nil node")
	case child.state == Attached:
		panic(fmt.Errorf("scene: node %v is already a child of %v", child, child.parent))
	case child.state == Removed:
		panic(fmt.Errorf("scene: node %v was removed and cannot be attached again", child))
	}
	for p := n; p != nil; p = p.parent {
		if p == child {
			panic(fmt.Errorf("scene: adding %v to %v would create a cycle", child, n))
		}
	}
	child.parent = n
	child.state = Attached
	n.children = append(n.children, child)
}

// NewChild creates a node, adds it as a child and returns it.
func (n *Node) NewChild(name string) *Node {
	c := NewNode(name)
	n.AddChild(c)
	return c
}

// Walk calls fn for the node and its descendants depth first, children in
// insertion order. Returning false from fn skips the children of that node.
func (n *Node) Walk(fn func(n *Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.children {
		c.Walk(fn)
	}
}

// ReleaseResources releases the meshes of the node and its descendants.
func (n *Node) ReleaseResources() {
	n.Walk(func(c *Node) bool {
		c.SetMesh(nil)
		return true
	})
}

// detach removes the child at index i and marks it removed.
func (n *Node) detach(i int) *Node {
	c := n.children[i]
	n.children = append(n.children[:i], n.children[i+1:]...)
	c.parent = nil
	c.state = Removed
	return c
}
