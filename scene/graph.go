// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package scene provides the scene tree of nodes with transforms and
// attachments, world transform propagation, and construction of the
// frustum culled render queue drawn each frame.
//
// The tree is mutated and traversed from the render thread only.
package scene

import (
	"log/slog"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/lumen3d/lumen/base/errors"
	"github.com/lumen3d/lumen/base/uid"
	"github.com/lumen3d/lumen/geom"
)

// ErrNoGraph is returned when rendering without a scene graph bound.
var ErrNoGraph = errors.New("scene: no scene graph bound")

// Graph is a tree of nodes under a root.
type Graph struct {
	root *Node
}

// NewGraph returns a graph with an empty root node.
func NewGraph() *Graph {
	root := NewNode("root")
	root.state = Attached
	return &Graph{root: root}
}

// Root returns the root node.
func (g *Graph) Root() *Node { return g.root }

// NewNode creates a node as the last child of parent,
// or of the root if parent is nil.
func (g *Graph) NewNode(parent *Node, name string) *Node {
	if parent == nil {
		parent = g.root
	}
	return parent.NewChild(name)
}

// Walk calls fn for every node depth first from the root.
// Returning false from fn skips the children of that node.
func (g *Graph) Walk(fn func(n *Node) bool) {
	g.root.Walk(fn)
}

// Len returns the number of nodes including the root.
func (g *Graph) Len() int {
	n := 0
	g.Walk(func(*Node) bool {
		n++
		return true
	})
	return n
}

// FindByID returns the first node with the given ID in depth first
// order, or nil.
func (g *Graph) FindByID(id uid.UID) *Node {
	var found *Node
	g.Walk(func(n *Node) bool {
		if found != nil {
			return false
		}
		if n.ID == id {
			found = n
			return false
		}
		return true
	})
	return found
}

// RemoveNode detaches the first node with the given ID together with its
// subtree, and marks it removed. It returns false for the root or an
// unknown ID. The caller releases the resources of the removed subtree
// with [Node.ReleaseResources] once it is no longer drawn.
func (g *Graph) RemoveNode(id uid.UID) bool {
	if g.root.ID == id {
		return false
	}
	return removeChild(g.root, id)
}

func removeChild(n *Node, id uid.UID) bool {
	for i, c := range n.children {
		if c.ID == id {
			n.detach(i)
			return true
		}
		if removeChild(c, id) {
			return true
		}
	}
	return false
}

// UpdateTransforms sets the world matrix of every node to its parent's
// world matrix times its local matrix, from the root down.
// It must run before [Graph.ConstructRenderQueue] in the same frame.
func (g *Graph) UpdateTransforms() {
	updateWorld(g.root, mgl32.Ident4())
}

func updateWorld(n *Node, parent mgl32.Mat4) {
	n.world = parent.Mul4(n.Transform.Matrix())
	for _, c := range n.children {
		updateWorld(c, n.world)
	}
}

// ConstructRenderQueue walks the tree depth first and adds every mesh
// primitive whose world bounds are not outside the frustum. Materials
// with changed parameters are uploaded on the way. Lights are collected
// in world space without culling.
func (g *Graph) ConstructRenderQueue(f *geom.Frustum) *RenderQueue {
	rq := &RenderQueue{}
	g.CollectRenderQueue(f, rq)
	return rq
}

// CollectRenderQueue is [Graph.ConstructRenderQueue] into an existing
// queue, which is cleared first.
func (g *Graph) CollectRenderQueue(f *geom.Frustum, rq *RenderQueue) {
	rq.Clear()
	g.Walk(func(n *Node) bool {
		collectNode(n, f, rq)
		return true
	})
}

func collectNode(n *Node, f *geom.Frustum, rq *RenderQueue) {
	if l := n.DirectionalLight; l != nil {
		wl := *l
		wl.Direction = mgl32.TransformNormal(l.Direction, n.world)
		if wl.Direction.Len() > 0 {
			wl.Direction = wl.Direction.Normalize()
		}
		rq.SetDirectionalLight(wl)
	}
	if l := n.PointLight; l != nil {
		wl := *l
		wl.Position = mgl32.TransformCoordinate(l.Position, n.world)
		rq.AddPointLight(wl)
	}
	if n.mesh == nil {
		return
	}
	for _, pr := range n.mesh.Primitives {
		if !pr.Bounds.Transform(n.world).IsInsideFrustum(f) {
			rq.Culled++
			continue
		}
		if mat := pr.Material; mat != nil && mat.IsDirty() {
			if err := mat.Upload(); err != nil {
				slog.Error("scene: material upload", "node", n.Name, "err", err)
				continue
			}
		}
		rq.Add(RenderObject{Transform: n.world, Primitive: pr})
	}
}
