// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package uid provides random 64-bit identifiers for scene objects.
package uid

import (
	"math/rand/v2"
	"strconv"
	"sync"
)

// UID is a 64-bit identifier that is stable for the lifetime of the
// object it names, independent of its memory address.
// The zero value is reserved as [Invalid].
type UID uint64

// Invalid is the reserved invalid identifier.
const Invalid UID = 0

// IsValid returns whether the identifier is not [Invalid].
func (id UID) IsValid() bool {
	return id != Invalid
}

func (id UID) String() string {
	return strconv.FormatUint(uint64(id), 16)
}

// Source is a source of random 64-bit values.
type Source interface {
	Uint64() uint64
}

// Generator produces new identifiers from a [Source].
// It is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	src Source
}

// NewGenerator returns a new [Generator] seeded deterministically with
// the given seed, which is mainly useful for reproducible tests.
func NewGenerator(seed uint64) *Generator {
	return &Generator{src: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// New returns a new valid identifier.
func (g *Generator) New() UID {
	g.mu.Lock()
	defer g.mu.Unlock()
	for {
		if v := UID(g.src.Uint64()); v.IsValid() {
			return v
		}
	}
}

// New returns a new valid identifier from the global random source.
func New() UID {
	for {
		if v := UID(rand.Uint64()); v.IsValid() {
			return v
		}
	}
}
