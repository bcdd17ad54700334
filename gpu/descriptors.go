// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gpu

import (
	"github.com/chewxy/math32"
	"github.com/lumen3d/lumen/base/errors"
)

// PoolDriver creates and recycles fixed capacity descriptor pools
// of type P for a [DescriptorAllocator].
type PoolDriver[P comparable] interface {

	// CreatePool returns a new pool with room for maxSets sets.
	CreatePool(maxSets int) P

	// ResetPool returns every set of the pool to it, without destroying it.
	ResetPool(pool P)

	// DestroyPool releases the pool.
	DestroyPool(pool P)
}

// DescriptorAllocator allocates uniform sets out of a growable set of
// descriptor pools. A pool is marked full once it holds as many sets as
// its capacity, and only pools with room are kept ready. When a ready
// pool still cannot satisfy an allocation, it is marked full and the
// allocation is retried once on a new pool with a capacity of
// GrowthFactor times the previous one (capped at MaxSets). Pools are
// reset rather than destroyed by [DescriptorAllocator.ClearPools].
//
// It is not safe for concurrent use.
type DescriptorAllocator[P comparable] struct {

	// Driver creates and recycles the pools.
	Driver PoolDriver[P]

	// InitialSets is the capacity of the first pool.
	InitialSets int

	// MaxSets caps the capacity of any pool.
	MaxSets int

	// GrowthFactor is the capacity multiplier for each new pool.
	GrowthFactor float32

	ready    []P
	full     []P
	capacity map[P]int
	used     map[P]int
	lastCap  int
}

// NewDescriptorAllocator returns a new allocator over the given driver
// with the given initial pool capacity, using the default growth
// factor of 1.5 and cap of 4092 sets.
func NewDescriptorAllocator[P comparable](driver PoolDriver[P], initialSets int) *DescriptorAllocator[P] {
	da := &DescriptorAllocator[P]{Driver: driver}
	da.Defaults()
	da.InitialSets = max(initialSets, 1)
	return da
}

// Defaults sets the default growth policy.
func (da *DescriptorAllocator[P]) Defaults() {
	da.InitialSets = 16
	da.MaxSets = 4092
	da.GrowthFactor = 1.5
}

// NextCapacity returns the capacity of the pool created after one of
// capacity prev: ceil(prev * GrowthFactor), capped at MaxSets.
func (da *DescriptorAllocator[P]) NextCapacity(prev int) int {
	next := int(math32.Ceil(float32(prev) * da.GrowthFactor))
	return min(max(next, prev), da.MaxSets)
}

func (da *DescriptorAllocator[P]) newPool() P {
	sets := da.InitialSets
	if da.lastCap > 0 {
		sets = da.NextCapacity(da.lastCap)
	}
	sets = min(sets, da.MaxSets)
	pool := da.Driver.CreatePool(sets)
	if da.capacity == nil {
		da.capacity = make(map[P]int)
		da.used = make(map[P]int)
	}
	da.capacity[pool] = sets
	da.lastCap = sets
	return pool
}

func (da *DescriptorAllocator[P]) getPool() P {
	if n := len(da.ready); n > 0 {
		pool := da.ready[n-1]
		da.ready = da.ready[:n-1]
		return pool
	}
	return da.newPool()
}

// Allocate calls alloc with a pool to allocate one set from.
// If alloc returns [ErrPoolExhausted], the pool is marked full and
// alloc is retried once with a newly grown pool.
// It returns the pool the set was finally allocated from.
func (da *DescriptorAllocator[P]) Allocate(alloc func(pool P) error) (P, error) {
	pool := da.getPool()
	err := alloc(pool)
	if errors.Is(err, ErrPoolExhausted) {
		da.full = append(da.full, pool)
		pool = da.newPool()
		err = alloc(pool)
	}
	if err == nil {
		da.used[pool]++
	}
	if da.used[pool] >= da.capacity[pool] {
		da.full = append(da.full, pool)
	} else {
		da.ready = append(da.ready, pool)
	}
	return pool, err
}

// Released notes that a set was freed back to the given pool,
// so a pool previously marked full is made ready again.
func (da *DescriptorAllocator[P]) Released(pool P) {
	if da.used[pool] > 0 {
		da.used[pool]--
	}
	for i, p := range da.full {
		if p == pool {
			da.full = append(da.full[:i], da.full[i+1:]...)
			da.ready = append(da.ready, pool)
			return
		}
	}
}

// ClearPools resets every pool and marks them all ready for reuse.
func (da *DescriptorAllocator[P]) ClearPools() {
	for _, p := range da.ready {
		da.Driver.ResetPool(p)
		da.used[p] = 0
	}
	for _, p := range da.full {
		da.Driver.ResetPool(p)
		da.used[p] = 0
		da.ready = append(da.ready, p)
	}
	da.full = da.full[:0]
}

// DestroyPools destroys every pool. The allocator can be reused
// afterwards, starting again from InitialSets.
func (da *DescriptorAllocator[P]) DestroyPools() {
	for _, p := range da.ready {
		da.Driver.DestroyPool(p)
	}
	for _, p := range da.full {
		da.Driver.DestroyPool(p)
	}
	da.ready = nil
	da.full = nil
	da.capacity = nil
	da.used = nil
	da.lastCap = 0
}

// PoolInfo describes one pool of a [DescriptorAllocator].
type PoolInfo struct {
	Capacity int
	Full     bool
}

// Pools returns the capacity and state of every pool,
// ready pools first.
func (da *DescriptorAllocator[P]) Pools() []PoolInfo {
	pi := make([]PoolInfo, 0, len(da.ready)+len(da.full))
	for _, p := range da.ready {
		pi = append(pi, PoolInfo{Capacity: da.capacity[p]})
	}
	for _, p := range da.full {
		pi = append(pi, PoolInfo{Capacity: da.capacity[p], Full: true})
	}
	return pi
}

// Capacity returns the capacity of the given pool.
func (da *DescriptorAllocator[P]) Capacity(pool P) int {
	return da.capacity[pool]
}
