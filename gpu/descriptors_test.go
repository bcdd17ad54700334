// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gpu

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePool struct {
	id       int
	capacity int
	used     int
	resets   int
}

type fakeDriver struct {
	pools     []*fakePool
	destroyed int
}

func (d *fakeDriver) CreatePool(maxSets int) *fakePool {
	p := &fakePool{id: len(d.pools), capacity: maxSets}
	d.pools = append(d.pools, p)
	return p
}

func (d *fakeDriver) ResetPool(p *fakePool) {
	p.used = 0
	p.resets++
}

func (d *fakeDriver) DestroyPool(p *fakePool) {
	d.destroyed++
}

func allocOne(p *fakePool) error {
	if p.used >= p.capacity {
		return fmt.Errorf("pool %d: %w", p.id, ErrPoolExhausted)
	}
	p.used++
	return nil
}

func TestDescriptorGrowth(t *testing.T) {
	drv := &fakeDriver{}
	da := NewDescriptorAllocator[*fakePool](drv, 4)

	for i := range 4 {
		p, err := da.Allocate(allocOne)
		require.NoError(t, err, i)
		assert.Equal(t, 0, p.id)
	}
	assert.Len(t, drv.pools, 1)

	// the allocation beyond capacity succeeds from a grown pool
	p, err := da.Allocate(allocOne)
	require.NoError(t, err)
	assert.Equal(t, 1, p.id)
	assert.Equal(t, 6, p.capacity)
	assert.Equal(t, []PoolInfo{{Capacity: 6}, {Capacity: 4, Full: true}}, da.Pools())

	for range 5 {
		_, err := da.Allocate(allocOne)
		require.NoError(t, err)
	}
	assert.Len(t, drv.pools, 2)
	p, err = da.Allocate(allocOne)
	require.NoError(t, err)
	assert.Equal(t, 9, p.capacity)
}

func TestDescriptorCapacitySequence(t *testing.T) {
	da := NewDescriptorAllocator[*fakePool](&fakeDriver{}, 16)
	caps := []int{16}
	for len(caps) < 20 {
		caps = append(caps, da.NextCapacity(caps[len(caps)-1]))
	}
	assert.Equal(t, []int{16, 24, 36, 54, 81, 122, 183, 275, 413, 620, 930, 1395, 2093, 3140, 4092, 4092}, caps[:16])
	for _, c := range caps {
		assert.LessOrEqual(t, c, 4092)
	}
}

func TestDescriptorNeverFailsUnderLoad(t *testing.T) {
	drv := &fakeDriver{}
	da := NewDescriptorAllocator[*fakePool](drv, 2)
	da.MaxSets = 8
	for i := range 200 {
		_, err := da.Allocate(allocOne)
		require.NoError(t, err, i)
	}
	for _, p := range drv.pools {
		assert.LessOrEqual(t, p.capacity, 8)
	}
}

func TestDescriptorClearPools(t *testing.T) {
	drv := &fakeDriver{}
	da := NewDescriptorAllocator[*fakePool](drv, 2)
	for range 5 {
		_, err := da.Allocate(allocOne)
		require.NoError(t, err)
	}
	npools := len(drv.pools)
	da.ClearPools()
	for _, pi := range da.Pools() {
		assert.False(t, pi.Full)
	}
	for _, p := range drv.pools {
		assert.Equal(t, 0, p.used)
		assert.Equal(t, 1, p.resets)
	}

	// reset pools are reused before any new pool is created
	for range 5 {
		_, err := da.Allocate(allocOne)
		require.NoError(t, err)
	}
	assert.Len(t, drv.pools, npools)

	da.DestroyPools()
	assert.Equal(t, npools, drv.destroyed)
	assert.Empty(t, da.Pools())
}

func TestDescriptorReleased(t *testing.T) {
	drv := &fakeDriver{}
	da := NewDescriptorAllocator[*fakePool](drv, 1)
	first, err := da.Allocate(allocOne)
	require.NoError(t, err)
	_, err = da.Allocate(allocOne)
	require.NoError(t, err)
	assert.True(t, da.Pools()[1].Full)

	first.used--
	da.Released(first)
	for _, pi := range da.Pools() {
		assert.False(t, pi.Full)
	}
}

func TestDescriptorReleasedThenGrow(t *testing.T) {
	drv := &fakeDriver{}
	da := NewDescriptorAllocator[*fakePool](drv, 2)
	var first *fakePool
	for i := range 5 {
		p, err := da.Allocate(allocOne)
		require.NoError(t, err, i)
		if i == 0 {
			first = p
		}
	}
	require.Len(t, drv.pools, 2)
	assert.Equal(t, []PoolInfo{{Capacity: 2, Full: true}, {Capacity: 3, Full: true}}, da.Pools())

	first.used--
	da.Released(first)
	p, err := da.Allocate(allocOne)
	require.NoError(t, err)
	assert.Same(t, first, p)

	// every pool is full again, so the next set comes from a grown pool
	p, err = da.Allocate(allocOne)
	require.NoError(t, err)
	assert.Equal(t, 2, p.id)
	assert.Equal(t, 5, p.capacity)
}

func TestDescriptorRetryGrows(t *testing.T) {
	drv := &fakeDriver{}
	da := NewDescriptorAllocator[*fakePool](drv, 4)
	p, err := da.Allocate(allocOne)
	require.NoError(t, err)

	// the pool runs out of room before its set count says so
	p.used = p.capacity
	q, err := da.Allocate(allocOne)
	require.NoError(t, err)
	assert.Equal(t, 1, q.id)
	assert.Equal(t, []PoolInfo{{Capacity: 6}, {Capacity: 4, Full: true}}, da.Pools())
}
