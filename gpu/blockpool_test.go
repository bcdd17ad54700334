// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool() (*BlockPool[int], *int, *int) {
	created, freed := 0, 0
	bp := &BlockPool[int]{
		BlockSize: 1024,
		Threshold: 512,
		NewBlock: func(size uint64) (int, error) {
			created++
			return created, nil
		},
		FreeBlock: func(mem int) { freed++ },
	}
	return bp, &created, &freed
}

func TestAlignUp(t *testing.T) {
	assert.Equal(t, uint64(12), AlignUp(12, 3))
	assert.Equal(t, uint64(12), AlignUp(10, 3))
	assert.Equal(t, uint64(10), AlignUp(10, 0))
	assert.Equal(t, uint64(256), AlignUp(1, 256))
}

func TestBlockPool(t *testing.T) {
	bp, created, freed := newTestPool()
	assert.False(t, bp.Fits(2048))
	assert.False(t, bp.Fits(0))
	_, err := bp.Allocate(600, 1)
	assert.ErrorIs(t, err, ErrAllocation)

	a, err := bp.Allocate(500, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), a.Offset)
	b, err := bp.Allocate(100, 256)
	require.NoError(t, err)
	assert.Equal(t, uint64(512), b.Offset)
	assert.Equal(t, 1, *created)

	// no room left in the first block
	c, err := bp.Allocate(500, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Memory)
	assert.Equal(t, 2, bp.Blocks())
	assert.Equal(t, uint64(1100), bp.Used())

	// the freed gap at the start of the first block is reused
	bp.Free(a)
	d, err := bp.Allocate(400, 16)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Memory)
	assert.Equal(t, uint64(0), d.Offset)

	// empty non-first blocks are released
	bp.Free(c)
	assert.Equal(t, 1, bp.Blocks())
	assert.Equal(t, 1, *freed)

	bp.Release()
	assert.Equal(t, 0, bp.Blocks())
	assert.Equal(t, 2, *freed)
}

func TestDeletionQueueLIFO(t *testing.T) {
	var dq DeletionQueue
	var order []int
	for i := range 3 {
		dq.Push(func() { order = append(order, i) })
	}
	assert.Equal(t, 3, dq.Len())
	dq.Flush()
	assert.Equal(t, []int{2, 1, 0}, order)
	assert.Equal(t, 0, dq.Len())
	dq.Flush()
	assert.Len(t, order, 3)
}

func TestPushConstantsBytes(t *testing.T) {
	pc := PushConstants{VertexBuffer: 0xdeadbeef}
	pc.Transform[12] = 3
	b := pc.Bytes()
	assert.Len(t, b, PushConstantsSize)
	got, ok := DecodePushConstants(b)
	assert.True(t, ok)
	assert.Equal(t, pc, got)
	_, ok = DecodePushConstants(b[:10])
	assert.False(t, ok)
}

func TestFlagString(t *testing.T) {
	assert.Equal(t, "Uniform|Vertex", (BufferUsageUniform | BufferUsageVertex).String())
	assert.Equal(t, "Vertex|Fragment", StageAllGraphics.String())
	assert.Equal(t, "0", BufferUsage(0).String())
}
