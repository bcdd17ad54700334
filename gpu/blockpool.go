// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gpu

import (
	"fmt"
	"slices"
)

// Suballocation is a range of a shared memory block of type M.
type Suballocation[M any] struct {
	Memory M
	Offset uint64
	Size   uint64

	block *memBlock[M]
}

func (a Suballocation[M]) String() string {
	return fmt.Sprintf("[%d %d]", a.Offset, a.Size)
}

type memBlock[M any] struct {
	mem  M
	size uint64

	// ranges are the live [offset, offset+size) ranges, sorted by offset
	ranges [][2]uint64
}

// BlockPool sub-allocates small buffers out of shared fixed size memory
// blocks of type M, reducing the number of device allocations made for
// many small uniform and material buffers. Allocation is first fit
// within each block, honoring the requested alignment.
//
// It is not safe for concurrent use.
type BlockPool[M any] struct {

	// BlockSize is the size of each block.
	BlockSize uint64

	// Threshold is the largest request served from blocks.
	Threshold uint64

	// NewBlock allocates the backing memory of a new block.
	NewBlock func(size uint64) (M, error)

	// FreeBlock releases the backing memory of a block.
	FreeBlock func(mem M)

	blocks []*memBlock[M]
}

// Fits returns whether a request of the given size is served by the pool.
func (bp *BlockPool[M]) Fits(size uint64) bool {
	return size > 0 && size <= bp.Threshold && size <= bp.BlockSize
}

// AlignUp rounds v up to a multiple of align.
func AlignUp(v, align uint64) uint64 {
	if align <= 1 {
		return v
	}
	if m := v % align; m != 0 {
		return v - m + align
	}
	return v
}

func (b *memBlock[M]) allocate(size, align uint64) (uint64, bool) {
	var prevEnd uint64
	for i, r := range b.ranges {
		off := AlignUp(prevEnd, align)
		if off+size <= r[0] {
			b.ranges = slices.Insert(b.ranges, i, [2]uint64{off, off + size})
			return off, true
		}
		prevEnd = r[1]
	}
	off := AlignUp(prevEnd, align)
	if off+size > b.size {
		return 0, false
	}
	b.ranges = append(b.ranges, [2]uint64{off, off + size})
	return off, true
}

// Allocate returns a sub-allocation of the given size and alignment,
// creating a new block if no existing block has room.
func (bp *BlockPool[M]) Allocate(size, align uint64) (Suballocation[M], error) {
	if !bp.Fits(size) {
		return Suballocation[M]{}, fmt.Errorf("%w: %d bytes exceeds block pool threshold %d", ErrAllocation, size, bp.Threshold)
	}
	for _, b := range bp.blocks {
		if off, ok := b.allocate(size, align); ok {
			return Suballocation[M]{Memory: b.mem, Offset: off, Size: size, block: b}, nil
		}
	}
	mem, err := bp.NewBlock(bp.BlockSize)
	if err != nil {
		return Suballocation[M]{}, err
	}
	b := &memBlock[M]{mem: mem, size: bp.BlockSize}
	bp.blocks = append(bp.blocks, b)
	off, _ := b.allocate(size, align)
	return Suballocation[M]{Memory: mem, Offset: off, Size: size, block: b}, nil
}

// Free returns the range to its block. Empty blocks other than
// the first are released.
func (bp *BlockPool[M]) Free(a Suballocation[M]) {
	b := a.block
	if b == nil {
		return
	}
	i := slices.IndexFunc(b.ranges, func(r [2]uint64) bool { return r[0] == a.Offset })
	if i < 0 {
		return
	}
	b.ranges = slices.Delete(b.ranges, i, i+1)
	if len(b.ranges) > 0 {
		return
	}
	bi := slices.Index(bp.blocks, b)
	if bi <= 0 {
		return
	}
	bp.blocks = slices.Delete(bp.blocks, bi, bi+1)
	if bp.FreeBlock != nil {
		bp.FreeBlock(b.mem)
	}
}

// Blocks returns the number of live blocks.
func (bp *BlockPool[M]) Blocks() int {
	return len(bp.blocks)
}

// Used returns the number of bytes in live sub-allocations.
func (bp *BlockPool[M]) Used() uint64 {
	var n uint64
	for _, b := range bp.blocks {
		for _, r := range b.ranges {
			n += r[1] - r[0]
		}
	}
	return n
}

// Release frees every block.
func (bp *BlockPool[M]) Release() {
	if bp.FreeBlock != nil {
		for _, b := range bp.blocks {
			bp.FreeBlock(b.mem)
		}
	}
	bp.blocks = nil
}
