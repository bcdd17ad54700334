// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package softgpu is a headless [gpu.Backend] that keeps every resource in
host memory. Each queue has a worker goroutine that executes submitted
command buffers in order, honoring wait and signal semaphores and fences,
so the synchronization contract behaves as on a real device. Copies are
executed; draws are validated and counted but not rasterized.

Using a freed or unknown handle while recording panics. Detecting one
during execution is recorded as a violation, see [Backend.Err].
*/
package softgpu

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/lumen3d/lumen/base/errors"
	"github.com/lumen3d/lumen/config"
	"github.com/lumen3d/lumen/gpu"
)

// Options configures a [Backend].
type Options struct {

	// Descriptors configures the uniform set pools.
	Descriptors config.Descriptors

	// Memory configures small buffer sub-allocation.
	Memory config.Memory

	// MemoryLimit is the total number of bytes buffers and images
	// may use, or 0 for no limit.
	MemoryLimit uint64

	// RecordDraws keeps a [DrawRecord] for every executed draw.
	RecordDraws bool
}

// Defaults sets the options from the default engine [config.Config].
func (o *Options) Defaults() {
	o.FromConfig(config.New())
}

// FromConfig sets the options from the given engine configuration.
func (o *Options) FromConfig(cfg *config.Config) {
	o.Descriptors = cfg.Descriptors
	o.Memory = cfg.Memory
}

// Stats are counters of executed work.
type Stats struct {
	Submits       int64
	DrawCalls     int64
	Indices       int64
	PipelineBinds int64
	Copies        int64
	Presents      int64
}

// DrawRecord describes one executed indexed draw.
type DrawRecord struct {
	Pipeline     gpu.Pipeline
	Sets         []gpu.UniformSet
	Transform    [16]float32
	VertexBuffer gpu.Buffer
	IndexBuffer  gpu.Buffer
	IndexCount   uint32
}

var _ gpu.Backend = (*Backend)(nil)

// Backend is the software [gpu.Backend].
type Backend struct {
	opts Options

	// mu guards the resource tables, which queue workers read.
	mu sync.RWMutex

	nextID      atomic.Uint64
	nextAddress uint64
	memoryUsed  uint64

	buffers    map[gpu.Buffer]*buffer
	addresses  map[gpu.DeviceAddress]gpu.Buffer
	images     map[gpu.Image]*image
	samplers   map[gpu.Sampler]gpu.SamplerCreateInfo
	shaders    map[gpu.Shader]*shader
	pipelines  map[gpu.Pipeline]*pipeline
	sets       map[gpu.UniformSet]*uniformSet
	fences     map[gpu.Fence]*fence
	semaphores map[gpu.Semaphore]*semaphore
	swapchains map[gpu.Swapchain]*swapchain
	pools      map[gpu.CommandPool]*commandPool
	cmds       map[gpu.CommandBuffer]*commandBuffer

	queues [gpu.QueueTypesN]*queue

	descriptors *gpu.DescriptorAllocator[*descriptorPool]
	small       *gpu.BlockPool[[]byte]

	immMu    sync.Mutex
	immPool  gpu.CommandPool
	immCmd   gpu.CommandBuffer
	immFence gpu.Fence

	stats struct {
		submits, draws, indices, binds, copies, presents atomic.Int64
	}

	drawMu sync.Mutex
	draws  []DrawRecord

	errMu      sync.Mutex
	violations []error
}

// New returns a new software backend with the given options,
// or the defaults if opts is nil.
func New(opts *Options) *Backend {
	b := &Backend{
		buffers:    make(map[gpu.Buffer]*buffer),
		addresses:  make(map[gpu.DeviceAddress]gpu.Buffer),
		images:     make(map[gpu.Image]*image),
		samplers:   make(map[gpu.Sampler]gpu.SamplerCreateInfo),
		shaders:    make(map[gpu.Shader]*shader),
		pipelines:  make(map[gpu.Pipeline]*pipeline),
		sets:       make(map[gpu.UniformSet]*uniformSet),
		fences:     make(map[gpu.Fence]*fence),
		semaphores: make(map[gpu.Semaphore]*semaphore),
		swapchains: make(map[gpu.Swapchain]*swapchain),
		pools:      make(map[gpu.CommandPool]*commandPool),
		cmds:       make(map[gpu.CommandBuffer]*commandBuffer),
	}
	if opts == nil {
		opts = &Options{}
		opts.Defaults()
	}
	b.opts = *opts
	b.nextAddress = 0x10000

	da := gpu.NewDescriptorAllocator[*descriptorPool](poolDriver{b}, opts.Descriptors.InitialSets)
	if opts.Descriptors.MaxSets > 0 {
		da.MaxSets = opts.Descriptors.MaxSets
	}
	if opts.Descriptors.GrowthFactor >= 1 {
		da.GrowthFactor = opts.Descriptors.GrowthFactor
	}
	b.descriptors = da

	b.small = &gpu.BlockPool[[]byte]{
		BlockSize: opts.Memory.BlockSize,
		Threshold: opts.Memory.SmallAllocThreshold,
		NewBlock: func(size uint64) ([]byte, error) {
			if err := b.reserve(size); err != nil {
				return nil, err
			}
			return make([]byte, size), nil
		},
		FreeBlock: func(mem []byte) {
			b.unreserve(uint64(len(mem)))
		},
	}

	for qt := range gpu.QueueTypesN {
		q := newQueue(b, qt, gpu.CommandQueue(b.newID()))
		b.queues[qt] = q
		go q.run()
	}

	b.immPool = b.CommandPoolCreate(b.queues[gpu.QueueGraphics].handle)
	b.immCmd = b.CommandPoolAllocate(b.immPool)
	b.immFence = b.FenceCreate()
	slog.Debug("softgpu: device created")
	return b
}

func (b *Backend) newID() uint64 {
	return b.nextID.Add(1)
}

// reserve accounts for size more bytes of memory.
func (b *Backend) reserve(size uint64) error {
	if b.opts.MemoryLimit > 0 && b.memoryUsed+size > b.opts.MemoryLimit {
		return fmt.Errorf("%w: %d bytes requested with %d of %d in use", gpu.ErrAllocation, size, b.memoryUsed, b.opts.MemoryLimit)
	}
	b.memoryUsed += size
	return nil
}

func (b *Backend) unreserve(size uint64) {
	b.memoryUsed -= size
}

// violation records an error detected while executing commands.
func (b *Backend) violation(err error) {
	errors.Log(err)
	b.errMu.Lock()
	b.violations = append(b.violations, err)
	b.errMu.Unlock()
}

// Err returns all the violations of the resource lifetime contract
// detected while executing commands, joined, or nil.
func (b *Backend) Err() error {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	return errors.Join(b.violations...)
}

// Stats returns a snapshot of the work counters.
func (b *Backend) Stats() Stats {
	return Stats{
		Submits:       b.stats.submits.Load(),
		DrawCalls:     b.stats.draws.Load(),
		Indices:       b.stats.indices.Load(),
		PipelineBinds: b.stats.binds.Load(),
		Copies:        b.stats.copies.Load(),
		Presents:      b.stats.presents.Load(),
	}
}

// Draws returns the executed draws since the last [Backend.ResetDraws],
// if [Options.RecordDraws] is set.
func (b *Backend) Draws() []DrawRecord {
	b.drawMu.Lock()
	defer b.drawMu.Unlock()
	return append([]DrawRecord(nil), b.draws...)
}

// ResetDraws clears the recorded draws.
func (b *Backend) ResetDraws() {
	b.drawMu.Lock()
	b.draws = nil
	b.drawMu.Unlock()
}

// DescriptorPools returns the state of the uniform set pools.
func (b *Backend) DescriptorPools() []gpu.PoolInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.descriptors.Pools()
}

// MemoryUsed returns the bytes of buffer and image memory in use.
func (b *Backend) MemoryUsed() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.memoryUsed
}

// Live returns the number of live resources of each kind,
// excluding those owned by the backend itself.
func (b *Backend) Live() map[string]int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return map[string]int{
		"buffers":     len(b.buffers),
		"images":      len(b.images),
		"samplers":    len(b.samplers),
		"shaders":     len(b.shaders),
		"pipelines":   len(b.pipelines),
		"uniformSets": len(b.sets),
		"fences":      len(b.fences) - owned(b.fences, b.immFence),
		"semaphores":  len(b.semaphores),
		"swapchains":  len(b.swapchains),
		"pools":       len(b.pools) - owned(b.pools, b.immPool),
	}
}

func owned[K comparable, V any](m map[K]V, k K) int {
	if _, ok := m[k]; ok {
		return 1
	}
	return 0
}

func (b *Backend) DeviceWait() {
	for _, q := range b.queues {
		q.waitIdle()
	}
}

// Shutdown waits for the device, stops the queue workers and releases
// the backend's own resources. Leaked resources are logged.
func (b *Backend) Shutdown() {
	b.DeviceWait()
	b.FenceFree(b.immFence)
	b.CommandPoolFree(b.immPool)
	for kind, n := range b.Live() {
		if n > 0 {
			slog.Warn("softgpu: resources leaked at shutdown", "kind", kind, "count", n)
		}
	}
	for _, q := range b.queues {
		q.stop()
	}
	b.mu.Lock()
	b.descriptors.DestroyPools()
	b.small.Release()
	b.mu.Unlock()
}
