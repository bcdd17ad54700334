// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package softgpu

import (
	"sync"

	"github.com/lumen3d/lumen/gpu"
)

// fence is a host visible completion flag.
type fence struct {
	mu       sync.Mutex
	cond     *sync.Cond
	signaled bool
}

func newFence(signaled bool) *fence {
	f := &fence{signaled: signaled}
	f.cond = sync.NewCond(&f.mu)
	return f
}

func (f *fence) signal() {
	f.mu.Lock()
	f.signaled = true
	f.mu.Unlock()
	f.cond.Broadcast()
}

func (f *fence) wait() {
	f.mu.Lock()
	for !f.signaled {
		f.cond.Wait()
	}
	f.mu.Unlock()
}

func (f *fence) isSignaled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signaled
}

func (f *fence) reset() {
	f.mu.Lock()
	f.signaled = false
	f.mu.Unlock()
}

// semaphore is a binary semaphore ordering work between submissions.
// A wait consumes the signal.
type semaphore struct {
	mu       sync.Mutex
	cond     *sync.Cond
	signaled bool
}

func newSemaphore() *semaphore {
	s := &semaphore{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *semaphore) signal() {
	s.mu.Lock()
	s.signaled = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

func (s *semaphore) wait() {
	s.mu.Lock()
	for !s.signaled {
		s.cond.Wait()
	}
	s.signaled = false
	s.mu.Unlock()
}

func (b *Backend) FenceCreate() gpu.Fence {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := gpu.Fence(b.newID())
	b.fences[h] = newFence(true)
	return h
}

func (b *Backend) fence(h gpu.Fence) *fence {
	b.mu.RLock()
	defer b.mu.RUnlock()
	f, ok := b.fences[h]
	gpu.Assert(ok, "unknown fence %d", h)
	return f
}

func (b *Backend) FenceFree(h gpu.Fence) {
	if !h.IsValid() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.fences[h]
	gpu.Assert(ok, "unknown fence %d", h)
	delete(b.fences, h)
}

func (b *Backend) FenceWait(h gpu.Fence) {
	b.fence(h).wait()
}

func (b *Backend) FenceReset(h gpu.Fence) {
	b.fence(h).reset()
}

// FenceSignaled reports whether the fence is signaled without blocking.
func (b *Backend) FenceSignaled(h gpu.Fence) bool {
	return b.fence(h).isSignaled()
}

func (b *Backend) SemaphoreCreate() gpu.Semaphore {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := gpu.Semaphore(b.newID())
	b.semaphores[h] = newSemaphore()
	return h
}

func (b *Backend) semaphore(h gpu.Semaphore) *semaphore {
	if !h.IsValid() {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.semaphores[h]
	gpu.Assert(ok, "unknown semaphore %d", h)
	return s
}

func (b *Backend) SemaphoreFree(h gpu.Semaphore) {
	if !h.IsValid() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.semaphores[h]
	gpu.Assert(ok, "unknown semaphore %d", h)
	delete(b.semaphores, h)
}
