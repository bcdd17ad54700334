// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package softgpu

import (
	"log/slog"
	"sync"

	"github.com/lumen3d/lumen/gpu"
)

// submission is one unit of queue work.
type submission struct {
	cmd    *commandBuffer
	fence  *fence
	wait   *semaphore
	signal *semaphore

	// present is set for presentation requests
	present *swapchain
}

// queue executes submissions in order on its own goroutine.
type queue struct {
	b      *Backend
	qt     gpu.QueueType
	handle gpu.CommandQueue

	// submitMu serializes submissions from multiple goroutines.
	submitMu sync.Mutex
	work     chan submission
	done     chan struct{}

	mu       sync.Mutex
	idle     *sync.Cond
	inflight int
}

func newQueue(b *Backend, qt gpu.QueueType, handle gpu.CommandQueue) *queue {
	q := &queue{b: b, qt: qt, handle: handle, work: make(chan submission, 64), done: make(chan struct{})}
	q.idle = sync.NewCond(&q.mu)
	return q
}

func (q *queue) run() {
	defer close(q.done)
	for s := range q.work {
		q.execute(s)
		q.mu.Lock()
		q.inflight--
		q.mu.Unlock()
		q.idle.Broadcast()
	}
}

func (q *queue) execute(s submission) {
	if s.wait != nil {
		s.wait.wait()
	}
	if s.cmd != nil {
		ex := &exec{b: q.b, sets: map[uint32]gpu.UniformSet{}}
		for _, fn := range s.cmd.commands {
			if err := fn(ex); err != nil {
				q.b.violation(err)
			}
		}
		if ex.rendering {
			q.b.violation(errorf("command buffer %d ended inside a rendering scope", s.cmd.handle))
		}
		s.cmd.setState(cmdExecutable)
		q.b.stats.submits.Add(1)
	}
	if s.present != nil {
		s.present.presented()
		q.b.stats.presents.Add(1)
	}
	if s.signal != nil {
		s.signal.signal()
	}
	if s.fence != nil {
		s.fence.signal()
	}
}

func (q *queue) submit(s submission) {
	q.submitMu.Lock()
	defer q.submitMu.Unlock()
	q.mu.Lock()
	q.inflight++
	q.mu.Unlock()
	q.work <- s
}

func (q *queue) waitIdle() {
	q.mu.Lock()
	for q.inflight > 0 {
		q.idle.Wait()
	}
	q.mu.Unlock()
}

func (q *queue) stop() {
	q.submitMu.Lock()
	close(q.work)
	q.submitMu.Unlock()
	<-q.done
	slog.Debug("softgpu: queue stopped", "queue", q.qt)
}

func (b *Backend) QueueGet(qt gpu.QueueType) gpu.CommandQueue {
	gpu.Assert(qt >= 0 && qt < gpu.QueueTypesN, "invalid queue type %v", qt)
	return b.queues[qt].handle
}

func (b *Backend) queue(h gpu.CommandQueue) *queue {
	for _, q := range b.queues {
		if q.handle == h {
			return q
		}
	}
	panic(errorf("unknown queue %d", h))
}

func (b *Backend) QueueSubmit(queue gpu.CommandQueue, cmd gpu.CommandBuffer, fence gpu.Fence, wait, signal gpu.Semaphore) {
	q := b.queue(queue)
	s := submission{wait: b.semaphore(wait), signal: b.semaphore(signal)}
	if fence.IsValid() {
		f := b.fence(fence)
		gpu.Assert(!f.isSignaled(), "submit with signaled fence %d", fence)
		s.fence = f
	}
	if cmd.IsValid() {
		cb := b.commandBuffer(cmd)
		gpu.Assert(cb.getState() == cmdExecutable, "submit of command buffer %d in state %v", cmd, cb.getState())
		cb.setState(cmdPending)
		s.cmd = cb
	}
	q.submit(s)
}

func (b *Backend) QueuePresent(queue gpu.CommandQueue, sc gpu.Swapchain, wait gpu.Semaphore) bool {
	q := b.queue(queue)
	swc := b.swapchain(sc)
	s := submission{wait: b.semaphore(wait)}
	ok := swc.present()
	if ok {
		s.present = swc
	}
	// the wait semaphore is consumed even when nothing is presented
	q.submit(s)
	return ok
}

func (b *Backend) CommandImmediateSubmit(fn func(cmd gpu.CommandBuffer)) {
	b.immMu.Lock()
	defer b.immMu.Unlock()
	b.FenceReset(b.immFence)
	b.CommandReset(b.immCmd)
	b.CommandBegin(b.immCmd)
	fn(b.immCmd)
	b.CommandEnd(b.immCmd)
	b.QueueSubmit(b.queues[gpu.QueueGraphics].handle, b.immCmd, b.immFence, 0, 0)
	b.FenceWait(b.immFence)
}
