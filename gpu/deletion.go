// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gpu

// DeletionQueue defers resource destruction until the GPU work that
// may reference the resources has retired. Functions are called in
// reverse order of pushing, so dependents are destroyed first.
type DeletionQueue struct {
	fns []func()
}

// Push adds a destruction function to the queue.
func (dq *DeletionQueue) Push(fn func()) {
	dq.fns = append(dq.fns, fn)
}

// Flush calls and removes all the functions, last pushed first.
func (dq *DeletionQueue) Flush() {
	for i := len(dq.fns) - 1; i >= 0; i-- {
		dq.fns[i]()
		dq.fns[i] = nil
	}
	dq.fns = dq.fns[:0]
}

// Len returns the number of pending functions.
func (dq *DeletionQueue) Len() int {
	return len(dq.fns)
}
