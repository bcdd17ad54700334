// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gpu

import (
	"fmt"

	"github.com/lumen3d/lumen/base/errors"
)

var (
	// ErrAllocation is returned when device or host memory is exhausted.
	ErrAllocation = errors.New("gpu: allocation failed")

	// ErrOutOfDate is returned by swapchain acquisition when the swapchain
	// no longer matches the surface and must be resized.
	ErrOutOfDate = errors.New("gpu: swapchain out of date")

	// ErrPoolExhausted is returned by a [PoolDriver] when a descriptor
	// pool has no room for another set.
	ErrPoolExhausted = errors.New("gpu: descriptor pool exhausted")

	// ErrInvalidHandle is returned when a handle does not name a live resource.
	ErrInvalidHandle = errors.New("gpu: invalid handle")
)

// IfPanic panics with err if it is non-nil, after calling the finalizers.
// It is used for backend failures that cannot be recovered mid frame.
func IfPanic(err error, finalizers ...func()) {
	if err != nil {
		for _, fn := range finalizers {
			fn()
		}
		panic(err)
	}
}

// CheckErr recovers from a panic and stores it in *err.
// The intended usage is:
//
//	defer gpu.CheckErr(&err)
func CheckErr(err *error) {
	if v := recover(); v != nil {
		if e, ok := v.(error); ok {
			*err = e
			return
		}
		*err = fmt.Errorf("%+v", v)
	}
}

// Assert panics with a formatted message if cond is false.
func Assert(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Errorf("gpu: assertion failed: "+format, args...))
	}
}
