// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package render

import "fmt"

// Stats are counters of rendering work, per pass execution
// or accumulated over frames.
type Stats struct {
	Frames        int
	DrawCalls     int
	IndexCount    int
	Culled        int
	PipelineBinds int

	// SceneUploads is the number of times the scene data changed
	// and was written to its buffer.
	SceneUploads int
}

// Add accumulates o into st.
func (st *Stats) Add(o Stats) {
	st.Frames += o.Frames
	st.DrawCalls += o.DrawCalls
	st.IndexCount += o.IndexCount
	st.Culled += o.Culled
	st.PipelineBinds += o.PipelineBinds
	st.SceneUploads += o.SceneUploads
}

func (st Stats) String() string {
	return fmt.Sprintf("frames: %d draws: %d indices: %d culled: %d pipeline binds: %d scene uploads: %d",
		st.Frames, st.DrawCalls, st.IndexCount, st.Culled, st.PipelineBinds, st.SceneUploads)
}
