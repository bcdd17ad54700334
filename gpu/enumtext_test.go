// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnumText(t *testing.T) {
	var c CompareOp
	assert.NoError(t, c.UnmarshalText([]byte("Less_Or_Equal")))
	assert.Equal(t, CompareLessOrEqual, c)
	b, err := CompareGreater.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "greater", string(b))

	var tp Topology
	assert.NoError(t, tp.UnmarshalText([]byte("line_list")))
	assert.Equal(t, TopologyLineList, tp)

	var cm CullMode
	assert.Error(t, cm.UnmarshalText([]byte("sideways")))
	assert.Equal(t, "back", CullBack.String())
	assert.Equal(t, "7", CullMode(7).String())
}
