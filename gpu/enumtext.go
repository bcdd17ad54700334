// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gpu

import (
	"fmt"
	"strconv"
	"strings"
)

// enum is an integer enum type with names indexed by value.
type enum interface {
	~int32
}

func enumString[E enum](v E, names []string) string {
	if v >= 0 && int(v) < len(names) {
		return names[v]
	}
	return strconv.Itoa(int(v))
}

func enumParse[E enum](v *E, b []byte, names []string, typ string) error {
	s := strings.ToLower(strings.TrimSpace(string(b)))
	for i, nm := range names {
		if nm == s {
			*v = E(i)
			return nil
		}
	}
	return fmt.Errorf("%q is not a valid value for type %s", s, typ)
}

var compareOpNames = []string{"never", "less", "equal", "less_or_equal", "greater", "not_equal", "greater_or_equal", "always"}

func (c CompareOp) String() string                { return enumString(c, compareOpNames) }
func (c CompareOp) MarshalText() ([]byte, error)  { return []byte(c.String()), nil }
func (c *CompareOp) UnmarshalText(b []byte) error { return enumParse(c, b, compareOpNames, "CompareOp") }

var topologyNames = []string{"triangle_list", "triangle_strip", "line_list", "point_list"}

func (t Topology) String() string                { return enumString(t, topologyNames) }
func (t Topology) MarshalText() ([]byte, error)  { return []byte(t.String()), nil }
func (t *Topology) UnmarshalText(b []byte) error { return enumParse(t, b, topologyNames, "Topology") }

var cullModeNames = []string{"none", "front", "back"}

func (c CullMode) String() string                { return enumString(c, cullModeNames) }
func (c CullMode) MarshalText() ([]byte, error)  { return []byte(c.String()), nil }
func (c *CullMode) UnmarshalText(b []byte) error { return enumParse(c, b, cullModeNames, "CullMode") }

var filterNames = []string{"linear", "nearest"}

func (f Filter) String() string                { return enumString(f, filterNames) }
func (f Filter) MarshalText() ([]byte, error)  { return []byte(f.String()), nil }
func (f *Filter) UnmarshalText(b []byte) error { return enumParse(f, b, filterNames, "Filter") }
