// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bytes

import (
	"fmt"
)

// Range defines a generic bytes range header.
type Range struct {
	Offset uint64
	Length uint64
}

func (r Range) String() string {
	return fmt.Sprintf(`{"Offset":"0x%x", "Length":"0x%x"}`, r.Offset, r.Length)
}

// End returns the offset of the first byte after the range.
func (r Range) End() uint64 {
	return r.Offset + r.Length
}

// Intersect returns true if ranges "r" and "cmp" have at least
// one byte with the same offset.
func (r Range) Intersect(cmp Range) bool {
	if r.Length == 0 || cmp.Length == 0 {
		return false
	}
	if r.End() <= cmp.Offset {
		return false
	}
	if r.Offset >= cmp.End() {
		return false
	}
	return true
}

// Contains returns true if "cmp" lies entirely within "r".
func (r Range) Contains(cmp Range) bool {
	return cmp.Offset >= r.Offset && cmp.End() <= r.End()
}
