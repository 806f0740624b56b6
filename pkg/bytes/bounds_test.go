// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bytes

import (
	"errors"
	"testing"
)

func TestCheckRange(t *testing.T) {
	if err := CheckRange(100, 0, 100); err != nil {
		t.Errorf("full range rejected: %v", err)
	}
	if err := CheckRange(100, 10, 10); err != nil {
		t.Errorf("empty range rejected: %v", err)
	}

	err := CheckRange(100, 50, 101)
	var endErr *ErrEndGreaterThanLength
	if !errors.As(err, &endErr) {
		t.Fatalf("error is %T, expected *ErrEndGreaterThanLength", err)
	}
	if endErr.EndIdx != 101 || endErr.Length != 100 {
		t.Errorf("unexpected bounds in error: %+v", endErr)
	}

	err = CheckRange(100, 60, 50)
	var startErr *ErrStartGreaterThanEnd
	if !errors.As(err, &startErr) {
		t.Fatalf("error is %T, expected *ErrStartGreaterThanEnd", err)
	}
}

func TestRange(t *testing.T) {
	r := Range{Offset: 0x100, Length: 0x40}
	if r.End() != 0x140 {
		t.Errorf("End is 0x%x, expected 0x140", r.End())
	}
	if !r.Intersect(Range{Offset: 0x13F, Length: 1}) {
		t.Error("adjacent-inside range does not intersect")
	}
	if r.Intersect(Range{Offset: 0x140, Length: 1}) {
		t.Error("adjacent-outside range intersects")
	}
	if !r.Contains(Range{Offset: 0x110, Length: 0x10}) {
		t.Error("inner range not contained")
	}
	if r.Contains(Range{Offset: 0x110, Length: 0x40}) {
		t.Error("overhanging range contained")
	}
}
