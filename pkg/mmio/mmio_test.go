// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmio

import (
	"testing"
)

func TestMemReadWrite(t *testing.T) {
	bar := make([]byte, 0x1000)
	m := Map(bar)

	m.Write32(0x100, 0xDEADBEEF)
	if got := m.Read32(0x100); got != 0xDEADBEEF {
		t.Errorf("read back 0x%08x, expected 0xDEADBEEF", got)
	}
	// Little-endian byte order in the backing store.
	if bar[0x100] != 0xEF || bar[0x103] != 0xDE {
		t.Errorf("unexpected byte order: % x", bar[0x100:0x104])
	}
	m.Fence()
}

func TestSimTraceAndHooks(t *testing.T) {
	s := NewSim()
	s.Regs[0x10] = 7

	calls := 0
	s.ReadHooks[0x20] = func(*Sim) uint32 {
		calls++
		return 42
	}
	written := uint32(0)
	s.WriteHooks[0x30] = func(_ *Sim, val uint32) {
		written = val
	}

	if got := s.Read32(0x10); got != 7 {
		t.Errorf("read 0x10 = %d, expected 7", got)
	}
	if got := s.Read32(0x20); got != 42 || calls != 1 {
		t.Errorf("hooked read = %d (calls %d), expected 42 once", got, calls)
	}
	s.Write32(0x30, 9)
	if written != 9 || s.Regs[0x30] != 9 {
		t.Errorf("write hook saw %d, reg holds %d", written, s.Regs[0x30])
	}
	s.Fence()

	want := []Op{OpRead, OpRead, OpWrite, OpFence}
	if len(s.Trace) != len(want) {
		t.Fatalf("trace has %d events, expected %d", len(s.Trace), len(want))
	}
	for i, op := range want {
		if s.Trace[i].Op != op {
			t.Errorf("trace[%d] is %v, expected %v", i, s.Trace[i].Op, op)
		}
	}
	if offs := s.Writes(); len(offs) != 1 || offs[0] != 0x30 {
		t.Errorf("Writes() = %v, expected [0x30]", offs)
	}
}
