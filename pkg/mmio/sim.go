// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmio

// Op is the kind of a recorded BAR0 access.
type Op int

// Access kinds recorded by Sim.
const (
	OpRead Op = iota
	OpWrite
	OpFence
)

// Event is one recorded BAR0 access.
type Event struct {
	Op  Op
	Off uint32
	Val uint32
}

// Sim is an in-memory Bar0 backed by a sparse register map. It records
// every access in order and lets hooks model device-side behavior, e.g. a
// register that flips after a write elsewhere, or a scratch register that
// counts down. The bring-up tests drive the real register sequences
// against it.
type Sim struct {
	// Regs holds the current register values. Unset registers read as 0.
	Regs map[uint32]uint32

	// ReadHooks intercepts reads of specific offsets. The hook's return
	// value is the read result; Regs is not consulted.
	ReadHooks map[uint32]func(s *Sim) uint32

	// WriteHooks runs after a write to a specific offset has been stored
	// into Regs.
	WriteHooks map[uint32]func(s *Sim, val uint32)

	// Trace is the ordered record of all accesses, including fences.
	Trace []Event
}

// NewSim returns an empty simulator.
func NewSim() *Sim {
	return &Sim{
		Regs:       map[uint32]uint32{},
		ReadHooks:  map[uint32]func(*Sim) uint32{},
		WriteHooks: map[uint32]func(*Sim, uint32){},
	}
}

// Read32 implements Bar0.
func (s *Sim) Read32(off uint32) uint32 {
	var val uint32
	if hook, ok := s.ReadHooks[off]; ok {
		val = hook(s)
	} else {
		val = s.Regs[off]
	}
	s.Trace = append(s.Trace, Event{Op: OpRead, Off: off, Val: val})
	return val
}

// Write32 implements Bar0.
func (s *Sim) Write32(off uint32, val uint32) {
	s.Regs[off] = val
	s.Trace = append(s.Trace, Event{Op: OpWrite, Off: off, Val: val})
	if hook, ok := s.WriteHooks[off]; ok {
		hook(s, val)
	}
}

// Fence implements Bar0.
func (s *Sim) Fence() {
	s.Trace = append(s.Trace, Event{Op: OpFence})
}

// Writes returns the offsets of all recorded writes, in order.
func (s *Sim) Writes() []uint32 {
	var offs []uint32
	for _, ev := range s.Trace {
		if ev.Op == OpWrite {
			offs = append(offs, ev.Off)
		}
	}
	return offs
}
