// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mmio provides 32-bit register access to a GPU BAR0 window.
//
// Every access is a single aligned 32-bit load or store. The device does
// not signal bus errors; reads of powered-off blocks return garbage
// (typically 0xBADFxxxx) which callers must treat as data, never as an
// error.
package mmio

import (
	"sync/atomic"
	"unsafe"
)

// Bar0 is a capability granting 32-bit access to the GPU's primary MMIO
// window. Offsets are byte offsets from the start of BAR0 and must be
// 4-byte aligned.
type Bar0 interface {
	// Read32 performs a single 32-bit load at the given offset.
	Read32(off uint32) uint32

	// Write32 performs a single 32-bit store at the given offset.
	Write32(off uint32, val uint32)

	// Fence orders all prior stores, including plain memory stores to
	// host buffers the device will DMA from, before any subsequent
	// Write32. It must be issued between filling a DMA staging buffer
	// and writing the register that hands its address to the device.
	Fence()
}

// Mem is a Bar0 over a caller-mapped BAR0 region. The mapping must stay
// valid for the lifetime of the Mem.
//
// Accesses go through sync/atomic so the compiler cannot coalesce,
// reorder or elide them, and so each hits memory exactly once.
type Mem struct {
	base []byte
}

// Map wraps an already-mapped BAR0 region.
func Map(base []byte) *Mem {
	return &Mem{base: base}
}

// Read32 implements Bar0.
func (m *Mem) Read32(off uint32) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&m.base[off])))
}

// Write32 implements Bar0.
func (m *Mem) Write32(off uint32, val uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&m.base[off])), val)
}

var fenceSeq uint32

// Fence implements Bar0.
func (m *Mem) Fence() {
	atomic.AddUint32(&fenceSeq, 1)
}
