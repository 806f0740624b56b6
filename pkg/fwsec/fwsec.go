// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fwsec runs the FWSEC-FRTS bring-up on Ada Lovelace GPUs: it
// extracts the FWSEC-PROD microcode from the VBIOS, patches the "set up
// WPR2" command into its DMEM, and executes it on the GSP falcon so that
// a valid WPR2 region exists in framebuffer memory on return.
//
// The sequence is strictly single-threaded and blocking; it may run from
// an interrupt-disabled early-boot context, so all allocations are
// bounded and performed up front.
package fwsec

import (
	"github.com/linuxboot/nvfwsec/pkg/falcon"
	"github.com/linuxboot/nvfwsec/pkg/log"
	"github.com/linuxboot/nvfwsec/pkg/mmio"
)

// Env is the capability bundle a bring-up runs against. There is no
// module-level state; everything the sequence touches comes in here.
type Env struct {
	// Bar0 is exclusive access to the GPU's BAR0 window for the
	// duration of the call.
	Bar0 mmio.Bar0

	// DMA allocates the pinned staging buffer the falcon DMAs from.
	DMA DMAAllocator

	// Clock is the stall source for all spin-waits.
	Clock falcon.Clock

	// Log is optional; a nil Log runs silently.
	Log log.Logger
}

func (e *Env) logger() log.Logger {
	if e.Log != nil {
		return e.Log
	}
	return log.NopLogger{}
}

// DMABuffer is a pinned, physically contiguous allocation the device can
// DMA from. Phys must stay stable until Free.
type DMABuffer struct {
	Bytes []byte
	Phys  uint64

	// OnFree releases the underlying allocation; nil is allowed.
	OnFree func()
}

// Free releases the buffer.
func (b *DMABuffer) Free() {
	if b.OnFree != nil {
		b.OnFree()
	}
	b.Bytes = nil
}

// DMAAllocator hands out DMA-coherent buffers. Physical addresses must
// fit the device's 48-bit mask and honor the requested alignment.
type DMAAllocator interface {
	AllocCoherent(size, align uint32) (*DMABuffer, error)
}

// HeapAllocator is a DMAAllocator over plain host memory with synthetic
// physical addresses. It backs tests and dry runs; real bring-ups need a
// pinned allocator from the platform.
type HeapAllocator struct {
	NextPhys uint64
}

// AllocCoherent implements DMAAllocator.
func (a *HeapAllocator) AllocCoherent(size, align uint32) (*DMABuffer, error) {
	if a.NextPhys == 0 {
		a.NextPhys = 0x100000
	}
	if align != 0 {
		a.NextPhys = (a.NextPhys + uint64(align) - 1) &^ (uint64(align) - 1)
	}
	buf := &DMABuffer{Bytes: make([]byte, size), Phys: a.NextPhys}
	a.NextPhys += uint64(size)
	return buf, nil
}

// Timeouts carries the stride and cap of every spin-wait in the
// sequence, so tests can supply a fake clock and shrunk budgets.
type Timeouts struct {
	GfwBoot    falcon.Wait
	MemScrub   falcon.Wait
	CoreSelect falcon.Wait
	DmaChunk   falcon.Wait
	Halt       falcon.Wait
}

// DefaultTimeouts returns the hardware polling budgets.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		GfwBoot:    falcon.Wait{StrideUs: 1000, CapUs: 2000000},
		MemScrub:   falcon.Wait{StrideUs: 100, CapUs: 100000},
		CoreSelect: falcon.Wait{StrideUs: 10, CapUs: 10000},
		DmaChunk:   falcon.Wait{StrideUs: 10, CapUs: 10000},
		Halt:       falcon.Wait{StrideUs: 1000, CapUs: 5000000},
	}
}
