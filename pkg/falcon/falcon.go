// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package falcon drives NVIDIA falcon microcontrollers over BAR0: reset
// and scrub handshakes, core selection, PIO and DMA code loading, FBIF
// aperture setup, boot-ROM heavy-secure entry, and halt detection. It
// also carries the handful of GPU top-level register helpers the FWSEC
// sequence needs.
//
// All waits are busy polls through an explicit Clock; the package has no
// concurrency of its own.
package falcon

import (
	"encoding/binary"

	"github.com/linuxboot/nvfwsec/pkg/log"
	"github.com/linuxboot/nvfwsec/pkg/mmio"
)

// Falcon is one falcon controller instance. It is owned by a single
// caller for the duration of a bring-up; nothing here is safe for
// concurrent use.
type Falcon struct {
	bar   mmio.Bar0
	clock Clock
	log   log.Logger

	// Base is the controller's register block offset in BAR0.
	Base uint32

	// IsGsp marks the GSP falcon.
	IsGsp bool

	// IsRiscV reports the RISC-V-capable bit of HWCFG2.
	IsRiscV bool

	// Halted mirrors the last observed CPUCTL halt bit.
	Halted bool

	// Mailbox0 and Mailbox1 hold the last values read by WaitHalt.
	Mailbox0 uint32
	Mailbox1 uint32
}

// BromParams programs the boot ROM for a heavy-secure start.
type BromParams struct {
	// PkcDataOffset locates the selected signature inside the staged
	// image.
	PkcDataOffset uint32

	// EngineIDMask and UcodeID identify the ucode to the signature
	// fuses.
	EngineIDMask uint32
	UcodeID      uint8
}

// New probes the controller at base and records its core kind and halt
// state. It never fails: a powered-off block simply reads garbage, which
// later steps surface as timeouts.
func New(bar mmio.Bar0, clock Clock, logger log.Logger, base uint32) *Falcon {
	if logger == nil {
		logger = log.DefaultLogger
	}
	f := &Falcon{bar: bar, clock: clock, log: logger, Base: base, IsGsp: base == GSPBase}
	hwcfg2 := f.read(regHWCfg2)
	f.IsRiscV = hwcfg2&hwcfg2RiscV != 0
	f.Halted = f.read(regCPUCtl)&cpuctlHalted != 0
	f.log.Debugf("falcon 0x%x: riscv=%v halted=%v", base, f.IsRiscV, f.Halted)
	return f
}

func (f *Falcon) read(off uint32) uint32 {
	return f.bar.Read32(f.Base + off)
}

func (f *Falcon) write(off, val uint32) {
	f.bar.Write32(f.Base+off, val)
}

// Reset waits out a pending memory scrub and forces the falcon core
// (rather than the RISC-V core) via BCR core-select. A scrub timeout is
// logged and tolerated; a core-select timeout is fatal because the
// controller cannot execute falcon code without it.
func (f *Falcon) Reset(scrub, coreSelect Wait) error {
	if !scrub.run(f.clock, func() bool {
		return f.read(regHWCfg2)&hwcfg2MemScrubbing == 0
	}) {
		f.log.Warnf("falcon 0x%x: memory scrub still running after %dus", f.Base, scrub.CapUs)
	}

	if f.read(regBCRCtrl) != bcrCtrlCoreSelectFalcon {
		f.write(regBCRCtrl, bcrCtrlCoreSelectFalcon)
		if !coreSelect.run(f.clock, func() bool {
			return f.read(regBCRCtrl) == bcrCtrlCoreSelectFalcon
		}) {
			return &TimeoutError{Stage: StageCoreSelect, CapUs: coreSelect.CapUs}
		}
	}
	f.Halted = true
	return nil
}

// LoadPio streams IMEM and DMEM through the PIO ports in 256-byte
// blocks. The secure bit is never set: PIO-loaded code cannot pass the
// boot ROM's signature check, so this path only runs on debug-fused
// parts.
func (f *Falcon) LoadPio(imem, dmem []byte) {
	f.loadMem(regIMemC(0), regIMemD(0), imem)
	f.loadMem(regDMemC(0), regDMemD(0), dmem)
}

func (f *Falcon) loadMem(memc, memd uint32, data []byte) {
	for off := 0; off < len(data); off += 4 {
		if off%dmaBlockSize == 0 {
			blk := uint32(off / dmaBlockSize)
			f.write(memc, blk<<memcBlkShift|memcAincw)
		}
		f.write(memd, leWord(data, off))
	}
}

// leWord reads the 32-bit word at off, zero-padding a short tail.
func leWord(data []byte, off int) uint32 {
	if off+4 <= len(data) {
		return binary.LittleEndian.Uint32(data[off:])
	}
	var w [4]byte
	copy(w[:], data[off:])
	return binary.LittleEndian.Uint32(w[:])
}

// ReadDmem reads n bytes of DMEM at off through the PIO port, for
// post-halt diagnostics such as the FWSEC command-out buffer.
func (f *Falcon) ReadDmem(off, n uint32) []byte {
	out := make([]byte, 0, n)
	f.write(regDMemC(0), (off/dmaBlockSize)<<memcBlkShift|off%dmaBlockSize&^3|memcAincr)
	for i := uint32(0); i < n; i += 4 {
		var w [4]byte
		binary.LittleEndian.PutUint32(w[:], f.read(regDMemD(0)))
		out = append(out, w[:]...)
	}
	return out[:n]
}

// ConfigureFbif points both FBIF aperture slots at the given target and
// allows physical addressing without a bound context.
func (f *Falcon) ConfigureFbif(target FbifTarget) {
	f.write(regFbifTransCfg+0, uint32(target))
	f.write(regFbifTransCfg+4, uint32(target))
	f.write(regFbifCtl, fbifCtlAllowPhysNoCtx)
}

// SetDmaBase hands the staging buffer's physical address to the DMA
// engine. The fence orders the caller's staging-buffer stores before the
// device can observe the address.
func (f *Falcon) SetDmaBase(phys uint64) {
	f.bar.Fence()
	f.write(regDMATrfBase, uint32(phys>>8))
	f.write(regDMATrfBase1, uint32(phys>>40))
}

// LoadDma transfers imemLen bytes into IMEM and dmemLen bytes into DMEM
// from the staging buffer previously announced with SetDmaBase, in
// 256-byte chunks, then programs the boot vector. Each chunk gets its
// own idle wait.
func (f *Falcon) LoadDma(imemLen, dmemLen uint32, bootVec uint32, chunk Wait) error {
	for off := uint32(0); off < imemLen; off += dmaBlockSize {
		f.write(regDMATrfMoffs, off)
		f.write(regDMATrfFboffs, off)
		f.write(regDMATrfCmd, dmaTrfCmdSize256B|dmaTrfCmdImem)
		if !chunk.run(f.clock, func() bool {
			return f.read(regDMATrfCmd)&dmaTrfCmdIdle != 0
		}) {
			return &TimeoutError{Stage: StageDma, CapUs: chunk.CapUs}
		}
	}
	for off := uint32(0); off < dmemLen; off += dmaBlockSize {
		f.write(regDMATrfMoffs, off)
		f.write(regDMATrfFboffs, imemLen+off)
		f.write(regDMATrfCmd, dmaTrfCmdSize256B)
		if !chunk.run(f.clock, func() bool {
			return f.read(regDMATrfCmd)&dmaTrfCmdIdle != 0
		}) {
			return &TimeoutError{Stage: StageDma, CapUs: chunk.CapUs}
		}
	}
	f.write(regBootVec, bootVec)
	return nil
}

// SetBootVec programs the address execution starts from.
func (f *Falcon) SetBootVec(vec uint32) {
	f.write(regBootVec, vec)
}

// Start kicks the CPU.
func (f *Falcon) Start() {
	f.Halted = false
	f.write(regCPUCtl, cpuctlStartCPU)
}

// StartBrom enters the boot ROM's heavy-secure path: the BROM DMA-reads
// the staged image, verifies the RSA-3K signature against the fuses, and
// jumps into the ucode. The caller must already have configured the FBIF
// for sysmem and announced the staging address via SetDmaBase.
func (f *Falcon) StartBrom(p BromParams) {
	f.write(regBromParam, p.EngineIDMask&0xFFFF|uint32(p.UcodeID)<<16)
	f.bar.Fence()
	f.write(regBromAddr, p.PkcDataOffset)
	f.Halted = false
	f.write(regBCRCtrl, bcrCtrlCoreSelectFalcon|bcrCtrlValid)
}

// HaltStatus is the outcome of a WaitHalt.
type HaltStatus struct {
	Halted   bool
	Mailbox0 uint32
	Mailbox1 uint32
}

// WaitHalt polls the CPU halt bit and, once halted, captures both
// mailboxes. A falcon that never halts leaves the GPU in an undefined
// state; callers must not retry without a full reset.
func (f *Falcon) WaitHalt(w Wait) (HaltStatus, error) {
	if !w.run(f.clock, func() bool {
		return f.read(regCPUCtl)&cpuctlHalted != 0
	}) {
		return HaltStatus{}, &TimeoutError{Stage: StageFalconHalt, CapUs: w.CapUs}
	}
	f.Halted = true
	f.Mailbox0 = f.read(regMailbox0)
	f.Mailbox1 = f.read(regMailbox1)
	return HaltStatus{Halted: true, Mailbox0: f.Mailbox0, Mailbox1: f.Mailbox1}, nil
}
