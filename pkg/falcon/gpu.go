// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package falcon

import (
	"math/bits"

	"github.com/linuxboot/nvfwsec/pkg/mmio"
)

// Architecture returns the architecture code from PMC_BOOT_0, bits
// 24:20. Ada Lovelace reads ArchAda.
func Architecture(bar mmio.Bar0) uint32 {
	return bar.Read32(RegPmcBoot0) >> 20 & 0x1F
}

// WaitGfwBoot polls the GFW boot progress scratch until devinit reports
// completion in its low byte.
func WaitGfwBoot(bar mmio.Bar0, clock Clock, w Wait) error {
	if !w.run(clock, func() bool {
		return bar.Read32(RegGfwBootProgress)&0xFF == gfwBootCompleted
	}) {
		return &TimeoutError{Stage: StageGfwBoot, CapUs: w.CapUs}
	}
	return nil
}

// WprRange is a WPR2 region in physical framebuffer addresses.
type WprRange struct {
	Lo uint64
	Hi uint64
}

// IsSet reports whether the range describes a configured WPR2.
func (r WprRange) IsSet() bool {
	return r.Hi != 0
}

// decodeWprReg turns a WPR2 address register into a byte address. The
// register stores bits 31:4 of (addr >> 8); both halves decode the same
// way.
func decodeWprReg(reg uint32) uint64 {
	return uint64(reg&0xFFFFFFF0) << 8
}

// ReadWpr2 decodes both WPR2 address registers.
func ReadWpr2(bar mmio.Bar0) WprRange {
	return WprRange{
		Lo: decodeWprReg(bar.Read32(RegWpr2AddrLo)),
		Hi: decodeWprReg(bar.Read32(RegWpr2AddrHi)),
	}
}

// Wpr2Configured reports whether a prior agent already set WPR2 up.
func Wpr2Configured(bar mmio.Bar0) bool {
	return bar.Read32(RegWpr2AddrHi)&0xFFFFFFF0 != 0
}

// FrtsErrorCode returns the FWSEC-FRTS error code from the PBUS scratch
// register, bits 31:16. Zero means success.
func FrtsErrorCode(bar mmio.Bar0) uint16 {
	return uint16(bar.Read32(RegPbusSwScratch0E) >> 16)
}

// UsableFbSize returns the usable framebuffer size in bytes.
func UsableFbSize(bar mmio.Bar0) uint64 {
	return uint64(bar.Read32(RegUsableFbSizeInMB)&0xFFFF) << 20
}

// SigFuseVersion reads the FWSEC signature-revocation fuses. Fuses blow
// monotonically, one per revoked version, so the version is the count of
// blown bits.
func SigFuseVersion(bar mmio.Bar0) uint32 {
	return uint32(bits.OnesCount32(bar.Read32(RegFuseFwsecVersion) & 0xFFFF))
}

// DebugFused reports whether the part still accepts debug-signed
// firmware: the GSP debug-disable fuse is unblown.
func DebugFused(bar mmio.Bar0) bool {
	return bar.Read32(RegFuseGspDbgDisable)&1 == 0
}
