// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package falcon

// Falcon base addresses (offsets from BAR0).
const (
	GSPBase  = 0x110000
	SEC2Base = 0x840000
	PMUBase  = 0x10A000
)

// Falcon register offsets, from the falcon base.
const (
	regMailbox0   = 0x0040 // scratch mailbox 0
	regMailbox1   = 0x0044 // scratch mailbox 1
	regITFEn      = 0x0048 // interface enable
	regBromEngCtl = 0x00A4 // boot ROM engine control
	regBromParam  = 0x00AC // boot ROM parameter
	regBromAddr   = 0x00B0 // boot ROM signature address
	regBromData   = 0x00B4 // boot ROM data
	regCPUCtl     = 0x0100 // CPU control
	regBootVec    = 0x0104 // boot vector
	regHWCfg      = 0x0108 // hardware config
	regDMACtl     = 0x010C // DMA control
	regDMATrfBase = 0x0110 // DMA transfer base, bits 39:8
	regDMATrfMoffs  = 0x0114 // DMA transfer local-memory offset
	regDMATrfFboffs = 0x0118 // DMA transfer external offset
	regDMATrfCmd    = 0x011C // DMA transfer command
	regDMATrfBase1  = 0x0128 // DMA transfer base, bits 48:40
	regHWCfg2       = 0x0F98 // hardware config 2 (core kind, scrub status)
	regBCRCtrl      = 0x0F54 // boot configuration control
	regFbifTransCfg = 0x0600 // FBIF aperture config, one per slot
	regFbifCtl      = 0x0624 // FBIF control
)

// regIMemC/regIMemD/regDMemC/regDMemD address the PIO ports; i selects
// the port instance.
func regIMemC(i uint32) uint32 { return 0x0180 + i*16 }
func regIMemD(i uint32) uint32 { return 0x0184 + i*16 }
func regDMemC(i uint32) uint32 { return 0x01C0 + i*8 }
func regDMemD(i uint32) uint32 { return 0x01C4 + i*8 }

// CPUCTL bits.
const (
	cpuctlStartCPU = 1 << 1
	cpuctlHalted   = 1 << 4
	cpuctlStopped  = 1 << 5
)

// HWCFG2 bits.
const (
	hwcfg2RiscV        = 1 << 0
	hwcfg2MemScrubbing = 1 << 5
)

// BCR_CTRL values.
const (
	bcrCtrlCoreSelectFalcon = 0x00000001
	bcrCtrlValid            = 1 << 4
)

// DMATRFCMD bits.
const (
	dmaTrfCmdIdle     = 1 << 1
	dmaTrfCmdSec      = 1 << 2
	dmaTrfCmdImem     = 1 << 4
	dmaTrfCmdSize256B = 6 << 8
)

// ITFEN bits.
const (
	itfenCtx  = 1 << 0
	itfenMthd = 1 << 1
)

// IMEMC/DMEMC bits.
const (
	memcBlkShift = 8
	memcAincw    = 1 << 24
	memcAincr    = 1 << 25
	memcSec      = 1 << 28
)

// FBIF_CTL bits: allow physical addressing with no bound context.
const (
	fbifCtlAllowPhysNoCtx = 1 << 7
)

// FbifTarget selects the memory space an FBIF aperture reaches.
type FbifTarget uint32

// FBIF aperture targets.
const (
	FbifTargetLocalFB        FbifTarget = 0
	FbifTargetCoherentSys    FbifTarget = 1
	FbifTargetNonCoherentSys FbifTarget = 2
)

// dmaBlockSize is the unit of PIO and DMA transfers.
const dmaBlockSize = 256

// GPU top-level registers (offsets from BAR0).
const (
	RegPmcBoot0          = 0x000000 // architecture in bits 24:20
	RegPbusSwScratch0E   = 0x001438 // FRTS error code in bits 31:16
	RegUsableFbSizeInMB  = 0x100A10 // usable FB size, MiB, bits 15:0
	RegGfwBootProgress   = 0x118234 // PGC6_AON_SECURE_SCRATCH_GROUP_05_0
	RegWpr2AddrLo        = 0x1FA824 // PFB_PRI_MMU_WPR2_ADDR_LO
	RegWpr2AddrHi        = 0x1FA828 // PFB_PRI_MMU_WPR2_ADDR_HI
	RegVgaWorkspaceBase  = 0x611188 // PDISP_VGA_WORKSPACE_BASE
	RegFuseFwsecVersion  = 0x824100 // FUSE_OPT_FPF_FWSEC_DBG_DISABLE
	RegFuseGspDbgDisable = 0x824104 // FUSE_OPT_SECURE_GSP_DEBUG_DISABLE
)

// ArchAda is the PMC_BOOT_0 architecture code of Ada Lovelace.
const ArchAda = 0x19

// gfwBootCompleted is the GFW progress value reported once devinit is
// done.
const gfwBootCompleted = 0xFF
