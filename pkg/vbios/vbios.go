// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package vbios parses NVIDIA VBIOS images and extracts the FWSEC-PROD
// falcon microcode shipped inside them.
//
// A VBIOS is a chain of PCI expansion-ROM images. The x86 image carries
// the BIT (BIOS Information Table); a BIT token points, directly on Ada
// Lovelace or through the FALCON_DATA indirection on earlier parts, to
// the PMU lookup table, which maps application IDs to falcon ucode
// descriptors. The FWSEC descriptor locates IMEM, DMEM and the RSA-3K
// signature blob.
//
// All multi-byte fields are little-endian and packed. The image is
// treated as an immutable byte buffer; every field is decoded through
// bounds-checked accessors.
package vbios

import (
	"github.com/linuxboot/nvfwsec/pkg/log"
)

// ROM image signatures.
const (
	// RomSignature is the 0xAA55 signature opening every expansion-ROM
	// image.
	RomSignature = 0xAA55

	// PCIRSignature is "PCIR" in little-endian.
	PCIRSignature = 0x52494350

	// NPDESignature is "NPDE" in little-endian, an NVIDIA extension
	// data structure that may follow the PCIR.
	NPDESignature = 0x4544504E

	// NVGISignature is "NVGI" in little-endian, the container some ROM
	// dumps are wrapped in.
	NVGISignature = 0x4947564E

	// BITSignature is "BIT\x00" in little-endian.
	BITSignature = 0x00544942
)

// PCIR code types.
const (
	CodeTypeX86   = 0x00
	CodeTypeEFI   = 0x03
	CodeTypeFwsec = 0xE0
)

// BIT token IDs consumed by the FWSEC path.
const (
	// TokenPmuTablePtrs (0x50) carries a raw array of 32-bit offsets to
	// PMU lookup table candidates on Ada Lovelace.
	TokenPmuTablePtrs = 0x50

	// TokenFalconData (0x70) points to the falcon ucode table on
	// pre-Ada parts.
	TokenFalconData = 0x70
)

// PMU lookup table application IDs.
const (
	AppIDFwsecProd = 0x85
	AppIDFwsecDbg  = 0x86
)

// NvidiaVendorID is the PCI vendor ID stamped into every NVIDIA firmware
// binary header.
const NvidiaVendorID = 0x10DE

// RSA3KSigSize is the size of one RSA-3K PKC signature in bytes.
const RSA3KSigSize = 384

// Falcon scratchpad limits; descriptors claiming more are rejected.
const (
	MaxImemSize = 0x40000 // 256 KiB
	MaxDmemSize = 0x10000 // 64 KiB
)

// bitSearchWindow bounds the byte-wise BIT header search after rom base.
const bitSearchWindow = 0x10000

// Options adjusts decoding behavior.
type Options struct {
	// DebugFused selects the FWSEC-DBG application over FWSEC-PROD when
	// both are present, for debug-fused parts.
	DebugFused bool

	// Log receives decoder diagnostics. Defaults to log.DefaultLogger.
	Log log.Logger
}

func (o *Options) logger() log.Logger {
	if o.Log != nil {
		return o.Log
	}
	return log.DefaultLogger
}

// VBIOS is a parsed VBIOS image.
type VBIOS struct {
	rom []byte
	opt Options

	// RomBase is the offset of the first PCIR-validated x86 image.
	RomBase uint32

	// Container describes the NVGI wrapper, if the dump has one.
	Container *NVGIHeader

	// Images is the enumerated expansion-ROM chain, for diagnostics.
	Images []Image

	// BIT is the BIOS Information Table.
	BIT *BITTable

	// ImageBase is the start of the image containing the BIT; BIT token
	// data offsets are relative to it.
	ImageBase uint32

	// PMU is the located PMU lookup table.
	PMU *PmuTable
}

// Parse runs the decoder pipeline over a VBIOS image: ROM base scan,
// image-chain walk, BIT search, and PMU lookup table location. The
// returned VBIOS borrows rom; the caller must keep it alive and
// unmodified.
func Parse(rom []byte, opt Options) (*VBIOS, error) {
	v := &VBIOS{rom: rom, opt: opt}

	if hdr, err := parseNVGIHeader(rom); err == nil {
		opt.logger().Debugf("vbios: NVGI container, header size 0x%x, image size 0x%x",
			hdr.HeaderSize, hdr.ImageSize)
		v.Container = hdr
	}

	if err := v.findRomBase(); err != nil {
		return nil, err
	}
	v.walkImages()
	if err := v.findBIT(); err != nil {
		return nil, err
	}
	if err := v.findPmuTable(); err != nil {
		return nil, err
	}
	return v, nil
}

// Rom returns the underlying image bytes.
func (v *VBIOS) Rom() []byte {
	return v.rom
}
