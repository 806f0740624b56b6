// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vbios

import (
	"bytes"
	"encoding/binary"

	nvbytes "github.com/linuxboot/nvfwsec/pkg/bytes"
)

// pcirPointerOffset is where the 16-bit PCIR offset lives inside a ROM
// image header.
const pcirPointerOffset = 0x18

// romScanStride is the alignment of expansion-ROM image starts.
const romScanStride = 0x100

// PCIRHeader is the PCI data structure identifying an expansion-ROM
// image.
type PCIRHeader struct {
	Signature        uint32 // "PCIR"
	VendorID         uint16
	DeviceID         uint16
	Reserved1        uint16
	Length           uint16
	Revision         uint8
	ClassCode        [3]uint8
	ImageLength      uint16 // in 512-byte units
	CodeRevision     uint16
	CodeType         uint8
	Indicator        uint8 // bit 7: last image
	MaxRuntimeSize   uint16
	ConfigUtilityPtr uint16
	DmtfCLPPtr       uint16
}

// pcirHeaderSize is the packed size of PCIRHeader.
const pcirHeaderSize = 28

// Last reports whether this is the final image of the chain.
func (p *PCIRHeader) Last() bool {
	return p.Indicator&0x80 != 0
}

// Image is one expansion-ROM image of the chain, recorded for
// diagnostics.
type Image struct {
	Base       uint32
	PCIROffset uint32
	PCIR       PCIRHeader
}

// Size returns the image length in bytes.
func (img *Image) Size() uint32 {
	return uint32(img.PCIR.ImageLength) * 512
}

// Range returns the image's extent in the ROM buffer.
func (img *Image) Range() nvbytes.Range {
	return nvbytes.Range{Offset: uint64(img.Base), Length: uint64(img.Size())}
}

// NVGIHeader is the header of the NVGI container some ROM dumps are
// wrapped in.
type NVGIHeader struct {
	Signature  uint32 // "NVGI"
	Version    uint16
	HeaderSize uint16
	ImageSize  uint32
	Crc        uint32
	Flags      uint32
	Reserved   [16]uint8
}

func parseNVGIHeader(rom []byte) (*NVGIHeader, error) {
	var hdr NVGIHeader
	if err := readStruct(rom, 0, &hdr); err != nil {
		return nil, err
	}
	if hdr.Signature != NVGISignature {
		return nil, parseErrf(WhereRom, "no NVGI signature")
	}
	return &hdr, nil
}

// readStruct decodes a packed little-endian structure at off. It is the
// single point all fixed-size header decoding goes through.
func readStruct(data []byte, off uint32, out interface{}) error {
	n := binary.Size(out)
	if err := nvbytes.CheckRange(uint64(len(data)), uint64(off), uint64(off)+uint64(n)); err != nil {
		return err
	}
	return binary.Read(bytes.NewReader(data[off:]), binary.LittleEndian, out)
}

func readU16(data []byte, off uint32) (uint16, error) {
	if err := nvbytes.CheckRange(uint64(len(data)), uint64(off), uint64(off)+2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(data[off:]), nil
}

func readU32(data []byte, off uint32) (uint32, error) {
	if err := nvbytes.CheckRange(uint64(len(data)), uint64(off), uint64(off)+4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(data[off:]), nil
}

// pcirAt validates and decodes the PCIR of the image starting at base.
func (v *VBIOS) pcirAt(base uint32) (*Image, error) {
	sig, err := readU16(v.rom, base)
	if err != nil || sig != RomSignature {
		return nil, parseErrf(WhereRom, "no 0xAA55 signature at 0x%x", base)
	}
	pcirOff, err := readU16(v.rom, base+pcirPointerOffset)
	if err != nil || pcirOff == 0 {
		return nil, parseErrf(WherePcir, "no PCIR pointer at 0x%x", base)
	}
	img := Image{Base: base, PCIROffset: base + uint32(pcirOff)}
	if err := readStruct(v.rom, img.PCIROffset, &img.PCIR); err != nil {
		return nil, &BoundsError{Where: WherePcir, Err: err}
	}
	if img.PCIR.Signature != PCIRSignature {
		return nil, parseErrf(WherePcir, "bad PCIR signature 0x%08x at 0x%x",
			img.PCIR.Signature, img.PCIROffset)
	}
	return &img, nil
}

// findRomBase scans at 256-byte strides for a 0xAA55 signature whose
// PCIR validates and whose code type is x86, the outer container of the
// chain.
func (v *VBIOS) findRomBase() error {
	for off := uint32(0); uint64(off)+pcirHeaderSize < uint64(len(v.rom)); off += romScanStride {
		img, err := v.pcirAt(off)
		if err != nil {
			continue
		}
		if img.PCIR.CodeType != CodeTypeX86 {
			continue
		}
		v.RomBase = off
		v.opt.logger().Debugf("vbios: rom base at 0x%x", off)
		return nil
	}
	return parseErrf(WhereRom, "no x86 expansion ROM image found")
}

// walkImages follows the PCIR image chain from rom base until an image
// carries the last-image indicator. The chain is informational; a broken
// tail only truncates the enumeration.
func (v *VBIOS) walkImages() {
	base := v.RomBase
	for {
		img, err := v.pcirAt(base)
		if err != nil {
			v.opt.logger().Debugf("vbios: image chain ends at 0x%x: %v", base, err)
			return
		}
		pcir := nvbytes.Range{Offset: uint64(img.PCIROffset), Length: pcirHeaderSize}
		if img.Size() > 0 && !img.Range().Contains(pcir) {
			v.opt.logger().Warnf("vbios: image at 0x%x declares a length that excludes its own PCIR", img.Base)
		}
		v.Images = append(v.Images, *img)
		if img.PCIR.Last() || img.Size() == 0 {
			return
		}
		next := uint64(base) + uint64(img.Size())
		if next >= uint64(len(v.rom)) {
			return
		}
		base = uint32(next)
	}
}

// imageBaseFor returns the largest 0xAA55 image start at or below off.
func (v *VBIOS) imageBaseFor(off uint32) uint32 {
	base := v.RomBase
	for _, img := range v.Images {
		if img.Base <= off && img.Base > base {
			base = img.Base
		}
	}
	return base
}
