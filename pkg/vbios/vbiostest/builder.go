// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package vbiostest synthesizes well-formed VBIOS images for tests: one
// x86 expansion-ROM image, a BIT, a PMU lookup table and a FWSEC
// descriptor with patterned IMEM, DMEM and signature payloads.
package vbiostest

import (
	"encoding/binary"
)

// Layout offsets, relative to the ROM base.
const (
	pcirOff      = 0x40
	bitOff       = 0x200
	tokenDataOff = 0x260
	pmuOff       = 0x280
	descOff      = 0x1000

	dmemMapperOff = 0x40 // inside DMEM
	cmdInOff      = 0x80 // relative to the mapper
)

// Config selects the wire-format variants a built image exercises.
type Config struct {
	// Size is the total image size; 64 KiB when zero.
	Size int

	// RomBase shifts the whole ROM; must be a multiple of 0x100.
	RomBase uint32

	// PreAdaToken emits a FALCON_DATA token (0x70) instead of the Ada
	// PMU-pointer token (0x50).
	PreAdaToken bool

	// PreAdaEntry writes PMU entries as {appId:u8, targetId:u8} rather
	// than {appId:u16}.
	PreAdaEntry bool

	// AppID is the application the FWSEC entry names; 0x85 when zero.
	AppID uint16

	// PmuPtrRelative stores the token-0x50 pointer relative to the ROM
	// base instead of absolute.
	PmuPtrRelative bool

	// DescPtrRelative stores the PMU entry's data offset relative to
	// the ROM base instead of absolute.
	DescPtrRelative bool

	// TerminatorOnly puts an ID-0 token first, hiding all later
	// tokens.
	TerminatorOnly bool

	// SkewDescPtr shifts the PMU entry's descriptor pointer off target
	// to exercise the rescue scan.
	SkewDescPtr int32

	// NoAppif omits the application interface table so the mapper is
	// only findable by signature scan.
	NoAppif bool

	// ImemSize and DmemSize default to 0x400 and 0x200.
	ImemSize uint32
	DmemSize uint32

	// SignatureCount defaults to 1; SignatureVersions to bit 0.
	SignatureCount    int
	SignatureVersions uint16

	// InitCmd seeds the mapper's init command field.
	InitCmd uint32
}

// Built is a synthesized image together with the payloads a decoder
// must recover from it.
type Built struct {
	Image      []byte
	DescOffset uint32
	IMEM       []byte
	DMEM       []byte
	Signatures []byte

	// MapperOffset is where the DMEM mapper sits inside DMEM.
	MapperOffset uint32
}

func (c *Config) defaults() {
	if c.Size == 0 {
		c.Size = 0x10000
	}
	if c.AppID == 0 {
		c.AppID = 0x85
	}
	if c.ImemSize == 0 {
		c.ImemSize = 0x400
	}
	if c.DmemSize == 0 {
		c.DmemSize = 0x200
	}
	if c.SignatureCount == 0 {
		c.SignatureCount = 1
	}
	if c.SignatureVersions == 0 {
		c.SignatureVersions = 0x1
	}
}

// Build synthesizes the image.
func Build(cfg Config) *Built {
	cfg.defaults()
	img := make([]byte, cfg.Size)
	base := cfg.RomBase

	put16 := func(off uint32, v uint16) { binary.LittleEndian.PutUint16(img[off:], v) }
	put32 := func(off uint32, v uint32) { binary.LittleEndian.PutUint32(img[off:], v) }

	// Expansion-ROM header and PCIR.
	put16(base, 0xAA55)
	put16(base+0x18, pcirOff)
	p := base + pcirOff
	copy(img[p:], "PCIR")
	put16(p+4, 0x10DE)                            // vendor
	put16(p+6, 0x2684)                            // device
	put16(p+10, 28)                               // PCIR length
	put16(p+16, uint16((uint32(cfg.Size)-base)/512)) // image length, 512B units
	img[p+20] = 0x00                              // code type: x86
	img[p+21] = 0x80                              // last image

	// BIT header and tokens.
	b := base + bitOff
	copy(img[b:], []byte{0xFF, 0xB8, 'B', 'I', 'T', 0x00})
	put16(b+6, 0x0100) // version
	img[b+8] = 12      // header size
	img[b+9] = 6       // token size
	img[b+10] = 2      // token count

	tok := b + 12
	writeToken := func(off uint32, id uint8, size uint16, dataOff uint16) {
		img[off] = id
		img[off+1] = 1
		binary.LittleEndian.PutUint16(img[off+2:], size)
		binary.LittleEndian.PutUint16(img[off+4:], dataOff)
	}
	switch {
	case cfg.TerminatorOnly:
		writeToken(tok, 0, 0, 0)
		writeToken(tok+6, 0x50, 4, tokenDataOff)
	case cfg.PreAdaToken:
		writeToken(tok, 0x70, 8, tokenDataOff)
	default:
		writeToken(tok, 0x50, 8, tokenDataOff)
	}

	// Token payload: either the raw pointer array (0x50) or the
	// FALCON_DATA indirection (0x70).
	td := base + tokenDataOff
	if cfg.PreAdaToken {
		put32(td, pmuOff) // ucode table offset, image-base relative
		put32(td+4, 0)
	} else {
		ptr := base + pmuOff
		if cfg.PmuPtrRelative {
			ptr = pmuOff
		}
		put32(td, 0) // a dead first candidate
		put32(td+4, ptr)
	}

	// PMU lookup table: header {01 06 06 count} plus one entry.
	t := base + pmuOff
	img[t] = 1
	img[t+1] = 6
	img[t+2] = 6
	img[t+3] = 1

	descPtr := int64(base) + descOff
	if cfg.DescPtrRelative {
		descPtr = descOff
	}
	descPtr += int64(cfg.SkewDescPtr)
	e := t + 6
	if cfg.PreAdaEntry {
		img[e] = uint8(cfg.AppID)
		img[e+1] = 0x07 // target: GSP
	} else {
		put16(e, cfg.AppID)
	}
	put32(e+2, uint32(descPtr))

	// FWSEC descriptor and payloads.
	d := base + descOff
	imem := pattern(int(cfg.ImemSize), 0x11)
	dmem := buildDmem(cfg)
	sigs := make([]byte, cfg.SignatureCount*384)
	for i := 0; i < cfg.SignatureCount; i++ {
		for j := 0; j < 384; j++ {
			sigs[i*384+j] = byte(0xA0 + i)
		}
	}

	dataOff := uint32(0x80)
	pkcOff := dataOff + cfg.ImemSize + cfg.DmemSize
	total := pkcOff + uint32(len(sigs))

	put16(d, 0x10DE)   // vendor
	put16(d+2, 1)      // version
	put32(d+8, total)  // total size
	put32(d+12, 0)     // header offset: descriptor is in place
	put32(d+16, 68)    // header size
	put32(d+20, dataOff)
	put32(d+24, cfg.ImemSize+cfg.DmemSize) // data size
	put32(d+28, cfg.ImemSize+cfg.DmemSize) // stored size
	put32(d+32, pkcOff)
	put32(d+36, 0)     // interface offset: appif at DMEM start
	put32(d+40, 0)     // imem phys base
	put32(d+44, cfg.ImemSize)
	put32(d+48, 0x100) // imem virt base
	put32(d+52, 0)     // dmem phys base
	put32(d+56, cfg.DmemSize)
	put32(d+60, 0x1)   // engine id mask
	img[d+64] = 2      // ucode id
	img[d+65] = uint8(cfg.SignatureCount)
	put16(d+66, cfg.SignatureVersions)

	copy(img[d+dataOff:], imem)
	copy(img[d+dataOff+cfg.ImemSize:], dmem)
	copy(img[d+pkcOff:], sigs)

	return &Built{
		Image:        img,
		DescOffset:   d,
		IMEM:         imem,
		DMEM:         dmem,
		Signatures:   sigs,
		MapperOffset: dmemMapperOff,
	}
}

func buildDmem(cfg Config) []byte {
	dmem := pattern(int(cfg.DmemSize), 0x33)
	put32 := func(off uint32, v uint32) { binary.LittleEndian.PutUint32(dmem[off:], v) }

	if !cfg.NoAppif {
		dmem[0] = 1 // appif version
		dmem[1] = 4 // header size
		dmem[2] = 8 // entry size
		dmem[3] = 1 // entry count
		put32(4, 0x04)          // DMEMMAPPER
		put32(8, dmemMapperOff) // its offset
	} else {
		for i := 0; i < 12; i++ {
			dmem[i] = 0
		}
	}

	m := uint32(dmemMapperOff)
	put32(m, 0x50414D44)    // "DMAP"
	put32(m+4, 0x00030000)  // version
	put32(m+8, 64)          // size
	put32(m+12, cmdInOff)   // cmd-in offset
	put32(m+16, 0x40)       // cmd-in size
	put32(m+20, cmdInOff+0x40) // cmd-out offset
	put32(m+24, 0x20)       // cmd-out size
	put32(m+28, cfg.InitCmd)
	put32(m+32, 0) // features
	put32(m+36, 0) // cmd mask 0
	put32(m+40, 0) // cmd mask 1
	for i := uint32(44); i < 64; i++ {
		dmem[m+i] = 0
	}
	return dmem
}

func pattern(n int, seed byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i)*7 + seed
	}
	return out
}
