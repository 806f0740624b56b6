// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vbios

import (
	"bytes"
)

// bitPattern is the 0xFFB8 prefix followed by "BIT\x00".
var bitPattern = []byte{0xFF, 0xB8, 'B', 'I', 'T', 0x00}

// BITHeader is the BIOS Information Table header, starting at the 0xFFB8
// prefix.
type BITHeader struct {
	Prefix     uint16 // 0xB8FF
	Signature  [4]uint8
	Version    uint16
	HeaderSize uint8
	TokenSize  uint8
	TokenCount uint8
	Reserved   uint8
}

// BitToken is one BIT token entry.
type BitToken struct {
	ID         uint8
	Version    uint8
	DataSize   uint16
	DataOffset uint16 // relative to the containing image's base
}

// bitTokenSize is the packed size of BitToken; TokenSize may be larger,
// the trailing bytes are ignored.
const bitTokenSize = 6

// BITTable is a parsed BIT header with its token list.
type BITTable struct {
	Offset uint32 // of the 0xFFB8 prefix
	Header BITHeader
	Tokens []BitToken
}

// Token returns the first token with the given ID.
func (t *BITTable) Token(id uint8) (BitToken, bool) {
	for _, tok := range t.Tokens {
		if tok.ID == id {
			return tok, true
		}
	}
	return BitToken{}, false
}

// findBIT searches the 64 KiB after rom base byte-by-byte for the BIT
// pattern and validates the header. A token with ID 0 terminates the
// token list early regardless of TokenCount.
func (v *VBIOS) findBIT() error {
	end := uint64(v.RomBase) + bitSearchWindow
	if end > uint64(len(v.rom)) {
		end = uint64(len(v.rom))
	}
	area := v.rom[v.RomBase:end]

	off := 0
	for {
		idx := bytes.Index(area[off:], bitPattern)
		if idx < 0 {
			return parseErrf(WhereBit, "no BIT header within 0x%x bytes of rom base", bitSearchWindow)
		}
		bitOff := v.RomBase + uint32(off+idx)

		table, err := v.parseBITAt(bitOff)
		if err != nil {
			v.opt.logger().Debugf("vbios: BIT candidate at 0x%x rejected: %v", bitOff, err)
			off += idx + 1
			continue
		}
		v.BIT = table
		v.ImageBase = v.imageBaseFor(bitOff)
		v.opt.logger().Debugf("vbios: BIT at 0x%x, %d tokens, image base 0x%x",
			bitOff, len(table.Tokens), v.ImageBase)
		return nil
	}
}

func (v *VBIOS) parseBITAt(off uint32) (*BITTable, error) {
	var hdr BITHeader
	if err := readStruct(v.rom, off, &hdr); err != nil {
		return nil, &BoundsError{Where: WhereBit, Err: err}
	}
	if hdr.HeaderSize == 0 || hdr.HeaderSize >= 32 {
		return nil, parseErrf(WhereBit, "header size %d out of range", hdr.HeaderSize)
	}
	if hdr.TokenSize < 6 || hdr.TokenSize > 12 {
		return nil, parseErrf(WhereBit, "token size %d out of range", hdr.TokenSize)
	}
	if hdr.TokenCount == 0 || hdr.TokenCount >= 64 {
		return nil, parseErrf(WhereBit, "token count %d out of range", hdr.TokenCount)
	}

	table := &BITTable{Offset: off, Header: hdr}
	tokOff := off + uint32(hdr.HeaderSize)
	for i := 0; i < int(hdr.TokenCount); i++ {
		var tok BitToken
		if err := readStruct(v.rom, tokOff, &tok); err != nil {
			// Truncated token list; keep what parsed.
			break
		}
		if tok.ID == 0 {
			break
		}
		table.Tokens = append(table.Tokens, tok)
		tokOff += uint32(hdr.TokenSize)
	}
	return table, nil
}
