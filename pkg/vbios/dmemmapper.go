// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vbios

import (
	"encoding/binary"
)

// DmemMapperSignature is "DMAP" in little-endian.
const DmemMapperSignature = 0x50414D44

// Accepted DMEM mapper versions.
const (
	DmemMapperVersion3  = 0x00030000
	DmemMapperVersion40 = 0x00400003
)

// DmemMapperSize is the packed size of the mapper block.
const DmemMapperSize = 64

// Field offsets within the mapper block, used when patching DMEM in
// place.
const (
	DmemMapperCmdInOffsetOff = 12
	DmemMapperCmdInSizeOff   = 16
	DmemMapperInitCmdOff     = 28
)

// DmemMapper is the FALCON_APPIF_DMEMMAPPER_V3 control block embedded in
// FWSEC DMEM. It publishes the command-in/out ring offsets and the
// command the payload runs on entry.
type DmemMapper struct {
	Signature         uint32 // "DMAP"
	Version           uint32
	Size              uint32
	CmdInBufferOffset uint32
	CmdInBufferSize   uint32
	CmdOutBufferOffset uint32
	CmdOutBufferSize  uint32
	InitCmd           uint32
	Features          uint32
	CmdMask0          uint32
	CmdMask1          uint32
	Reserved          [20]uint8
}

func (m *DmemMapper) valid() bool {
	if m.Signature != DmemMapperSignature {
		return false
	}
	if m.Version != DmemMapperVersion3 && m.Version != DmemMapperVersion40 {
		return false
	}
	return m.Size == DmemMapperSize
}

// ParseDmemMapper decodes the mapper block at off inside dmem.
func ParseDmemMapper(dmem []byte, off uint32) (*DmemMapper, error) {
	var m DmemMapper
	if err := readStruct(dmem, off, &m); err != nil {
		return nil, &BoundsError{Where: WhereDmemMapper, Err: err}
	}
	if !m.valid() {
		return nil, parseErrf(WhereDmemMapper, "bad mapper block at 0x%x: sig 0x%08x ver 0x%08x size %d",
			off, m.Signature, m.Version, m.Size)
	}
	return &m, nil
}

// Application interface table, at InterfaceOffset inside DMEM. Entry ID
// 4 points at the DMEM mapper.
const appifIDDmemMapper = 0x04

type appifHeader struct {
	Version    uint8 // 1
	HeaderSize uint8 // 4
	EntrySize  uint8 // 8
	EntryCount uint8
}

type appifEntry struct {
	ID         uint32
	DmemOffset uint32
}

// findDmemMapper locates the mapper inside DMEM. The application
// interface table at interfaceOffset is authoritative; when it is
// missing or malformed the DMEM is scanned for the "DMAP" signature
// directly.
func findDmemMapper(dmem []byte, interfaceOffset uint32) (uint32, error) {
	if off, ok := mapperFromAppif(dmem, interfaceOffset); ok {
		return off, nil
	}
	for off := uint32(0); uint64(off)+DmemMapperSize <= uint64(len(dmem)); off += 4 {
		if binary.LittleEndian.Uint32(dmem[off:]) != DmemMapperSignature {
			continue
		}
		if _, err := ParseDmemMapper(dmem, off); err == nil {
			return off, nil
		}
	}
	return 0, parseErrf(WhereDmemMapper, "no DMEM mapper block in 0x%x bytes of DMEM", len(dmem))
}

func mapperFromAppif(dmem []byte, interfaceOffset uint32) (uint32, bool) {
	var hdr appifHeader
	if err := readStruct(dmem, interfaceOffset, &hdr); err != nil {
		return 0, false
	}
	if hdr.Version != 1 || hdr.HeaderSize != 4 || hdr.EntrySize != 8 || hdr.EntryCount == 0 {
		return 0, false
	}
	entryOff := interfaceOffset + uint32(hdr.HeaderSize)
	for i := 0; i < int(hdr.EntryCount); i++ {
		var e appifEntry
		if err := readStruct(dmem, entryOff, &e); err != nil {
			return 0, false
		}
		if e.ID == appifIDDmemMapper {
			if _, err := ParseDmemMapper(dmem, e.DmemOffset); err != nil {
				return 0, false
			}
			return e.DmemOffset, true
		}
		entryOff += uint32(hdr.EntrySize)
	}
	return 0, false
}
