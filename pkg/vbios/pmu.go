// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vbios

import (
	"encoding/binary"
)

// PmuLookupHeader indexes falcon applications shipped in the VBIOS. The
// Ada header signature is {version=1, headerSize=6, entrySize=6}.
type PmuLookupHeader struct {
	Version     uint8
	HeaderSize  uint8
	EntrySize   uint8
	EntryCount  uint8
	DescVersion uint8
	Reserved    uint8
}

const (
	pmuHeaderVersion = 1
	pmuHeaderSize    = 6
	pmuEntrySize     = 6
	pmuMaxEntries    = 32
)

// pmuPatternScanStart is where the last-resort header pattern scan
// begins; the tables never live in the low ROM headers.
const pmuPatternScanStart = 0x9000

// PmuEntry is one lookup table entry. The 6-byte wire entry is ambiguous
// between the pre-Ada {appId:u8, targetId:u8, offset:u32} and the Ada
// {appId:u16, offset:u32} layouts; both carry the data offset in bytes
// 2..6, so an entry records both readings of the application ID.
type PmuEntry struct {
	AppID8     uint8
	TargetID   uint8
	AppID16    uint16
	DataOffset uint32
}

// MatchesApp reports whether the entry names the given application under
// either entry layout.
func (e *PmuEntry) MatchesApp(appID uint16) bool {
	if e.AppID16 == appID {
		return true
	}
	return appID <= 0xFF && e.AppID8 == uint8(appID)
}

// PmuTable is a located and validated PMU lookup table.
type PmuTable struct {
	Offset  uint32
	Header  PmuLookupHeader
	Entries []PmuEntry
}

// FindApp returns the entries matching an application ID, in table
// order.
func (t *PmuTable) FindApp(appID uint16) []PmuEntry {
	var out []PmuEntry
	for _, e := range t.Entries {
		if e.MatchesApp(appID) {
			out = append(out, e)
		}
	}
	return out
}

// pmuTableAt validates the header signature at off and decodes the
// entries.
func (v *VBIOS) pmuTableAt(off uint32) (*PmuTable, bool) {
	var hdr PmuLookupHeader
	if err := readStruct(v.rom, off, &hdr); err != nil {
		return nil, false
	}
	if hdr.Version != pmuHeaderVersion || hdr.HeaderSize != pmuHeaderSize ||
		hdr.EntrySize != pmuEntrySize ||
		hdr.EntryCount < 1 || hdr.EntryCount > pmuMaxEntries {
		return nil, false
	}

	table := &PmuTable{Offset: off, Header: hdr}
	entryOff := off + uint32(hdr.HeaderSize)
	for i := 0; i < int(hdr.EntryCount); i++ {
		if uint64(entryOff)+pmuEntrySize > uint64(len(v.rom)) {
			break
		}
		raw := v.rom[entryOff : entryOff+pmuEntrySize]
		table.Entries = append(table.Entries, PmuEntry{
			AppID8:     raw[0],
			TargetID:   raw[1],
			AppID16:    binary.LittleEndian.Uint16(raw[0:2]),
			DataOffset: binary.LittleEndian.Uint32(raw[2:6]),
		})
		entryOff += uint32(hdr.EntrySize)
	}
	if len(table.Entries) == 0 {
		return nil, false
	}
	return table, true
}

// findPmuTable locates the PMU lookup table. Preferred is the Ada token
// 0x50 path: its data region is a raw array of 32-bit offsets, each a
// candidate table location. The pre-Ada fallback follows token 0x70's
// FALCON_DATA indirection. If neither yields a valid header, the ROM is
// scanned for the header pattern directly.
func (v *VBIOS) findPmuTable() error {
	if table := v.pmuFromToken50(); table != nil {
		v.PMU = table
		return nil
	}
	if table := v.pmuFromToken70(); table != nil {
		v.PMU = table
		return nil
	}
	if table := v.pmuFromPatternScan(); table != nil {
		v.PMU = table
		return nil
	}
	return parseErrf(WherePmuTable, "no PMU lookup table found")
}

func (v *VBIOS) pmuFromToken50() *PmuTable {
	tok, ok := v.BIT.Token(TokenPmuTablePtrs)
	if !ok || tok.DataSize < 4 {
		return nil
	}
	dataOff := v.ImageBase + uint32(tok.DataOffset)
	count := int(tok.DataSize) / 4
	if count > 64 {
		count = 64
	}
	for i := 0; i < count; i++ {
		candidate, err := readU32(v.rom, dataOff+uint32(i*4))
		if err != nil {
			break
		}
		if candidate == 0 {
			continue
		}
		// Offsets here are ambiguous between absolute-in-ROM and
		// rom-base-relative; absolute is tried first on Ada.
		for _, off := range []uint32{candidate, v.RomBase + candidate} {
			if table, ok := v.pmuTableAt(off); ok {
				v.opt.logger().Debugf("vbios: PMU table at 0x%x via token 0x50 entry %d", off, i)
				return table
			}
		}
	}
	v.opt.logger().Debugf("vbios: token 0x50 offsets carry no PMU table")
	return nil
}

// BitFalconData is the payload of token 0x70.
type BitFalconData struct {
	UcodeTableOffset uint32
	UcodeTableSize   uint32
}

func (v *VBIOS) pmuFromToken70() *PmuTable {
	tok, ok := v.BIT.Token(TokenFalconData)
	if !ok {
		return nil
	}
	var fd BitFalconData
	if err := readStruct(v.rom, v.ImageBase+uint32(tok.DataOffset), &fd); err != nil {
		return nil
	}
	for _, off := range []uint32{v.ImageBase + fd.UcodeTableOffset, fd.UcodeTableOffset} {
		if table, ok := v.pmuTableAt(off); ok {
			v.opt.logger().Debugf("vbios: PMU table at 0x%x via token 0x70", off)
			return table
		}
	}
	return nil
}

// pmuFromPatternScan searches for the {01 06 06 xx} header prefix whose
// entry list names a FWSEC application.
func (v *VBIOS) pmuFromPatternScan() *PmuTable {
	for off := uint32(pmuPatternScanStart); uint64(off)+pmuHeaderSize < uint64(len(v.rom)); off += 4 {
		table, ok := v.pmuTableAt(off)
		if !ok {
			continue
		}
		if len(table.FindApp(AppIDFwsecProd)) == 0 && len(table.FindApp(AppIDFwsecDbg)) == 0 {
			continue
		}
		v.opt.logger().Debugf("vbios: PMU table at 0x%x via pattern scan", off)
		return table
	}
	return nil
}
