// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vbios


// NvfwBinHdr is the common header of NVIDIA firmware binaries.
type NvfwBinHdr struct {
	VendorID     uint16 // 0x10DE
	Version      uint16
	Reserved     uint32
	TotalSize    uint32
	HeaderOffset uint32
	HeaderSize   uint32
	DataOffset   uint32
	DataSize     uint32
}

// binHdrSize is the packed size of NvfwBinHdr.
const binHdrSize = 28

// maxUcodeTotalSize rejects descriptors claiming more than a VBIOS can
// hold.
const maxUcodeTotalSize = 1 << 20

// valid reports whether the header passes the trust checks: NVIDIA
// vendor ID, a sane version, and a believable total size.
func (h *NvfwBinHdr) valid() bool {
	return h.VendorID == NvidiaVendorID &&
		h.Version >= 1 && h.Version <= 16 &&
		h.TotalSize < maxUcodeTotalSize
}

// FalconUcodeDescV3 is the version-3 falcon ucode descriptor: the binary
// header followed by the load geometry and signature metadata.
type FalconUcodeDescV3 struct {
	BinHdr            NvfwBinHdr
	StoredSize        uint32
	PkcDataOffset     uint32
	InterfaceOffset   uint32
	ImemPhysBase      uint32
	ImemLoadSize      uint32
	ImemVirtBase      uint32
	DmemPhysBase      uint32
	DmemLoadSize      uint32
	EngineIDMask      uint32
	UcodeID           uint8
	SignatureCount    uint8
	SignatureVersions uint16
}

// descV3Size is the packed size of FalconUcodeDescV3.
const descV3Size = binHdrSize + 40

// DescV3Size is descV3Size for callers rendering descriptors.
const DescV3Size = descV3Size

// descRescueWindow is how far around a bad pointer the linear descriptor
// search may look.
const descRescueWindow = 0x10000

// Ucode is the FWSEC image extracted from a VBIOS: the descriptor plus
// copies of its IMEM, DMEM and signature blobs. The copies are owned by
// the caller; patching them never touches the ROM.
type Ucode struct {
	Desc FalconUcodeDescV3

	// DescOffset is the descriptor's absolute offset in the ROM.
	DescOffset uint32

	// AppID is the PMU application the image was extracted for.
	AppID uint16

	IMEM       []byte
	DMEM       []byte
	Signatures []byte // SignatureCount × RSA3KSigSize bytes

	// DmemMapperOffset locates the DMEM mapper control block inside
	// DMEM.
	DmemMapperOffset uint32
}

// ExtractFwsec finds the FWSEC application in the PMU table and pulls
// the descriptor, IMEM, DMEM and signatures out of the ROM. FWSEC-PROD
// is preferred; debug-fused parts take FWSEC-DBG when present.
func (v *VBIOS) ExtractFwsec() (*Ucode, error) {
	if v.PMU == nil {
		return nil, parseErrf(WherePmuTable, "no PMU table located")
	}

	appIDs := []uint16{AppIDFwsecProd, AppIDFwsecDbg}
	if v.opt.DebugFused {
		appIDs = []uint16{AppIDFwsecDbg, AppIDFwsecProd}
	}

	var lastErr error
	for _, appID := range appIDs {
		for _, entry := range v.PMU.FindApp(appID) {
			uc, err := v.extractAt(entry.DataOffset, appID)
			if err != nil {
				lastErr = err
				v.opt.logger().Debugf("vbios: app 0x%04x entry at 0x%x rejected: %v",
					appID, entry.DataOffset, err)
				continue
			}
			return uc, nil
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, parseErrf(WherePmuTable, "no FWSEC entry in PMU table")
}

// descAt decodes and validates a descriptor at off, following the outer
// NVFW binary header indirection when one is present.
func (v *VBIOS) descAt(off uint32) (*FalconUcodeDescV3, uint32, bool) {
	var outer NvfwBinHdr
	if err := readStruct(v.rom, off, &outer); err != nil {
		return nil, 0, false
	}
	if !outer.valid() {
		return nil, 0, false
	}
	descOff := off
	if outer.HeaderOffset != 0 && outer.HeaderOffset < outer.TotalSize {
		inner := off + outer.HeaderOffset
		var hdr NvfwBinHdr
		if err := readStruct(v.rom, inner, &hdr); err == nil && hdr.valid() {
			descOff = inner
		}
	}

	var desc FalconUcodeDescV3
	if err := readStruct(v.rom, descOff, &desc); err != nil {
		return nil, 0, false
	}
	if !desc.BinHdr.valid() {
		return nil, 0, false
	}
	if desc.ImemLoadSize == 0 || desc.ImemLoadSize > MaxImemSize {
		return nil, 0, false
	}
	if desc.DmemLoadSize > MaxDmemSize {
		return nil, 0, false
	}
	return &desc, descOff, true
}

func (v *VBIOS) extractAt(dataOffset uint32, appID uint16) (*Ucode, error) {
	// The PMU entry offset is ambiguous between absolute-in-ROM and
	// rom-base-relative; the first interpretation whose target
	// validates wins.
	var (
		desc    *FalconUcodeDescV3
		descOff uint32
		found   bool
	)
	for _, off := range []uint32{dataOffset, v.RomBase + dataOffset} {
		if d, dOff, ok := v.descAt(off); ok {
			desc, descOff, found = d, dOff, true
			break
		}
	}
	if !found {
		// Last resort: a linear probe around the expected location.
		desc, descOff, found = v.rescueScan(dataOffset)
	}
	if !found {
		return nil, parseErrf(WhereFwsecDesc, "no valid descriptor near 0x%x", dataOffset)
	}

	uc := &Ucode{Desc: *desc, DescOffset: descOff, AppID: appID}

	imemOff := uint64(descOff) + uint64(desc.BinHdr.DataOffset)
	dmemOff := imemOff + uint64(desc.ImemLoadSize)
	sigOff := uint64(descOff) + uint64(desc.PkcDataOffset)
	sigLen := uint64(desc.SignatureCount) * RSA3KSigSize

	var err error
	if uc.IMEM, err = v.copyOut(imemOff, uint64(desc.ImemLoadSize)); err != nil {
		return nil, err
	}
	if uc.DMEM, err = v.copyOut(dmemOff, uint64(desc.DmemLoadSize)); err != nil {
		return nil, err
	}
	if uc.Signatures, err = v.copyOut(sigOff, sigLen); err != nil {
		return nil, err
	}

	mapperOff, err := findDmemMapper(uc.DMEM, desc.InterfaceOffset)
	if err != nil {
		return nil, err
	}
	uc.DmemMapperOffset = mapperOff

	v.opt.logger().Debugf("vbios: FWSEC 0x%04x at 0x%x: imem 0x%x dmem 0x%x sigs %d mapper 0x%x",
		appID, descOff, desc.ImemLoadSize, desc.DmemLoadSize, desc.SignatureCount, mapperOff)
	return uc, nil
}

func (v *VBIOS) copyOut(off, n uint64) ([]byte, error) {
	if off+n > uint64(len(v.rom)) {
		return nil, &BoundsError{Where: WhereFwsecDesc, Err: parseErrf(WhereFwsecDesc,
			"slice [0x%x, 0x%x) escapes ROM of 0x%x bytes", off, off+n, len(v.rom))}
	}
	out := make([]byte, n)
	copy(out, v.rom[off:off+n])
	return out, nil
}

// rescueScan looks for a plausible descriptor within the rescue window
// around the expected location.
func (v *VBIOS) rescueScan(expected uint32) (*FalconUcodeDescV3, uint32, bool) {
	start := int64(expected) - descRescueWindow
	if start < 0 {
		start = 0
	}
	end := int64(expected) + descRescueWindow
	if end > int64(len(v.rom))-descV3Size {
		end = int64(len(v.rom)) - descV3Size
	}
	for off := start; off <= end; off += 4 {
		if d, dOff, ok := v.descAt(uint32(off)); ok {
			v.opt.logger().Debugf("vbios: descriptor rescued at 0x%x (expected near 0x%x)", dOff, expected)
			return d, dOff, true
		}
	}
	return nil, 0, false
}
