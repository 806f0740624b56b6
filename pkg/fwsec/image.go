// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fwsec

import (
	"encoding/binary"
	"fmt"

	nvbytes "github.com/linuxboot/nvfwsec/pkg/bytes"
	"github.com/linuxboot/nvfwsec/pkg/falcon"
	"github.com/linuxboot/nvfwsec/pkg/vbios"
)

// CmdFrts is the FWSEC command that carves out the FRTS region and
// programs WPR2.
const CmdFrts = 0x15

// frtsCmdSize is the packed size of the FRTS command: three meaningful
// words plus five words of padding.
const frtsCmdSize = 32

// Image owns the extracted FWSEC microcode for one bring-up: the
// descriptor, mutable IMEM/DMEM copies, the signature blob, and the DMA
// staging buffer. It is built in orchestration step 4 and released at
// step 10.
type Image struct {
	Desc       vbios.FalconUcodeDescV3
	IMEM       []byte
	DMEM       []byte
	Signatures []byte

	// MapperOffset locates the DMEM mapper block inside DMEM.
	MapperOffset uint32

	mapper vbios.DmemMapper

	// SigIndex is the fuse-selected signature, -1 until selected.
	SigIndex int

	staging *DMABuffer

	// stagedSigOffset is where the selected signature sits inside the
	// staging buffer; the BROM reads it from there.
	stagedSigOffset uint32
}

// NewImage takes ownership of an extracted ucode and validates its DMEM
// mapper.
func NewImage(uc *vbios.Ucode) (*Image, error) {
	m, err := vbios.ParseDmemMapper(uc.DMEM, uc.DmemMapperOffset)
	if err != nil {
		return nil, err
	}
	return &Image{
		Desc:         uc.Desc,
		IMEM:         uc.IMEM,
		DMEM:         uc.DMEM,
		Signatures:   uc.Signatures,
		MapperOffset: uc.DmemMapperOffset,
		mapper:       *m,
		SigIndex:     -1,
	}, nil
}

// PatchFrts writes the FRTS command into the mapper's command-in buffer
// and forces the mapper's init command to FRTS, so the payload runs it
// on entry instead of awaiting a doorbell. Patching is idempotent:
// re-patching with the same layout leaves DMEM byte-identical.
func (im *Image) PatchFrts(layout FbLayout) error {
	if im.mapper.CmdInBufferSize < frtsCmdSize {
		return fmt.Errorf("command-in buffer too small: %d bytes", im.mapper.CmdInBufferSize)
	}
	cmdOff := uint64(im.MapperOffset) + uint64(im.mapper.CmdInBufferOffset)
	if err := nvbytes.CheckRange(uint64(len(im.DMEM)), cmdOff, cmdOff+frtsCmdSize); err != nil {
		return fmt.Errorf("command-in buffer escapes DMEM: %w", err)
	}

	cmd := im.DMEM[cmdOff : cmdOff+frtsCmdSize]
	for i := range cmd {
		cmd[i] = 0
	}
	binary.LittleEndian.PutUint32(cmd[0:], CmdFrts)
	// The region offset is measured back from the end of FB.
	binary.LittleEndian.PutUint32(cmd[4:], uint32(layout.FbSize-layout.FrtsBase))
	binary.LittleEndian.PutUint32(cmd[8:], uint32(layout.FrtsSize))

	initOff := im.MapperOffset + vbios.DmemMapperInitCmdOff
	binary.LittleEndian.PutUint32(im.DMEM[initOff:], CmdFrts)
	im.mapper.InitCmd = CmdFrts
	return nil
}

// SelectSignatureIndex maps the descriptor's signature-version bitmask
// and the fuse version to a signature index: the highest set bit not
// above the fuse version. Selection is monotone in the fuse version.
func SelectSignatureIndex(versions uint16, fuseVersion uint32) (int, error) {
	for bit := 15; bit >= 0; bit-- {
		if versions>>uint(bit)&1 == 1 && uint32(bit) <= fuseVersion {
			return bit, nil
		}
	}
	return 0, &SignatureError{FuseVersion: fuseVersion}
}

// SelectSignature picks the signature the fuses will accept.
func (im *Image) SelectSignature(fuseVersion uint32) error {
	idx, err := SelectSignatureIndex(im.Desc.SignatureVersions, fuseVersion)
	if err != nil {
		return err
	}
	if (idx+1)*vbios.RSA3KSigSize > len(im.Signatures) {
		return &SignatureError{FuseVersion: fuseVersion}
	}
	im.SigIndex = idx
	return nil
}

// Stage builds the DMA staging buffer: IMEM, then patched DMEM, then the
// selected signature, 256-byte aligned so the falcon DMA engine can
// address it. The descriptor's PKC offset is rebased to the signature's
// position in the staged image.
func (im *Image) Stage(alloc DMAAllocator) error {
	if im.SigIndex < 0 {
		return fmt.Errorf("no signature selected before staging")
	}
	size := len(im.IMEM) + len(im.DMEM) + vbios.RSA3KSigSize
	buf, err := alloc.AllocCoherent(uint32(size), 256)
	if err != nil {
		return fmt.Errorf("staging buffer: %w", err)
	}
	if buf.Phys&0xFF != 0 {
		buf.Free()
		return fmt.Errorf("staging buffer phys 0x%x not 256-byte aligned", buf.Phys)
	}

	n := copy(buf.Bytes, im.IMEM)
	n += copy(buf.Bytes[n:], im.DMEM)
	sig := im.Signatures[im.SigIndex*vbios.RSA3KSigSize : (im.SigIndex+1)*vbios.RSA3KSigSize]
	copy(buf.Bytes[n:], sig)

	im.staging = buf
	im.stagedSigOffset = uint32(n)
	im.Desc.PkcDataOffset = im.stagedSigOffset
	return nil
}

// Staging returns the staged buffer, or nil before Stage.
func (im *Image) Staging() *DMABuffer {
	return im.staging
}

// BromParams returns the boot-ROM programming derived from the staged
// image.
func (im *Image) BromParams() falcon.BromParams {
	return falcon.BromParams{
		PkcDataOffset: im.stagedSigOffset,
		EngineIDMask:  im.Desc.EngineIDMask,
		UcodeID:       im.Desc.UcodeID,
	}
}

// Close releases the staging buffer and drops the firmware copies.
func (im *Image) Close() {
	if im.staging != nil {
		im.staging.Free()
		im.staging = nil
	}
	im.IMEM = nil
	im.DMEM = nil
	im.Signatures = nil
}
