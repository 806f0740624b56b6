// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fwsec_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxboot/nvfwsec/pkg/fwsec"
	"github.com/linuxboot/nvfwsec/pkg/log"
	"github.com/linuxboot/nvfwsec/pkg/vbios"
	"github.com/linuxboot/nvfwsec/pkg/vbios/vbiostest"
)

func buildImage(t *testing.T, cfg vbiostest.Config) *fwsec.Image {
	t.Helper()
	built := vbiostest.Build(cfg)
	v, err := vbios.Parse(built.Image, vbios.Options{Log: log.NopLogger{}})
	require.NoError(t, err)
	uc, err := v.ExtractFwsec()
	require.NoError(t, err)
	im, err := fwsec.NewImage(uc)
	require.NoError(t, err)
	return im
}

func testLayout() fwsec.FbLayout {
	return fwsec.FbLayout{
		FbSize:   256 << 20,
		FbUsable: 256 << 20,
		FrtsBase: (256 << 20) - 2*fwsec.FrtsSize,
		FrtsSize: fwsec.FrtsSize,
	}
}

func TestPatchFrtsWritesCommand(t *testing.T) {
	im := buildImage(t, vbiostest.Config{})
	layout := testLayout()
	require.NoError(t, im.PatchFrts(layout))

	cmdOff := im.MapperOffset + 0x80
	words := make([]uint32, 8)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(im.DMEM[cmdOff+uint32(i*4):])
	}
	assert.Equal(t, uint32(fwsec.CmdFrts), words[0])
	assert.Equal(t, uint32(layout.FbSize-layout.FrtsBase), words[1])
	assert.Equal(t, uint32(fwsec.FrtsSize), words[2])
	for i := 3; i < 8; i++ {
		assert.Zero(t, words[i], "padding word %d", i)
	}

	initCmd := binary.LittleEndian.Uint32(im.DMEM[im.MapperOffset+vbios.DmemMapperInitCmdOff:])
	assert.Equal(t, uint32(fwsec.CmdFrts), initCmd)
}

func TestPatchFrtsIsIdempotent(t *testing.T) {
	im := buildImage(t, vbiostest.Config{})
	layout := testLayout()
	require.NoError(t, im.PatchFrts(layout))

	snapshot := make([]byte, len(im.DMEM))
	copy(snapshot, im.DMEM)

	require.NoError(t, im.PatchFrts(layout))
	assert.True(t, bytes.Equal(snapshot, im.DMEM), "re-patching changed DMEM")
}

func TestPatchFrtsWithInitCmdAlreadySet(t *testing.T) {
	// An image whose mapper already carries the FRTS init command
	// patches to the same bytes.
	im := buildImage(t, vbiostest.Config{InitCmd: fwsec.CmdFrts})
	other := buildImage(t, vbiostest.Config{})
	layout := testLayout()
	require.NoError(t, im.PatchFrts(layout))
	require.NoError(t, other.PatchFrts(layout))
	assert.True(t, bytes.Equal(im.DMEM, other.DMEM))
}

func TestSelectSignatureIndex(t *testing.T) {
	for _, tc := range []struct {
		versions uint16
		fuse     uint32
		want     int
		wantErr  bool
	}{
		{0b0101, 1, 0, false},
		{0b0101, 3, 2, false},
		{0b0101, 0, 0, false},
		{0b0010, 0, 0, true},
		{0b0010, 1, 1, false},
		{0x8000, 15, 15, false},
		{0x8000, 14, 0, true},
		{0, 5, 0, true},
	} {
		idx, err := fwsec.SelectSignatureIndex(tc.versions, tc.fuse)
		if tc.wantErr {
			var serr *fwsec.SignatureError
			require.ErrorAs(t, err, &serr,
				"versions 0b%b fuse %d", tc.versions, tc.fuse)
			assert.Equal(t, tc.fuse, serr.FuseVersion)
			continue
		}
		require.NoError(t, err, "versions 0b%b fuse %d", tc.versions, tc.fuse)
		assert.Equal(t, tc.want, idx, "versions 0b%b fuse %d", tc.versions, tc.fuse)
	}
}

func TestSelectSignatureIsMonotone(t *testing.T) {
	const versions = 0b1010_0110
	last := -1
	for fuse := uint32(0); fuse < 16; fuse++ {
		idx, err := fwsec.SelectSignatureIndex(versions, fuse)
		if err != nil {
			continue
		}
		assert.GreaterOrEqual(t, idx, last, "fuse %d", fuse)
		last = idx
	}
}

func TestStageLaysOutBuffer(t *testing.T) {
	im := buildImage(t, vbiostest.Config{SignatureCount: 3, SignatureVersions: 0b0101})
	require.NoError(t, im.PatchFrts(testLayout()))
	require.NoError(t, im.SelectSignature(3)) // bit 2 wins

	alloc := &fwsec.HeapAllocator{}
	require.NoError(t, im.Stage(alloc))
	buf := im.Staging()
	require.NotNil(t, buf)

	imemLen := len(im.IMEM)
	dmemLen := len(im.DMEM)
	assert.Zero(t, buf.Phys&0xFF, "staging buffer must be 256-byte aligned")
	assert.Len(t, buf.Bytes, imemLen+dmemLen+vbios.RSA3KSigSize)
	assert.True(t, bytes.Equal(buf.Bytes[:imemLen], im.IMEM))
	assert.True(t, bytes.Equal(buf.Bytes[imemLen:imemLen+dmemLen], im.DMEM))

	// The third signature, bit-exact, at the tail.
	sig := im.Signatures[2*vbios.RSA3KSigSize : 3*vbios.RSA3KSigSize]
	assert.True(t, bytes.Equal(buf.Bytes[imemLen+dmemLen:], sig))

	params := im.BromParams()
	assert.Equal(t, uint32(imemLen+dmemLen), params.PkcDataOffset)
	assert.Equal(t, params.PkcDataOffset, im.Desc.PkcDataOffset,
		"descriptor PKC offset must be rebased to the staged image")
}

func TestStageRequiresSignatureSelection(t *testing.T) {
	im := buildImage(t, vbiostest.Config{})
	err := im.Stage(&fwsec.HeapAllocator{})
	require.Error(t, err)
}

func TestSelectSignatureBeyondBlob(t *testing.T) {
	// Bit 2 is selectable but only one signature ships.
	im := buildImage(t, vbiostest.Config{SignatureCount: 1, SignatureVersions: 0b0100})
	err := im.SelectSignature(3)
	var serr *fwsec.SignatureError
	require.ErrorAs(t, err, &serr)
}
