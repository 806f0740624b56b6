// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vbios_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/linuxboot/nvfwsec/pkg/log"
	"github.com/linuxboot/nvfwsec/pkg/vbios"
	"github.com/linuxboot/nvfwsec/pkg/vbios/vbiostest"
)

func parse(t *testing.T, img []byte) *vbios.VBIOS {
	t.Helper()
	v, err := vbios.Parse(img, vbios.Options{Log: log.NopLogger{}})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return v
}

func TestParseAndExtract(t *testing.T) {
	built := vbiostest.Build(vbiostest.Config{})
	v := parse(t, built.Image)

	if v.RomBase != 0 {
		t.Errorf("rom base is 0x%x, expected 0", v.RomBase)
	}
	if len(v.Images) != 1 {
		t.Fatalf("found %d images, expected 1", len(v.Images))
	}
	if v.Images[0].PCIR.CodeType != vbios.CodeTypeX86 {
		t.Errorf("image code type 0x%02x, expected x86", v.Images[0].PCIR.CodeType)
	}
	if v.BIT == nil || len(v.BIT.Tokens) == 0 {
		t.Fatal("no BIT tokens")
	}
	if v.PMU == nil {
		t.Fatal("no PMU table")
	}

	uc, err := v.ExtractFwsec()
	if err != nil {
		t.Fatalf("ExtractFwsec failed: %v", err)
	}
	if uc.Desc.ImemLoadSize != 0x400 {
		t.Errorf("imem load size 0x%x, expected 0x400", uc.Desc.ImemLoadSize)
	}
	if uc.DescOffset != built.DescOffset {
		t.Errorf("descriptor at 0x%x, expected 0x%x", uc.DescOffset, built.DescOffset)
	}

	// The recovered blobs must match the built payloads byte for byte.
	if !bytes.Equal(uc.IMEM, built.IMEM) {
		t.Error("IMEM does not round-trip")
	}
	if !bytes.Equal(uc.DMEM, built.DMEM) {
		t.Error("DMEM does not round-trip")
	}
	if !bytes.Equal(uc.Signatures, built.Signatures) {
		t.Error("signatures do not round-trip")
	}
	if uc.DmemMapperOffset != built.MapperOffset {
		t.Errorf("mapper at 0x%x, expected 0x%x", uc.DmemMapperOffset, built.MapperOffset)
	}
}

func TestShiftedRomBase(t *testing.T) {
	built := vbiostest.Build(vbiostest.Config{RomBase: 0x100})
	v := parse(t, built.Image)
	if v.RomBase != 0x100 {
		t.Fatalf("rom base is 0x%x, expected 0x100", v.RomBase)
	}
	if _, err := v.ExtractFwsec(); err != nil {
		t.Fatalf("ExtractFwsec failed: %v", err)
	}
}

func TestPmuPointerAmbiguity(t *testing.T) {
	t.Run("relative_only", func(t *testing.T) {
		// The pointer is stored rom-base relative; the absolute reading
		// lands in zeroes, so the relative one must win.
		built := vbiostest.Build(vbiostest.Config{RomBase: 0x100, PmuPtrRelative: true})
		v := parse(t, built.Image)
		if v.PMU.Offset != 0x380 {
			t.Errorf("PMU table at 0x%x, expected 0x380", v.PMU.Offset)
		}
	})

	t.Run("absolute_preferred", func(t *testing.T) {
		// Both readings validate; the absolute one is tried first.
		built := vbiostest.Build(vbiostest.Config{RomBase: 0x100, PmuPtrRelative: true})
		// The relative pointer reads 0x280; plant a second valid table
		// at absolute 0x280 (the table at 0x380 has header size 6 plus
		// one 6-byte entry).
		copy(built.Image[0x280:], built.Image[0x380:0x380+12])
		v := parse(t, built.Image)
		if v.PMU.Offset != 0x280 {
			t.Errorf("PMU table at 0x%x, expected the absolute reading at 0x280", v.PMU.Offset)
		}
	})
}

func TestDualPmuEntryFormats(t *testing.T) {
	t.Run("ada_u16", func(t *testing.T) {
		built := vbiostest.Build(vbiostest.Config{})
		v := parse(t, built.Image)
		if n := len(v.PMU.FindApp(vbios.AppIDFwsecProd)); n != 1 {
			t.Errorf("found %d FWSEC entries, expected 1", n)
		}
	})

	t.Run("pre_ada_u8", func(t *testing.T) {
		// First byte 0x85, second byte a target ID; only the u8 layout
		// matches.
		built := vbiostest.Build(vbiostest.Config{PreAdaEntry: true})
		v := parse(t, built.Image)
		if n := len(v.PMU.FindApp(vbios.AppIDFwsecProd)); n != 1 {
			t.Errorf("found %d FWSEC entries, expected 1", n)
		}
		if _, err := v.ExtractFwsec(); err != nil {
			t.Errorf("ExtractFwsec failed: %v", err)
		}
	})
}

func TestPreAdaFalconDataPath(t *testing.T) {
	built := vbiostest.Build(vbiostest.Config{PreAdaToken: true, PreAdaEntry: true})
	v := parse(t, built.Image)
	if v.PMU == nil {
		t.Fatal("no PMU table via token 0x70")
	}
	if _, err := v.ExtractFwsec(); err != nil {
		t.Fatalf("ExtractFwsec failed: %v", err)
	}
}

func TestTokenTerminatorEndsScan(t *testing.T) {
	// An ID-0 token hides the rest of the list; with no other path to
	// the PMU table the parse must fail there.
	built := vbiostest.Build(vbiostest.Config{TerminatorOnly: true})
	_, err := vbios.Parse(built.Image, vbios.Options{Log: log.NopLogger{}})
	if err == nil {
		t.Fatal("Parse succeeded, expected a PMU table error")
	}
	var perr *vbios.ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("error is %T, expected *ParseError", err)
	}
	if perr.Where != vbios.WherePmuTable {
		t.Errorf("error located at %v, expected %v", perr.Where, vbios.WherePmuTable)
	}
}

func TestDescriptorPointerAmbiguity(t *testing.T) {
	// The entry offset is stored rom-base relative; the decoder must
	// still find the descriptor.
	built := vbiostest.Build(vbiostest.Config{RomBase: 0x100, DescPtrRelative: true})
	v := parse(t, built.Image)
	uc, err := v.ExtractFwsec()
	if err != nil {
		t.Fatalf("ExtractFwsec failed: %v", err)
	}
	if uc.DescOffset != built.DescOffset {
		t.Errorf("descriptor at 0x%x, expected 0x%x", uc.DescOffset, built.DescOffset)
	}
}

func TestDescriptorRescueScan(t *testing.T) {
	// The entry points 0x2000 past the descriptor; the linear probe
	// around the expected location recovers it.
	built := vbiostest.Build(vbiostest.Config{SkewDescPtr: 0x2000})
	v := parse(t, built.Image)
	uc, err := v.ExtractFwsec()
	if err != nil {
		t.Fatalf("ExtractFwsec failed: %v", err)
	}
	if uc.DescOffset != built.DescOffset {
		t.Errorf("descriptor at 0x%x, expected 0x%x", uc.DescOffset, built.DescOffset)
	}
}

func TestDmemMapperScanFallback(t *testing.T) {
	built := vbiostest.Build(vbiostest.Config{NoAppif: true})
	v := parse(t, built.Image)
	uc, err := v.ExtractFwsec()
	if err != nil {
		t.Fatalf("ExtractFwsec failed: %v", err)
	}
	if uc.DmemMapperOffset != built.MapperOffset {
		t.Errorf("mapper at 0x%x, expected 0x%x", uc.DmemMapperOffset, built.MapperOffset)
	}
}

func TestNoRomSignature(t *testing.T) {
	img := make([]byte, 0x8000)
	_, err := vbios.Parse(img, vbios.Options{Log: log.NopLogger{}})
	var perr *vbios.ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("error is %T, expected *ParseError", err)
	}
	if perr.Where != vbios.WhereRom {
		t.Errorf("error located at %v, expected %v", perr.Where, vbios.WhereRom)
	}
}

func TestDebugFusedPrefersDbgApp(t *testing.T) {
	built := vbiostest.Build(vbiostest.Config{AppID: vbios.AppIDFwsecDbg})
	// Add a second PMU entry naming FWSEC-PROD for the same descriptor,
	// so both applications are present.
	pmu := built.Image[0x280:]
	pmu[3] = 2
	binary.LittleEndian.PutUint16(pmu[12:], vbios.AppIDFwsecProd)
	binary.LittleEndian.PutUint32(pmu[14:], built.DescOffset)
	v, err := vbios.Parse(built.Image, vbios.Options{DebugFused: true, Log: log.NopLogger{}})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	uc, err := v.ExtractFwsec()
	if err != nil {
		t.Fatalf("ExtractFwsec failed: %v", err)
	}
	if uc.AppID != vbios.AppIDFwsecDbg {
		t.Errorf("extracted app 0x%04x, expected FWSEC-DBG", uc.AppID)
	}
}
