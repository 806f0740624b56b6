// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// vbiosinfo prints the structure of an NVIDIA VBIOS image: the
// expansion-ROM chain, the BIT token list, the PMU lookup table, and the
// FWSEC descriptor.
//
// Synopsis:
//
//	vbiosinfo [--json] [--debug-fused] vbios.rom
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/pflag"

	"github.com/linuxboot/nvfwsec/pkg/log"
	"github.com/linuxboot/nvfwsec/pkg/vbios"
)

var (
	flagJSON       = pflag.BoolP("json", "j", false, "emit machine-readable JSON")
	flagDebugFused = pflag.Bool("debug-fused", false, "prefer the FWSEC-DBG application")
	flagVerbose    = pflag.BoolP("verbose", "v", false, "decoder debug output")
)

func codeTypeName(t uint8) string {
	switch t {
	case vbios.CodeTypeX86:
		return "x86"
	case vbios.CodeTypeEFI:
		return "EFI"
	case vbios.CodeTypeFwsec:
		return "FWSEC"
	}
	return fmt.Sprintf("0x%02x", t)
}

type fwsecSummary struct {
	AppID            uint16                   `json:"app_id"`
	DescOffset       uint32                   `json:"desc_offset"`
	Desc             vbios.FalconUcodeDescV3  `json:"desc"`
	DmemMapperOffset uint32                   `json:"dmem_mapper_offset"`
}

type report struct {
	RomBase  uint32           `json:"rom_base"`
	Images   []vbios.Image    `json:"images"`
	Tokens   []vbios.BitToken `json:"bit_tokens"`
	PMU      *vbios.PmuTable  `json:"pmu_table"`
	Fwsec    *fwsecSummary    `json:"fwsec,omitempty"`
	FwsecErr string           `json:"fwsec_error,omitempty"`
}

func render(r *report) {
	fmt.Printf("ROM base: 0x%x\n\n", r.RomBase)

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"#", "Base", "Type", "Size", "Vendor", "Device", "Last"})
	for i, img := range r.Images {
		tw.AppendRow(table.Row{
			i,
			fmt.Sprintf("0x%x", img.Base),
			codeTypeName(img.PCIR.CodeType),
			humanize.IBytes(uint64(img.Size())),
			fmt.Sprintf("0x%04x", img.PCIR.VendorID),
			fmt.Sprintf("0x%04x", img.PCIR.DeviceID),
			img.PCIR.Last(),
		})
	}
	tw.Render()
	fmt.Println()

	tw = table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Token", "Version", "Data size", "Data offset"})
	for _, tok := range r.Tokens {
		tw.AppendRow(table.Row{
			fmt.Sprintf("0x%02x", tok.ID),
			tok.Version,
			tok.DataSize,
			fmt.Sprintf("0x%x", tok.DataOffset),
		})
	}
	tw.Render()
	fmt.Println()

	if r.PMU != nil {
		tw = table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendHeader(table.Row{"App (u8)", "App (u16)", "Target", "Data offset"})
		for _, e := range r.PMU.Entries {
			tw.AppendRow(table.Row{
				fmt.Sprintf("0x%02x", e.AppID8),
				fmt.Sprintf("0x%04x", e.AppID16),
				fmt.Sprintf("0x%02x", e.TargetID),
				fmt.Sprintf("0x%x", e.DataOffset),
			})
		}
		tw.Render()
		fmt.Println()
	}

	if r.Fwsec == nil {
		fmt.Printf("FWSEC: not extracted: %s\n", r.FwsecErr)
		return
	}
	d := &r.Fwsec.Desc
	fmt.Printf("FWSEC (app 0x%04x) descriptor at 0x%x:\n", r.Fwsec.AppID, r.Fwsec.DescOffset)
	fmt.Printf("  IMEM: %s (virt base 0x%x)\n", humanize.IBytes(uint64(d.ImemLoadSize)), d.ImemVirtBase)
	fmt.Printf("  DMEM: %s (mapper at 0x%x)\n", humanize.IBytes(uint64(d.DmemLoadSize)), r.Fwsec.DmemMapperOffset)
	fmt.Printf("  Signatures: %d × %d bytes, versions mask 0x%04x\n",
		d.SignatureCount, vbios.RSA3KSigSize, d.SignatureVersions)
	fmt.Printf("  Engine ID mask 0x%x, ucode ID %d\n", d.EngineIDMask, d.UcodeID)
}

func main() {
	pflag.Parse()
	if pflag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: vbiosinfo [flags] <vbios image>\n")
		pflag.PrintDefaults()
		os.Exit(2)
	}

	rom, err := os.ReadFile(pflag.Arg(0))
	if err != nil {
		log.Fatalf("%v", err)
	}

	opts := vbios.Options{DebugFused: *flagDebugFused}
	if !*flagVerbose {
		opts.Log = log.NopLogger{}
	}
	v, err := vbios.Parse(rom, opts)
	if err != nil {
		log.Fatalf("cannot parse VBIOS: %v", err)
	}

	r := &report{RomBase: v.RomBase, Images: v.Images, PMU: v.PMU}
	if v.BIT != nil {
		r.Tokens = v.BIT.Tokens
	}
	if uc, err := v.ExtractFwsec(); err != nil {
		r.FwsecErr = err.Error()
	} else {
		r.Fwsec = &fwsecSummary{
			AppID:            uc.AppID,
			DescOffset:       uc.DescOffset,
			Desc:             uc.Desc,
			DmemMapperOffset: uc.DmemMapperOffset,
		}
	}

	if *flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(r); err != nil {
			log.Fatalf("cannot encode JSON: %v", err)
		}
		return
	}
	render(r)
}
