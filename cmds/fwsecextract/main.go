// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// fwsecextract pulls the FWSEC microcode out of a VBIOS image and
// writes its IMEM, DMEM and signature blobs to separate files, the way
// the FWSEC bring-up would consume them.
//
// Synopsis:
//
//	fwsecextract -o outdir/ vbios.rom
package main

import (
	"fmt"
	"os"
	"path/filepath"

	flags "github.com/jessevdk/go-flags"

	"github.com/linuxboot/nvfwsec/pkg/log"
	"github.com/linuxboot/nvfwsec/pkg/vbios"
)

type options struct {
	OutDir     string `short:"o" long:"outdir" default:"." description:"directory the blobs are written to"`
	DebugFused bool   `long:"debug-fused" description:"prefer the FWSEC-DBG application"`
	Verbose    bool   `short:"v" long:"verbose" description:"decoder debug output"`

	Args struct {
		Vbios string `positional-arg-name:"vbios-image" required:"true"`
	} `positional-args:"true"`
}

func run(opts *options) error {
	rom, err := os.ReadFile(opts.Args.Vbios)
	if err != nil {
		return err
	}

	parseOpts := vbios.Options{DebugFused: opts.DebugFused}
	if !opts.Verbose {
		parseOpts.Log = log.NopLogger{}
	}
	v, err := vbios.Parse(rom, parseOpts)
	if err != nil {
		return fmt.Errorf("cannot parse VBIOS: %w", err)
	}
	uc, err := v.ExtractFwsec()
	if err != nil {
		return fmt.Errorf("cannot extract FWSEC: %w", err)
	}

	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return err
	}
	for _, blob := range []struct {
		name string
		data []byte
	}{
		{"imem.bin", uc.IMEM},
		{"dmem.bin", uc.DMEM},
		{"sigs.bin", uc.Signatures},
	} {
		path := filepath.Join(opts.OutDir, blob.name)
		if err := os.WriteFile(path, blob.data, 0o644); err != nil {
			return err
		}
		fmt.Printf("%s: %d bytes\n", path, len(blob.data))
	}

	d := &uc.Desc
	fmt.Printf("descriptor at 0x%x (app 0x%04x): imem 0x%x dmem 0x%x, %d signatures, versions 0x%04x\n",
		uc.DescOffset, uc.AppID, d.ImemLoadSize, d.DmemLoadSize, d.SignatureCount, d.SignatureVersions)
	fmt.Printf("dmem mapper at 0x%x\n", uc.DmemMapperOffset)
	return nil
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(2)
	}
	if err := run(&opts); err != nil {
		log.Fatalf("%v", err)
	}
}
