// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fwsec

import (
	"fmt"

	"github.com/linuxboot/nvfwsec/pkg/falcon"
	"github.com/linuxboot/nvfwsec/pkg/mmio"
)

// FRTS region geometry: 1 MiB, 1 MiB aligned, below the VGA workspace.
const (
	FrtsSize  = 1 << 20
	frtsAlign = 1 << 20
)

// minVgaWorkspace is reserved at the top of FB when the display block
// does not publish a workspace of its own.
const minVgaWorkspace = 1 << 20

// FbLayout is the framebuffer carve-up the FRTS command is derived from.
// The WPR2 range is zero before execution and read back from the MMU
// registers afterwards.
type FbLayout struct {
	FbSize   uint64
	FbUsable uint64

	VgaWorkspaceBase uint64
	VgaWorkspaceSize uint64

	FrtsBase uint64
	FrtsSize uint64

	Wpr2 falcon.WprRange
}

// ComputeFbLayout reads the framebuffer geometry and places the FRTS
// region directly below the VGA workspace at the top of FB.
func ComputeFbLayout(bar mmio.Bar0) (FbLayout, error) {
	l := FbLayout{FrtsSize: FrtsSize}
	l.FbSize = falcon.UsableFbSize(bar)
	l.FbUsable = l.FbSize
	if l.FbSize < 2*FrtsSize {
		return l, fmt.Errorf("framebuffer too small: %d bytes", l.FbSize)
	}

	// The display block publishes its workspace base when scanout is
	// alive; headless parts reserve the top megabyte.
	l.VgaWorkspaceBase = l.FbSize - minVgaWorkspace
	if base := uint64(bar.Read32(falcon.RegVgaWorkspaceBase)); base != 0 && base < l.FbSize {
		l.VgaWorkspaceBase = base
		l.VgaWorkspaceSize = l.FbSize - base
	}

	l.FrtsBase = (l.VgaWorkspaceBase - FrtsSize) &^ (frtsAlign - 1)
	if l.FrtsBase == 0 || l.FrtsBase >= l.VgaWorkspaceBase {
		return l, fmt.Errorf("no room for FRTS below VGA workspace at 0x%x", l.VgaWorkspaceBase)
	}
	return l, nil
}
