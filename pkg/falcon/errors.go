// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package falcon

import (
	"fmt"
)

// Stage identifies which wait a timeout fired in.
type Stage int

// Wait stages.
const (
	StageGfwBoot Stage = iota
	StageMemScrub
	StageCoreSelect
	StageDma
	StageFalconHalt
)

func (s Stage) String() string {
	switch s {
	case StageGfwBoot:
		return "GFW boot"
	case StageMemScrub:
		return "memory scrub"
	case StageCoreSelect:
		return "core select"
	case StageDma:
		return "DMA transfer"
	case StageFalconHalt:
		return "falcon halt"
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// TimeoutError means a spin-wait exhausted its cap.
type TimeoutError struct {
	Stage Stage
	CapUs uint64
}

func (err *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %dus waiting for %s", err.CapUs, err.Stage)
}
