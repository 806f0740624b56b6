// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fwsec

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// FWSEC-FRTS error codes reported in the PBUS scratch register.
const (
	FrtsErrNone           = 0x0000
	FrtsErrInvalidCmd     = 0x0001
	FrtsErrWprAlreadySet  = 0x0002
	FrtsErrFbSizeMismatch = 0x0003
	FrtsErrSignatureFail  = 0x0004
)

// FrtsErrName returns the symbolic name of an FRTS error code.
func FrtsErrName(code uint16) string {
	switch code {
	case FrtsErrNone:
		return "NONE"
	case FrtsErrInvalidCmd:
		return "INVALID_CMD"
	case FrtsErrWprAlreadySet:
		return "WPR_ALREADY_SET"
	case FrtsErrFbSizeMismatch:
		return "FB_SIZE_MISMATCH"
	case FrtsErrSignatureFail:
		return "SIGNATURE_FAIL"
	}
	return fmt.Sprintf("0x%04x", code)
}

// ArchError means the GPU is not an Ada Lovelace part.
type ArchError struct {
	Arch uint32
}

func (err *ArchError) Error() string {
	return fmt.Sprintf("unsupported GPU architecture 0x%02x, need Ada (0x19)", err.Arch)
}

// FrtsError means FWSEC halted but reported a non-zero FRTS error code.
type FrtsError struct {
	Code uint16
}

func (err *FrtsError) Error() string {
	return fmt.Sprintf("FWSEC-FRTS failed: %s", FrtsErrName(err.Code))
}

// ErrWpr2NotSet means FWSEC halted cleanly but WPR2 read back zero.
var ErrWpr2NotSet = errors.New("falcon halted but WPR2 was not established")

// SignatureError means no shipped signature is acceptable to the fuses.
type SignatureError struct {
	FuseVersion uint32
}

func (err *SignatureError) Error() string {
	return fmt.Sprintf("no signature available for fuse version %d", err.FuseVersion)
}

// MethodsError means the BROM, DMA and PIO load methods were all
// exhausted without WPR2 appearing. The per-method errors are kept for
// diagnostics.
type MethodsError struct {
	Brom error
	Dma  error
	Pio  error
}

func (err *MethodsError) Error() string {
	var result *multierror.Error
	result = multierror.Append(result,
		fmt.Errorf("brom: %w", err.Brom),
		fmt.Errorf("dma: %w", err.Dma),
		fmt.Errorf("pio: %w", err.Pio))
	return "all load methods failed: " + result.Error()
}
