// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vbios

import (
	"fmt"
)

// Where identifies the decoding stage an error originates from.
type Where int

// Decoding stages.
const (
	WhereRom Where = iota
	WherePcir
	WhereBit
	WherePmuTable
	WhereFwsecDesc
	WhereDmemMapper
)

func (w Where) String() string {
	switch w {
	case WhereRom:
		return "ROM"
	case WherePcir:
		return "PCIR"
	case WhereBit:
		return "BIT"
	case WherePmuTable:
		return "PMU table"
	case WhereFwsecDesc:
		return "FWSEC descriptor"
	case WhereDmemMapper:
		return "DMEM mapper"
	}
	return fmt.Sprintf("Where(%d)", int(w))
}

// ParseError means signature or structure validation failed.
type ParseError struct {
	Where  Where
	Reason string
}

func (err *ParseError) Error() string {
	return fmt.Sprintf("invalid VBIOS at %s: %s", err.Where, err.Reason)
}

// BoundsError means a computed offset escaped the ROM buffer.
type BoundsError struct {
	Where Where
	Err   error
}

func (err *BoundsError) Error() string {
	return fmt.Sprintf("offset out of bounds at %s: %v", err.Where, err.Err)
}

func (err *BoundsError) Unwrap() error {
	return err.Err
}

func parseErrf(w Where, format string, args ...interface{}) error {
	return &ParseError{Where: w, Reason: fmt.Sprintf(format, args...)}
}
