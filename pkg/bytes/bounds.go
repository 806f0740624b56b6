// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bytes

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// ErrStartGreaterThanEnd means the start index is after the end index.
type ErrStartGreaterThanEnd struct {
	StartIdx uint64
	EndIdx   uint64
}

func (err *ErrStartGreaterThanEnd) Error() string {
	return fmt.Sprintf("start index is greater than the end index: 0x%x > 0x%x",
		err.StartIdx, err.EndIdx)
}

// ErrEndGreaterThanLength means the end index is past the end of the buffer.
type ErrEndGreaterThanLength struct {
	Length uint64
	EndIdx uint64
}

func (err *ErrEndGreaterThanLength) Error() string {
	return fmt.Sprintf("end index is outside of the buffer: 0x%x > 0x%x",
		err.EndIdx, err.Length)
}

// CheckRange checks that [startIdx, endIdx) is a sane subrange of a buffer
// of the given length:
// * startIdx <= endIdx
// * endIdx <= length
func CheckRange(length, startIdx, endIdx uint64) error {
	var result *multierror.Error
	if startIdx > endIdx {
		result = multierror.Append(result, &ErrStartGreaterThanEnd{StartIdx: startIdx, EndIdx: endIdx})
	}
	if endIdx > length {
		result = multierror.Append(result, &ErrEndGreaterThanLength{Length: length, EndIdx: endIdx})
	}
	return result.ErrorOrNil()
}
