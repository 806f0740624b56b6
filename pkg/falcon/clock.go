// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package falcon

import (
	"time"
)

// Clock is the stall source all spin-waits go through, so tests can
// substitute a fake.
type Clock interface {
	// Stall busy-waits for the given number of microseconds.
	Stall(us uint64)
}

// RealClock stalls on the host clock.
type RealClock struct{}

// Stall implements Clock.
func (RealClock) Stall(us uint64) {
	end := time.Now().Add(time.Duration(us) * time.Microsecond)
	for time.Now().Before(end) {
	}
}

// Wait is one spin-wait's polling parameters. Every wait the bring-up
// performs is expressed as a Wait so both stride and cap are visible to
// tests.
type Wait struct {
	StrideUs uint64
	CapUs    uint64
}

// polls returns the number of condition checks the wait performs.
func (w Wait) polls() uint64 {
	if w.StrideUs == 0 {
		return 1
	}
	return (w.CapUs + w.StrideUs - 1) / w.StrideUs
}

// run polls cond until it reports true, stalling one stride between
// checks; it checks exactly ceil(cap/stride) times before giving up.
func (w Wait) run(c Clock, cond func() bool) bool {
	n := w.polls()
	for i := uint64(0); i < n; i++ {
		if cond() {
			return true
		}
		c.Stall(w.StrideUs)
	}
	return false
}
