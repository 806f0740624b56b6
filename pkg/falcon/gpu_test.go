// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package falcon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxboot/nvfwsec/pkg/mmio"
)

func TestArchitecture(t *testing.T) {
	sim := mmio.NewSim()
	sim.Regs[RegPmcBoot0] = ArchAda << 20
	assert.Equal(t, uint32(ArchAda), Architecture(sim))

	sim.Regs[RegPmcBoot0] = 0x17<<20 | 0xFF
	assert.Equal(t, uint32(0x17), Architecture(sim))
}

func TestReadWpr2Decoding(t *testing.T) {
	sim := mmio.NewSim()
	// The register stores bits 31:4 of (addr >> 8): 0x3000 masked by
	// 0xFFFFFFF0 then shifted left 8 is 0x300000.
	sim.Regs[RegWpr2AddrHi] = 0x3000
	sim.Regs[RegWpr2AddrLo] = 0x0

	r := ReadWpr2(sim)
	assert.Equal(t, uint64(0x300000), r.Hi)
	assert.Equal(t, uint64(0), r.Lo)
	assert.True(t, r.IsSet())
	assert.True(t, Wpr2Configured(sim))

	// Low nibble is masked off before shifting.
	sim.Regs[RegWpr2AddrHi] = 0x000F
	assert.False(t, Wpr2Configured(sim))
	assert.Equal(t, uint64(0), ReadWpr2(sim).Hi)
}

func TestWaitGfwBoot(t *testing.T) {
	t.Run("completes", func(t *testing.T) {
		sim := mmio.NewSim()
		sim.Regs[RegGfwBootProgress] = 0xFF00FF // low byte 0xFF
		clock := &fakeClock{}
		require.NoError(t, WaitGfwBoot(sim, clock, Wait{StrideUs: 1000, CapUs: 5000}))
		assert.Zero(t, clock.stalls)
	})

	t.Run("times_out", func(t *testing.T) {
		sim := mmio.NewSim()
		sim.Regs[RegGfwBootProgress] = 0xFE
		clock := &fakeClock{}
		err := WaitGfwBoot(sim, clock, Wait{StrideUs: 1000, CapUs: 5000})
		var terr *TimeoutError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, StageGfwBoot, terr.Stage)

		// Exactly ceil(cap/stride) register reads, no more.
		reads := 0
		for _, ev := range sim.Trace {
			if ev.Op == mmio.OpRead && ev.Off == RegGfwBootProgress {
				reads++
			}
		}
		assert.Equal(t, 5, reads)
	})
}

func TestFrtsErrorCode(t *testing.T) {
	sim := mmio.NewSim()
	sim.Regs[RegPbusSwScratch0E] = 0x00040000
	assert.Equal(t, uint16(4), FrtsErrorCode(sim))

	sim.Regs[RegPbusSwScratch0E] = 0x0000FFFF // low half is not the error field
	assert.Equal(t, uint16(0), FrtsErrorCode(sim))
}

func TestUsableFbSize(t *testing.T) {
	sim := mmio.NewSim()
	sim.Regs[RegUsableFbSizeInMB] = 0x2000 // 8 GiB
	assert.Equal(t, uint64(0x2000)<<20, UsableFbSize(sim))
}

func TestSigFuseVersion(t *testing.T) {
	sim := mmio.NewSim()
	assert.Equal(t, uint32(0), SigFuseVersion(sim))

	sim.Regs[RegFuseFwsecVersion] = 0b0111
	assert.Equal(t, uint32(3), SigFuseVersion(sim))

	// Bits above the fuse field do not count.
	sim.Regs[RegFuseFwsecVersion] = 0xFFFF0001
	assert.Equal(t, uint32(1), SigFuseVersion(sim))
}

func TestDebugFused(t *testing.T) {
	sim := mmio.NewSim()
	assert.True(t, DebugFused(sim))
	sim.Regs[RegFuseGspDbgDisable] = 1
	assert.False(t, DebugFused(sim))
}
