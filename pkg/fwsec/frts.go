// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fwsec

import (
	"github.com/linuxboot/nvfwsec/pkg/falcon"
	"github.com/linuxboot/nvfwsec/pkg/vbios"
)

// State is the orchestrator's position in the bring-up sequence.
type State int

// Bring-up states, in order.
const (
	StateIdle State = iota
	StateAwaitGfw
	StateWprPreCheck
	StateDecoding
	StateBuilding
	StateLoading
	StateAwaitHalt
	StateVerifying
	StateSuccess
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAwaitGfw:
		return "AwaitGfw"
	case StateWprPreCheck:
		return "WprPreCheck"
	case StateDecoding:
		return "Decoding"
	case StateBuilding:
		return "Building"
	case StateLoading:
		return "Loading"
	case StateAwaitHalt:
		return "AwaitHalt"
	case StateVerifying:
		return "Verifying"
	case StateSuccess:
		return "Success"
	case StateFailed:
		return "Failed"
	}
	return "State(?)"
}

// LoadMethod is one way of getting the staged FWSEC image onto the GSP
// falcon and starting it. The three methods are tried in order until
// WPR2 appears.
type LoadMethod interface {
	// Name identifies the method in logs and results.
	Name() string

	// Load programs and starts the falcon. Errors abort this method
	// only; the cascade moves on.
	Load(f *falcon.Falcon) error
}

// BromLoad starts the image through the boot ROM's heavy-secure path,
// which verifies the RSA-3K signature before execution. Preferred.
type BromLoad struct {
	Image *Image
}

// Name implements LoadMethod.
func (m *BromLoad) Name() string { return "brom" }

// Load implements LoadMethod.
func (m *BromLoad) Load(f *falcon.Falcon) error {
	f.ConfigureFbif(falcon.FbifTargetNonCoherentSys)
	f.SetDmaBase(m.Image.Staging().Phys)
	f.StartBrom(m.Image.BromParams())
	return nil
}

// DmaLoad DMAs the staged image into the falcon scratchpads and starts
// at the descriptor's boot vector, without BROM involvement.
type DmaLoad struct {
	Image *Image
	Chunk falcon.Wait
}

// Name implements LoadMethod.
func (m *DmaLoad) Name() string { return "dma" }

// Load implements LoadMethod.
func (m *DmaLoad) Load(f *falcon.Falcon) error {
	f.ConfigureFbif(falcon.FbifTargetNonCoherentSys)
	f.SetDmaBase(m.Image.Staging().Phys)
	if err := f.LoadDma(uint32(len(m.Image.IMEM)), uint32(len(m.Image.DMEM)),
		m.Image.Desc.ImemVirtBase, m.Chunk); err != nil {
		return err
	}
	f.Start()
	return nil
}

// PioLoad streams the image through the PIO ports. It bypasses
// signature verification entirely and only succeeds on debug-fused
// parts; it is the last resort.
type PioLoad struct {
	Image *Image
}

// Name implements LoadMethod.
func (m *PioLoad) Name() string { return "pio" }

// Load implements LoadMethod.
func (m *PioLoad) Load(f *falcon.Falcon) error {
	f.LoadPio(m.Image.IMEM, m.Image.DMEM)
	f.SetBootVec(m.Image.Desc.ImemVirtBase)
	f.Start()
	return nil
}

// Result is a successful bring-up outcome.
type Result struct {
	// Range is the established (or pre-existing) WPR2 region.
	Range falcon.WprRange

	// AlreadySet means a prior agent had configured WPR2 before this
	// call; nothing was executed. Undoing that state needs a full
	// device reset, which is the caller's decision.
	AlreadySet bool

	// Method names the load method that succeeded, empty when
	// AlreadySet.
	Method string

	// Layout is the framebuffer carve-up used, zero when AlreadySet.
	Layout FbLayout
}

// Orchestrator drives one FWSEC-FRTS bring-up. It owns the GSP falcon
// state and the image for the duration of Run; neither is shared.
type Orchestrator struct {
	env   Env
	t     Timeouts
	vbios []byte

	// State is the current position in the sequence, for observers.
	State State
}

// NewOrchestrator prepares a bring-up over the given VBIOS image.
func NewOrchestrator(env Env, vbiosImage []byte, t Timeouts) *Orchestrator {
	return &Orchestrator{env: env, t: t, vbios: vbiosImage, State: StateIdle}
}

// ExecuteFrts is the single public entry of the core: it runs the full
// FWSEC-FRTS sequence with default timeouts and returns the WPR2 range.
func ExecuteFrts(env Env, vbiosImage []byte) (falcon.WprRange, error) {
	res, err := NewOrchestrator(env, vbiosImage, DefaultTimeouts()).Run()
	if err != nil {
		return falcon.WprRange{}, err
	}
	return res.Range, nil
}

// Run executes the bring-up sequence: GFW wait, WPR2 pre-check, VBIOS
// decode, image build and patch, then the BROM/DMA/PIO load cascade
// with halt and WPR2 verification after each attempt.
func (o *Orchestrator) Run() (Result, error) {
	bar := o.env.Bar0
	logger := o.env.logger()

	if arch := falcon.Architecture(bar); arch != falcon.ArchAda {
		o.State = StateFailed
		return Result{}, &ArchError{Arch: arch}
	}

	o.State = StateAwaitGfw
	if err := falcon.WaitGfwBoot(bar, o.env.Clock, o.t.GfwBoot); err != nil {
		o.State = StateFailed
		return Result{}, err
	}

	o.State = StateWprPreCheck
	if falcon.Wpr2Configured(bar) {
		r := falcon.ReadWpr2(bar)
		logger.Warnf("fwsec: WPR2 already configured: 0x%x-0x%x", r.Lo, r.Hi)
		o.State = StateSuccess
		return Result{Range: r, AlreadySet: true}, nil
	}

	o.State = StateDecoding
	vb, err := vbios.Parse(o.vbios, vbios.Options{
		DebugFused: falcon.DebugFused(bar),
		Log:        logger,
	})
	if err != nil {
		o.State = StateFailed
		return Result{}, err
	}
	uc, err := vb.ExtractFwsec()
	if err != nil {
		o.State = StateFailed
		return Result{}, err
	}

	o.State = StateBuilding
	im, err := NewImage(uc)
	if err != nil {
		o.State = StateFailed
		return Result{}, err
	}
	defer im.Close()

	layout, err := ComputeFbLayout(bar)
	if err != nil {
		o.State = StateFailed
		return Result{}, err
	}
	logger.Debugf("fwsec: FB %d MiB, FRTS at 0x%x", layout.FbSize>>20, layout.FrtsBase)

	if err := im.PatchFrts(layout); err != nil {
		o.State = StateFailed
		return Result{}, err
	}
	if err := im.SelectSignature(falcon.SigFuseVersion(bar)); err != nil {
		o.State = StateFailed
		return Result{}, err
	}
	if err := im.Stage(o.env.DMA); err != nil {
		o.State = StateFailed
		return Result{}, err
	}

	gsp := falcon.New(bar, o.env.Clock, logger, falcon.GSPBase)

	methods := []LoadMethod{
		&BromLoad{Image: im},
		&DmaLoad{Image: im, Chunk: o.t.DmaChunk},
		&PioLoad{Image: im},
	}
	errs := make([]error, len(methods))

	for i, m := range methods {
		o.State = StateLoading
		r, err := o.tryMethod(gsp, m)
		if err != nil {
			logger.Warnf("fwsec: method %s failed: %v", m.Name(), err)
			errs[i] = err
			continue
		}
		logger.Debugf("fwsec: method %s established WPR2 0x%x-0x%x", m.Name(), r.Lo, r.Hi)
		layout.Wpr2 = r
		o.State = StateSuccess
		return Result{Range: r, Method: m.Name(), Layout: layout}, nil
	}

	o.State = StateFailed
	return Result{}, &MethodsError{Brom: errs[0], Dma: errs[1], Pio: errs[2]}
}

// tryMethod resets the falcon, runs one load method, waits for the
// payload to halt, and verifies the FRTS outcome. Any failure is
// reported to the cascade; the falcon gets a fresh reset before the
// next attempt.
func (o *Orchestrator) tryMethod(gsp *falcon.Falcon, m LoadMethod) (falcon.WprRange, error) {
	bar := o.env.Bar0
	logger := o.env.logger()

	if err := gsp.Reset(o.t.MemScrub, o.t.CoreSelect); err != nil {
		return falcon.WprRange{}, err
	}
	if err := m.Load(gsp); err != nil {
		return falcon.WprRange{}, err
	}

	o.State = StateAwaitHalt
	st, err := gsp.WaitHalt(o.t.Halt)
	if err != nil {
		return falcon.WprRange{}, err
	}
	logger.Debugf("fwsec: %s halted, mailbox0=0x%08x mailbox1=0x%08x",
		m.Name(), st.Mailbox0, st.Mailbox1)

	o.State = StateVerifying
	if code := falcon.FrtsErrorCode(bar); code != FrtsErrNone {
		return falcon.WprRange{}, &FrtsError{Code: code}
	}
	r := falcon.ReadWpr2(bar)
	if !r.IsSet() {
		return falcon.WprRange{}, ErrWpr2NotSet
	}
	return r, nil
}
