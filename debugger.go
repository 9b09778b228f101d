// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// this code is mainly inspired and based on the openocd project source code
// for detailed information see

// https://sourceforge.net/p/openocd/code

package gostutil

import (
	"errors"
	"fmt"
	"time"
)

// ReadDebug32 reads one 32-bit word from an arbitrary bus address
// through the debug access port.
func (h *StLink) ReadDebug32(addr uint32) (uint32, error) {
	ctx := h.initTransfer(transferIncoming)

	ctx.cmdBuf.WriteByte(cmdDebug)
	ctx.cmdBuf.WriteByte(debugApiV2ReadDebugReg)
	ctx.cmdBuf.WriteUint32LE(addr)

	err := h.usbCmdAllowRetry(ctx, 8)

	if err != nil {
		return 0, err
	}

	return le_to_h_u32(ctx.DataBytes()[4:]), nil
}

func (h *StLink) WriteDebug32(addr uint32, value uint32) error {
	ctx := h.initTransfer(transferIncoming)

	ctx.cmdBuf.WriteByte(cmdDebug)
	ctx.cmdBuf.WriteByte(debugApiV2WriteDebugReg)
	ctx.cmdBuf.WriteUint32LE(addr)
	ctx.cmdBuf.WriteUint32LE(value)

	return h.usbCmdAllowRetry(ctx, 2)
}

// ForceDebug halts the core and keeps it under debug control.
func (h *StLink) ForceDebug() error {
	ctx := h.initTransfer(transferIncoming)

	ctx.cmdBuf.WriteByte(cmdDebug)
	ctx.cmdBuf.WriteByte(debugForceDebug)

	return h.usbCmdAllowRetry(ctx, 2)
}

func (h *StLink) Run(mode RunMode) error {
	logger.Tracef("run core (mode %d)", mode)

	ctx := h.initTransfer(transferIncoming)

	ctx.cmdBuf.WriteByte(cmdDebug)
	ctx.cmdBuf.WriteByte(debugRunCore)

	return h.usbCmdAllowRetry(ctx, 2)
}

func (h *StLink) Step() error {
	ctx := h.initTransfer(transferIncoming)

	ctx.cmdBuf.WriteByte(cmdDebug)
	ctx.cmdBuf.WriteByte(debugStepCore)

	return h.usbCmdAllowRetry(ctx, 2)
}

// Status samples DHCSR and reports whether the core is halted.
func (h *StLink) Status() (CoreStatus, error) {
	dhcsr, err := h.ReadDebug32(regDhcsr)

	if err != nil {
		return CoreStatusUnknown, err
	}

	if (dhcsr & dhcsrSHalt) != 0 {
		return CoreHalted, nil
	}

	return CoreRunning, nil
}

func (h *StLink) Reset(mode ResetMode) error {
	switch mode {
	case ResetSoftAndHalt:
		return h.resetSoftAndHalt()

	case ResetHard:
		return h.resetHard()

	default:
		return fmt.Errorf("unknown reset mode %d", mode)
	}
}

// resetSoftAndHalt requests a local system reset with the reset vector
// catch armed, so the core comes back halted at its entry point.
func (h *StLink) resetSoftAndHalt() error {
	err := h.WriteDebug32(regDhcsr, dhcsrDbgKey|dhcsrCHalt|dhcsrCDebugEn)
	if err != nil {
		return err
	}

	demcr, err := h.ReadDebug32(regDemcr)
	if err != nil {
		return err
	}

	err = h.WriteDebug32(regDemcr, demcr|demcrVcCoreReset)
	if err != nil {
		return err
	}

	err = h.WriteDebug32(regAircr, aircrVectKey|aircrSysResetReq)
	if err != nil {
		return err
	}

	halted := false
	for retries := 0; retries < maximumWaitRetries; retries++ {
		dhcsr, err := h.ReadDebug32(regDhcsr)
		if err == nil && (dhcsr&dhcsrSHalt) != 0 {
			halted = true
			break
		}

		time.Sleep(10 * time.Millisecond)
	}

	// disarm the vector catch again, keep TRCENA and friends
	err = h.WriteDebug32(regDemcr, demcr&^uint32(demcrVcCoreReset))
	if err != nil {
		return err
	}

	if !halted {
		return errors.New("core did not halt after system reset")
	}

	return nil
}

func (h *StLink) resetHard() error {
	err := h.usbAssertSrst(debugApiV2DriveNrstLow)
	if err != nil {
		return err
	}

	time.Sleep(10 * time.Millisecond)

	err = h.usbAssertSrst(debugApiV2DriveNrstHigh)
	if err != nil {
		return err
	}

	ctx := h.initTransfer(transferIncoming)

	ctx.cmdBuf.WriteByte(cmdDebug)
	ctx.cmdBuf.WriteByte(debugApiV2ResetSys)

	return h.usbCmdAllowRetry(ctx, 2)
}

// TargetConnect brings the target under debug control according to the
// configured connect flavour. Hot plug attaches without disturbing the
// running firmware.
func (h *StLink) TargetConnect(mode ConnectMode) error {
	switch mode {
	case ConnectHotPlug:
		return nil

	case ConnectUnderReset:
		h.usbAssertSrst(debugApiV2DriveNrstLow)

		err := h.ForceDebug()
		if err != nil {
			return err
		}

		h.usbAssertSrst(debugApiV2DriveNrstHigh)

		return h.Reset(ResetSoftAndHalt)

	default:
		err := h.ForceDebug()
		if err != nil {
			return err
		}

		return h.Reset(ResetSoftAndHalt)
	}
}

func (h *StLink) ReadAllRegs(regs *CortexRegs) error {
	ctx := h.initTransfer(transferIncoming)

	ctx.cmdBuf.WriteByte(cmdDebug)
	ctx.cmdBuf.WriteByte(debugApiV2ReadAllRegs)

	err := h.usbTransferErrCheck(ctx, 88)

	if err != nil {
		return err
	}

	data := ctx.DataBytes()[4:]

	for i := 0; i < 16; i++ {
		regs.R[i] = le_to_h_u32(data[i*4:])
	}

	regs.Xpsr = le_to_h_u32(data[64:])
	regs.MainSp = le_to_h_u32(data[68:])
	regs.ProcessSp = le_to_h_u32(data[72:])
	regs.Rw = le_to_h_u32(data[76:])
	regs.Rw2 = le_to_h_u32(data[80:])

	return nil
}

// ReadReg reads one core register by stlink index (0..15 plus the
// stReg* specials) into the snapshot.
func (h *StLink) ReadReg(id uint32, regs *CortexRegs) error {
	ctx := h.initTransfer(transferIncoming)

	ctx.cmdBuf.WriteByte(cmdDebug)
	ctx.cmdBuf.WriteByte(debugApiV2ReadReg)
	ctx.cmdBuf.WriteByte(byte(id))

	err := h.usbCmdAllowRetry(ctx, 8)

	if err != nil {
		return err
	}

	value := le_to_h_u32(ctx.DataBytes()[4:])

	switch {
	case id < 16:
		regs.R[id] = value
	case id == stRegXpsr:
		regs.Xpsr = value
	case id == stRegMainSp:
		regs.MainSp = value
	case id == stRegProcessSp:
		regs.ProcessSp = value
	default:
		return fmt.Errorf("cannot read register index %d", id)
	}

	return nil
}

func (h *StLink) WriteReg(value uint32, id uint32) error {
	ctx := h.initTransfer(transferIncoming)

	ctx.cmdBuf.WriteByte(cmdDebug)
	ctx.cmdBuf.WriteByte(debugApiV2WriteReg)
	ctx.cmdBuf.WriteByte(byte(id))
	ctx.cmdBuf.WriteUint32LE(value)

	return h.usbCmdAllowRetry(ctx, 2)
}

// gdb-side ids of the register classes the stlink firmware commands do
// not carry. These are accessed through DCRSR/DCRDR instead.
const (
	gdbRegControl   = 0x1C
	gdbRegFaultmask = 0x1D
	gdbRegBasepri   = 0x1E
	gdbRegPrimask   = 0x1F
	gdbRegFpStart   = 0x20
	gdbRegFpscr     = 0x40

	dcrsrRegCfbp    = 20
	dcrsrRegFpscr   = 33
	dcrsrRegFpStart = 64
)

func dcrsrIndex(id uint32) (uint32, error) {
	switch {
	case id >= gdbRegControl && id <= gdbRegPrimask:
		return dcrsrRegCfbp, nil
	case id >= gdbRegFpStart && id < gdbRegFpscr:
		return dcrsrRegFpStart + (id - gdbRegFpStart), nil
	case id == gdbRegFpscr:
		return dcrsrRegFpscr, nil
	default:
		return 0, fmt.Errorf("register id %#x has no core register file index", id)
	}
}

func (h *StLink) readCoreRegFile(idx uint32) (uint32, error) {
	err := h.WriteDebug32(regDcrsr, idx)
	if err != nil {
		return 0, err
	}

	for retries := 0; retries < maximumWaitRetries; retries++ {
		dhcsr, err := h.ReadDebug32(regDhcsr)
		if err != nil {
			return 0, err
		}

		if (dhcsr & dhcsrSRegReady) != 0 {
			return h.ReadDebug32(regDcrdr)
		}
	}

	return 0, errors.New("core register file transfer did not complete")
}

func (h *StLink) writeCoreRegFile(idx uint32, value uint32) error {
	err := h.WriteDebug32(regDcrdr, value)
	if err != nil {
		return err
	}

	err = h.WriteDebug32(regDcrsr, idx|dcrsrWriteNotRead)
	if err != nil {
		return err
	}

	for retries := 0; retries < maximumWaitRetries; retries++ {
		dhcsr, err := h.ReadDebug32(regDhcsr)
		if err != nil {
			return err
		}

		if (dhcsr & dhcsrSRegReady) != 0 {
			return nil
		}
	}

	return errors.New("core register file transfer did not complete")
}

// ReadUnsupportedReg fetches CONTROL/FAULTMASK/BASEPRI/PRIMASK (packed
// into one core register) and the FP register file, which the stlink
// read register command cannot reach.
func (h *StLink) ReadUnsupportedReg(id uint32, regs *CortexRegs) error {
	idx, err := dcrsrIndex(id)
	if err != nil {
		return err
	}

	value, err := h.readCoreRegFile(idx)
	if err != nil {
		return err
	}

	switch {
	case idx == dcrsrRegCfbp:
		regs.Control = uint8(value >> 24)
		regs.Faultmask = uint8(value >> 16)
		regs.Basepri = uint8(value >> 8)
		regs.Primask = uint8(value)
	case idx >= dcrsrRegFpStart:
		regs.S[idx-dcrsrRegFpStart] = value
	default:
		regs.Fpscr = value
	}

	return nil
}

func (h *StLink) WriteUnsupportedReg(value uint32, id uint32, regs *CortexRegs) error {
	idx, err := dcrsrIndex(id)
	if err != nil {
		return err
	}

	if idx == dcrsrRegCfbp {
		// read-modify-write, the four byte lanes live in one register
		packed, err := h.readCoreRegFile(idx)
		if err != nil {
			return err
		}

		shift := (id - gdbRegControl)
		lane := uint32(24 - 8*shift)
		packed &^= 0xFF << lane
		packed |= (value & 0xFF) << lane

		regs.Control = uint8(packed >> 24)
		regs.Faultmask = uint8(packed >> 16)
		regs.Basepri = uint8(packed >> 8)
		regs.Primask = uint8(packed)

		return h.writeCoreRegFile(idx, packed)
	}

	return h.writeCoreRegFile(idx, value)
}
