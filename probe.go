// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gostutil

// ConnectMode selects how the target is brought under debug control
// when a session attaches.
type ConnectMode uint8

const (
	ConnectNormal ConnectMode = iota // reset the board on connect
	ConnectHotPlug
	ConnectUnderReset
)

// ResetMode selects the reset flavour issued to the core.
type ResetMode uint8

const (
	ResetSoftAndHalt ResetMode = iota
	ResetHard
)

// RunMode mirrors the stlink run types.
type RunMode uint8

const (
	RunNormal RunMode = iota
	RunFlashLoader
)

// CoreStatus is the last sampled execution state of the core.
type CoreStatus int

const (
	CoreStatusUnknown CoreStatus = debugCoreStatusUnknown
	CoreRunning       CoreStatus = debugCoreRunning
	CoreHalted        CoreStatus = debugCoreHalted
)

// CortexRegs is one snapshot of the Cortex-M register file, filled by
// ReadAllRegs or selectively by ReadReg/ReadUnsupportedReg.
type CortexRegs struct {
	R         [16]uint32
	Xpsr      uint32
	MainSp    uint32
	ProcessSp uint32
	Rw        uint32
	Rw2       uint32
	Control   uint8
	Faultmask uint8
	Basepri   uint8
	Primask   uint8
	S         [32]uint32
	Fpscr     uint32
}

// FlashLoader carries the state of one loader run between start, the
// page writes and stop.
type FlashLoader struct {
	bufferAddr uint32
	running    bool
}

// Probe is the capability set the gdb session engine requires from a
// debug probe. StLink is the production implementation; tests use an
// in-memory fake.
type Probe interface {
	// 32-bit access to arbitrary bus addresses through the debug port.
	ReadDebug32(addr uint32) (uint32, error)
	WriteDebug32(addr uint32, value uint32) error

	// Memory windows. ReadMem32/WriteMem32 require 4 byte alignment of
	// address and length, WriteMem8 takes any span.
	ReadMem32(addr uint32, length uint32) ([]byte, error)
	WriteMem32(addr uint32, data []byte) error
	WriteMem8(addr uint32, data []byte) error

	// Core register file.
	ReadAllRegs(regs *CortexRegs) error
	ReadReg(id uint32, regs *CortexRegs) error
	WriteReg(value uint32, id uint32) error
	ReadUnsupportedReg(id uint32, regs *CortexRegs) error
	WriteUnsupportedReg(value uint32, id uint32, regs *CortexRegs) error

	// Execution control.
	ForceDebug() error
	Step() error
	Run(mode RunMode) error
	Status() (CoreStatus, error)
	Reset(mode ResetMode) error
	TargetConnect(mode ConnectMode) error

	// Flash programming primitives.
	EraseFlashPage(addr uint32) error
	FlashLoaderStart(fl *FlashLoader) error
	FlashLoaderWrite(fl *FlashLoader, addr uint32, data []byte) error
	FlashLoaderStop(fl *FlashLoader) error

	ExitDebugMode() error
	Close()

	// Target identity and geometry.
	ChipId() uint32
	CoreId() uint32
	FlashBase() uint32
	FlashSize() uint32
	FlashPageSize(addr uint32) uint32
	SramSize() uint32
	SysBase() uint32
	SysSize() uint32
	ErasedPattern() byte
}
