// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gostutil

import (
	"errors"
	"fmt"
)

// mockProbe is the in-memory stand-in for an StLink used by the
// server side tests. Identification registers keep their seeded
// values, everything else behaves like sparse ram.
type mockProbe struct {
	debugRegs map[uint32]uint32
	mem       map[uint32]byte

	regs CortexRegs

	// consumed one per Status call, the last entry repeats
	statuses []CoreStatus

	chipId    uint32
	coreId    uint32
	flashBase uint32
	flashSize uint32
	pageSize  uint32
	sramSize  uint32
	sysBase   uint32
	sysSize   uint32
	erased    byte

	loaderRunning bool

	eraseLog []uint32
	writeLog []uint32
	runCount int
	halts    int
	resets   int

	failStep  bool
	failReads bool
}

// identification registers whose writes are swallowed so the seeded
// values survive init sequences
var mockReadonlyRegs = map[uint32]bool{
	regFpCtrl:    true,
	regCpuId:     true,
	regCm7Ctr:    true,
	regCm7Clidr:  true,
	regCm7Ccsidr: true,
	regCm7Ccr:    true,
}

func newMockProbe() *mockProbe {
	return &mockProbe{
		debugRegs: map[uint32]uint32{
			// six slots, rev 1
			regFpCtrl: 6 << 4,
		},
		mem:       make(map[uint32]byte),
		statuses:  []CoreStatus{CoreHalted},
		chipId:    0x410,
		coreId:    0x1BA01477,
		flashBase: 0x08000000,
		flashSize: 0x20000,
		pageSize:  0x800,
		sramSize:  0x5000,
		sysBase:   0x1FFFF000,
		sysSize:   0x800,
		erased:    0xFF,
	}
}

func (m *mockProbe) ReadDebug32(addr uint32) (uint32, error) {
	return m.debugRegs[addr], nil
}

func (m *mockProbe) WriteDebug32(addr uint32, value uint32) error {
	if mockReadonlyRegs[addr] {
		return nil
	}

	m.debugRegs[addr] = value
	return nil
}

func (m *mockProbe) ReadMem32(addr uint32, length uint32) ([]byte, error) {
	if addr%4 != 0 || length%4 != 0 {
		return nil, errors.New("unaligned mem32 read")
	}

	if m.failReads {
		return nil, errors.New("read failure injected")
	}

	buf := make([]byte, length)
	for i := range buf {
		buf[i] = m.mem[addr+uint32(i)]
	}

	return buf, nil
}

func (m *mockProbe) WriteMem32(addr uint32, data []byte) error {
	if addr%4 != 0 || len(data)%4 != 0 {
		return errors.New("unaligned mem32 write")
	}

	for i, b := range data {
		m.mem[addr+uint32(i)] = b
	}

	return nil
}

func (m *mockProbe) WriteMem8(addr uint32, data []byte) error {
	for i, b := range data {
		m.mem[addr+uint32(i)] = b
	}

	return nil
}

func (m *mockProbe) setMem(addr uint32, data []byte) {
	for i, b := range data {
		m.mem[addr+uint32(i)] = b
	}
}

func (m *mockProbe) readMem(addr uint32, length uint32) []byte {
	buf := make([]byte, length)
	for i := range buf {
		buf[i] = m.mem[addr+uint32(i)]
	}

	return buf
}

func (m *mockProbe) ReadAllRegs(regs *CortexRegs) error {
	*regs = m.regs
	return nil
}

func (m *mockProbe) ReadReg(id uint32, regs *CortexRegs) error {
	switch {
	case id < 16:
		regs.R[id] = m.regs.R[id]
	case id == stRegXpsr:
		regs.Xpsr = m.regs.Xpsr
	case id == stRegMainSp:
		regs.MainSp = m.regs.MainSp
	case id == stRegProcessSp:
		regs.ProcessSp = m.regs.ProcessSp
	default:
		return fmt.Errorf("bad register index %d", id)
	}

	return nil
}

func (m *mockProbe) WriteReg(value uint32, id uint32) error {
	switch {
	case id < 16:
		m.regs.R[id] = value
	case id == stRegXpsr:
		m.regs.Xpsr = value
	case id == stRegMainSp:
		m.regs.MainSp = value
	case id == stRegProcessSp:
		m.regs.ProcessSp = value
	default:
		return fmt.Errorf("bad register index %d", id)
	}

	return nil
}

func (m *mockProbe) ReadUnsupportedReg(id uint32, regs *CortexRegs) error {
	switch {
	case id == gdbRegControl:
		regs.Control = m.regs.Control
	case id == gdbRegFaultmask:
		regs.Faultmask = m.regs.Faultmask
	case id == gdbRegBasepri:
		regs.Basepri = m.regs.Basepri
	case id == gdbRegPrimask:
		regs.Primask = m.regs.Primask
	case id >= gdbRegFpStart && id < gdbRegFpscr:
		regs.S[id-gdbRegFpStart] = m.regs.S[id-gdbRegFpStart]
	case id == gdbRegFpscr:
		regs.Fpscr = m.regs.Fpscr
	default:
		return fmt.Errorf("bad register id %#x", id)
	}

	return nil
}

func (m *mockProbe) WriteUnsupportedReg(value uint32, id uint32, regs *CortexRegs) error {
	switch {
	case id == gdbRegControl:
		m.regs.Control = uint8(value)
	case id == gdbRegFaultmask:
		m.regs.Faultmask = uint8(value)
	case id == gdbRegBasepri:
		m.regs.Basepri = uint8(value)
	case id == gdbRegPrimask:
		m.regs.Primask = uint8(value)
	case id >= gdbRegFpStart && id < gdbRegFpscr:
		m.regs.S[id-gdbRegFpStart] = value
	case id == gdbRegFpscr:
		m.regs.Fpscr = value
	default:
		return fmt.Errorf("bad register id %#x", id)
	}

	return nil
}

func (m *mockProbe) ForceDebug() error {
	m.halts++
	return nil
}

func (m *mockProbe) Step() error {
	if m.failStep {
		return errors.New("step failure injected")
	}

	return nil
}

func (m *mockProbe) Run(mode RunMode) error {
	m.runCount++
	return nil
}

func (m *mockProbe) Status() (CoreStatus, error) {
	status := m.statuses[0]

	if len(m.statuses) > 1 {
		m.statuses = m.statuses[1:]
	}

	return status, nil
}

func (m *mockProbe) Reset(mode ResetMode) error {
	m.resets++
	return nil
}

func (m *mockProbe) TargetConnect(mode ConnectMode) error {
	return nil
}

func (m *mockProbe) EraseFlashPage(addr uint32) error {
	m.eraseLog = append(m.eraseLog, addr)

	for i := uint32(0); i < m.pageSize; i++ {
		m.mem[addr+i] = m.erased
	}

	return nil
}

func (m *mockProbe) FlashLoaderStart(fl *FlashLoader) error {
	m.loaderRunning = true
	fl.running = true
	return nil
}

func (m *mockProbe) FlashLoaderWrite(fl *FlashLoader, addr uint32, data []byte) error {
	if !m.loaderRunning {
		return errors.New("loader not running")
	}

	m.writeLog = append(m.writeLog, addr)

	for i, b := range data {
		m.mem[addr+uint32(i)] = b
	}

	return nil
}

func (m *mockProbe) FlashLoaderStop(fl *FlashLoader) error {
	m.loaderRunning = false
	fl.running = false
	return nil
}

func (m *mockProbe) ExitDebugMode() error {
	return nil
}

func (m *mockProbe) Close() {
}

func (m *mockProbe) ChipId() uint32 {
	return m.chipId
}

func (m *mockProbe) CoreId() uint32 {
	return m.coreId
}

func (m *mockProbe) FlashBase() uint32 {
	return m.flashBase
}

func (m *mockProbe) FlashSize() uint32 {
	return m.flashSize
}

func (m *mockProbe) FlashPageSize(addr uint32) uint32 {
	return m.pageSize
}

func (m *mockProbe) SramSize() uint32 {
	return m.sramSize
}

func (m *mockProbe) SysBase() uint32 {
	return m.sysBase
}

func (m *mockProbe) SysSize() uint32 {
	return m.sysSize
}

func (m *mockProbe) ErasedPattern() byte {
	return m.erased
}

// newTestServer wires a server around a mock probe with the session
// tables initialized, skipping the tcp accept path.
func newTestServer(probe *mockProbe) *Server {
	cfg := &ServerConfig{
		ListenPort:  DefaultListenPort,
		ConnectMode: ConnectNormal,
	}

	s := NewServer(probe, cfg, func() (Probe, error) {
		return probe, nil
	})

	if err := s.initTarget(); err != nil {
		panic(err)
	}

	s.memoryMap = makeMemoryMap(probe)
	s.attached = true

	return s
}
