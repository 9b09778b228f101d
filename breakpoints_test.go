// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gostutil

import (
	"testing"
)

func fpComp(m *mockProbe, i int) uint32 {
	return m.debugRegs[regFpComp0+uint32(i)*4]
}

func newRev1Table(t *testing.T, slots int) (*breakpointTable, *mockProbe) {
	t.Helper()

	probe := newMockProbe()
	probe.debugRegs[regFpCtrl] = uint32(slots) << 4 // rev field zero

	bt := newBreakpointTable(probe)
	if err := bt.init(); err != nil {
		t.Fatalf("init: %v", err)
	}

	return bt, probe
}

func TestBreakpointInit(t *testing.T) {
	bt, probe := newRev1Table(t, 6)

	if bt.numSlots != 6 {
		t.Errorf("numSlots = %d, want 6", bt.numSlots)
	}

	if bt.revision != codeBreakRevV1 {
		t.Errorf("revision = %d, want rev 1", bt.revision)
	}

	for i := 0; i < 6; i++ {
		if fpComp(probe, i) != 0 {
			t.Errorf("comparator %d not cleared: %08x", i, fpComp(probe, i))
		}
	}
}

func TestBreakpointOddAddressRejected(t *testing.T) {
	bt, _ := newRev1Table(t, 6)

	if err := bt.update(0x08000101, true); err == nil {
		t.Error("odd address accepted")
	}
}

func TestBreakpointInsertRemoveRev1(t *testing.T) {
	bt, probe := newRev1Table(t, 6)

	if err := bt.update(0x08000100, true); err != nil {
		t.Fatalf("insert: %v", err)
	}

	want := (uint32(codeBreakLow) << 30) | 0x08000100 | 1
	if got := fpComp(probe, 0); got != want {
		t.Errorf("comparator = %08x, want %08x", got, want)
	}

	if err := bt.update(0x08000100, false); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if got := fpComp(probe, 0); got != 0 {
		t.Errorf("comparator after remove = %08x, want 0", got)
	}
}

func TestBreakpointHalfwordsShareSlot(t *testing.T) {
	bt, probe := newRev1Table(t, 6)

	// two thumb breakpoints in one word land in one comparator
	if err := bt.update(0x08000100, true); err != nil {
		t.Fatalf("insert low: %v", err)
	}

	if err := bt.update(0x08000102, true); err != nil {
		t.Fatalf("insert high: %v", err)
	}

	want := (uint32(codeBreakLow|codeBreakHigh) << 30) | 0x08000100 | 1
	if got := fpComp(probe, 0); got != want {
		t.Errorf("comparator = %08x, want %08x", got, want)
	}

	if got := fpComp(probe, 1); got != 0 {
		t.Errorf("second comparator armed: %08x", got)
	}

	// removing only one keeps the other half active
	if err := bt.update(0x08000100, false); err != nil {
		t.Fatalf("remove low: %v", err)
	}

	want = (uint32(codeBreakHigh) << 30) | 0x08000100 | 1
	if got := fpComp(probe, 0); got != want {
		t.Errorf("comparator = %08x, want %08x", got, want)
	}

	if err := bt.update(0x08000102, false); err != nil {
		t.Fatalf("remove high: %v", err)
	}

	if got := fpComp(probe, 0); got != 0 {
		t.Errorf("comparator after full remove = %08x", got)
	}
}

func TestBreakpointInsertRemoveLeavesZeroState(t *testing.T) {
	bt, probe := newRev1Table(t, 6)

	addrs := []uint32{0x08000000, 0x08000004, 0x08000010, 0x08000102, 0x080003F8}

	for _, addr := range addrs {
		if err := bt.update(addr, true); err != nil {
			t.Fatalf("insert %08x: %v", addr, err)
		}
	}

	for _, addr := range addrs {
		if err := bt.update(addr, false); err != nil {
			t.Fatalf("remove %08x: %v", addr, err)
		}
	}

	for i := 0; i < bt.numSlots; i++ {
		if got := fpComp(probe, i); got != 0 {
			t.Errorf("comparator %d = %08x, want 0", i, got)
		}
	}
}

func TestBreakpointSlotExhaustion(t *testing.T) {
	bt, _ := newRev1Table(t, 2)

	if err := bt.update(0x08000000, true); err != nil {
		t.Fatalf("insert 1: %v", err)
	}

	if err := bt.update(0x08000010, true); err != nil {
		t.Fatalf("insert 2: %v", err)
	}

	if err := bt.update(0x08000020, true); err == nil {
		t.Error("third insert into two slots succeeded")
	}

	// removing an absent breakpoint is not an error
	if err := bt.update(0x08000030, false); err != nil {
		t.Errorf("removing absent breakpoint: %v", err)
	}
}

func TestBreakpointRev2LiteralAddress(t *testing.T) {
	probe := newMockProbe()
	probe.debugRegs[regFpCtrl] = (6 << 4) | (uint32(codeBreakRevV2) << 28)

	bt := newBreakpointTable(probe)
	if err := bt.init(); err != nil {
		t.Fatalf("init: %v", err)
	}

	if err := bt.update(0x08000102, true); err != nil {
		t.Fatalf("insert: %v", err)
	}

	want := (uint32(codeBreakRemap&0x3) << 30) | 0x08000102 | 1
	if got := fpComp(probe, 0); got != want {
		t.Errorf("comparator = %08x, want %08x", got, want)
	}

	if !bt.contains(0x08000102) {
		t.Error("contains() misses the literal address")
	}
}

func TestBreakpointCm7Unlock(t *testing.T) {
	probe := newMockProbe()
	probe.debugRegs[regFpCtrl] = 8 << 4
	probe.debugRegs[regCpuId] = 0xC27 << 4 // Cortex-M7 part number

	bt := newBreakpointTable(probe)
	if err := bt.init(); err != nil {
		t.Fatalf("init: %v", err)
	}

	if got := probe.debugRegs[regCm7FpLar]; got != cm7FpLarKey {
		t.Errorf("FP_LAR = %08x, want the unlock key", got)
	}
}
