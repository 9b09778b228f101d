// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gostutil

import (
	"testing"
)

func newWatchTable(t *testing.T) (*watchpointTable, *mockProbe) {
	t.Helper()

	probe := newMockProbe()

	wt := newWatchpointTable(probe)
	if err := wt.init(); err != nil {
		t.Fatalf("init: %v", err)
	}

	return wt, probe
}

func TestWatchpointInitEnablesTrcEna(t *testing.T) {
	_, probe := newWatchTable(t)

	if probe.debugRegs[regDemcr]&demcrTrcEna == 0 {
		t.Error("TRCENA not set")
	}

	for i := 0; i < dataWatchNum; i++ {
		if probe.debugRegs[dwtFunctionReg(i)] != 0 {
			t.Errorf("function register %d not cleared", i)
		}
	}
}

func TestWatchpointAdd(t *testing.T) {
	tests := []struct {
		name     string
		fun      watchFun
		addr     uint32
		length   uint32
		wantMask uint32
		wantErr  bool
	}{
		{"write word", watchWrite, 0x20000000, 4, 2, false},
		{"read byte", watchRead, 0x20000010, 1, 0, false},
		{"access range", watchAccess, 0x20000100, 256, 8, false},
		{"non power of two", watchWrite, 0x20000200, 5, 3, false},
		{"maximum length", watchWrite, 0x20000000, 0x8000, 15, false},
		{"too long", watchWrite, 0x20000000, 0x10000 + 1, 0, true},
		{"way too long", watchWrite, 0x20000000, 0x20000, 0, true},
		{"zero length", watchWrite, 0x20000000, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wt, probe := newWatchTable(t)

			err := wt.add(tt.fun, tt.addr, tt.length)

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected failure")
				}
				return
			}

			if err != nil {
				t.Fatalf("add: %v", err)
			}

			if got := probe.debugRegs[dwtCompReg(0)]; got != tt.addr {
				t.Errorf("comp = %08x, want %08x", got, tt.addr)
			}

			if got := probe.debugRegs[dwtMaskReg(0)]; got != tt.wantMask {
				t.Errorf("mask = %d, want %d", got, tt.wantMask)
			}

			if got := probe.debugRegs[dwtFunctionReg(0)]; got != uint32(tt.fun) {
				t.Errorf("function = %d, want %d", got, tt.fun)
			}
		})
	}
}

func TestWatchpointSlotExhaustion(t *testing.T) {
	wt, _ := newWatchTable(t)

	for i := 0; i < dataWatchNum; i++ {
		if err := wt.add(watchWrite, 0x20000000+uint32(i)*4, 4); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}

	if err := wt.add(watchWrite, 0x20001000, 4); err == nil {
		t.Error("fifth watchpoint accepted")
	}
}

func TestWatchpointRemove(t *testing.T) {
	wt, probe := newWatchTable(t)

	if err := wt.add(watchWrite, 0x20000000, 4); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := wt.remove(0x20000000); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if probe.debugRegs[dwtFunctionReg(0)] != 0 {
		t.Error("function register not cleared on remove")
	}

	// disabled slots must not match, the invariant is
	// disabled <=> function register zero
	if err := wt.remove(0x20000000); err == nil {
		t.Error("second remove of the same address succeeded")
	}

	// the slot is reusable again
	if err := wt.add(watchRead, 0x20000004, 8); err != nil {
		t.Errorf("slot not reusable: %v", err)
	}
}
