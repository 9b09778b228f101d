// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gostutil

import (
	"strings"
	"testing"
)

func TestMakeMemoryMapGeneric(t *testing.T) {
	probe := newMockProbe()

	xml := makeMemoryMap(probe)

	for _, want := range []string{
		`<memory type="flash" start="0x08000000" length="0x20000">`,
		`<property name="blocksize">0x800</property>`,
		`<memory type="ram" start="0x20000000" length="0x5000"/>`,
		`<memory type="rom" start="0x1ffff000" length="0x800"/>`,
	} {
		if !strings.Contains(xml, want) {
			t.Errorf("generic map misses %q", want)
		}
	}
}

func TestMakeMemoryMapF4(t *testing.T) {
	probe := newMockProbe()
	probe.chipId = 0x413

	xml := makeMemoryMap(probe)

	// the F4 map is static, the sector layout is spelled out
	for _, want := range []string{
		`<property name="blocksize">0x4000</property>`,
		`<property name="blocksize">0x10000</property>`,
		`<property name="blocksize">0x20000</property>`,
	} {
		if !strings.Contains(xml, want) {
			t.Errorf("F4 map misses %q", want)
		}
	}
}

func TestMakeMemoryMapM7Core(t *testing.T) {
	probe := newMockProbe()
	probe.coreId = coreIdM7fSwd

	xml := makeMemoryMap(probe)

	if !strings.Contains(xml, `length="0x5000"`) {
		t.Error("F7 map does not carry the sram size")
	}
}
