// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gostutil

import (
	"fmt"
)

// core id of Cortex-M7 parts seen over SWD, they get the F7 shaped map
// regardless of the chip id
const coreIdM7fSwd = 0x5BA02477

const memoryMapHeader = `<?xml version="1.0"?>` +
	`<!DOCTYPE memory-map PUBLIC "+//IDN gnu.org//DTD GDB Memory Map V1.0//EN"` +
	` "http://sourceware.org/gdb/gdb-memory-map.dtd">`

// at most six integer substitutions per template: the renderer hands
// each one exactly the values its family needs.

const memoryMapTemplate = memoryMapHeader +
	`<memory-map>` +
	`  <memory type="rom" start="0x00000000" length="0x%x"/>` + // code, aliased flash
	`  <memory type="ram" start="0x20000000" length="0x%x"/>` + // sram
	`  <memory type="flash" start="0x08000000" length="0x%x">` +
	`    <property name="blocksize">0x%x</property>` +
	`  </memory>` +
	`  <memory type="ram" start="0x40000000" length="0x1fffffff"/>` + // peripheral regs
	`  <memory type="ram" start="0xe0000000" length="0x1fffffff"/>` + // cortex regs
	`  <memory type="rom" start="0x%08x" length="0x%x"/>` + // bootrom
	`</memory-map>`

const memoryMapTemplateF2 = memoryMapHeader +
	`<memory-map>` +
	`  <memory type="rom" start="0x00000000" length="0x%x"/>` +
	`  <memory type="ram" start="0x20000000" length="0x%x"/>` +
	`  <memory type="flash" start="0x08000000" length="0x10000">` +
	`    <property name="blocksize">0x4000</property>` +
	`  </memory>` +
	`  <memory type="flash" start="0x08010000" length="0x10000">` +
	`    <property name="blocksize">0x10000</property>` +
	`  </memory>` +
	`  <memory type="flash" start="0x08020000" length="0x%x">` +
	`    <property name="blocksize">0x20000</property>` +
	`  </memory>` +
	`  <memory type="ram" start="0x40000000" length="0x1fffffff"/>` +
	`  <memory type="ram" start="0xe0000000" length="0x1fffffff"/>` +
	`  <memory type="rom" start="0x%08x" length="0x%x"/>` +
	`</memory-map>`

const memoryMapTemplateF4 = memoryMapHeader +
	`<memory-map>` +
	`  <memory type="rom" start="0x00000000" length="0x100000"/>` +
	`  <memory type="ram" start="0x10000000" length="0x10000"/>` + // ccm ram
	`  <memory type="ram" start="0x20000000" length="0x20000"/>` +
	`  <memory type="flash" start="0x08000000" length="0x10000">` +
	`    <property name="blocksize">0x4000</property>` +
	`  </memory>` +
	`  <memory type="flash" start="0x08010000" length="0x10000">` +
	`    <property name="blocksize">0x10000</property>` +
	`  </memory>` +
	`  <memory type="flash" start="0x08020000" length="0xE0000">` +
	`    <property name="blocksize">0x20000</property>` +
	`  </memory>` +
	`  <memory type="ram" start="0x40000000" length="0x1fffffff"/>` +
	`  <memory type="ram" start="0xe0000000" length="0x1fffffff"/>` +
	`  <memory type="rom" start="0x1fff0000" length="0x7800"/>` +
	`</memory-map>`

const memoryMapTemplateF7 = memoryMapHeader +
	`<memory-map>` +
	`  <memory type="ram" start="0x00000000" length="0x4000"/>` + // itcm ram
	`  <memory type="rom" start="0x00200000" length="0x100000"/>` + // itcm flash alias
	`  <memory type="ram" start="0x20000000" length="0x%x"/>` +
	`  <memory type="flash" start="0x08000000" length="0x8000">` +
	`    <property name="blocksize">0x8000</property>` +
	`  </memory>` +
	`  <memory type="flash" start="0x08008000" length="0x18000">` +
	`    <property name="blocksize">0x8000</property>` +
	`  </memory>` +
	`  <memory type="flash" start="0x08020000" length="0x20000">` +
	`    <property name="blocksize">0x20000</property>` +
	`  </memory>` +
	`  <memory type="flash" start="0x08040000" length="0xC0000">` +
	`    <property name="blocksize">0x40000</property>` +
	`  </memory>` +
	`  <memory type="ram" start="0x40000000" length="0x1fffffff"/>` +
	`  <memory type="ram" start="0xe0000000" length="0x1fffffff"/>` +
	`  <memory type="rom" start="0x00100000" length="0xEDC0"/>` +
	`</memory-map>`

const memoryMapTemplateH7 = memoryMapHeader +
	`<memory-map>` +
	`  <memory type="rom" start="0x00000000" length="0x10000"/>` + // itcm
	`  <memory type="ram" start="0x20000000" length="0x20000"/>` + // dtcm
	`  <memory type="ram" start="0x24000000" length="0x80000"/>` + // axi ram
	`  <memory type="flash" start="0x08000000" length="0x%x">` +
	`    <property name="blocksize">0x%x</property>` +
	`  </memory>` +
	`  <memory type="ram" start="0x40000000" length="0x1fffffff"/>` +
	`  <memory type="ram" start="0xe0000000" length="0x1fffffff"/>` +
	`</memory-map>`

const memoryMapTemplateL4 = memoryMapHeader +
	`<memory-map>` +
	`  <memory type="rom" start="0x00000000" length="0x%x"/>` +
	`  <memory type="ram" start="0x10000000" length="0x8000"/>` + // sram2
	`  <memory type="ram" start="0x20000000" length="0x18000"/>` +
	`  <memory type="flash" start="0x08000000" length="0x%x">` +
	`    <property name="blocksize">0x800</property>` +
	`  </memory>` +
	`  <memory type="ram" start="0x40000000" length="0x1fffffff"/>` +
	`  <memory type="ram" start="0xe0000000" length="0x1fffffff"/>` +
	`  <memory type="rom" start="0x1fff0000" length="0x7000"/>` +
	`</memory-map>`

// makeMemoryMap renders the memory map the session advertises over
// qXfer:memory-map:read, picked by chip family.
func makeMemoryMap(probe Probe) string {
	chip := lookupChip(probe.ChipId())

	kind := mapGeneric
	if chip != nil {
		kind = chip.memoryMap
	}

	if probe.CoreId() == coreIdM7fSwd {
		kind = mapF7
	}

	switch kind {
	case mapF4:
		return memoryMapTemplateF4

	case mapF7:
		return fmt.Sprintf(memoryMapTemplateF7, probe.SramSize())

	case mapH7:
		return fmt.Sprintf(memoryMapTemplateH7,
			probe.FlashSize(),
			probe.FlashPageSize(probe.FlashBase()))

	case mapF2:
		return fmt.Sprintf(memoryMapTemplateF2,
			probe.FlashSize(),
			probe.SramSize(),
			probe.FlashSize()-0x20000,
			probe.SysBase(),
			probe.SysSize())

	case mapL4:
		return fmt.Sprintf(memoryMapTemplateL4,
			probe.FlashSize(),
			probe.FlashSize())

	default:
		return fmt.Sprintf(memoryMapTemplate,
			probe.FlashSize(),
			probe.SramSize(),
			probe.FlashSize(),
			probe.FlashPageSize(probe.FlashBase()),
			probe.SysBase(),
			probe.SysSize())
	}
}
