// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gostutil

const flashBaseAddress = 0x08000000

// chip id registers (DBGMCU_IDCODE); F0 parts moved it
const (
	regDbgMcuIdCode   = 0xE0042000
	regDbgMcuIdCodeF0 = 0x40015800
)

type flashFamily uint8

const (
	// one FLASH_AR page erase per page, the F0/F1/F3/L world
	flashFamilyPageErase flashFamily = iota
	// sector erase by number with the classic 16K/64K/128K layout
	flashFamilySectorErase
)

type memoryMapKind uint8

const (
	mapGeneric memoryMapKind = iota
	mapF2
	mapF4
	mapF7
	mapH7
	mapL4
)

type stm32Chip struct {
	chipId      uint32
	description string

	family flashFamily

	// flash size register address; bit 1 set means the KB count lives
	// in the upper half word
	flashSizeReg     uint32
	defaultFlashSize uint32

	// fixed page size for page erase parts, 0 for sector erase parts
	pageSize uint32

	sramSize uint32
	sysBase  uint32
	sysSize  uint32

	erasedPattern byte

	memoryMap memoryMapKind
}

var defaultChip = stm32Chip{
	chipId:           0,
	description:      "unknown device",
	family:           flashFamilyPageErase,
	flashSizeReg:     0x1FFFF7E0,
	defaultFlashSize: 0x10000,
	pageSize:         0x400,
	sramSize:         0x5000,
	sysBase:          0x1FFFF000,
	sysSize:          0x800,
	erasedPattern:    0xFF,
	memoryMap:        mapGeneric,
}

var supportedStm32Chips = map[uint32]stm32Chip{
	0x410: {0x410, "STM32F1 medium density", flashFamilyPageErase, 0x1FFFF7E0, 0x20000, 0x400, 0x5000, 0x1FFFF000, 0x800, 0xFF, mapGeneric},
	0x414: {0x414, "STM32F1 high density", flashFamilyPageErase, 0x1FFFF7E0, 0x80000, 0x800, 0x10000, 0x1FFFF000, 0x800, 0xFF, mapGeneric},
	0x440: {0x440, "STM32F05x", flashFamilyPageErase, 0x1FFFF7CC, 0x10000, 0x400, 0x2000, 0x1FFFEC00, 0xC00, 0xFF, mapGeneric},
	0x444: {0x444, "STM32F03x", flashFamilyPageErase, 0x1FFFF7CC, 0x8000, 0x400, 0x1000, 0x1FFFEC00, 0xC00, 0xFF, mapGeneric},
	0x445: {0x445, "STM32F04x", flashFamilyPageErase, 0x1FFFF7CC, 0x8000, 0x400, 0x1800, 0x1FFFC400, 0x3C00, 0xFF, mapGeneric},
	0x448: {0x448, "STM32F07x", flashFamilyPageErase, 0x1FFFF7CC, 0x20000, 0x800, 0x4000, 0x1FFFC800, 0x3800, 0xFF, mapGeneric},
	0x422: {0x422, "STM32F30x", flashFamilyPageErase, 0x1FFFF7CC, 0x40000, 0x800, 0xA000, 0x1FFFD800, 0x2000, 0xFF, mapGeneric},
	0x411: {0x411, "STM32F2xx", flashFamilySectorErase, 0x1FFF7A22, 0x100000, 0, 0x20000, 0x1FFF0000, 0x7800, 0xFF, mapF2},
	0x413: {0x413, "STM32F40x/F41x", flashFamilySectorErase, 0x1FFF7A22, 0x100000, 0, 0x30000, 0x1FFF0000, 0x7800, 0xFF, mapF4},
	0x419: {0x419, "STM32F42x/F43x", flashFamilySectorErase, 0x1FFF7A22, 0x200000, 0, 0x40000, 0x1FFF0000, 0x7800, 0xFF, mapF4},
	0x421: {0x421, "STM32F446", flashFamilySectorErase, 0x1FFF7A22, 0x80000, 0, 0x20000, 0x1FFF0000, 0x7800, 0xFF, mapF4},
	0x431: {0x431, "STM32F411xx", flashFamilySectorErase, 0x1FFF7A22, 0x80000, 0, 0x20000, 0x1FFF0000, 0x7800, 0xFF, mapF4},
	0x433: {0x433, "STM32F401xD/E", flashFamilySectorErase, 0x1FFF7A22, 0x80000, 0, 0x18000, 0x1FFF0000, 0x7800, 0xFF, mapF4},
	0x449: {0x449, "STM32F74x/F75x", flashFamilySectorErase, 0x1FF0F442, 0x100000, 0, 0x50000, 0x1FF00000, 0xEDC0, 0xFF, mapF7},
	0x450: {0x450, "STM32H74x/H75x", flashFamilySectorErase, 0x1FF1E880, 0x200000, 0x20000, 0x80000, 0x1FF00000, 0x20000, 0xFF, mapH7},
	0x415: {0x415, "STM32L47x/L48x", flashFamilyPageErase, 0x1FFF75E2, 0x100000, 0x800, 0x18000, 0x1FFF0000, 0x7000, 0xFF, mapL4},
	0x435: {0x435, "STM32L43x/L44x", flashFamilyPageErase, 0x1FFF75E2, 0x40000, 0x800, 0xC000, 0x1FFF0000, 0x7000, 0xFF, mapL4},
	0x462: {0x462, "STM32L45x/L46x", flashFamilyPageErase, 0x1FFF75E2, 0x80000, 0x800, 0x20000, 0x1FFF0000, 0x7000, 0xFF, mapL4},
	0x461: {0x461, "STM32L496x/L4A6x", flashFamilyPageErase, 0x1FFF75E2, 0x100000, 0x800, 0x40000, 0x1FFF0000, 0x7000, 0xFF, mapL4},
	0x460: {0x460, "STM32G07x/G08x", flashFamilyPageErase, 0x1FFF75E0, 0x20000, 0x800, 0x9000, 0x1FFF0000, 0x7000, 0xFF, mapGeneric},
	0x468: {0x468, "STM32G43x/G44x", flashFamilyPageErase, 0x1FFF75E0, 0x20000, 0x800, 0x8000, 0x1FFF0000, 0x7000, 0xFF, mapGeneric},
}

func lookupChip(chipId uint32) *stm32Chip {
	if chip, ok := supportedStm32Chips[chipId]; ok {
		return &chip
	}

	return nil
}

// FlashPageSize returns the smallest erasable unit at addr. Sector
// erase parts have the 4x16K, 1x64K, nx128K layout mirrored in both
// banks.
func (h *StLink) FlashPageSize(addr uint32) uint32 {
	if h.chip.family == flashFamilyPageErase || h.chip.pageSize != 0 {
		return h.chip.pageSize
	}

	offset := addr - h.flashBase

	// dual bank parts repeat the sector layout in the second bank
	if h.flashSize > 0x100000 && offset >= h.flashSize/2 {
		offset -= h.flashSize / 2
	}

	switch {
	case offset < 0x10000:
		return 0x4000
	case offset < 0x20000:
		return 0x10000
	default:
		return 0x20000
	}
}
