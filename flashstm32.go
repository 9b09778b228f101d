// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gostutil

import (
	"errors"
	"fmt"
	"time"
)

// FPEC register layout of the page erase families (F0/F1/F3, the L
// and G parts follow the same shape at the same base).
const (
	flashRegBase = 0x40022000
	flashKeyr    = flashRegBase + 0x04
	flashSr      = flashRegBase + 0x0C
	flashCr      = flashRegBase + 0x10
	flashAr      = flashRegBase + 0x14

	flashCrPg   = 1 << 0
	flashCrPer  = 1 << 1
	flashCrStrt = 1 << 6
	flashCrLock = 1 << 7

	flashSrBsy = 1 << 0
)

// FPEC register layout of the sector erase families (F2/F4/F7/H7).
const (
	flashF4RegBase = 0x40023C00
	flashF4Keyr    = flashF4RegBase + 0x04
	flashF4Sr      = flashF4RegBase + 0x0C
	flashF4Cr      = flashF4RegBase + 0x10

	flashF4CrPg       = 1 << 0
	flashF4CrSer      = 1 << 1
	flashF4CrSnbShift = 3
	flashF4CrStrt     = 1 << 16
	flashF4CrLock     = 1 << 31
	flashF4CrPsizeX32 = 2 << 8

	flashF4SrBsy = 1 << 16
)

const (
	flashKey1 = 0x45670123
	flashKey2 = 0xCDEF89AB
)

func (h *StLink) flashRegs() (keyr, sr, cr uint32) {
	if h.chip.family == flashFamilySectorErase {
		return flashF4Keyr, flashF4Sr, flashF4Cr
	}

	return flashKeyr, flashSr, flashCr
}

func (h *StLink) flashUnlock() error {
	keyr, _, cr := h.flashRegs()

	value, err := h.ReadDebug32(cr)
	if err != nil {
		return err
	}

	lockBit := uint32(flashCrLock)
	if h.chip.family == flashFamilySectorErase {
		lockBit = flashF4CrLock
	}

	if (value & lockBit) == 0 {
		return nil
	}

	if err := h.WriteDebug32(keyr, flashKey1); err != nil {
		return err
	}

	if err := h.WriteDebug32(keyr, flashKey2); err != nil {
		return err
	}

	value, err = h.ReadDebug32(cr)
	if err != nil {
		return err
	}

	if (value & lockBit) != 0 {
		return errors.New("flash unlock sequence rejected")
	}

	return nil
}

func (h *StLink) flashLock() error {
	_, _, cr := h.flashRegs()

	value, err := h.ReadDebug32(cr)
	if err != nil {
		return err
	}

	if h.chip.family == flashFamilySectorErase {
		return h.WriteDebug32(cr, value|flashF4CrLock)
	}

	return h.WriteDebug32(cr, value|flashCrLock)
}

func (h *StLink) flashWaitBusy() error {
	_, sr, _ := h.flashRegs()

	busyBit := uint32(flashSrBsy)
	if h.chip.family == flashFamilySectorErase {
		busyBit = flashF4SrBsy
	}

	for retries := 0; retries < 10000; retries++ {
		value, err := h.ReadDebug32(sr)
		if err != nil {
			return err
		}

		if (value & busyBit) == 0 {
			return nil
		}

		time.Sleep(time.Millisecond)
	}

	return errors.New("flash operation did not complete")
}

// flashSectorNumber maps an address to the erase sector index of the
// classic F2/F4/F7 layout.
func (h *StLink) flashSectorNumber(addr uint32) uint32 {
	offset := addr - h.flashBase
	var base uint32 = 0

	if h.flashSize > 0x100000 && offset >= h.flashSize/2 {
		// second bank sectors start at index 12
		offset -= h.flashSize / 2
		base = 12
	}

	switch {
	case offset < 0x10000:
		return base + offset/0x4000
	case offset < 0x20000:
		return base + 4
	default:
		return base + 5 + (offset-0x20000)/0x20000
	}
}

// EraseFlashPage erases the page or sector containing addr. addr must
// be the start of that unit.
func (h *StLink) EraseFlashPage(addr uint32) error {
	pageSize := h.FlashPageSize(addr)

	if addr%pageSize != 0 {
		return fmt.Errorf("erase address %#x not at a page boundary", addr)
	}

	if err := h.flashUnlock(); err != nil {
		return err
	}

	_, _, cr := h.flashRegs()

	if h.chip.family == flashFamilySectorErase {
		sector := h.flashSectorNumber(addr)

		err := h.WriteDebug32(cr, flashF4CrSer|(sector<<flashF4CrSnbShift)|flashF4CrPsizeX32)
		if err != nil {
			return err
		}

		if err := h.WriteDebug32(cr, flashF4CrSer|(sector<<flashF4CrSnbShift)|flashF4CrPsizeX32|flashF4CrStrt); err != nil {
			return err
		}
	} else {
		if err := h.WriteDebug32(cr, flashCrPer); err != nil {
			return err
		}

		if err := h.WriteDebug32(flashAr, addr); err != nil {
			return err
		}

		if err := h.WriteDebug32(cr, flashCrPer|flashCrStrt); err != nil {
			return err
		}
	}

	if err := h.flashWaitBusy(); err != nil {
		return err
	}

	// drop the erase selector again
	return h.WriteDebug32(cr, 0)
}

// FlashLoaderStart prepares programming mode. The fast path with a
// loader stub in target ram is left to the external loader package,
// programming through the debug port is always available.
func (h *StLink) FlashLoaderStart(fl *FlashLoader) error {
	if err := h.flashUnlock(); err != nil {
		return err
	}

	_, _, cr := h.flashRegs()

	if h.chip.family == flashFamilySectorErase {
		if err := h.WriteDebug32(cr, flashF4CrPg|flashF4CrPsizeX32); err != nil {
			return err
		}
	} else {
		if err := h.WriteDebug32(cr, flashCrPg); err != nil {
			return err
		}
	}

	fl.running = true

	return nil
}

// FlashLoaderWrite programs one span, word by word through the memory
// window, and waits for the controller to settle.
func (h *StLink) FlashLoaderWrite(fl *FlashLoader, addr uint32, data []byte) error {
	if !fl.running {
		return errors.New("flash loader is not running")
	}

	// pad the tail to a full word with the erased pattern
	if len(data)%4 != 0 {
		padded := make([]byte, (len(data)+3)&^3)
		copy(padded, data)

		for i := len(data); i < len(padded); i++ {
			padded[i] = h.ErasedPattern()
		}

		data = padded
	}

	if err := h.WriteMem32(addr, data); err != nil {
		return err
	}

	return h.flashWaitBusy()
}

func (h *StLink) FlashLoaderStop(fl *FlashLoader) error {
	fl.running = false

	_, _, cr := h.flashRegs()

	if err := h.WriteDebug32(cr, 0); err != nil {
		return err
	}

	return h.flashLock()
}
