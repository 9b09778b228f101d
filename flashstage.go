// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gostutil

import (
	"errors"
	"fmt"
)

// The gdb flash protocol arrives as a vFlashErase/vFlashWrite/
// vFlashDone transaction. Erases declare page aligned regions which
// are staged here as buffers prefilled with the erased pattern, the
// writes are folded into them, and vFlashDone commits everything as
// one erase-then-program pass.

type flashBlock struct {
	addr uint32
	data []byte
}

type flashStage struct {
	blocks []flashBlock
}

// addBlock stages the erase of [addr, addr+length). The region must
// lie inside flash and be aligned to the page size at addr. A zero
// length erase is accepted and stages nothing.
func (fs *flashStage) addBlock(probe Probe, addr uint32, length uint32) error {
	if length == 0 {
		return nil
	}

	if addr < probe.FlashBase() || addr+length > probe.FlashBase()+probe.FlashSize() {
		logger.Error("flash add block: incorrect bounds")
		return errors.New("flash block out of bounds")
	}

	pageSize := probe.FlashPageSize(addr)

	if addr%pageSize != 0 || length%pageSize != 0 {
		logger.Error("flash add block: unaligned block")
		return errors.New("flash block not page aligned")
	}

	data := make([]byte, length)
	pattern := probe.ErasedPattern()

	for i := range data {
		data[i] = pattern
	}

	fs.blocks = append(fs.blocks, flashBlock{addr: addr, data: data})

	return nil
}

// populate folds one write into every staged block it intersects. gdb
// occasionally sends writes that hang over the staged regions, the
// overhang is dropped with a warning.
func (fs *flashStage) populate(addr uint32, data []byte) error {
	var fitBlocks, fitLength uint32

	length := uint32(len(data))

	for i := range fs.blocks {
		block := &fs.blocks[i]

		/*
		 * Block: ------X------Y--------
		 * Data:            a-----b
		 *                a--b
		 *            a-----------b
		 * Block intersects with data, if:
		 *  a < Y && b > X
		 */

		blockStart, blockEnd := block.addr, block.addr+uint32(len(block.data))
		dataStart, dataEnd := addr, addr+length

		if dataStart < blockEnd && dataEnd > blockStart {
			start := maxU32(dataStart, blockStart)
			end := minU32(dataEnd, blockEnd)

			copy(block.data[start-blockStart:end-blockStart], data[start-dataStart:end-dataStart])

			fitBlocks++
			fitLength += end - start
		}
	}

	if fitBlocks == 0 {
		logger.Errorf("Unfit data block %08x -> %04x", addr, length)
		return fmt.Errorf("write outside staged flash regions: %08x", addr)
	}

	if fitLength != length {
		logger.Warnf("data block %08x -> %04x truncated to %04x", addr, length, fitLength)
		logger.Warn("(this is not an error, just a GDB glitch)")
	}

	return nil
}

// commit burns all staged blocks: every page is erased first, then
// programmed through the loader, then the target is soft reset into a
// halted state. The staging list is gone afterwards no matter what.
func (fs *flashStage) commit(probe Probe, mode ConnectMode) (err error) {
	defer func() {
		fs.blocks = nil
	}()

	if err = probe.TargetConnect(mode); err != nil {
		return err
	}

	if err = probe.ForceDebug(); err != nil {
		return err
	}

	for _, block := range fs.blocks {
		logger.Infof("flash erase: block %08x -> %04x", block.addr, len(block.data))

		end := block.addr + uint32(len(block.data))

		for page := block.addr; page < end; page += probe.FlashPageSize(page) {
			logger.Infof("flash erase: page %08x", page)

			if err = probe.EraseFlashPage(page); err != nil {
				return err
			}
		}
	}

	var loader FlashLoader

	if err = probe.FlashLoaderStart(&loader); err != nil {
		return err
	}

	for _, block := range fs.blocks {
		logger.Infof("flash write: block %08x -> %04x", block.addr, len(block.data))

		end := block.addr + uint32(len(block.data))

		for page := block.addr; page < end; {
			pageSize := probe.FlashPageSize(page)
			remaining := end - page

			length := pageSize
			if remaining < length {
				length = remaining
			}

			logger.Infof("flash write: page %08x", page)

			offset := page - block.addr

			if err = probe.FlashLoaderWrite(&loader, page, block.data[offset:offset+length]); err != nil {
				probe.FlashLoaderStop(&loader)
				return err
			}

			page += length
		}
	}

	if err = probe.FlashLoaderStop(&loader); err != nil {
		return err
	}

	return probe.Reset(ResetSoftAndHalt)
}

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}

	return b
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}

	return b
}
