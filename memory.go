// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// this code is mainly inspired and based on the openocd project source code
// for detailed information see

// https://sourceforge.net/p/openocd/code

package gostutil

import (
	"errors"
)

func (h *StLink) usbBlockSize() uint32 {
	if h.version.flags.Get(flagHasRw8Bytes512) {
		return v3MaxReadWrite8
	}

	return maxReadWrite8
}

// maxBlockSize caps a transfer so the TAR autoincrement window of the
// target is never crossed.
func (h *StLink) maxBlockSize(tarAutoIncrBlock uint32, address uint32) uint32 {
	maxTarBlock := tarAutoIncrBlock - (address & (tarAutoIncrBlock - 1))

	if maxTarBlock == 0 {
		return 4
	}

	return maxTarBlock
}

// ReadMem32 reads length bytes from a 4 byte aligned address. The
// caller deals with alignment expansion.
func (h *StLink) ReadMem32(addr uint32, length uint32) ([]byte, error) {

	/* data must be a multiple of 4 and word aligned */
	if (length%4) > 0 || (addr%4) > 0 {
		return nil, newUsbError("invalid data alignment", usbErrorUnalignedAccess)
	}

	buffer := make([]byte, 0, length)

	for length > 0 {
		chunk := h.maxBlockSize(h.maxMemPacket, addr)
		if length < chunk {
			chunk = length
		}

		ctx := h.initTransfer(transferIncoming)

		ctx.cmdBuf.WriteByte(cmdDebug)
		ctx.cmdBuf.WriteByte(debugReadMem32Bit)
		ctx.cmdBuf.WriteUint32LE(addr)
		ctx.cmdBuf.WriteUint16LE(uint16(chunk))

		err := h.usbTransferNoErrCheck(ctx, chunk)

		if err != nil {
			return nil, err
		}

		if err := h.usbGetReadWriteStatus(); err != nil {
			return nil, err
		}

		buffer = append(buffer, ctx.DataBytes()[:chunk]...)

		addr += chunk
		length -= chunk
	}

	return buffer, nil
}

// WriteMem32 writes a 4 byte aligned span with 32-bit bus accesses.
func (h *StLink) WriteMem32(addr uint32, data []byte) error {

	if (len(data)%4) > 0 || (addr%4) > 0 {
		return newUsbError("invalid data alignment", usbErrorUnalignedAccess)
	}

	for len(data) > 0 {
		chunk := h.maxBlockSize(h.maxMemPacket, addr)
		if uint32(len(data)) < chunk {
			chunk = uint32(len(data))
		}

		ctx := h.initTransfer(transferOutgoing)

		ctx.cmdBuf.WriteByte(cmdDebug)
		ctx.cmdBuf.WriteByte(debugWriteMem32Bit)
		ctx.cmdBuf.WriteUint32LE(addr)
		ctx.cmdBuf.WriteUint16LE(uint16(chunk))

		ctx.dataBuf.Write(data[:chunk])

		err := h.usbTransferNoErrCheck(ctx, chunk)

		if err != nil {
			return err
		}

		if err := h.usbGetReadWriteStatus(); err != nil {
			return err
		}

		addr += chunk
		data = data[chunk:]
	}

	return nil
}

// WriteMem8 writes an arbitrary span with 8-bit bus accesses, split
// into the packet size the firmware supports.
func (h *StLink) WriteMem8(addr uint32, data []byte) error {

	if len(data) == 0 {
		return nil
	}

	for len(data) > 0 {
		chunk := h.usbBlockSize()
		if uint32(len(data)) < chunk {
			chunk = uint32(len(data))
		}

		ctx := h.initTransfer(transferOutgoing)

		ctx.cmdBuf.WriteByte(cmdDebug)
		ctx.cmdBuf.WriteByte(debugWriteMem8Bit)
		ctx.cmdBuf.WriteUint32LE(addr)
		ctx.cmdBuf.WriteUint16LE(uint16(chunk))

		ctx.dataBuf.Write(data[:chunk])

		err := h.usbTransferNoErrCheck(ctx, chunk)

		if err != nil {
			return err
		}

		if err := h.usbGetReadWriteStatus(); err != nil {
			return err
		}

		addr += chunk
		data = data[chunk:]
	}

	return nil
}

// readMemAligned expands an unaligned read to word boundaries and
// trims the result back, so the caller sees exactly the bytes asked
// for. Shared by the m packet handler and semihosting.
func readMemAligned(p Probe, addr uint32, length uint32) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}

	offset := addr % 4
	alignedLen := (length + offset + 3) &^ 3

	buffer, err := p.ReadMem32(addr-offset, alignedLen)
	if err != nil {
		return nil, err
	}

	if uint32(len(buffer)) < offset+length {
		return nil, errors.New("short memory read")
	}

	return buffer[offset : offset+length], nil
}
