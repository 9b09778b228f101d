// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gostutil

import (
	"fmt"
	"io"
	"os"
	"syscall"
	"time"
)

// Semihosting: the target executes BKPT 0xAB to request host services.
// r0 carries the operation, r1 points to the parameter block in target
// ram. The result goes back into r0 and the pc is advanced over the
// breakpoint instruction.

const semihostBkptInsn = 0xBEAB

const (
	sysOpen   = 0x01
	sysClose  = 0x02
	sysWritec = 0x03
	sysWrite0 = 0x04
	sysWrite  = 0x05
	sysRead   = 0x06
	sysIstty  = 0x09
	sysSeek   = 0x0A
	sysFlen   = 0x0C
	sysRemove = 0x0E
	sysRename = 0x0F
	sysClock  = 0x10
	sysTime   = 0x11
	sysErrno  = 0x13
	sysExit   = 0x18
)

// the ISO fopen mode table the open operation indexes into
var semihostOpenFlags = [12]int{
	os.O_RDONLY,
	os.O_RDONLY,
	os.O_RDWR,
	os.O_RDWR,
	os.O_WRONLY | os.O_CREATE | os.O_TRUNC,
	os.O_WRONLY | os.O_CREATE | os.O_TRUNC,
	os.O_RDWR | os.O_CREATE | os.O_TRUNC,
	os.O_RDWR | os.O_CREATE | os.O_TRUNC,
	os.O_WRONLY | os.O_CREATE | os.O_APPEND,
	os.O_WRONLY | os.O_CREATE | os.O_APPEND,
	os.O_RDWR | os.O_CREATE | os.O_APPEND,
	os.O_RDWR | os.O_CREATE | os.O_APPEND,
}

const semihostErrorResult = 0xFFFFFFFF // -1 in the target's eyes

type semihostFile struct {
	file      *os.File
	isConsole bool
}

// semihosting is the host side state: the open handle table and the
// last errno the target may ask for.
type semihosting struct {
	cache *cacheTracker

	handles    map[uint32]*semihostFile
	nextHandle uint32

	lastErrno uint32
	started   time.Time
}

func newSemihosting(cache *cacheTracker) *semihosting {
	return &semihosting{
		cache:      cache,
		handles:    make(map[uint32]*semihostFile),
		nextHandle: 1,
		started:    time.Now(),
	}
}

func (sh *semihosting) saveErrno(err error) {
	if pathErr, ok := err.(*os.PathError); ok {
		if errno, ok := pathErr.Err.(syscall.Errno); ok {
			sh.lastErrno = uint32(errno)
			return
		}
	}

	sh.lastErrno = 5 // EIO
}

// readParams fetches count pointer sized fields from the parameter
// block.
func (sh *semihosting) readParams(probe Probe, block uint32, count uint32) ([]uint32, error) {
	raw, err := readMemAligned(probe, block, count*4)
	if err != nil {
		return nil, err
	}

	params := make([]uint32, count)
	for i := range params {
		params[i] = le_to_h_u32(raw[i*4:])
	}

	return params, nil
}

// writeTargetMem pushes host bytes back into target ram and raises the
// cache dirty flag, the continuation resume syncs it.
func (sh *semihosting) writeTargetMem(probe Probe, addr uint32, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	err := probe.WriteMem8(addr, data)
	if err != nil {
		return err
	}

	sh.cache.change(addr, uint32(len(data)))

	return nil
}

// call services one semihosting request and returns the new r0.
func (sh *semihosting) call(probe Probe, op uint32, param uint32) uint32 {
	logger.Debugf("semihosting op %#x param %08x", op, param)

	switch op {
	case sysOpen:
		return sh.doOpen(probe, param)
	case sysClose:
		return sh.doClose(probe, param)
	case sysWritec:
		return sh.doWritec(probe, param)
	case sysWrite0:
		return sh.doWrite0(probe, param)
	case sysWrite:
		return sh.doWrite(probe, param)
	case sysRead:
		return sh.doRead(probe, param)
	case sysIstty:
		return sh.doIstty(probe, param)
	case sysSeek:
		return sh.doSeek(probe, param)
	case sysFlen:
		return sh.doFlen(probe, param)
	case sysRemove:
		return sh.doRemove(probe, param)
	case sysRename:
		return sh.doRename(probe, param)
	case sysClock:
		return uint32(time.Since(sh.started) / (10 * time.Millisecond))
	case sysTime:
		return uint32(time.Now().Unix())
	case sysErrno:
		return sh.lastErrno
	case sysExit:
		logger.Infof("target requested exit (reason %#x)", param)
		return 0
	default:
		logger.Warnf("unsupported semihosting operation %#x", op)
		return semihostErrorResult
	}
}

func (sh *semihosting) doOpen(probe Probe, param uint32) uint32 {
	params, err := sh.readParams(probe, param, 3)
	if err != nil {
		return semihostErrorResult
	}

	namePtr, mode, nameLen := params[0], params[1], params[2]

	if mode >= uint32(len(semihostOpenFlags)) {
		return semihostErrorResult
	}

	nameBytes, err := readMemAligned(probe, namePtr, nameLen)
	if err != nil {
		return semihostErrorResult
	}

	name := string(nameBytes)

	handle := sh.nextHandle

	if name == ":tt" {
		// the magic console path: read modes attach stdin, write
		// modes stdout
		entry := &semihostFile{isConsole: true}

		if mode < 4 {
			entry.file = os.Stdin
		} else {
			entry.file = os.Stdout
		}

		sh.handles[handle] = entry
		sh.nextHandle++

		return handle
	}

	file, err := os.OpenFile(name, semihostOpenFlags[mode], 0644)
	if err != nil {
		logger.Debugf("semihosting open %q failed: %v", name, err)
		sh.saveErrno(err)
		return semihostErrorResult
	}

	sh.handles[handle] = &semihostFile{file: file}
	sh.nextHandle++

	return handle
}

func (sh *semihosting) doClose(probe Probe, param uint32) uint32 {
	params, err := sh.readParams(probe, param, 1)
	if err != nil {
		return semihostErrorResult
	}

	entry, ok := sh.handles[params[0]]
	if !ok {
		return semihostErrorResult
	}

	delete(sh.handles, params[0])

	if entry.isConsole {
		return 0
	}

	if err := entry.file.Close(); err != nil {
		sh.saveErrno(err)
		return semihostErrorResult
	}

	return 0
}

func (sh *semihosting) doWritec(probe Probe, param uint32) uint32 {
	// param is the address of the character, not a block
	data, err := readMemAligned(probe, param, 1)
	if err != nil {
		return semihostErrorResult
	}

	fmt.Fprintf(os.Stdout, "%c", data[0])

	return 0
}

func (sh *semihosting) doWrite0(probe Probe, param uint32) uint32 {
	// NUL terminated string at param, read in small chunks
	addr := param

	for {
		chunk, err := readMemAligned(probe, addr, 16)
		if err != nil {
			return semihostErrorResult
		}

		for _, b := range chunk {
			if b == 0 {
				return 0
			}

			fmt.Fprintf(os.Stdout, "%c", b)
		}

		addr += uint32(len(chunk))
	}
}

func (sh *semihosting) doWrite(probe Probe, param uint32) uint32 {
	params, err := sh.readParams(probe, param, 3)
	if err != nil {
		return semihostErrorResult
	}

	handle, bufPtr, length := params[0], params[1], params[2]

	entry, ok := sh.handles[handle]
	if !ok {
		return length
	}

	data, err := readMemAligned(probe, bufPtr, length)
	if err != nil {
		return length
	}

	written, err := entry.file.Write(data)
	if err != nil {
		sh.saveErrno(err)
	}

	// the result is the count NOT written
	return length - uint32(written)
}

func (sh *semihosting) doRead(probe Probe, param uint32) uint32 {
	params, err := sh.readParams(probe, param, 3)
	if err != nil {
		return semihostErrorResult
	}

	handle, bufPtr, length := params[0], params[1], params[2]

	entry, ok := sh.handles[handle]
	if !ok {
		return length
	}

	data := make([]byte, length)
	n, err := entry.file.Read(data)

	if err != nil && err != io.EOF {
		sh.saveErrno(err)
		return length
	}

	if n > 0 {
		if err := sh.writeTargetMem(probe, bufPtr, data[:n]); err != nil {
			return length
		}
	}

	// the result is the count NOT read, length means EOF
	return length - uint32(n)
}

func (sh *semihosting) doIstty(probe Probe, param uint32) uint32 {
	params, err := sh.readParams(probe, param, 1)
	if err != nil {
		return semihostErrorResult
	}

	entry, ok := sh.handles[params[0]]
	if !ok {
		return semihostErrorResult
	}

	if entry.isConsole {
		return 1
	}

	return 0
}

func (sh *semihosting) doSeek(probe Probe, param uint32) uint32 {
	params, err := sh.readParams(probe, param, 2)
	if err != nil {
		return semihostErrorResult
	}

	entry, ok := sh.handles[params[0]]
	if !ok || entry.isConsole {
		return semihostErrorResult
	}

	if _, err := entry.file.Seek(int64(params[1]), io.SeekStart); err != nil {
		sh.saveErrno(err)
		return semihostErrorResult
	}

	return 0
}

func (sh *semihosting) doFlen(probe Probe, param uint32) uint32 {
	params, err := sh.readParams(probe, param, 1)
	if err != nil {
		return semihostErrorResult
	}

	entry, ok := sh.handles[params[0]]
	if !ok || entry.isConsole {
		return semihostErrorResult
	}

	info, err := entry.file.Stat()
	if err != nil {
		sh.saveErrno(err)
		return semihostErrorResult
	}

	return uint32(info.Size())
}

func (sh *semihosting) doRemove(probe Probe, param uint32) uint32 {
	params, err := sh.readParams(probe, param, 2)
	if err != nil {
		return semihostErrorResult
	}

	nameBytes, err := readMemAligned(probe, params[0], params[1])
	if err != nil {
		return semihostErrorResult
	}

	if err := os.Remove(string(nameBytes)); err != nil {
		sh.saveErrno(err)
		return semihostErrorResult
	}

	return 0
}

func (sh *semihosting) doRename(probe Probe, param uint32) uint32 {
	params, err := sh.readParams(probe, param, 4)
	if err != nil {
		return semihostErrorResult
	}

	oldBytes, err := readMemAligned(probe, params[0], params[1])
	if err != nil {
		return semihostErrorResult
	}

	newBytes, err := readMemAligned(probe, params[2], params[3])
	if err != nil {
		return semihostErrorResult
	}

	if err := os.Rename(string(oldBytes), string(newBytes)); err != nil {
		sh.saveErrno(err)
		return semihostErrorResult
	}

	return 0
}
