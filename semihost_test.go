// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gostutil

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

const paramBlock = 0x20000100

func newTestSemihosting(probe *mockProbe) *semihosting {
	cache := newCacheTracker(probe)
	cache.init()

	return newSemihosting(cache)
}

// stageParams lays a parameter block into mock target ram.
func stageParams(probe *mockProbe, addr uint32, params ...uint32) {
	for i, p := range params {
		var word [4]byte
		word[0] = byte(p)
		word[1] = byte(p >> 8)
		word[2] = byte(p >> 16)
		word[3] = byte(p >> 24)
		probe.setMem(addr+uint32(i)*4, word[:])
	}
}

func stageString(probe *mockProbe, addr uint32, s string) {
	probe.setMem(addr, []byte(s))
}

func TestSemihostingFileRoundTrip(t *testing.T) {
	probe := newMockProbe()
	sh := newTestSemihosting(probe)

	path := filepath.Join(t.TempDir(), "out.bin")

	const namePtr = 0x20000200
	stageString(probe, namePtr, path)

	// open for writing (mode 4 = "w")
	stageParams(probe, paramBlock, namePtr, 4, uint32(len(path)))
	handle := sh.call(probe, sysOpen, paramBlock)

	if handle == semihostErrorResult || handle == 0 {
		t.Fatalf("open returned %#x", handle)
	}

	// write a payload staged in target ram
	payload := []byte("hello from the target")
	const bufPtr = 0x20000300
	probe.setMem(bufPtr, payload)

	stageParams(probe, paramBlock, handle, bufPtr, uint32(len(payload)))

	if result := sh.call(probe, sysWrite, paramBlock); result != 0 {
		t.Fatalf("write left %d bytes unwritten", result)
	}

	// flen sees the payload size
	stageParams(probe, paramBlock, handle)

	if result := sh.call(probe, sysFlen, paramBlock); result != uint32(len(payload)) {
		t.Errorf("flen = %d, want %d", result, len(payload))
	}

	stageParams(probe, paramBlock, handle)

	if result := sh.call(probe, sysClose, paramBlock); result != 0 {
		t.Fatalf("close failed: %#x", result)
	}

	written, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}

	if !bytes.Equal(written, payload) {
		t.Errorf("file content = %q, want %q", written, payload)
	}
}

func TestSemihostingReadMarksCache(t *testing.T) {
	probe := newMockProbe()
	seedCm7Cache(probe)

	sh := newTestSemihosting(probe)

	path := filepath.Join(t.TempDir(), "in.bin")
	if err := os.WriteFile(path, []byte("data for the target"), 0644); err != nil {
		t.Fatal(err)
	}

	const namePtr = 0x20000200
	stageString(probe, namePtr, path)

	// mode 0 = "r"
	stageParams(probe, paramBlock, namePtr, 0, uint32(len(path)))
	handle := sh.call(probe, sysOpen, paramBlock)

	if handle == semihostErrorResult {
		t.Fatal("open failed")
	}

	const bufPtr = 0x20000400
	stageParams(probe, paramBlock, handle, bufPtr, 19)

	if result := sh.call(probe, sysRead, paramBlock); result != 0 {
		t.Fatalf("read left %d bytes unread", result)
	}

	if got := probe.readMem(bufPtr, 19); !bytes.Equal(got, []byte("data for the target")) {
		t.Errorf("target ram = %q", got)
	}

	// host wrote into target ram, the next resume must flush
	if !sh.cache.modified {
		t.Error("cache not marked dirty by semihosting read")
	}

	// eof: reading again leaves everything unread
	stageParams(probe, paramBlock, handle, bufPtr, 8)

	if result := sh.call(probe, sysRead, paramBlock); result != 8 {
		t.Errorf("read at eof = %d, want 8", result)
	}
}

func TestSemihostingConsole(t *testing.T) {
	probe := newMockProbe()
	sh := newTestSemihosting(probe)

	const namePtr = 0x20000200
	stageString(probe, namePtr, ":tt")

	stageParams(probe, paramBlock, namePtr, 4, 3)
	handle := sh.call(probe, sysOpen, paramBlock)

	if handle == semihostErrorResult {
		t.Fatal("console open failed")
	}

	stageParams(probe, paramBlock, handle)

	if result := sh.call(probe, sysIstty, paramBlock); result != 1 {
		t.Errorf("istty = %d, want 1", result)
	}

	// seek and flen are meaningless on the console
	stageParams(probe, paramBlock, handle, 0)

	if result := sh.call(probe, sysSeek, paramBlock); result != semihostErrorResult {
		t.Errorf("seek on console = %#x, want error", result)
	}
}

func TestSemihostingErrno(t *testing.T) {
	probe := newMockProbe()
	sh := newTestSemihosting(probe)

	const namePtr = 0x20000200
	missing := filepath.Join(t.TempDir(), "does", "not", "exist")
	stageString(probe, namePtr, missing)

	stageParams(probe, paramBlock, namePtr, 0, uint32(len(missing)))

	if result := sh.call(probe, sysOpen, paramBlock); result != semihostErrorResult {
		t.Fatalf("open of missing file = %#x", result)
	}

	if result := sh.call(probe, sysErrno, 0); result == 0 {
		t.Error("errno not recorded after failed open")
	}
}

func TestSemihostingUnknownOp(t *testing.T) {
	probe := newMockProbe()
	sh := newTestSemihosting(probe)

	if result := sh.call(probe, 0x42, 0); result != semihostErrorResult {
		t.Errorf("unknown op = %#x, want error result", result)
	}
}
