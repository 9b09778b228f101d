// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gostutil

import (
	"fmt"
)

const dataWatchNum = 4

type watchFun uint32

const (
	watchDisabled watchFun = 0
	watchRead     watchFun = 5
	watchWrite    watchFun = 6
	watchAccess   watchFun = 7
)

type dataWatchpoint struct {
	addr uint32
	mask uint8
	fun  watchFun
}

// watchpointTable owns the four DWT comparators. A slot is free iff
// its function is disabled, which matches a zeroed DWT_FUNCTION
// register on the target.
type watchpointTable struct {
	probe Probe

	slots [dataWatchNum]dataWatchpoint
}

func newWatchpointTable(probe Probe) *watchpointTable {
	return &watchpointTable{probe: probe}
}

func dwtCompReg(i int) uint32 {
	return regDwtComp0 + uint32(i)*dwtUnitStride
}

func dwtMaskReg(i int) uint32 {
	return regDwtMask0 + uint32(i)*dwtUnitStride
}

func dwtFunctionReg(i int) uint32 {
	return regDwtFunction0 + uint32(i)*dwtUnitStride
}

func (wt *watchpointTable) init() error {
	logger.Debug("init watchpoints")

	// set TRCENA in debug command to turn on DWT unit
	demcr, err := wt.probe.ReadDebug32(regDemcr)
	if err != nil {
		return err
	}

	err = wt.probe.WriteDebug32(regDemcr, demcr|demcrTrcEna)
	if err != nil {
		return err
	}

	// make sure all watchpoints are cleared
	for i := 0; i < dataWatchNum; i++ {
		wt.slots[i] = dataWatchpoint{fun: watchDisabled}

		err = wt.probe.WriteDebug32(dwtFunctionReg(i), 0)
		if err != nil {
			return err
		}
	}

	return nil
}

// add arms the first free comparator for a watch of len bytes at
// addr. The comparator ignores the low mask bits of the address, so
// len is rounded up to the next power of two.
func (wt *watchpointTable) add(fun watchFun, addr uint32, length uint32) error {
	if length == 0 {
		return fmt.Errorf("zero length watchpoint at %08x", addr)
	}

	mask := ceilLog2(length)

	if mask >= 16 {
		return fmt.Errorf("watchpoint length %d too large", length)
	}

	for i := 0; i < dataWatchNum; i++ {
		if wt.slots[i].fun != watchDisabled {
			continue
		}

		logger.Debugf("insert watchpoint %d addr %x wf %d mask %d len %d", i, addr, fun, mask, length)

		wt.slots[i].fun = fun
		wt.slots[i].addr = addr
		wt.slots[i].mask = uint8(mask)

		// insert comparator address
		if err := wt.probe.WriteDebug32(dwtCompReg(i), addr); err != nil {
			return err
		}

		// insert mask
		if err := wt.probe.WriteDebug32(dwtMaskReg(i), mask); err != nil {
			return err
		}

		// insert function
		if err := wt.probe.WriteDebug32(dwtFunctionReg(i), uint32(fun)); err != nil {
			return err
		}

		// just to make sure the matched bit is clear !
		_, err := wt.probe.ReadDebug32(dwtFunctionReg(i))

		return err
	}

	logger.Debugf("failure: add watchpoints addr %x wf %d len %d", addr, fun, length)

	return fmt.Errorf("no free watchpoint slot for %08x", addr)
}

func (wt *watchpointTable) remove(addr uint32) error {
	for i := 0; i < dataWatchNum; i++ {
		if wt.slots[i].addr == addr && wt.slots[i].fun != watchDisabled {
			logger.Debugf("delete watchpoint %d addr %x", i, addr)

			wt.slots[i].fun = watchDisabled

			return wt.probe.WriteDebug32(dwtFunctionReg(i), 0)
		}
	}

	logger.Debugf("failure: delete watchpoint addr %x", addr)

	return fmt.Errorf("no watchpoint at %08x", addr)
}
