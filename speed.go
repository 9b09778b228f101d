// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gostutil

import (
	"errors"
	"fmt"
	"math"
)

/* SWD clock speed */
type speedMap struct {
	speed        int
	speedDivisor int
}

var swdKHzToSpeedMap = [...]speedMap{
	{4000, 0},
	{1800, 1}, /* default */
	{1200, 2},
	{950, 3},
	{480, 7},
	{240, 15},
	{125, 31},
	{100, 40},
	{50, 79},
	{25, 158},
	{15, 265},
	{5, 798},
}

func (h *StLink) SetSpeed(khz uint32, query bool) (uint32, error) {

	switch h.stMode {
	case StLinkModeDebugSwd:
		if h.version.jtagApi == jTagApiV3 {
			speed, err := h.setSpeedV3(false, int(khz), query)
			return uint32(speed), err
		} else {
			speed, err := h.setSpeedSwd(int(khz), query)
			return uint32(speed), err
		}

	default:
		return khz, errors.New("requested ST-Link mode not supported yet")
	}
}

func (h *StLink) setSpeedV3(isJtag bool, khz int, query bool) (int, error) {

	var smap = make([]speedMap, v3MaxFreqNb)

	h.usbGetComFreq(isJtag, &smap)

	speedIndex, err := matchSpeedMap(smap, khz, query)

	if err != nil {
		return khz, err
	}

	if !query {
		err := h.usbSetComFreq(isJtag, smap[speedIndex].speed)

		if err != nil {
			return khz, err
		}
	}

	return smap[speedIndex].speed, nil
}

func (h *StLink) setSpeedSwd(khz int, query bool) (int, error) {

	/* old firmware cannot change it */
	if !h.version.flags.Get(flagHasSwdSetFreq) {
		return khz, errors.New("cannot change speed on old firmware")
	}

	speedIndex, err := matchSpeedMap(swdKHzToSpeedMap[:], khz, query)

	if err != nil {
		return khz, err
	}

	if !query {
		err := h.usbSetSwdClk(uint16(swdKHzToSpeedMap[speedIndex].speedDivisor))

		if err != nil {
			return khz, errors.New("unable to set adapter speed")
		}
	}

	return swdKHzToSpeedMap[speedIndex].speed, nil
}

func (h *StLink) usbSetSwdClk(clkDivisor uint16) error {

	if !h.version.flags.Get(flagHasSwdSetFreq) {
		return errors.New("cannot change speed on this firmware")
	}

	ctx := h.initTransfer(transferIncoming)

	ctx.cmdBuf.WriteByte(cmdDebug)
	ctx.cmdBuf.WriteByte(debugApiV2SwdSetFreq)
	ctx.cmdBuf.WriteUint16LE(clkDivisor)

	return h.usbCmdAllowRetry(ctx, 2)
}

func (h *StLink) usbGetComFreq(isJtag bool, smap *[]speedMap) error {

	if h.version.jtagApi != jTagApiV3 {
		return errors.New("unknown command")
	}

	ctx := h.initTransfer(transferIncoming)

	ctx.cmdBuf.WriteByte(cmdDebug)
	ctx.cmdBuf.WriteByte(debugApiV3GetComFreq)

	if isJtag {
		ctx.cmdBuf.WriteByte(1)
	} else {
		ctx.cmdBuf.WriteByte(0)
	}

	err := h.usbTransferErrCheck(ctx, 52)

	var size int = int(ctx.DataBytes()[8])

	if size > v3MaxFreqNb {
		size = v3MaxFreqNb
	}

	for i := 0; i < size; i++ {
		(*smap)[i].speed = int(le_to_h_u32(ctx.DataBytes()[12+4*i:]))
		(*smap)[i].speedDivisor = i
	}

	// set to zero all the next entries
	for i := size; i < v3MaxFreqNb; i++ {
		(*smap)[i].speed = 0
	}

	return err
}

func (h *StLink) usbSetComFreq(isJtag bool, frequency int) error {

	if h.version.jtagApi != jTagApiV3 {
		return errors.New("unknown command")
	}

	ctx := h.initTransfer(transferIncoming)

	ctx.cmdBuf.WriteByte(cmdDebug)
	ctx.cmdBuf.WriteByte(debugApiV3SetComFreq)

	if isJtag {
		ctx.cmdBuf.WriteByte(1)
	} else {
		ctx.cmdBuf.WriteByte(0)
	}

	ctx.cmdBuf.WriteByte(0)
	ctx.cmdBuf.WriteUint32LE(uint32(frequency))

	return h.usbTransferErrCheck(ctx, 8)
}

func matchSpeedMap(smap []speedMap, khz int, query bool) (int, error) {
	var lastValidSpeed int = -1
	var speedIndex = -1
	var speedDiff = math.MaxInt32
	var match bool = true

	for i, s := range smap {
		if s.speed == 0 {
			continue
		}

		lastValidSpeed = i
		if khz == s.speed {
			speedIndex = i
			break
		} else {
			var currentDiff = khz - s.speed

			//get abs value for comparison
			if currentDiff <= 0 {
				currentDiff = -currentDiff
			}

			if (currentDiff < speedDiff) && khz >= s.speed {
				speedDiff = currentDiff
				speedIndex = i
			}
		}
	}

	if speedIndex == -1 {
		// this will only be here if we cannot match the slow speed.
		// use the slowest speed we support.
		speedIndex = lastValidSpeed
		match = false
	}

	if !match && query {
		return -1, errors.New(fmt.Sprintf("unable to match requested speed %d kHz, using %d kHz",
			khz, smap[speedIndex].speed))
	}

	return speedIndex, nil
}
