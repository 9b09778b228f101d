// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// this code is mainly inspired and based on the openocd project source code
// for detailed information see

// https://sourceforge.net/p/openocd/code
package gostutil

import (
	"errors"

	"github.com/boljen/go-bitmap"
)

var openedAp = bitmap.New(debugAccessPortSelectionMaximum + 1)

func (h *StLink) usbOpenAp(apsel uint16) error {

	/* nothing to do on old versions */
	if !h.version.flags.Get(flagHasApInit) {
		return nil
	}

	if apsel > debugAccessPortSelectionMaximum {
		return errors.New("apsel > DP_APSEL_MAX")
	}

	if openedAp.Get(int(apsel)) {
		return nil
	}

	err := h.usbInitAccessPort(byte(apsel))

	if err != nil {
		return err
	}

	logger.Debugf("AP %d enabled", apsel)
	openedAp.Set(int(apsel), true)
	return nil
}

func (h *StLink) usbInitAccessPort(apNum byte) error {
	if !h.version.flags.Get(flagHasApInit) {
		return nil
	}

	logger.Debugf("init ap_num = %d", apNum)

	ctx := h.initTransfer(transferIncoming)

	ctx.cmdBuf.WriteByte(cmdDebug)
	ctx.cmdBuf.WriteByte(debugApiV2InitAccessPort)
	ctx.cmdBuf.WriteByte(apNum)

	err := h.usbTransferErrCheck(ctx, 2)

	if err != nil {
		return errors.New("could not init accessport on device")
	}

	return nil
}
