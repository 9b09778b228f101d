// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// this code is mainly inspired and based on the openocd project source code
// for detailed information see

// https://sourceforge.net/p/openocd/code

package gostutil

import (
	"errors"
	"time"
)

// transferCtx bundles the command frame and the data stage of one
// usb exchange with the stlink firmware.
type transferCtx struct {
	endpoint usbTransferEndpoint

	cmdBuf  *Buffer
	dataBuf *Buffer

	readSize uint32
}

func (h *StLink) initTransfer(endpoint usbTransferEndpoint) *transferCtx {
	ctx := &transferCtx{
		endpoint: endpoint,
		cmdBuf:   NewBuffer(cmdBufferSize),
		dataBuf:  NewBuffer(dataBufferSize),
	}

	return ctx
}

func (ctx *transferCtx) DataBytes() []byte {
	return ctx.dataBuf.Bytes()
}

// usbTransferNoErrCheck submits the command frame and runs the data
// stage. size is the expected amount of data bytes, read into the data
// buffer for incoming transfers and taken from it for outgoing ones.
func (h *StLink) usbTransferNoErrCheck(ctx *transferCtx, size uint32) error {
	cmd := make([]byte, cmdSizeV2)
	copy(cmd, ctx.cmdBuf.Bytes())

	_, err := usbWrite(h.txEndpoint, cmd)

	if err != nil {
		return err
	}

	if ctx.endpoint == transferOutgoing && size > 0 {
		time.Sleep(time.Millisecond * 10)

		_, err = usbWrite(h.txEndpoint, ctx.dataBuf.Bytes()[:size])

		if err != nil {
			return err
		}
	} else if ctx.endpoint == transferIncoming && size > 0 {
		data := make([]byte, size)

		_, err = usbRead(h.rxEndpoint, data)

		if err != nil {
			return err
		}

		ctx.dataBuf.Reset()
		ctx.dataBuf.Write(data)
		ctx.readSize = size
	}

	return nil
}

func (h *StLink) usbTransferErrCheck(ctx *transferCtx, size uint32) error {

	err := h.usbTransferNoErrCheck(ctx, size)

	if err != nil {
		return err
	}

	return h.usbErrorCheck(ctx)
}

/** Issue an STLINK command via USB transfer, with retries on any wait status responses.

  Works for commands where the STLINK_DEBUG status is returned in the first
  byte of the response packet.
*/
func (h *StLink) usbCmdAllowRetry(ctx *transferCtx, size uint32) error {
	var retries int = 0

	for {
		err := h.usbTransferNoErrCheck(ctx, size)
		if err != nil {
			return err
		}

		err = h.usbErrorCheck(ctx)

		if err != nil {
			usbErr, ok := err.(*usbError)

			if ok && usbErr.UsbErrorCode == usbErrorWait && retries < maximumWaitRetries {
				var delayUs time.Duration = (1 << retries) * 1000

				retries++
				logger.Debugf("cmdAllowRetry ERROR_WAIT, retry %d, delaying %d microseconds", retries, delayUs)
				time.Sleep(delayUs * 1000)

				continue
			}
		}

		return err
	}
}

// usbGetReadWriteStatus queries the result of the last memory access,
// the memory commands themselves do not report errors inline.
func (h *StLink) usbGetReadWriteStatus() error {

	if h.version.jtagApi == jTagApiV1 {
		return nil
	}

	ctx := h.initTransfer(transferIncoming)

	ctx.cmdBuf.WriteByte(cmdDebug)

	if h.version.flags.Get(flagHasGetLastRwStatus2) {
		ctx.cmdBuf.WriteByte(debugApiV2GetLastRWStatus2)

		return h.usbTransferErrCheck(ctx, 12)
	} else {
		ctx.cmdBuf.WriteByte(debugApiV2GetLastRWStatus)

		return h.usbTransferErrCheck(ctx, 2)
	}
}

func (h *StLink) usbAssertSrst(srst byte) error {

	if h.version.stlink == 1 {
		return errors.New("srst command not supported by st-link V1")
	}

	ctx := h.initTransfer(transferIncoming)

	ctx.cmdBuf.WriteByte(cmdDebug)
	ctx.cmdBuf.WriteByte(debugApiV2DriveNrst)
	ctx.cmdBuf.WriteByte(srst)

	return h.usbCmdAllowRetry(ctx, 2)
}
