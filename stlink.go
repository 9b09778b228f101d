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
	"github.com/google/gousb"
)

const AllSupportedVIds = 0xFFFF
const AllSupportedPIds = 0xFFFF

var stLinkSupportedVIds = []gousb.ID{0x0483} // STLINK Vendor ID
var stLinkSupportedPIds = []gousb.ID{0x3744, 0x3748, 0x374b, 0x374d, 0x374e, 0x374f, 0x3752, 0x3753}

type stLinkVersion struct {
	stlink int
	jtag   int
	swim   int

	/** jtag api version supported */
	jtagApi stLinkApiVersion

	/** one bit for each feature supported, see the flagHas* indices */
	flags bitmap.Bitmap
}

/** StLink is the usb handle to one attached ST-Link debug probe and,
  through it, the target soldered behind the probe. It implements the
  Probe interface consumed by the gdb session engine. */
type StLink struct {
	usbDevice    *gousb.Device
	usbConfig    *gousb.Config
	usbInterface *gousb.Interface

	rxEndpoint *gousb.InEndpoint
	txEndpoint *gousb.OutEndpoint

	stMode  StLinkMode
	version stLinkVersion

	vid gousb.ID
	pid gousb.ID

	maxMemPacket uint32

	/** reconnect is needed next time we try to query the status */
	reconnectPending bool

	connectMode ConnectMode
	initialSpeed uint32
	serial       string

	chipId uint32
	coreId uint32
	chip   *stm32Chip

	flashBase uint32
	flashSize uint32
	sramSize  uint32
	sysBase   uint32
	sysSize   uint32
}

type StLinkInterfaceConfig struct {
	vid               gousb.ID
	pid               gousb.ID
	mode              StLinkMode
	serial            string
	initialSpeed      uint32
	connectMode       ConnectMode
}

func NewStLinkConfig(vid gousb.ID, pid gousb.ID, mode StLinkMode,
	serial string, initialSpeed uint32, connectMode ConnectMode) *StLinkInterfaceConfig {

	config := &StLinkInterfaceConfig{
		vid:          vid,
		pid:          pid,
		mode:         mode,
		serial:       serial,
		initialSpeed: initialSpeed,
		connectMode:  connectMode,
	}

	return config
}

func NewStLink(config *StLinkInterfaceConfig) (*StLink, error) {
	var err error
	var devices []*gousb.Device

	handle := &StLink{}
	handle.stMode = config.mode
	handle.connectMode = config.connectMode
	handle.initialSpeed = config.initialSpeed
	handle.serial = config.serial
	handle.version.flags = bitmap.New(32)

	if config.vid == AllSupportedVIds && config.pid == AllSupportedPIds {
		devices, err = usbFindDevices(stLinkSupportedVIds, stLinkSupportedPIds)

	} else if config.vid == AllSupportedVIds && config.pid != AllSupportedPIds {
		devices, err = usbFindDevices(stLinkSupportedVIds, []gousb.ID{config.pid})

	} else if config.vid != AllSupportedVIds && config.pid == AllSupportedPIds {
		devices, err = usbFindDevices([]gousb.ID{config.vid}, stLinkSupportedPIds)

	} else {
		devices, err = usbFindDevices([]gousb.ID{config.vid}, []gousb.ID{config.pid})
	}

	if err != nil {
		return nil, err
	}

	if len(devices) == 0 {
		return nil, errors.New("could not find any ST-Link connected to computer")
	}

	if config.serial == "" && len(devices) > 1 {
		return nil, errors.New("could not identify exact stlink by given parameters. (Perhaps a serial no is missing?)")
	} else if len(devices) == 1 && config.serial == "" {
		handle.usbDevice = devices[0]
	} else {
		for _, dev := range devices {
			devSerialNo, _ := dev.SerialNumber()

			logger.Debugf("Compare serial no %s with number %s", devSerialNo, config.serial)

			if devSerialNo == config.serial {
				handle.usbDevice = dev

				logger.Infof("Found st link with serial number %s", devSerialNo)
			}
		}
	}

	if handle.usbDevice == nil {
		return nil, errors.New("could not find ST-Link by given parameters")
	}

	handle.usbConfig, err = handle.usbDevice.Config(1)
	if err != nil {
		logger.Debug(err)
		return nil, errors.New("could not request configuration #1 for st-link debugger")
	}

	handle.usbInterface, err = handle.usbConfig.Interface(0, 0)
	if err != nil {
		logger.Debug(err)
		return nil, errors.New("could not claim interface 0,0 for st-link debugger")
	}

	// Endpoint for rx is on all st links the same
	handle.rxEndpoint, err = handle.usbInterface.InEndpoint(usbRxEndpointNo)
	if err != nil {
		return nil, err
	}

	txEndpointNo := usbTxEndpointNo

	switch handle.usbDevice.Desc.Product {
	case stLinkV1Pid:
		handle.version.stlink = 1

	case stLinkV3UsbLoaderPid, stLinkV3EPid, stLinkV3SPid, stLinkV32VcpPid:
		handle.version.stlink = 3
		txEndpointNo = usbTxEndpointApi2v1

	case stLinkV21Pid, stLinkV21NoMsdPid:
		handle.version.stlink = 2
		txEndpointNo = usbTxEndpointApi2v1

	default:
		logger.Infof("Could not determine pid of debugger %04x. Assuming Link V2", uint16(handle.usbDevice.Desc.Product))
		handle.version.stlink = 2
	}

	handle.txEndpoint, err = handle.usbInterface.OutEndpoint(txEndpointNo)
	if err != nil {
		return nil, err
	}

	err = handle.usbParseVersion()

	if err != nil {
		return nil, err
	}

	if handle.version.stlink == 1 {
		return nil, errors.New("ST-Link V1 is not supported, please upgrade the probe firmware")
	}

	switch handle.stMode {
	case StLinkModeDebugSwd:
		if handle.version.jtagApi == jTagApiV1 {
			return nil, errors.New("SWD not supported by jtag api v1")
		}
	case StLinkModeDebugJtag:
		if handle.version.jtag == 0 {
			return nil, errors.New("JTAG transport not supported by stlink")
		}
	case StLinkModeDebugSwim:
		if handle.version.swim == 0 {
			return nil, errors.New("swim transport not supported by device")
		}

	default:
		return nil, errors.New("unknown ST-Link mode")
	}

	err = handle.usbInitMode(config.connectMode == ConnectUnderReset, config.initialSpeed)

	if err != nil {
		return nil, err
	}

	handle.maxMemPacket = 1 << 10

	err = handle.usbInitAccessPort(0)

	if err != nil {
		return nil, err
	}

	buffer, errCode := handle.ReadMem32(cpuIdBaseRegister, 4)

	if errCode == nil {
		var cpuid uint32 = le_to_h_u32(buffer)
		var i uint32 = (cpuid >> 4) & 0xf

		if i == 4 || i == 3 {
			/* Cortex-M3/M4 has 4096 bytes autoincrement range */
			logger.Debug("Set mem packet layout according to Cortex M3/M4")
			handle.maxMemPacket = 1 << 12
		}
	}

	logger.Debugf("Using TAR autoincrement: %d", handle.maxMemPacket)

	err = handle.initTargetGeometry()

	if err != nil {
		return nil, err
	}

	return handle, nil
}

func (h *StLink) Close() {
	if h.usbDevice != nil {
		logger.Debugf("Close ST-Link device [%04x:%04x]", uint16(h.vid), uint16(h.pid))

		h.usbInterface.Close()
		h.usbConfig.Close()
		h.usbDevice.Close()
		h.usbDevice = nil
	}
}

func (h *StLink) GetTargetVoltage() (float32, error) {
	var adcResults [2]uint32

	/* no error message, simply quit with error */
	if !h.version.flags.Get(flagHasTargetVolt) {
		return -1.0, errors.New("device does not support voltage measurement")
	}

	ctx := h.initTransfer(transferIncoming)

	ctx.cmdBuf.WriteByte(cmdGetTargetVoltage)

	err := h.usbTransferNoErrCheck(ctx, 8)

	if err != nil {
		return -1.0, err
	}

	/* convert result */
	adcResults[0] = le_to_h_u32(ctx.DataBytes())
	adcResults[1] = le_to_h_u32(ctx.DataBytes()[4:])

	var targetVoltage float32 = 0.0

	if adcResults[0] > 0 {
		targetVoltage = 2 * (float32(adcResults[1]) * (1.2 / float32(adcResults[0])))
	}

	logger.Infof("Target voltage: %f", targetVoltage)

	return targetVoltage, nil
}

func (h *StLink) GetIdCode() (uint32, error) {
	var offset int
	var retVal error

	if h.stMode == StLinkModeDebugSwim {
		return 0, nil
	}

	ctx := h.initTransfer(transferIncoming)

	ctx.cmdBuf.WriteByte(cmdDebug)

	if h.version.jtagApi == jTagApiV1 {
		ctx.cmdBuf.WriteByte(debugReadCoreId)

		retVal = h.usbTransferNoErrCheck(ctx, 4)
		offset = 0
	} else {
		ctx.cmdBuf.WriteByte(debugApiV2ReadIdCodes)

		retVal = h.usbTransferErrCheck(ctx, 12)
		offset = 4
	}

	if retVal != nil {
		return 0, retVal
	}

	return le_to_h_u32(ctx.DataBytes()[offset:]), nil
}

// initTargetGeometry identifies the connected target and derives the
// flash/ram layout the gdb session advertises.
func (h *StLink) initTargetGeometry() error {
	coreId, err := h.GetIdCode()
	if err != nil {
		return err
	}

	h.coreId = coreId

	chipId, err := h.readChipId()
	if err != nil {
		return err
	}

	h.chipId = chipId
	h.chip = lookupChip(chipId)

	if h.chip == nil {
		logger.Warnf("unknown chip id %#010x, using conservative defaults", chipId)
		h.chip = &defaultChip
	}

	h.flashBase = flashBaseAddress
	h.sramSize = h.chip.sramSize
	h.sysBase = h.chip.sysBase
	h.sysSize = h.chip.sysSize

	h.flashSize = h.readFlashSize()

	logger.Infof("Chip ID is %#010x, Core ID is %#010x (%s)", h.chipId, h.coreId, h.chip.description)
	logger.Infof("Flash: %d KiB, SRAM: %d KiB", h.flashSize/1024, h.sramSize/1024)

	return nil
}

// readChipId samples the DBGMCU idcode register, falling back to the
// F0 location when the classic one reads zero.
func (h *StLink) readChipId() (uint32, error) {
	value, err := h.ReadDebug32(regDbgMcuIdCode)
	if err != nil {
		return 0, err
	}

	if value == 0 {
		value, err = h.ReadDebug32(regDbgMcuIdCodeF0)
		if err != nil {
			return 0, err
		}
	}

	return value & 0xFFF, nil
}

// readFlashSize reads the device flash size register (KB granularity),
// falling back to the chip table default when the read fails or the
// device reports nonsense.
func (h *StLink) readFlashSize() uint32 {
	value, err := h.ReadDebug32(h.chip.flashSizeReg &^ 3)
	if err != nil {
		logger.Warn("could not read flash size register: ", err)
		return h.chip.defaultFlashSize
	}

	if (h.chip.flashSizeReg & 2) != 0 {
		value >>= 16
	}
	value &= 0xFFFF

	if value == 0 || value == 0xFFFF {
		return h.chip.defaultFlashSize
	}

	return value * 1024
}

func (h *StLink) ChipId() uint32 {
	return h.chipId
}

func (h *StLink) CoreId() uint32 {
	return h.coreId
}

func (h *StLink) FlashBase() uint32 {
	return h.flashBase
}

func (h *StLink) FlashSize() uint32 {
	return h.flashSize
}

func (h *StLink) SramSize() uint32 {
	return h.sramSize
}

func (h *StLink) SysBase() uint32 {
	return h.sysBase
}

func (h *StLink) SysSize() uint32 {
	return h.sysSize
}

func (h *StLink) ErasedPattern() byte {
	return h.chip.erasedPattern
}
