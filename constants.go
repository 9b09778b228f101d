// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// this code is mainly inspired and based on the openocd project source code
// for detailed information see

// https://sourceforge.net/p/openocd/code

package gostutil

type StLinkMode uint8 // stlink debug modes

const (
	StLinkModeUnknown   StLinkMode = 0
	StLinkModeDfu                  = 1
	StLinkModeMass                 = 2
	StLinkModeDebugJtag            = 3
	StLinkModeDebugSwd             = 4
	StLinkModeDebugSwim            = 5
)

// StLink property flags
const (
	flagHasTrace            = 0
	flagHasTargetVolt       = flagHasTrace
	flagHasSwdSetFreq       = 1
	flagHasJtagSetFreq      = 2
	flagHasMem16Bit         = 3
	flagHasGetLastRwStatus2 = 4
	flagHasDapReg           = 5
	flagQuirkJtagDpRead     = 6
	flagHasApInit           = 7
	flagHasDpBankSel        = 8
	flagHasRw8Bytes512      = 9
	flagFixCloseAp          = 10
)

type stLinkApiVersion uint8 // api versions of stlinks

const (
	jTagApiV1 stLinkApiVersion = 1
	jTagApiV2                  = 2
	jTagApiV3                  = 3
)

// usb endpoint definitions
const (
	usbWriteTimeoutMs = 1000
	usbReadTimeoutMs  = 1000

	usbRxEndpointNo    = 1
	usbTxEndpointNo    = 2
	usbTraceEndpointNo = 3

	usbTxEndpointApi2v1    = 1
	usbTraceEndpointApi2v1 = 2
)

// stlink internal device mode numbers
const (
	deviceModeDFU        = 0x00
	deviceModeMass       = 0x01
	deviceModeDebug      = 0x02
	deviceModeSwim       = 0x03
	deviceModeBootloader = 0x04
	deviceModeUnknown    = -1
)

type usbTransferEndpoint uint8

const (
	transferIncoming usbTransferEndpoint = 0
	transferOutgoing                     = 1
)

const (
	swimErrorOk     = 0x00
	swimErrorBusy   = 0x01
	debugErrorOk    = 0x80
	debugErrorFault = 0x81

	jTagGetIdCodeError   = 0x09
	jTagWriteError       = 0x0c
	jTagWriteVerifyError = 0x0d

	swdAccessPortWait            = 0x10
	swdAccessPortFault           = 0x11
	swdAccessPortError           = 0x12
	swdAccessPortParityError     = 0x13
	swdDebugPortWait             = 0x14
	swdDebugPortFault            = 0x15
	swdDebugPortError            = 0x16
	swdDebugPortParityError      = 0x17
	swdAccessPortWDataError      = 0x18
	swdAccessPortStickyError     = 0x19
	swdAccessPortStickOrRunError = 0x1a
	badAccessPortError           = 0x1d
)

// states of the core behind the stlink
const (
	debugCoreRunning       = 0x80
	debugCoreHalted        = 0x81
	debugCoreStatusUnknown = -1
)

const (
	stLinkV1Pid          = 0x3744
	stLinkV2Pid          = 0x3748
	stLinkV21Pid         = 0x374B
	stLinkV21NoMsdPid    = 0x3752
	stLinkV3UsbLoaderPid = 0x374D
	stLinkV3EPid         = 0x374E
	stLinkV3SPid         = 0x374F
	stLinkV32VcpPid      = 0x3753
)

const (
	cmdRequestSense     = 0x03
	cmdGetVersion       = 0xF1
	cmdDebug            = 0xF2
	cmdDfu              = 0xF3
	cmdSwim             = 0xF4
	cmdGetCurrentMode   = 0xF5
	cmdGetTargetVoltage = 0xF7
)

const (
	debugGetStatus     = 0x01
	debugForceDebug    = 0x02
	debugReadMem32Bit  = 0x07
	debugWriteMem32Bit = 0x08
	debugRunCore       = 0x09
	debugStepCore      = 0x0a
	debugReadMem8Bit   = 0x0c
	debugWriteMem8Bit  = 0x0d

	debugEnterSwdNoReset  = 0xa3
	debugEnterJTagNoReset = 0xa4
	debugApiV1Enter       = 0x20
	debugExit             = 0x21
	debugReadCoreId       = 0x22

	debugApiV2Enter         = 0x30
	debugApiV2ReadIdCodes   = 0x31
	debugApiV2ResetSys      = 0x32
	debugApiV2ReadReg       = 0x33
	debugApiV2WriteReg      = 0x34
	debugApiV2WriteDebugReg = 0x35
	debugApiV2ReadDebugReg  = 0x36
	debugApiV2ReadAllRegs   = 0x3A

	debugApiV2GetLastRWStatus              = 0x3B
	debugApiV2DriveNrst                    = 0x3C
	debugApiV2GetLastRWStatus2             = 0x3E
	debugApiV2StartTraceRx                 = 0x40
	debugApiV2StopTraceRx                  = 0x41
	debugApiV2GetTraceNB                   = 0x42
	debugApiV2SwdSetFreq                   = 0x43
	debugApiV2JTagSetFreq                  = 0x44
	debugApiV2ReadMem16Bit                 = 0x47
	debugApiV2WriteMem16Bit                = 0x48
	debugApiV2InitAccessPort               = 0x4B
	debugApiV2CloseAccessPortDbg           = 0x4C

	debugApiV3SetComFreq   = 0x61
	debugApiV3GetComFreq   = 0x62
	debugApiV3GetVersionEx = 0xFB
)

const (
	debugApiV2DriveNrstLow   = 0x00
	debugApiV2DriveNrstHigh  = 0x01
	debugApiV2DriveNrstPulse = 0x02
)

const (
	dfuExit = 0x07
)

const (
	swimEnter = 0x00
	swimExit  = 0x01
)

const (
	requestSenseLength = 18
)

const (
	maximumWaitRetries              = 8
	debugAccessPortSelectionMaximum = 255

	maxReadWrite8   = 64
	v3MaxReadWrite8 = 512
	v3MaxFreqNb     = 10

	cmdBufferSize  = 31
	dataBufferSize = 4096
	cmdSizeV2      = 16

	traceMaxHz = 2000000
)

// Cortex-M system control and debug registers, reachable as plain
// 32-bit bus addresses through the debug access port.
const (
	regCpuId = 0xE000ED00
	regAircr = 0xE000ED0C
	regDhcsr = 0xE000EDF0
	regDcrsr = 0xE000EDF4
	regDcrdr = 0xE000EDF8
	regDemcr = 0xE000EDFC

	dhcsrDbgKey    = 0xA05F0000
	dhcsrCDebugEn  = 1 << 0
	dhcsrCHalt     = 1 << 1
	dhcsrCStep     = 1 << 2
	dhcsrSRegReady = 1 << 16
	dhcsrSHalt     = 1 << 17

	aircrVectKey      = 0x05FA0000
	aircrSysResetReq  = 1 << 2
	aircrVectReset    = 1 << 0
	aircrVectClrActive = 1 << 1

	dcrsrWriteNotRead = 1 << 16

	demcrTrcEna       = 1 << 24
	demcrVcCoreReset  = 1 << 0
)

// Flash patch and breakpoint unit (DDI0403E, C1.11)
const (
	regFpCtrl  = 0xE0002000
	regFpRemap = 0xE0002004
	regFpComp0 = 0xE0002008

	fpCtrlKey    = 1 << 1
	fpCtrlEnable = 1 << 0

	// Cortex-M7 guards the FP_* block with a lock access register
	// (IHI0029D, p. 48)
	regCm7FpLar  = 0xE0000FB0
	cm7FpLarKey  = 0xC5ACCE55
)

// Data watchpoint and trace unit
const (
	regDwtComp0     = 0xE0001020
	regDwtMask0     = 0xE0001024
	regDwtFunction0 = 0xE0001028
	dwtUnitStride   = 0x10
)

// Cortex-M7 cache identification and maintenance
const (
	regCm7Ccr     = 0xE000ED14
	regCm7Clidr   = 0xE000ED78
	regCm7Ctr     = 0xE000ED7C
	regCm7Ccsidr  = 0xE000ED80
	regCm7Csselr  = 0xE000ED84
	regCm7Iciallu = 0xE000EF50
	regCm7Dccsw   = 0xE000EF6C

	cm7CcrDc = 1 << 16
	cm7CcrIc = 1 << 17
)

// Core register file indices used by the stlink read/write register
// commands. GDB-side register numbers are mapped onto these in the
// session engine.
const (
	stRegXpsr      = 16
	stRegMainSp    = 17
	stRegProcessSp = 18
	stRegRw        = 19
	stRegRw2       = 20
)

const cpuIdBaseRegister = regCpuId
