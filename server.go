// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gostutil

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

const DefaultListenPort = 4242

// reads are capped at the flash page size and this ceiling, a
// conservative carry over from the reference server
const maxMemoryReadSize = 0x1800

const supportedReply = "PacketSize=3fff;qXfer:memory-map:read+;qXfer:features:read+"

// ErrProbeLost marks the probe vanishing while the session tried to
// reopen it. There is no recovery, the process should clean up and
// exit nonzero.
var ErrProbeLost = errors.New("debug probe disappeared during reopen")

// ServerConfig is the session setup handed over from the command
// line.
type ServerConfig struct {
	ListenPort  int
	Persistent  bool
	ConnectMode ConnectMode
	Semihosting bool
}

// ProbeOpener re-acquires the probe after a gdb kill request released
// it.
type ProbeOpener func() (Probe, error)

// Server runs one gdb client at a time against one probe. All mutable
// session state lives here, nothing is shared across sessions except
// the probe handle itself.
type Server struct {
	probe  Probe
	cfg    *ServerConfig
	reopen ProbeOpener

	breaks   *breakpointTable
	watches  *watchpointTable
	cache    *cacheTracker
	semihost *semihosting
	flash    flashStage

	memoryMap     string
	attached      bool
	semihostingOn bool
	criticalError bool

	lastChipId uint32
}

func NewServer(probe Probe, cfg *ServerConfig, reopen ProbeOpener) *Server {
	return &Server{
		probe:  probe,
		cfg:    cfg,
		reopen: reopen,
	}
}

// Probe returns the probe currently owned by the server. A kill
// request swaps it, callers keep their handle fresh through this.
func (s *Server) Probe() Probe {
	return s.probe
}

// initTarget brings the target under control and rebuilds every table
// whose hardware state is unknown. Runs at session start and after
// the probe was reopened.
func (s *Server) initTarget() error {
	s.breaks = newBreakpointTable(s.probe)
	s.watches = newWatchpointTable(s.probe)
	s.cache = newCacheTracker(s.probe)
	s.semihost = newSemihosting(s.cache)

	if err := s.breaks.init(); err != nil {
		return err
	}

	if err := s.watches.init(); err != nil {
		return err
	}

	return s.cache.init()
}

// Serve runs one accept/dispatch/teardown cycle. The listener is
// closed right after the accept, there is no multiplexing.
func (s *Server) Serve() error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.ListenPort))
	if err != nil {
		logger.Error("listen: ", err)
		return err
	}

	logger.Infof("Listening at *:%d...", s.cfg.ListenPort)

	client, err := listener.Accept()
	listener.Close()

	if err != nil {
		logger.Error("accept: ", err)
		return err
	}

	if s.lastChipId != 0 && s.probe.ChipId() != s.lastChipId {
		logger.Warn("Target has changed!")
	}
	s.lastChipId = s.probe.ChipId()

	if err := s.probe.TargetConnect(s.cfg.ConnectMode); err != nil {
		logger.Error("target connect: ", err)
	}

	if err := s.probe.ForceDebug(); err != nil {
		logger.Error("force debug: ", err)
	}

	if err := s.initTarget(); err != nil {
		client.Close()
		return err
	}

	s.memoryMap = makeMemoryMap(s.probe)
	s.semihostingOn = s.cfg.Semihosting

	/*
	 * To allow resetting the chip from GDB it is required to emulate
	 * attaching and detaching to target.
	 */
	s.attached = true
	s.criticalError = false
	s.flash = flashStage{}

	conn := newRspConn(client)
	defer conn.Close()

	logger.Info("GDB connected.")

	for {
		packet, err := conn.RecvPacket()
		if err != nil {
			logger.Errorf("cannot recv: %v", err)
			return err
		}

		logger.Debugf("recv: %s", packet)

		reply, noReply, err := s.dispatch(conn, packet)
		if err != nil {
			return err
		}

		if !noReply {
			logger.Debugf("send: %s", reply)

			if err := conn.SendPacket([]byte(reply)); err != nil {
				logger.Errorf("cannot send: %v", err)
				return err
			}
		}

		if s.criticalError {
			return errors.New("critical error, tearing down session")
		}
	}
}

// parseHex parses the leading hex digits of s, strtoul style, and
// returns the remainder.
func parseHex(s string) (uint32, string) {
	var value uint64
	i := 0

	for i < len(s) {
		digit, err := hexDigitValue(s[i])
		if err != nil {
			break
		}

		value = value<<4 | uint64(digit)
		i++
	}

	return uint32(value), s[i:]
}

func (s *Server) dispatch(conn *rspConn, packet []byte) (reply string, noReply bool, err error) {
	if len(packet) == 0 {
		return "", false, nil
	}

	switch packet[0] {
	case 'q':
		return s.handleQuery(string(packet)), false, nil

	case 'v':
		return s.handleVerb(packet)

	case 'c':
		return s.handleContinue(conn)

	case 's':
		return s.handleStep(), false, nil

	case '?':
		if s.attached {
			return "S05", false, nil // TRAP
		}

		// stub shall reply OK if not attached
		return "OK", false, nil

	case 'g':
		return s.handleReadAllRegs(), false, nil

	case 'G':
		return s.handleWriteAllRegs(string(packet)), false, nil

	case 'p':
		return s.handleReadReg(string(packet)), false, nil

	case 'P':
		return s.handleWriteReg(string(packet)), false, nil

	case 'm':
		return s.handleReadMem(string(packet)), false, nil

	case 'M':
		return s.handleWriteMem(string(packet)), false, nil

	case 'Z':
		return s.handleInsertBreak(string(packet)), false, nil

	case 'z':
		return s.handleRemoveBreak(string(packet)), false, nil

	case '!':
		// enter extended mode which allows restarting. We do support
		// that always. Also set persistent mode to allow GDB
		// disconnect.
		s.cfg.Persistent = true

		return "OK", false, nil

	case 'R':
		return s.handleRestart(), false, nil

	case 'k':
		return s.handleKill()

	default:
		return "", false, nil
	}
}

func (s *Server) handleStep() string {
	s.cache.sync()

	if err := s.probe.Step(); err != nil {
		// ... having a problem sending step packet
		logger.Error("Step: cannot send step request")
		s.criticalError = true // absolutely critical

		return "E00"
	}

	return "S05" // TRAP
}

func (s *Server) handleRestart() string {
	if err := s.probe.Reset(ResetSoftAndHalt); err != nil {
		logger.Debug("R packet: reset failed")
	}

	s.breaks.init()
	s.watches.init()
	s.cache.init()

	s.attached = true

	return "OK"
}

func (s *Server) handleKill() (string, bool, error) {
	// kill request - reset the connection itself
	if err := s.probe.Run(RunNormal); err != nil {
		logger.Debug("Kill: run failed")
	}

	if err := s.probe.ExitDebugMode(); err != nil {
		logger.Debug("Kill: exit debug mode failed")
	}

	s.probe.Close()

	probe, err := s.reopen()
	if err != nil {
		logger.Error("Kill: cannot reopen probe: ", err)
		return "", true, ErrProbeLost
	}

	s.probe = probe

	if err := s.probe.ForceDebug(); err != nil {
		logger.Debug("Kill: force debug failed")
	}

	if err := s.initTarget(); err != nil {
		logger.Error("Kill: target init failed: ", err)
	}

	// no response
	return "", true, nil
}

func (s *Server) handleReadAllRegs() string {
	var regs CortexRegs

	if err := s.probe.ReadAllRegs(&regs); err != nil {
		logger.Debug("g packet: read all regs failed")
	}

	var sb strings.Builder

	for i := 0; i < 16; i++ {
		fmt.Fprintf(&sb, "%08x", byteSwap32(regs.R[i]))
	}

	return sb.String()
}

func (s *Server) handleWriteAllRegs(packet string) string {
	payload := packet[1:]

	for i := 0; i < 16 && len(payload) >= 8; i++ {
		value, _ := parseHex(payload[:8])
		payload = payload[8:]

		if err := s.probe.WriteReg(byteSwap32(value), uint32(i)); err != nil {
			logger.Debug("G packet: write reg failed")
		}
	}

	return "OK"
}

func (s *Server) handleReadReg(packet string) string {
	id, _ := parseHex(packet[1:])

	var regs CortexRegs
	var value uint32
	var err error

	switch {
	case id < 16:
		err = s.probe.ReadReg(id, &regs)
		value = regs.R[id]
	case id == 0x19:
		err = s.probe.ReadReg(stRegXpsr, &regs)
		value = regs.Xpsr
	case id == 0x1A:
		err = s.probe.ReadReg(stRegMainSp, &regs)
		value = regs.MainSp
	case id == 0x1B:
		err = s.probe.ReadReg(stRegProcessSp, &regs)
		value = regs.ProcessSp
	case id == gdbRegControl:
		err = s.probe.ReadUnsupportedReg(id, &regs)
		value = uint32(regs.Control)
	case id == gdbRegFaultmask:
		err = s.probe.ReadUnsupportedReg(id, &regs)
		value = uint32(regs.Faultmask)
	case id == gdbRegBasepri:
		err = s.probe.ReadUnsupportedReg(id, &regs)
		value = uint32(regs.Basepri)
	case id == gdbRegPrimask:
		err = s.probe.ReadUnsupportedReg(id, &regs)
		value = uint32(regs.Primask)
	case id >= gdbRegFpStart && id < gdbRegFpscr:
		err = s.probe.ReadUnsupportedReg(id, &regs)
		value = regs.S[id-gdbRegFpStart]
	case id == gdbRegFpscr:
		err = s.probe.ReadUnsupportedReg(id, &regs)
		value = regs.Fpscr
	default:
		return "E00"
	}

	if err != nil {
		logger.Debugf("p packet: could not read register with id %d", id)
	}

	return fmt.Sprintf("%08x", byteSwap32(value))
}

func (s *Server) handleWriteReg(packet string) string {
	id, rest := parseHex(packet[1:])

	if len(rest) == 0 || rest[0] != '=' {
		return "E00"
	}

	wireValue, _ := parseHex(rest[1:])
	value := byteSwap32(wireValue)

	var regs CortexRegs
	var err error

	switch {
	case id < 16:
		err = s.probe.WriteReg(value, id)
	case id == 0x19:
		err = s.probe.WriteReg(value, stRegXpsr)
	case id == 0x1A:
		err = s.probe.WriteReg(value, stRegMainSp)
	case id == 0x1B:
		err = s.probe.WriteReg(value, stRegProcessSp)
	case id >= gdbRegControl && id <= gdbRegFpscr:
		err = s.probe.WriteUnsupportedReg(value, id, &regs)
	default:
		return "E00"
	}

	if err != nil {
		logger.Debugf("P packet: write failed for reg %d", id)
	}

	return "OK"
}

func (s *Server) handleReadMem(packet string) string {
	start, rest := parseHex(packet[1:])

	if len(rest) == 0 || rest[0] != ',' {
		return "E00"
	}

	count, _ := parseHex(rest[1:])

	adjStart := start % 4
	countRnd := (count + adjStart + 4 - 1) / 4 * 4

	if pageSize := s.probe.FlashPageSize(start); pageSize != 0 && countRnd > pageSize {
		countRnd = pageSize
	}

	if countRnd > maxMemoryReadSize {
		countRnd = maxMemoryReadSize
	}

	if count+adjStart > countRnd {
		count = countRnd - adjStart
	}

	buffer, err := s.probe.ReadMem32(start-adjStart, countRnd)
	if err != nil {
		// read failed somehow, don't return stale buffer
		count = 0
	}

	if count == 0 {
		return ""
	}

	return hexEncode(buffer[adjStart : adjStart+count])
}

func (s *Server) handleWriteMem(packet string) string {
	start, rest := parseHex(packet[1:])

	if len(rest) == 0 || rest[0] != ',' {
		return "E00"
	}

	count, rest := parseHex(rest[1:])

	if len(rest) == 0 || rest[0] != ':' {
		return "E00"
	}

	data := unhexify(rest[1:])

	if uint32(len(data)) < count {
		return "E00"
	}

	failed := false

	// head up to the next word boundary with byte writes
	if start%4 != 0 {
		alignCount := 4 - start%4

		if alignCount > count {
			alignCount = count
		}

		if err := s.probe.WriteMem8(start, data[:alignCount]); err != nil {
			failed = true
		}

		s.cache.change(start, alignCount)
		start += alignCount
		count -= alignCount
		data = data[alignCount:]
	}

	// aligned middle with word writes
	if aligned := count - count%4; aligned > 0 {
		if err := s.probe.WriteMem32(start, data[:aligned]); err != nil {
			failed = true
		}

		s.cache.change(start, aligned)
		start += aligned
		count -= aligned
		data = data[aligned:]
	}

	// tail with byte writes
	if count > 0 {
		if err := s.probe.WriteMem8(start, data[:count]); err != nil {
			failed = true
		}

		s.cache.change(start, count)
	}

	if failed {
		return "E00"
	}

	return "OK"
}

func (s *Server) handleInsertBreak(packet string) string {
	if len(packet) < 4 {
		return ""
	}

	addr, rest := parseHex(packet[3:])

	var length uint32
	if len(rest) > 0 && rest[0] == ',' {
		length, _ = parseHex(rest[1:])
	}

	switch packet[1] {
	case '1':
		if err := s.breaks.update(addr, true); err != nil {
			logger.Debug("Z1: ", err)
			return "E00"
		}

		return "OK"

	case '2', '3', '4':
		var fun watchFun

		if packet[1] == '2' {
			fun = watchWrite
		} else if packet[1] == '3' {
			fun = watchRead
		} else {
			fun = watchAccess
		}

		if err := s.watches.add(fun, addr, length); err != nil {
			logger.Debug("Z: ", err)
			return "E00"
		}

		return "OK"

	default:
		return ""
	}
}

func (s *Server) handleRemoveBreak(packet string) string {
	if len(packet) < 4 {
		return ""
	}

	addr, _ := parseHex(packet[3:])

	switch packet[1] {
	case '1':
		s.breaks.update(addr, false)
		return "OK"

	case '2', '3', '4':
		if err := s.watches.remove(addr); err != nil {
			return "E00"
		}

		return "OK"

	default:
		return ""
	}
}

func (s *Server) handleQuery(packet string) string {
	if len(packet) < 2 {
		return ""
	}

	if packet[1] == 'P' || packet[1] == 'C' || packet[1] == 'L' {
		return ""
	}

	if strings.HasPrefix(packet, "qRcmd,") {
		return s.handleRemoteCommand(packet[len("qRcmd,"):])
	}

	queryName := packet[1:]
	params := ""

	if sep := strings.IndexByte(queryName, ':'); sep >= 0 {
		params = queryName[sep+1:]
		queryName = queryName[:sep]
	}

	logger.Debugf("query: %s;%s", queryName, params)

	switch queryName {
	case "Supported":
		return supportedReply

	case "Xfer":
		return s.handleXfer(params)

	default:
		return ""
	}
}

func (s *Server) handleXfer(params string) string {
	fields := strings.SplitN(params, ":", 3)
	if len(fields) < 3 {
		return ""
	}

	objType, op, tail := fields[0], fields[1], fields[2]

	// tail is annex:addr,length, the annex may be empty
	annexSep := strings.LastIndexByte(tail, ':')
	if annexSep < 0 {
		return ""
	}

	annex := tail[:annexSep]
	addr, rest := parseHex(tail[annexSep+1:])

	if len(rest) == 0 || rest[0] != ',' {
		return ""
	}

	length, _ := parseHex(rest[1:])

	logger.Debugf("Xfer: type:%s;op:%s;annex:%s;addr:%d;length:%d", objType, op, annex, addr, length)

	if op != "read" {
		return ""
	}

	var data string

	switch objType {
	case "memory-map":
		data = s.memoryMap
	case "features":
		data = targetDescription
	default:
		return ""
	}

	dataLength := uint32(len(data))

	if addr >= dataLength {
		return "l"
	}

	if addr+length > dataLength {
		length = dataLength - addr
	}

	if length == 0 {
		return "l"
	}

	return "m" + data[addr:addr+length]
}

func (s *Server) handleRemoteCommand(hexCmd string) string {
	cmd := string(unhexify(hexCmd))

	logger.Debugf("unhexified Rcmd: '%s'", cmd)

	switch {
	case cmd == "resume":
		logger.Debug("Rcmd: resume")
		s.cache.sync()

		if err := s.probe.Run(RunNormal); err != nil {
			logger.Debug("Rcmd: resume failed")
			return "E00"
		}

		return "OK"

	case cmd == "halt":
		if err := s.probe.ForceDebug(); err != nil {
			logger.Debug("Rcmd: halt failed")
			return "E00"
		}

		logger.Debug("Rcmd: halt")
		return "OK"

	case cmd == "jtag_reset":
		reply := "OK"

		if err := s.probe.Reset(ResetHard); err != nil {
			logger.Debug("Rcmd: jtag_reset failed with reset")
			reply = "E00"
		}

		if err := s.probe.ForceDebug(); err != nil {
			logger.Debug("Rcmd: jtag_reset failed with force_debug")
			reply = "E00"
		}

		s.breaks.init()
		s.watches.init()
		s.cache.init()

		return reply

	case cmd == "reset":
		reply := "OK"

		if err := s.probe.ForceDebug(); err != nil {
			logger.Debug("Rcmd: reset failed with force_debug")
			reply = "E00"
		}

		if err := s.probe.Reset(ResetSoftAndHalt); err != nil {
			logger.Debug("Rcmd: reset failed with reset")
			reply = "E00"
		}

		s.breaks.init()
		s.watches.init()
		s.cache.init()

		return reply

	case strings.HasPrefix(cmd, "semihosting "):
		logger.Debugf("Rcmd: got semihosting cmd '%s'", cmd)

		arg := strings.TrimSpace(cmd[len("semihosting "):])

		if arg == "enable" || arg == "1" {
			s.semihostingOn = true
			return "OK"
		}

		if arg == "disable" || arg == "0" {
			s.semihostingOn = false
			return "OK"
		}

		logger.Debugf("Rcmd: unknown semihosting arg: '%s'", arg)
		return ""

	default:
		logger.Debugf("Rcmd: %s", cmd)
		return ""
	}
}

func (s *Server) handleVerb(packet []byte) (string, bool, error) {
	body := packet[1:]

	nameEnd := 0
	for nameEnd < len(body) && body[nameEnd] != ':' && body[nameEnd] != ';' {
		nameEnd++
	}

	name := string(body[:nameEnd])

	var params []byte
	if nameEnd < len(body) {
		params = body[nameEnd+1:]
	}

	switch name {
	case "FlashErase":
		return s.handleFlashErase(string(params)), false, nil

	case "FlashWrite":
		return s.handleFlashWrite(params), false, nil

	case "FlashDone":
		err := s.flash.commit(s.probe, s.cfg.ConnectMode)

		// the commit ends with a soft reset
		s.breaks.init()
		s.watches.init()
		s.cache.init()

		if err != nil {
			logger.Error("flash commit failed: ", err)
			return "E08", false, nil
		}

		return "OK", false, nil

	case "Kill":
		s.attached = false
		return "OK", false, nil

	default:
		return "", false, nil
	}
}

func (s *Server) handleFlashErase(params string) string {
	addr, rest := parseHex(params)

	if len(rest) == 0 || rest[0] != ',' {
		return "E00"
	}

	length, _ := parseHex(rest[1:])

	logger.Debugf("FlashErase: addr:%08x,len:%04x", addr, length)

	if err := s.flash.addBlock(s.probe, addr, length); err != nil {
		return "E00"
	}

	return "OK"
}

func (s *Server) handleFlashWrite(params []byte) string {
	sep := 0
	for sep < len(params) && params[sep] != ':' {
		sep++
	}

	if sep == len(params) {
		return "E00"
	}

	addr, _ := parseHex(string(params[:sep]))

	decoded := unescapeBinary(params[sep+1:])

	// fix alignment; the buffer gained one zero byte for this
	if len(decoded)%2 != 0 {
		decoded = append(decoded, 0)
	}

	logger.Debugf("binary packet %d -> %d", len(params)-sep-1, len(decoded))

	if err := s.flash.populate(addr, decoded); err != nil {
		return "E00"
	}

	return "OK"
}

// continuation loop states
type runState int

const (
	stateRunning runState = iota
	statePolledHalt
	stateSemihostServicing
	stateInterruptRequested
	stateReturned
)

const runPollInterval = 100 * time.Millisecond

// handleContinue resumes the target and polls until it halts for a
// reason gdb must see, servicing semihosting traps transparently along
// the way. A 0x03 from the client forces a halt.
func (s *Server) handleContinue(conn *rspConn) (string, bool, error) {
	s.cache.sync()

	if err := s.probe.Run(RunNormal); err != nil {
		logger.Debug("continue: run failed")
	}

	state := stateRunning

	var trapPc uint32

	for state != stateReturned {
		switch state {
		case stateRunning:
			interrupted, err := conn.CheckForInterrupt()
			if err != nil {
				logger.Errorf("cannot check for int: %v", err)
				return "", true, err
			}

			if interrupted {
				state = stateInterruptRequested
				break
			}

			status, err := s.probe.Status()
			if err != nil {
				logger.Debug("continue: status failed")
			}

			if status == CoreHalted {
				state = statePolledHalt
				break
			}

			time.Sleep(runPollInterval)

		case statePolledHalt:
			if !s.semihostingOn {
				state = stateReturned
				break
			}

			pc, isTrap := s.atSemihostTrap()
			if !isTrap {
				state = stateReturned
				break
			}

			trapPc = pc
			state = stateSemihostServicing

		case stateSemihostServicing:
			s.serviceSemihostTrap(trapPc)

			// continue execution
			s.cache.sync()

			if err := s.probe.Run(RunNormal); err != nil {
				logger.Debug("semihost: continue execution failed")
			}

			state = stateRunning

		case stateInterruptRequested:
			s.probe.ForceDebug()
			state = stateReturned
		}
	}

	return "S05", false, nil // TRAP
}

// atSemihostTrap reads the halted pc and checks for the BKPT 0xAB
// instruction. A hardware breakpoint on the same word wins over the
// semihosting interpretation.
func (s *Server) atSemihostTrap() (uint32, bool) {
	var regs CortexRegs

	if err := s.probe.ReadAllRegs(&regs); err != nil {
		logger.Debug("semihost: read all regs failed")
		return 0, false
	}

	pc := regs.R[15]

	// instruction fetches must be word aligned
	offset := pc % 4
	addr := pc - offset

	readLen := uint32(4)
	if offset > 2 {
		readLen = 8
	}

	buffer, err := s.probe.ReadMem32(addr, readLen)
	if err != nil {
		logger.Debugf("semihost: cannot read instructions at: 0x%08x", addr)
		return 0, false
	}

	insn := le_to_h_u16(buffer[offset:])

	if insn == semihostBkptInsn && !s.breaks.contains(addr) {
		return pc, true
	}

	return 0, false
}

func (s *Server) serviceSemihostTrap(pc uint32) {
	var regs CortexRegs

	if err := s.probe.ReadAllRegs(&regs); err != nil {
		logger.Debug("semihost: read all regs failed")
		return
	}

	result := s.semihost.call(s.probe, regs.R[0], regs.R[1])

	// write return value
	if err := s.probe.WriteReg(result, 0); err != nil {
		logger.Debug("semihost: write reg failed for return value")
	}

	// jump over the break instruction
	if err := s.probe.WriteReg(pc+2, 15); err != nil {
		logger.Debug("semihost: write reg failed for jumping over break")
	}
}
