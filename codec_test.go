// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gostutil

import (
	"bytes"
	"net"
	"testing"
	"time"
)

func TestEscapeUnescapeIdentity(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"plain", []byte("hello world")},
		{"framing chars", []byte{'$', '#', 0x7d, '*'}},
		{"escape xor collision", []byte{0x7d, 0x5d, 0x03, 0x04}},
		{"all byte values", func() []byte {
			all := make([]byte, 256)
			for i := range all {
				all[i] = byte(i)
			}
			return all
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			escaped := escapeBinary(tt.data)

			for _, c := range []byte{'$', '#', '*'} {
				for i, b := range escaped {
					if b == c && (i == 0 || escaped[i-1] != packetEscape) {
						t.Errorf("unescaped %q survived at %d", c, i)
					}
				}
			}

			round := unescapeBinary(escaped)
			if !bytes.Equal(round, tt.data) {
				t.Errorf("round trip = %v, want %v", round, tt.data)
			}
		})
	}
}

func TestHexHelpers(t *testing.T) {
	if got := hexEncode([]byte{0x12, 0xAB, 0x00, 0xFF}); got != "12ab00ff" {
		t.Errorf("hexEncode = %q", got)
	}

	if got := unhexify("12ab00ff"); !bytes.Equal(got, []byte{0x12, 0xAB, 0x00, 0xFF}) {
		t.Errorf("unhexify = %v", got)
	}

	// decoding stops at the first non-hex pair, like the reference
	if got := unhexify("41g2"); !bytes.Equal(got, []byte{0x41}) {
		t.Errorf("unhexify with garbage = %v", got)
	}
}

func TestByteSwap32(t *testing.T) {
	if got := byteSwap32(0x12345678); got != 0x78563412 {
		t.Errorf("byteSwap32 = %08x, want 78563412", got)
	}

	if got := byteSwap32(byteSwap32(0xCAFEBABE)); got != 0xCAFEBABE {
		t.Errorf("double swap = %08x", got)
	}
}

func TestRecvPacket(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	conn := newRspConn(server)

	ackCh := make(chan byte, 1)

	go func() {
		client.Write([]byte("$qSupported#37"))

		ack := make([]byte, 1)
		client.SetReadDeadline(time.Now().Add(time.Second))
		client.Read(ack)
		ackCh <- ack[0]
	}()

	payload, err := conn.RecvPacket()
	if err != nil {
		t.Fatalf("RecvPacket: %v", err)
	}

	if string(payload) != "qSupported" {
		t.Errorf("payload = %q", payload)
	}

	if ack := <-ackCh; ack != '+' {
		t.Errorf("expected ack, got %q", ack)
	}
}

func TestRecvPacketResync(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	conn := newRspConn(server)

	go func() {
		// leftover garbage from an interrupted exchange, then a bad
		// checksum, then the real packet
		client.Write([]byte("garbage$m0,4#00"))

		// consume the nak
		nak := make([]byte, 1)
		client.Read(nak)

		client.Write([]byte("$m0,4#fd"))
		ack := make([]byte, 1)
		client.Read(ack)
	}()

	payload, err := conn.RecvPacket()
	if err != nil {
		t.Fatalf("RecvPacket: %v", err)
	}

	if string(payload) != "m0,4" {
		t.Errorf("payload = %q", payload)
	}
}

func TestSendPacketRetransmit(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	conn := newRspConn(server)

	done := make(chan error, 1)

	go func() {
		done <- conn.SendPacket([]byte("OK"))
	}()

	buf := make([]byte, 64)
	client.SetReadDeadline(time.Now().Add(time.Second))

	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}

	if string(buf[:n]) != "$OK#9a" {
		t.Errorf("frame = %q", buf[:n])
	}

	// reject once, the sender must retransmit
	client.Write([]byte{packetNak})

	n, err = client.Read(buf)
	if err != nil {
		t.Fatalf("read retransmit: %v", err)
	}

	if string(buf[:n]) != "$OK#9a" {
		t.Errorf("retransmit = %q", buf[:n])
	}

	client.Write([]byte{packetAck})

	if err := <-done; err != nil {
		t.Errorf("SendPacket: %v", err)
	}
}

func TestCheckForInterrupt(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	conn := newRspConn(server)

	// nothing pending
	interrupted, err := conn.CheckForInterrupt()
	if err != nil {
		t.Fatalf("CheckForInterrupt: %v", err)
	}

	if interrupted {
		t.Error("interrupt reported on idle socket")
	}

	go client.Write([]byte{packetInterrupt})
	time.Sleep(50 * time.Millisecond)

	interrupted, err = conn.CheckForInterrupt()
	if err != nil {
		t.Fatalf("CheckForInterrupt: %v", err)
	}

	if !interrupted {
		t.Error("pending 0x03 not seen")
	}

	// a packet start must stay in the buffer untouched
	go client.Write([]byte("$"))
	time.Sleep(50 * time.Millisecond)

	interrupted, err = conn.CheckForInterrupt()
	if err != nil {
		t.Fatalf("CheckForInterrupt: %v", err)
	}

	if interrupted {
		t.Error("packet start misread as interrupt")
	}

	head, _ := conn.reader.Peek(1)
	if len(head) != 1 || head[0] != '$' {
		t.Errorf("packet start consumed, head = %q", head)
	}
}
