// Copyright The ZenEdge Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ipc is the command/response transport that crosses the shared
// memory boundary to the Linux bridge peer: two SPSC rings (commands
// out, responses in) plus a doorbell control block for interrupt-style
// notification, laid out byte-for-byte the way an external peer mapping
// the same region would expect.
package ipc

import (
	"fmt"

	"github.com/zenedge/kernel/pkg/kernel/flightrec"
	"github.com/zenedge/kernel/pkg/kernel/timesource"
	"github.com/zenedge/kernel/pkg/kernel/wire"
)

// Magic values identifying each shared-memory structure.
const (
	CmdRingMagic  = 0x51DECA9E
	RspRingMagic  = 0x52535030
	DoorbellMagic = 0x444F4F52
)

// Region offsets and sizes within the shared memory block, mirroring a
// 1MB region split into command ring, response ring, doorbell, and (in
// blobheap) a shared tensor heap.
const (
	CmdRingOffset  = 0x00000
	RspRingOffset  = 0x08000
	DoorbellOffset = 0x10000
	DoorbellSize   = 256

	// DefaultRingSize is the number of packet slots in each ring.
	DefaultRingSize = 1024

	ringHeaderSize = 32
	packetSize     = 16
)

// Command IDs (0x0000-0x7FFF).
const (
	CmdPing     uint16 = 0x0001
	CmdPrint    uint16 = 0x0002
	CmdRunModel uint16 = 0x0010
)

// Response status codes (0x8000-0xFFFF, high bit set).
const (
	RspOK    uint16 = 0x8000
	RspError uint16 = 0x8001
	RspBusy  uint16 = 0x8002
)

// FlagIRQOnComplete requests the receiver raise an interrupt once a
// command completes.
const FlagIRQOnComplete uint16 = 0x0001

// Doorbell flag bits.
const (
	doorbellFlagIRQEnabled = 0x01
	doorbellFlagPending    = 0x02
)

// Packet is one command ring entry.
type Packet struct {
	Cmd       uint16
	Flags     uint16
	PayloadID uint32
	Timestamp uint64
}

// Response is one response ring entry.
type Response struct {
	Status    uint16
	OrigCmd   uint16
	Result    uint32
	Timestamp uint64
}

// Transport owns the two SPSC rings and doorbell block carved out of a
// shared memory region, and the local IRQ bookkeeping for the response
// side.
type Transport struct {
	rec *flightrec.Recorder
	ts  *timesource.Source

	mem      []byte
	ringSize uint32

	irqEnabled bool
	irqCount   uint32
}

// New creates a Transport over mem, which must be at least
// DoorbellOffset+DoorbellSize bytes, and initializes both ring headers
// and the doorbell control block.
func New(rec *flightrec.Recorder, ts *timesource.Source, mem []byte) (*Transport, error) {
	if len(mem) < DoorbellOffset+DoorbellSize {
		return nil, fmt.Errorf("ipc: shared memory region too small (%d bytes)", len(mem))
	}

	t := &Transport{
		rec:      rec,
		ts:       ts,
		mem:      mem,
		ringSize: DefaultRingSize,
	}
	t.init()
	return t, nil
}

func (t *Transport) init() {
	wire.PutU32(t.mem, CmdRingOffset+0, CmdRingMagic)
	wire.PutU32(t.mem, CmdRingOffset+4, 0) // head
	wire.PutU32(t.mem, CmdRingOffset+8, 0) // tail
	wire.PutU32(t.mem, CmdRingOffset+12, t.ringSize)

	wire.PutU32(t.mem, RspRingOffset+0, RspRingMagic)
	wire.PutU32(t.mem, RspRingOffset+4, 0)
	wire.PutU32(t.mem, RspRingOffset+8, 0)
	wire.PutU32(t.mem, RspRingOffset+12, t.ringSize)

	wire.PutU32(t.mem, DoorbellOffset+0, DoorbellMagic)
	wire.PutU32(t.mem, DoorbellOffset+4, 1) // version
	wire.PutU32(t.mem, DoorbellOffset+8, 0) // cmd_doorbell
	wire.PutU32(t.mem, DoorbellOffset+12, 0)
	wire.PutU32(t.mem, DoorbellOffset+16, 0)
	wire.PutU32(t.mem, DoorbellOffset+20, 0) // rsp_doorbell
	wire.PutU32(t.mem, DoorbellOffset+24, doorbellFlagIRQEnabled)
	wire.PutU32(t.mem, DoorbellOffset+28, 0)
	wire.PutU32(t.mem, DoorbellOffset+32, 0) // cmd_writes
	wire.PutU32(t.mem, DoorbellOffset+36, 0) // rsp_writes

	t.irqEnabled = true
}

func (t *Transport) ringDataOffset(ringOffset int, slot uint32) int {
	return ringOffset + ringHeaderSize + int(slot)*packetSize
}

func (t *Transport) ringCmdDoorbell(head uint32) {
	wire.PutU32(t.mem, DoorbellOffset+8, head)
	writes := wire.U32(t.mem, DoorbellOffset+32)
	wire.PutU32(t.mem, DoorbellOffset+32, writes+1)

	flags := wire.U32(t.mem, DoorbellOffset+12)
	if flags&doorbellFlagIRQEnabled != 0 {
		wire.PutU32(t.mem, DoorbellOffset+12, flags|doorbellFlagPending)
		irqs := wire.U32(t.mem, DoorbellOffset+16)
		wire.PutU32(t.mem, DoorbellOffset+16, irqs+1)
	}
}

// Send enqueues a command with no flags. It is equivalent to
// SendFlags(cmd, payload, 0).
func (t *Transport) Send(cmd uint16, payload uint32) error {
	return t.SendFlags(cmd, payload, 0)
}

// SendFlags enqueues a command packet onto the command ring and rings
// the command doorbell. It returns an error if the ring is full.
func (t *Transport) SendFlags(cmd uint16, payload uint32, flags uint16) error {
	head := wire.U32(t.mem, CmdRingOffset+4)
	tail := wire.U32(t.mem, CmdRingOffset+8)
	nextHead := (head + 1) % t.ringSize

	if nextHead == tail {
		if t.rec != nil {
			t.rec.Log(flightrec.EventAllocFail, 0, 0, uint32(cmd))
		}
		return fmt.Errorf("ipc: command ring full")
	}

	off := t.ringDataOffset(CmdRingOffset, head)
	wire.PutU16(t.mem, off+0, cmd)
	wire.PutU16(t.mem, off+2, flags)
	wire.PutU32(t.mem, off+4, payload)
	wire.PutU64(t.mem, off+8, t.ts.NowUsec())

	wire.PutU32(t.mem, CmdRingOffset+4, nextHead)
	t.ringCmdDoorbell(nextHead)
	return nil
}

// HasResponse reports whether the response ring has an unconsumed
// entry.
func (t *Transport) HasResponse() bool {
	if wire.U32(t.mem, RspRingOffset+0) != RspRingMagic {
		return false
	}
	return wire.U32(t.mem, RspRingOffset+4) != wire.U32(t.mem, RspRingOffset+8)
}

// PollResponse consumes one entry from the response ring, if any.
func (t *Transport) PollResponse() (Response, bool) {
	if wire.U32(t.mem, RspRingOffset+0) != RspRingMagic {
		return Response{}, false
	}

	head := wire.U32(t.mem, RspRingOffset+4)
	tail := wire.U32(t.mem, RspRingOffset+8)
	if head == tail {
		return Response{}, false
	}

	off := t.ringDataOffset(RspRingOffset, tail)
	rsp := Response{
		Status:    wire.U16(t.mem, off+0),
		OrigCmd:   wire.U16(t.mem, off+2),
		Result:    wire.U32(t.mem, off+4),
		Timestamp: wire.U64(t.mem, off+8),
	}

	wire.PutU32(t.mem, RspRingOffset+8, (tail+1)%t.ringSize)
	return rsp, true
}

// EnableIRQ toggles whether the local side requests response
// interrupts.
func (t *Transport) EnableIRQ(enable bool) {
	flags := wire.U32(t.mem, DoorbellOffset+24)
	if enable {
		flags |= doorbellFlagIRQEnabled
	} else {
		flags &^= doorbellFlagIRQEnabled
	}
	wire.PutU32(t.mem, DoorbellOffset+24, flags)
	t.irqEnabled = enable
}

// HandleIRQ is the response-side interrupt handler: it clears the
// pending flag then drains every response currently on the ring. The
// clear-then-drain order matters, since a response that lands between
// the clear and the drain is still picked up by this same pass rather
// than being missed until the next interrupt.
func (t *Transport) HandleIRQ() []Response {
	t.irqCount++

	flags := wire.U32(t.mem, DoorbellOffset+24)
	wire.PutU32(t.mem, DoorbellOffset+24, flags&^doorbellFlagPending)

	var drained []Response
	for {
		rsp, ok := t.PollResponse()
		if !ok {
			break
		}
		drained = append(drained, rsp)
	}
	return drained
}

// ConsumeOne simulates the Linux bridge peer consuming a single pending
// command and producing a mock OK response, for use in tests and
// standalone demos that run without a real bridge process.
func (t *Transport) ConsumeOne() (Packet, bool) {
	head := wire.U32(t.mem, CmdRingOffset+4)
	tail := wire.U32(t.mem, CmdRingOffset+8)
	if head == tail {
		return Packet{}, false
	}

	off := t.ringDataOffset(CmdRingOffset, tail)
	pkt := Packet{
		Cmd:       wire.U16(t.mem, off+0),
		Flags:     wire.U16(t.mem, off+2),
		PayloadID: wire.U32(t.mem, off+4),
		Timestamp: wire.U64(t.mem, off+8),
	}

	wire.PutU32(t.mem, CmdRingOffset+8, (tail+1)%t.ringSize)

	rspHead := wire.U32(t.mem, RspRingOffset+4)
	rspTail := wire.U32(t.mem, RspRingOffset+8)
	nextRspHead := (rspHead + 1) % t.ringSize
	if nextRspHead != rspTail {
		roff := t.ringDataOffset(RspRingOffset, rspHead)
		wire.PutU16(t.mem, roff+0, RspOK)
		wire.PutU16(t.mem, roff+2, pkt.Cmd)
		wire.PutU32(t.mem, roff+4, 0x12345678)
		wire.PutU64(t.mem, roff+8, t.ts.NowUsec())

		wire.PutU32(t.mem, RspRingOffset+4, nextRspHead)

		wire.PutU32(t.mem, DoorbellOffset+20, nextRspHead)
		writes := wire.U32(t.mem, DoorbellOffset+36)
		wire.PutU32(t.mem, DoorbellOffset+36, writes+1)
		rflags := wire.U32(t.mem, DoorbellOffset+24)
		if rflags&doorbellFlagIRQEnabled != 0 {
			wire.PutU32(t.mem, DoorbellOffset+24, rflags|doorbellFlagPending)
			irqs := wire.U32(t.mem, DoorbellOffset+28)
			wire.PutU32(t.mem, DoorbellOffset+28, irqs+1)
		}
	}

	return pkt, true
}

// Stats summarizes ring occupancy and doorbell activity for debug
// dumps.
type Stats struct {
	CmdPending     uint32
	RspPending     uint32
	CmdDoorbellCnt uint32
	RspDoorbellCnt uint32
	LocalIRQCount  uint32
}

func pendingCount(head, tail, size uint32) uint32 {
	if head >= tail {
		return head - tail
	}
	return size - tail + head
}

// Stats reports current ring and doorbell statistics.
func (t *Transport) Stats() Stats {
	cmdHead := wire.U32(t.mem, CmdRingOffset+4)
	cmdTail := wire.U32(t.mem, CmdRingOffset+8)
	rspHead := wire.U32(t.mem, RspRingOffset+4)
	rspTail := wire.U32(t.mem, RspRingOffset+8)

	return Stats{
		CmdPending:     pendingCount(cmdHead, cmdTail, t.ringSize),
		RspPending:     pendingCount(rspHead, rspTail, t.ringSize),
		CmdDoorbellCnt: wire.U32(t.mem, DoorbellOffset+32),
		RspDoorbellCnt: wire.U32(t.mem, DoorbellOffset+36),
		LocalIRQCount:  t.irqCount,
	}
}
