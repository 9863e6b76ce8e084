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

// Package platform isolates the kernel simulator from the handful of
// host facilities a real ZENEDGE core would touch directly: a cycle
// counter, busy-wait and sleep primitives, a doorbell interrupt source,
// the shared-memory region crossed by the IPC transport and blob heap,
// and a console sink. FakePlatform backs unit tests with a fully
// deterministic, in-process implementation; MmapPlatform backs the
// standalone simulator binary with a real mmap'd region and OS timers.
package platform

import "io"

// Platform is the capability surface the kernel components depend on
// instead of talking to hardware or the OS directly.
type Platform interface {
	// NowCycles returns a monotonically increasing cycle count.
	NowCycles() uint64
	// BusyWaitTicks spins the caller for approximately the given number
	// of cycles, the way a polling loop would spin on real hardware.
	BusyWaitTicks(ticks uint64)
	// SleepMS yields the caller for approximately ms milliseconds.
	SleepMS(ms int)
	// RegisterIRQ installs handler as the callback for the given IRQ
	// vector. Only one handler may be registered per vector.
	RegisterIRQ(vector int, handler func()) error
	// RaiseIRQ simulates hardware delivering an interrupt on vector,
	// invoking its registered handler synchronously if one exists.
	RaiseIRQ(vector int)
	// SharedMemBase returns the byte slice backing the shared-memory
	// region crossed by the IPC rings, doorbell block, and blob heap.
	SharedMemBase() []byte
	// Console returns the sink diagnostic output is written to.
	Console() io.Writer
}

// IRQDoorbell is the interrupt vector the IPC transport raises on the
// peer when it rings the doorbell with IRQs enabled.
const IRQDoorbell = 0
