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

//go:build unix

package platform

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// MmapPlatform backs the standalone simulator binary. Its shared-memory
// region is a real anonymous mmap (standing in for the physically shared
// region a ZENEDGE/Linux-bridge pair would map), its clock tracks the
// monotonic host clock, and its "interrupts" are delivered by a SIGUSR1
// handler, the closest userspace analogue to an external doorbell IRQ.
type MmapPlatform struct {
	mu      sync.Mutex
	mem     []byte
	console io.Writer
	irqs    map[int]func()
	sigCh   chan os.Signal
	stop    chan struct{}
	boot    time.Time
}

var _ Platform = (*MmapPlatform)(nil)

// NewMmapPlatform mmaps an anonymous, shared region of memSize bytes and
// returns a ready-to-use MmapPlatform. Close releases the mapping.
func NewMmapPlatform(memSize int, console io.Writer) (*MmapPlatform, error) {
	if console == nil {
		console = os.Stdout
	}
	mem, err := unix.Mmap(-1, 0, memSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("platform: mmap %d bytes failed: %w", memSize, err)
	}

	p := &MmapPlatform{
		mem:     mem,
		console: console,
		irqs:    map[int]func(){},
		sigCh:   make(chan os.Signal, 8),
		stop:    make(chan struct{}),
		boot:    time.Now(),
	}

	signal.Notify(p.sigCh, syscall.SIGUSR1)
	go p.dispatchIRQs()

	return p, nil
}

// Close unmaps the shared-memory region and stops IRQ dispatch.
func (p *MmapPlatform) Close() error {
	close(p.stop)
	signal.Stop(p.sigCh)
	return unix.Munmap(p.mem)
}

func (p *MmapPlatform) dispatchIRQs() {
	for {
		select {
		case <-p.stop:
			return
		case <-p.sigCh:
			p.RaiseIRQ(IRQDoorbell)
		}
	}
}

// NowCycles reports elapsed nanoseconds since the platform was created,
// standing in for a free-running cycle counter at an implied 1GHz rate.
func (p *MmapPlatform) NowCycles() uint64 {
	return uint64(time.Since(p.boot).Nanoseconds())
}

func (p *MmapPlatform) BusyWaitTicks(ticks uint64) {
	deadline := time.Now().Add(time.Duration(ticks) * time.Nanosecond)
	for time.Now().Before(deadline) {
		// spin, mirroring a real polling loop's PAUSE instruction
	}
}

func (p *MmapPlatform) SleepMS(ms int) {
	if ms < 0 {
		ms = 0
	}
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

func (p *MmapPlatform) RegisterIRQ(vector int, handler func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.irqs[vector]; exists {
		return fmt.Errorf("platform: IRQ vector %d already has a handler", vector)
	}
	p.irqs[vector] = handler
	return nil
}

func (p *MmapPlatform) RaiseIRQ(vector int) {
	p.mu.Lock()
	h := p.irqs[vector]
	p.mu.Unlock()
	if h != nil {
		h()
	}
}

func (p *MmapPlatform) SharedMemBase() []byte {
	return p.mem
}

func (p *MmapPlatform) Console() io.Writer {
	return p.console
}
