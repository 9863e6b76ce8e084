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

// Package zenedge wires the kernel simulator's components together into
// one context: a time source, flight recorder, physical memory manager,
// IPC transport, shared blob heap, and scheduler, all driven off a
// single platform and configuration. It is the equivalent of the boot
// sequence a real ZENEDGE core runs before accepting its first job.
package zenedge

import (
	"fmt"
	"sync"

	"github.com/zenedge/kernel/pkg/kernel/blobheap"
	"github.com/zenedge/kernel/pkg/kernel/config"
	"github.com/zenedge/kernel/pkg/kernel/contract"
	"github.com/zenedge/kernel/pkg/kernel/flightrec"
	"github.com/zenedge/kernel/pkg/kernel/ipc"
	"github.com/zenedge/kernel/pkg/kernel/jobgraph"
	kernelmetrics "github.com/zenedge/kernel/pkg/kernel/metrics"
	"github.com/zenedge/kernel/pkg/kernel/platform"
	"github.com/zenedge/kernel/pkg/kernel/pmm"
	"github.com/zenedge/kernel/pkg/kernel/scheduler"
	"github.com/zenedge/kernel/pkg/kernel/timesource"
	"github.com/zenedge/kernel/pkg/metrics"
)

// Kernel is one fully booted simulator instance: every component the
// scheduler needs to drive a job graph to completion, wired to a single
// platform and configuration.
type Kernel struct {
	cfg  *config.KernelConfig
	plat platform.Platform

	ts        *timesource.Source
	rec       *flightrec.Recorder
	pmm       *pmm.Manager
	heap      *blobheap.Heap
	transport *ipc.Transport
	sched     *scheduler.Scheduler

	mu        sync.Mutex
	contracts map[uint32]*contract.Contract
}

// Boot constructs a Kernel from cfg (config.Default() if nil) over
// plat's shared-memory region, command/response rings, and doorbell.
func Boot(plat platform.Platform, cfg *config.KernelConfig) (*Kernel, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("zenedge: invalid configuration: %w", err)
	}

	ts := timesource.New(plat, cfg.CyclesPerUsec)
	rec := flightrec.New(ts, cfg.FlightRecorderSize)
	mgr := pmm.New(rec, cfg.TotalMemoryKB)

	mem := plat.SharedMemBase()
	transport, err := ipc.New(rec, ts, mem)
	if err != nil {
		return nil, fmt.Errorf("zenedge: bringing up IPC transport: %w", err)
	}

	if len(mem) <= blobheap.HeapOffset {
		return nil, fmt.Errorf("zenedge: shared memory region (%d bytes) too small for heap offset 0x%x", len(mem), blobheap.HeapOffset)
	}
	heap := blobheap.New(mem[blobheap.HeapOffset:])
	sched := scheduler.New(rec, ts, plat, transport, mgr, heap)

	k := &Kernel{
		cfg:       cfg,
		plat:      plat,
		ts:        ts,
		rec:       rec,
		pmm:       mgr,
		heap:      heap,
		transport: transport,
		sched:     sched,
		contracts: make(map[uint32]*contract.Contract),
	}

	rec.Log(flightrec.EventContractApply, 0, 0, uint32(cfg.Contract.CPUBudgetUsec))
	return k, nil
}

// SubmitJob admits jobID under a contract built from priority and the
// given budgets, and if admitted, drives it to completion. AdmitResult
// is always returned so the caller can distinguish a clean rejection
// from a run-time error; stats is only meaningful when result is
// contract.AdmitOK.
func (k *Kernel) SubmitJob(jobID uint32, g *jobgraph.Graph, priority contract.Priority, memoryKB, cpuBudgetUsec uint64) (flightrec.JobStats, contract.AdmitResult, error) {
	c := contract.New(k.rec, priority, memoryKB, cpuBudgetUsec)

	result := c.AdmitJob(g)
	if result != contract.AdmitOK {
		return flightrec.JobStats{}, result, nil
	}

	k.mu.Lock()
	k.contracts[jobID] = c
	k.mu.Unlock()

	stats, err := k.sched.RunJob(jobID, g, c)
	return stats, result, err
}

// Contract returns the contract a prior SubmitJob admitted jobID under.
func (k *Kernel) Contract(jobID uint32) (*contract.Contract, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	c, ok := k.contracts[jobID]
	return c, ok
}

// PMM returns the kernel's physical memory manager.
func (k *Kernel) PMM() *pmm.Manager { return k.pmm }

// Recorder returns the kernel's flight recorder.
func (k *Kernel) Recorder() *flightrec.Recorder { return k.rec }

// Heap returns the kernel's shared blob heap.
func (k *Kernel) Heap() *blobheap.Heap { return k.heap }

// Transport returns the kernel's IPC transport to the Linux bridge peer.
func (k *Kernel) Transport() *ipc.Transport { return k.transport }

// TimeSource returns the kernel's time source.
func (k *Kernel) TimeSource() *timesource.Source { return k.ts }

// Config returns the configuration the kernel was booted with.
func (k *Kernel) Config() *config.KernelConfig { return k.cfg }

// MetricsComponents snapshots the kernel's components into the bundle
// RegisterMetrics and pkg/kernel/metrics.RegisterAll operate on.
func (k *Kernel) MetricsComponents() kernelmetrics.Components {
	k.mu.Lock()
	defer k.mu.Unlock()

	contracts := make(map[string]*contract.Contract, len(k.contracts))
	for jobID, c := range k.contracts {
		contracts[fmt.Sprintf("job-%d", jobID)] = c
	}

	return kernelmetrics.Components{
		PMM:       k.pmm,
		Transport: k.transport,
		Heap:      k.heap,
		Contracts: contracts,
	}
}

// RegisterMetrics registers a collector for every one of the kernel's
// components with reg.
func (k *Kernel) RegisterMetrics(reg *metrics.Registry) error {
	return kernelmetrics.RegisterAll(reg, k.MetricsComponents())
}
