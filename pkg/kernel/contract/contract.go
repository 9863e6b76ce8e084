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

// Package contract is the resource-budget state machine every job's
// admission and page allocation is checked against: a CPU/memory budget
// that degrades OK -> WARNED -> SAFE_MODE as violations accumulate, the
// same escalation a real-time core needs to shed load before it misses
// a deadline outright.
package contract

import (
	"github.com/zenedge/kernel/pkg/kernel/flightrec"
	"github.com/zenedge/kernel/pkg/kernel/jobgraph"
	"github.com/zenedge/kernel/pkg/kernel/pmm"
)

// State is the contract's current health.
type State int

const (
	StateOK State = iota
	StateWarned
	StateSafeMode
)

func (s State) String() string {
	switch s {
	case StateOK:
		return "OK"
	case StateWarned:
		return "WARNED"
	case StateSafeMode:
		return "SAFE_MODE"
	default:
		return "UNKNOWN"
	}
}

// Priority is a job's scheduling priority class.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityRealtime
)

// Node preference chosen by Apply and returned by PreferredNode, mirroring the PMM's two simulated
// NUMA nodes.
const (
	NodeLocal  = 0
	NodeRemote = 1
)

// cpuViolationsToSafeMode is the number of CPU budget violations,
// counted since the last Apply, that escalate WARNED -> SAFE_MODE.
const cpuViolationsToSafeMode = 3

// memViolationsToSafeMode is the number of memory budget violations,
// counted since the last Apply, that escalate WARNED -> SAFE_MODE.
const memViolationsToSafeMode = 2

// pageSizeKB is the fixed per-page charge alloc_page(c) levies against
// a contract's memory budget, matching the PMM's page size.
const pageSizeKB = pmm.PageSize / 1024

// Per-step CPU cost estimates in microseconds, used by AdmitJob.
const (
	computeStepUsec    = 1000
	collectiveStepUsec = 3000
	ioStepUsec         = 2000
	controlStepUsec    = 100
)

// AdmitResult is the outcome of an admission check.
type AdmitResult int

const (
	AdmitOK AdmitResult = iota
	AdmitRejectMemory
	AdmitRejectNoResources
)

func (r AdmitResult) String() string {
	switch r {
	case AdmitOK:
		return "ADMIT_OK"
	case AdmitRejectMemory:
		return "REJECT_MEMORY"
	case AdmitRejectNoResources:
		return "REJECT_NO_RESOURCES"
	default:
		return "UNKNOWN"
	}
}

// Contract is one job's (or the kernel's) resource budget and the
// running state machine that tracks how well it's being honored.
type Contract struct {
	rec *flightrec.Recorder

	Priority    Priority
	MemoryKB    uint64
	CPUBudgetUs uint64

	state         State
	memUsedKB     uint64
	cpuUsedUs     uint64
	cpuViolations int
	memViolations int
	preferredNode int
}

// New creates a Contract for the given priority and budgets. It starts
// in StateOK via an implicit Apply.
func New(rec *flightrec.Recorder, priority Priority, memoryKB, cpuBudgetUs uint64) *Contract {
	c := &Contract{
		rec:         rec,
		Priority:    priority,
		MemoryKB:    memoryKB,
		CPUBudgetUs: cpuBudgetUs,
	}
	c.Apply()
	return c
}

// Apply (re)activates the contract: it resets violation counters, sets
// state back to OK, and picks a preferred NUMA node from priority
// (REALTIME prefers the local node, everything else prefers remote).
func (c *Contract) Apply() {
	c.cpuViolations = 0
	c.memViolations = 0
	c.state = StateOK

	if c.Priority == PriorityRealtime {
		c.preferredNode = NodeLocal
	} else {
		c.preferredNode = NodeRemote
	}

	c.rec.Log(flightrec.EventContractApply, 0, 0, uint32(c.CPUBudgetUs))
}

// State returns the contract's current health.
func (c *Contract) State() State {
	return c.state
}

// PreferredNode returns the NUMA node this contract prefers allocations
// come from.
func (c *Contract) PreferredNode() int {
	return c.preferredNode
}

// MemUsedKB returns the memory currently charged against this contract.
func (c *Contract) MemUsedKB() uint64 {
	return c.memUsedKB
}

// CPUUsedUs returns the CPU time currently charged against this
// contract.
func (c *Contract) CPUUsedUs() uint64 {
	return c.cpuUsedUs
}

// CanContinue reports whether the scheduler may dispatch another step
// under this contract. A contract in SAFE_MODE halts the job it backs
// before its next step.
func (c *Contract) CanContinue() bool {
	return c.state != StateSafeMode
}

func (c *Contract) setState(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.rec.Log(flightrec.EventContractStateChange, 0, 0, uint32(s))

	if s == StateSafeMode {
		c.rec.Log(flightrec.EventContractSafeMode, 0, 0,
			uint32(c.cpuViolations)<<16|uint32(c.memViolations))
	}
}

// AllocPage requests one fixed-size (pageSizeKB) page from mgr,
// preferring this contract's preferred NUMA node, and charges it
// against the contract's memory budget. In SAFE_MODE every allocation
// is denied outright without touching the PMM. Otherwise, a charge
// that would exceed the budget counts as a violation, possibly
// escalating the contract's state, and is denied before the PMM is
// ever consulted; one that fits is forwarded to mgr, and only charged
// once the PMM allocation itself succeeds.
func (c *Contract) AllocPage(mgr *pmm.Manager) (uint32, bool) {
	if c.state == StateSafeMode {
		c.rec.Log(flightrec.EventMemAllocFail, 0, 0, 0)
		return 0, false
	}

	if c.memUsedKB+pageSizeKB > c.MemoryKB {
		c.recordMemViolation()
		c.rec.Log(flightrec.EventMemAllocFail, 0, 0, 0)
		return 0, false
	}

	pfn, ok := mgr.AllocPage(uint8(c.preferredNode))
	if !ok {
		c.rec.Log(flightrec.EventMemAllocFail, 0, 0, 0)
		return 0, false
	}

	c.memUsedKB += pageSizeKB
	c.rec.Log(flightrec.EventMemAlloc, 0, 0, 1)
	return pfn, true
}

// FreePage returns pfn to mgr and credits pageSizeKB back to the
// contract's memory budget, floored at zero.
func (c *Contract) FreePage(mgr *pmm.Manager, pfn uint32) error {
	if pageSizeKB > c.memUsedKB {
		c.memUsedKB = 0
	} else {
		c.memUsedKB -= pageSizeKB
	}
	err := mgr.FreePage(pfn)
	c.rec.Log(flightrec.EventMemFree, 0, 0, 1)
	return err
}

// recordMemViolation registers a memory budget violation without
// logging, possibly escalating the contract state.
func (c *Contract) recordMemViolation() {
	c.memViolations++
	switch {
	case c.state == StateOK:
		c.setState(StateWarned)
	case c.state == StateWarned && c.memViolations >= memViolationsToSafeMode:
		c.setState(StateSafeMode)
	}
}

// RecordCPUViolation registers a CPU budget violation (a step or job ran
// over its allotted CPU time), possibly escalating the contract state.
func (c *Contract) RecordCPUViolation() {
	c.cpuViolations++
	switch {
	case c.state == StateOK:
		c.setState(StateWarned)
	case c.state == StateWarned && c.cpuViolations >= cpuViolationsToSafeMode:
		c.setState(StateSafeMode)
	}
}

// ChargeCPU adds usec to the contract's accumulated CPU usage and
// reports whether the job has now run over its total CPU budget. A
// violation registers a CPU budget hit and logs CONTRACT_BUDGET_EXCEED,
// possibly escalating the contract's state.
func (c *Contract) ChargeCPU(usec uint64) bool {
	c.cpuUsedUs += usec
	if c.cpuUsedUs <= c.CPUBudgetUs {
		return false
	}
	c.RecordCPUViolation()
	c.rec.Log(flightrec.EventContractBudgetExceed, 0, 0, uint32(usec))
	return true
}

// ChargeMemory adds kb to the contract's charged memory and reports
// whether it now exceeds the memory budget, symmetric to ChargeCPU.
func (c *Contract) ChargeMemory(kb uint64) bool {
	c.memUsedKB += kb
	if c.memUsedKB <= c.MemoryKB {
		return false
	}
	c.recordMemViolation()
	c.rec.Log(flightrec.EventContractBudgetExceed, 0, 0, uint32(kb))
	return true
}

func stepCostUsec(kind jobgraph.StepKind) uint64 {
	switch kind {
	case jobgraph.StepCompute:
		return computeStepUsec
	case jobgraph.StepCollective:
		return collectiveStepUsec
	case jobgraph.StepIO:
		return ioStepUsec
	case jobgraph.StepControl:
		return controlStepUsec
	default:
		return computeStepUsec
	}
}

// AdmitJob decides whether a job graph may be admitted under this
// contract, in five steps: reject if its peak memory exceeds the
// budget, reject if its pinned memory exceeds the budget, reject if its
// peak memory exceeds what's currently available, warn (but do not
// reject) if its estimated CPU cost exceeds the CPU budget, and
// otherwise admit.
func (c *Contract) AdmitJob(g *jobgraph.Graph) AdmitResult {
	mem := g.ComputeMemory()

	if mem.PeakMemoryKB > c.MemoryKB {
		c.rec.Log(flightrec.EventJobReject, 0, 0, uint32(mem.PeakMemoryKB))
		return AdmitRejectMemory
	}
	if mem.PinnedMemoryKB > c.MemoryKB {
		c.rec.Log(flightrec.EventJobReject, 0, 0, uint32(mem.PeakMemoryKB))
		return AdmitRejectMemory
	}

	available := c.MemoryKB - c.memUsedKB
	if mem.PeakMemoryKB > available {
		return AdmitRejectNoResources
	}

	cpuEstimate := estimateJobCPUUsec(g)
	if cpuEstimate > c.CPUBudgetUs {
		c.rec.Log(flightrec.EventBudgetWarn, 0, 0, uint32(cpuEstimate))
	}

	c.rec.Log(flightrec.EventJobAdmit, 0, 0, uint32(mem.PeakMemoryKB))
	return AdmitOK
}

// estimateJobCPUUsec sums per-step CPU cost estimates across every step
// currently in g.
func estimateJobCPUUsec(g *jobgraph.Graph) uint64 {
	var total uint64
	for _, s := range g.Steps() {
		total += stepCostUsec(s.Kind)
	}
	return total
}
