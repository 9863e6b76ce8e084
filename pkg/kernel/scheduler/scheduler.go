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

// Package scheduler drives one job graph to completion: it pulls ready
// steps off the graph, stages COMPUTE step inputs through the PMM and
// shared tensor heap before offloading across the IPC transport to the
// Linux bridge peer (with adaptive spin-then-sleep polling for the
// response), simulates every other step kind locally, and charges each
// step's duration against the owning contract's CPU budget, halting the
// job before its next step once the contract enters SAFE_MODE.
package scheduler

import (
	"fmt"

	"github.com/zenedge/kernel/pkg/kernel/blobheap"
	"github.com/zenedge/kernel/pkg/kernel/contract"
	"github.com/zenedge/kernel/pkg/kernel/flightrec"
	"github.com/zenedge/kernel/pkg/kernel/ipc"
	"github.com/zenedge/kernel/pkg/kernel/jobgraph"
	"github.com/zenedge/kernel/pkg/kernel/platform"
	"github.com/zenedge/kernel/pkg/kernel/pmm"
	"github.com/zenedge/kernel/pkg/kernel/timesource"
)

// spinThresholdUsec is how long a COMPUTE step's response is polled by
// busy-waiting before falling back to sleeping between polls.
const spinThresholdUsec = 100000

// pollTimeoutMS bounds how long a COMPUTE step will sleep-poll for a
// response once the spin threshold has been crossed, one millisecond of
// budget consumed per sleep.
const pollTimeoutMS = 5000

// budgetWarnPercent is the fraction of a step's per-step budget above
// which a non-violating but approaching-budget warning is logged.
const budgetWarnPercent = 80

// nonComputeSimTicks is how long a non-COMPUTE step's local simulation
// busy-waits, standing in for the work a real collective/IO/control
// step would do in place.
const nonComputeSimTicks = 100000

// Scheduler drives job graphs to completion against a flight recorder,
// a time source, an IPC transport to the bridge peer, the physical
// memory manager backing contract-governed page allocation, and the
// shared tensor heap backing compute-step offload payloads.
type Scheduler struct {
	rec       *flightrec.Recorder
	ts        *timesource.Source
	plat      platform.Platform
	transport *ipc.Transport
	mgr       *pmm.Manager
	heap      *blobheap.Heap
}

// New creates a Scheduler wired to the given recorder, time source,
// platform, IPC transport, physical memory manager, and shared tensor
// heap.
func New(rec *flightrec.Recorder, ts *timesource.Source, plat platform.Platform, transport *ipc.Transport, mgr *pmm.Manager, heap *blobheap.Heap) *Scheduler {
	return &Scheduler{rec: rec, ts: ts, plat: plat, transport: transport, mgr: mgr, heap: heap}
}

// RunJob drives g to completion under c's CPU budget and returns the
// flight recorder's aggregated stats for jobID.
func (s *Scheduler) RunJob(jobID uint32, g *jobgraph.Graph, c *contract.Contract) (flightrec.JobStats, error) {
	numSteps := g.NumSteps()
	if numSteps == 0 {
		return flightrec.JobStats{}, fmt.Errorf("scheduler: job %d has no steps", jobID)
	}

	s.rec.Log(flightrec.EventJobSubmit, jobID, 0, uint32(numSteps))

	perStepBudget := c.CPUBudgetUs / uint64(numSteps)

	for {
		if !c.CanContinue() {
			break
		}

		sid, ok := g.NextReady()
		if !ok {
			break
		}
		step, ok := g.GetStep(sid)
		if !ok {
			return flightrec.JobStats{}, fmt.Errorf("scheduler: ready step %d vanished from graph", sid)
		}

		handle := s.rec.BeginSpan(jobID, sid, flightrec.EventStepStart)
		s.executeStep(c, g, step)
		if err := s.rec.EndSpan(handle, flightrec.EventStepEnd); err != nil {
			return flightrec.JobStats{}, fmt.Errorf("scheduler: ending span for step %d: %w", sid, err)
		}

		duration := uint64(s.rec.LastDuration(jobID, sid))
		if violated := c.ChargeCPU(duration); !violated && duration > perStepBudget*budgetWarnPercent/100 {
			s.rec.Log(flightrec.EventContractBudgetWarn, jobID, sid, uint32(duration))
		}

		if err := g.MarkCompleted(sid); err != nil {
			return flightrec.JobStats{}, fmt.Errorf("scheduler: marking step %d completed: %w", sid, err)
		}
	}

	s.rec.Log(flightrec.EventJobComplete, jobID, 0, 0)
	return s.rec.GetJobStats(jobID), nil
}

// executeStep runs one step: COMPUTE steps are offloaded across the IPC
// transport to the bridge peer, everything else is simulated locally.
func (s *Scheduler) executeStep(c *contract.Contract, g *jobgraph.Graph, step jobgraph.Step) {
	if step.Kind != jobgraph.StepCompute {
		s.plat.BusyWaitTicks(nonComputeSimTicks)
		return
	}
	s.executeComputeStep(c, g, step)
}

func (s *Scheduler) executeComputeStep(c *contract.Contract, g *jobgraph.Graph, step jobgraph.Step) {
	var payloadID uint32
	if step.NumInputs > 0 {
		if t, ok := g.GetTensor(step.Inputs[0]); ok {
			if blobID, ok := s.stageInputTensor(c, t); ok {
				payloadID = uint32(blobID)
			}
		}
	}

	start := s.ts.NowCycles()
	if err := s.transport.Send(ipc.CmdRunModel, payloadID); err != nil {
		s.rec.Log(flightrec.EventAllocFail, 0, step.ID, 0)
		return
	}

	remainingSleeps := pollTimeoutMS
	for {
		if rsp, ok := s.transport.PollResponse(); ok {
			s.recordComputeResult(step, rsp)
			return
		}

		elapsed := s.ts.CyclesToUsec(s.ts.NowCycles() - start)
		if elapsed < spinThresholdUsec {
			s.plat.BusyWaitTicks(1)
			continue
		}

		if remainingSleeps <= 0 {
			s.rec.Log(flightrec.EventTimeout, 0, step.ID, 0)
			return
		}
		s.plat.SleepMS(1)
		remainingSleeps--
	}
}

// stageInputTensor reserves the input tensor's physical backing through
// c's NUMA-aware page budget, then publishes the tensor itself as a
// blob on the shared heap, returning the blob ID the bridge peer can
// resolve. It returns (0, false) if either step fails, in which case
// the caller falls back to sending the command with no payload
// reference.
func (s *Scheduler) stageInputTensor(c *contract.Contract, t jobgraph.Tensor) (uint16, bool) {
	if s.mgr == nil || s.heap == nil {
		return 0, false
	}

	pagesNeeded := (t.SizeBytes + pmm.PageSize - 1) / pmm.PageSize
	if pagesNeeded == 0 {
		pagesNeeded = 1
	}
	for i := uint64(0); i < pagesNeeded; i++ {
		if _, ok := c.AllocPage(s.mgr); !ok {
			s.rec.Log(flightrec.EventMemAllocFail, 0, t.ID, 0)
			return 0, false
		}
	}

	elemSize := jobgraph.DTypeSize(t.DType)
	if elemSize == 0 {
		elemSize = 1
	}
	nelem := uint32(t.SizeBytes / elemSize)
	if nelem == 0 {
		nelem = 1
	}

	blobID, err := s.heap.AllocTensor(blobheap.DType(t.DType), []uint32{nelem})
	if err != nil {
		s.rec.Log(flightrec.EventMemAllocFail, 0, t.ID, 0)
		return 0, false
	}

	if _, data, err := s.heap.GetTensorData(blobID); err == nil {
		s.rec.Log(flightrec.EventMemAlloc, 0, t.ID, uint32(len(data)))
	}

	return blobID, true
}

func (s *Scheduler) recordComputeResult(step jobgraph.Step, rsp ipc.Response) {
	if rsp.Status != ipc.RspOK {
		s.rec.Log(flightrec.EventContractViolation, 0, step.ID, uint32(rsp.Status))
	}
}
