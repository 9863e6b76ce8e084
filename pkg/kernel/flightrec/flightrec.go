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

// Package flightrec is the kernel's lock-free-style event recorder: a
// fixed-capacity ring of trace events plus a small table of active
// timing spans. Logging an event never allocates and never blocks,
// matching the non-blocking recorder a real-time core needs.
package flightrec

import (
	"fmt"

	"github.com/zenedge/kernel/pkg/kernel/platform"
	"github.com/zenedge/kernel/pkg/kernel/timesource"
)

// EventType identifies the kind of event recorded in the ring.
type EventType int

const (
	EventStepStart EventType = iota
	EventStepEnd
	EventJobSubmit
	EventJobComplete
	EventJobAdmit
	EventAllocFail
	EventMemAlloc
	EventMemFree
	EventContractApply
	EventContractStateChange
	EventContractSafeMode
	EventContractViolation
	EventContractBudgetWarn
	EventContractBudgetExceed
	EventBudgetWarn
	EventTimeout
	EventJobReject
	EventMemLocalityMiss
	EventMemNodeUnsupported
	EventMemAllocFail
)

func (t EventType) String() string {
	switch t {
	case EventStepStart:
		return "STEP_START"
	case EventStepEnd:
		return "STEP_END"
	case EventJobSubmit:
		return "JOB_SUBMIT"
	case EventJobComplete:
		return "JOB_COMPLETE"
	case EventJobAdmit:
		return "JOB_ADMIT"
	case EventAllocFail:
		return "ALLOC_FAIL"
	case EventMemAlloc:
		return "MEM_ALLOC"
	case EventMemFree:
		return "MEM_FREE"
	case EventContractApply:
		return "CONTRACT_APPLY"
	case EventContractStateChange:
		return "CONTRACT_STATE_CHANGE"
	case EventContractSafeMode:
		return "CONTRACT_SAFE_MODE"
	case EventContractViolation:
		return "CONTRACT_VIOLATION"
	case EventContractBudgetWarn:
		return "CONTRACT_BUDGET_WARN"
	case EventContractBudgetExceed:
		return "CONTRACT_BUDGET_EXCEED"
	case EventBudgetWarn:
		return "BUDGET_WARN"
	case EventTimeout:
		return "TIMEOUT"
	case EventJobReject:
		return "JOB_REJECT"
	case EventMemLocalityMiss:
		return "MEM_LOCALITY_MISS"
	case EventMemNodeUnsupported:
		return "MEM_NODE_UNSUPPORTED"
	case EventMemAllocFail:
		return "MEM_ALLOC_FAIL"
	default:
		return "UNKNOWN"
	}
}

// Event is a single flight-recorder entry.
type Event struct {
	TsCycles uint64
	TsUsec   uint64
	Type     EventType
	JobID    uint32
	StepID   uint32
	Extra    uint32
}

// MaxActiveSpans bounds the number of concurrently open spans, mirroring
// the fixed span table of the original recorder.
const MaxActiveSpans = 16

// invalidHandle is returned by BeginSpan when the span table is full.
const invalidHandle = 0

const spanFullExtra = 0xDEAD

type span struct {
	active      bool
	jobID       uint32
	stepID      uint32
	startCycles uint64
	startType   EventType
}

// Recorder is a fixed-capacity, non-blocking ring of Events plus a small
// table of open timing spans.
type Recorder struct {
	ts    *timesource.Source
	buf   []Event
	mask  uint64
	head  uint64
	spans [MaxActiveSpans]span
}

// New creates a Recorder with a ring of size entries. size must be a
// power of two; it is rounded up to the next one otherwise.
func New(ts *timesource.Source, size int) *Recorder {
	size = nextPowerOfTwo(size)
	return &Recorder{
		ts:   ts,
		buf:  make([]Event, size),
		mask: uint64(size - 1),
	}
}

func nextPowerOfTwo(n int) int {
	if n < 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Log appends an event to the ring, overwriting the oldest entry once
// full. It never blocks and never allocates.
func (r *Recorder) Log(typ EventType, jobID, stepID, extra uint32) {
	cycles := r.ts.NowCycles()
	r.buf[r.head&r.mask] = Event{
		TsCycles: cycles,
		TsUsec:   r.ts.CyclesToUsec(cycles),
		Type:     typ,
		JobID:    jobID,
		StepID:   stepID,
		Extra:    extra,
	}
	r.head++
}

// BeginSpan opens a timing span for (jobID, stepID), logging startType.
// It returns a handle to pass to EndSpan, or 0 if the span table is full
// (in which case a CONTRACT_VIOLATION event is logged instead).
func (r *Recorder) BeginSpan(jobID, stepID uint32, startType EventType) int {
	for i := range r.spans {
		if !r.spans[i].active {
			r.spans[i] = span{
				active:      true,
				jobID:       jobID,
				stepID:      stepID,
				startCycles: r.ts.NowCycles(),
				startType:   startType,
			}
			r.Log(startType, jobID, stepID, 0)
			return i + 1
		}
	}
	r.Log(EventContractViolation, jobID, stepID, spanFullExtra)
	return invalidHandle
}

// EndSpan closes the span identified by handle, logging endType with an
// Extra field set to the span's duration in microseconds.
func (r *Recorder) EndSpan(handle int, endType EventType) error {
	if handle <= 0 || handle > MaxActiveSpans {
		return fmt.Errorf("flightrec: invalid span handle %d", handle)
	}
	idx := handle - 1
	sp := &r.spans[idx]
	if !sp.active {
		return fmt.Errorf("flightrec: span handle %d is not active", handle)
	}

	elapsed := r.ts.NowCycles() - sp.startCycles
	duration := r.ts.CyclesToUsec(elapsed)
	r.Log(endType, sp.jobID, sp.stepID, uint32(duration))
	sp.active = false
	return nil
}

// LastDuration scans the ring from newest to oldest for the most recent
// STEP_END event matching (jobID, stepID) and returns its recorded
// duration in microseconds, or 0 if none is found.
func (r *Recorder) LastDuration(jobID, stepID uint32) uint32 {
	n := uint64(len(r.buf))
	count := r.head
	if count > n {
		count = n
	}
	for i := uint64(0); i < count; i++ {
		idx := (r.head - 1 - i) & r.mask
		e := r.buf[idx]
		if e.Type == EventStepEnd && e.JobID == jobID && e.StepID == stepID {
			return e.Extra
		}
	}
	return 0
}

// JobStats summarizes a job's recorded activity.
type JobStats struct {
	StepsCompleted uint32
	TotalCPUUsec   uint64
	Violations     uint32
	TotalWallUsec  uint64
}

// GetJobStats aggregates all ring entries for jobID into a JobStats.
func (r *Recorder) GetJobStats(jobID uint32) JobStats {
	var (
		stats   JobStats
		firstTs uint64
		lastTs  uint64
		sawAny  bool
	)

	n := uint64(len(r.buf))
	count := r.head
	if count > n {
		count = n
	}
	start := r.head - count

	for i := start; i < r.head; i++ {
		e := r.buf[i&r.mask]
		if e.JobID != jobID {
			continue
		}
		switch e.Type {
		case EventStepEnd:
			stats.StepsCompleted++
			stats.TotalCPUUsec += uint64(e.Extra)
		case EventContractViolation, EventContractBudgetExceed:
			stats.Violations++
		}
		if !sawAny {
			firstTs = e.TsUsec
			sawAny = true
		}
		lastTs = e.TsUsec
	}

	if sawAny {
		stats.TotalWallUsec = lastTs - firstTs
	}
	return stats
}

// Buffer returns a snapshot slice of the events currently held in the
// ring, oldest first, for diagnostic dumps.
func (r *Recorder) Buffer() []Event {
	n := uint64(len(r.buf))
	count := r.head
	if count > n {
		count = n
	}
	start := r.head - count
	out := make([]Event, 0, count)
	for i := start; i < r.head; i++ {
		out = append(out, r.buf[i&r.mask])
	}
	return out
}

// DumpConsole writes every recorded event to w in a human-readable form.
func (r *Recorder) DumpConsole(w platform.Platform) {
	console := w.Console()
	for _, e := range r.Buffer() {
		fmt.Fprintf(console, "[%10d us] %-24s job=%d step=%d extra=%d\n",
			e.TsUsec, e.Type.String(), e.JobID, e.StepID, e.Extra)
	}
}
