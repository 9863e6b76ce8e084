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

// Package jobgraph is a bounded DAG of compute steps and the tensors
// they read and write. Steps, dependencies, and tensors all live in
// small fixed-capacity arrays, the way a kernel-resident graph would be
// carved out of a slab rather than grown with a general allocator.
package jobgraph

import "fmt"

const (
	// MaxSteps bounds the number of steps a single job graph may hold.
	MaxSteps = 32
	// MaxTensors bounds the number of tensors a single job graph may hold.
	MaxTensors = 64
	// MaxStepDeps bounds the number of dependencies a single step may have.
	MaxStepDeps = 4
	// MaxStepInputs bounds the number of input tensors a single step may have.
	MaxStepInputs = 4
	// MaxStepOutputs bounds the number of output tensors a single step may have.
	MaxStepOutputs = 2
)

// StepKind identifies the kind of work a step performs.
type StepKind int

const (
	StepCompute StepKind = iota
	StepCollective
	StepIO
	StepControl
)

// DType identifies a tensor's element type.
type DType int

const (
	DTypeFloat32 DType = iota
	DTypeFloat16
	DTypeInt32
	DTypeInt16
	DTypeInt8
	DTypeUint8
)

// DTypeSize returns the size in bytes of a single element of dt.
func DTypeSize(dt DType) uint64 {
	switch dt {
	case DTypeFloat32, DTypeInt32:
		return 4
	case DTypeFloat16, DTypeInt16:
		return 2
	case DTypeInt8, DTypeUint8:
		return 1
	default:
		return 0
	}
}

// Tensor describes one tensor owned by a job graph.
type Tensor struct {
	ID        uint32
	DType     DType
	SizeBytes uint64
	Pinned    bool
}

// Step is one node in the job graph.
type Step struct {
	ID         uint32
	Kind       StepKind
	Deps       [MaxStepDeps]uint32
	NumDeps    int
	Inputs     [MaxStepInputs]uint32
	NumInputs  int
	Outputs    [MaxStepOutputs]uint32
	NumOutputs int
	Ready      bool
	Completed  bool
}

// MemoryReport summarizes a job graph's memory footprint.
type MemoryReport struct {
	PeakMemoryKB   uint64
	TotalMemoryKB  uint64
	PinnedMemoryKB uint64
}

// Graph is a bounded DAG of Steps over a bounded pool of Tensors.
type Graph struct {
	steps      [MaxSteps]Step
	numSteps   int
	tensors    [MaxTensors]Tensor
	numTensors int
}

// New returns an empty job graph.
func New() *Graph {
	return &Graph{}
}

func (g *Graph) findStepIndex(id uint32) int {
	for i := 0; i < g.numSteps; i++ {
		if g.steps[i].ID == id {
			return i
		}
	}
	return -1
}

func (g *Graph) findTensorIndex(id uint32) int {
	for i := 0; i < g.numTensors; i++ {
		if g.tensors[i].ID == id {
			return i
		}
	}
	return -1
}

// AddStep appends a new step with no dependencies (so it starts ready).
// Fails once MaxSteps is reached or if id is already in use.
func (g *Graph) AddStep(id uint32, kind StepKind) error {
	if g.numSteps >= MaxSteps {
		return fmt.Errorf("jobgraph: step capacity (%d) exceeded", MaxSteps)
	}
	if g.findStepIndex(id) >= 0 {
		return fmt.Errorf("jobgraph: duplicate step id %d", id)
	}
	g.steps[g.numSteps] = Step{
		ID:    id,
		Kind:  kind,
		Ready: true,
	}
	g.numSteps++
	return nil
}

// AddDep records that step depends on dep, which makes step not-ready
// until dep (and every other dependency of step) has completed.
func (g *Graph) AddDep(step, dep uint32) error {
	si := g.findStepIndex(step)
	if si < 0 {
		return fmt.Errorf("jobgraph: unknown step %d", step)
	}
	if g.findStepIndex(dep) < 0 {
		return fmt.Errorf("jobgraph: unknown dependency %d", dep)
	}
	s := &g.steps[si]
	if s.NumDeps >= MaxStepDeps {
		return fmt.Errorf("jobgraph: step %d dependency capacity (%d) exceeded", step, MaxStepDeps)
	}
	s.Deps[s.NumDeps] = dep
	s.NumDeps++
	s.Ready = false
	return nil
}

// AddTensor registers a new tensor. Fails once MaxTensors is reached or
// if id is already in use.
func (g *Graph) AddTensor(id uint32, dtype DType, sizeBytes uint64, pinned bool) error {
	if g.numTensors >= MaxTensors {
		return fmt.Errorf("jobgraph: tensor capacity (%d) exceeded", MaxTensors)
	}
	if g.findTensorIndex(id) >= 0 {
		return fmt.Errorf("jobgraph: duplicate tensor id %d", id)
	}
	g.tensors[g.numTensors] = Tensor{
		ID:        id,
		DType:     dtype,
		SizeBytes: sizeBytes,
		Pinned:    pinned,
	}
	g.numTensors++
	return nil
}

// StepAddInput records tensor as an input of step.
func (g *Graph) StepAddInput(step, tensor uint32) error {
	si := g.findStepIndex(step)
	if si < 0 {
		return fmt.Errorf("jobgraph: unknown step %d", step)
	}
	if g.findTensorIndex(tensor) < 0 {
		return fmt.Errorf("jobgraph: unknown tensor %d", tensor)
	}
	s := &g.steps[si]
	if s.NumInputs >= MaxStepInputs {
		return fmt.Errorf("jobgraph: step %d input capacity (%d) exceeded", step, MaxStepInputs)
	}
	s.Inputs[s.NumInputs] = tensor
	s.NumInputs++
	return nil
}

// StepAddOutput records tensor as an output of step.
func (g *Graph) StepAddOutput(step, tensor uint32) error {
	si := g.findStepIndex(step)
	if si < 0 {
		return fmt.Errorf("jobgraph: unknown step %d", step)
	}
	if g.findTensorIndex(tensor) < 0 {
		return fmt.Errorf("jobgraph: unknown tensor %d", tensor)
	}
	s := &g.steps[si]
	if s.NumOutputs >= MaxStepOutputs {
		return fmt.Errorf("jobgraph: step %d output capacity (%d) exceeded", step, MaxStepOutputs)
	}
	s.Outputs[s.NumOutputs] = tensor
	s.NumOutputs++
	return nil
}

// MarkCompleted marks step as completed, then rescans every incomplete
// step and marks any whose dependencies are now all completed as ready.
// This is a naive O(steps*deps) rescan, fine for a job graph this small.
func (g *Graph) MarkCompleted(step uint32) error {
	si := g.findStepIndex(step)
	if si < 0 {
		return fmt.Errorf("jobgraph: unknown step %d", step)
	}
	g.steps[si].Completed = true

	for i := 0; i < g.numSteps; i++ {
		s := &g.steps[i]
		if s.Completed {
			continue
		}
		allDone := true
		for d := 0; d < s.NumDeps; d++ {
			di := g.findStepIndex(s.Deps[d])
			if di < 0 || !g.steps[di].Completed {
				allDone = false
				break
			}
		}
		if allDone {
			s.Ready = true
		}
	}
	return nil
}

// NextReady returns the id of the first ready, not-yet-completed step in
// insertion order, and true. If no step is ready, it returns (0, false).
func (g *Graph) NextReady() (uint32, bool) {
	for i := 0; i < g.numSteps; i++ {
		s := &g.steps[i]
		if s.Ready && !s.Completed {
			return s.ID, true
		}
	}
	return 0, false
}

// GetStep returns a copy of the step with the given id.
func (g *Graph) GetStep(id uint32) (Step, bool) {
	i := g.findStepIndex(id)
	if i < 0 {
		return Step{}, false
	}
	return g.steps[i], true
}

// GetTensor returns a copy of the tensor with the given id.
func (g *Graph) GetTensor(id uint32) (Tensor, bool) {
	i := g.findTensorIndex(id)
	if i < 0 {
		return Tensor{}, false
	}
	return g.tensors[i], true
}

// NumSteps returns the number of steps currently in the graph.
func (g *Graph) NumSteps() int {
	return g.numSteps
}

// Steps returns a snapshot of every step currently in the graph, in
// insertion order.
func (g *Graph) Steps() []Step {
	out := make([]Step, g.numSteps)
	copy(out, g.steps[:g.numSteps])
	return out
}

func kb(bytes uint64) uint64 {
	return (bytes + 1023) / 1024
}

// ComputeMemory computes the graph's working-set, peak, total, and
// pinned memory footprint in KB. A step's working set is the sum of its
// inputs' and outputs' tensor sizes; the graph's peak is the largest
// single step's working set; total and pinned are summed across every
// tensor in the graph regardless of which step references them.
func (g *Graph) ComputeMemory() MemoryReport {
	var report MemoryReport

	for i := 0; i < g.numSteps; i++ {
		s := &g.steps[i]
		var workingSet uint64
		for j := 0; j < s.NumInputs; j++ {
			if t, ok := g.GetTensor(s.Inputs[j]); ok {
				workingSet += kb(t.SizeBytes)
			}
		}
		for j := 0; j < s.NumOutputs; j++ {
			if t, ok := g.GetTensor(s.Outputs[j]); ok {
				workingSet += kb(t.SizeBytes)
			}
		}
		if workingSet > report.PeakMemoryKB {
			report.PeakMemoryKB = workingSet
		}
	}

	for i := 0; i < g.numTensors; i++ {
		t := &g.tensors[i]
		size := kb(t.SizeBytes)
		report.TotalMemoryKB += size
		if t.Pinned {
			report.PinnedMemoryKB += size
		}
	}

	return report
}
