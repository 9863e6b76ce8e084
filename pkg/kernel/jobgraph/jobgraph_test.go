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

package jobgraph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenedge/kernel/pkg/kernel/jobgraph"
)

func TestStepWithNoDepsStartsReady(t *testing.T) {
	g := jobgraph.New()
	require.NoError(t, g.AddStep(1, jobgraph.StepCompute))

	id, ok := g.NextReady()
	require.True(t, ok)
	assert.EqualValues(t, 1, id)
}

func TestStepWithDepBecomesReadyOnlyAfterCompletion(t *testing.T) {
	g := jobgraph.New()
	require.NoError(t, g.AddStep(1, jobgraph.StepCompute))
	require.NoError(t, g.AddStep(2, jobgraph.StepCompute))
	require.NoError(t, g.AddDep(2, 1))

	step2, ok := g.GetStep(2)
	require.True(t, ok)
	assert.False(t, step2.Ready)

	require.NoError(t, g.MarkCompleted(1))

	step2, ok = g.GetStep(2)
	require.True(t, ok)
	assert.True(t, step2.Ready)
}

func TestNextReadyReturnsInsertionOrder(t *testing.T) {
	g := jobgraph.New()
	require.NoError(t, g.AddStep(5, jobgraph.StepCompute))
	require.NoError(t, g.AddStep(3, jobgraph.StepCompute))

	id, ok := g.NextReady()
	require.True(t, ok)
	assert.EqualValues(t, 5, id)
}

func TestNextReadyExhausted(t *testing.T) {
	g := jobgraph.New()
	require.NoError(t, g.AddStep(1, jobgraph.StepCompute))
	require.NoError(t, g.MarkCompleted(1))

	_, ok := g.NextReady()
	assert.False(t, ok)
}

func TestStepCapacityExceeded(t *testing.T) {
	g := jobgraph.New()
	for i := 0; i < jobgraph.MaxSteps; i++ {
		require.NoError(t, g.AddStep(uint32(i), jobgraph.StepCompute))
	}
	assert.Error(t, g.AddStep(uint32(jobgraph.MaxSteps), jobgraph.StepCompute))
}

func TestComputeMemory(t *testing.T) {
	g := jobgraph.New()
	require.NoError(t, g.AddStep(1, jobgraph.StepCompute))
	require.NoError(t, g.AddTensor(10, jobgraph.DTypeFloat32, 4096, false))  // 4KB
	require.NoError(t, g.AddTensor(11, jobgraph.DTypeFloat32, 1024, true)) // 1KB, pinned
	require.NoError(t, g.StepAddInput(1, 10))
	require.NoError(t, g.StepAddOutput(1, 11))

	mem := g.ComputeMemory()
	assert.EqualValues(t, 5, mem.PeakMemoryKB)
	assert.EqualValues(t, 5, mem.TotalMemoryKB)
	assert.EqualValues(t, 1, mem.PinnedMemoryKB)
}

func TestAddDepUnknownStep(t *testing.T) {
	g := jobgraph.New()
	require.NoError(t, g.AddStep(1, jobgraph.StepCompute))
	assert.Error(t, g.AddDep(1, 999))
	assert.Error(t, g.AddDep(999, 1))
}
