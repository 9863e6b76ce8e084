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

package contract_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenedge/kernel/pkg/kernel/contract"
	"github.com/zenedge/kernel/pkg/kernel/flightrec"
	"github.com/zenedge/kernel/pkg/kernel/jobgraph"
	"github.com/zenedge/kernel/pkg/kernel/platform"
	"github.com/zenedge/kernel/pkg/kernel/pmm"
	"github.com/zenedge/kernel/pkg/kernel/timesource"
)

func newRecorder(t *testing.T) *flightrec.Recorder {
	t.Helper()
	plat := platform.NewFakePlatform(0, 1000, nil)
	ts := timesource.New(plat, 1000)
	return flightrec.New(ts, 256)
}

func TestApplyPicksNodeByPriority(t *testing.T) {
	rec := newRecorder(t)

	rt := contract.New(rec, contract.PriorityRealtime, 64, 50000)
	assert.Equal(t, contract.NodeLocal, rt.PreferredNode())

	bg := contract.New(rec, contract.PriorityLow, 64, 50000)
	assert.Equal(t, contract.NodeRemote, bg.PreferredNode())
}

func TestAdmitJobRejectsOverPeakMemory(t *testing.T) {
	rec := newRecorder(t)
	c := contract.New(rec, contract.PriorityNormal, 4, 50000) // 4KB budget

	g := jobgraph.New()
	require.NoError(t, g.AddStep(0, jobgraph.StepCompute))
	require.NoError(t, g.AddTensor(0, jobgraph.DTypeFloat32, 8192, false)) // 8KB
	require.NoError(t, g.StepAddInput(0, 0))

	assert.Equal(t, contract.AdmitRejectMemory, c.AdmitJob(g))
}

func TestAdmitJobWarnsButAdmitsOverCPUBudget(t *testing.T) {
	rec := newRecorder(t)
	c := contract.New(rec, contract.PriorityNormal, 64, 1000) // 1000us budget

	g := jobgraph.New()
	require.NoError(t, g.AddStep(0, jobgraph.StepCollective)) // 3000us estimate

	assert.Equal(t, contract.AdmitOK, c.AdmitJob(g))
}

func TestAllocPageEscalatesToSafeMode(t *testing.T) {
	rec := newRecorder(t)
	mgr := pmm.New(rec, 16*1024) // 16MB, plenty of headroom on node 0
	c := contract.New(rec, contract.PriorityRealtime, 16, 50000) // 16KB budget, 4KB/page

	var pfns []uint32
	for i := 0; i < 4; i++ {
		pfn, ok := c.AllocPage(mgr)
		require.True(t, ok)
		pfns = append(pfns, pfn)
	}
	assert.Equal(t, contract.StateOK, c.State())
	assert.EqualValues(t, 16, c.MemUsedKB())

	// alloc 5: 16+4 > 16 -> OK->WARNED, denied
	_, ok := c.AllocPage(mgr)
	assert.False(t, ok)
	assert.Equal(t, contract.StateWarned, c.State())

	// alloc 6: second violation while WARNED -> SAFE_MODE
	_, ok = c.AllocPage(mgr)
	assert.False(t, ok)
	assert.Equal(t, contract.StateSafeMode, c.State())

	// once in SAFE_MODE, even a fitting allocation is denied
	require.NoError(t, c.FreePage(mgr, pfns[0]))
	_, ok = c.AllocPage(mgr)
	assert.False(t, ok)
}

func TestRecordCPUViolationEscalatesAfterThreeHits(t *testing.T) {
	rec := newRecorder(t)
	c := contract.New(rec, contract.PriorityNormal, 64, 1000)

	c.RecordCPUViolation()
	assert.Equal(t, contract.StateWarned, c.State())
	c.RecordCPUViolation()
	assert.Equal(t, contract.StateWarned, c.State())
	c.RecordCPUViolation()
	assert.Equal(t, contract.StateSafeMode, c.State())
}
