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

package flightrec_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenedge/kernel/pkg/kernel/flightrec"
	"github.com/zenedge/kernel/pkg/kernel/platform"
	"github.com/zenedge/kernel/pkg/kernel/timesource"
)

func newRecorder(t *testing.T, size int) (*flightrec.Recorder, *platform.FakePlatform) {
	t.Helper()
	plat := platform.NewFakePlatform(0, 1000, nil)
	ts := timesource.New(plat, 1000)
	return flightrec.New(ts, size), plat
}

func TestBeginEndSpanRecordsDuration(t *testing.T) {
	rec, plat := newRecorder(t, 16)

	h := rec.BeginSpan(1, 2, flightrec.EventStepStart)
	require.NotZero(t, h)

	plat.AdvanceCycles(900_000) // 900us at 1000 cycles/usec
	require.NoError(t, rec.EndSpan(h, flightrec.EventStepEnd))

	assert.EqualValues(t, 900, rec.LastDuration(1, 2))
}

func TestBeginSpanTableFull(t *testing.T) {
	rec, _ := newRecorder(t, 64)

	handles := make([]int, flightrec.MaxActiveSpans)
	for i := range handles {
		h := rec.BeginSpan(1, uint32(i), flightrec.EventStepStart)
		require.NotZero(t, h)
		handles[i] = h
	}

	// the table is now full; one more Begin must fail
	h := rec.BeginSpan(1, 999, flightrec.EventStepStart)
	assert.Zero(t, h)

	buf := rec.Buffer()
	assert.Equal(t, flightrec.EventContractViolation, buf[len(buf)-1].Type)
	assert.EqualValues(t, 0xDEAD, buf[len(buf)-1].Extra)
}

func TestEndSpanInvalidHandle(t *testing.T) {
	rec, _ := newRecorder(t, 16)
	assert.Error(t, rec.EndSpan(0, flightrec.EventStepEnd))
	assert.Error(t, rec.EndSpan(999, flightrec.EventStepEnd))
}

func TestGetJobStatsAggregates(t *testing.T) {
	rec, plat := newRecorder(t, 64)

	for step := uint32(0); step < 3; step++ {
		h := rec.BeginSpan(7, step, flightrec.EventStepStart)
		plat.AdvanceCycles(100_000)
		require.NoError(t, rec.EndSpan(h, flightrec.EventStepEnd))
	}
	rec.Log(flightrec.EventContractBudgetExceed, 7, 1, 0)

	stats := rec.GetJobStats(7)
	assert.EqualValues(t, 3, stats.StepsCompleted)
	assert.EqualValues(t, 300, stats.TotalCPUUsec)
	assert.EqualValues(t, 1, stats.Violations)
}

func TestRingWrapsAndOverwritesOldest(t *testing.T) {
	rec, _ := newRecorder(t, 4)
	for i := uint32(0); i < 10; i++ {
		rec.Log(flightrec.EventJobSubmit, i, 0, 0)
	}
	buf := rec.Buffer()
	require.Len(t, buf, 4)
	// only the last 4 job ids (6,7,8,9) should remain
	assert.EqualValues(t, 6, buf[0].JobID)
	assert.EqualValues(t, 9, buf[3].JobID)
}
