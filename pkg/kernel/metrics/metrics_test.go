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

package metrics_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenedge/kernel/pkg/kernel/blobheap"
	"github.com/zenedge/kernel/pkg/kernel/contract"
	"github.com/zenedge/kernel/pkg/kernel/flightrec"
	"github.com/zenedge/kernel/pkg/kernel/ipc"
	kernelmetrics "github.com/zenedge/kernel/pkg/kernel/metrics"
	"github.com/zenedge/kernel/pkg/kernel/pmm"
	"github.com/zenedge/kernel/pkg/kernel/platform"
	"github.com/zenedge/kernel/pkg/kernel/timesource"
	"github.com/zenedge/kernel/pkg/metrics"
)

func newComponents(t *testing.T) kernelmetrics.Components {
	t.Helper()
	plat := platform.NewFakePlatform(0, 1000, nil)
	ts := timesource.New(plat, 1000)
	rec := flightrec.New(ts, 256)

	mgr := pmm.New(rec, 8192)
	heap := blobheap.New(make([]byte, 4096))

	mem := make([]byte, ipc.DoorbellOffset+ipc.DoorbellSize)
	transport, err := ipc.New(rec, ts, mem)
	require.NoError(t, err)

	c := contract.New(rec, contract.PriorityNormal, 1024, 50_000)

	return kernelmetrics.Components{
		PMM:       mgr,
		Transport: transport,
		Heap:      heap,
		Contracts: map[string]*contract.Contract{"job-a": c},
	}
}

func TestRegisterAllSucceeds(t *testing.T) {
	reg := metrics.NewRegistry()
	assert.NoError(t, kernelmetrics.RegisterAll(reg, newComponents(t)))
}

func TestRegisterAllGathersExpectedMetrics(t *testing.T) {
	reg := metrics.NewRegistry()
	require.NoError(t, kernelmetrics.RegisterAll(reg, newComponents(t)))

	g, err := reg.Gatherer(metrics.WithoutPolling(), metrics.WithMetrics([]string{"*"}, nil))
	require.NoError(t, err)

	families, err := g.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}

	assert.True(t, names["pmm_free_memory_bytes"])
	assert.True(t, names["pmm_used_memory_bytes"])
	assert.True(t, names["contract_state"])
	assert.True(t, names["contract_mem_used_kb"])
	assert.True(t, names["ipc_cmd_ring_pending"])
	assert.True(t, names["ipc_rsp_ring_pending"])
	assert.True(t, names["blobheap_free_bytes"])
	assert.True(t, names["blobheap_blob_count"])
}

func TestRegisterAllSkipsNilComponents(t *testing.T) {
	reg := metrics.NewRegistry()
	assert.NoError(t, kernelmetrics.RegisterAll(reg, kernelmetrics.Components{}))
}
