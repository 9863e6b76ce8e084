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

package zenedge_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenedge/kernel/pkg/kernel/config"
	"github.com/zenedge/kernel/pkg/kernel/contract"
	"github.com/zenedge/kernel/pkg/kernel/jobgraph"
	"github.com/zenedge/kernel/pkg/kernel/platform"
	"github.com/zenedge/kernel/pkg/kernel/zenedge"
	"github.com/zenedge/kernel/pkg/metrics"
)

func testConfig() *config.KernelConfig {
	cfg := config.Default()
	cfg.SharedMemBytes = 256 * 1024
	cfg.CyclesPerUsec = 1
	return cfg
}

func TestBootWiresAllComponents(t *testing.T) {
	plat := platform.NewFakePlatform(testConfig().SharedMemBytes, 1000, nil)
	k, err := zenedge.Boot(plat, testConfig())
	require.NoError(t, err)

	assert.NotNil(t, k.PMM())
	assert.NotNil(t, k.Recorder())
	assert.NotNil(t, k.Heap())
	assert.NotNil(t, k.Transport())
	assert.NotNil(t, k.TimeSource())
}

func TestSubmitJobRunsAdmittedJob(t *testing.T) {
	cfg := testConfig()
	plat := platform.NewFakePlatform(cfg.SharedMemBytes, 1000, nil)
	k, err := zenedge.Boot(plat, cfg)
	require.NoError(t, err)

	g := jobgraph.New()
	require.NoError(t, g.AddStep(1, jobgraph.StepControl))

	stats, result, err := k.SubmitJob(42, g, contract.PriorityNormal, 1024, 50_000)
	require.NoError(t, err)
	assert.Equal(t, contract.AdmitOK, result)
	assert.EqualValues(t, 1, stats.StepsCompleted)

	c, ok := k.Contract(42)
	require.True(t, ok)
	assert.Equal(t, contract.StateOK, c.State())
}

func TestSubmitJobRejectsOverBudgetJob(t *testing.T) {
	cfg := testConfig()
	plat := platform.NewFakePlatform(cfg.SharedMemBytes, 1000, nil)
	k, err := zenedge.Boot(plat, cfg)
	require.NoError(t, err)

	g := jobgraph.New()
	require.NoError(t, g.AddStep(1, jobgraph.StepControl))
	require.NoError(t, g.AddTensor(1, jobgraph.DTypeFloat32, 4*1024*1024, false))
	require.NoError(t, g.StepAddOutput(1, 1))

	_, result, err := k.SubmitJob(1, g, contract.PriorityNormal, 1, 50_000)
	require.NoError(t, err)
	assert.NotEqual(t, contract.AdmitOK, result)

	_, ok := k.Contract(1)
	assert.False(t, ok)
}

func TestBootRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.TotalMemoryKB = 0
	plat := platform.NewFakePlatform(cfg.SharedMemBytes, 1000, nil)

	_, err := zenedge.Boot(plat, cfg)
	assert.Error(t, err)
}

func TestRegisterMetricsExposesRunningJobs(t *testing.T) {
	cfg := testConfig()
	plat := platform.NewFakePlatform(cfg.SharedMemBytes, 1000, nil)
	k, err := zenedge.Boot(plat, cfg)
	require.NoError(t, err)

	g := jobgraph.New()
	require.NoError(t, g.AddStep(1, jobgraph.StepControl))
	_, _, err = k.SubmitJob(7, g, contract.PriorityNormal, 1024, 50_000)
	require.NoError(t, err)

	reg := metrics.NewRegistry()
	require.NoError(t, k.RegisterMetrics(reg))

	gath, err := reg.Gatherer(metrics.WithoutPolling(), metrics.WithMetrics([]string{"*"}, nil))
	require.NoError(t, err)

	families, err := gath.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
