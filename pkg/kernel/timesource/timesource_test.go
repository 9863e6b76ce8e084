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

package timesource_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenedge/kernel/pkg/kernel/platform"
	"github.com/zenedge/kernel/pkg/kernel/timesource"
)

func TestDefaultRate(t *testing.T) {
	plat := platform.NewFakePlatform(0, 1000, nil)
	src := timesource.New(plat, 0)
	require.Equal(t, uint64(timesource.DefaultCyclesPerUsec), src.CPUMHz())
}

func TestCyclesToUsec(t *testing.T) {
	plat := platform.NewFakePlatform(0, 1000, nil)
	src := timesource.New(plat, 1000)

	assert.Equal(t, uint64(5), src.CyclesToUsec(5000))
	assert.Equal(t, uint64(5000), src.UsecToCycles(5))
}

func TestNowUsecAdvancesWithCycles(t *testing.T) {
	plat := platform.NewFakePlatform(0, 1000, nil)
	src := timesource.New(plat, 1000)

	require.Equal(t, uint64(0), src.NowUsec())
	plat.AdvanceCycles(10_000)
	assert.Equal(t, uint64(10), src.NowUsec())
}
