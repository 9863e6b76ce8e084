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

package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenedge/kernel/pkg/kernel/config"
)

func TestDefaultPassesValidate(t *testing.T) {
	assert.NoError(t, config.Default().Validate())
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := config.Parse([]byte(`
totalMemoryKB: 65536
contract:
  cpuBudgetUsec: 10000
`))
	require.NoError(t, err)
	assert.EqualValues(t, 65536, cfg.TotalMemoryKB)
	assert.EqualValues(t, 10000, cfg.Contract.CPUBudgetUsec)
	// untouched fields keep their defaults
	assert.EqualValues(t, config.DefaultSharedMemBytes, cfg.SharedMemBytes)
}

func TestValidateRejectsZeroMemory(t *testing.T) {
	cfg := config.Default()
	cfg.TotalMemoryKB = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsContractMemoryOverTotal(t *testing.T) {
	cfg := config.Default()
	cfg.Contract.MemoryKB = uint64(cfg.TotalMemoryKB) + 1
	assert.Error(t, cfg.Validate())
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := config.Load("/nonexistent/path/zenedge.yaml")
	assert.Error(t, err)
}
