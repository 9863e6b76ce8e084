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

// Package config is the YAML-based configuration for a standalone
// zenedgesim instance: simulated memory size, default job contract
// budgets, and the shared memory region the IPC transport and blob
// heap are carved out of.
package config

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// Defaults mirror the boot-time constants the original firmware
// assumed before any configuration file existed.
const (
	DefaultTotalMemoryKB  = 128 * 1024
	DefaultCPUBudgetUsec  = 50_000
	DefaultFlightRecSize  = 1024
	DefaultSharedMemBytes = 1 << 20 // 1MB, matching the original region size
	DefaultCyclesPerUsec  = 1000
)

// ContractDefaults configures the budget new jobs are admitted under
// when the caller doesn't specify its own.
type ContractDefaults struct {
	// MemoryKB is the default per-job memory budget in kilobytes.
	MemoryKB uint64 `json:"memoryKB,omitempty"`
	// CPUBudgetUsec is the default per-job CPU budget in microseconds.
	CPUBudgetUsec uint64 `json:"cpuBudgetUsec,omitempty"`
}

// KernelConfig is the top-level configuration for a zenedgesim
// instance.
type KernelConfig struct {
	// TotalMemoryKB is the amount of simulated physical memory the PMM
	// manages, split across two simulated NUMA nodes.
	TotalMemoryKB uint32 `json:"totalMemoryKB,omitempty"`

	// SharedMemBytes sizes the shared-memory region the IPC rings,
	// doorbell, and blob heap are carved out of.
	SharedMemBytes int `json:"sharedMemBytes,omitempty"`

	// FlightRecorderSize is the number of entries in the flight
	// recorder's event ring. Rounded up to a power of two.
	FlightRecorderSize int `json:"flightRecorderSize,omitempty"`

	// CyclesPerUsec is the assumed cycle rate used to convert platform
	// cycles into microseconds.
	CyclesPerUsec uint64 `json:"cyclesPerUsec,omitempty"`

	// Contract holds the default per-job budget new jobs are admitted
	// under.
	Contract ContractDefaults `json:"contract,omitempty"`
}

// Default returns a KernelConfig populated with the built-in defaults.
func Default() *KernelConfig {
	return &KernelConfig{
		TotalMemoryKB:      DefaultTotalMemoryKB,
		SharedMemBytes:     DefaultSharedMemBytes,
		FlightRecorderSize: DefaultFlightRecSize,
		CyclesPerUsec:      DefaultCyclesPerUsec,
		Contract: ContractDefaults{
			MemoryKB:      DefaultTotalMemoryKB / 4,
			CPUBudgetUsec: DefaultCPUBudgetUsec,
		},
	}
}

// Load reads and parses a KernelConfig from a YAML file at path,
// starting from Default() and overriding any field the file sets.
func Load(path string) (*KernelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %q: %w", path, err)
	}
	return Parse(data)
}

// Parse parses YAML-encoded configuration data into a KernelConfig
// seeded with Default() values.
func Parse(data []byte) (*KernelConfig, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for obviously invalid values.
func (c *KernelConfig) Validate() error {
	if c.TotalMemoryKB == 0 {
		return fmt.Errorf("config: totalMemoryKB must be non-zero")
	}
	if c.SharedMemBytes <= 0 {
		return fmt.Errorf("config: sharedMemBytes must be positive")
	}
	if c.FlightRecorderSize <= 0 {
		return fmt.Errorf("config: flightRecorderSize must be positive")
	}
	if c.Contract.MemoryKB > uint64(c.TotalMemoryKB) {
		return fmt.Errorf("config: contract.memoryKB (%d) exceeds totalMemoryKB (%d)", c.Contract.MemoryKB, c.TotalMemoryKB)
	}
	return nil
}
