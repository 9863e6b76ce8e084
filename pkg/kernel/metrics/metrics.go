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

// Package metrics wires the kernel simulator's runtime state (memory
// accounting, contract health, IPC ring occupancy, blob heap usage)
// into the shared prometheus collector-group registry, the way every
// other subsystem in this tree publishes its state for scraping.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zenedge/kernel/pkg/kernel/blobheap"
	"github.com/zenedge/kernel/pkg/kernel/contract"
	"github.com/zenedge/kernel/pkg/kernel/ipc"
	"github.com/zenedge/kernel/pkg/kernel/pmm"
	"github.com/zenedge/kernel/pkg/metrics"
)

// Group is the collector group every kernel collector registers under.
const Group = "kernel"

// NewPMMCollector returns a Collector reporting physical memory manager
// page accounting.
func NewPMMCollector(m *pmm.Manager) prometheus.Collector {
	return prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "pmm_free_memory_bytes", Help: "Free simulated physical memory, in bytes."},
		func() float64 { return float64(m.Stats().FreeMemoryKB) * 1024 },
	)
}

// NewPMMUsedCollector returns a Collector reporting used physical
// memory in bytes.
func NewPMMUsedCollector(m *pmm.Manager) prometheus.Collector {
	return prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "pmm_used_memory_bytes", Help: "Used simulated physical memory, in bytes."},
		func() float64 { return float64(m.Stats().UsedMemoryKB) * 1024 },
	)
}

// NewContractStateCollector returns a Collector reporting a contract's
// current escalation state as a numeric gauge (0=OK, 1=WARNED,
// 2=SAFE_MODE).
func NewContractStateCollector(name string, c *contract.Contract) prometheus.Collector {
	return prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name:        "contract_state",
			Help:        "Current contract escalation state (0=OK, 1=WARNED, 2=SAFE_MODE).",
			ConstLabels: prometheus.Labels{"contract": name},
		},
		func() float64 { return float64(c.State()) },
	)
}

// NewContractMemUsedCollector returns a Collector reporting a
// contract's currently charged memory usage in kilobytes.
func NewContractMemUsedCollector(name string, c *contract.Contract) prometheus.Collector {
	return prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name:        "contract_mem_used_kb",
			Help:        "Memory currently charged against a contract, in kilobytes.",
			ConstLabels: prometheus.Labels{"contract": name},
		},
		func() float64 { return float64(c.MemUsedKB()) },
	)
}

// NewIPCCmdPendingCollector returns a Collector reporting the number of
// unconsumed entries on the command ring.
func NewIPCCmdPendingCollector(t *ipc.Transport) prometheus.Collector {
	return prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "ipc_cmd_ring_pending", Help: "Unconsumed entries on the IPC command ring."},
		func() float64 { return float64(t.Stats().CmdPending) },
	)
}

// NewIPCRspPendingCollector returns a Collector reporting the number of
// unconsumed entries on the response ring.
func NewIPCRspPendingCollector(t *ipc.Transport) prometheus.Collector {
	return prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "ipc_rsp_ring_pending", Help: "Unconsumed entries on the IPC response ring."},
		func() float64 { return float64(t.Stats().RspPending) },
	)
}

// NewBlobHeapFreeCollector returns a Collector reporting free bytes in
// the shared blob heap.
func NewBlobHeapFreeCollector(h *blobheap.Heap) prometheus.Collector {
	return prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "blobheap_free_bytes", Help: "Free bytes in the shared blob heap."},
		func() float64 { return float64(h.Stats().FreeBytes) },
	)
}

// NewBlobHeapBlobCountCollector returns a Collector reporting the
// number of live blobs in the shared blob heap.
func NewBlobHeapBlobCountCollector(h *blobheap.Heap) prometheus.Collector {
	return prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "blobheap_blob_count", Help: "Number of live blobs in the shared blob heap."},
		func() float64 { return float64(h.Stats().BlobCount) },
	)
}

// Components bundles the kernel singletons metrics are collected from.
type Components struct {
	PMM       *pmm.Manager
	Transport *ipc.Transport
	Heap      *blobheap.Heap
	Contracts map[string]*contract.Contract
}

// RegisterAll registers a collector for every component in c with reg,
// grouped under Group.
func RegisterAll(reg *metrics.Registry, c Components) error {
	opts := []metrics.RegisterOption{
		metrics.WithGroup(Group),
		metrics.WithCollectorOptions(metrics.WithoutNamespace(), metrics.WithoutSubsystem()),
	}

	if c.PMM != nil {
		if err := reg.Register("pmm_free_bytes", NewPMMCollector(c.PMM), opts...); err != nil {
			return err
		}
		if err := reg.Register("pmm_used_bytes", NewPMMUsedCollector(c.PMM), opts...); err != nil {
			return err
		}
	}

	for name, contr := range c.Contracts {
		if err := reg.Register("contract_state_"+name, NewContractStateCollector(name, contr), opts...); err != nil {
			return err
		}
		if err := reg.Register("contract_mem_used_"+name, NewContractMemUsedCollector(name, contr), opts...); err != nil {
			return err
		}
	}

	if c.Transport != nil {
		if err := reg.Register("ipc_cmd_pending", NewIPCCmdPendingCollector(c.Transport), opts...); err != nil {
			return err
		}
		if err := reg.Register("ipc_rsp_pending", NewIPCRspPendingCollector(c.Transport), opts...); err != nil {
			return err
		}
	}

	if c.Heap != nil {
		if err := reg.Register("blobheap_free_bytes", NewBlobHeapFreeCollector(c.Heap), opts...); err != nil {
			return err
		}
		if err := reg.Register("blobheap_blob_count", NewBlobHeapBlobCountCollector(c.Heap), opts...); err != nil {
			return err
		}
	}

	return nil
}
