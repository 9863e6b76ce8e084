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

// Package pmm is the physical memory manager: a bitmap allocator over
// 4KB pages, split into two simulated NUMA nodes the way a single
// physical memory pool is split in half to emulate locality.
package pmm

import (
	"fmt"

	"github.com/zenedge/kernel/pkg/kernel/flightrec"
)

// PageSize is the fixed page size in bytes.
const PageSize = 4096

// NodeAny requests the allocator pick whichever node has a free page,
// preferring node 0.
const NodeAny = 0xFF

// usableStartPFN is the PFN of the first usable page, 1MB in, mirroring
// the low-memory reservation (BIOS/VGA) every boot path carries.
const usableStartPFN = 256

// kernelImagePFNs is the page count reserved immediately above low
// memory for the resident kernel image itself (1MB), mirroring a real
// boot path's .text/.data/.bss footprint.
const kernelImagePFNs = 256

// Node describes one simulated NUMA node's page range and accounting.
type Node struct {
	ID         uint8
	StartPFN   uint32
	EndPFN     uint32
	TotalPages uint32
	FreePages  uint32
	UsedPages  uint32
}

// Stats summarizes PMM-wide page accounting.
type Stats struct {
	TotalMemoryKB uint32
	FreeMemoryKB  uint32
	UsedMemoryKB  uint32
	TotalPages    uint32
	FreePages     uint32
	NumNodes      uint8
}

// Manager is a bitmap-backed physical page allocator split across two
// simulated NUMA nodes.
type Manager struct {
	rec *flightrec.Recorder

	bitmap      []byte
	totalPages  uint32
	freePages   uint32
	highestPage uint32
	boundaryPFN uint32

	nodes [2]Node
}

// New creates a Manager over totalMemKB kilobytes of simulated physical
// memory (rounded down to a page boundary), with the first 1MB reserved
// the way a real boot path reserves BIOS/VGA low memory.
func New(rec *flightrec.Recorder, totalMemKB uint32) *Manager {
	totalPages := totalMemKB / 4
	if totalPages == 0 {
		totalPages = 1
	}

	m := &Manager{
		rec:        rec,
		bitmap:     make([]byte, (totalPages+7)/8),
		totalPages: totalPages,
	}

	// all pages start free
	m.freePages = totalPages
	m.highestPage = totalPages - 1

	// reserve the low 1MB and, immediately above it, the resident kernel image
	m.reserveRaw(0, usableStartPFN)
	m.reserveRaw(usableStartPFN, kernelImagePFNs)

	m.setupNodes()
	return m
}

// reserveRaw marks [start, start+count) reserved in the bitmap without
// any node awareness, for use before setupNodes has carved up the
// usable range into nodes.
func (m *Manager) reserveRaw(start, count uint32) {
	for pfn := start; pfn < start+count && pfn < m.totalPages; pfn++ {
		if m.bitmapTest(pfn) {
			continue
		}
		m.bitmapSet(pfn)
		m.freePages--
	}
}

func (m *Manager) bitmapSet(pfn uint32) {
	if int(pfn/8) < len(m.bitmap) {
		m.bitmap[pfn/8] |= 1 << (pfn % 8)
	}
}

func (m *Manager) bitmapClear(pfn uint32) {
	if int(pfn/8) < len(m.bitmap) {
		m.bitmap[pfn/8] &^= 1 << (pfn % 8)
	}
}

func (m *Manager) bitmapTest(pfn uint32) bool {
	if int(pfn/8) >= len(m.bitmap) {
		return true
	}
	return (m.bitmap[pfn/8]>>(pfn%8))&1 != 0
}

func (m *Manager) setupNodes() {
	if m.highestPage < usableStartPFN {
		return
	}
	usablePages := m.highestPage - usableStartPFN + 1
	if usablePages > kernelImagePFNs {
		usablePages -= kernelImagePFNs
	} else {
		usablePages = 0
	}
	m.boundaryPFN = usableStartPFN + usablePages/2

	m.nodes[0] = Node{
		ID:         0,
		StartPFN:   usableStartPFN,
		EndPFN:     m.boundaryPFN,
		TotalPages: m.boundaryPFN - usableStartPFN,
	}
	m.nodes[1] = Node{
		ID:         1,
		StartPFN:   m.boundaryPFN,
		EndPFN:     m.highestPage + 1,
		TotalPages: (m.highestPage + 1) - m.boundaryPFN,
	}

	for pfn := uint32(usableStartPFN); pfn <= m.highestPage; pfn++ {
		if !m.bitmapTest(pfn) {
			if pfn < m.boundaryPFN {
				m.nodes[0].FreePages++
			} else {
				m.nodes[1].FreePages++
			}
		}
	}
	m.nodes[0].UsedPages = m.nodes[0].TotalPages - m.nodes[0].FreePages
	m.nodes[1].UsedPages = m.nodes[1].TotalPages - m.nodes[1].FreePages
}

// BoundaryPFN returns the PFN at which node 0 ends and node 1 begins.
func (m *Manager) BoundaryPFN() uint32 {
	return m.boundaryPFN
}

func (m *Manager) allocFromNode(node uint8) (uint32, bool) {
	if node >= uint8(len(m.nodes)) {
		return 0, false
	}
	n := &m.nodes[node]
	for pfn := n.StartPFN; pfn < n.EndPFN; pfn++ {
		if !m.bitmapTest(pfn) {
			m.bitmapSet(pfn)
			m.freePages--
			n.FreePages--
			n.UsedPages++
			return pfn, true
		}
	}
	return 0, false
}

// AllocPage allocates a single page, preferring node, and returns its
// page frame number. If node is NodeAny, node 0 is tried first, then
// node 1. If node is a specific, exhausted node, other nodes are tried
// as a locality-missing fallback. Returns (0, false) if all nodes are
// exhausted.
func (m *Manager) AllocPage(node uint8) (uint32, bool) {
	if node == NodeAny {
		if pfn, ok := m.allocFromNode(0); ok {
			return pfn, true
		}
		if pfn, ok := m.allocFromNode(1); ok {
			m.rec.Log(flightrec.EventMemLocalityMiss, 0, 0, 1)
			return pfn, true
		}
		m.rec.Log(flightrec.EventMemAllocFail, 0, 0, 0)
		return 0, false
	}

	if node >= uint8(len(m.nodes)) {
		m.rec.Log(flightrec.EventMemNodeUnsupported, 0, 0, uint32(node))
		node = 0
	}

	if pfn, ok := m.allocFromNode(node); ok {
		return pfn, true
	}

	for i := uint8(0); i < uint8(len(m.nodes)); i++ {
		if i == node {
			continue
		}
		if pfn, ok := m.allocFromNode(i); ok {
			m.rec.Log(flightrec.EventMemLocalityMiss, 0, 0, uint32(i))
			return pfn, true
		}
	}

	m.rec.Log(flightrec.EventMemAllocFail, 0, 0, 0)
	return 0, false
}

// allocRunFromNode searches node's range for count contiguous free
// pages. On hitting an already-used page mid-run, the search restarts
// immediately past the collision rather than re-scanning from the
// start of the failed run, so repeated collisions don't make the scan
// quadratic.
func (m *Manager) allocRunFromNode(node uint8, count uint32) (uint32, bool) {
	if node >= uint8(len(m.nodes)) || count == 0 {
		return 0, false
	}
	n := &m.nodes[node]

	runStart := n.StartPFN
	runLen := uint32(0)
	for pfn := n.StartPFN; pfn < n.EndPFN; pfn++ {
		if m.bitmapTest(pfn) {
			runStart = pfn + 1
			runLen = 0
			continue
		}
		if runLen == 0 {
			runStart = pfn
		}
		runLen++
		if runLen == count {
			for p := runStart; p < runStart+count; p++ {
				m.bitmapSet(p)
			}
			m.freePages -= count
			n.FreePages -= count
			n.UsedPages += count
			return runStart, true
		}
	}
	return 0, false
}

// AllocPages allocates count contiguous pages, preferring node. A
// count of 1 behaves exactly like AllocPage. If the preferred node
// cannot satisfy the run, the other node is tried as a locality-missing
// fallback. Returns (0, false) if no node has a long enough run.
func (m *Manager) AllocPages(count uint32, node uint8) (uint32, bool) {
	if count <= 1 {
		return m.AllocPage(node)
	}

	if node == NodeAny {
		node = 0
	}
	if node >= uint8(len(m.nodes)) {
		m.rec.Log(flightrec.EventMemNodeUnsupported, 0, 0, uint32(node))
		node = 0
	}

	if pfn, ok := m.allocRunFromNode(node, count); ok {
		return pfn, true
	}

	for i := uint8(0); i < uint8(len(m.nodes)); i++ {
		if i == node {
			continue
		}
		if pfn, ok := m.allocRunFromNode(i, count); ok {
			m.rec.Log(flightrec.EventMemLocalityMiss, 0, 0, uint32(i))
			return pfn, true
		}
	}

	m.rec.Log(flightrec.EventMemAllocFail, 0, 0, count)
	return 0, false
}

// ReserveRange marks the page-aligned range [base, base+length) bytes
// as permanently reserved, adjusting per-node accounting for whichever
// pages fall inside a node's range. Already-reserved pages are left
// untouched, making the call idempotent.
func (m *Manager) ReserveRange(base, length uint64) {
	if length == 0 {
		return
	}
	startPFN := uint32(base / PageSize)
	endAddr := base + length
	endPFN := uint32((endAddr + PageSize - 1) / PageSize)

	for pfn := startPFN; pfn < endPFN && pfn < m.totalPages; pfn++ {
		if m.bitmapTest(pfn) {
			continue
		}
		m.bitmapSet(pfn)
		m.freePages--

		for i := range m.nodes {
			if pfn >= m.nodes[i].StartPFN && pfn < m.nodes[i].EndPFN {
				m.nodes[i].FreePages--
				m.nodes[i].UsedPages++
				break
			}
		}
	}
}

// FreePage returns pfn to the free pool. Double-frees and out-of-range
// PFNs are rejected with an error and leave the allocator unchanged.
func (m *Manager) FreePage(pfn uint32) error {
	if pfn > m.highestPage {
		return fmt.Errorf("pmm: free of out-of-range pfn %d", pfn)
	}
	if !m.bitmapTest(pfn) {
		return fmt.Errorf("pmm: double free of pfn %d", pfn)
	}

	m.bitmapClear(pfn)
	m.freePages++

	node := m.AddrToNode(pfn)
	if int(node) < len(m.nodes) {
		m.nodes[node].FreePages++
		m.nodes[node].UsedPages--
	}
	return nil
}

// AddrToNode returns the NUMA node owning pfn, defaulting to node 0 if
// pfn falls outside both ranges.
func (m *Manager) AddrToNode(pfn uint32) uint8 {
	for i := range m.nodes {
		if pfn >= m.nodes[i].StartPFN && pfn < m.nodes[i].EndPFN {
			return m.nodes[i].ID
		}
	}
	return 0
}

// Node returns a copy of the given node's current state.
func (m *Manager) Node(id uint8) (Node, bool) {
	if id >= uint8(len(m.nodes)) {
		return Node{}, false
	}
	return m.nodes[id], true
}

// NodeCount returns the number of simulated NUMA nodes (always 2).
func (m *Manager) NodeCount() uint8 {
	return uint8(len(m.nodes))
}

// Stats reports PMM-wide page accounting.
func (m *Manager) Stats() Stats {
	total := (m.highestPage + 1) * 4
	free := m.freePages * 4
	return Stats{
		TotalMemoryKB: total,
		FreeMemoryKB:  free,
		UsedMemoryKB:  total - free,
		TotalPages:    m.totalPages,
		FreePages:     m.freePages,
		NumNodes:      uint8(len(m.nodes)),
	}
}
